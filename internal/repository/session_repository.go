package repository

import (
	"time"

	"quiz_engine_backend/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SessionRepository struct {
	DB *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{DB: db}
}

func (r *SessionRepository) WithTx(tx *gorm.DB) *SessionRepository {
	return &SessionRepository{DB: tx}
}

// FindOrCreate 首次进入时建立会话；并发进入时以先写入者为准
func (r *SessionRepository) FindOrCreate(session *model.QuizSession) (*model.QuizSession, error) {
	if err := r.DB.Clauses(clause.OnConflict{DoNothing: true}).Create(session).Error; err != nil {
		return nil, err
	}
	return r.Find(session.QuizID, session.UserID)
}

func (r *SessionRepository) Find(quizID string, userID uint) (*model.QuizSession, error) {
	var s model.QuizSession
	err := r.DB.Where("quiz_id = ? AND user_id = ?", quizID, userID).First(&s).Error
	return &s, err
}

func (r *SessionRepository) MarkCompleted(quizID string, userID uint) error {
	return r.DB.Model(&model.QuizSession{}).
		Where("quiz_id = ? AND user_id = ?", quizID, userID).
		Update("status", model.SessionCompleted).Error
}

// ListExpired returns in-progress sessions whose deadline is before cutoff.
func (r *SessionRepository) ListExpired(cutoff time.Time, limit int) ([]model.QuizSession, error) {
	var sessions []model.QuizSession
	q := r.DB.Where("status = ? AND deadline IS NOT NULL AND deadline < ?", model.SessionInProgress, cutoff).
		Order("deadline ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&sessions).Error
	return sessions, err
}
