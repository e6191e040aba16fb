package repository

import (
	"time"

	"quiz_engine_backend/internal/model"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AttemptRepository struct {
	DB *gorm.DB
}

func NewAttemptRepository(db *gorm.DB) *AttemptRepository {
	return &AttemptRepository{DB: db}
}

func (r *AttemptRepository) WithTx(tx *gorm.DB) *AttemptRepository {
	return &AttemptRepository{DB: tx}
}

// Create 写入作答及逐题记录。唯一索引 (quiz_id, user_id) 冲突时返回 gorm.ErrDuplicatedKey
func (r *AttemptRepository) Create(attempt *model.QuizAttempt) error {
	return r.DB.Create(attempt).Error
}

func (r *AttemptRepository) FindByQuizAndUser(quizID string, userID uint) (*model.QuizAttempt, error) {
	var attempt model.QuizAttempt
	err := r.DB.Where("quiz_id = ? AND user_id = ?", quizID, userID).First(&attempt).Error
	return &attempt, err
}

func (r *AttemptRepository) FindWithItems(id string) (*model.QuizAttempt, error) {
	var attempt model.QuizAttempt
	err := r.DB.Preload("Items").First(&attempt, "id = ?", id).Error
	return &attempt, err
}

// LockByID 在事务中对尝试行加写锁，串行化同一尝试上的评分
func (r *AttemptRepository) LockByID(id string) (*model.QuizAttempt, error) {
	var attempt model.QuizAttempt
	err := r.DB.Clauses(clause.Locking{Strength: "UPDATE"}).First(&attempt, "id = ?", id).Error
	return &attempt, err
}

func (r *AttemptRepository) FindItem(attemptID, questionID string) (*model.AttemptItem, error) {
	var item model.AttemptItem
	err := r.DB.Where("attempt_id = ? AND question_id = ?", attemptID, questionID).First(&item).Error
	return &item, err
}

func (r *AttemptRepository) ListItems(attemptID string) ([]model.AttemptItem, error) {
	var items []model.AttemptItem
	err := r.DB.Where("attempt_id = ?", attemptID).Find(&items).Error
	return items, err
}

// SaveManualAward overwrites the instructor award on one item.
func (r *AttemptRepository) SaveManualAward(item *model.AttemptItem) error {
	return r.DB.Model(&model.AttemptItem{}).Where("id = ?", item.ID).
		Select("manual_points", "grader_id", "comment", "graded_at").
		Updates(item).Error
}

// UpdateScore persists the recomputed score fields together.
func (r *AttemptRepository) UpdateScore(attempt *model.QuizAttempt) error {
	return r.DB.Model(&model.QuizAttempt{}).Where("id = ?", attempt.ID).
		Select("score", "passed", "needs_manual_grading").
		Updates(attempt).Error
}

func (r *AttemptRepository) ListByQuiz(quizID string) ([]model.QuizAttempt, error) {
	var attempts []model.QuizAttempt
	err := r.DB.Where("quiz_id = ?", quizID).Order("completed_at desc").Find(&attempts).Error
	return attempts, err
}

func (r *AttemptRepository) CountByQuiz(quizID string) (int64, error) {
	var n int64
	err := r.DB.Model(&model.QuizAttempt{}).Where("quiz_id = ?", quizID).Count(&n).Error
	return n, err
}

// PendingItemRow 待人工评分的一道题
type PendingItemRow struct {
	AttemptID    string             `json:"attemptId"`
	QuizID       string             `json:"quizId"`
	UserID       uint               `json:"learnerId"`
	QuestionID   string             `json:"questionId"`
	QuestionType model.QuestionType `json:"questionType"`
	MaxPoints    float64            `json:"maxPoints"`
	Answers      datatypes.JSON     `json:"-"`
	CompletedAt  time.Time          `json:"completedAt"`
}

func (r *AttemptRepository) pendingQuery() *gorm.DB {
	return r.DB.Table("quiz_attempt_items i").
		Select("i.attempt_id, a.quiz_id, a.user_id, i.question_id, i.question_type, i.max_points, a.answers, a.completed_at").
		Joins("JOIN quiz_attempts a ON a.id = i.attempt_id AND a.deleted_at IS NULL").
		Where("i.deleted_at IS NULL AND i.needs_manual = ? AND i.manual_points IS NULL", true)
}

func (r *AttemptRepository) PendingByQuiz(quizID string) ([]PendingItemRow, error) {
	var rows []PendingItemRow
	err := r.pendingQuery().
		Where("a.quiz_id = ?", quizID).
		Order("a.completed_at ASC, i.question_id ASC").
		Scan(&rows).Error
	return rows, err
}

func (r *AttemptRepository) PendingByCourse(courseID uint) ([]PendingItemRow, error) {
	var rows []PendingItemRow
	err := r.pendingQuery().
		Joins("JOIN quizzes q ON q.id = a.quiz_id").
		Where("q.course_id = ?", courseID).
		Order("a.completed_at ASC, i.question_id ASC").
		Scan(&rows).Error
	return rows, err
}
