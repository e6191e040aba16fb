package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"quiz_engine_backend/internal/model"
	"quiz_engine_backend/internal/repository"
	"quiz_engine_backend/internal/util"
	"quiz_engine_backend/pkg/logger"
	"quiz_engine_backend/pkg/monitoring"
	"quiz_engine_backend/pkg/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type GradingService struct {
	DB          *gorm.DB
	QuizRepo    *repository.QuizRepository
	AttemptRepo *repository.AttemptRepository
	Catalog     Catalog
	Now         func() time.Time
}

func NewGradingService(db *gorm.DB, quizRepo *repository.QuizRepository, attemptRepo *repository.AttemptRepository, catalog Catalog) *GradingService {
	return &GradingService{
		DB:          db,
		QuizRepo:    quizRepo,
		AttemptRepo: attemptRepo,
		Catalog:     catalog,
		Now:         time.Now,
	}
}

// PendingItem 待评分的 (learner, question) 对
type PendingItem struct {
	AttemptID    string             `json:"attemptId"`
	QuizID       string             `json:"quizId"`
	LearnerID    uint               `json:"learnerId"`
	QuestionID   string             `json:"questionId"`
	QuestionType model.QuestionType `json:"questionType"`
	MaxPoints    float64            `json:"maxPoints"`
	Answer       model.Answer       `json:"answer"`
	CompletedAt  time.Time          `json:"completedAt"`
}

func toPending(rows []repository.PendingItemRow) ([]PendingItem, error) {
	out := make([]PendingItem, 0, len(rows))
	for _, r := range rows {
		attempt := model.QuizAttempt{Answers: r.Answers}
		answers, err := attempt.DecodeAnswers()
		if err != nil {
			return nil, fmt.Errorf("decode answers of attempt %s: %w", r.AttemptID, err)
		}
		out = append(out, PendingItem{
			AttemptID:    r.AttemptID,
			QuizID:       r.QuizID,
			LearnerID:    r.UserID,
			QuestionID:   r.QuestionID,
			QuestionType: r.QuestionType,
			MaxPoints:    r.MaxPoints,
			Answer:       answers[r.QuestionID],
			CompletedAt:  r.CompletedAt,
		})
	}
	return out, nil
}

func (s *GradingService) ListPendingByQuiz(quizID string, actor Actor) ([]PendingItem, error) {
	quiz, err := s.QuizRepo.FindByID(quizID)
	if err != nil {
		return nil, lookupErr(err, util.ErrQuizNotFound)
	}
	if err := requireInstructor(s.Catalog, actor, quiz.CourseID); err != nil {
		return nil, err
	}
	rows, err := s.AttemptRepo.PendingByQuiz(quiz.ID)
	if err != nil {
		return nil, util.Transient(err)
	}
	return toPending(rows)
}

func (s *GradingService) ListPendingByCourse(courseID uint, actor Actor) ([]PendingItem, error) {
	if err := requireInstructor(s.Catalog, actor, courseID); err != nil {
		return nil, err
	}
	rows, err := s.AttemptRepo.PendingByCourse(courseID)
	if err != nil {
		return nil, util.Transient(err)
	}
	return toPending(rows)
}

type GradeInput struct {
	AttemptID  string
	QuestionID string
	Points     float64
	Comment    string
	Actor      Actor
}

type GradeResult struct {
	AttemptID    string  `json:"attemptId"`
	UpdatedScore float64 `json:"updatedScore"`
	MaxScore     float64 `json:"maxScore"`
	Percentage   float64 `json:"percentage"`
	Passed       bool    `json:"passed"`
	StillPending bool    `json:"stillPending"`
}

// GradeAnswer 覆盖单题人工分（幂等），并由逐题记录重新汇总总分
func (s *GradingService) GradeAnswer(ctx context.Context, in GradeInput) (res *GradeResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "quiz.grade",
		attribute.String("attempt.id", in.AttemptID),
		attribute.String("question.id", in.QuestionID))
	defer func() { tracing.End(span, err) }()

	attempt, err := s.AttemptRepo.FindWithItems(in.AttemptID)
	if err != nil {
		return nil, lookupErr(err, util.ErrAttemptNotFound)
	}
	quiz, err := s.QuizRepo.FindByID(attempt.QuizID)
	if err != nil {
		return nil, lookupErr(err, util.ErrQuizNotFound)
	}
	if err := requireInstructor(s.Catalog, in.Actor, quiz.CourseID); err != nil {
		return nil, err
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.AttemptRepo.WithTx(tx)
		locked, err := repo.LockByID(attempt.ID)
		if err != nil {
			return util.Transient(err)
		}
		item, err := repo.FindItem(locked.ID, in.QuestionID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return util.Integrity("question %s is not part of attempt %s", in.QuestionID, locked.ID)
		}
		if err != nil {
			return util.Transient(err)
		}
		if !item.NeedsManual {
			return util.ErrNotManualGradable
		}
		if in.Points < 0 || in.Points > item.MaxPoints {
			return util.NewValidationError("points", "must be between 0 and "+strconv.FormatFloat(item.MaxPoints, 'f', -1, 64))
		}

		now := s.Now()
		points := in.Points
		grader := in.Actor.UserID
		item.ManualPoints = &points
		item.GraderID = &grader
		item.Comment = in.Comment
		item.GradedAt = &now
		if err := repo.SaveManualAward(item); err != nil {
			return util.Transient(err)
		}

		items, err := repo.ListItems(locked.ID)
		if err != nil {
			return util.Transient(err)
		}
		score, pending := model.SumItems(items)
		locked.NeedsManualGrading = pending
		locked.ApplyScore(score)
		if err := repo.UpdateScore(locked); err != nil {
			return util.Transient(err)
		}

		res = &GradeResult{
			AttemptID:    locked.ID,
			UpdatedScore: model.RoundScore(locked.Score),
			MaxScore:     model.RoundScore(locked.MaxScore),
			Percentage:   model.RoundScore(locked.Percentage()),
			Passed:       locked.Passed,
			StillPending: pending,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	monitoring.ManualGradeCounter.WithLabelValues(strconv.FormatBool(!res.StillPending)).Inc()
	logger.Log.Info("manual grade applied",
		zap.String("attemptId", res.AttemptID),
		zap.String("questionId", in.QuestionID),
		zap.Float64("points", in.Points),
		zap.Uint("graderId", in.Actor.UserID),
		zap.Float64("score", res.UpdatedScore),
		zap.Bool("stillPending", res.StillPending))
	return res, nil
}

// AttemptRow 教师查看的作答列表
type AttemptRow struct {
	ScoreSummary
	LearnerID uint `json:"learnerId"`
}

func (s *GradingService) ListAttempts(quizID string, actor Actor) ([]AttemptRow, error) {
	quiz, err := s.QuizRepo.FindByID(quizID)
	if err != nil {
		return nil, lookupErr(err, util.ErrQuizNotFound)
	}
	if err := requireInstructor(s.Catalog, actor, quiz.CourseID); err != nil {
		return nil, err
	}
	attempts, err := s.AttemptRepo.ListByQuiz(quiz.ID)
	if err != nil {
		return nil, util.Transient(err)
	}
	rows := make([]AttemptRow, 0, len(attempts))
	for i := range attempts {
		rows = append(rows, AttemptRow{ScoreSummary: summarize(&attempts[i], quiz), LearnerID: attempts[i].UserID})
	}
	return rows, nil
}

type GradeRequest struct {
	Points  *float64 `json:"points" validate:"required"`
	Comment string   `json:"comment" validate:"max=2000"`
}

func (s *GradingService) Grade(ctx context.Context, attemptID, questionID string, req *GradeRequest, actor Actor) (*GradeResult, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	return s.GradeAnswer(ctx, GradeInput{
		AttemptID:  attemptID,
		QuestionID: questionID,
		Points:     *req.Points,
		Comment:    req.Comment,
		Actor:      actor,
	})
}
