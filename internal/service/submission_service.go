package service

import (
	"context"
	"errors"
	"time"

	"quiz_engine_backend/internal/model"
	"quiz_engine_backend/internal/repository"
	"quiz_engine_backend/internal/scoring"
	"quiz_engine_backend/internal/util"
	"quiz_engine_backend/pkg/logger"
	"quiz_engine_backend/pkg/monitoring"
	"quiz_engine_backend/pkg/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Trigger 提交来源
type Trigger string

const (
	TriggerManual  Trigger = "manual"
	TriggerTimer   Trigger = "timer"
	TriggerSweeper Trigger = "sweeper"
)

type SubmitInput struct {
	QuizID    string
	Actor     Actor
	Answers   model.AnswerSet
	ElapsedMs int64
	Trigger   Trigger
}

// ScoreSummary is returned on every result read regardless of the results gate.
type ScoreSummary struct {
	AttemptID              string     `json:"attemptId"`
	Score                  float64    `json:"score"`
	AutoScore              float64    `json:"autoScore"`
	MaxScore               float64    `json:"maxScore"`
	Percentage             float64    `json:"percentage"`
	PassingScore           int        `json:"passingScore"`
	Passed                 bool       `json:"passed"`
	NeedsManualGrading     bool       `json:"needsManualGrading"`
	IsTimeout              bool       `json:"isTimeout"`
	TimeTakenMs            int64      `json:"timeTakenMs"`
	CompletedAt            time.Time  `json:"completedAt"`
	ResultsPublishDatetime *time.Time `json:"resultsPublishDatetime,omitempty"`
}

func summarize(a *model.QuizAttempt, quiz *model.Quiz) ScoreSummary {
	return ScoreSummary{
		AttemptID:              a.ID,
		Score:                  model.RoundScore(a.Score),
		AutoScore:              model.RoundScore(a.AutoScore),
		MaxScore:               model.RoundScore(a.MaxScore),
		Percentage:             model.RoundScore(a.Percentage()),
		PassingScore:           a.PassingScore,
		Passed:                 a.Passed,
		NeedsManualGrading:     a.NeedsManualGrading,
		IsTimeout:              a.IsTimeout,
		TimeTakenMs:            a.TimeTakenMs,
		CompletedAt:            a.CompletedAt,
		ResultsPublishDatetime: quiz.ResultsPublishDatetime,
	}
}

type SubmitResult struct {
	AttemptID        string        `json:"attemptId"`
	ResultsPublished bool          `json:"resultsPublished"`
	ScoreSummary     *ScoreSummary `json:"scoreSummary,omitempty"`
}

type SubmissionService struct {
	DB          *gorm.DB
	QuizRepo    *repository.QuizRepository
	AttemptRepo *repository.AttemptRepository
	SessionRepo *repository.SessionRepository
	Catalog     Catalog
	Drafts      DraftMirror
	Now         func() time.Time
}

func NewSubmissionService(
	db *gorm.DB,
	quizRepo *repository.QuizRepository,
	attemptRepo *repository.AttemptRepository,
	sessionRepo *repository.SessionRepository,
	catalog Catalog,
	drafts DraftMirror,
) *SubmissionService {
	return &SubmissionService{
		DB:          db,
		QuizRepo:    quizRepo,
		AttemptRepo: attemptRepo,
		SessionRepo: sessionRepo,
		Catalog:     catalog,
		Drafts:      drafts,
		Now:         time.Now,
	}
}

// SubmitAttempt 校验并持久化唯一一次作答。
// 失败时不会留下任何作答记录；并发的第二次提交得到 AlreadyCompletedError。
func (s *SubmissionService) SubmitAttempt(ctx context.Context, in SubmitInput) (res *SubmitResult, err error) {
	if in.Trigger == "" {
		in.Trigger = TriggerManual
	}
	ctx, span := tracing.StartSpan(ctx, "quiz.submit",
		attribute.String("quiz.id", in.QuizID),
		attribute.Int64("user.id", int64(in.Actor.UserID)),
		attribute.String("trigger", string(in.Trigger)))
	defer func() {
		monitoring.SubmissionCounter.WithLabelValues(submissionOutcome(err), string(in.Trigger)).Inc()
		tracing.End(span, err)
	}()

	quiz, err := s.QuizRepo.FindWithQuestions(in.QuizID)
	if err != nil {
		return nil, lookupErr(err, util.ErrQuizNotFound)
	}
	if err := requireEnrolled(s.Catalog, in.Actor, quiz.CourseID); err != nil {
		return nil, err
	}

	existing, err := s.AttemptRepo.FindByQuizAndUser(quiz.ID, in.Actor.UserID)
	if err == nil {
		return nil, &util.AlreadyCompletedError{AttemptID: existing.ID}
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.Transient(err)
	}

	now := s.Now()
	if opened, closed := quiz.Availability(now); !opened || closed {
		return nil, util.ErrNotAvailable
	}

	items, answers, err := s.checkAnswers(quiz, in)
	if err != nil {
		return nil, err
	}

	outcomes := make([]scoring.Outcome, 0, len(items))
	for _, item := range items {
		outcomes = append(outcomes, scoring.Score(item, answers[item.QuestionID()]))
	}
	totals := scoring.Aggregate(outcomes)

	elapsed := in.ElapsedMs
	if elapsed < 0 {
		elapsed = 0
	}
	attempt := &model.QuizAttempt{
		QuizID:             quiz.ID,
		UserID:             in.Actor.UserID,
		AutoScore:          totals.AutoScore,
		MaxScore:           totals.MaxScore,
		PassingScore:       quiz.PassingScore,
		NeedsManualGrading: totals.NeedsManual,
		IsTimeout:          in.Trigger != TriggerManual,
		TimeTakenMs:        elapsed,
		CompletedAt:        now,
	}
	if err := attempt.SetAnswers(answers); err != nil {
		return nil, err
	}
	attempt.ApplyScore(totals.AutoScore)
	for _, o := range outcomes {
		attempt.Items = append(attempt.Items, model.AttemptItem{
			QuestionID:   o.QuestionID,
			QuestionType: o.Type,
			MaxPoints:    o.MaxPoints,
			AutoPoints:   o.Points,
			IsCorrect:    o.Correct,
			NeedsManual:  o.NeedsManual,
		})
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.AttemptRepo.WithTx(tx).Create(attempt); err != nil {
			return err
		}
		return s.SessionRepo.WithTx(tx).MarkCompleted(quiz.ID, in.Actor.UserID)
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// 并发提交：另一请求已写入
			if winner, findErr := s.AttemptRepo.FindByQuizAndUser(quiz.ID, in.Actor.UserID); findErr == nil {
				return nil, &util.AlreadyCompletedError{AttemptID: winner.ID}
			}
			return nil, util.ErrAlreadyCompleted
		}
		return nil, util.Transient(err)
	}

	if s.Drafts != nil {
		if err := s.Drafts.Clear(ctx, quiz.ID, in.Actor.UserID); err != nil {
			logger.Log.Warn("failed to purge draft mirror", zap.String("quizId", quiz.ID), zap.Uint("userId", in.Actor.UserID), zap.Error(err))
		}
	}

	logger.Log.Info("quiz attempt submitted",
		zap.String("attemptId", attempt.ID),
		zap.String("quizId", quiz.ID),
		zap.Uint("userId", in.Actor.UserID),
		zap.String("trigger", string(in.Trigger)),
		zap.Float64("autoScore", attempt.AutoScore),
		zap.Float64("maxScore", attempt.MaxScore),
		zap.Bool("needsManualGrading", attempt.NeedsManualGrading))

	summary := summarize(attempt, quiz)
	return &SubmitResult{
		AttemptID:        attempt.ID,
		ResultsPublished: quiz.ResultsPublished(now),
		ScoreSummary:     &summary,
	}, nil
}

// checkAnswers builds scoring items and validates the payload against them.
// Manual submits must answer everything; timer submits may be incomplete.
// Sweeper submits drop malformed answers instead of failing.
func (s *SubmissionService) checkAnswers(quiz *model.Quiz, in SubmitInput) ([]scoring.Item, model.AnswerSet, error) {
	lenient := in.Trigger == TriggerSweeper
	ve := &util.ValidationError{}

	items := make([]scoring.Item, 0, len(quiz.Questions))
	known := make(map[string]scoring.Item, len(quiz.Questions))
	for i := range quiz.Questions {
		item, err := scoring.FromQuestion(&quiz.Questions[i])
		if err != nil {
			return nil, nil, util.Integrity("question %s: %v", quiz.Questions[i].ID, err)
		}
		items = append(items, item)
		known[item.QuestionID()] = item
	}

	answers := make(model.AnswerSet, len(in.Answers))
	for qid, a := range in.Answers {
		item, ok := known[qid]
		if !ok {
			if !lenient {
				ve.Add("answers."+qid, "unknown question")
			}
			continue
		}
		if err := scoring.Validate(item, a); err != nil {
			if !lenient {
				ve.Add("answers."+qid, err.Error())
			}
			continue
		}
		answers[qid] = a
	}

	if in.Trigger == TriggerManual {
		for _, item := range items {
			a, ok := answers[item.QuestionID()]
			if _, bad := ve.Fields["answers."+item.QuestionID()]; bad {
				continue
			}
			if !ok || a.IsEmpty() {
				ve.Add("answers."+item.QuestionID(), "answer required")
				continue
			}
			if scoring.NeedsJustification(item, a) {
				ve.Add("answers."+item.QuestionID()+".justification", "justification required")
			}
		}
	}

	if err := ve.OrNil(); err != nil {
		return nil, nil, err
	}
	if lenient && len(answers) != len(in.Answers) {
		logger.Log.Warn("dropped invalid draft answers on expiry",
			zap.String("quizId", quiz.ID),
			zap.Uint("userId", in.Actor.UserID),
			zap.Int("dropped", len(in.Answers)-len(answers)))
	}
	return items, answers, nil
}

func submissionOutcome(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, util.ErrAlreadyCompleted):
		return "already_completed"
	case errors.Is(err, util.ErrNotAvailable):
		return "not_available"
	case errors.Is(err, util.ErrValidation):
		return "invalid"
	case errors.Is(err, util.ErrNotEnrolled), errors.Is(err, util.ErrQuizNotFound):
		return "rejected"
	}
	return "failed"
}

// SubmitRequest 客户端提交体
type SubmitRequest struct {
	Answers   model.AnswerSet `json:"answers"`
	ElapsedMs int64           `json:"elapsedMs" validate:"min=0"`
	Trigger   Trigger         `json:"trigger" validate:"omitempty,oneof=manual timer"`
}

// Submit is the HTTP entry point; clients may only claim manual or timer triggers.
func (s *SubmissionService) Submit(ctx context.Context, quizID string, req *SubmitRequest, actor Actor) (*SubmitResult, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	return s.SubmitAttempt(ctx, SubmitInput{
		QuizID:    quizID,
		Actor:     actor,
		Answers:   req.Answers,
		ElapsedMs: req.ElapsedMs,
		Trigger:   req.Trigger,
	})
}
