package service

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"quiz_engine_backend/internal/model"
	"quiz_engine_backend/internal/repository"
	"quiz_engine_backend/internal/util"
	"quiz_engine_backend/pkg/logger"
	"quiz_engine_backend/pkg/monitoring"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const sweepBatchSize = 100

// SessionSweeper 定时代交已超时但客户端未提交的限时会话
type SessionSweeper struct {
	SessionRepo *repository.SessionRepository
	Drafts      DraftMirror
	Submissions *SubmissionService
	Now         func() time.Time

	grace int64 // time.Duration, atomically updated on config reload
	cron  *cron.Cron
}

func NewSessionSweeper(sessionRepo *repository.SessionRepository, drafts DraftMirror, submissions *SubmissionService, grace time.Duration) *SessionSweeper {
	s := &SessionSweeper{
		SessionRepo: sessionRepo,
		Drafts:      drafts,
		Submissions: submissions,
		Now:         time.Now,
	}
	s.SetGrace(grace)
	return s
}

func (s *SessionSweeper) SetGrace(d time.Duration) {
	atomic.StoreInt64(&s.grace, int64(d))
}

func (s *SessionSweeper) Grace() time.Duration {
	return time.Duration(atomic.LoadInt64(&s.grace))
}

// Start 按 cron 表达式运行，上一轮未结束时跳过
func (s *SessionSweeper) Start(schedule string) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(schedule, func() {
		n, err := s.Sweep(context.Background())
		if err != nil {
			logger.Log.Error("session sweep failed", zap.Error(err))
			return
		}
		if n > 0 {
			logger.Log.Info("expired sessions submitted", zap.Int("count", n))
		}
	}); err != nil {
		return err
	}
	s.cron = c
	c.Start()
	return nil
}

func (s *SessionSweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Sweep submits every in-progress session whose deadline plus grace has passed.
// It returns how many attempts it created.
func (s *SessionSweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.Now().Add(-s.Grace())
	sessions, err := s.SessionRepo.ListExpired(cutoff, sweepBatchSize)
	if err != nil {
		return 0, util.Transient(err)
	}

	submitted := 0
	for i := range sessions {
		ok, err := s.submitExpired(ctx, &sessions[i])
		if err != nil {
			logger.Log.Warn("expired session not submitted",
				zap.String("quizId", sessions[i].QuizID),
				zap.Uint("userId", sessions[i].UserID),
				zap.Error(err))
			continue
		}
		if ok {
			submitted++
		}
	}
	return submitted, nil
}

func (s *SessionSweeper) submitExpired(ctx context.Context, session *model.QuizSession) (bool, error) {
	answers := model.AnswerSet{}
	draft, err := s.Drafts.Load(ctx, session.QuizID, session.UserID)
	switch {
	case err == nil:
		answers = draft.Answers
	case errors.Is(err, util.ErrDraftNotFound):
	default:
		return false, err
	}

	var elapsed int64
	if session.Deadline != nil {
		elapsed = session.Deadline.Sub(session.StartedAt).Milliseconds()
	}

	_, err = s.Submissions.SubmitAttempt(ctx, SubmitInput{
		QuizID:    session.QuizID,
		Actor:     Actor{UserID: session.UserID, Role: model.Student},
		Answers:   answers,
		ElapsedMs: elapsed,
		Trigger:   TriggerSweeper,
	})
	switch {
	case err == nil:
		monitoring.SweptSessions.Inc()
		return true, nil
	case util.Retryable(err):
		return false, err
	}

	// 终态错误：不再重试该会话
	logger.Log.Info("closing expired session without attempt",
		zap.String("quizId", session.QuizID),
		zap.Uint("userId", session.UserID),
		zap.Error(err))
	if markErr := s.SessionRepo.MarkCompleted(session.QuizID, session.UserID); markErr != nil {
		return false, util.Transient(markErr)
	}
	return false, nil
}
