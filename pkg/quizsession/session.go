// Package quizsession runs one learner's quiz attempt on the client: it keeps
// a single continuous time budget across reloads, persists answer drafts and
// funnels manual and timer submissions through one idempotent entry point.
package quizsession

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"quiz_engine_backend/internal/model"
	"quiz_engine_backend/internal/util"
)

type State int

const (
	NotStarted State = iota
	InProgress
	Submitting
	Completed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case InProgress:
		return "in_progress"
	case Submitting:
		return "submitting"
	case Completed:
		return "completed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type Trigger string

const (
	TriggerManual Trigger = "manual"
	TriggerTimer  Trigger = "timer"
)

var (
	ErrNotInProgress    = errors.New("quizsession: session is not in progress")
	ErrSubmitInProgress = errors.New("quizsession: submission already in flight")
)

// Quiz is what the session needs to know about the quiz being taken.
type Quiz struct {
	ID          string
	TimeLimit   time.Duration // zero when untimed
	QuestionIDs []string
	StartedAt   *time.Time // server-side session start, when the server keeps one
}

// Server 服务端接口，由 quizclient.Client 实现
type Server interface {
	Open(ctx context.Context, quizID string) (*Quiz, error)
	Submit(ctx context.Context, quizID string, answers model.AnswerSet, elapsed time.Duration, trigger Trigger) (attemptID string, err error)
}

// DraftMirror is an optional Server capability: a copy of the answers kept on
// the server is what its expiry sweep submits if this client never does.
type DraftMirror interface {
	SaveDraft(ctx context.Context, quizID string, answers model.AnswerSet) error
}

const defaultMirrorTimeout = 5 * time.Second

type Session struct {
	QuizID string
	Server Server
	Store  DraftStore
	Now    func() time.Time
	// NewTicker overrides the countdown ticker; nil uses time.NewTicker.
	NewTicker func(d time.Duration) Ticker
	OnTick    func(remaining time.Duration)
	// MirrorTimeout bounds each draft upload; zero means five seconds.
	MirrorTimeout time.Duration
	// OnMirrorError receives failed draft uploads. The local draft is already saved.
	OnMirrorError func(error)

	mirrorMu    sync.Mutex
	mu          sync.Mutex
	state       State
	quiz        *Quiz
	draft       Draft
	attemptID   string
	cancelTimer context.CancelFunc
	timerGen    uint64
}

func New(quizID string, server Server, store DraftStore) *Session {
	return &Session{QuizID: quizID, Server: server, Store: store, Now: time.Now}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// AttemptID is set once the session is Completed.
func (s *Session) AttemptID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attemptID
}

// Begin opens the quiz and restores or creates the draft. When the server
// reports an existing attempt the session moves straight to Completed and the
// AlreadyCompletedError is returned so the caller can show the result.
func (s *Session) Begin(ctx context.Context) error {
	s.mu.Lock()
	if s.state != NotStarted {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	quiz, err := s.Server.Open(ctx, s.QuizID)
	if err != nil {
		var done *util.AlreadyCompletedError
		if errors.As(err, &done) {
			s.mu.Lock()
			s.state = Completed
			s.attemptID = done.AttemptID
			s.mu.Unlock()
			_ = s.Store.Clear(s.QuizID)
		}
		return err
	}

	draft, err := s.Store.Load(s.QuizID)
	switch {
	case errors.Is(err, ErrNoDraft):
		draft = Draft{QuizID: s.QuizID, StartedAt: s.Now(), Answers: model.AnswerSet{}}
	case err != nil:
		return err
	}
	// 服务端计时起点优先，保证换设备后截止时间一致
	if quiz.StartedAt != nil && !quiz.StartedAt.Equal(draft.StartedAt) {
		draft.StartedAt = *quiz.StartedAt
	}
	if err := s.Store.Save(s.QuizID, draft); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != NotStarted {
		return nil
	}
	s.quiz = quiz
	s.draft = draft
	s.state = InProgress
	return nil
}

// Remaining returns the time left; it is always zero for an untimed quiz.
func (s *Session) Remaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.quiz == nil || s.quiz.TimeLimit <= 0 {
		return 0
	}
	return Remaining(s.draft.StartedAt, s.quiz.TimeLimit, s.Now())
}

func (s *Session) Answers() model.AnswerSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft.clone().Answers
}

// SetAnswer records one answer and persists the draft immediately. When the
// server keeps a draft mirror the answers are then uploaded on a best-effort basis.
func (s *Session) SetAnswer(questionID string, a model.Answer) error {
	s.mu.Lock()
	if s.state != InProgress {
		s.mu.Unlock()
		return ErrNotInProgress
	}
	s.draft.Answers[questionID] = a
	if err := s.Store.Save(s.QuizID, s.draft); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.mirror()
	return nil
}

// mirror uploads the latest answers. Uploads are serialized and each one reads
// the draft when it starts, so the server never ends on an older copy.
func (s *Session) mirror() {
	m, ok := s.Server.(DraftMirror)
	if !ok {
		return
	}
	s.mirrorMu.Lock()
	defer s.mirrorMu.Unlock()

	s.mu.Lock()
	if s.state != InProgress {
		s.mu.Unlock()
		return
	}
	answers := s.draft.clone().Answers
	s.mu.Unlock()

	timeout := s.MirrorTimeout
	if timeout <= 0 {
		timeout = defaultMirrorTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := m.SaveDraft(ctx, s.QuizID, answers); err != nil && s.OnMirrorError != nil {
		s.OnMirrorError(err)
	}
}

// Run drives the countdown and submits with TriggerTimer on expiry. A new Run
// cancels the timer of any earlier one. Untimed quizzes return immediately.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.state != InProgress {
		s.mu.Unlock()
		return ErrNotInProgress
	}
	if s.quiz.TimeLimit <= 0 {
		s.mu.Unlock()
		return nil
	}
	if s.cancelTimer != nil {
		s.cancelTimer()
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancelTimer = cancel
	s.timerGen++
	gen := s.timerGen
	cd := &Countdown{Start: s.draft.StartedAt, Limit: s.quiz.TimeLimit, Now: s.Now, NewTicker: s.NewTicker}
	if cd.NewTicker == nil {
		cd.NewTicker = newRealTicker
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.timerGen == gen {
			s.cancelTimer = nil
		}
		s.mu.Unlock()
		cancel()
	}()

	var submitErr error
	cd.Run(ctx, s.OnTick, func() {
		_, submitErr = s.Submit(context.WithoutCancel(ctx), TriggerTimer)
	})
	if errors.Is(submitErr, ErrSubmitInProgress) {
		return nil
	}
	return submitErr
}

// Submit is the only way to hand answers to the server.
// While a submission is in flight further calls return ErrSubmitInProgress;
// after completion they return the existing attempt id. A failed call puts
// the session back to InProgress with drafts untouched.
func (s *Session) Submit(ctx context.Context, trigger Trigger) (string, error) {
	s.mu.Lock()
	switch s.state {
	case Completed:
		id := s.attemptID
		s.mu.Unlock()
		return id, nil
	case Submitting:
		s.mu.Unlock()
		return "", ErrSubmitInProgress
	case NotStarted:
		s.mu.Unlock()
		return "", ErrNotInProgress
	}

	if trigger == TriggerManual {
		if err := s.missingAnswersLocked(); err != nil {
			s.mu.Unlock()
			return "", err
		}
	}
	s.state = Submitting
	answers := s.draft.clone().Answers
	elapsed := s.Now().Sub(s.draft.StartedAt)
	s.mu.Unlock()

	attemptID, err := s.Server.Submit(ctx, s.QuizID, answers, elapsed, trigger)

	var done *util.AlreadyCompletedError
	if err != nil && errors.As(err, &done) {
		attemptID, err = done.AttemptID, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = InProgress
		return "", err
	}
	s.state = Completed
	s.attemptID = attemptID
	if s.cancelTimer != nil {
		s.cancelTimer()
	}
	if clearErr := s.Store.Clear(s.QuizID); clearErr != nil {
		return attemptID, clearErr
	}
	return attemptID, nil
}

func (s *Session) missingAnswersLocked() error {
	ve := &util.ValidationError{}
	for _, id := range s.quiz.QuestionIDs {
		a, ok := s.draft.Answers[id]
		if !ok || a.IsEmpty() {
			ve.Add("answers."+id, "answer required")
		}
	}
	return ve.OrNil()
}
