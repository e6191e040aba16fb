package service

import (
	"context"
	"errors"
	"time"

	"quiz_engine_backend/internal/model"
	"quiz_engine_backend/internal/repository"
	"quiz_engine_backend/internal/util"

	"gorm.io/gorm"
)

// DraftService 服务端草稿镜像的读写
type DraftService struct {
	QuizRepo    *repository.QuizRepository
	AttemptRepo *repository.AttemptRepository
	SessionRepo *repository.SessionRepository
	Catalog     Catalog
	Drafts      DraftMirror
	TTLGrace    time.Duration
	Now         func() time.Time
}

func NewDraftService(
	quizRepo *repository.QuizRepository,
	attemptRepo *repository.AttemptRepository,
	sessionRepo *repository.SessionRepository,
	catalog Catalog,
	drafts DraftMirror,
	ttlGrace time.Duration,
) *DraftService {
	return &DraftService{
		QuizRepo:    quizRepo,
		AttemptRepo: attemptRepo,
		SessionRepo: sessionRepo,
		Catalog:     catalog,
		Drafts:      drafts,
		TTLGrace:    ttlGrace,
		Now:         time.Now,
	}
}

type SaveDraftRequest struct {
	Answers model.AnswerSet `json:"answers" validate:"required"`
}

func (s *DraftService) openQuiz(quizID string, actor Actor) (*model.Quiz, error) {
	quiz, err := s.QuizRepo.FindWithQuestions(quizID)
	if err != nil {
		return nil, lookupErr(err, util.ErrQuizNotFound)
	}
	if err := requireEnrolled(s.Catalog, actor, quiz.CourseID); err != nil {
		return nil, err
	}
	existing, err := s.AttemptRepo.FindByQuizAndUser(quiz.ID, actor.UserID)
	if err == nil {
		return nil, &util.AlreadyCompletedError{AttemptID: existing.ID}
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.Transient(err)
	}
	return quiz, nil
}

func (s *DraftService) Get(ctx context.Context, quizID string, actor Actor) (*model.QuizDraft, error) {
	quiz, err := s.openQuiz(quizID, actor)
	if err != nil {
		return nil, err
	}
	return s.Drafts.Load(ctx, quiz.ID, actor.UserID)
}

// Save 覆盖草稿；不校验答案完整性，只拒绝不属于该测验的题目
func (s *DraftService) Save(ctx context.Context, quizID string, req *SaveDraftRequest, actor Actor) (*model.QuizDraft, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	quiz, err := s.openQuiz(quizID, actor)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(quiz.Questions))
	for _, q := range quiz.Questions {
		known[q.ID] = true
	}
	ve := &util.ValidationError{}
	for qid := range req.Answers {
		if !known[qid] {
			ve.Add("answers."+qid, "unknown question")
		}
	}
	if err := ve.OrNil(); err != nil {
		return nil, err
	}

	now := s.Now()
	draft := &model.QuizDraft{
		QuizID:    quiz.ID,
		UserID:    actor.UserID,
		Answers:   req.Answers,
		StartedAt: now,
		UpdatedAt: now,
	}
	if session, err := s.SessionRepo.Find(quiz.ID, actor.UserID); err == nil {
		draft.StartedAt = session.StartedAt
	} else if prev, err := s.Drafts.Load(ctx, quiz.ID, actor.UserID); err == nil {
		draft.StartedAt = prev.StartedAt
	}

	if err := s.Drafts.Save(ctx, draft, quiz.TimeLimit()+s.TTLGrace); err != nil {
		return nil, err
	}
	return draft, nil
}

func (s *DraftService) Clear(ctx context.Context, quizID string, actor Actor) error {
	quiz, err := s.QuizRepo.FindByID(quizID)
	if err != nil {
		return lookupErr(err, util.ErrQuizNotFound)
	}
	return s.Drafts.Clear(ctx, quiz.ID, actor.UserID)
}
