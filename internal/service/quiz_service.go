package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"quiz_engine_backend/internal/model"
	"quiz_engine_backend/internal/repository"
	"quiz_engine_backend/internal/util"
	"quiz_engine_backend/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type QuizService struct {
	QuizRepo    *repository.QuizRepository
	AttemptRepo *repository.AttemptRepository
	SessionRepo *repository.SessionRepository
	Catalog     Catalog
	Storage     *StorageService
	Now         func() time.Time
}

func NewQuizService(
	quizRepo *repository.QuizRepository,
	attemptRepo *repository.AttemptRepository,
	sessionRepo *repository.SessionRepository,
	catalog Catalog,
	storage *StorageService,
) *QuizService {
	return &QuizService{
		QuizRepo:    quizRepo,
		AttemptRepo: attemptRepo,
		SessionRepo: sessionRepo,
		Catalog:     catalog,
		Storage:     storage,
		Now:         time.Now,
	}
}

type OptionRequest struct {
	Text      string `json:"text" validate:"required,max=1000"`
	IsCorrect bool   `json:"isCorrect"`
	SortOrder int    `json:"sortOrder"`
}

type QuestionRequest struct {
	QuestionType         model.QuestionType `json:"questionType" validate:"required,oneof=single_choice multiple_choice true_false text"`
	Content              string             `json:"content" validate:"required"`
	Points               float64            `json:"points" validate:"gt=0"`
	SortOrder            int                `json:"sortOrder"`
	RequireJustification bool               `json:"requireJustification"`
	AttachmentKey        string             `json:"attachmentKey" validate:"max=512"`
	Explanation          string             `json:"explanation"`
	Options              []OptionRequest    `json:"options" validate:"dive"`
}

type CreateQuizRequest struct {
	LessonID               *uint             `json:"lessonId"`
	Title                  string            `json:"title" validate:"required,max=255"`
	Description            string            `json:"description"`
	PassingScore           *int              `json:"passingScore" validate:"omitempty,min=0,max=100"`
	TimeLimitMinutes       *int              `json:"timeLimitMinutes" validate:"omitempty,gt=0"`
	StartDatetime          *time.Time        `json:"startDatetime"`
	EndDatetime            *time.Time        `json:"endDatetime"`
	ResultsPublishDatetime *time.Time        `json:"resultsPublishDatetime"`
	IsRequired             bool              `json:"isRequired"`
	Questions              []QuestionRequest `json:"questions" validate:"dive"`
}

// UpdateQuizRequest 只更新非空字段；Clear 中列出的可选字段会被置空
type UpdateQuizRequest struct {
	LessonID               *uint      `json:"lessonId"`
	Title                  *string    `json:"title" validate:"omitempty,min=1,max=255"`
	Description            *string    `json:"description"`
	PassingScore           *int       `json:"passingScore" validate:"omitempty,min=0,max=100"`
	TimeLimitMinutes       *int       `json:"timeLimitMinutes" validate:"omitempty,gt=0"`
	StartDatetime          *time.Time `json:"startDatetime"`
	EndDatetime            *time.Time `json:"endDatetime"`
	ResultsPublishDatetime *time.Time `json:"resultsPublishDatetime"`
	IsRequired             *bool      `json:"isRequired"`
	Clear                  []string   `json:"clear" validate:"dive,oneof=lessonId timeLimitMinutes startDatetime endDatetime resultsPublishDatetime"`
}

var clearableColumns = map[string]string{
	"lessonId":               "lesson_id",
	"timeLimitMinutes":       "time_limit_minutes",
	"startDatetime":          "start_datetime",
	"endDatetime":            "end_datetime",
	"resultsPublishDatetime": "results_publish_datetime",
}

func lookupErr(err error, notFound error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound
	}
	return util.Transient(err)
}

func validateWindow(start, end *time.Time, ve *util.ValidationError) {
	if start != nil && end != nil && end.Before(*start) {
		ve.Add("endDatetime", "must not be before startDatetime")
	}
}

func validateQuestion(q *QuestionRequest, prefix string, ve *util.ValidationError) {
	correct := 0
	for _, o := range q.Options {
		if o.IsCorrect {
			correct++
		}
	}
	opts := prefix + ".options"

	switch q.QuestionType {
	case model.QuestionSingleChoice:
		if len(q.Options) < 2 {
			ve.Add(opts, "needs at least two options")
		} else if correct != 1 {
			ve.Add(opts, "exactly one option must be correct")
		}
	case model.QuestionMultipleChoice:
		if len(q.Options) < 2 {
			ve.Add(opts, "needs at least two options")
		} else if correct < 1 {
			ve.Add(opts, "at least one option must be correct")
		}
	case model.QuestionTrueFalse:
		switch {
		case len(q.Options) != 2:
			ve.Add(opts, "true/false needs exactly two options")
		case correct != 1:
			ve.Add(opts, "exactly one option must be correct")
		case strings.EqualFold(strings.TrimSpace(q.Options[0].Text), strings.TrimSpace(q.Options[1].Text)):
			ve.Add(opts, "option texts must differ")
		}
	case model.QuestionText:
		if len(q.Options) > 0 {
			ve.Add(opts, "text questions take no options")
		}
	}

	if q.RequireJustification && q.QuestionType != model.QuestionTrueFalse {
		ve.Add(prefix+".requireJustification", "only applies to true_false questions")
	}
}

func buildQuestion(req *QuestionRequest) model.QuizQuestion {
	q := model.QuizQuestion{
		QuestionType:         req.QuestionType,
		Content:              req.Content,
		Points:               req.Points,
		SortOrder:            req.SortOrder,
		RequireJustification: req.RequireJustification,
		AttachmentKey:        req.AttachmentKey,
		Explanation:          req.Explanation,
	}
	for i, o := range req.Options {
		sortOrder := o.SortOrder
		if sortOrder == 0 {
			sortOrder = i + 1
		}
		q.Options = append(q.Options, model.QuizOption{Text: o.Text, IsCorrect: o.IsCorrect, SortOrder: sortOrder})
	}
	return q
}

func (s *QuizService) loadForInstructor(quizID string, actor Actor) (*model.Quiz, error) {
	quiz, err := s.QuizRepo.FindByID(quizID)
	if err != nil {
		return nil, lookupErr(err, util.ErrQuizNotFound)
	}
	if err := requireInstructor(s.Catalog, actor, quiz.CourseID); err != nil {
		return nil, err
	}
	return quiz, nil
}

func (s *QuizService) CreateQuiz(courseID uint, req *CreateQuizRequest, actor Actor) (*model.Quiz, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if err := requireInstructor(s.Catalog, actor, courseID); err != nil {
		return nil, err
	}

	ve := &util.ValidationError{}
	validateWindow(req.StartDatetime, req.EndDatetime, ve)
	for i := range req.Questions {
		validateQuestion(&req.Questions[i], fmt.Sprintf("questions[%d]", i), ve)
	}
	if err := ve.OrNil(); err != nil {
		return nil, err
	}

	passing := 60
	if req.PassingScore != nil {
		passing = *req.PassingScore
	}
	quiz := &model.Quiz{
		CourseID:               courseID,
		LessonID:               req.LessonID,
		CreatorID:              actor.UserID,
		Title:                  req.Title,
		Description:            req.Description,
		PassingScore:           passing,
		TimeLimitMinutes:       req.TimeLimitMinutes,
		StartDatetime:          req.StartDatetime,
		EndDatetime:            req.EndDatetime,
		ResultsPublishDatetime: req.ResultsPublishDatetime,
		IsRequired:             req.IsRequired,
	}
	for i := range req.Questions {
		q := buildQuestion(&req.Questions[i])
		if q.SortOrder == 0 {
			q.SortOrder = i + 1
		}
		quiz.Questions = append(quiz.Questions, q)
	}

	if err := s.QuizRepo.Create(quiz); err != nil {
		return nil, util.Transient(err)
	}
	logger.Log.Info("quiz created",
		zap.String("quizId", quiz.ID),
		zap.Uint("courseId", courseID),
		zap.Uint("creatorId", actor.UserID),
		zap.Int("questions", len(quiz.Questions)))

	return s.GetQuizForInstructor(quiz.ID, actor)
}

func (s *QuizService) UpdateQuiz(quizID string, req *UpdateQuizRequest, actor Actor) (*model.Quiz, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	quiz, err := s.loadForInstructor(quizID, actor)
	if err != nil {
		return nil, err
	}

	fields := map[string]interface{}{}
	start, end := quiz.StartDatetime, quiz.EndDatetime
	if req.LessonID != nil {
		fields["lesson_id"] = *req.LessonID
	}
	if req.Title != nil {
		fields["title"] = *req.Title
	}
	if req.Description != nil {
		fields["description"] = *req.Description
	}
	if req.PassingScore != nil {
		fields["passing_score"] = *req.PassingScore
	}
	if req.TimeLimitMinutes != nil {
		fields["time_limit_minutes"] = *req.TimeLimitMinutes
	}
	if req.StartDatetime != nil {
		fields["start_datetime"] = *req.StartDatetime
		start = req.StartDatetime
	}
	if req.EndDatetime != nil {
		fields["end_datetime"] = *req.EndDatetime
		end = req.EndDatetime
	}
	if req.ResultsPublishDatetime != nil {
		fields["results_publish_datetime"] = *req.ResultsPublishDatetime
	}
	if req.IsRequired != nil {
		fields["is_required"] = *req.IsRequired
	}
	for _, name := range req.Clear {
		fields[clearableColumns[name]] = nil
		switch name {
		case "startDatetime":
			start = nil
		case "endDatetime":
			end = nil
		}
	}

	ve := &util.ValidationError{}
	validateWindow(start, end, ve)
	if err := ve.OrNil(); err != nil {
		return nil, err
	}

	if err := s.QuizRepo.Update(quiz.ID, fields); err != nil {
		return nil, util.Transient(err)
	}
	return s.GetQuizForInstructor(quiz.ID, actor)
}

// DeleteQuiz 已有作答记录的测验不可删除，作答记录永不删除
func (s *QuizService) DeleteQuiz(quizID string, actor Actor) error {
	quiz, err := s.loadForInstructor(quizID, actor)
	if err != nil {
		return err
	}
	n, err := s.AttemptRepo.CountByQuiz(quiz.ID)
	if err != nil {
		return util.Transient(err)
	}
	if n > 0 {
		return util.Integrity("quiz %s already has %d attempts", quiz.ID, n)
	}
	if err := s.QuizRepo.Delete(quiz.ID); err != nil {
		return util.Transient(err)
	}
	logger.Log.Info("quiz deleted", zap.String("quizId", quiz.ID), zap.Uint("by", actor.UserID))
	return nil
}

func (s *QuizService) GetQuizForInstructor(quizID string, actor Actor) (*model.Quiz, error) {
	quiz, err := s.QuizRepo.FindWithQuestions(quizID)
	if err != nil {
		return nil, lookupErr(err, util.ErrQuizNotFound)
	}
	if err := requireInstructor(s.Catalog, actor, quiz.CourseID); err != nil {
		return nil, err
	}
	return quiz, nil
}

func (s *QuizService) ListQuizzes(courseID uint, actor Actor) ([]model.Quiz, error) {
	if err := requireInstructor(s.Catalog, actor, courseID); err != nil {
		return nil, err
	}
	quizzes, err := s.QuizRepo.ListByCourse(courseID)
	if err != nil {
		return nil, util.Transient(err)
	}
	return quizzes, nil
}

// AddQuestion 已有作答时仍允许修改，作答保留提交时的快照
func (s *QuizService) AddQuestion(quizID string, req *QuestionRequest, actor Actor) (*model.QuizQuestion, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	quiz, err := s.loadForInstructor(quizID, actor)
	if err != nil {
		return nil, err
	}
	ve := &util.ValidationError{}
	validateQuestion(req, "question", ve)
	if err := ve.OrNil(); err != nil {
		return nil, err
	}

	q := buildQuestion(req)
	q.QuizID = quiz.ID
	if q.SortOrder == 0 {
		n, err := s.QuizRepo.CountQuestions(quiz.ID)
		if err != nil {
			return nil, util.Transient(err)
		}
		q.SortOrder = int(n) + 1
	}
	if err := s.QuizRepo.CreateQuestion(&q); err != nil {
		return nil, util.Transient(err)
	}
	return &q, nil
}

func (s *QuizService) UpdateQuestion(quizID, questionID string, req *QuestionRequest, actor Actor) (*model.QuizQuestion, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	quiz, err := s.loadForInstructor(quizID, actor)
	if err != nil {
		return nil, err
	}
	existing, err := s.QuizRepo.FindQuestion(quiz.ID, questionID)
	if err != nil {
		return nil, lookupErr(err, util.ErrQuestionNotFound)
	}
	ve := &util.ValidationError{}
	validateQuestion(req, "question", ve)
	if err := ve.OrNil(); err != nil {
		return nil, err
	}

	q := buildQuestion(req)
	q.ID = existing.ID
	q.QuizID = quiz.ID
	if q.SortOrder == 0 {
		q.SortOrder = existing.SortOrder
	}
	if err := s.QuizRepo.ReplaceQuestion(&q); err != nil {
		return nil, util.Transient(err)
	}
	updated, err := s.QuizRepo.FindQuestion(quiz.ID, q.ID)
	if err != nil {
		return nil, util.Transient(err)
	}
	return updated, nil
}

func (s *QuizService) DeleteQuestion(quizID, questionID string, actor Actor) error {
	quiz, err := s.loadForInstructor(quizID, actor)
	if err != nil {
		return err
	}
	if _, err := s.QuizRepo.FindQuestion(quiz.ID, questionID); err != nil {
		return lookupErr(err, util.ErrQuestionNotFound)
	}
	if err := s.QuizRepo.DeleteQuestion(questionID); err != nil {
		return util.Transient(err)
	}
	return nil
}

// TakingOption 作答视图中的选项，不含正确性
type TakingOption struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	SortOrder int    `json:"sortOrder"`
}

type TakingQuestion struct {
	ID                   string             `json:"id"`
	QuestionType         model.QuestionType `json:"questionType"`
	Content              string             `json:"content"`
	Points               float64            `json:"points"`
	SortOrder            int                `json:"sortOrder"`
	RequireJustification bool               `json:"requireJustification"`
	AttachmentURL        string             `json:"attachmentUrl,omitempty"`
	Options              []TakingOption     `json:"options,omitempty"`
}

type TakingQuiz struct {
	ID                     string     `json:"id"`
	CourseID               uint       `json:"courseId"`
	Title                  string     `json:"title"`
	Description            string     `json:"description"`
	PassingScore           int        `json:"passingScore"`
	TimeLimitMinutes       *int       `json:"timeLimitMinutes,omitempty"`
	StartDatetime          *time.Time `json:"startDatetime,omitempty"`
	EndDatetime            *time.Time `json:"endDatetime,omitempty"`
	ResultsPublishDatetime *time.Time `json:"resultsPublishDatetime,omitempty"`
	IsRequired             bool       `json:"isRequired"`
	MaxScore               float64    `json:"maxScore"`
}

// SessionView 服务端计时起点，客户端刷新或换设备后据此恢复倒计时
type SessionView struct {
	StartedAt        time.Time `json:"startedAt"`
	Deadline         time.Time `json:"deadline"`
	TimeLimitSeconds int64     `json:"timeLimitSeconds"`
	RemainingSeconds int64     `json:"remainingSeconds"`
}

type TakingView struct {
	Quiz      TakingQuiz       `json:"quiz"`
	Questions []TakingQuestion `json:"questions"`
	Session   *SessionView     `json:"session,omitempty"`
}

// GetQuizForTaking 返回不含答案的题目；已作答返回 AlreadyCompletedError
func (s *QuizService) GetQuizForTaking(ctx context.Context, quizID string, actor Actor) (*TakingView, error) {
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

	now := s.Now()
	if opened, closed := quiz.Availability(now); !opened || closed {
		return nil, util.ErrNotAvailable
	}

	view := &TakingView{
		Quiz: TakingQuiz{
			ID:                     quiz.ID,
			CourseID:               quiz.CourseID,
			Title:                  quiz.Title,
			Description:            quiz.Description,
			PassingScore:           quiz.PassingScore,
			TimeLimitMinutes:       quiz.TimeLimitMinutes,
			StartDatetime:          quiz.StartDatetime,
			EndDatetime:            quiz.EndDatetime,
			ResultsPublishDatetime: quiz.ResultsPublishDatetime,
			IsRequired:             quiz.IsRequired,
			MaxScore:               quiz.MaxScore(),
		},
		Questions: make([]TakingQuestion, 0, len(quiz.Questions)),
	}
	for _, q := range quiz.Questions {
		tq := TakingQuestion{
			ID:                   q.ID,
			QuestionType:         q.QuestionType,
			Content:              q.Content,
			Points:               q.Points,
			SortOrder:            q.SortOrder,
			RequireJustification: q.RequireJustification,
		}
		if q.AttachmentKey != "" && s.Storage != nil {
			url, err := s.Storage.URL(ctx, q.AttachmentKey)
			if err != nil {
				logger.Log.Warn("attachment url unavailable", zap.String("questionId", q.ID), zap.Error(err))
			}
			tq.AttachmentURL = url
		}
		for _, o := range q.Options {
			tq.Options = append(tq.Options, TakingOption{ID: o.ID, Text: o.Text, SortOrder: o.SortOrder})
		}
		view.Questions = append(view.Questions, tq)
	}

	if limit := quiz.TimeLimit(); limit > 0 {
		deadline := now.Add(limit)
		session, err := s.SessionRepo.FindOrCreate(&model.QuizSession{
			QuizID:    quiz.ID,
			UserID:    actor.UserID,
			StartedAt: now,
			Deadline:  &deadline,
			Status:    model.SessionInProgress,
		})
		if err != nil {
			return nil, util.Transient(err)
		}
		sv := &SessionView{
			StartedAt:        session.StartedAt,
			TimeLimitSeconds: int64(limit / time.Second),
			RemainingSeconds: int64(session.Remaining(now) / time.Second),
		}
		if session.Deadline != nil {
			sv.Deadline = *session.Deadline
		}
		view.Session = sv
	}

	return view, nil
}
