package service

import (
	"context"
	"testing"
	"time"

	"quiz_engine_backend/internal/config"
	"quiz_engine_backend/internal/model"
	"quiz_engine_backend/internal/repository"
	"quiz_engine_backend/pkg/database"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	testCourseID  uint = 1
	otherCourseID uint = 2
)

var ctxBG = context.Background()

var (
	teacher   = Actor{UserID: 100, Role: model.Teacher}
	outsider  = Actor{UserID: 101, Role: model.Teacher}
	admin     = Actor{UserID: 1, Role: model.Admin}
	learner   = Actor{UserID: 200, Role: model.Student}
	classmate = Actor{UserID: 201, Role: model.Student}
	stranger  = Actor{UserID: 300, Role: model.Student}
)

type testEnv struct {
	db  *gorm.DB
	now time.Time

	quizRepo    *repository.QuizRepository
	attemptRepo *repository.AttemptRepository
	sessionRepo *repository.SessionRepository
	catalog     *repository.CatalogRepository
	drafts      *MemoryDraftStore

	quizzes     *QuizService
	submissions *SubmissionService
	grading     *GradingService
	results     *ResultService
	draftSvc    *DraftService
	sweeper     *SessionSweeper
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, database.Migrate(db))
	return db
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)
	env := &testEnv{
		db:          db,
		now:         time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		quizRepo:    repository.NewQuizRepository(db),
		attemptRepo: repository.NewAttemptRepository(db),
		sessionRepo: repository.NewSessionRepository(db),
		catalog:     repository.NewCatalogRepository(db),
	}
	clock := func() time.Time { return env.now }

	env.drafts = NewMemoryDraftStore()
	env.drafts.Now = clock

	env.quizzes = NewQuizService(env.quizRepo, env.attemptRepo, env.sessionRepo, env.catalog, NewStorageService(&config.Config{Storage: config.StorageConfig{Type: "local"}}))
	env.quizzes.Now = clock
	env.submissions = NewSubmissionService(db, env.quizRepo, env.attemptRepo, env.sessionRepo, env.catalog, env.drafts)
	env.submissions.Now = clock
	env.grading = NewGradingService(db, env.quizRepo, env.attemptRepo, env.catalog)
	env.grading.Now = clock
	env.results = NewResultService(env.quizRepo, env.attemptRepo)
	env.results.Now = clock
	env.draftSvc = NewDraftService(env.quizRepo, env.attemptRepo, env.sessionRepo, env.catalog, env.drafts, 10*time.Minute)
	env.draftSvc.Now = clock
	env.sweeper = NewSessionSweeper(env.sessionRepo, env.drafts, env.submissions, time.Minute)
	env.sweeper.Now = clock

	require.NoError(t, env.catalog.AssignInstructor(testCourseID, teacher.UserID))
	require.NoError(t, env.catalog.AssignInstructor(otherCourseID, outsider.UserID))
	require.NoError(t, env.catalog.Enroll(testCourseID, learner.UserID))
	require.NoError(t, env.catalog.Enroll(testCourseID, classmate.UserID))
	return env
}

func (e *testEnv) advance(d time.Duration) {
	e.now = e.now.Add(d)
}

// createQuiz 通过服务层创建测验，返回带题目和选项的完整记录
func (e *testEnv) createQuiz(t *testing.T, req CreateQuizRequest) *model.Quiz {
	t.Helper()
	quiz, err := e.quizzes.CreateQuiz(testCourseID, &req, teacher)
	require.NoError(t, err)
	return quiz
}

func (e *testEnv) submit(t *testing.T, quizID string, actor Actor, answers model.AnswerSet) *SubmitResult {
	t.Helper()
	res, err := e.submissions.SubmitAttempt(ctxBG, SubmitInput{QuizID: quizID, Actor: actor, Answers: answers, ElapsedMs: 1000})
	require.NoError(t, err)
	return res
}

func intPtr(v int) *int { return &v }

func timePtr(t time.Time) *time.Time { return &t }

func option(text string, correct bool) OptionRequest {
	return OptionRequest{Text: text, IsCorrect: correct}
}

func singleChoice(content string, points float64) QuestionRequest {
	return QuestionRequest{
		QuestionType: model.QuestionSingleChoice,
		Content:      content,
		Points:       points,
		Options:      []OptionRequest{option("right", true), option("wrong", false), option("also wrong", false)},
	}
}

func multipleChoice(content string, points float64) QuestionRequest {
	return QuestionRequest{
		QuestionType: model.QuestionMultipleChoice,
		Content:      content,
		Points:       points,
		Options:      []OptionRequest{option("a", true), option("b", true), option("c", false)},
	}
}

func trueFalse(content string, points float64, answerTrue, justify bool) QuestionRequest {
	return QuestionRequest{
		QuestionType:         model.QuestionTrueFalse,
		Content:              content,
		Points:               points,
		RequireJustification: justify,
		Options:              []OptionRequest{option("True", answerTrue), option("False", !answerTrue)},
	}
}

func textQuestion(content string, points float64) QuestionRequest {
	return QuestionRequest{QuestionType: model.QuestionText, Content: content, Points: points}
}

func optionID(t *testing.T, q model.QuizQuestion, text string) string {
	t.Helper()
	for _, o := range q.Options {
		if o.Text == text {
			return o.ID
		}
	}
	t.Fatalf("question %s has no option %q", q.ID, text)
	return ""
}

func pick(t *testing.T, q model.QuizQuestion, texts ...string) model.Answer {
	t.Helper()
	ids := make([]string, 0, len(texts))
	for _, text := range texts {
		ids = append(ids, optionID(t, q, text))
	}
	return model.Answer{OptionIDs: ids}
}
