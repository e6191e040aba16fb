package service

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"quiz_engine_backend/internal/model"
	"quiz_engine_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateQuiz_Defaults(t *testing.T) {
	env := newTestEnv(t)
	quiz := env.createQuiz(t, CreateQuizRequest{
		Title:     "Defaults",
		Questions: []QuestionRequest{singleChoice("q1", 5), textQuestion("q2", 5)},
	})

	assert.Equal(t, 60, quiz.PassingScore)
	assert.Equal(t, testCourseID, quiz.CourseID)
	assert.Equal(t, teacher.UserID, quiz.CreatorID)
	require.Len(t, quiz.Questions, 2)
	assert.Equal(t, 1, quiz.Questions[0].SortOrder)
	assert.Equal(t, 2, quiz.Questions[1].SortOrder)
	assert.Len(t, quiz.Questions[0].Options, 3)
	assert.Equal(t, 10.0, quiz.MaxScore())
}

func TestCreateQuiz_ZeroPassingScoreIsKept(t *testing.T) {
	env := newTestEnv(t)
	quiz := env.createQuiz(t, CreateQuizRequest{Title: "Practice", PassingScore: intPtr(0)})
	assert.Equal(t, 0, quiz.PassingScore)
}

func TestCreateQuiz_Validation(t *testing.T) {
	env := newTestEnv(t)
	start := env.now

	noCorrect := singleChoice("q", 5)
	noCorrect.Options[0].IsCorrect = false
	twoCorrect := singleChoice("q", 5)
	twoCorrect.Options[1].IsCorrect = true
	sameText := trueFalse("q", 5, true, false)
	sameText.Options[1].Text = " true"
	textWithOptions := textQuestion("q", 5)
	textWithOptions.Options = []OptionRequest{option("x", true)}
	justifiedChoice := singleChoice("q", 5)
	justifiedChoice.RequireJustification = true
	zeroPoints := singleChoice("q", 0)

	tests := []struct {
		name  string
		req   CreateQuizRequest
		field string
	}{
		{"missing title", CreateQuizRequest{}, "title"},
		{"passing score above 100", CreateQuizRequest{Title: "x", PassingScore: intPtr(101)}, "passingScore"},
		{"non positive time limit", CreateQuizRequest{Title: "x", TimeLimitMinutes: intPtr(-5)}, "timeLimitMinutes"},
		{"window reversed", CreateQuizRequest{Title: "x", StartDatetime: timePtr(start), EndDatetime: timePtr(start.Add(-time.Minute))}, "endDatetime"},
		{"single choice without correct option", CreateQuizRequest{Title: "x", Questions: []QuestionRequest{noCorrect}}, "questions[0].options"},
		{"single choice with two correct options", CreateQuizRequest{Title: "x", Questions: []QuestionRequest{twoCorrect}}, "questions[0].options"},
		{"true false with identical texts", CreateQuizRequest{Title: "x", Questions: []QuestionRequest{sameText}}, "questions[0].options"},
		{"text with options", CreateQuizRequest{Title: "x", Questions: []QuestionRequest{textWithOptions}}, "questions[0].options"},
		{"justification on choice", CreateQuizRequest{Title: "x", Questions: []QuestionRequest{justifiedChoice}}, "questions[0].requireJustification"},
		{"zero points", CreateQuizRequest{Title: "x", Questions: []QuestionRequest{zeroPoints}}, "questions[0].points"},
		{"unknown type", CreateQuizRequest{Title: "x", Questions: []QuestionRequest{{QuestionType: "essay", Content: "c", Points: 1}}}, "questions[0].questionType"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			_, err := env.quizzes.CreateQuiz(testCourseID, &req, teacher)
			var ve *util.ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Contains(t, ve.Fields, tt.field)
		})
	}

	quizzes, err := env.quizzes.ListQuizzes(testCourseID, teacher)
	require.NoError(t, err)
	assert.Empty(t, quizzes)
}

func TestQuizAuthoring_Permissions(t *testing.T) {
	env := newTestEnv(t)
	req := CreateQuizRequest{Title: "Guarded"}

	_, err := env.quizzes.CreateQuiz(testCourseID, &req, outsider)
	assert.ErrorIs(t, err, util.ErrPermissionDenied)
	_, err = env.quizzes.CreateQuiz(testCourseID, &req, learner)
	assert.ErrorIs(t, err, util.ErrPermissionDenied)

	quiz, err := env.quizzes.CreateQuiz(testCourseID, &req, admin)
	require.NoError(t, err)

	_, err = env.quizzes.GetQuizForInstructor(quiz.ID, outsider)
	assert.ErrorIs(t, err, util.ErrPermissionDenied)
	_, err = env.quizzes.AddQuestion(quiz.ID, ptr(textQuestion("t", 1)), outsider)
	assert.ErrorIs(t, err, util.ErrPermissionDenied)
	assert.ErrorIs(t, env.quizzes.DeleteQuiz(quiz.ID, outsider), util.ErrPermissionDenied)

	_, err = env.quizzes.GetQuizForInstructor("missing", teacher)
	assert.ErrorIs(t, err, util.ErrQuizNotFound)
}

func TestUpdateQuiz(t *testing.T) {
	env := newTestEnv(t)
	quiz := env.createQuiz(t, CreateQuizRequest{
		Title:            "Before",
		TimeLimitMinutes: intPtr(30),
		EndDatetime:      timePtr(env.now.Add(48 * time.Hour)),
	})

	title := "After"
	updated, err := env.quizzes.UpdateQuiz(quiz.ID, &UpdateQuizRequest{
		Title:        &title,
		PassingScore: intPtr(75),
		Clear:        []string{"timeLimitMinutes"},
	}, teacher)
	require.NoError(t, err)
	assert.Equal(t, "After", updated.Title)
	assert.Equal(t, 75, updated.PassingScore)
	assert.Nil(t, updated.TimeLimitMinutes)
	require.NotNil(t, updated.EndDatetime)

	_, err = env.quizzes.UpdateQuiz(quiz.ID, &UpdateQuizRequest{StartDatetime: timePtr(env.now.Add(72 * time.Hour))}, teacher)
	var ve *util.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Fields, "endDatetime")

	_, err = env.quizzes.UpdateQuiz(quiz.ID, &UpdateQuizRequest{Clear: []string{"title"}}, teacher)
	require.True(t, errors.As(err, &ve))
}

func TestQuestionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	quiz := env.createQuiz(t, CreateQuizRequest{Title: "Build up", Questions: []QuestionRequest{singleChoice("q1", 5)}})

	added, err := env.quizzes.AddQuestion(quiz.ID, ptr(multipleChoice("q2", 5)), teacher)
	require.NoError(t, err)
	assert.Equal(t, 2, added.SortOrder)

	edited := trueFalse("q2 as tf", 3, false, true)
	updated, err := env.quizzes.UpdateQuestion(quiz.ID, added.ID, &edited, teacher)
	require.NoError(t, err)
	assert.Equal(t, model.QuestionTrueFalse, updated.QuestionType)
	assert.Equal(t, 3.0, updated.Points)
	assert.True(t, updated.RequireJustification)
	require.Len(t, updated.Options, 2)

	_, err = env.quizzes.UpdateQuestion(quiz.ID, "missing", &edited, teacher)
	assert.ErrorIs(t, err, util.ErrQuestionNotFound)

	require.NoError(t, env.quizzes.DeleteQuestion(quiz.ID, quiz.Questions[0].ID, teacher))
	full, err := env.quizzes.GetQuizForInstructor(quiz.ID, teacher)
	require.NoError(t, err)
	require.Len(t, full.Questions, 1)
	assert.Equal(t, added.ID, full.Questions[0].ID)
	assert.Equal(t, 3.0, full.MaxScore())

	assert.ErrorIs(t, env.quizzes.DeleteQuestion(quiz.ID, quiz.Questions[0].ID, teacher), util.ErrQuestionNotFound)
}

func TestDeleteQuiz(t *testing.T) {
	env := newTestEnv(t)
	empty := env.createQuiz(t, CreateQuizRequest{Title: "Unused", Questions: []QuestionRequest{textQuestion("t", 1)}})
	require.NoError(t, env.quizzes.DeleteQuiz(empty.ID, teacher))
	_, err := env.quizzes.GetQuizForInstructor(empty.ID, teacher)
	assert.ErrorIs(t, err, util.ErrQuizNotFound)

	taken := env.createQuiz(t, CreateQuizRequest{Title: "Taken", Questions: []QuestionRequest{textQuestion("t", 1)}})
	env.submit(t, taken.ID, learner, model.AnswerSet{taken.Questions[0].ID: {Text: "x"}})
	err = env.quizzes.DeleteQuiz(taken.ID, teacher)
	assert.ErrorIs(t, err, util.ErrIntegrity)
	assert.False(t, util.Retryable(err))
}

func TestGetQuizForTaking_HidesAnswers(t *testing.T) {
	env := newTestEnv(t)
	withAttachment := singleChoice("look at the chart", 5)
	withAttachment.AttachmentKey = "charts/q1.png"
	quiz := env.createQuiz(t, CreateQuizRequest{
		Title:     "Open book",
		Questions: []QuestionRequest{withAttachment, trueFalse("tf", 5, true, false)},
	})

	view, err := env.quizzes.GetQuizForTaking(ctxBG, quiz.ID, learner)
	require.NoError(t, err)
	assert.Nil(t, view.Session)
	assert.Equal(t, 10.0, view.Quiz.MaxScore)
	require.Len(t, view.Questions, 2)
	assert.Equal(t, "/uploads/charts/q1.png", view.Questions[0].AttachmentURL)
	assert.Len(t, view.Questions[0].Options, 3)

	raw, err := json.Marshal(view)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "isCorrect")
	assert.NotContains(t, string(raw), "explanation")
}

func TestGetQuizForTaking_Gates(t *testing.T) {
	env := newTestEnv(t)
	quiz := env.createQuiz(t, CreateQuizRequest{
		Title:         "Later",
		StartDatetime: timePtr(env.now.Add(time.Hour)),
		Questions:     []QuestionRequest{textQuestion("t", 1)},
	})

	_, err := env.quizzes.GetQuizForTaking(ctxBG, quiz.ID, learner)
	assert.ErrorIs(t, err, util.ErrNotAvailable)

	_, err = env.quizzes.GetQuizForTaking(ctxBG, quiz.ID, stranger)
	assert.ErrorIs(t, err, util.ErrNotEnrolled)

	env.advance(time.Hour)
	_, err = env.quizzes.GetQuizForTaking(ctxBG, quiz.ID, learner)
	require.NoError(t, err)

	res := env.submit(t, quiz.ID, learner, model.AnswerSet{quiz.Questions[0].ID: {Text: "done"}})
	_, err = env.quizzes.GetQuizForTaking(ctxBG, quiz.ID, learner)
	var done *util.AlreadyCompletedError
	require.True(t, errors.As(err, &done))
	assert.Equal(t, res.AttemptID, done.AttemptID)
}

func TestGetQuizForTaking_SessionResumesFromServerStart(t *testing.T) {
	env := newTestEnv(t)
	quiz := env.createQuiz(t, CreateQuizRequest{
		Title:            "Timed",
		TimeLimitMinutes: intPtr(20),
		Questions:        []QuestionRequest{textQuestion("t", 1)},
	})
	started := env.now

	first, err := env.quizzes.GetQuizForTaking(ctxBG, quiz.ID, learner)
	require.NoError(t, err)
	require.NotNil(t, first.Session)
	assert.Equal(t, int64(1200), first.Session.TimeLimitSeconds)
	assert.Equal(t, int64(1200), first.Session.RemainingSeconds)

	// 刷新页面：计时从首次进入开始，不会重置
	env.advance(5 * time.Minute)
	second, err := env.quizzes.GetQuizForTaking(ctxBG, quiz.ID, learner)
	require.NoError(t, err)
	assert.True(t, second.Session.StartedAt.Equal(started))
	assert.True(t, second.Session.Deadline.Equal(started.Add(20*time.Minute)))
	assert.Equal(t, int64(900), second.Session.RemainingSeconds)

	env.advance(time.Hour)
	third, err := env.quizzes.GetQuizForTaking(ctxBG, quiz.ID, learner)
	require.NoError(t, err)
	assert.Zero(t, third.Session.RemainingSeconds)
}
