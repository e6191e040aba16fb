package service

import (
	"errors"
	"testing"
	"time"

	"quiz_engine_backend/internal/model"
	"quiz_engine_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDraftService_SaveAndLoad(t *testing.T) {
	env := newTestEnv(t)
	quiz := env.createQuiz(t, CreateQuizRequest{
		Title:            "Timed",
		TimeLimitMinutes: intPtr(15),
		Questions:        []QuestionRequest{singleChoice("q1", 5), textQuestion("q2", 5)},
	})
	q1 := quiz.Questions[0]

	_, err := env.draftSvc.Get(ctxBG, quiz.ID, learner)
	assert.ErrorIs(t, err, util.ErrDraftNotFound)

	view, err := env.quizzes.GetQuizForTaking(ctxBG, quiz.ID, learner)
	require.NoError(t, err)

	env.advance(3 * time.Minute)
	saved, err := env.draftSvc.Save(ctxBG, quiz.ID, &SaveDraftRequest{Answers: model.AnswerSet{q1.ID: pick(t, q1, "wrong")}}, learner)
	require.NoError(t, err)
	assert.True(t, saved.StartedAt.Equal(view.Session.StartedAt))
	assert.True(t, saved.UpdatedAt.Equal(env.now))

	loaded, err := env.draftSvc.Get(ctxBG, quiz.ID, learner)
	require.NoError(t, err)
	assert.Equal(t, saved.Answers, loaded.Answers)

	// 另一个学生的草稿互不影响
	_, err = env.draftSvc.Get(ctxBG, quiz.ID, classmate)
	assert.ErrorIs(t, err, util.ErrDraftNotFound)

	require.NoError(t, env.draftSvc.Clear(ctxBG, quiz.ID, learner))
	_, err = env.draftSvc.Get(ctxBG, quiz.ID, learner)
	assert.ErrorIs(t, err, util.ErrDraftNotFound)
}

func TestDraftService_ExpiresAfterLimitAndGrace(t *testing.T) {
	env := newTestEnv(t)
	quiz := env.createQuiz(t, CreateQuizRequest{
		Title:            "Short",
		TimeLimitMinutes: intPtr(5),
		Questions:        []QuestionRequest{textQuestion("q", 5)},
	})
	q := quiz.Questions[0]

	_, err := env.draftSvc.Save(ctxBG, quiz.ID, &SaveDraftRequest{Answers: model.AnswerSet{q.ID: {Text: "draft"}}}, learner)
	require.NoError(t, err)

	env.advance(14 * time.Minute)
	_, err = env.draftSvc.Get(ctxBG, quiz.ID, learner)
	require.NoError(t, err)

	env.advance(time.Minute)
	_, err = env.draftSvc.Get(ctxBG, quiz.ID, learner)
	assert.ErrorIs(t, err, util.ErrDraftNotFound)
}

func TestDraftService_KeepsFirstStartWithoutSession(t *testing.T) {
	env := newTestEnv(t)
	quiz := env.createQuiz(t, CreateQuizRequest{Title: "Untimed", Questions: []QuestionRequest{textQuestion("q", 5)}})
	q := quiz.Questions[0]
	first := env.now

	_, err := env.draftSvc.Save(ctxBG, quiz.ID, &SaveDraftRequest{Answers: model.AnswerSet{q.ID: {Text: "a"}}}, learner)
	require.NoError(t, err)
	env.advance(time.Minute)
	second, err := env.draftSvc.Save(ctxBG, quiz.ID, &SaveDraftRequest{Answers: model.AnswerSet{q.ID: {Text: "ab"}}}, learner)
	require.NoError(t, err)

	assert.True(t, second.StartedAt.Equal(first))
	assert.Equal(t, "ab", second.Answers[q.ID].Text)
}

func TestDraftService_Rejections(t *testing.T) {
	env := newTestEnv(t)
	quiz := env.createQuiz(t, CreateQuizRequest{Title: "Guarded", Questions: []QuestionRequest{textQuestion("q", 5)}})
	q := quiz.Questions[0]

	_, err := env.draftSvc.Save(ctxBG, quiz.ID, &SaveDraftRequest{Answers: model.AnswerSet{"other": {Text: "?"}}}, learner)
	var ve *util.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Fields, "answers.other")

	_, err = env.draftSvc.Save(ctxBG, quiz.ID, &SaveDraftRequest{}, learner)
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Fields, "answers")

	_, err = env.draftSvc.Save(ctxBG, quiz.ID, &SaveDraftRequest{Answers: model.AnswerSet{q.ID: {Text: "x"}}}, stranger)
	assert.ErrorIs(t, err, util.ErrNotEnrolled)

	env.submit(t, quiz.ID, learner, model.AnswerSet{q.ID: {Text: "final"}})
	_, err = env.draftSvc.Save(ctxBG, quiz.ID, &SaveDraftRequest{Answers: model.AnswerSet{q.ID: {Text: "late"}}}, learner)
	assert.ErrorIs(t, err, util.ErrAlreadyCompleted)
}

func TestMemoryDraftStore_CopiesAnswers(t *testing.T) {
	store := NewMemoryDraftStore()
	answers := model.AnswerSet{"q": {Text: "one"}}
	require.NoError(t, store.Save(ctxBG, &model.QuizDraft{QuizID: "quiz", UserID: 1, Answers: answers}, 0))

	answers["q"] = model.Answer{Text: "mutated"}
	loaded, err := store.Load(ctxBG, "quiz", 1)
	require.NoError(t, err)
	assert.Equal(t, "one", loaded.Answers["q"].Text)

	loaded.Answers["q"] = model.Answer{Text: "mutated again"}
	again, err := store.Load(ctxBG, "quiz", 1)
	require.NoError(t, err)
	assert.Equal(t, "one", again.Answers["q"].Text)
}
