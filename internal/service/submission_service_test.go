package service

import (
	"errors"
	"sync"
	"testing"
	"time"

	"quiz_engine_backend/internal/model"
	"quiz_engine_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestSubmitAttempt_ScoresAgainstPassingScore(t *testing.T) {
	env := newTestEnv(t)
	quiz := env.createQuiz(t, CreateQuizRequest{
		Title:        "Unit 1",
		PassingScore: intPtr(70),
		Questions:    []QuestionRequest{singleChoice("q1", 50), singleChoice("q2", 50)},
	})
	q1, q2 := quiz.Questions[0], quiz.Questions[1]

	res := env.submit(t, quiz.ID, learner, model.AnswerSet{
		q1.ID: pick(t, q1, "right"),
		q2.ID: pick(t, q2, "wrong"),
	})

	require.NotNil(t, res.ScoreSummary)
	assert.Equal(t, 50.0, res.ScoreSummary.Score)
	assert.Equal(t, 100.0, res.ScoreSummary.MaxScore)
	assert.Equal(t, 50.0, res.ScoreSummary.Percentage)
	assert.Equal(t, 70, res.ScoreSummary.PassingScore)
	assert.False(t, res.ScoreSummary.Passed)
	assert.False(t, res.ScoreSummary.NeedsManualGrading)
	assert.True(t, res.ResultsPublished)

	stored, err := env.attemptRepo.FindWithItems(res.AttemptID)
	require.NoError(t, err)
	assert.Len(t, stored.Items, 2)
	assert.Equal(t, 50.0, stored.Score)
	assert.Equal(t, int64(1000), stored.TimeTakenMs)
	assert.False(t, stored.IsTimeout)
}

func TestSubmitAttempt_TextQuestionLeavesAttemptPending(t *testing.T) {
	env := newTestEnv(t)
	quiz := env.createQuiz(t, CreateQuizRequest{
		Title:     "Essay",
		Questions: []QuestionRequest{textQuestion("explain", 20), singleChoice("pick", 10)},
	})
	essay, choice := quiz.Questions[0], quiz.Questions[1]

	res := env.submit(t, quiz.ID, learner, model.AnswerSet{
		essay.ID:  {Text: "because"},
		choice.ID: pick(t, choice, "right"),
	})

	s := res.ScoreSummary
	assert.Equal(t, 10.0, s.AutoScore)
	assert.Equal(t, 10.0, s.Score)
	assert.Equal(t, 30.0, s.MaxScore)
	assert.True(t, s.NeedsManualGrading)
}

func TestSubmitAttempt_SecondSubmitReturnsExistingAttempt(t *testing.T) {
	env := newTestEnv(t)
	quiz := env.createQuiz(t, CreateQuizRequest{Title: "Once", Questions: []QuestionRequest{singleChoice("q", 10)}})
	q := quiz.Questions[0]
	answers := model.AnswerSet{q.ID: pick(t, q, "right")}

	first := env.submit(t, quiz.ID, learner, answers)

	_, err := env.submissions.SubmitAttempt(ctxBG, SubmitInput{QuizID: quiz.ID, Actor: learner, Answers: answers, Trigger: TriggerTimer})
	require.Error(t, err)
	assert.ErrorIs(t, err, util.ErrAlreadyCompleted)
	var done *util.AlreadyCompletedError
	require.True(t, errors.As(err, &done))
	assert.Equal(t, first.AttemptID, done.AttemptID)
	assert.False(t, util.Retryable(err))

	n, err := env.attemptRepo.CountByQuiz(quiz.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSubmitAttempt_AvailabilityWindow(t *testing.T) {
	env := newTestEnv(t)
	quiz := env.createQuiz(t, CreateQuizRequest{
		Title:         "Windowed",
		StartDatetime: timePtr(env.now.Add(time.Hour)),
		EndDatetime:   timePtr(env.now.Add(2 * time.Hour)),
		Questions:     []QuestionRequest{singleChoice("q", 10)},
	})
	q := quiz.Questions[0]
	answers := model.AnswerSet{q.ID: pick(t, q, "right")}

	_, err := env.submissions.SubmitAttempt(ctxBG, SubmitInput{QuizID: quiz.ID, Actor: learner, Answers: answers})
	assert.ErrorIs(t, err, util.ErrNotAvailable)

	env.advance(3 * time.Hour)
	_, err = env.submissions.SubmitAttempt(ctxBG, SubmitInput{QuizID: quiz.ID, Actor: learner, Answers: answers, Trigger: TriggerTimer})
	assert.ErrorIs(t, err, util.ErrNotAvailable)

	n, err := env.attemptRepo.CountByQuiz(quiz.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSubmitAttempt_ManualRequiresEveryAnswer(t *testing.T) {
	env := newTestEnv(t)
	quiz := env.createQuiz(t, CreateQuizRequest{
		Title:     "Two",
		Questions: []QuestionRequest{singleChoice("q1", 10), singleChoice("q2", 10)},
	})
	q1, q2 := quiz.Questions[0], quiz.Questions[1]
	partial := model.AnswerSet{q1.ID: pick(t, q1, "right")}

	_, err := env.submissions.SubmitAttempt(ctxBG, SubmitInput{QuizID: quiz.ID, Actor: learner, Answers: partial})
	var ve *util.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Fields, "answers."+q2.ID)
	assert.True(t, util.Retryable(err))

	// 超时自动提交允许未作答的题目
	res, err := env.submissions.SubmitAttempt(ctxBG, SubmitInput{QuizID: quiz.ID, Actor: learner, Answers: partial, Trigger: TriggerTimer})
	require.NoError(t, err)
	assert.Equal(t, 10.0, res.ScoreSummary.Score)
	assert.True(t, res.ScoreSummary.IsTimeout)
}

func TestSubmitAttempt_RejectsMalformedAnswers(t *testing.T) {
	env := newTestEnv(t)
	quiz := env.createQuiz(t, CreateQuizRequest{
		Title:     "Shape",
		Questions: []QuestionRequest{singleChoice("q1", 10), textQuestion("t", 5)},
	})
	q1, essay := quiz.Questions[0], quiz.Questions[1]

	tests := []struct {
		name    string
		answers model.AnswerSet
		field   string
	}{
		{
			name:    "unknown question",
			answers: model.AnswerSet{q1.ID: pick(t, q1, "right"), essay.ID: {Text: "x"}, "nope": {Text: "?"}},
			field:   "answers.nope",
		},
		{
			name:    "two options on single choice",
			answers: model.AnswerSet{q1.ID: pick(t, q1, "right", "wrong"), essay.ID: {Text: "x"}},
			field:   "answers." + q1.ID,
		},
		{
			name:    "option from another question",
			answers: model.AnswerSet{q1.ID: {OptionIDs: []string{"not-an-option"}}, essay.ID: {Text: "x"}},
			field:   "answers." + q1.ID,
		},
		{
			name:    "options on text question",
			answers: model.AnswerSet{q1.ID: pick(t, q1, "right"), essay.ID: pick(t, q1, "right")},
			field:   "answers." + essay.ID,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.submissions.SubmitAttempt(ctxBG, SubmitInput{QuizID: quiz.ID, Actor: learner, Answers: tt.answers})
			var ve *util.ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Contains(t, ve.Fields, tt.field)
		})
	}

	n, err := env.attemptRepo.CountByQuiz(quiz.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSubmitAttempt_JustificationForFalseAnswer(t *testing.T) {
	env := newTestEnv(t)
	quiz := env.createQuiz(t, CreateQuizRequest{
		Title:     "Claims",
		Questions: []QuestionRequest{trueFalse("the sky is green", 10, false, true)},
	})
	q := quiz.Questions[0]

	_, err := env.submissions.SubmitAttempt(ctxBG, SubmitInput{QuizID: quiz.ID, Actor: learner, Answers: model.AnswerSet{
		q.ID: {Choice: "false"},
	}})
	var ve *util.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Fields, "answers."+q.ID+".justification")

	res := env.submit(t, quiz.ID, learner, model.AnswerSet{
		q.ID: {Choice: "False", Justification: "it is blue"},
	})
	assert.Equal(t, 10.0, res.ScoreSummary.AutoScore)
	assert.True(t, res.ScoreSummary.NeedsManualGrading)
}

func TestSubmitAttempt_TimeoutWithoutJustificationIsQueued(t *testing.T) {
	env := newTestEnv(t)
	quiz := env.createQuiz(t, CreateQuizRequest{
		Title:     "Claims",
		Questions: []QuestionRequest{trueFalse("the sky is green", 10, false, true)},
	})
	q := quiz.Questions[0]

	res, err := env.submissions.SubmitAttempt(ctxBG, SubmitInput{
		QuizID:  quiz.ID,
		Actor:   learner,
		Trigger: TriggerTimer,
		Answers: model.AnswerSet{q.ID: {Choice: "False"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 10.0, res.ScoreSummary.AutoScore)
	assert.True(t, res.ScoreSummary.NeedsManualGrading)

	pending, err := env.grading.ListPendingByQuiz(quiz.ID, teacher)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, q.ID, pending[0].QuestionID)
	assert.Empty(t, pending[0].Answer.Justification)
}

func TestSubmitAttempt_ConcurrentSubmitsKeepOneAttempt(t *testing.T) {
	env := newTestEnv(t)
	quiz := env.createQuiz(t, CreateQuizRequest{Title: "Race", Questions: []QuestionRequest{singleChoice("q1", 10)}})
	answers := model.AnswerSet{quiz.Questions[0].ID: pick(t, quiz.Questions[0], "right")}

	triggers := []Trigger{TriggerManual, TriggerTimer}
	results := make([]*SubmitResult, len(triggers))
	errs := make([]error, len(triggers))
	var wg sync.WaitGroup
	for i, trig := range triggers {
		wg.Add(1)
		go func(i int, trig Trigger) {
			defer wg.Done()
			results[i], errs[i] = env.submissions.SubmitAttempt(ctxBG, SubmitInput{
				QuizID:  quiz.ID,
				Actor:   learner,
				Trigger: trig,
				Answers: answers,
			})
		}(i, trig)
	}
	wg.Wait()

	var winner string
	var done *util.AlreadyCompletedError
	completed := 0
	for i := range triggers {
		if errs[i] == nil {
			winner = results[i].AttemptID
			continue
		}
		require.True(t, errors.As(errs[i], &done), "unexpected error: %v", errs[i])
		completed++
	}
	require.Equal(t, 1, completed)
	require.NotEmpty(t, winner)
	assert.Equal(t, winner, done.AttemptID)

	n, err := env.attemptRepo.CountByQuiz(quiz.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestSubmitAttempt_AccessChecks(t *testing.T) {
	env := newTestEnv(t)
	quiz := env.createQuiz(t, CreateQuizRequest{Title: "Private", Questions: []QuestionRequest{textQuestion("t", 5)}})

	_, err := env.submissions.SubmitAttempt(ctxBG, SubmitInput{QuizID: quiz.ID, Actor: stranger, Answers: model.AnswerSet{}})
	assert.ErrorIs(t, err, util.ErrNotEnrolled)

	_, err = env.submissions.SubmitAttempt(ctxBG, SubmitInput{QuizID: "missing", Actor: learner, Answers: model.AnswerSet{}})
	assert.ErrorIs(t, err, util.ErrQuizNotFound)
}

func TestSubmitAttempt_ClearsDraftAndClosesSession(t *testing.T) {
	env := newTestEnv(t)
	quiz := env.createQuiz(t, CreateQuizRequest{
		Title:            "Timed",
		TimeLimitMinutes: intPtr(10),
		Questions:        []QuestionRequest{singleChoice("q", 10)},
	})
	q := quiz.Questions[0]

	view, err := env.quizzes.GetQuizForTaking(ctxBG, quiz.ID, learner)
	require.NoError(t, err)
	require.NotNil(t, view.Session)

	_, err = env.draftSvc.Save(ctxBG, quiz.ID, &SaveDraftRequest{Answers: model.AnswerSet{q.ID: pick(t, q, "wrong")}}, learner)
	require.NoError(t, err)

	env.advance(2 * time.Minute)
	env.submit(t, quiz.ID, learner, model.AnswerSet{q.ID: pick(t, q, "right")})

	_, err = env.drafts.Load(ctxBG, quiz.ID, learner.UserID)
	assert.ErrorIs(t, err, util.ErrDraftNotFound)

	session, err := env.sessionRepo.Find(quiz.ID, learner.UserID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionCompleted, session.Status)
}

func TestSubmitAttempt_MaxScoreIsSnapshotted(t *testing.T) {
	env := newTestEnv(t)
	quiz := env.createQuiz(t, CreateQuizRequest{Title: "Edit later", Questions: []QuestionRequest{singleChoice("q", 10)}})
	q := quiz.Questions[0]
	res := env.submit(t, quiz.ID, learner, model.AnswerSet{q.ID: pick(t, q, "right")})

	_, err := env.quizzes.AddQuestion(quiz.ID, ptr(singleChoice("late", 40)), teacher)
	require.NoError(t, err)

	view, err := env.results.GetResult(ctxBG, quiz.ID, learner)
	require.NoError(t, err)
	assert.Equal(t, res.AttemptID, view.Summary.AttemptID)
	assert.Equal(t, 10.0, view.Summary.MaxScore)
	assert.Equal(t, 100.0, view.Summary.Percentage)
}

func TestSubmit_RejectsClientSweeperTrigger(t *testing.T) {
	env := newTestEnv(t)
	quiz := env.createQuiz(t, CreateQuizRequest{Title: "Trig", Questions: []QuestionRequest{textQuestion("t", 5)}})

	_, err := env.submissions.Submit(ctxBG, quiz.ID, &SubmitRequest{Trigger: TriggerSweeper}, learner)
	var ve *util.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Fields, "trigger")
}

func TestAttemptRepository_DuplicateInsertIsTranslated(t *testing.T) {
	env := newTestEnv(t)
	quiz := env.createQuiz(t, CreateQuizRequest{Title: "Dup", Questions: []QuestionRequest{textQuestion("t", 5)}})

	first := &model.QuizAttempt{QuizID: quiz.ID, UserID: learner.UserID, CompletedAt: env.now}
	require.NoError(t, env.attemptRepo.Create(first))

	second := &model.QuizAttempt{QuizID: quiz.ID, UserID: learner.UserID, CompletedAt: env.now}
	err := env.attemptRepo.Create(second)
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)
}

func ptr[T any](v T) *T { return &v }
