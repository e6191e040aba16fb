package service

import (
	"errors"
	"sync"
	"testing"

	"quiz_engine_backend/internal/model"
	"quiz_engine_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gradingFixture struct {
	env     *testEnv
	quiz    *model.Quiz
	essay   model.QuizQuestion
	choice  model.QuizQuestion
	attempt string
}

// essay 20 分 + 单选 10 分，学生答对单选
func newGradingFixture(t *testing.T, passing int) *gradingFixture {
	t.Helper()
	env := newTestEnv(t)
	quiz := env.createQuiz(t, CreateQuizRequest{
		Title:        "Essay",
		PassingScore: intPtr(passing),
		Questions:    []QuestionRequest{textQuestion("explain", 20), singleChoice("pick", 10)},
	})
	essay, choice := quiz.Questions[0], quiz.Questions[1]
	res := env.submit(t, quiz.ID, learner, model.AnswerSet{
		essay.ID:  {Text: "my essay"},
		choice.ID: pick(t, choice, "right"),
	})
	return &gradingFixture{env: env, quiz: quiz, essay: essay, choice: choice, attempt: res.AttemptID}
}

func (f *gradingFixture) grade(points float64, actor Actor) (*GradeResult, error) {
	return f.env.grading.GradeAnswer(ctxBG, GradeInput{
		AttemptID:  f.attempt,
		QuestionID: f.essay.ID,
		Points:     points,
		Comment:    "ok",
		Actor:      actor,
	})
}

func TestGradeAnswer_CompletesPendingAttempt(t *testing.T) {
	f := newGradingFixture(t, 80)

	res, err := f.grade(15, teacher)
	require.NoError(t, err)
	assert.Equal(t, 25.0, res.UpdatedScore)
	assert.Equal(t, 30.0, res.MaxScore)
	assert.False(t, res.StillPending)
	assert.True(t, res.Passed) // 25/30 = 83.33%

	stored, err := f.env.attemptRepo.FindWithItems(f.attempt)
	require.NoError(t, err)
	assert.Equal(t, 25.0, stored.Score)
	assert.Equal(t, 10.0, stored.AutoScore)
	assert.False(t, stored.NeedsManualGrading)
	assert.True(t, stored.Passed)

	item, err := f.env.attemptRepo.FindItem(f.attempt, f.essay.ID)
	require.NoError(t, err)
	require.NotNil(t, item.ManualPoints)
	assert.Equal(t, 15.0, *item.ManualPoints)
	require.NotNil(t, item.GraderID)
	assert.Equal(t, teacher.UserID, *item.GraderID)
	assert.Equal(t, "ok", item.Comment)
}

func TestGradeAnswer_RegradeOverwrites(t *testing.T) {
	f := newGradingFixture(t, 80)

	_, err := f.grade(15, teacher)
	require.NoError(t, err)
	res, err := f.grade(5, teacher)
	require.NoError(t, err)

	// 重新评分是覆盖而不是累加
	assert.Equal(t, 15.0, res.UpdatedScore)
	assert.False(t, res.Passed)
	assert.Equal(t, 50.0, res.Percentage)

	stored, err := f.env.attemptRepo.FindByQuizAndUser(f.quiz.ID, learner.UserID)
	require.NoError(t, err)
	assert.Equal(t, 15.0, stored.Score)
	assert.False(t, stored.Passed)
}

func TestGradeAnswer_Rejections(t *testing.T) {
	f := newGradingFixture(t, 60)

	tests := []struct {
		name     string
		in       GradeInput
		target   error
		validate string
	}{
		{
			name:   "question outside attempt",
			in:     GradeInput{AttemptID: f.attempt, QuestionID: "other", Points: 1, Actor: teacher},
			target: util.ErrIntegrity,
		},
		{
			name:   "auto scored question",
			in:     GradeInput{AttemptID: f.attempt, QuestionID: f.choice.ID, Points: 1, Actor: teacher},
			target: util.ErrNotManualGradable,
		},
		{
			name:     "points above max",
			in:       GradeInput{AttemptID: f.attempt, QuestionID: f.essay.ID, Points: 21, Actor: teacher},
			target:   util.ErrValidation,
			validate: "points",
		},
		{
			name:     "negative points",
			in:       GradeInput{AttemptID: f.attempt, QuestionID: f.essay.ID, Points: -1, Actor: teacher},
			target:   util.ErrValidation,
			validate: "points",
		},
		{
			name:   "unknown attempt",
			in:     GradeInput{AttemptID: "missing", QuestionID: f.essay.ID, Points: 1, Actor: teacher},
			target: util.ErrAttemptNotFound,
		},
		{
			name:   "instructor of another course",
			in:     GradeInput{AttemptID: f.attempt, QuestionID: f.essay.ID, Points: 1, Actor: outsider},
			target: util.ErrPermissionDenied,
		},
		{
			name:   "student",
			in:     GradeInput{AttemptID: f.attempt, QuestionID: f.essay.ID, Points: 1, Actor: learner},
			target: util.ErrPermissionDenied,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.env.grading.GradeAnswer(ctxBG, tt.in)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.target)
			if tt.validate != "" {
				var ve *util.ValidationError
				require.True(t, errors.As(err, &ve))
				assert.Contains(t, ve.Fields, tt.validate)
			}
		})
	}

	stored, err := f.env.attemptRepo.FindByQuizAndUser(f.quiz.ID, learner.UserID)
	require.NoError(t, err)
	assert.Equal(t, 10.0, stored.Score)
	assert.True(t, stored.NeedsManualGrading)
}

func TestGradeAnswer_AdminBypassesCourseCheck(t *testing.T) {
	f := newGradingFixture(t, 60)

	res, err := f.grade(20, admin)
	require.NoError(t, err)
	assert.Equal(t, 30.0, res.UpdatedScore)
	assert.True(t, res.Passed)
}

func TestListPending(t *testing.T) {
	f := newGradingFixture(t, 60)
	env := f.env
	env.submit(t, f.quiz.ID, classmate, model.AnswerSet{
		f.essay.ID:  {Text: "second essay"},
		f.choice.ID: pick(t, f.choice, "wrong"),
	})

	pending, err := env.grading.ListPendingByQuiz(f.quiz.ID, teacher)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	for _, p := range pending {
		assert.Equal(t, f.essay.ID, p.QuestionID)
		assert.Equal(t, model.QuestionText, p.QuestionType)
		assert.Equal(t, 20.0, p.MaxPoints)
		assert.NotEmpty(t, p.Answer.Text)
	}

	_, err = f.grade(10, teacher)
	require.NoError(t, err)

	byCourse, err := env.grading.ListPendingByCourse(testCourseID, teacher)
	require.NoError(t, err)
	require.Len(t, byCourse, 1)
	assert.Equal(t, classmate.UserID, byCourse[0].LearnerID)
	assert.Equal(t, "second essay", byCourse[0].Answer.Text)

	_, err = env.grading.ListPendingByCourse(testCourseID, outsider)
	assert.ErrorIs(t, err, util.ErrPermissionDenied)

	_, err = env.grading.ListPendingByQuiz(f.quiz.ID, learner)
	assert.ErrorIs(t, err, util.ErrPermissionDenied)
}

func TestListAttempts(t *testing.T) {
	f := newGradingFixture(t, 60)

	rows, err := f.env.grading.ListAttempts(f.quiz.ID, teacher)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, learner.UserID, rows[0].LearnerID)
	assert.Equal(t, f.attempt, rows[0].AttemptID)
	assert.True(t, rows[0].NeedsManualGrading)
}

func TestGrade_RequiresPoints(t *testing.T) {
	f := newGradingFixture(t, 60)

	_, err := f.env.grading.Grade(ctxBG, f.attempt, f.essay.ID, &GradeRequest{Comment: "no points"}, teacher)
	var ve *util.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Fields, "points")
}

func TestGradeAnswer_ConcurrentGradesOnOneAttempt(t *testing.T) {
	env := newTestEnv(t)
	quiz := env.createQuiz(t, CreateQuizRequest{
		Title:        "Two essays",
		PassingScore: intPtr(50),
		Questions:    []QuestionRequest{textQuestion("first", 10), textQuestion("second", 20)},
	})
	first, second := quiz.Questions[0], quiz.Questions[1]
	res := env.submit(t, quiz.ID, learner, model.AnswerSet{first.ID: {Text: "a"}, second.ID: {Text: "b"}})

	awards := map[string]float64{first.ID: 7, second.ID: 12}
	errs := make(chan error, len(awards))
	var wg sync.WaitGroup
	for qid, points := range awards {
		wg.Add(1)
		go func(qid string, points float64) {
			defer wg.Done()
			_, err := env.grading.GradeAnswer(ctxBG, GradeInput{AttemptID: res.AttemptID, QuestionID: qid, Points: points, Actor: teacher})
			errs <- err
		}(qid, points)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	stored, err := env.attemptRepo.FindWithItems(res.AttemptID)
	require.NoError(t, err)
	assert.Equal(t, 19.0, stored.Score)
	assert.False(t, stored.NeedsManualGrading)
	assert.True(t, stored.Passed) // 19/30
	for _, item := range stored.Items {
		require.NotNil(t, item.ManualPoints)
		assert.Equal(t, awards[item.QuestionID], *item.ManualPoints)
	}
}
