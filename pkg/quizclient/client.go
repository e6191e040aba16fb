// Package quizclient talks to the quiz engine HTTP API and maps its error
// payloads back onto the engine's error values.
package quizclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"quiz_engine_backend/internal/model"
	"quiz_engine_backend/internal/util"
	"quiz_engine_backend/pkg/quizsession"

	"github.com/go-resty/resty/v2"
)

var ErrUnauthorized = errors.New("quizclient: unauthorized")

var (
	_ quizsession.Server      = (*Client)(nil)
	_ quizsession.DraftMirror = (*Client)(nil)
)

type Client struct {
	http *resty.Client
}

// New creates a client for baseURL (e.g. http://host:8080/api) using a bearer token.
func New(baseURL, token string) *Client {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(token).
		SetTimeout(15*time.Second).
		SetHeader("Accept", "application/json")
	return &Client{http: rc}
}

// NewWithResty wraps an existing resty client.
func NewWithResty(rc *resty.Client) *Client {
	return &Client{http: rc}
}

type envelope struct {
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	Reason    string          `json:"reason"`
	Retryable *bool           `json:"retryable"`
	Data      json.RawMessage `json:"data"`
}

type Option struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	SortOrder int    `json:"sortOrder"`
}

type Question struct {
	ID                   string             `json:"id"`
	QuestionType         model.QuestionType `json:"questionType"`
	Content              string             `json:"content"`
	Points               float64            `json:"points"`
	SortOrder            int                `json:"sortOrder"`
	RequireJustification bool               `json:"requireJustification"`
	AttachmentURL        string             `json:"attachmentUrl"`
	Options              []Option           `json:"options"`
}

type SessionInfo struct {
	StartedAt        time.Time `json:"startedAt"`
	Deadline         time.Time `json:"deadline"`
	TimeLimitSeconds int64     `json:"timeLimitSeconds"`
	RemainingSeconds int64     `json:"remainingSeconds"`
}

type QuizView struct {
	Quiz struct {
		ID                     string     `json:"id"`
		Title                  string     `json:"title"`
		Description            string     `json:"description"`
		PassingScore           int        `json:"passingScore"`
		TimeLimitMinutes       *int       `json:"timeLimitMinutes"`
		ResultsPublishDatetime *time.Time `json:"resultsPublishDatetime"`
		MaxScore               float64    `json:"maxScore"`
	} `json:"quiz"`
	Questions []Question   `json:"questions"`
	Session   *SessionInfo `json:"session"`
}

type Summary struct {
	AttemptID              string     `json:"attemptId"`
	Score                  float64    `json:"score"`
	MaxScore               float64    `json:"maxScore"`
	Percentage             float64    `json:"percentage"`
	Passed                 bool       `json:"passed"`
	NeedsManualGrading     bool       `json:"needsManualGrading"`
	CompletedAt            time.Time  `json:"completedAt"`
	ResultsPublishDatetime *time.Time `json:"resultsPublishDatetime"`
}

type SubmitResult struct {
	AttemptID        string   `json:"attemptId"`
	ResultsPublished bool     `json:"resultsPublished"`
	ScoreSummary     *Summary `json:"scoreSummary"`
}

type Review struct {
	QuestionID     string       `json:"questionId"`
	Content        string       `json:"content"`
	Answer         model.Answer `json:"answer"`
	CorrectOptions []Option     `json:"correctOptions"`
	IsCorrect      *bool        `json:"isCorrect"`
	PointsAwarded  float64      `json:"pointsAwarded"`
	MaxPoints      float64      `json:"maxPoints"`
	Pending        bool         `json:"pending"`
	Explanation    string       `json:"explanation"`
	Comment        string       `json:"comment"`
}

type Result struct {
	Summary          Summary  `json:"summary"`
	ResultsPublished bool     `json:"resultsPublished"`
	Detail           []Review `json:"detail"`
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}, notFound error) error {
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return util.Transient(err)
	}

	var env envelope
	if len(resp.Body()) > 0 {
		if err := json.Unmarshal(resp.Body(), &env); err != nil && resp.IsSuccess() {
			return fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	if resp.IsError() {
		return mapError(resp.StatusCode(), &env, notFound)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return nil
}

// mapError 根据服务端返回的 reason 还原错误类型
func mapError(status int, env *envelope, notFound error) error {
	switch env.Reason {
	case util.ReasonAlreadyCompleted:
		var data struct {
			AttemptID string `json:"attemptId"`
		}
		_ = json.Unmarshal(env.Data, &data)
		return &util.AlreadyCompletedError{AttemptID: data.AttemptID}
	case util.ReasonValidation:
		var data struct {
			Fields map[string]string `json:"fields"`
		}
		_ = json.Unmarshal(env.Data, &data)
		if len(data.Fields) == 0 {
			data.Fields = map[string]string{"body": env.Message}
		}
		return &util.ValidationError{Fields: data.Fields}
	case util.ReasonNotAvailable:
		return util.ErrNotAvailable
	case util.ReasonNotEnrolled:
		return util.ErrNotEnrolled
	case util.ReasonForbidden:
		return util.ErrPermissionDenied
	case util.ReasonNotFound:
		return notFound
	case util.ReasonIntegrity:
		return fmt.Errorf("%w: %s", util.ErrIntegrity, env.Message)
	case util.ReasonNotGradable:
		return util.ErrNotManualGradable
	}
	if status == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return util.Transient(fmt.Errorf("server returned %d: %s", status, env.Message))
}

func (c *Client) GetQuizForTaking(ctx context.Context, quizID string) (*QuizView, error) {
	var view QuizView
	if err := c.do(ctx, http.MethodGet, "/student/quizzes/"+quizID, nil, &view, util.ErrQuizNotFound); err != nil {
		return nil, err
	}
	return &view, nil
}

func (c *Client) SubmitAttempt(ctx context.Context, quizID string, answers model.AnswerSet, elapsed time.Duration, trigger quizsession.Trigger) (*SubmitResult, error) {
	body := map[string]interface{}{
		"answers":   answers,
		"elapsedMs": elapsed.Milliseconds(),
		"trigger":   string(trigger),
	}
	var res SubmitResult
	if err := c.do(ctx, http.MethodPost, "/student/quizzes/"+quizID+"/submit", body, &res, util.ErrQuizNotFound); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) GetResult(ctx context.Context, quizID string) (*Result, error) {
	var res Result
	if err := c.do(ctx, http.MethodGet, "/student/quizzes/"+quizID+"/result", nil, &res, util.ErrAttemptNotFound); err != nil {
		return nil, err
	}
	return &res, nil
}

// SaveDraft mirrors the local draft to the server; it implements quizsession.DraftMirror.
func (c *Client) SaveDraft(ctx context.Context, quizID string, answers model.AnswerSet) error {
	body := map[string]interface{}{"answers": answers}
	return c.do(ctx, http.MethodPut, "/student/quizzes/"+quizID+"/draft", body, nil, util.ErrQuizNotFound)
}

// Open implements quizsession.Server.
func (c *Client) Open(ctx context.Context, quizID string) (*quizsession.Quiz, error) {
	view, err := c.GetQuizForTaking(ctx, quizID)
	if err != nil {
		return nil, err
	}
	q := &quizsession.Quiz{ID: view.Quiz.ID}
	if view.Quiz.TimeLimitMinutes != nil {
		q.TimeLimit = time.Duration(*view.Quiz.TimeLimitMinutes) * time.Minute
	}
	for _, question := range view.Questions {
		q.QuestionIDs = append(q.QuestionIDs, question.ID)
	}
	if view.Session != nil {
		started := view.Session.StartedAt
		q.StartedAt = &started
	}
	return q, nil
}

// Start opens a session for quizID. When the learner already has an attempt
// the session comes back Completed together with that attempt's result.
func (c *Client) Start(ctx context.Context, quizID string, store quizsession.DraftStore) (*quizsession.Session, *Result, error) {
	s := quizsession.New(quizID, c, store)
	err := s.Begin(ctx)
	switch {
	case errors.Is(err, util.ErrAlreadyCompleted):
		res, err := c.GetResult(ctx, quizID)
		if err != nil {
			return s, nil, err
		}
		return s, res, nil
	case err != nil:
		return nil, nil, err
	}
	return s, nil, nil
}

// Submit implements quizsession.Server.
func (c *Client) Submit(ctx context.Context, quizID string, answers model.AnswerSet, elapsed time.Duration, trigger quizsession.Trigger) (string, error) {
	res, err := c.SubmitAttempt(ctx, quizID, answers, elapsed, trigger)
	if err != nil {
		return "", err
	}
	return res.AttemptID, nil
}
