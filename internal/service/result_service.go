package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"quiz_engine_backend/internal/model"
	"quiz_engine_backend/internal/repository"
	"quiz_engine_backend/internal/util"
	"quiz_engine_backend/pkg/monitoring"

	"gorm.io/gorm"
)

// ResultsGate reports whether item-level review is visible at now.
// It is evaluated on every read; there is no stored "published" flag.
func ResultsGate(quiz *model.Quiz, now time.Time) bool {
	return quiz.ResultsPublished(now)
}

type ReviewOption struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// QuestionReview 单题回看
type QuestionReview struct {
	QuestionID      string             `json:"questionId"`
	QuestionType    model.QuestionType `json:"questionType"`
	Content         string             `json:"content"`
	Answer          model.Answer       `json:"answer"`
	SelectedOptions []ReviewOption     `json:"selectedOptions,omitempty"`
	CorrectOptions  []ReviewOption     `json:"correctOptions,omitempty"`
	IsCorrect       *bool              `json:"isCorrect,omitempty"`
	PointsAwarded   float64            `json:"pointsAwarded"`
	MaxPoints       float64            `json:"maxPoints"`
	Pending         bool               `json:"pending"`
	Explanation     string             `json:"explanation,omitempty"`
	Comment         string             `json:"comment,omitempty"`
}

type ResultView struct {
	Summary          ScoreSummary     `json:"summary"`
	ResultsPublished bool             `json:"resultsPublished"`
	Detail           []QuestionReview `json:"detail,omitempty"`
}

type ResultService struct {
	QuizRepo    *repository.QuizRepository
	AttemptRepo *repository.AttemptRepository
	Now         func() time.Time
}

func NewResultService(quizRepo *repository.QuizRepository, attemptRepo *repository.AttemptRepository) *ResultService {
	return &ResultService{QuizRepo: quizRepo, AttemptRepo: attemptRepo, Now: time.Now}
}

// GetResult 摘要总是返回；逐题详情只有在公布时间之后才返回
func (s *ResultService) GetResult(ctx context.Context, quizID string, actor Actor) (*ResultView, error) {
	quiz, err := s.QuizRepo.FindByID(quizID)
	if err != nil {
		return nil, lookupErr(err, util.ErrQuizNotFound)
	}
	found, err := s.AttemptRepo.FindByQuizAndUser(quiz.ID, actor.UserID)
	if err != nil {
		return nil, lookupErr(err, util.ErrAttemptNotFound)
	}

	view := &ResultView{
		Summary:          summarize(found, quiz),
		ResultsPublished: ResultsGate(quiz, s.Now()),
	}
	if !view.ResultsPublished {
		monitoring.ResultReadCounter.WithLabelValues("closed").Inc()
		return view, nil
	}
	monitoring.ResultReadCounter.WithLabelValues("open").Inc()

	attempt, err := s.AttemptRepo.FindWithItems(found.ID)
	if err != nil {
		return nil, util.Transient(err)
	}
	detail, err := s.buildDetail(attempt)
	if err != nil {
		return nil, err
	}
	view.Detail = detail
	return view, nil
}

func (s *ResultService) buildDetail(attempt *model.QuizAttempt) ([]QuestionReview, error) {
	answers, err := attempt.DecodeAnswers()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(attempt.Items))
	for _, it := range attempt.Items {
		ids = append(ids, it.QuestionID)
	}
	questions, err := s.QuizRepo.FindQuestionsUnscoped(ids)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.Transient(err)
	}
	byID := make(map[string]*model.QuizQuestion, len(questions))
	order := make(map[string]int, len(questions))
	for i := range questions {
		byID[questions[i].ID] = &questions[i]
		order[questions[i].ID] = i
	}

	items := append([]model.AttemptItem(nil), attempt.Items...)
	sort.SliceStable(items, func(i, j int) bool {
		return order[items[i].QuestionID] < order[items[j].QuestionID]
	})

	detail := make([]QuestionReview, 0, len(items))
	for i := range items {
		it := &items[i]
		r := QuestionReview{
			QuestionID:    it.QuestionID,
			QuestionType:  it.QuestionType,
			Answer:        answers[it.QuestionID],
			IsCorrect:     it.IsCorrect,
			PointsAwarded: model.RoundScore(it.EffectivePoints()),
			MaxPoints:     it.MaxPoints,
			Pending:       it.Pending(),
			Comment:       it.Comment,
		}
		if q, ok := byID[it.QuestionID]; ok {
			r.Content = q.Content
			r.Explanation = q.Explanation
			selected := make(map[string]bool, len(r.Answer.OptionIDs))
			for _, id := range r.Answer.OptionIDs {
				selected[id] = true
			}
			for _, o := range q.Options {
				if selected[o.ID] {
					r.SelectedOptions = append(r.SelectedOptions, ReviewOption{ID: o.ID, Text: o.Text})
				}
			}
			for _, o := range currentOptions(q) {
				if o.IsCorrect {
					r.CorrectOptions = append(r.CorrectOptions, ReviewOption{ID: o.ID, Text: o.Text})
				}
			}
		}
		detail = append(detail, r)
	}
	return detail, nil
}

// currentOptions skips options replaced by a later edit. A deleted question
// keeps all of its options.
func currentOptions(q *model.QuizQuestion) []model.QuizOption {
	if q.DeletedAt.Valid {
		return q.Options
	}
	live := make([]model.QuizOption, 0, len(q.Options))
	for _, o := range q.Options {
		if !o.DeletedAt.Valid {
			live = append(live, o)
		}
	}
	return live
}
