package model

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Answer 学生对单题的作答。选择题使用 OptionIDs，判断题使用 Choice（选项文本），
// 文本题使用 Text。
type Answer struct {
	OptionIDs     []string `json:"optionIds,omitempty"`
	Choice        string   `json:"choice,omitempty"`
	Justification string   `json:"justification,omitempty"`
	Text          string   `json:"text,omitempty"`
}

func (a Answer) IsEmpty() bool {
	return len(a.OptionIDs) == 0 && strings.TrimSpace(a.Choice) == "" && strings.TrimSpace(a.Text) == ""
}

// AnswerSet is keyed by question id.
type AnswerSet map[string]Answer

// swagger:model QuizAttempt
type QuizAttempt struct {
	UUIDBase
	QuizID             string         `gorm:"type:varchar(36);not null;uniqueIndex:idx_quiz_attempts_quiz_user" json:"quizId"`
	UserID             uint           `gorm:"not null;uniqueIndex:idx_quiz_attempts_quiz_user;index" json:"userId"`
	Answers            datatypes.JSON `json:"answers"`
	AutoScore          float64        `gorm:"default:0" json:"autoScore"`
	Score              float64        `gorm:"default:0" json:"score"`
	MaxScore           float64        `gorm:"default:0" json:"maxScore"`
	PassingScore       int            `gorm:"default:0" json:"passingScore"` // 提交时的及格线快照
	Passed             bool           `gorm:"default:false" json:"passed"`
	NeedsManualGrading bool           `gorm:"default:false;index" json:"needsManualGrading"`
	IsTimeout          bool           `gorm:"default:false" json:"isTimeout"`
	TimeTakenMs        int64          `gorm:"default:0" json:"timeTakenMs"`
	CompletedAt        time.Time      `json:"completedAt"`

	Items []AttemptItem `gorm:"foreignKey:AttemptID" json:"items,omitempty"`
}

func (QuizAttempt) TableName() string {
	return "quiz_attempts"
}

// Percentage is derived from Score and MaxScore, never stored.
func (a *QuizAttempt) Percentage() float64 {
	if a.MaxScore <= 0 {
		return 0
	}
	return a.Score / a.MaxScore * 100
}

// ApplyScore sets Score and recomputes Passed in one step so the two cannot drift.
// The threshold is compared as score*100 >= passing*max to stay exact at the boundary.
func (a *QuizAttempt) ApplyScore(score float64) {
	a.Score = score
	if a.MaxScore <= 0 {
		a.Passed = a.PassingScore <= 0
		return
	}
	a.Passed = score*100 >= float64(a.PassingScore)*a.MaxScore
}

func (a *QuizAttempt) SetAnswers(set AnswerSet) error {
	raw, err := json.Marshal(set)
	if err != nil {
		return err
	}
	a.Answers = datatypes.JSON(raw)
	return nil
}

func (a *QuizAttempt) DecodeAnswers() (AnswerSet, error) {
	set := AnswerSet{}
	if len(a.Answers) == 0 {
		return set, nil
	}
	if err := json.Unmarshal(a.Answers, &set); err != nil {
		return nil, err
	}
	return set, nil
}

// RoundScore 展示用，保留两位小数
func RoundScore(v float64) float64 {
	return math.Round(v*100) / 100
}

// AttemptItem 单题评分记录：提交时写入自动评分结果，人工评分时覆盖 ManualPoints
type AttemptItem struct {
	UUIDBase
	AttemptID    string       `gorm:"type:varchar(36);not null;uniqueIndex:idx_attempt_items_attempt_question" json:"attemptId"`
	QuestionID   string       `gorm:"type:varchar(36);not null;uniqueIndex:idx_attempt_items_attempt_question;index" json:"questionId"`
	QuestionType QuestionType `gorm:"size:30;not null" json:"questionType"`
	MaxPoints    float64      `gorm:"default:0" json:"maxPoints"`
	AutoPoints   float64      `gorm:"default:0" json:"autoPoints"`
	IsCorrect    *bool        `json:"isCorrect,omitempty"`
	NeedsManual  bool         `gorm:"default:false;index" json:"needsManual"`
	ManualPoints *float64     `json:"manualPoints,omitempty"`
	GraderID     *uint        `json:"graderId,omitempty"`
	Comment      string       `gorm:"type:text" json:"comment,omitempty"`
	GradedAt     *time.Time   `json:"gradedAt,omitempty"`
}

func (AttemptItem) TableName() string {
	return "quiz_attempt_items"
}

// Pending reports whether the item still waits for an instructor.
func (i *AttemptItem) Pending() bool {
	return i.NeedsManual && i.ManualPoints == nil
}

// EffectivePoints 人工评分优先，否则取自动评分
func (i *AttemptItem) EffectivePoints() float64 {
	if i.ManualPoints != nil {
		return *i.ManualPoints
	}
	return i.AutoPoints
}

// SumItems recomputes score and pending state from stored per-question awards.
func SumItems(items []AttemptItem) (score float64, pending bool) {
	for i := range items {
		score += items[i].EffectivePoints()
		if items[i].Pending() {
			pending = true
		}
	}
	return score, pending
}
