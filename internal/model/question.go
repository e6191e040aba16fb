package model

type QuestionType string

const (
	QuestionSingleChoice   QuestionType = "single_choice"
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionTrueFalse      QuestionType = "true_false"
	QuestionText           QuestionType = "text"
)

func (t QuestionType) Valid() bool {
	switch t {
	case QuestionSingleChoice, QuestionMultipleChoice, QuestionTrueFalse, QuestionText:
		return true
	}
	return false
}

// swagger:model QuizQuestion
type QuizQuestion struct {
	UUIDBase
	QuizID               string       `gorm:"index;type:varchar(36);not null" json:"quizId"`
	QuestionType         QuestionType `gorm:"size:30;not null" json:"questionType"`
	Content              string       `gorm:"type:text;not null" json:"content"`
	Points               float64      `gorm:"not null" json:"points"`
	SortOrder            int          `gorm:"default:0" json:"sortOrder"`
	RequireJustification bool         `gorm:"default:false" json:"requireJustification"`
	AttachmentKey        string       `gorm:"size:512" json:"attachmentKey,omitempty"`
	Explanation          string       `gorm:"type:text" json:"explanation"`

	Options []QuizOption `gorm:"foreignKey:QuestionID" json:"options,omitempty"`
}

func (QuizQuestion) TableName() string {
	return "quiz_questions"
}

// CorrectOptions 返回所有正确选项
func (q *QuizQuestion) CorrectOptions() []QuizOption {
	var out []QuizOption
	for _, o := range q.Options {
		if o.IsCorrect {
			out = append(out, o)
		}
	}
	return out
}

// swagger:model QuizOption
type QuizOption struct {
	UUIDBase
	QuestionID string `gorm:"index;type:varchar(36);not null" json:"questionId"`
	Text       string `gorm:"type:text;not null" json:"text"`
	IsCorrect  bool   `gorm:"default:false" json:"isCorrect"`
	SortOrder  int    `gorm:"default:0" json:"sortOrder"`
}

func (QuizOption) TableName() string {
	return "quiz_options"
}
