package model

import "time"

// swagger:model Quiz
type Quiz struct {
	UUIDBase
	CourseID               uint       `gorm:"index;not null" json:"courseId"`
	LessonID               *uint      `gorm:"index" json:"lessonId,omitempty"`
	CreatorID              uint       `gorm:"index" json:"creatorId"`
	Title                  string     `gorm:"size:255;not null" json:"title"`
	Description            string     `gorm:"type:text" json:"description"`
	PassingScore           int        `gorm:"not null" json:"passingScore"` // 百分比 0-100
	TimeLimitMinutes       *int       `json:"timeLimitMinutes,omitempty"`
	StartDatetime          *time.Time `json:"startDatetime,omitempty"`
	EndDatetime            *time.Time `json:"endDatetime,omitempty"`
	ResultsPublishDatetime *time.Time `json:"resultsPublishDatetime,omitempty"`
	IsRequired             bool       `gorm:"default:false" json:"isRequired"`

	Questions []QuizQuestion `gorm:"foreignKey:QuizID" json:"questions,omitempty"`
}

func (Quiz) TableName() string {
	return "quizzes"
}

// TimeLimit returns zero when the quiz is untimed.
func (q *Quiz) TimeLimit() time.Duration {
	if q.TimeLimitMinutes == nil || *q.TimeLimitMinutes <= 0 {
		return 0
	}
	return time.Duration(*q.TimeLimitMinutes) * time.Minute
}

// Availability 返回 now 时刻测验是否处于开放窗口内
func (q *Quiz) Availability(now time.Time) (opened, closed bool) {
	opened = q.StartDatetime == nil || !now.Before(*q.StartDatetime)
	closed = q.EndDatetime != nil && now.After(*q.EndDatetime)
	return opened, closed
}

// ResultsPublished reports whether item-level review is visible at now.
func (q *Quiz) ResultsPublished(now time.Time) bool {
	return q.ResultsPublishDatetime == nil || !now.Before(*q.ResultsPublishDatetime)
}

// MaxScore 当前所有题目分值之和
func (q *Quiz) MaxScore() float64 {
	total := 0.0
	for _, qs := range q.Questions {
		total += qs.Points
	}
	return total
}
