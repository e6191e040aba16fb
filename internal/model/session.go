package model

import "time"

const (
	SessionInProgress = "in_progress"
	SessionCompleted  = "completed"
)

// QuizSession 服务端记录的限时会话起点，刷新或换设备后仍从同一截止时间继续
type QuizSession struct {
	UUIDBase
	QuizID    string     `gorm:"type:varchar(36);not null;uniqueIndex:idx_quiz_sessions_quiz_user" json:"quizId"`
	UserID    uint       `gorm:"not null;uniqueIndex:idx_quiz_sessions_quiz_user;index" json:"userId"`
	StartedAt time.Time  `json:"startedAt"`
	Deadline  *time.Time `gorm:"index" json:"deadline,omitempty"`
	Status    string     `gorm:"size:20;default:'in_progress';index" json:"status"`
}

func (QuizSession) TableName() string {
	return "quiz_sessions"
}

// Remaining 剩余时间，不会为负
func (s *QuizSession) Remaining(now time.Time) time.Duration {
	if s.Deadline == nil {
		return 0
	}
	d := s.Deadline.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
