package model

import "time"

// QuizDraft 服务端草稿镜像：客户端草稿的副本，用于换设备续答和超时代交
type QuizDraft struct {
	QuizID    string    `json:"quizId"`
	UserID    uint      `json:"userId"`
	Answers   AnswerSet `json:"answers"`
	StartedAt time.Time `json:"startedAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
