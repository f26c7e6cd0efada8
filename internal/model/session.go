package model

import "time"

// ChatSession is the persisted header of one session's chat history.
type ChatSession struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	Title     string    `gorm:"size:256;not null" json:"title"`
	Timestamp time.Time `gorm:"index" json:"timestamp"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChatSessionSummary is a list row: the session header plus its message count.
type ChatSessionSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Timestamp    time.Time `json:"timestamp"`
	MessageCount int64     `json:"message_count"`
}
