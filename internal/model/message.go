package model

import "time"

type ChatMessage struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	SessionID string    `gorm:"size:64;not null;index" json:"-"`
	Position  int       `gorm:"not null" json:"-"`
	Role      string    `gorm:"size:16;not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `json:"-"`
}

// HistoryMessage is the wire form of one chat turn.
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// HistorySnapshot is the whole chat history of a session. It is the unit that
// gets cached, published to the persist queue and written back to the database.
type HistorySnapshot struct {
	SessionID string           `json:"session_id"`
	Title     string           `json:"title"`
	Timestamp time.Time        `json:"timestamp"`
	Messages  []HistoryMessage `json:"messages"`
}
