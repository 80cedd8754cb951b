package models

import (
	"time"
)

// Role of a stored conversation turn
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Session groups the ordered messages of one diagnosis dialogue
type Session struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"index;not null" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	Messages  []Message `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// Message is one turn of a session. Model turns hold the provider reply
// serialized as JSON, user turns hold the prompt text.
type Message struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SessionID uint      `gorm:"index;not null" json:"session_id"`
	Role      Role      `gorm:"type:varchar(16);not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// MessageResponse is a message as returned by the history endpoint
type MessageResponse struct {
	ID        uint      `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionHistoryResponse lists the messages of one session
type SessionHistoryResponse struct {
	SessionID uint              `json:"session_id"`
	Messages  []MessageResponse `json:"messages"`
}
