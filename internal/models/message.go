package models

import (
	"time"
)

// Message is a persisted chat message. Author fields are a snapshot taken at
// send time, not a live reference to the author's profile.
type Message struct {
	Seq          uint64    `json:"-" gorm:"primaryKey;autoIncrement"`
	ID           string    `json:"id" gorm:"uniqueIndex;not null"`
	AuthorID     string    `json:"participantId" gorm:"index;not null"`
	AuthorName   string    `json:"displayName"`
	AuthorAvatar string    `json:"avatarRef,omitempty"`
	Body         string    `json:"body" gorm:"type:text;not null"`
	CreatedAt    time.Time `json:"timestamp" gorm:"index;not null"`
}

// TableName overrides the table name
func (Message) TableName() string {
	return "messages"
}

// Expired reports whether the message is older than maxAge at now.
func (m *Message) Expired(now time.Time, maxAge time.Duration) bool {
	return maxAge > 0 && now.Sub(m.CreatedAt) > maxAge
}
