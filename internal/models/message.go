package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Message is a persisted direct message between two users.
// Only IsRead changes after creation; it flips to true when the receiver
// fetches the conversation.
type Message struct {
	ID         string    `gorm:"primaryKey;type:uuid" json:"id"`
	SenderID   string    `gorm:"type:text;not null;index:idx_sender_created;index:idx_pair" json:"senderId"`
	ReceiverID string    `gorm:"type:text;not null;index:idx_pair" json:"receiverId"`
	Content    *string   `gorm:"type:varchar(2000)" json:"content,omitempty"`
	ImageURL   *string   `gorm:"type:text" json:"imageUrl,omitempty"`
	IsRead     bool      `gorm:"not null;default:false" json:"isRead"`
	CreatedAt  time.Time `gorm:"not null;index:idx_sender_created" json:"createdAt"`
}

// BeforeCreate assigns an ID when the caller did not.
func (m *Message) BeforeCreate(tx *gorm.DB) (err error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return
}
