package types

import (
	"time"

	"github.com/google/uuid"
)

type ChatRoom struct {
	ID             uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID         uuid.UUID `gorm:"type:uuid;index;not null" json:"user_id"`
	Title          string    `gorm:"column:title" json:"title"`
	ConversationID *string   `gorm:"column:conversation_id" json:"conversation_id,omitempty"`
	CreatedAt      time.Time `gorm:"index;not null;default:now()" json:"created_at"`
}

func (ChatRoom) TableName() string {
	return "chat_rooms"
}

func (r *ChatRoom) HasConversation() bool {
	return r.ConversationID != nil && *r.ConversationID != ""
}
