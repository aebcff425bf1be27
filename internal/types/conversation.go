package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ConversationTurn is one completed query/response exchange. Rows are written
// once after the upstream stream finishes and never updated.
type ConversationTurn struct {
	ID             uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ChatRoomID     uuid.UUID      `gorm:"type:uuid;index;not null" json:"chat_room_id"`
	UserID         uuid.UUID      `gorm:"type:uuid;index;not null" json:"user_id"`
	Query          string         `gorm:"column:query;type:text;not null" json:"query"`
	Response       string         `gorm:"column:response;type:text;not null" json:"response"`
	ConversationID string         `gorm:"column:conversation_id" json:"conversation_id"`
	UserInfo       datatypes.JSON `gorm:"column:user_info;type:jsonb" json:"user_info,omitempty"`
	CreatedAt      time.Time      `gorm:"not null;default:now()" json:"created_at"`
}

func (ConversationTurn) TableName() string {
	return "conversations"
}

// UserInfo is the profile snapshot stored alongside each turn and sent to the
// upstream assistant as inputs.
type UserInfo struct {
	Nickname    string `json:"nickname,omitempty"`
	DueDate     string `json:"due_date,omitempty"`
	CurrentWeek int    `json:"current_week,omitempty"`
	IsHighRisk  bool   `json:"is_high_risk"`
	Gender      string `json:"gender,omitempty"`
}

// Inputs flattens the snapshot into the upstream "inputs" map.
func (u UserInfo) Inputs() map[string]interface{} {
	in := map[string]interface{}{
		"is_high_risk": u.IsHighRisk,
	}
	if u.Nickname != "" {
		in["nickname"] = u.Nickname
	}
	if u.DueDate != "" {
		in["due_date"] = u.DueDate
	}
	if u.CurrentWeek > 0 {
		in["current_week"] = u.CurrentWeek
	}
	if u.Gender != "" {
		in["gender"] = u.Gender
	}
	return in
}
