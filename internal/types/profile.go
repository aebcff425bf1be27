package types

import (
	"time"

	"github.com/google/uuid"
)

var Genders = []string{"boy", "girl", "unknown"}

type PregnancyProfile struct {
	ID               uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID           uuid.UUID  `gorm:"type:uuid;uniqueIndex;not null" json:"user_id"`
	Nickname         string     `gorm:"column:nickname" json:"nickname"`
	DueDate          *time.Time `gorm:"column:due_date;type:date" json:"due_date,omitempty"`
	CurrentWeek      int        `gorm:"column:current_week" json:"current_week"`
	IsHighRisk       bool       `gorm:"column:is_high_risk;not null;default:false" json:"is_high_risk"`
	Gender           string     `gorm:"column:gender" json:"gender"`
	NotifyEmail      *string    `gorm:"column:notify_email" json:"notify_email,omitempty"`
	NotifyPhone      *string    `gorm:"column:notify_phone" json:"notify_phone,omitempty"`
	RemindersEnabled bool       `gorm:"column:reminders_enabled;not null;default:false" json:"reminders_enabled"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (PregnancyProfile) TableName() string {
	return "pregnancy_profiles"
}

// Snapshot returns the denormalized user info stored with conversation turns.
func (p *PregnancyProfile) Snapshot() UserInfo {
	if p == nil {
		return UserInfo{}
	}
	info := UserInfo{
		Nickname:    p.Nickname,
		CurrentWeek: p.CurrentWeek,
		IsHighRisk:  p.IsHighRisk,
		Gender:      p.Gender,
	}
	if p.DueDate != nil {
		info.DueDate = p.DueDate.Format("2006-01-02")
	}
	return info
}
