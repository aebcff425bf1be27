package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Event colors accepted by the calendar.
var EventColors = []string{"pink", "red", "orange", "yellow", "green", "blue", "purple", "gray"}

// Event is a stored calendar row. A row with RRule set is a series head; a row
// with RecurringEventID set is an override of one occurrence of that head and
// never carries its own rule.
type Event struct {
	ID                uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID            uuid.UUID      `gorm:"type:uuid;index;not null" json:"user_id"`
	Title             string         `gorm:"column:title;not null" json:"title"`
	StartTime         time.Time      `gorm:"column:start_time;index;not null" json:"start_time"`
	EndTime           *time.Time     `gorm:"column:end_time" json:"end_time,omitempty"`
	Color             *string        `gorm:"column:color" json:"color,omitempty"`
	AllDay            bool           `gorm:"column:all_day;not null;default:false" json:"all_day"`
	Description       *string        `gorm:"column:description;type:text" json:"description,omitempty"`
	RRule             *string        `gorm:"column:rrule" json:"rrule,omitempty"`
	ExceptionDates    pq.StringArray `gorm:"column:exception_dates;type:text[]" json:"exception_dates,omitempty"`
	RecurringEventID  *uuid.UUID     `gorm:"column:recurring_event_id;type:uuid;index" json:"recurring_event_id,omitempty"`
	OriginalStartTime *time.Time     `gorm:"column:original_start_time" json:"original_start_time,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Event) TableName() string {
	return "events"
}

func (e *Event) IsSeriesHead() bool {
	return e.RRule != nil && *e.RRule != ""
}

func (e *Event) IsOverride() bool {
	return e.RecurringEventID != nil && *e.RecurringEventID != uuid.Nil
}

// Duration is the span between start and end, zero when the event has no end.
func (e *Event) Duration() time.Duration {
	if e.EndTime == nil {
		return 0
	}
	return e.EndTime.Sub(e.StartTime)
}

func (e *Event) HasException(date string) bool {
	for _, d := range e.ExceptionDates {
		if d == date {
			return true
		}
	}
	return false
}

// Occurrence is one displayable calendar instance. Non-recurring rows map to a
// single occurrence with the row's own id; generated instances carry the
// synthesized "<seriesID>_<YYYY-MM-DD>" id and point back at their series head.
type Occurrence struct {
	ID               string         `json:"id"`
	UserID           uuid.UUID      `json:"user_id"`
	Title            string         `json:"title"`
	StartTime        time.Time      `json:"start_time"`
	EndTime          *time.Time     `json:"end_time,omitempty"`
	Color            *string        `json:"color,omitempty"`
	AllDay           bool           `json:"all_day"`
	Description      *string        `json:"description,omitempty"`
	RRule            *string        `json:"rrule,omitempty"`
	ExceptionDates   pq.StringArray `json:"exception_dates,omitempty"`
	RecurringEventID *uuid.UUID     `json:"recurring_event_id,omitempty"`
}

// OccurrenceFromEvent copies an event unchanged into occurrence form.
func OccurrenceFromEvent(ev Event) Occurrence {
	return Occurrence{
		ID:               ev.ID.String(),
		UserID:           ev.UserID,
		Title:            ev.Title,
		StartTime:        ev.StartTime,
		EndTime:          ev.EndTime,
		Color:            ev.Color,
		AllDay:           ev.AllDay,
		Description:      ev.Description,
		RRule:            ev.RRule,
		ExceptionDates:   ev.ExceptionDates,
		RecurringEventID: ev.RecurringEventID,
	}
}
