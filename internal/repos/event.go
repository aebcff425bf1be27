package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nurture-app/nurture-backend/internal/logger"
	"github.com/nurture-app/nurture-backend/internal/types"
)

type EventRepo interface {
	// CREATE
	Create(ctx context.Context, tx *gorm.DB, ev *types.Event) (*types.Event, error)

	// READ
	GetByID(ctx context.Context, tx *gorm.DB, userID, eventID uuid.UUID) (*types.Event, error)
	GetByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]types.Event, error)
	GetInWindow(ctx context.Context, tx *gorm.DB, userID uuid.UUID, from, to time.Time) ([]types.Event, error)
	GetOverrides(ctx context.Context, tx *gorm.DB, headID uuid.UUID) ([]types.Event, error)
	GetOverrideInRange(ctx context.Context, tx *gorm.DB, headID uuid.UUID, from, to time.Time) (*types.Event, error)

	// UPDATE
	Save(ctx context.Context, tx *gorm.DB, ev *types.Event) (*types.Event, error)
	ReassignOverrides(ctx context.Context, tx *gorm.DB, fromHeadID, toHeadID uuid.UUID, since time.Time) (int64, error)

	// DELETE
	DeleteByID(ctx context.Context, tx *gorm.DB, eventID uuid.UUID) error
	DeleteOverrides(ctx context.Context, tx *gorm.DB, headID uuid.UUID) (int64, error)
	DeleteOverridesSince(ctx context.Context, tx *gorm.DB, headID uuid.UUID, since time.Time) (int64, error)
}

type eventRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEventRepo(db *gorm.DB, baseLog *logger.Logger) EventRepo {
	return &eventRepo{
		db:  db,
		log: baseLog.With("repo", "EventRepo"),
	}
}

func (er *eventRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return er.db
	}
	return tx
}

// ----------------------------------------------------------------
// CREATE
// ----------------------------------------------------------------

func (er *eventRepo) Create(ctx context.Context, tx *gorm.DB, ev *types.Event) (*types.Event, error) {
	if err := er.conn(tx).WithContext(ctx).Create(ev).Error; err != nil {
		er.log.Error("Failed to create event", "error", err)
		return nil, err
	}
	er.log.Debug("Event created", "eventID", ev.ID, "userID", ev.UserID)
	return ev, nil
}

// ----------------------------------------------------------------
// READ
// ----------------------------------------------------------------

// GetByID returns nil, nil when the event does not exist or belongs to another user.
func (er *eventRepo) GetByID(ctx context.Context, tx *gorm.DB, userID, eventID uuid.UUID) (*types.Event, error) {
	var ev types.Event
	res := er.conn(tx).WithContext(ctx).
		Where("id = ? AND user_id = ?", eventID, userID).
		Limit(1).
		Find(&ev)
	if res.Error != nil {
		er.log.Error("Failed to get event by ID", "eventID", eventID, "error", res.Error)
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &ev, nil
}

func (er *eventRepo) GetByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]types.Event, error) {
	var events []types.Event
	if err := er.conn(tx).WithContext(ctx).
		Where("user_id = ?", userID).
		Order("start_time ASC").
		Find(&events).Error; err != nil {
		er.log.Error("Failed to get events by userID", "userID", userID, "error", err)
		return nil, err
	}
	return events, nil
}

// GetInWindow returns every row that can contribute an occurrence to [from, to]:
// single rows and overrides overlapping the window, plus every series head that
// starts on or before its end.
func (er *eventRepo) GetInWindow(ctx context.Context, tx *gorm.DB, userID uuid.UUID, from, to time.Time) ([]types.Event, error) {
	var events []types.Event
	if err := er.conn(tx).WithContext(ctx).
		Where("user_id = ?", userID).
		Where(
			er.db.Where("rrule IS NOT NULL AND rrule <> '' AND start_time <= ?", to).
				Or("start_time <= ? AND COALESCE(end_time, start_time) >= ?", to, from),
		).
		Order("start_time ASC").
		Find(&events).Error; err != nil {
		er.log.Error("Failed to get events in window", "userID", userID, "from", from, "to", to, "error", err)
		return nil, err
	}
	er.log.Debug("Fetched events in window", "userID", userID, "count", len(events))
	return events, nil
}

func (er *eventRepo) GetOverrides(ctx context.Context, tx *gorm.DB, headID uuid.UUID) ([]types.Event, error) {
	var events []types.Event
	if err := er.conn(tx).WithContext(ctx).
		Where("recurring_event_id = ?", headID).
		Order("start_time ASC").
		Find(&events).Error; err != nil {
		er.log.Error("Failed to get overrides", "headID", headID, "error", err)
		return nil, err
	}
	return events, nil
}

// GetOverrideInRange finds the override of headID whose replaced occurrence
// started inside [from, to]. Returns nil, nil when there is none.
func (er *eventRepo) GetOverrideInRange(ctx context.Context, tx *gorm.DB, headID uuid.UUID, from, to time.Time) (*types.Event, error) {
	var ev types.Event
	res := er.conn(tx).WithContext(ctx).
		Where("recurring_event_id = ?", headID).
		Where("original_start_time BETWEEN ? AND ?", from, to).
		Limit(1).
		Find(&ev)
	if res.Error != nil {
		er.log.Error("Failed to get override", "headID", headID, "error", res.Error)
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &ev, nil
}

// ----------------------------------------------------------------
// UPDATE
// ----------------------------------------------------------------

// Save writes every column of ev, including zero values.
func (er *eventRepo) Save(ctx context.Context, tx *gorm.DB, ev *types.Event) (*types.Event, error) {
	ev.UpdatedAt = time.Now()
	if err := er.conn(tx).WithContext(ctx).Save(ev).Error; err != nil {
		er.log.Error("Failed to save event", "eventID", ev.ID, "error", err)
		return nil, err
	}
	return ev, nil
}

// ReassignOverrides moves overrides of one head, replacing occurrences at or
// after since, onto another head.
func (er *eventRepo) ReassignOverrides(ctx context.Context, tx *gorm.DB, fromHeadID, toHeadID uuid.UUID, since time.Time) (int64, error) {
	res := er.conn(tx).WithContext(ctx).
		Model(&types.Event{}).
		Where("recurring_event_id = ? AND original_start_time >= ?", fromHeadID, since).
		Update("recurring_event_id", toHeadID)
	if res.Error != nil {
		er.log.Error("Failed to reassign overrides", "fromHeadID", fromHeadID, "toHeadID", toHeadID, "error", res.Error)
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// ----------------------------------------------------------------
// DELETE
// ----------------------------------------------------------------

func (er *eventRepo) DeleteByID(ctx context.Context, tx *gorm.DB, eventID uuid.UUID) error {
	if err := er.conn(tx).WithContext(ctx).
		Where("id = ?", eventID).
		Delete(&types.Event{}).Error; err != nil {
		er.log.Error("Failed to delete event", "eventID", eventID, "error", err)
		return err
	}
	er.log.Debug("Event deleted", "eventID", eventID)
	return nil
}

func (er *eventRepo) DeleteOverrides(ctx context.Context, tx *gorm.DB, headID uuid.UUID) (int64, error) {
	res := er.conn(tx).WithContext(ctx).
		Where("recurring_event_id = ?", headID).
		Delete(&types.Event{})
	if res.Error != nil {
		er.log.Error("Failed to delete overrides", "headID", headID, "error", res.Error)
		return 0, res.Error
	}
	er.log.Debug("Overrides deleted", "headID", headID, "count", res.RowsAffected)
	return res.RowsAffected, nil
}

func (er *eventRepo) DeleteOverridesSince(ctx context.Context, tx *gorm.DB, headID uuid.UUID, since time.Time) (int64, error) {
	res := er.conn(tx).WithContext(ctx).
		Where("recurring_event_id = ? AND original_start_time >= ?", headID, since).
		Delete(&types.Event{})
	if res.Error != nil {
		er.log.Error("Failed to delete overrides since", "headID", headID, "since", since, "error", res.Error)
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
