package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/nurture-app/nurture-backend/internal/errordata"
	"github.com/nurture-app/nurture-backend/internal/logger"
	"github.com/nurture-app/nurture-backend/internal/notifydata"
	"github.com/nurture-app/nurture-backend/internal/recurrence"
	"github.com/nurture-app/nurture-backend/internal/repos"
	"github.com/nurture-app/nurture-backend/internal/socket"
	"github.com/nurture-app/nurture-backend/internal/types"
)

type Scope string

const (
	ScopeThis          Scope = "this"
	ScopeThisAndFuture Scope = "thisAndFuture"
	ScopeAll           Scope = "all"
)

func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeThis, ScopeThisAndFuture, ScopeAll:
		return Scope(s), nil
	}
	return "", fmt.Errorf("%w: scope must be one of this, thisAndFuture, all", ErrValidation)
}

const maxTitleLength = 200

// EventInput carries the user-editable fields of an event.
type EventInput struct {
	Title       string     `json:"title"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     *time.Time `json:"end_time,omitempty"`
	Color       *string    `json:"color,omitempty"`
	AllDay      bool       `json:"all_day"`
	Description *string    `json:"description,omitempty"`
	RRule       *string    `json:"rrule,omitempty"`
}

func (in *EventInput) hasRule() bool {
	return in.RRule != nil && strings.TrimSpace(*in.RRule) != ""
}

// OccurrenceEdit targets one generated occurrence of a series. OccurrenceStart
// is the occurrence's generated start; Event.StartTime is where the user moved it.
type OccurrenceEdit struct {
	SeriesID        uuid.UUID
	OccurrenceStart time.Time
	Scope           Scope
	Event           EventInput
}

type OccurrenceDelete struct {
	SeriesID        uuid.UUID
	OccurrenceStart time.Time
	Scope           Scope
}

// EditResult lists the rows an edit wrote. Override is set for "this";
// NewSeries for "thisAndFuture".
type EditResult struct {
	Series    *types.Event `json:"series"`
	Override  *types.Event `json:"override,omitempty"`
	NewSeries *types.Event `json:"new_series,omitempty"`
}

type CalendarService interface {
	ListOccurrences(ctx context.Context, userID uuid.UUID, month time.Time) ([]types.Occurrence, error)
	ListOccurrencesInWindow(ctx context.Context, userID uuid.UUID, w recurrence.Window) ([]types.Occurrence, error)
	ListEvents(ctx context.Context, userID uuid.UUID) ([]types.Event, error)
	GetEvent(ctx context.Context, userID, eventID uuid.UUID) (*types.Event, error)

	CreateEvent(ctx context.Context, userID uuid.UUID, in EventInput) (*types.Event, error)
	UpdateEvent(ctx context.Context, userID, eventID uuid.UUID, in EventInput) (*types.Event, error)
	DeleteEvent(ctx context.Context, userID, eventID uuid.UUID) error

	EditOccurrence(ctx context.Context, tx *gorm.DB, userID uuid.UUID, edit OccurrenceEdit) (*EditResult, error)
	DeleteOccurrence(ctx context.Context, tx *gorm.DB, userID uuid.UUID, del OccurrenceDelete) error

	Location() *time.Location
}

type calendarService struct {
	log       *logger.Logger
	txRunner  repos.TxRunner
	eventRepo repos.EventRepo
	expander  *recurrence.Expander
	loc       *time.Location
}

func NewCalendarService(log *logger.Logger, txRunner repos.TxRunner, eventRepo repos.EventRepo, loc *time.Location) CalendarService {
	if loc == nil {
		loc = time.UTC
	}
	serviceLog := log.With("service", "CalendarService")
	return &calendarService{
		log:       serviceLog,
		txRunner:  txRunner,
		eventRepo: eventRepo,
		expander:  recurrence.NewExpander(loc, log),
		loc:       loc,
	}
}

func (cs *calendarService) Location() *time.Location {
	return cs.loc
}

// ----------------------------------------------------------------
// READ
// ----------------------------------------------------------------

func (cs *calendarService) ListOccurrences(ctx context.Context, userID uuid.UUID, month time.Time) ([]types.Occurrence, error) {
	return cs.ListOccurrencesInWindow(ctx, userID, recurrence.MonthWindow(month, cs.loc))
}

func (cs *calendarService) ListOccurrencesInWindow(ctx context.Context, userID uuid.UUID, w recurrence.Window) ([]types.Occurrence, error) {
	events, err := cs.eventRepo.GetInWindow(ctx, nil, userID, w.Start, w.End)
	if err != nil {
		errordata.SetMessage(ctx, "Failed to load events")
		return nil, fmt.Errorf("failed to load events: %w", err)
	}
	occurrences := cs.expander.Expand(events, w)
	// Rows fetched for overlap can still fall outside the window.
	out := occurrences[:0]
	for _, occ := range occurrences {
		end := occ.StartTime
		if occ.EndTime != nil {
			end = *occ.EndTime
		}
		if !occ.StartTime.After(w.End) && !end.Before(w.Start) {
			out = append(out, occ)
		}
	}
	return out, nil
}

func (cs *calendarService) ListEvents(ctx context.Context, userID uuid.UUID) ([]types.Event, error) {
	events, err := cs.eventRepo.GetByUserID(ctx, nil, userID)
	if err != nil {
		errordata.SetMessage(ctx, "Failed to load events")
		return nil, fmt.Errorf("failed to load events: %w", err)
	}
	return events, nil
}

func (cs *calendarService) GetEvent(ctx context.Context, userID, eventID uuid.UUID) (*types.Event, error) {
	ev, err := cs.eventRepo.GetByID(ctx, nil, userID, eventID)
	if err != nil {
		errordata.SetMessage(ctx, "Failed to load event")
		return nil, fmt.Errorf("failed to load event: %w", err)
	}
	if ev == nil {
		errordata.SetMessage(ctx, "Event not found")
		return nil, ErrNotFound
	}
	return ev, nil
}

// ----------------------------------------------------------------
// SINGLE-ROW WRITES
// ----------------------------------------------------------------

func (cs *calendarService) CreateEvent(ctx context.Context, userID uuid.UUID, in EventInput) (*types.Event, error) {
	if err := validateEventInput(&in); err != nil {
		errordata.SetMessage(ctx, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	ev := &types.Event{UserID: userID}
	applyInput(ev, in)
	created, err := cs.eventRepo.Create(ctx, nil, ev)
	if err != nil {
		errordata.SetMessage(ctx, "Failed to create event")
		return nil, fmt.Errorf("failed to create event: %w", err)
	}
	cs.log.Info("Event created", "eventID", created.ID, "userID", userID, "recurring", created.IsSeriesHead())
	cs.notifyChanged(ctx, userID, created.ID)
	return created, nil
}

// UpdateEvent is the plain edit path for single events and overrides. Series
// heads must go through EditOccurrence so the scope is explicit.
func (cs *calendarService) UpdateEvent(ctx context.Context, userID, eventID uuid.UUID, in EventInput) (*types.Event, error) {
	if err := validateEventInput(&in); err != nil {
		errordata.SetMessage(ctx, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	ev, err := cs.GetEvent(ctx, userID, eventID)
	if err != nil {
		return nil, err
	}
	if ev.IsSeriesHead() {
		errordata.SetMessage(ctx, "Recurring events must be edited with a scope")
		return nil, fmt.Errorf("%w: series heads require a scoped edit", ErrValidation)
	}
	if ev.IsOverride() && in.hasRule() {
		errordata.SetMessage(ctx, "A single changed occurrence cannot repeat")
		return nil, fmt.Errorf("%w: overrides cannot carry a recurrence rule", ErrValidation)
	}
	applyInput(ev, in)
	saved, err := cs.eventRepo.Save(ctx, nil, ev)
	if err != nil {
		errordata.SetMessage(ctx, "Failed to update event")
		return nil, fmt.Errorf("failed to update event: %w", err)
	}
	cs.notifyChanged(ctx, userID, saved.ID)
	return saved, nil
}

// DeleteEvent hard-deletes a row. Deleting a series head removes its overrides.
func (cs *calendarService) DeleteEvent(ctx context.Context, userID, eventID uuid.UUID) error {
	ev, err := cs.GetEvent(ctx, userID, eventID)
	if err != nil {
		return err
	}
	err = cs.txRunner.Transaction(ctx, func(tx *gorm.DB) error {
		if ev.IsSeriesHead() {
			if _, err := cs.eventRepo.DeleteOverrides(ctx, tx, ev.ID); err != nil {
				return err
			}
		}
		return cs.eventRepo.DeleteByID(ctx, tx, ev.ID)
	})
	if err != nil {
		errordata.SetMessage(ctx, "Failed to delete event")
		return fmt.Errorf("failed to delete event: %w", err)
	}
	cs.notifyChanged(ctx, userID, ev.ID)
	return nil
}

// ----------------------------------------------------------------
// SCOPED EDITS
// ----------------------------------------------------------------

func (cs *calendarService) EditOccurrence(ctx context.Context, tx *gorm.DB, userID uuid.UUID, edit OccurrenceEdit) (*EditResult, error) {
	if tx == nil {
		var out *EditResult
		err := cs.txRunner.Transaction(ctx, func(innerTx *gorm.DB) error {
			res, eErr := cs.editOccurrenceLogic(ctx, innerTx, userID, edit)
			if eErr != nil {
				return eErr
			}
			out = res
			return nil
		})
		if err != nil {
			errordata.SetMessage(ctx, "Failed to update recurring event")
			return nil, err
		}
		cs.notifyChanged(ctx, userID, edit.SeriesID)
		return out, nil
	}
	return cs.editOccurrenceLogic(ctx, tx, userID, edit)
}

func (cs *calendarService) editOccurrenceLogic(ctx context.Context, tx *gorm.DB, userID uuid.UUID, edit OccurrenceEdit) (*EditResult, error) {
	if _, err := ParseScope(string(edit.Scope)); err != nil {
		errordata.SetMessage(ctx, "Invalid edit scope")
		return nil, err
	}
	if err := validateEventInput(&edit.Event); err != nil {
		errordata.SetMessage(ctx, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	head, err := cs.loadOccurrenceSeries(ctx, tx, userID, edit.SeriesID, edit.OccurrenceStart)
	if err != nil {
		return nil, err
	}

	scope := edit.Scope
	if scope == ScopeThisAndFuture && cs.isFirstOccurrence(head, edit.OccurrenceStart) {
		// Splitting at the first occurrence would leave an empty series.
		scope = ScopeAll
	}
	cs.log.Info("Editing recurring event", "seriesID", head.ID, "scope", scope, "occurrence", edit.OccurrenceStart)

	switch scope {
	case ScopeThis:
		return cs.editThis(ctx, tx, head, edit)
	case ScopeThisAndFuture:
		return cs.editThisAndFuture(ctx, tx, head, edit)
	default:
		return cs.editAll(ctx, tx, head, edit)
	}
}

// editThis records the occurrence date as an exception on the head and writes
// a standalone override for it, reusing an existing override for that date.
func (cs *calendarService) editThis(ctx context.Context, tx *gorm.DB, head *types.Event, edit OccurrenceEdit) (*EditResult, error) {
	date := recurrence.DateKey(edit.OccurrenceStart, cs.loc)
	if !head.HasException(date) {
		head.ExceptionDates = append(head.ExceptionDates, date)
		sort.Strings(head.ExceptionDates)
		if _, err := cs.eventRepo.Save(ctx, tx, head); err != nil {
			return nil, cs.storeErr(ctx, "Failed to update recurring event", err)
		}
	}

	day := recurrence.DayWindow(edit.OccurrenceStart, cs.loc)
	existing, err := cs.eventRepo.GetOverrideInRange(ctx, tx, head.ID, day.Start, day.End)
	if err != nil {
		return nil, cs.storeErr(ctx, "Failed to load changed occurrence", err)
	}

	headID := head.ID
	originalStart := edit.OccurrenceStart
	override := existing
	if override == nil {
		override = &types.Event{UserID: head.UserID}
	}
	in := edit.Event
	in.RRule = nil
	applyInput(override, in)
	override.ExceptionDates = nil
	override.RecurringEventID = &headID
	override.OriginalStartTime = &originalStart

	if existing != nil {
		override, err = cs.eventRepo.Save(ctx, tx, override)
	} else {
		override, err = cs.eventRepo.Create(ctx, tx, override)
	}
	if err != nil {
		return nil, cs.storeErr(ctx, "Failed to save changed occurrence", err)
	}
	return &EditResult{Series: head, Override: override}, nil
}

// editThisAndFuture ends the head the day before the occurrence and starts a
// new series at the edited occurrence. Exceptions and overrides from that day
// on follow the new series.
func (cs *calendarService) editThisAndFuture(ctx context.Context, tx *gorm.DB, head *types.Event, edit OccurrenceEdit) (*EditResult, error) {
	date := recurrence.DateKey(edit.OccurrenceStart, cs.loc)
	until, err := recurrence.UntilBefore(date, cs.loc)
	if err != nil {
		errordata.SetMessage(ctx, "Invalid occurrence date")
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	truncated, err := recurrence.WithUntil(*head.RRule, until)
	if err != nil {
		errordata.SetMessage(ctx, "Failed to shorten recurring event")
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	var newRule string
	if edit.Event.hasRule() {
		newRule = strings.TrimSpace(*edit.Event.RRule)
	} else {
		newRule, err = recurrence.Continuation(*head.RRule, head.StartTime, until)
		if err != nil {
			errordata.SetMessage(ctx, "Failed to continue recurring event")
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}
	kept, moved := splitExceptions(head.ExceptionDates, date)

	next := &types.Event{UserID: head.UserID}
	in := edit.Event
	in.RRule = &newRule
	applyInput(next, in)
	next.ExceptionDates = moved
	next, err = cs.eventRepo.Create(ctx, tx, next)
	if err != nil {
		return nil, cs.storeErr(ctx, "Failed to create new recurring event", err)
	}

	dayStart := recurrence.DayWindow(edit.OccurrenceStart, cs.loc).Start
	if _, err := cs.eventRepo.ReassignOverrides(ctx, tx, head.ID, next.ID, dayStart); err != nil {
		return nil, cs.storeErr(ctx, "Failed to move changed occurrences", err)
	}

	head.RRule = &truncated
	head.ExceptionDates = kept
	if _, err := cs.eventRepo.Save(ctx, tx, head); err != nil {
		return nil, cs.storeErr(ctx, "Failed to shorten recurring event", err)
	}
	return &EditResult{Series: head, NewSeries: next}, nil
}

// editAll rewrites the head in place. The head's start moves by the same delta
// the user applied to the occurrence, and every override is dropped.
func (cs *calendarService) editAll(ctx context.Context, tx *gorm.DB, head *types.Event, edit OccurrenceEdit) (*EditResult, error) {
	overrides, err := cs.eventRepo.GetOverrides(ctx, tx, head.ID)
	if err != nil {
		return nil, cs.storeErr(ctx, "Failed to load changed occurrences", err)
	}

	in := edit.Event
	delta := in.StartTime.Sub(edit.OccurrenceStart)
	newStart := head.StartTime.Add(delta)
	if in.EndTime != nil {
		end := newStart.Add(in.EndTime.Sub(in.StartTime))
		in.EndTime = &end
	}
	in.StartTime = newStart
	if !in.hasRule() {
		in.RRule = head.RRule
	}
	applyInput(head, in)

	// Exception dates that only existed to make room for an override go with it.
	overridden := make(map[string]bool, len(overrides))
	for _, o := range overrides {
		if o.OriginalStartTime != nil {
			overridden[recurrence.DateKey(*o.OriginalStartTime, cs.loc)] = true
		}
	}
	var exceptions pq.StringArray
	for _, d := range head.ExceptionDates {
		if !overridden[d] {
			exceptions = append(exceptions, d)
		}
	}
	head.ExceptionDates = exceptions

	if _, err := cs.eventRepo.Save(ctx, tx, head); err != nil {
		return nil, cs.storeErr(ctx, "Failed to update recurring event", err)
	}
	if _, err := cs.eventRepo.DeleteOverrides(ctx, tx, head.ID); err != nil {
		return nil, cs.storeErr(ctx, "Failed to remove changed occurrences", err)
	}
	return &EditResult{Series: head}, nil
}

// ----------------------------------------------------------------
// SCOPED DELETES
// ----------------------------------------------------------------

func (cs *calendarService) DeleteOccurrence(ctx context.Context, tx *gorm.DB, userID uuid.UUID, del OccurrenceDelete) error {
	if tx == nil {
		err := cs.txRunner.Transaction(ctx, func(innerTx *gorm.DB) error {
			return cs.deleteOccurrenceLogic(ctx, innerTx, userID, del)
		})
		if err != nil {
			errordata.SetMessage(ctx, "Failed to delete recurring event")
			return err
		}
		cs.notifyChanged(ctx, userID, del.SeriesID)
		return nil
	}
	return cs.deleteOccurrenceLogic(ctx, tx, userID, del)
}

func (cs *calendarService) deleteOccurrenceLogic(ctx context.Context, tx *gorm.DB, userID uuid.UUID, del OccurrenceDelete) error {
	if _, err := ParseScope(string(del.Scope)); err != nil {
		errordata.SetMessage(ctx, "Invalid delete scope")
		return err
	}
	head, err := cs.loadOccurrenceSeries(ctx, tx, userID, del.SeriesID, del.OccurrenceStart)
	if err != nil {
		return err
	}
	scope := del.Scope
	if scope == ScopeThisAndFuture && cs.isFirstOccurrence(head, del.OccurrenceStart) {
		scope = ScopeAll
	}
	cs.log.Info("Deleting recurring event", "seriesID", head.ID, "scope", scope, "occurrence", del.OccurrenceStart)

	date := recurrence.DateKey(del.OccurrenceStart, cs.loc)
	day := recurrence.DayWindow(del.OccurrenceStart, cs.loc)

	switch scope {
	case ScopeThis:
		if !head.HasException(date) {
			head.ExceptionDates = append(head.ExceptionDates, date)
			sort.Strings(head.ExceptionDates)
			if _, err := cs.eventRepo.Save(ctx, tx, head); err != nil {
				return cs.storeErr(ctx, "Failed to update recurring event", err)
			}
		}
		existing, err := cs.eventRepo.GetOverrideInRange(ctx, tx, head.ID, day.Start, day.End)
		if err != nil {
			return cs.storeErr(ctx, "Failed to load changed occurrence", err)
		}
		if existing != nil {
			if err := cs.eventRepo.DeleteByID(ctx, tx, existing.ID); err != nil {
				return cs.storeErr(ctx, "Failed to delete changed occurrence", err)
			}
		}
		return nil

	case ScopeThisAndFuture:
		until, err := recurrence.UntilBefore(date, cs.loc)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		truncated, err := recurrence.WithUntil(*head.RRule, until)
		if err != nil {
			errordata.SetMessage(ctx, "Failed to shorten recurring event")
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		kept, _ := splitExceptions(head.ExceptionDates, date)
		head.RRule = &truncated
		head.ExceptionDates = kept
		if _, err := cs.eventRepo.Save(ctx, tx, head); err != nil {
			return cs.storeErr(ctx, "Failed to shorten recurring event", err)
		}
		if _, err := cs.eventRepo.DeleteOverridesSince(ctx, tx, head.ID, day.Start); err != nil {
			return cs.storeErr(ctx, "Failed to delete changed occurrences", err)
		}
		return nil

	default:
		if _, err := cs.eventRepo.DeleteOverrides(ctx, tx, head.ID); err != nil {
			return cs.storeErr(ctx, "Failed to delete changed occurrences", err)
		}
		if err := cs.eventRepo.DeleteByID(ctx, tx, head.ID); err != nil {
			return cs.storeErr(ctx, "Failed to delete recurring event", err)
		}
		return nil
	}
}

// ----------------------------------------------------------------
// HELPERS
// ----------------------------------------------------------------

// loadOccurrenceSeries loads the series head and checks that occurrenceStart
// is one of its generated occurrences.
func (cs *calendarService) loadOccurrenceSeries(ctx context.Context, tx *gorm.DB, userID, seriesID uuid.UUID, occurrenceStart time.Time) (*types.Event, error) {
	head, err := cs.eventRepo.GetByID(ctx, tx, userID, seriesID)
	if err != nil {
		return nil, cs.storeErr(ctx, "Failed to load recurring event", err)
	}
	if head == nil {
		errordata.SetMessage(ctx, "Event not found")
		return nil, ErrNotFound
	}
	if !head.IsSeriesHead() {
		errordata.SetMessage(ctx, "Only recurring events can be edited by occurrence")
		return nil, ErrNotSeriesHead
	}
	if occurrenceStart.IsZero() {
		errordata.SetMessage(ctx, "Occurrence start is required")
		return nil, fmt.Errorf("%w: occurrence start is required", ErrValidation)
	}
	ok, err := recurrence.Includes(*head.RRule, head.StartTime.In(cs.loc), occurrenceStart)
	if err != nil {
		errordata.SetMessage(ctx, "Recurring event has an invalid rule")
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if !ok {
		errordata.SetMessage(ctx, "Occurrence does not belong to this event")
		return nil, fmt.Errorf("%w: %s is not an occurrence of %s", ErrValidation, occurrenceStart.Format(time.RFC3339), head.ID)
	}
	return head, nil
}

func (cs *calendarService) isFirstOccurrence(head *types.Event, occurrenceStart time.Time) bool {
	return recurrence.DateKey(occurrenceStart, cs.loc) == recurrence.DateKey(head.StartTime, cs.loc)
}

func (cs *calendarService) storeErr(ctx context.Context, msg string, err error) error {
	cs.log.Warn(msg, "error", err)
	errordata.SetMessage(ctx, msg)
	return fmt.Errorf("%s: %w", strings.ToLower(msg), err)
}

func (cs *calendarService) notifyChanged(ctx context.Context, userID, eventID uuid.UUID) {
	notifydata.Append(ctx, notifydata.Notification{
		UserID: userID,
		Event:  socket.EventCalendarUpdated,
		Data:   map[string]string{"event_id": eventID.String()},
	})
}

// splitExceptions partitions ISO dates into those before date and those on or after it.
func splitExceptions(dates pq.StringArray, date string) (before, onOrAfter pq.StringArray) {
	for _, d := range dates {
		if d < date {
			before = append(before, d)
		} else {
			onOrAfter = append(onOrAfter, d)
		}
	}
	return before, onOrAfter
}

func applyInput(ev *types.Event, in EventInput) {
	ev.Title = strings.TrimSpace(in.Title)
	ev.StartTime = in.StartTime
	ev.EndTime = in.EndTime
	ev.Color = in.Color
	ev.AllDay = in.AllDay
	ev.Description = in.Description
	if in.hasRule() {
		rule := strings.TrimSpace(*in.RRule)
		ev.RRule = &rule
	} else {
		ev.RRule = nil
	}
}

func validateEventInput(in *EventInput) error {
	colors := make([]interface{}, len(types.EventColors))
	for i, c := range types.EventColors {
		colors[i] = c
	}
	return validation.ValidateStruct(in,
		validation.Field(&in.Title, validation.Required, validation.Length(1, maxTitleLength)),
		validation.Field(&in.StartTime, validation.Required),
		validation.Field(&in.EndTime, validation.By(func(value interface{}) error {
			end, _ := value.(*time.Time)
			if end != nil && end.Before(in.StartTime) {
				return errors.New("must not be before start_time")
			}
			return nil
		})),
		validation.Field(&in.Color, validation.In(colors...)),
		validation.Field(&in.Description, validation.Length(0, 2000)),
		validation.Field(&in.RRule, validation.By(func(value interface{}) error {
			rule, _ := value.(*string)
			if rule == nil || strings.TrimSpace(*rule) == "" {
				return nil
			}
			return recurrence.Validate(*rule)
		})),
	)
}
