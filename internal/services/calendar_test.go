package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nurture-app/nurture-backend/internal/errordata"
	"github.com/nurture-app/nurture-backend/internal/logger"
	"github.com/nurture-app/nurture-backend/internal/notifydata"
	"github.com/nurture-app/nurture-backend/internal/recurrence"
	"github.com/nurture-app/nurture-backend/internal/socket"
	"github.com/nurture-app/nurture-backend/internal/types"
)

func sp(s string) *string { return &s }

func tp(t time.Time) *time.Time { return &t }

type calendarFixture struct {
	svc    CalendarService
	repo   *memEventRepo
	tx     *fakeTx
	userID uuid.UUID
	head   types.Event
}

// newCalendarFixture seeds a weekly Sunday series starting 2024-03-03 10:00 UTC.
func newCalendarFixture(t *testing.T, rule string, exceptions ...string) *calendarFixture {
	t.Helper()
	userID := uuid.New()
	start := time.Date(2024, 3, 3, 10, 0, 0, 0, time.UTC)
	head := types.Event{
		ID:             uuid.New(),
		UserID:         userID,
		Title:          "Prenatal yoga",
		StartTime:      start,
		EndTime:        tp(start.Add(time.Hour)),
		Color:          sp("green"),
		RRule:          sp(rule),
		ExceptionDates: exceptions,
	}
	repo := newMemEventRepo(head)
	tx := &fakeTx{}
	return &calendarFixture{
		svc:    NewCalendarService(logger.NewNop(), tx, repo, time.UTC),
		repo:   repo,
		tx:     tx,
		userID: userID,
		head:   head,
	}
}

func at(day, hour, min int) time.Time {
	return time.Date(2024, 3, day, hour, min, 0, 0, time.UTC)
}

func editInput(title string, start time.Time, dur time.Duration) EventInput {
	return EventInput{Title: title, StartTime: start, EndTime: tp(start.Add(dur)), Color: sp("blue")}
}

func TestEditOccurrenceThis(t *testing.T) {
	f := newCalendarFixture(t, "FREQ=WEEKLY")
	ctx := notifydata.WithNotifyData(context.Background())

	edit := OccurrenceEdit{
		SeriesID:        f.head.ID,
		OccurrenceStart: at(10, 10, 0),
		Scope:           ScopeThis,
		Event:           editInput("Yoga with Mina", at(10, 12, 0), time.Hour),
	}
	res, err := f.svc.EditOccurrence(ctx, nil, f.userID, edit)
	if err != nil {
		t.Fatal(err)
	}
	if f.tx.calls != 1 {
		t.Errorf("transactions = %d, want 1", f.tx.calls)
	}

	head := f.repo.get(f.head.ID)
	if !head.HasException("2024-03-10") {
		t.Errorf("head exceptions = %v, want 2024-03-10", head.ExceptionDates)
	}
	overrides := f.repo.overridesOf(f.head.ID)
	if len(overrides) != 1 {
		t.Fatalf("overrides = %d, want 1", len(overrides))
	}
	o := overrides[0]
	if !o.StartTime.Equal(at(10, 12, 0)) || o.Title != "Yoga with Mina" || o.RRule != nil {
		t.Errorf("override = %+v", o)
	}
	if o.OriginalStartTime == nil || !o.OriginalStartTime.Equal(at(10, 10, 0)) {
		t.Errorf("override original start = %v", o.OriginalStartTime)
	}
	if res.Override == nil || res.Override.ID != o.ID {
		t.Errorf("result override = %+v", res.Override)
	}

	// Editing the same occurrence again updates the override in place.
	edit.Event.Title = "Yoga moved again"
	if _, err := f.svc.EditOccurrence(ctx, nil, f.userID, edit); err != nil {
		t.Fatal(err)
	}
	overrides = f.repo.overridesOf(f.head.ID)
	if len(overrides) != 1 || overrides[0].Title != "Yoga moved again" {
		t.Fatalf("after second edit overrides = %+v", overrides)
	}
	if n := len(f.repo.get(f.head.ID).ExceptionDates); n != 1 {
		t.Errorf("exception dates = %d, want 1 (no duplicates)", n)
	}

	nd := notifydata.GetNotifyData(ctx)
	if len(nd.Notifications) != 2 || nd.Notifications[0].Event != socket.EventCalendarUpdated {
		t.Errorf("notifications = %+v", nd.Notifications)
	}
}

func TestEditThisShowsOverrideInsteadOfOccurrence(t *testing.T) {
	f := newCalendarFixture(t, "FREQ=WEEKLY")
	ctx := context.Background()
	_, err := f.svc.EditOccurrence(ctx, nil, f.userID, OccurrenceEdit{
		SeriesID:        f.head.ID,
		OccurrenceStart: at(10, 10, 0),
		Scope:           ScopeThis,
		Event:           editInput("Yoga late", at(10, 18, 0), time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}

	occ, err := f.svc.ListOccurrences(ctx, f.userID, at(15, 0, 0))
	if err != nil {
		t.Fatal(err)
	}
	var onTenth []types.Occurrence
	for _, o := range occ {
		if o.StartTime.Format("2006-01-02") == "2024-03-10" {
			onTenth = append(onTenth, o)
		}
	}
	if len(onTenth) != 1 || onTenth[0].Title != "Yoga late" {
		t.Errorf("occurrences on 2024-03-10 = %+v, want only the override", onTenth)
	}
}

func TestEditOccurrenceAll(t *testing.T) {
	f := newCalendarFixture(t, "FREQ=WEEKLY", "2024-03-24")
	ctx := context.Background()

	if _, err := f.svc.EditOccurrence(ctx, nil, f.userID, OccurrenceEdit{
		SeriesID: f.head.ID, OccurrenceStart: at(10, 10, 0), Scope: ScopeThis,
		Event: editInput("One-off", at(10, 11, 0), time.Hour),
	}); err != nil {
		t.Fatal(err)
	}

	_, err := f.svc.EditOccurrence(ctx, nil, f.userID, OccurrenceEdit{
		SeriesID:        f.head.ID,
		OccurrenceStart: at(17, 10, 0),
		Scope:           ScopeAll,
		Event:           editInput("Yoga (all)", at(17, 10, 30), 90*time.Minute),
	})
	if err != nil {
		t.Fatal(err)
	}

	if n := len(f.repo.overridesOf(f.head.ID)); n != 0 {
		t.Errorf("overrides remaining = %d, want 0", n)
	}
	head := f.repo.get(f.head.ID)
	if head.Title != "Yoga (all)" {
		t.Errorf("title = %q", head.Title)
	}
	if !head.StartTime.Equal(at(3, 10, 30)) {
		t.Errorf("head start = %v, want shifted by 30m", head.StartTime)
	}
	if head.Duration() != 90*time.Minute {
		t.Errorf("head duration = %v", head.Duration())
	}
	if head.RRule == nil || *head.RRule != "FREQ=WEEKLY" {
		t.Errorf("rule = %v, want unchanged", head.RRule)
	}
	if head.HasException("2024-03-10") {
		t.Error("exception for the dropped override should be cleared")
	}
	if !head.HasException("2024-03-24") {
		t.Error("deleted-occurrence exception should be kept")
	}
}

func TestEditOccurrenceThisAndFuture(t *testing.T) {
	f := newCalendarFixture(t, "FREQ=WEEKLY", "2024-03-10", "2024-03-24")
	ctx := context.Background()

	// An override after the split point follows the new series.
	f.repo.Create(ctx, nil, &types.Event{
		UserID: f.userID, Title: "Moved", StartTime: at(31, 9, 0),
		RecurringEventID: &f.head.ID, OriginalStartTime: tp(at(31, 10, 0)),
	})

	res, err := f.svc.EditOccurrence(ctx, nil, f.userID, OccurrenceEdit{
		SeriesID:        f.head.ID,
		OccurrenceStart: at(17, 10, 0),
		Scope:           ScopeThisAndFuture,
		Event:           editInput("Evening yoga", at(17, 10, 0), time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}

	head := f.repo.get(f.head.ID)
	if got := *head.RRule; got != "FREQ=WEEKLY;UNTIL=20240316T235959Z" {
		t.Errorf("head rule = %q", got)
	}
	if len(head.ExceptionDates) != 1 || head.ExceptionDates[0] != "2024-03-10" {
		t.Errorf("head exceptions = %v", head.ExceptionDates)
	}

	next := f.repo.get(res.NewSeries.ID)
	if next == nil || !next.IsSeriesHead() {
		t.Fatalf("new series = %+v", next)
	}
	if *next.RRule != "FREQ=WEEKLY" || !next.StartTime.Equal(at(17, 10, 0)) || next.Title != "Evening yoga" {
		t.Errorf("new series = %+v", next)
	}
	if len(next.ExceptionDates) != 1 || next.ExceptionDates[0] != "2024-03-24" {
		t.Errorf("new series exceptions = %v", next.ExceptionDates)
	}
	if n := len(f.repo.overridesOf(next.ID)); n != 1 {
		t.Errorf("overrides moved to new series = %d, want 1", n)
	}

	occ, err := f.svc.ListOccurrencesInWindow(ctx, f.userID, recurrence.Window{Start: at(1, 0, 0), End: at(30, 23, 59)})
	if err != nil {
		t.Fatal(err)
	}
	var titles []string
	for _, o := range occ {
		titles = append(titles, o.StartTime.Format("01-02")+" "+o.Title)
	}
	want := "03-03 Prenatal yoga|03-17 Evening yoga"
	if got := strings.Join(titles, "|"); got != want {
		t.Errorf("March occurrences = %s, want %s", got, want)
	}
}

func TestThisAndFutureKeepsSeriesEnd(t *testing.T) {
	tests := []struct {
		name      string
		rule      string
		split     time.Time
		headRule  string
		nextRule  string
		wantTotal int
	}{
		{
			name:      "until",
			rule:      "FREQ=WEEKLY;UNTIL=20240331T235959Z",
			split:     at(17, 10, 0),
			headRule:  "FREQ=WEEKLY;UNTIL=20240316T235959Z",
			nextRule:  "FREQ=WEEKLY;UNTIL=20240331T235959Z",
			wantTotal: 5,
		},
		{
			name:      "count",
			rule:      "FREQ=DAILY;COUNT=10",
			split:     at(6, 10, 0),
			headRule:  "FREQ=DAILY;UNTIL=20240305T235959Z",
			nextRule:  "FREQ=DAILY;COUNT=7",
			wantTotal: 10,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newCalendarFixture(t, tt.rule)
			ctx := context.Background()
			res, err := f.svc.EditOccurrence(ctx, nil, f.userID, OccurrenceEdit{
				SeriesID:        f.head.ID,
				OccurrenceStart: tt.split,
				Scope:           ScopeThisAndFuture,
				Event:           editInput("Daily walk", tt.split, time.Hour),
			})
			if err != nil {
				t.Fatal(err)
			}
			if got := *f.repo.get(f.head.ID).RRule; got != tt.headRule {
				t.Errorf("head rule = %q, want %q", got, tt.headRule)
			}
			if got := *res.NewSeries.RRule; got != tt.nextRule {
				t.Errorf("new rule = %q, want %q", got, tt.nextRule)
			}

			year := recurrence.Window{Start: at(1, 0, 0), End: time.Date(2024, 12, 31, 23, 59, 59, 0, time.UTC)}
			occ, err := f.svc.ListOccurrencesInWindow(ctx, f.userID, year)
			if err != nil {
				t.Fatal(err)
			}
			if len(occ) != tt.wantTotal {
				t.Errorf("occurrences in 2024 = %d, want %d", len(occ), tt.wantTotal)
			}
		})
	}
}

func TestThisAndFutureSplitsOnLocalDay(t *testing.T) {
	kst := time.FixedZone("KST", 9*60*60)
	userID := uuid.New()
	// Sundays 09:00 KST, i.e. Sunday 00:00 UTC.
	start := time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC)
	head := types.Event{
		ID: uuid.New(), UserID: userID, Title: "Morning stretch",
		StartTime: start, EndTime: tp(start.Add(time.Hour)), RRule: sp("FREQ=WEEKLY"),
	}
	repo := newMemEventRepo(head)
	svc := NewCalendarService(logger.NewNop(), &fakeTx{}, repo, kst)

	split := time.Date(2024, 3, 17, 0, 0, 0, 0, time.UTC)
	if _, err := svc.EditOccurrence(context.Background(), nil, userID, OccurrenceEdit{
		SeriesID:        head.ID,
		OccurrenceStart: split,
		Scope:           ScopeThisAndFuture,
		Event:           editInput("Evening stretch", split, time.Hour),
	}); err != nil {
		t.Fatal(err)
	}
	// The day before 2024-03-17 in KST ends at 15:00 UTC on the 16th.
	if got := *repo.get(head.ID).RRule; got != "FREQ=WEEKLY;UNTIL=20240316T145959Z" {
		t.Errorf("head rule = %q", got)
	}
}

func TestThisAndFutureOnFirstOccurrenceActsLikeAll(t *testing.T) {
	f := newCalendarFixture(t, "FREQ=WEEKLY")
	res, err := f.svc.EditOccurrence(context.Background(), nil, f.userID, OccurrenceEdit{
		SeriesID:        f.head.ID,
		OccurrenceStart: at(3, 10, 0),
		Scope:           ScopeThisAndFuture,
		Event:           editInput("Renamed", at(3, 10, 0), time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.NewSeries != nil {
		t.Error("no new series expected when splitting at the first occurrence")
	}
	if n := len(f.repo.all()); n != 1 {
		t.Errorf("rows = %d, want 1", n)
	}
	if got := f.repo.get(f.head.ID); got.Title != "Renamed" || *got.RRule != "FREQ=WEEKLY" {
		t.Errorf("head = %+v", got)
	}
}

func TestEditOccurrenceRejections(t *testing.T) {
	f := newCalendarFixture(t, "FREQ=WEEKLY")
	ctx := context.Background()
	override, _ := f.repo.Create(ctx, nil, &types.Event{
		UserID: f.userID, Title: "Override", StartTime: at(10, 12, 0),
		RecurringEventID: &f.head.ID, OriginalStartTime: tp(at(10, 10, 0)),
	})
	single, _ := f.repo.Create(ctx, nil, &types.Event{UserID: f.userID, Title: "Checkup", StartTime: at(12, 9, 0)})

	tests := []struct {
		name string
		edit OccurrenceEdit
		want error
	}{
		{
			name: "override target",
			edit: OccurrenceEdit{SeriesID: override.ID, OccurrenceStart: at(10, 12, 0), Scope: ScopeThis, Event: editInput("x", at(10, 12, 0), time.Hour)},
			want: ErrNotSeriesHead,
		},
		{
			name: "single event target",
			edit: OccurrenceEdit{SeriesID: single.ID, OccurrenceStart: at(12, 9, 0), Scope: ScopeAll, Event: editInput("x", at(12, 9, 0), time.Hour)},
			want: ErrNotSeriesHead,
		},
		{
			name: "unknown event",
			edit: OccurrenceEdit{SeriesID: uuid.New(), OccurrenceStart: at(10, 10, 0), Scope: ScopeThis, Event: editInput("x", at(10, 10, 0), time.Hour)},
			want: ErrNotFound,
		},
		{
			name: "not an occurrence",
			edit: OccurrenceEdit{SeriesID: f.head.ID, OccurrenceStart: at(11, 10, 0), Scope: ScopeThis, Event: editInput("x", at(11, 10, 0), time.Hour)},
			want: ErrValidation,
		},
		{
			name: "bad scope",
			edit: OccurrenceEdit{SeriesID: f.head.ID, OccurrenceStart: at(10, 10, 0), Scope: "some", Event: editInput("x", at(10, 10, 0), time.Hour)},
			want: ErrValidation,
		},
		{
			name: "blank title",
			edit: OccurrenceEdit{SeriesID: f.head.ID, OccurrenceStart: at(10, 10, 0), Scope: ScopeThis, Event: editInput("", at(10, 10, 0), time.Hour)},
			want: ErrValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := errordata.WithErrorData(context.Background())
			_, err := f.svc.EditOccurrence(ctx, nil, f.userID, tt.edit)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			if errordata.Message(ctx, "") == "" {
				t.Error("expected a user-facing message")
			}
		})
	}
	if !errors.Is(ErrNotSeriesHead, ErrValidation) {
		t.Error("ErrNotSeriesHead should be a validation error")
	}
}

func TestEditOccurrenceStoreFailureSurfacesOneMessage(t *testing.T) {
	f := newCalendarFixture(t, "FREQ=WEEKLY")
	f.repo.saveErr = errors.New("connection refused")
	ctx := errordata.WithErrorData(context.Background())
	ctx = notifydata.WithNotifyData(ctx)

	_, err := f.svc.EditOccurrence(ctx, nil, f.userID, OccurrenceEdit{
		SeriesID: f.head.ID, OccurrenceStart: at(10, 10, 0), Scope: ScopeThis,
		Event: editInput("x", at(10, 10, 0), time.Hour),
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := errordata.Message(ctx, ""); got != "Failed to update recurring event" {
		t.Errorf("message = %q", got)
	}
	if n := len(notifydata.GetNotifyData(ctx).Notifications); n != 0 {
		t.Errorf("notifications on failure = %d, want 0", n)
	}
}

func TestDeleteOccurrenceScopes(t *testing.T) {
	ctx := context.Background()

	t.Run("this", func(t *testing.T) {
		f := newCalendarFixture(t, "FREQ=WEEKLY")
		f.repo.Create(ctx, nil, &types.Event{
			UserID: f.userID, Title: "Override", StartTime: at(10, 12, 0),
			RecurringEventID: &f.head.ID, OriginalStartTime: tp(at(10, 10, 0)),
		})
		err := f.svc.DeleteOccurrence(ctx, nil, f.userID, OccurrenceDelete{SeriesID: f.head.ID, OccurrenceStart: at(10, 10, 0), Scope: ScopeThis})
		if err != nil {
			t.Fatal(err)
		}
		if !f.repo.get(f.head.ID).HasException("2024-03-10") {
			t.Error("missing exception")
		}
		if n := len(f.repo.overridesOf(f.head.ID)); n != 0 {
			t.Errorf("overrides = %d, want 0", n)
		}
	})

	t.Run("thisAndFuture", func(t *testing.T) {
		f := newCalendarFixture(t, "FREQ=WEEKLY", "2024-03-24")
		f.repo.Create(ctx, nil, &types.Event{
			UserID: f.userID, Title: "Override", StartTime: at(31, 12, 0),
			RecurringEventID: &f.head.ID, OriginalStartTime: tp(at(31, 10, 0)),
		})
		err := f.svc.DeleteOccurrence(ctx, nil, f.userID, OccurrenceDelete{SeriesID: f.head.ID, OccurrenceStart: at(17, 10, 0), Scope: ScopeThisAndFuture})
		if err != nil {
			t.Fatal(err)
		}
		head := f.repo.get(f.head.ID)
		if *head.RRule != "FREQ=WEEKLY;UNTIL=20240316T235959Z" {
			t.Errorf("rule = %q", *head.RRule)
		}
		if len(head.ExceptionDates) != 0 {
			t.Errorf("exceptions past the end should be dropped, got %v", head.ExceptionDates)
		}
		if n := len(f.repo.overridesOf(f.head.ID)); n != 0 {
			t.Errorf("overrides = %d, want 0", n)
		}
	})

	t.Run("all", func(t *testing.T) {
		f := newCalendarFixture(t, "FREQ=WEEKLY")
		f.repo.Create(ctx, nil, &types.Event{
			UserID: f.userID, Title: "Override", StartTime: at(10, 12, 0),
			RecurringEventID: &f.head.ID, OriginalStartTime: tp(at(10, 10, 0)),
		})
		err := f.svc.DeleteOccurrence(ctx, nil, f.userID, OccurrenceDelete{SeriesID: f.head.ID, OccurrenceStart: at(17, 10, 0), Scope: ScopeAll})
		if err != nil {
			t.Fatal(err)
		}
		if n := len(f.repo.all()); n != 0 {
			t.Errorf("rows remaining = %d, want 0", n)
		}
	})
}

func TestCreateEventValidation(t *testing.T) {
	f := newCalendarFixture(t, "FREQ=WEEKLY")
	start := at(12, 9, 0)
	tests := []struct {
		name string
		in   EventInput
		ok   bool
	}{
		{name: "valid single", in: EventInput{Title: "Ultrasound", StartTime: start}, ok: true},
		{name: "valid series", in: EventInput{Title: "Vitamins", StartTime: start, RRule: sp("RRULE:FREQ=DAILY")}, ok: true},
		{name: "blank title", in: EventInput{Title: "", StartTime: start}},
		{name: "missing start", in: EventInput{Title: "x"}},
		{name: "end before start", in: EventInput{Title: "x", StartTime: start, EndTime: tp(start.Add(-time.Hour))}},
		{name: "unknown color", in: EventInput{Title: "x", StartTime: start, Color: sp("teal")}},
		{name: "bad rule", in: EventInput{Title: "x", StartTime: start, RRule: sp("FREQ=FORTNIGHTLY")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := f.svc.CreateEvent(context.Background(), f.userID, tt.in)
			if tt.ok {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if ev.ID == uuid.Nil || ev.UserID != f.userID {
					t.Errorf("created = %+v", ev)
				}
				return
			}
			if !errors.Is(err, ErrValidation) {
				t.Errorf("err = %v, want ErrValidation", err)
			}
		})
	}
}

func TestUpdateEventRules(t *testing.T) {
	f := newCalendarFixture(t, "FREQ=WEEKLY")
	ctx := context.Background()
	override, _ := f.repo.Create(ctx, nil, &types.Event{
		UserID: f.userID, Title: "Override", StartTime: at(10, 12, 0),
		RecurringEventID: &f.head.ID, OriginalStartTime: tp(at(10, 10, 0)),
	})

	if _, err := f.svc.UpdateEvent(ctx, f.userID, f.head.ID, editInput("x", at(3, 10, 0), time.Hour)); !errors.Is(err, ErrValidation) {
		t.Errorf("plain update of series head: err = %v, want ErrValidation", err)
	}
	withRule := editInput("x", at(10, 12, 0), time.Hour)
	withRule.RRule = sp("FREQ=DAILY")
	if _, err := f.svc.UpdateEvent(ctx, f.userID, override.ID, withRule); !errors.Is(err, ErrValidation) {
		t.Errorf("rule on override: err = %v, want ErrValidation", err)
	}
	updated, err := f.svc.UpdateEvent(ctx, f.userID, override.ID, editInput("Later", at(10, 15, 0), time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if updated.Title != "Later" || updated.RecurringEventID == nil || *updated.RecurringEventID != f.head.ID {
		t.Errorf("updated override = %+v", updated)
	}
	if _, err := f.svc.UpdateEvent(ctx, uuid.New(), override.ID, editInput("x", at(10, 15, 0), time.Hour)); !errors.Is(err, ErrNotFound) {
		t.Errorf("other user's event: err = %v, want ErrNotFound", err)
	}
}

func TestDeleteEventRemovesOverrides(t *testing.T) {
	f := newCalendarFixture(t, "FREQ=WEEKLY")
	ctx := context.Background()
	f.repo.Create(ctx, nil, &types.Event{
		UserID: f.userID, Title: "Override", StartTime: at(10, 12, 0),
		RecurringEventID: &f.head.ID, OriginalStartTime: tp(at(10, 10, 0)),
	})
	if err := f.svc.DeleteEvent(ctx, f.userID, f.head.ID); err != nil {
		t.Fatal(err)
	}
	if n := len(f.repo.all()); n != 0 {
		t.Errorf("rows remaining = %d, want 0", n)
	}
}
