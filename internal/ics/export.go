// Package ics renders stored calendar rows as an iCalendar feed. Series heads
// keep their RRULE and EXDATEs so subscribing clients expand them; overrides
// become RECURRENCE-ID instances of the head's UID.
package ics

import (
	"io"
	"sort"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/nurture-app/nurture-backend/internal/recurrence"
	"github.com/nurture-app/nurture-backend/internal/types"
)

const (
	ProductID = "-//Nurture//Calendar//EN"

	dateTimeLayout = "20060102T150405Z"
	dateLayout     = "20060102"
	uidDomain      = "@nurture.app"
)

var (
	propRecurrenceID = ical.ComponentProperty("RECURRENCE-ID")
	propColor        = ical.ComponentProperty("COLOR")
)

// UID is the stable iCalendar identifier for a stored event.
func UID(ev types.Event) string {
	if ev.IsOverride() {
		return ev.RecurringEventID.String() + uidDomain
	}
	return ev.ID.String() + uidDomain
}

// Build assembles the calendar. Exception dates are interpreted in loc, the
// zone the calendar service keys them in.
func Build(events []types.Event, loc *time.Location, name string) *ical.Calendar {
	if loc == nil {
		loc = time.UTC
	}
	cal := ical.NewCalendar()
	cal.SetProductId(ProductID)
	cal.SetMethod(ical.MethodPublish)
	if name != "" {
		cal.SetXWRCalName(name)
	}
	cal.SetXWRTimezone(loc.String())

	sorted := append([]types.Event(nil), events...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].StartTime.Before(sorted[j].StartTime) })

	heads := make(map[string]types.Event)
	for _, ev := range sorted {
		if ev.IsSeriesHead() {
			heads[ev.ID.String()] = ev
		}
	}

	for _, ev := range sorted {
		addEvent(cal, ev, heads, loc)
	}
	return cal
}

// Write serializes events as an iCalendar document to w.
func Write(w io.Writer, events []types.Event, loc *time.Location, name string) error {
	_, err := io.WriteString(w, Build(events, loc, name).Serialize())
	return err
}

func addEvent(cal *ical.Calendar, ev types.Event, heads map[string]types.Event, loc *time.Location) {
	vev := cal.AddEvent(UID(ev))
	vev.SetDtStampTime(ev.UpdatedAt.UTC())
	if !ev.CreatedAt.IsZero() {
		vev.SetCreatedTime(ev.CreatedAt.UTC())
	}
	vev.SetSummary(ev.Title)
	if ev.Description != nil && *ev.Description != "" {
		vev.SetDescription(*ev.Description)
	}
	if ev.Color != nil && *ev.Color != "" {
		vev.SetProperty(propColor, *ev.Color)
	}

	if ev.AllDay {
		start := ev.StartTime.In(loc)
		vev.SetAllDayStartAt(start)
		end := start.AddDate(0, 0, 1)
		if ev.EndTime != nil && ev.EndTime.After(ev.StartTime) {
			// DTEND is exclusive for all-day events.
			last := ev.EndTime.In(loc)
			end = time.Date(last.Year(), last.Month(), last.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
		}
		vev.SetAllDayEndAt(end)
	} else {
		vev.SetStartAt(ev.StartTime.UTC())
		if ev.EndTime != nil {
			vev.SetEndAt(ev.EndTime.UTC())
		}
	}

	if ev.IsSeriesHead() {
		vev.AddRrule(recurrence.Body(*ev.RRule))
		for _, date := range ev.ExceptionDates {
			if value, params, ok := exdateValue(ev, date, loc); ok {
				vev.AddProperty(ical.ComponentPropertyExdate, value, params...)
			}
		}
	}

	if ev.IsOverride() && ev.OriginalStartTime != nil {
		head, hasHead := heads[ev.RecurringEventID.String()]
		if hasHead && head.AllDay {
			vev.SetProperty(propRecurrenceID, ev.OriginalStartTime.In(loc).Format(dateLayout), ical.WithValue(string(ical.ValueDataTypeDate)))
		} else {
			vev.SetProperty(propRecurrenceID, ev.OriginalStartTime.UTC().Format(dateTimeLayout))
		}
	}
}

// exdateValue turns a stored exception date into the occurrence start it
// removes: the date combined with the head's local start time.
func exdateValue(head types.Event, date string, loc *time.Location) (string, []ical.PropertyParameter, bool) {
	d, err := time.ParseInLocation(recurrence.DateLayout, date, loc)
	if err != nil {
		return "", nil, false
	}
	if head.AllDay {
		return d.Format(dateLayout), []ical.PropertyParameter{ical.WithValue(string(ical.ValueDataTypeDate))}, true
	}
	s := head.StartTime.In(loc)
	at := time.Date(d.Year(), d.Month(), d.Day(), s.Hour(), s.Minute(), s.Second(), 0, loc)
	return at.UTC().Format(dateTimeLayout), nil, true
}
