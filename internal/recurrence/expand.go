package recurrence

import (
	"sort"
	"time"

	"github.com/nurture-app/nurture-backend/internal/logger"
	"github.com/nurture-app/nurture-backend/internal/types"
)

const defaultMaxOccurrencesPerEvent = 5000

// Expander turns stored events into the occurrences visible in a window.
type Expander struct {
	// Location decides which calendar date an occurrence falls on, both for
	// exception matching and for synthesized ids. Nil means UTC.
	Location *time.Location

	// MaxOccurrencesPerEvent caps a single series. Zero uses the default.
	MaxOccurrencesPerEvent int

	log *logger.Logger
}

func NewExpander(loc *time.Location, log *logger.Logger) *Expander {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Expander{
		Location:               loc,
		MaxOccurrencesPerEvent: defaultMaxOccurrencesPerEvent,
		log:                    log.With("component", "Expander"),
	}
}

// Expand returns every occurrence of events inside w, sorted by start time.
//
//   - Events without a rule pass through unchanged.
//   - Series heads are expanded from their own start, skipping exception dates.
//   - A series whose rule cannot be parsed is emitted once, unexpanded.
func (x *Expander) Expand(events []types.Event, w Window) []types.Occurrence {
	out := make([]types.Occurrence, 0, len(events))
	for _, ev := range events {
		if !ev.IsSeriesHead() {
			out = append(out, types.OccurrenceFromEvent(ev))
			continue
		}
		occ, err := x.expandSeries(ev, w)
		if err != nil {
			x.log.Warn("failed to expand recurring event, emitting it unexpanded", "eventID", ev.ID, "rrule", *ev.RRule, "error", err)
			out = append(out, types.OccurrenceFromEvent(ev))
			continue
		}
		out = append(out, occ...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}

func (x *Expander) expandSeries(ev types.Event, w Window) ([]types.Occurrence, error) {
	loc := x.location()
	r, err := Parse(*ev.RRule, ev.StartTime.In(loc))
	if err != nil {
		return nil, err
	}

	times := r.Between(w.Start.In(loc), w.End.In(loc), true)
	limit := x.MaxOccurrencesPerEvent
	if limit <= 0 {
		limit = defaultMaxOccurrencesPerEvent
	}
	if len(times) > limit {
		x.log.Warn("recurring event hit occurrence cap, truncating", "eventID", ev.ID, "cap", limit, "found", len(times))
		times = times[:limit]
	}

	dur := ev.Duration()
	seriesID := ev.ID
	out := make([]types.Occurrence, 0, len(times))
	for _, start := range times {
		date := DateKey(start, loc)
		if ev.HasException(date) {
			continue
		}
		occ := types.OccurrenceFromEvent(ev)
		occ.ID = ev.ID.String() + "_" + date
		occ.StartTime = start
		if ev.EndTime != nil {
			end := start.Add(dur)
			occ.EndTime = &end
		}
		occ.RecurringEventID = &seriesID
		out = append(out, occ)
	}
	return out, nil
}

func (x *Expander) location() *time.Location {
	if x.Location == nil {
		return time.UTC
	}
	return x.Location
}
