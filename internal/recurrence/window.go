package recurrence

import "time"

// Window is the closed time range occurrences are generated for.
type Window struct {
	Start time.Time
	End   time.Time
}

// MonthWindow returns the window used by the month grid: from the first day of
// the month before displayed through the last instant of the month after it.
// The extra month on each side covers leading and trailing cells of the grid.
func MonthWindow(displayed time.Time, loc *time.Location) Window {
	if loc == nil {
		loc = time.UTC
	}
	d := displayed.In(loc)
	first := time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, loc)
	return Window{
		Start: first.AddDate(0, -1, 0),
		End:   first.AddDate(0, 2, 0).Add(-time.Nanosecond),
	}
}

// DayWindow covers a single calendar day in loc.
func DayWindow(day time.Time, loc *time.Location) Window {
	if loc == nil {
		loc = time.UTC
	}
	d := day.In(loc)
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
	return Window{Start: start, End: start.AddDate(0, 0, 1).Add(-time.Nanosecond)}
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}
