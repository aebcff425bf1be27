package recurrence

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// DateLayout is the calendar-date form used for exception dates and occurrence ids.
const DateLayout = "2006-01-02"

const untilLayout = "20060102T150405Z"

var ErrEmptyRule = errors.New("recurrence rule is empty")

// DateKey formats t as a calendar date in loc.
func DateKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DateLayout)
}

// ruleBody extracts the RRULE body from a stored rule. Stored rules are usually
// bare ("FREQ=WEEKLY;BYDAY=MO") but may carry an "RRULE:" prefix or arrive as a
// multi-line block with a DTSTART line, which is ignored since the event's own
// start is always the anchor.
func ruleBody(raw string) (body string, prefixed bool) {
	raw = strings.TrimSpace(raw)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		upper := strings.ToUpper(line)
		if strings.HasPrefix(upper, "DTSTART") || strings.HasPrefix(upper, "EXDATE") {
			continue
		}
		if strings.HasPrefix(upper, "RRULE:") {
			return strings.TrimSpace(line[len("RRULE:"):]), true
		}
		return line, false
	}
	return "", false
}

// Body returns the bare RRULE value of a stored rule, as written in an
// iCalendar RRULE property.
func Body(raw string) string {
	body, _ := ruleBody(raw)
	return body
}

// Parse builds a rule from its stored form, anchored at dtstart.
func Parse(raw string, dtstart time.Time) (*rrule.RRule, error) {
	body, _ := ruleBody(raw)
	if body == "" {
		return nil, ErrEmptyRule
	}
	r, err := rrule.StrToRRule(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rrule %q: %w", raw, err)
	}
	r.DTStart(dtstart)
	return r, nil
}

// Validate reports whether raw is a parseable rule.
func Validate(raw string) error {
	_, err := Parse(raw, time.Now())
	return err
}

// UntilBefore returns the last second before the calendar day date
// (YYYY-MM-DD) begins in loc, expressed in UTC. For UTC this is 23:59:59 of the
// preceding day.
func UntilBefore(date string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	d, err := time.ParseInLocation(DateLayout, date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid occurrence date %q: %w", date, err)
	}
	return d.Add(-time.Second).UTC(), nil
}

// WithUntil returns raw with its end bound replaced by UNTIL=until. Any existing
// UNTIL or COUNT part is removed because the two cannot coexist.
func WithUntil(raw string, until time.Time) (string, error) {
	body, prefixed := ruleBody(raw)
	if body == "" {
		return "", ErrEmptyRule
	}
	parts := stripBounds(body)
	parts = append(parts, "UNTIL="+until.UTC().Format(untilLayout))
	out := strings.Join(parts, ";")
	if _, err := rrule.StrToRRule(out); err != nil {
		return "", fmt.Errorf("truncated rule %q is invalid: %w", out, err)
	}
	if prefixed {
		out = "RRULE:" + out
	}
	return out, nil
}

// Continuation returns the rule for a series that picks up where raw, anchored
// at dtstart, was cut at until. UNTIL is kept as is. COUNT is reduced by the
// occurrences raw already produced up to until.
func Continuation(raw string, dtstart, until time.Time) (string, error) {
	body, prefixed := ruleBody(raw)
	if body == "" {
		return "", ErrEmptyRule
	}
	parts := strings.Split(body, ";")
	for i, part := range parts {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 || strings.ToUpper(kv[0]) != "COUNT" {
			continue
		}
		count, err := strconv.Atoi(kv[1])
		if err != nil {
			return "", fmt.Errorf("invalid COUNT in rule %q: %w", raw, err)
		}
		r, err := Parse(raw, dtstart)
		if err != nil {
			return "", err
		}
		left := count - len(r.Between(dtstart, until, true))
		if left < 1 {
			return "", fmt.Errorf("rule %q has no occurrences after %s", raw, until.Format(untilLayout))
		}
		parts[i] = "COUNT=" + strconv.Itoa(left)
	}
	out := strings.Join(parts, ";")
	if prefixed {
		out = "RRULE:" + out
	}
	return out, nil
}

func stripBounds(body string) []string {
	var parts []string
	for _, part := range strings.Split(body, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key := strings.ToUpper(strings.SplitN(part, "=", 2)[0])
		if key == "UNTIL" || key == "COUNT" {
			continue
		}
		parts = append(parts, part)
	}
	return parts
}

// Includes reports whether the rule anchored at dtstart generates an
// occurrence at exactly t.
func Includes(raw string, dtstart, t time.Time) (bool, error) {
	r, err := Parse(raw, dtstart)
	if err != nil {
		return false, err
	}
	return len(r.Between(t, t, true)) > 0, nil
}
