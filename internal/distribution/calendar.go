package distribution

import "time"

// Calendar computes month boundaries in the authoritative timezone.
type Calendar struct {
	loc *time.Location
}

// NewCalendar returns a Calendar for loc, defaulting to the server's local zone.
func NewCalendar(loc *time.Location) Calendar {
	if loc == nil {
		loc = time.Local
	}
	return Calendar{loc: loc}
}

// Location returns the calendar timezone.
func (c Calendar) Location() *time.Location {
	if c.loc == nil {
		return time.Local
	}
	return c.loc
}

// MonthStart returns the first instant of the month containing t.
func (c Calendar) MonthStart(t time.Time) time.Time {
	local := t.In(c.Location())
	return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, c.Location())
}

// MonthKey returns the month containing t as a date, for the delivery_month column.
func (c Calendar) MonthKey(t time.Time) time.Time {
	start := c.MonthStart(t)
	return time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// SameMonth reports whether a and b fall in the same calendar month.
func (c Calendar) SameMonth(a, b time.Time) bool {
	return c.MonthStart(a).Equal(c.MonthStart(b))
}
