// internal/finance/dates.go
package finance

import "time"

const (
	Day  = 24 * time.Hour
	Week = 7 * Day
)

// DateOf truncates t to midnight UTC of its calendar date.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// NextWeekdayAfter returns the first date strictly after t that falls on wd.
func NextWeekdayAfter(t time.Time, wd time.Weekday) time.Time {
	d := DateOf(t)
	offset := (int(wd) - int(d.Weekday()) + 7) % 7
	if offset == 0 {
		offset = 7
	}
	return d.AddDate(0, 0, offset)
}

// SnapToWeekday returns t itself when it already falls on wd, otherwise the
// next date that does.
func SnapToWeekday(t time.Time, wd time.Weekday) time.Time {
	d := DateOf(t)
	offset := (int(wd) - int(d.Weekday()) + 7) % 7
	return d.AddDate(0, 0, offset)
}
