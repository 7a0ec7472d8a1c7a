package account

import "time"

// MonthStart returns the first instant of t's calendar month in UTC.
func MonthStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// NextMonthStart returns the first instant of the month following t's month in UTC.
func NextMonthStart(t time.Time) time.Time {
	return MonthStart(t).AddDate(0, 1, 0)
}

// PeriodEnd returns the last instant of the billing period that starts at periodStart.
func PeriodEnd(periodStart time.Time) time.Time {
	return NextMonthStart(periodStart).Add(-time.Nanosecond)
}

// IsPeriodDue reports whether a period anchored at periodStart has been
// superseded by the calendar month containing now.
func IsPeriodDue(periodStart, now time.Time) bool {
	return MonthStart(now).After(MonthStart(periodStart))
}
