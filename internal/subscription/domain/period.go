package domain

import "time"

// AddMonthsClamped moves t by n calendar months and lands on anchorDay,
// clamped to the last day of the target month. Keeping the anchor separate
// from t lets a Jan 31 subscription go Feb 28 then back to Mar 31.
func AddMonthsClamped(anchorDay int, t time.Time, n int) time.Time {
	if anchorDay < 1 {
		anchorDay = t.Day()
	}
	firstOfTarget := time.Date(t.Year(), t.Month()+time.Month(n), 1, 0, 0, 0, 0, t.Location())
	day := anchorDay
	if last := daysIn(firstOfTarget.Year(), firstOfTarget.Month(), t.Location()); day > last {
		day = last
	}
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), day,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// NextPeriod returns the period following [start, end).
func NextPeriod(anchorDay int, end time.Time) (time.Time, time.Time) {
	return end, AddMonthsClamped(anchorDay, end, 1)
}
