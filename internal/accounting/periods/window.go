package periods

import "time"

// MonthWindow returns the calendar month containing date, shrunk so it does
// not overlap the neighbouring periods.
func MonthWindow(date time.Time, prev, next *Period) (start, end time.Time) {
	d := Day(date)
	start = time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
	end = start.AddDate(0, 1, -1)
	if prev != nil && !Day(prev.EndDate).Before(start) {
		start = Day(prev.EndDate).AddDate(0, 0, 1)
	}
	if next != nil && !Day(next.StartDate).After(end) {
		end = Day(next.StartDate).AddDate(0, 0, -1)
	}
	return start, end
}

// DefaultName labels a period by its start month, or by its start day when
// the window was clamped and does not begin on the first.
func DefaultName(start time.Time) string {
	if start.Day() == 1 {
		return start.Format("2006-01")
	}
	return start.Format("2006-01-02")
}
