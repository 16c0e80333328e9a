package spec

import "time"

// DateRange is an inclusive calendar range.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// StartStr returns the ISO start date.
func (r DateRange) StartStr() string { return r.Start.Format("2006-01-02") }

// EndStr returns the ISO end date.
func (r DateRange) EndStr() string { return r.End.Format("2006-01-02") }

func monthBounds(anyDay time.Time) DateRange {
	start := time.Date(anyDay.Year(), anyDay.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0).AddDate(0, 0, -1)
	return DateRange{Start: start, End: end}
}

// LastMonthRange is the full calendar month before the reference date.
func LastMonthRange(ref time.Time) DateRange {
	firstThis := time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, time.UTC)
	return monthBounds(firstThis.AddDate(0, 0, -1))
}

// ThisMonthRange is the full calendar month containing the reference date.
func ThisMonthRange(ref time.Time) DateRange {
	return monthBounds(ref)
}

func weekStart(ref time.Time) time.Time {
	// Monday is the first day of the week.
	offset := (int(ref.Weekday()) + 6) % 7
	d := ref.AddDate(0, 0, -offset)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}

// LastWeekRange is Monday..Sunday of the week before the reference date.
func LastWeekRange(ref time.Time) DateRange {
	startThis := weekStart(ref)
	return DateRange{Start: startThis.AddDate(0, 0, -7), End: startThis.AddDate(0, 0, -1)}
}

// ThisWeekRange is Monday..Sunday of the week containing the reference date.
func ThisWeekRange(ref time.Time) DateRange {
	start := weekStart(ref)
	return DateRange{Start: start, End: start.AddDate(0, 0, 6)}
}

// TimeContext maps relative timeframe names to concrete ranges; it is handed
// to the oracle so "last month" resolves to real dates.
func TimeContext(ref time.Time) map[string]map[string]string {
	return map[string]map[string]string{
		"last_month": {"from": LastMonthRange(ref).StartStr(), "to": LastMonthRange(ref).EndStr()},
		"this_month": {"from": ThisMonthRange(ref).StartStr(), "to": ThisMonthRange(ref).EndStr()},
		"last_week":  {"from": LastWeekRange(ref).StartStr(), "to": LastWeekRange(ref).EndStr()},
		"this_week":  {"from": ThisWeekRange(ref).StartStr(), "to": ThisWeekRange(ref).EndStr()},
	}
}
