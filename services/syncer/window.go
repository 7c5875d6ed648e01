package syncer

import "time"

// FetchWindow is the inclusive date range still missing for one instrument.
type FetchWindow struct {
	Code  string
	Start time.Time
	End   time.Time
	empty bool
}

// Empty reports that the instrument is already up to date and must not be
// fetched.
func (w FetchWindow) Empty() bool {
	return w.empty
}

// ComputeWindow returns the range to fetch for code. With nothing stored the
// range starts at floor, otherwise the day after lastStored. It ends at
// horizon. Dates are calendar days; any time of day is dropped.
func ComputeWindow(code string, lastStored *time.Time, horizon, floor time.Time) FetchWindow {
	start := truncateDay(floor)
	if lastStored != nil {
		start = truncateDay(*lastStored).AddDate(0, 0, 1)
	}
	end := truncateDay(horizon)

	return FetchWindow{
		Code:  code,
		Start: start,
		End:   end,
		empty: start.After(end),
	}
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// marketDay maps an instant to the exchange calendar day, expressed the way
// bars are stored (midnight UTC).
func marketDay(t time.Time, loc *time.Location) time.Time {
	return truncateDay(t.In(loc))
}
