package alerts

import (
	"fmt"
	"time"

	"ledgerflow/internal/storage"
)

// PeriodKey canonicalizes the firing window: day → YYYY-MM-DD,
// week → YYYY-Www (ISO week), month → YYYY-MM.
func PeriodKey(period string, at time.Time) (string, error) {
	switch period {
	case "day":
		return at.Format(storage.YMD), nil
	case "month":
		return at.Format("2006-01"), nil
	case "week":
		year, week := at.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week), nil
	}
	return "", fmt.Errorf("unknown period: %q", period)
}

// PeriodBounds returns the inclusive [start, end] dates of the period
// containing at.
func PeriodBounds(period string, at time.Time) (time.Time, time.Time, error) {
	switch period {
	case "day":
		return at, at, nil
	case "month":
		start := time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, time.UTC)
		end := start.AddDate(0, 1, -1)
		return start, end, nil
	case "week":
		// ISO week starts Monday.
		wd := int(at.Weekday())
		if wd == 0 {
			wd = 7
		}
		start := at.AddDate(0, 0, -(wd - 1))
		return start, start.AddDate(0, 0, 6), nil
	}
	return time.Time{}, time.Time{}, fmt.Errorf("unknown period: %q", period)
}

// periodWindow is one labeled period in a lookback sequence.
type periodWindow struct {
	key   string
	start time.Time
	end   time.Time
}

// periodSequence returns the current period followed by lookback prior
// periods, newest first.
func periodSequence(period string, at time.Time, lookback int) ([]periodWindow, error) {
	if lookback < 1 {
		lookback = 1
	}
	out := make([]periodWindow, 0, lookback+1)
	switch period {
	case "day":
		for i := 0; i <= lookback; i++ {
			d := at.AddDate(0, 0, -i)
			key, _ := PeriodKey("day", d)
			out = append(out, periodWindow{key: key, start: d, end: d})
		}
		return out, nil
	case "week":
		start, _, err := PeriodBounds("week", at)
		if err != nil {
			return nil, err
		}
		for i := 0; i <= lookback; i++ {
			s := start.AddDate(0, 0, -7*i)
			key, _ := PeriodKey("week", s)
			out = append(out, periodWindow{key: key, start: s, end: s.AddDate(0, 0, 6)})
		}
		return out, nil
	case "month":
		for i := 0; i <= lookback; i++ {
			s := time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -i, 0)
			key, _ := PeriodKey("month", s)
			out = append(out, periodWindow{key: key, start: s, end: s.AddDate(0, 1, -1)})
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown period: %q", period)
}
