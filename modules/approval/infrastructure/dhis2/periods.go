package dhis2

import (
	"strconv"
	"time"

	"github.com/go-faster/errors"
)

const dateLayout = "2006-01-02"

// periodRange returns the first and last day of a period id. Yearly,
// six-monthly (2023S1), quarterly (2023Q2) and monthly (202304) ids are
// understood.
func periodRange(period string) (start, end time.Time, err error) {
	if len(period) < 4 {
		return start, end, errors.Errorf("invalid period %q", period)
	}
	year, err := strconv.Atoi(period[:4])
	if err != nil {
		return start, end, errors.Errorf("invalid period %q", period)
	}
	months, first := 12, 1
	rest := period[4:]
	switch {
	case rest == "":
	case len(rest) == 2 && rest[0] == 'Q':
		q, convErr := strconv.Atoi(rest[1:])
		if convErr != nil || q < 1 || q > 4 {
			return start, end, errors.Errorf("invalid period %q", period)
		}
		months, first = 3, (q-1)*3+1
	case len(rest) == 2 && rest[0] == 'S':
		s, convErr := strconv.Atoi(rest[1:])
		if convErr != nil || s < 1 || s > 2 {
			return start, end, errors.Errorf("invalid period %q", period)
		}
		months, first = 6, (s-1)*6+1
	case len(rest) == 2:
		m, convErr := strconv.Atoi(rest)
		if convErr != nil || m < 1 || m > 12 {
			return start, end, errors.Errorf("invalid period %q", period)
		}
		months, first = 1, m
	default:
		return start, end, errors.Errorf("unsupported period %q", period)
	}
	start = time.Date(year, time.Month(first), 1, 0, 0, 0, 0, time.UTC)
	end = start.AddDate(0, months, -1)
	return start, end, nil
}
