// Package purge translates purge requests into bounded delete filters.
package purge

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ChrisReeves12/keepwatch-api-sub000/internal/store"
)

const maxIDs = 1000

// ErrValidation wraps all purge request shape errors.
var ErrValidation = errors.New("invalid purge request")

func validationError(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

var lookbackPattern = regexp.MustCompile(`^(\d+)\s*([a-zA-Z]+)$`)

const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02-15:04:05"
)

// ValidateIDs checks an explicit ID list: 1 to 1000 non-blank entries.
func ValidateIDs(ids []string) error {
	if len(ids) == 0 {
		return validationError("logIds must not be empty")
	}
	if len(ids) > maxIDs {
		return validationError("logIds accepts at most 1000 entries")
	}
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			return validationError("logIds entries must not be blank")
		}
	}
	return nil
}

// ParseFilter builds a time-bounded purge filter from the query params.
// Exactly one of lookbackTime and timeRange must be given.
func ParseFilter(lookbackTime, timeRange, environment, level string, now time.Time) (store.PurgeFilter, error) {
	if lookbackTime != "" && timeRange != "" {
		return store.PurgeFilter{}, validationError("lookbackTime and timeRange are mutually exclusive")
	}
	if lookbackTime == "" && timeRange == "" {
		return store.PurgeFilter{}, validationError("either lookbackTime or timeRange is required")
	}

	var minTS, maxTS int64
	if lookbackTime != "" {
		start, err := parseLookback(lookbackTime, now)
		if err != nil {
			return store.PurgeFilter{}, err
		}
		minTS, maxTS = start.UnixMilli(), now.UnixMilli()
	} else {
		start, end, err := parseTimeRange(timeRange)
		if err != nil {
			return store.PurgeFilter{}, err
		}
		minTS, maxTS = start.UnixMilli(), end.UnixMilli()
	}

	return store.PurgeFilter{
		MinTimestampMS: minTS,
		MaxTimestampMS: maxTS,
		Environment:    environment,
		Level:          level,
	}, nil
}

// parseLookback accepts compact and spelled-out units: "10m", "2h", "5d",
// "3months".
func parseLookback(s string, now time.Time) (time.Time, error) {
	m := lookbackPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return time.Time{}, validationError("unparsable lookbackTime " + strconv.Quote(s))
	}
	amount, err := strconv.Atoi(m[1])
	if err != nil || amount <= 0 {
		return time.Time{}, validationError("lookbackTime amount must be positive")
	}

	switch strings.ToLower(m[2]) {
	case "m", "min", "mins", "minute", "minutes":
		return now.Add(-time.Duration(amount) * time.Minute), nil
	case "h", "hr", "hrs", "hour", "hours":
		return now.Add(-time.Duration(amount) * time.Hour), nil
	case "d", "day", "days":
		return now.AddDate(0, 0, -amount), nil
	case "w", "week", "weeks":
		return now.AddDate(0, 0, -7*amount), nil
	case "month", "months":
		return now.AddDate(0, -amount, 0), nil
	default:
		return time.Time{}, validationError("unknown lookbackTime unit " + strconv.Quote(m[2]))
	}
}

// parseTimeRange accepts "YYYY-MM-DD to YYYY-MM-DD" and the same shape with
// "-HH:MM:SS" suffixes. A date-only end bound covers its whole day.
func parseTimeRange(s string) (time.Time, time.Time, error) {
	parts := strings.Split(s, " to ")
	if len(parts) != 2 {
		return time.Time{}, time.Time{}, validationError("timeRange must be \"<start> to <end>\"")
	}

	start, _, err := parseBound(parts[0])
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, dateOnly, err := parseBound(parts[1])
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if dateOnly {
		end = end.Add(24*time.Hour - time.Millisecond)
	}

	if start.After(end) {
		return time.Time{}, time.Time{}, validationError("timeRange start must not be after end")
	}
	return start, end, nil
}

func parseBound(s string) (time.Time, bool, error) {
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation(dateTimeLayout, s, time.UTC); err == nil {
		return t, false, nil
	}
	if t, err := time.ParseInLocation(dateLayout, s, time.UTC); err == nil {
		return t, true, nil
	}
	return time.Time{}, false, validationError("unparsable timeRange bound " + strconv.Quote(s))
}
