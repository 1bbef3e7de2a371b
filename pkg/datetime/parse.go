// Package datetime provides date and time utility functions.
package datetime

import (
	"fmt"
	"strings"
	"time"

	"github.com/iwvelando/loan-calculator/pkg/constants"
)

const (
	// DateTimeLayout is the month layout used for schedule due dates.
	DateTimeLayout = constants.DateTimeLayout
)

// serverLayouts are the date shapes the loan service has been seen to emit.
var serverLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// MustParseTime parses a date string using the given layout and panics on error.
// This is intended for use in tests where the date string is known to be valid.
func MustParseTime(layout, dateStr string) time.Time {
	t, err := time.Parse(layout, dateStr)
	if err != nil {
		panic(err)
	}
	return t
}

// OffsetDate returns the string-formatted date offset by the given number of
// months relative to the given date.
func OffsetDate(date, layout string, months int) (string, error) {
	t, err := time.Parse(layout, date)
	if err != nil {
		return date, err
	}
	return t.AddDate(0, months, 0).Format(layout), nil
}

// ParseServerDate parses a date assigned by the loan service.
func ParseServerDate(value string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	for _, layout := range serverLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", value)
}

// DisplayDate renders a server date as YYYY-MM-DD. Values that cannot be
// parsed are returned unchanged since the client only displays them.
func DisplayDate(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	t, err := ParseServerDate(value)
	if err != nil {
		return value
	}
	return t.Format(constants.DisplayDateLayout)
}
