package normalize

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// layouts tried in order for free-form provider timestamps.
// Layouts without a zone are read as UTC.
var layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05 MST",
	"2006-01-02T15:04",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"01/02/2006, 03:04 PM, -0700 MST",
	"01/02/2006 15:04",
	"01/02/2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"20060102T150405",
}

// NormalizeToUTC converts a provider timestamp to UTC.
// Accepts time.Time, *time.Time, unix seconds (ints, floats, digit strings; millis above 1e12)
// and free-form strings. Returns nil when the value cannot be parsed.
func NormalizeToUTC(v interface{}) *time.Time {
	switch t := v.(type) {
	case nil:
		return nil
	case time.Time:
		if t.IsZero() {
			return nil
		}
		u := t.UTC()
		return &u
	case *time.Time:
		if t == nil {
			return nil
		}
		return NormalizeToUTC(*t)
	case int:
		return fromUnix(float64(t))
	case int64:
		return fromUnix(float64(t))
	case float64:
		return fromUnix(t)
	case string:
		return parseString(t)
	default:
		return nil
	}
}

func parseString(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	if isDigits(s) && len(s) >= 9 {
		n, err := strconv.ParseInt(s, 10, 64)
		if err == nil {
			return fromUnix(float64(n))
		}
	}

	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}

func fromUnix(f float64) *time.Time {
	if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	if f > 1e12 {
		f /= 1000
	}
	sec, frac := math.Modf(f)
	t := time.Unix(int64(sec), int64(frac*1e9)).UTC()
	return &t
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
