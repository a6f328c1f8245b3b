package normalize

import (
	"time"

	"github.com/wonny/charlie/backend/internal/contracts"
)

// ComputeBucket assigns a recency band for one (record, as-of date) pair.
// d = calendar days from the publication date to the as-of date:
// d<0 → nil (future), 0..3 → "0-3", 4..10 → "4-10", 11..30 → "11-30", d>30 → nil.
func ComputeBucket(publishedAt time.Time, asOfDate time.Time) *contracts.Bucket {
	d := DaysBetween(publishedAt.UTC(), asOfDate)

	switch {
	case d < 0:
		return nil
	case d <= 3:
		return contracts.BucketPtr(contracts.Bucket0to3)
	case d <= 10:
		return contracts.BucketPtr(contracts.Bucket4to10)
	case d <= 30:
		return contracts.BucketPtr(contracts.Bucket11to30)
	default:
		return nil
	}
}

// DaysBetween returns the number of calendar days from a's date to b's date,
// each taken in its own location.
func DaysBetween(a, b time.Time) int {
	da := civil(a)
	db := civil(b)
	return int(db.Sub(da).Hours() / 24)
}

// DateOnly truncates t to midnight UTC of its calendar date
func DateOnly(t time.Time) time.Time {
	return civil(t)
}

func civil(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
