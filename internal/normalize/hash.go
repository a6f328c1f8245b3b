package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// ComputeContentHash returns the cross-source dedup key (64 hex chars).
// Headline and URL are trimmed and lower-cased; the timestamp is rendered as
// RFC3339 in UTC, or empty when unknown.
func ComputeContentHash(headline, url string, publishedAt *time.Time) string {
	ts := ""
	if publishedAt != nil && !publishedAt.IsZero() {
		ts = publishedAt.UTC().Format(time.RFC3339)
	}

	canonical := strings.Join([]string{
		strings.ToLower(strings.TrimSpace(headline)),
		strings.ToLower(strings.TrimSpace(url)),
		ts,
	}, "|")

	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
