package contracts

import "time"

// Bucket is a coarse recency band of a news item relative to one as-of date
type Bucket string

const (
	Bucket0to3   Bucket = "0-3"
	Bucket4to10  Bucket = "4-10"
	Bucket11to30 Bucket = "11-30"
)

// AllBuckets returns the buckets in prompt order (most recent first)
func AllBuckets() []Bucket {
	return []Bucket{Bucket0to3, Bucket4to10, Bucket11to30}
}

// BucketPtr returns a pointer to b
func BucketPtr(b Bucket) *Bucket {
	return &b
}

// Asset is one tradable instrument
type Asset struct {
	ID          int64  `json:"asset_id"`
	Ticker      string `json:"ticker"`
	CompanyName string `json:"company_name,omitempty"`
	Sector      string `json:"sector,omitempty"`
}

// RawNews is one fetched article, immutable once stored.
// PublishedAt is set when the provider returned a typed timestamp,
// PublishedRaw otherwise. Payload is the msgpack-encoded provider record
// and is never inspected downstream.
type RawNews struct {
	ID           int64     `json:"raw_id"`
	AssetID      int64     `json:"asset_id"`
	Source       string    `json:"source"`
	Headline     string    `json:"headline"`
	Snippet      string    `json:"snippet"`
	URL          string    `json:"url"`
	Language     string    `json:"language,omitempty"`
	PublishedAt  time.Time `json:"published_at,omitempty"`
	PublishedRaw string    `json:"published_raw,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
	DedupeHash   string    `json:"dedupe_hash"`
	Payload      []byte    `json:"-"`
}

// Published returns the typed timestamp if present, otherwise the raw string
func (r *RawNews) Published() interface{} {
	if !r.PublishedAt.IsZero() {
		return r.PublishedAt
	}
	return r.PublishedRaw
}

// NormalizedNews is one asset's view of a canonical, deduplicated news record.
// ContentHash is the article identity; content fields are first-seen wins and
// TokensCount/PublishedAtUTC may be refreshed. AssetID, Bucket and IsRelevant
// are per asset.
type NormalizedNews struct {
	ID             int64     `json:"news_id"`
	AssetID        int64     `json:"asset_id"`
	PublishedAtUTC time.Time `json:"published_at_utc"`
	Source         string    `json:"source"`
	Headline       string    `json:"headline"`
	Snippet        string    `json:"snippet"`
	URL            string    `json:"url"`
	TokensCount    int       `json:"tokens_count"`
	Bucket         *Bucket   `json:"bucket"`
	Lang           string    `json:"lang"`
	IsRelevant     bool      `json:"is_relevant"`
	ContentHash    string    `json:"content_hash"`
}

// UpsertOutcome tells whether an upsert created a row or refreshed an existing one
type UpsertOutcome int

const (
	UpsertInserted UpsertOutcome = iota
	UpsertRefreshed
)
