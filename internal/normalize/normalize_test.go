package normalize

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/charlie/backend/internal/contracts"
	"github.com/wonny/charlie/backend/internal/store/memory"
	"github.com/wonny/charlie/backend/pkg/logger"
)

type recordedAudit struct {
	kind contracts.AuditKind
	key  string
}

type fakeAuditor struct {
	mu      sync.Mutex
	entries []recordedAudit
}

func (f *fakeAuditor) Record(ctx context.Context, kind contracts.AuditKind, entity, key, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, recordedAudit{kind: kind, key: key})
}

func (f *fakeAuditor) count(kind contracts.AuditKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.entries {
		if e.kind == kind {
			n++
		}
	}
	return n
}

func date(s string) time.Time {
	t, err := time.Parse(contracts.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestComputeBucket(t *testing.T) {
	tests := []struct {
		name      string
		published time.Time
		asOf      time.Time
		want      *contracts.Bucket
	}{
		{"same day", date("2024-01-15"), date("2024-01-15"), contracts.BucketPtr(contracts.Bucket0to3)},
		{"one day before", date("2024-01-14"), date("2024-01-15"), contracts.BucketPtr(contracts.Bucket0to3)},
		{"three days", date("2024-01-12"), date("2024-01-15"), contracts.BucketPtr(contracts.Bucket0to3)},
		{"four days", date("2024-01-11"), date("2024-01-15"), contracts.BucketPtr(contracts.Bucket4to10)},
		{"ten days", date("2024-01-05"), date("2024-01-15"), contracts.BucketPtr(contracts.Bucket4to10)},
		{"twenty days", date("2024-01-10"), date("2024-01-30"), contracts.BucketPtr(contracts.Bucket11to30)},
		{"thirty days", date("2023-12-31"), date("2024-01-30"), contracts.BucketPtr(contracts.Bucket11to30)},
		{"future", date("2024-01-20"), date("2024-01-15"), nil},
		{"too old", date("2024-01-01"), date("2024-02-15"), nil},
		{"late evening counts as its own date", time.Date(2024, 1, 14, 23, 59, 0, 0, time.UTC), date("2024-01-15"), contracts.BucketPtr(contracts.Bucket0to3)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeBucket(tt.published, tt.asOf))
		})
	}
}

func TestNormalizeToUTC(t *testing.T) {
	want := time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC)
	kst := time.FixedZone("KST", 9*3600)

	tests := []struct {
		name  string
		input interface{}
		want  *time.Time
	}{
		{"rfc3339 utc", "2024-01-15T14:30:00Z", &want},
		{"rfc3339 offset", "2024-01-15T23:30:00+09:00", &want},
		{"naive read as utc", "2024-01-15 14:30:00", &want},
		{"unix seconds int64", int64(1705329000), &want},
		{"unix seconds int", 1705329000, &want},
		{"unix millis float", float64(1705329000000), &want},
		{"unix digits string", "1705329000", &want},
		{"typed time in zone", time.Date(2024, 1, 15, 23, 30, 0, 0, kst), &want},
		{"rfc1123", "Mon, 15 Jan 2024 14:30:00 GMT", &want},
		{"garbage", "yesterday-ish", nil},
		{"empty", "", nil},
		{"nil", nil, nil},
		{"zero time", time.Time{}, nil},
		{"unsupported type", []byte("x"), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeToUTC(tt.input)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.True(t, tt.want.Equal(*got), "got %s", got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestComputeContentHash(t *testing.T) {
	ts := time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC)

	h1 := ComputeContentHash("Apple beats estimates", "https://x.com/a", &ts)
	h2 := ComputeContentHash("  APPLE beats ESTIMATES ", "HTTPS://X.COM/A", &ts)
	assert.Len(t, h1, 64)
	assert.Equal(t, h1, h2, "case and surrounding whitespace must not change the hash")

	inKST := ts.In(time.FixedZone("KST", 9*3600))
	assert.Equal(t, h1, ComputeContentHash("Apple beats estimates", "https://x.com/a", &inKST))

	assert.NotEqual(t, h1, ComputeContentHash("Apple misses estimates", "https://x.com/a", &ts))
	assert.NotEqual(t, h1, ComputeContentHash("Apple beats estimates", "https://x.com/a", nil))
	assert.Equal(t,
		ComputeContentHash("Apple beats estimates", "", nil),
		ComputeContentHash("Apple beats estimates", "", nil))
}

func TestCheckRelevance(t *testing.T) {
	tests := []struct {
		name     string
		headline string
		snippet  string
		want     bool
	}{
		{"ticker in headline", "AAPL shares climb after earnings", "", true},
		{"company lower case", "shares of apple inc. rose on monday", "", true},
		{"company in snippet", "Tech stocks rally broadly today", "Apple Inc. led gains", true},
		{"unrelated", "Oil prices fall on supply worries", "Crude slid 3%", false},
		{"too short even with ticker", "AAPL up", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CheckRelevance(tt.headline, tt.snippet, "AAPL", "Apple Inc."))
		})
	}
}

func TestCleanTextAndTokens(t *testing.T) {
	assert.Equal(t, "Apple & Co. rises", CleanText("<p>Apple &amp; Co.\n  <b>rises</b></p>"))
	assert.Equal(t, "plain text", CleanText("  plain \t text "))

	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
}

func TestNormalize_ParseFailure(t *testing.T) {
	asset := &contracts.Asset{ID: 1, Ticker: "AAPL", CompanyName: "Apple Inc."}

	_, err := Normalize(&contracts.RawNews{Source: "finnhub", Headline: "AAPL news headline", PublishedRaw: "not a date"}, asset, date("2024-01-15"))
	assert.ErrorIs(t, err, contracts.ErrParseFailure)

	_, err = Normalize(&contracts.RawNews{Source: "finnhub", Headline: "   ", PublishedAt: date("2024-01-14")}, asset, date("2024-01-15"))
	assert.ErrorIs(t, err, contracts.ErrParseFailure)
}

func TestNormalizer_NormalizeForDate(t *testing.T) {
	store := memory.New()
	audit := &fakeAuditor{}
	n := NewNormalizer(store.News, audit, logger.Nop())
	ctx := context.Background()

	asset := &contracts.Asset{ID: 1, Ticker: "AAPL", CompanyName: "Apple Inc."}
	published := time.Date(2024, 1, 14, 13, 0, 0, 0, time.UTC)

	raws := []*contracts.RawNews{
		{Source: "finnhub", Headline: "Apple Inc. unveils new product line", URL: "https://n.com/1", PublishedAt: published, DedupeHash: "a"},
		// same article from another provider, different casing
		{Source: "newsapi", Headline: "APPLE INC. unveils new product line", URL: "https://N.com/1", PublishedRaw: "2024-01-14T13:00:00Z", DedupeHash: "b"},
		{Source: "finnhub", Headline: "Markets mixed as bonds slide further", URL: "https://n.com/2", PublishedAt: published, DedupeHash: "c"},
		{Source: "newsapi", Headline: "AAPL broken timestamp story here", PublishedRaw: "??", DedupeHash: "d"},
	}

	stats, err := n.NormalizeForDate(ctx, asset, raws, date("2024-01-15"))
	require.NoError(t, err)

	assert.Equal(t, 4, stats.Seen)
	assert.Equal(t, 2, stats.Inserted)
	assert.Equal(t, 1, stats.Conflicts)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 1, stats.Relevant)
	assert.Equal(t, 1, audit.count(contracts.AuditDuplicateConflict))
	assert.Equal(t, 1, audit.count(contracts.AuditParseFailure))

	count, err := store.News.CountByAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	hash := ComputeContentHash("Apple Inc. unveils new product line", "https://n.com/1", &published)
	rec, err := store.News.GetForAsset(ctx, asset.ID, hash)
	require.NoError(t, err)
	assert.Equal(t, "finnhub", rec.Source, "first seen source wins")
	require.NotNil(t, rec.Bucket)
	assert.Equal(t, contracts.Bucket0to3, *rec.Bucket)

	// re-running for a later as-of date refreshes the bucket without adding rows
	stats, err = n.NormalizeForDate(ctx, asset, raws[:1], date("2024-01-22"))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Refreshed)
	assert.Equal(t, 0, stats.Conflicts, "same-source re-normalization is not a collision")

	rec, err = store.News.GetForAsset(ctx, asset.ID, hash)
	require.NoError(t, err)
	require.NotNil(t, rec.Bucket)
	assert.Equal(t, contracts.Bucket4to10, *rec.Bucket)

	count, err = store.News.CountByAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestNormalizer_SharedArticleIsPerAsset(t *testing.T) {
	aapl := &contracts.Asset{ID: 1, Ticker: "AAPL", CompanyName: "Apple Inc."}
	msft := &contracts.Asset{ID: 2, Ticker: "MSFT", CompanyName: "Microsoft Corporation"}
	published := time.Date(2024, 1, 14, 13, 0, 0, 0, time.UTC)
	raw := func() []*contracts.RawNews {
		return []*contracts.RawNews{{Source: "finnhub", Headline: "Apple unveils new iPhone lineup for the fall",
			URL: "https://n.com/iphone", PublishedAt: published, DedupeHash: "iphone"}}
	}

	tests := []struct {
		name  string
		order []*contracts.Asset
	}{
		{"AAPL first", []*contracts.Asset{aapl, msft}},
		{"MSFT first", []*contracts.Asset{msft, aapl}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			n := NewNormalizer(store.News, &fakeAuditor{}, logger.Nop())
			ctx := context.Background()

			for _, asset := range tt.order {
				_, err := n.NormalizeForDate(ctx, asset, raw(), date("2024-01-15"))
				require.NoError(t, err)
			}

			from, to := date("2024-01-01"), date("2024-01-16")
			got, err := store.News.ListRelevant(ctx, aapl.ID, from, to)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, aapl.ID, got[0].AssetID)
			assert.True(t, got[0].IsRelevant)

			got, err = store.News.ListRelevant(ctx, msft.ID, from, to)
			require.NoError(t, err)
			assert.Empty(t, got)

			hash := ComputeContentHash("Apple unveils new iPhone lineup for the fall", "https://n.com/iphone", &published)
			rec, err := store.News.GetForAsset(ctx, msft.ID, hash)
			require.NoError(t, err)
			assert.False(t, rec.IsRelevant)
			assert.Equal(t, msft.ID, rec.AssetID)

			for _, asset := range tt.order {
				count, err := store.News.CountByAsset(ctx, asset.ID)
				require.NoError(t, err)
				assert.Equal(t, 1, count, asset.Ticker)
			}
		})
	}
}

func TestExcerpt_RuneBoundary(t *testing.T) {
	raw := &contracts.RawNews{Source: "newsapi", PublishedRaw: "??", Headline: strings.Repeat("삼성전자 실적 발표 ", 40)}
	got := excerpt(raw)
	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, len(got), excerptLimit)
	assert.Contains(t, got, "source=newsapi")

	short := &contracts.RawNews{Source: "finnhub", Headline: "short"}
	assert.Equal(t, `source=finnhub published="" headline="short"`, excerpt(short))
}

func TestNormalizer_CancelledContext(t *testing.T) {
	n := NewNormalizer(memory.New().News, &fakeAuditor{}, logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := n.NormalizeForDate(ctx, &contracts.Asset{ID: 1, Ticker: "AAPL"},
		[]*contracts.RawNews{{Source: "x", Headline: "h", PublishedAt: date("2024-01-01")}}, date("2024-01-02"))
	assert.ErrorIs(t, err, context.Canceled)
}
