package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/charlie/backend/internal/contracts"
	"github.com/wonny/charlie/backend/pkg/config"
	"github.com/wonny/charlie/backend/pkg/database"
)

func TestLimitArg(t *testing.T) {
	assert.Nil(t, limitArg(0))
	assert.Nil(t, limitArg(-3))
	assert.Equal(t, 5, limitArg(5))
}

func openStore(t *testing.T) (*contracts.Store, context.Context) {
	t.Helper()
	if testing.Short() || os.Getenv("DATABASE_URL") == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.Database.Schema = "charlie_test"

	db, err := database.New(cfg)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	require.NoError(t, db.Migrate(ctx))

	return New(db.Pool), ctx
}

func TestPostgresSampleRoundTrip(t *testing.T) {
	store, ctx := openStore(t)

	asset, err := store.Assets.Upsert(ctx, "ZZTEST", "Test Corp")
	require.NoError(t, err)

	asOf := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	sample := &contracts.AssembledSample{
		AssetID:      asset.ID,
		AsOfDate:     asOf,
		VariationID:  1,
		AsOfCutoff:   asOf.Add(24*time.Hour - time.Second),
		PromptText:   "Ticker: ZZTEST",
		PromptTokens: 4,
		SourcesMeta: contracts.SourcesMeta{
			Seed: 1234,
			News: contracts.NewsMeta{ByBucket: map[contracts.Bucket]int{contracts.Bucket0to3: 0}},
		},
	}

	id1, err := store.Samples.Upsert(ctx, sample)
	require.NoError(t, err)

	// 같은 키로 재실행하면 같은 sample_id
	sample.PromptText = "Ticker: ZZTEST (rerun)"
	id2, err := store.Samples.Upsert(ctx, sample)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	got, err := store.Samples.Get(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, "ZZTEST", got.Ticker)
	assert.Equal(t, "Ticker: ZZTEST (rerun)", got.PromptText)
	assert.Equal(t, int64(1234), got.SourcesMeta.Seed)

	signal := 0.012
	class := 3
	require.NoError(t, store.Labels.Upsert(ctx, &contracts.SampleLabel{
		SampleID: id1, CompositeSignal: &signal, LabelClass: &class, ComputedAt: time.Now().UTC(),
	}))

	rows, err := store.Export.ExportRows(ctx, asset.ID)
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	require.NotNil(t, rows[0].Label)
	assert.Equal(t, 3, *rows[0].Label.LabelClass)
	assert.Nil(t, rows[0].Thesis)

	_, err = store.Samples.Get(ctx, -1)
	assert.ErrorIs(t, err, contracts.ErrNotFound)
}

func TestPostgresAuditFilter(t *testing.T) {
	store, ctx := openStore(t)

	require.NoError(t, store.Audit.Record(ctx, &contracts.AuditEntry{
		Kind: contracts.AuditParseFailure, Entity: "raw_news", EntityKey: "x", Detail: "bad date",
	}))

	entries, err := store.Audit.List(ctx, contracts.AuditParseFailure, 10)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	for _, e := range entries {
		assert.Equal(t, contracts.AuditParseFailure, e.Kind)
	}
}

func TestPostgresNewsPerAsset(t *testing.T) {
	store, ctx := openStore(t)

	aapl, err := store.Assets.Upsert(ctx, "ZZAAPL", "Apple Inc.")
	require.NoError(t, err)
	msft, err := store.Assets.Upsert(ctx, "ZZMSFT", "Microsoft Corporation")
	require.NoError(t, err)

	published := time.Date(2024, 1, 14, 13, 0, 0, 0, time.UTC)
	hash := "zz-shared-" + time.Now().Format("150405.000000")
	article := func(assetID int64, relevant bool) *contracts.NormalizedNews {
		return &contracts.NormalizedNews{
			AssetID: assetID, PublishedAtUTC: published, Source: "finnhub",
			Headline: "Apple unveils new iPhone lineup for the fall", TokensCount: 11,
			Bucket: contracts.BucketPtr(contracts.Bucket0to3), Lang: "en",
			IsRelevant: relevant, ContentHash: hash,
		}
	}

	stored, outcome, err := store.News.Upsert(ctx, article(aapl.ID, true))
	require.NoError(t, err)
	assert.Equal(t, contracts.UpsertInserted, outcome)
	assert.Equal(t, aapl.ID, stored.AssetID)

	stored, outcome, err = store.News.Upsert(ctx, article(msft.ID, false))
	require.NoError(t, err)
	assert.Equal(t, contracts.UpsertRefreshed, outcome)
	assert.Equal(t, msft.ID, stored.AssetID)
	assert.False(t, stored.IsRelevant)

	from, to := published.Add(-time.Hour), published.Add(time.Hour)
	got, err := store.News.ListRelevant(ctx, aapl.ID, from, to)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].IsRelevant)

	got, err = store.News.ListRelevant(ctx, msft.ID, from, to)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = store.News.GetForAsset(ctx, -1, hash)
	assert.ErrorIs(t, err, contracts.ErrNotFound)
}

func TestPostgresInsiderSameDayOrder(t *testing.T) {
	store, ctx := openStore(t)

	asset, err := store.Assets.Upsert(ctx, "ZZINSD", "Insider Test Corp")
	require.NoError(t, err)

	day := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Insider.SaveBatch(ctx, []*contracts.InsiderTxn{
		{AssetID: asset.ID, FilingDate: day, InsiderName: "COOK TIMOTHY D", TransactionType: "S-Sale", Shares: 500, Price: 185.5},
		{AssetID: asset.ID, FilingDate: day, InsiderName: "COOK TIMOTHY D", TransactionType: "M-Exempt", Shares: 900, Price: 0},
		{AssetID: asset.ID, FilingDate: day, InsiderName: "COOK TIMOTHY D", TransactionType: "S-Sale", Shares: 100, Price: 186},
	}))

	got, err := store.Insider.ListAsOf(ctx, asset.ID, day, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "M-Exempt", got[0].TransactionType)
	assert.Equal(t, 100.0, got[1].Shares)
	assert.Equal(t, 500.0, got[2].Shares)
}
