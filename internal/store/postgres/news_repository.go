package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/charlie/backend/internal/contracts"
)

// RawNewsRepository implements contracts.RawNewsRepository
type RawNewsRepository struct {
	pool *pgxpool.Pool
}

// NewRawNewsRepository creates a new raw news repository
func NewRawNewsRepository(pool *pgxpool.Pool) *RawNewsRepository {
	return &RawNewsRepository{pool: pool}
}

// SaveBatch stores fetched articles; an article already stored for (asset, source, dedupe_hash) is left untouched
func (r *RawNewsRepository) SaveBatch(ctx context.Context, items []*contracts.RawNews) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO raw_news
			(asset_id, source, headline, snippet, url, language, published_at, published_raw, fetched_at, dedupe_hash, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (asset_id, source, dedupe_hash) DO NOTHING`

	for _, it := range items {
		var published *time.Time
		if !it.PublishedAt.IsZero() {
			published = &it.PublishedAt
		}
		batch.Queue(query, it.AssetID, it.Source, it.Headline, it.Snippet, it.URL, it.Language,
			published, it.PublishedRaw, it.FetchedAt, it.DedupeHash, it.Payload)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	saved := 0
	for range items {
		tag, err := br.Exec()
		if err != nil {
			return saved, fmt.Errorf("insert raw news: %w", err)
		}
		saved += int(tag.RowsAffected())
	}
	return saved, nil
}

// ListByAsset returns every raw article of an asset in insertion order
func (r *RawNewsRepository) ListByAsset(ctx context.Context, assetID int64) ([]*contracts.RawNews, error) {
	query := `
		SELECT raw_id, asset_id, source, COALESCE(headline, ''), COALESCE(snippet, ''), COALESCE(url, ''),
		       COALESCE(language, ''), published_at, COALESCE(published_raw, ''), fetched_at, dedupe_hash, payload
		FROM raw_news
		WHERE asset_id = $1
		ORDER BY raw_id
	`

	rows, err := r.pool.Query(ctx, query, assetID)
	if err != nil {
		return nil, fmt.Errorf("list raw news: %w", err)
	}
	defer rows.Close()

	var out []*contracts.RawNews
	for rows.Next() {
		var n contracts.RawNews
		var published *time.Time
		if err := rows.Scan(&n.ID, &n.AssetID, &n.Source, &n.Headline, &n.Snippet, &n.URL,
			&n.Language, &published, &n.PublishedRaw, &n.FetchedAt, &n.DedupeHash, &n.Payload); err != nil {
			return nil, err
		}
		if published != nil {
			n.PublishedAt = published.UTC()
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

// NewsRepository implements contracts.NewsRepository
// ⭐ SSOT: normalized_news 저장소는 여기서만
type NewsRepository struct {
	pool *pgxpool.Pool
}

// NewNewsRepository creates a new normalized news repository
func NewNewsRepository(pool *pgxpool.Pool) *NewsRepository {
	return &NewsRepository{pool: pool}
}

// newsColumns reads normalized_news n joined with one asset's normalized_news_asset l
const newsColumns = `n.news_id, l.asset_id, n.published_at_utc, n.source, n.headline, COALESCE(n.snippet, ''),
	COALESCE(n.url, ''), n.tokens_count, l.bucket, n.lang, l.is_relevant, n.content_hash`

const newsJoin = `normalized_news n JOIN normalized_news_asset l ON l.news_id = n.news_id`

func scanNews(row pgx.Row, extra ...interface{}) (*contracts.NormalizedNews, error) {
	var n contracts.NormalizedNews
	var bucket *string
	dest := []interface{}{&n.ID, &n.AssetID, &n.PublishedAtUTC, &n.Source, &n.Headline, &n.Snippet, &n.URL,
		&n.TokensCount, &bucket, &n.Lang, &n.IsRelevant, &n.ContentHash}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	n.PublishedAtUTC = n.PublishedAtUTC.UTC()
	if bucket != nil {
		n.Bucket = contracts.BucketPtr(contracts.Bucket(*bucket))
	}
	return &n, nil
}

// Upsert stores the article once per content_hash and the asset's bucket and
// relevance in its own link row. inserted refers to the article.
func (r *NewsRepository) Upsert(ctx context.Context, n *contracts.NormalizedNews) (*contracts.NormalizedNews, contracts.UpsertOutcome, error) {
	query := `
		WITH n AS (
			INSERT INTO normalized_news
				(published_at_utc, source, headline, snippet, url, tokens_count, lang, content_hash)
			VALUES ($2, $3, $4, $5, $6, $7, $9, $11)
			ON CONFLICT (content_hash) DO UPDATE SET
				tokens_count = EXCLUDED.tokens_count,
				published_at_utc = EXCLUDED.published_at_utc,
				updated_at = NOW()
			RETURNING news_id, published_at_utc, source, headline, snippet, url, tokens_count, lang, content_hash,
				(xmax = 0) AS inserted
		), l AS (
			INSERT INTO normalized_news_asset (news_id, asset_id, bucket, is_relevant)
			SELECT news_id, $1, $8, $10 FROM n
			ON CONFLICT (news_id, asset_id) DO UPDATE SET
				bucket = EXCLUDED.bucket,
				is_relevant = EXCLUDED.is_relevant,
				updated_at = NOW()
			RETURNING news_id, asset_id, bucket, is_relevant
		)
		SELECT ` + newsColumns + `, n.inserted
		FROM n JOIN l ON l.news_id = n.news_id`

	var bucket *string
	if n.Bucket != nil {
		b := string(*n.Bucket)
		bucket = &b
	}

	var inserted bool
	stored, err := scanNews(r.pool.QueryRow(ctx, query,
		n.AssetID, n.PublishedAtUTC, n.Source, n.Headline, n.Snippet, n.URL,
		n.TokensCount, bucket, n.Lang, n.IsRelevant, n.ContentHash,
	), &inserted)
	if err != nil {
		return nil, contracts.UpsertInserted, fmt.Errorf("upsert normalized news: %w", err)
	}

	if inserted {
		return stored, contracts.UpsertInserted, nil
	}
	return stored, contracts.UpsertRefreshed, nil
}

// GetForAsset retrieves one asset's view of an article
func (r *NewsRepository) GetForAsset(ctx context.Context, assetID int64, hash string) (*contracts.NormalizedNews, error) {
	query := `SELECT ` + newsColumns + ` FROM ` + newsJoin + ` WHERE l.asset_id = $1 AND n.content_hash = $2`
	n, err := scanNews(r.pool.QueryRow(ctx, query, assetID, hash))
	if err != nil {
		return nil, notFound(err, "news", hash)
	}
	return n, nil
}

// ListRelevant returns the asset's relevant records with from <= published_at_utc <= to
func (r *NewsRepository) ListRelevant(ctx context.Context, assetID int64, from, to time.Time) ([]*contracts.NormalizedNews, error) {
	query := `SELECT ` + newsColumns + `
		FROM ` + newsJoin + `
		WHERE l.asset_id = $1
		  AND l.is_relevant
		  AND n.published_at_utc BETWEEN $2 AND $3
		ORDER BY n.published_at_utc, n.content_hash`

	rows, err := r.pool.Query(ctx, query, assetID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list relevant news: %w", err)
	}
	defer rows.Close()

	var out []*contracts.NormalizedNews
	for rows.Next() {
		n, err := scanNews(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// CountByAsset counts articles linked to an asset
func (r *NewsRepository) CountByAsset(ctx context.Context, assetID int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM normalized_news_asset WHERE asset_id = $1`, assetID).Scan(&count)
	return count, err
}
