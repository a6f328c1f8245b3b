package normalize

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/wonny/charlie/backend/internal/contracts"
	"github.com/wonny/charlie/backend/pkg/logger"
)

// Auditor records non-fatal anomalies (collisions, unparseable records)
type Auditor interface {
	Record(ctx context.Context, kind contracts.AuditKind, entity, key, detail string)
}

// Normalizer turns raw provider news into canonical, bucketed, relevance-flagged records
// ⭐ SSOT: 뉴스 정규화/중복제거는 여기서만
type Normalizer struct {
	news   contracts.NewsRepository
	audit  Auditor
	logger *logger.Logger
}

// NewNormalizer creates a normalizer
func NewNormalizer(news contracts.NewsRepository, audit Auditor, log *logger.Logger) *Normalizer {
	return &Normalizer{
		news:   news,
		audit:  audit,
		logger: log.Component("normalize"),
	}
}

// Stats summarizes one NormalizeForDate call
type Stats struct {
	Seen      int `json:"seen"`
	Inserted  int `json:"inserted"`
	Refreshed int `json:"refreshed"`
	Conflicts int `json:"conflicts"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
	Relevant  int `json:"relevant"`
}

// Normalize builds the normalized form of one raw record for one as-of date.
// Returns ErrParseFailure when the timestamp cannot be read or the headline is empty.
func Normalize(raw *contracts.RawNews, asset *contracts.Asset, asOfDate time.Time) (*contracts.NormalizedNews, error) {
	published := NormalizeToUTC(raw.Published())
	if published == nil {
		return nil, fmt.Errorf("%w: published_at %q", contracts.ErrParseFailure, raw.PublishedRaw)
	}

	headline := CleanText(raw.Headline)
	if headline == "" {
		return nil, fmt.Errorf("%w: empty headline", contracts.ErrParseFailure)
	}
	snippet := CleanText(raw.Snippet)

	lang := strings.ToLower(strings.TrimSpace(raw.Language))
	if lang == "" {
		lang = "en"
	}

	return &contracts.NormalizedNews{
		AssetID:        asset.ID,
		PublishedAtUTC: *published,
		Source:         raw.Source,
		Headline:       headline,
		Snippet:        snippet,
		URL:            strings.TrimSpace(raw.URL),
		TokensCount:    EstimateTokens(headline + " " + snippet),
		Bucket:         ComputeBucket(*published, asOfDate),
		Lang:           lang,
		IsRelevant:     CheckRelevance(headline, snippet, asset.Ticker, asset.CompanyName),
		ContentHash:    ComputeContentHash(headline, raw.URL, published),
	}, nil
}

// NormalizeForDate normalizes a batch for one as-of date and upserts it.
// Record-level failures are logged, audited and skipped; only context cancellation is returned.
func (n *Normalizer) NormalizeForDate(ctx context.Context, asset *contracts.Asset, raws []*contracts.RawNews, asOfDate time.Time) (Stats, error) {
	var stats Stats
	seen := make(map[string]string, len(raws)) // content_hash → source

	log := n.logger.WithFields(map[string]interface{}{
		"ticker":     asset.Ticker,
		"as_of_date": asOfDate.Format(contracts.DateLayout),
	})

	for _, raw := range raws {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Seen++

		rec, err := Normalize(raw, asset, asOfDate)
		if err != nil {
			stats.Skipped++
			log.WithError(err).WithField("source", raw.Source).Warn("Skipping unparseable news record")
			n.audit.Record(ctx, contracts.AuditParseFailure, "raw_news", raw.DedupeHash, excerpt(raw))
			continue
		}

		if firstSource, dup := seen[rec.ContentHash]; dup {
			stats.Conflicts++
			n.audit.Record(ctx, contracts.AuditDuplicateConflict, "normalized_news", rec.ContentHash,
				fmt.Sprintf("source=%s collides with source=%s in batch", rec.Source, firstSource))
			continue
		}
		seen[rec.ContentHash] = rec.Source

		stored, outcome, err := n.news.Upsert(ctx, rec)
		if err != nil {
			stats.Failed++
			log.WithError(err).Warn("Failed to upsert normalized news")
			continue
		}

		switch outcome {
		case contracts.UpsertInserted:
			stats.Inserted++
		case contracts.UpsertRefreshed:
			stats.Refreshed++
			if stored != nil && stored.Source != rec.Source {
				stats.Conflicts++
				log.WithField("content_hash", rec.ContentHash).Debug("Cross-source duplicate collapsed")
				n.audit.Record(ctx, contracts.AuditDuplicateConflict, "normalized_news", rec.ContentHash,
					fmt.Sprintf("source=%s collides with stored source=%s", rec.Source, stored.Source))
			}
		}

		if rec.IsRelevant {
			stats.Relevant++
		}
	}

	log.WithFields(map[string]interface{}{
		"seen":      stats.Seen,
		"inserted":  stats.Inserted,
		"refreshed": stats.Refreshed,
		"conflicts": stats.Conflicts,
		"skipped":   stats.Skipped,
		"relevant":  stats.Relevant,
	}).Info("News normalization completed")

	return stats, nil
}

// excerptLimit caps audit details in bytes
const excerptLimit = 300

// excerpt cuts on a rune boundary so the audit row stays valid UTF-8
func excerpt(raw *contracts.RawNews) string {
	s := fmt.Sprintf("source=%s published=%q headline=%q", raw.Source, raw.PublishedRaw, raw.Headline)
	if len(s) <= excerptLimit {
		return s
	}
	cut := excerptLimit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
