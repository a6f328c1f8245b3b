package fetcher

import (
	"context"
	"net/url"
	"time"

	"github.com/wonny/charlie/backend/internal/contracts"
	"github.com/wonny/charlie/backend/pkg/httputil"
	"github.com/wonny/charlie/backend/pkg/redis"
)

// FinnhubFetcher fetches company news from Finnhub
type FinnhubFetcher struct {
	client  *httputil.Client
	apiKey  string
	baseURL string
	days    int
	now     func() time.Time
}

// NewFinnhubFetcher creates a Finnhub company-news fetcher covering `days` calendar days
func NewFinnhubFetcher(client *httputil.Client, apiKey, baseURL string, days int) *FinnhubFetcher {
	return &FinnhubFetcher{client: client, apiKey: apiKey, baseURL: baseURL, days: days, now: time.Now}
}

type finnhubArticle struct {
	Category string `json:"category" msgpack:"category"`
	Datetime int64  `json:"datetime" msgpack:"datetime"`
	Headline string `json:"headline" msgpack:"headline"`
	ID       int64  `json:"id" msgpack:"id"`
	Related  string `json:"related" msgpack:"related"`
	Source   string `json:"source" msgpack:"source"`
	Summary  string `json:"summary" msgpack:"summary"`
	URL      string `json:"url" msgpack:"url"`
}

// Name returns the provider name
func (f *FinnhubFetcher) Name() string { return ProviderFinnhub }

// FetchNews returns articles dated within [asOf-days, asOf]
func (f *FinnhubFetcher) FetchNews(ctx context.Context, asset *contracts.Asset, asOf time.Time) ([]*contracts.RawNews, error) {
	q := url.Values{}
	q.Set("symbol", asset.Ticker)
	q.Set("from", day(asOf.AddDate(0, 0, -f.days)))
	q.Set("to", day(asOf))
	q.Set("token", f.apiKey)

	var articles []finnhubArticle
	err := f.client.GetJSON(ctx, httputil.Request{
		Provider: ProviderFinnhub,
		URL:      f.baseURL + "/company-news",
		Query:    q,
		CacheTTL: cacheTTL(asOf, f.now()),
	}, &articles)
	if err != nil {
		return nil, classify(ProviderFinnhub, err)
	}

	fetchedAt := f.now().UTC()
	out := make([]*contracts.RawNews, 0, len(articles))
	for _, a := range articles {
		raw := &contracts.RawNews{
			AssetID:   asset.ID,
			Source:    ProviderFinnhub,
			Headline:  a.Headline,
			Snippet:   a.Summary,
			URL:       a.URL,
			FetchedAt: fetchedAt,
			Payload:   encodePayload(a),
		}
		if a.Datetime > 0 {
			raw.PublishedAt = time.Unix(a.Datetime, 0).UTC()
		}
		raw.DedupeHash = rawDedupeHash(raw.Source, a.URL, a.Headline, raw.PublishedAt.Format(time.RFC3339))
		out = append(out, raw)
	}
	return out, nil
}

// cacheTTL caches historical windows for a day; windows touching today are not cached
func cacheTTL(asOf, now time.Time) time.Duration {
	if civilDate(asOf).Before(civilDate(now)) {
		return redis.TTLHistorical
	}
	return 0
}
