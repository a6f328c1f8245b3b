package fetcher

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/wonny/charlie/backend/internal/contracts"
	"github.com/wonny/charlie/backend/pkg/httputil"
)

// newsAPIMaxAgeDays is the free-tier horizon (30 days) with a safety margin
const newsAPIMaxAgeDays = 28

// NewsAPIFetcher fetches articles from NewsAPI /everything
type NewsAPIFetcher struct {
	client   *httputil.Client
	apiKey   string
	baseURL  string
	days     int
	pageSize int
	now      func() time.Time
}

// NewNewsAPIFetcher creates a NewsAPI fetcher covering `days` calendar days
func NewNewsAPIFetcher(client *httputil.Client, apiKey, baseURL string, days int) *NewsAPIFetcher {
	return &NewsAPIFetcher{client: client, apiKey: apiKey, baseURL: baseURL, days: days, pageSize: 20, now: time.Now}
}

type newsAPIResponse struct {
	Status   string           `json:"status"`
	Code     string           `json:"code"`
	Message  string           `json:"message"`
	Articles []newsAPIArticle `json:"articles"`
}

type newsAPIArticle struct {
	Source struct {
		ID   string `json:"id" msgpack:"id"`
		Name string `json:"name" msgpack:"name"`
	} `json:"source" msgpack:"source"`
	Author      string `json:"author" msgpack:"author"`
	Title       string `json:"title" msgpack:"title"`
	Description string `json:"description" msgpack:"description"`
	URL         string `json:"url" msgpack:"url"`
	PublishedAt string `json:"publishedAt" msgpack:"publishedAt"`
}

// Name returns the provider name
func (f *NewsAPIFetcher) Name() string { return ProviderNewsAPI }

// FetchNews returns English articles for the ticker; dates older than the free-tier horizon are TierRestricted
func (f *NewsAPIFetcher) FetchNews(ctx context.Context, asset *contracts.Asset, asOf time.Time) ([]*contracts.RawNews, error) {
	age := int(civilDate(f.now()).Sub(civilDate(asOf)).Hours() / 24)
	if age > newsAPIMaxAgeDays {
		return nil, fmt.Errorf("%s: %w: as_of_date is %d days old", ProviderNewsAPI, contracts.ErrTierRestricted, age)
	}

	q := url.Values{}
	q.Set("q", asset.Ticker)
	q.Set("from", day(asOf.AddDate(0, 0, -f.days)))
	q.Set("to", day(asOf))
	q.Set("language", "en")
	q.Set("sortBy", "relevancy")
	q.Set("pageSize", strconv.Itoa(f.pageSize))
	q.Set("apiKey", f.apiKey)

	var resp newsAPIResponse
	err := f.client.GetJSON(ctx, httputil.Request{
		Provider: ProviderNewsAPI,
		URL:      f.baseURL + "/everything",
		Query:    q,
		CacheTTL: cacheTTL(asOf, f.now()),
	}, &resp)
	if err != nil {
		return nil, classify(ProviderNewsAPI, err)
	}
	if resp.Status == "error" {
		return nil, fmt.Errorf("%s: %w: %s %s", ProviderNewsAPI, contracts.ErrFetchFailure, resp.Code, resp.Message)
	}

	fetchedAt := f.now().UTC()
	out := make([]*contracts.RawNews, 0, len(resp.Articles))
	for _, a := range resp.Articles {
		out = append(out, &contracts.RawNews{
			AssetID:      asset.ID,
			Source:       ProviderNewsAPI,
			Headline:     a.Title,
			Snippet:      a.Description,
			URL:          a.URL,
			Language:     "en",
			PublishedRaw: a.PublishedAt,
			FetchedAt:    fetchedAt,
			DedupeHash:   rawDedupeHash(ProviderNewsAPI, a.URL, a.Title, a.PublishedAt),
			Payload:      encodePayload(a),
		})
	}
	return out, nil
}
