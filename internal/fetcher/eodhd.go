package fetcher

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/wonny/charlie/backend/internal/contracts"
	"github.com/wonny/charlie/backend/pkg/httputil"
)

// EODHDFetcher fetches options chains and the economic calendar from EODHD
type EODHDFetcher struct {
	client  *httputil.Client
	apiKey  string
	baseURL string
	now     func() time.Time
}

// NewEODHDFetcher creates an EODHD fetcher
func NewEODHDFetcher(client *httputil.Client, apiKey, baseURL string) *EODHDFetcher {
	return &EODHDFetcher{client: client, apiKey: apiKey, baseURL: baseURL, now: time.Now}
}

type eodhdOptionsResponse struct {
	Code string        `json:"code"`
	Data []eodhdOption `json:"data"`
}

type eodhdOption struct {
	ExpirationDate    string    `json:"expirationDate"`
	Type              string    `json:"type"`
	Strike            flexFloat `json:"strike"`
	OpenInterest      flexFloat `json:"openInterest"`
	ImpliedVolatility flexFloat `json:"impliedVolatility"`
	UnderlyingPrice   flexFloat `json:"underlyingPrice"`
}

type eodhdEvent struct {
	Type       string    `json:"type"`
	Event      string    `json:"event"`
	Country    string    `json:"country"`
	Date       string    `json:"date"`
	Importance flexFloat `json:"importance"`
	Actual     flexFloat `json:"actual"`
	Previous   flexFloat `json:"previous"`
	Estimate   flexFloat `json:"estimate"`
	Forecast   flexFloat `json:"forecast"`
}

// FetchOptions returns the option chain observed on asOf.
// Only the current chain is free; historical dates are TierRestricted.
func (f *EODHDFetcher) FetchOptions(ctx context.Context, asset *contracts.Asset, asOf time.Time) ([]*contracts.OptionContract, error) {
	if civilDate(asOf).Before(civilDate(f.now())) {
		return nil, fmt.Errorf("%s: %w: historical options for %s", ProviderEODHD, contracts.ErrTierRestricted, day(asOf))
	}

	q := url.Values{}
	q.Set("api_token", f.apiKey)
	q.Set("date", day(asOf))

	var resp eodhdOptionsResponse
	err := f.client.GetJSON(ctx, httputil.Request{
		Provider: ProviderEODHD,
		URL:      fmt.Sprintf("%s/options/%s.US", f.baseURL, strings.ToUpper(asset.Ticker)),
		Query:    q,
	}, &resp)
	if err != nil {
		return nil, classify(ProviderEODHD, err)
	}

	observed := civilDate(asOf)
	out := make([]*contracts.OptionContract, 0, len(resp.Data))
	for _, o := range resp.Data {
		exp, ok := parseDay(o.ExpirationDate)
		if !ok {
			continue
		}
		out = append(out, &contracts.OptionContract{
			AssetID:         asset.ID,
			AsOfDate:        observed,
			Expiration:      exp,
			OptionType:      strings.ToLower(o.Type),
			Strike:          o.Strike.value(),
			OpenInterest:    int64(o.OpenInterest.value()),
			ImpliedVol:      o.ImpliedVolatility.value(),
			UnderlyingPrice: o.UnderlyingPrice.value(),
		})
	}
	return out, nil
}

// FetchMacro returns economic events dated within [from, to]
func (f *EODHDFetcher) FetchMacro(ctx context.Context, from, to time.Time) ([]*contracts.MacroEvent, error) {
	q := url.Values{}
	q.Set("api_token", f.apiKey)
	q.Set("from", day(from))
	q.Set("to", day(to))

	var rows []eodhdEvent
	err := f.client.GetJSON(ctx, httputil.Request{
		Provider: ProviderEODHD,
		URL:      f.baseURL + "/economic-events",
		Query:    q,
		CacheTTL: cacheTTL(to, f.now()),
	}, &rows)
	if err != nil {
		return nil, classify(ProviderEODHD, err)
	}

	out := make([]*contracts.MacroEvent, 0, len(rows))
	for _, r := range rows {
		d, ok := parseDay(r.Date)
		if !ok {
			continue
		}
		name := r.Event
		if name == "" {
			name = r.Type
		}
		if name == "" {
			continue
		}
		forecast := r.Forecast.ptr()
		if forecast == nil {
			forecast = r.Estimate.ptr()
		}
		out = append(out, &contracts.MacroEvent{
			EventDate:  d,
			EventName:  name,
			Country:    r.Country,
			Importance: int(r.Importance.value()),
			Actual:     r.Actual.ptr(),
			Forecast:   forecast,
			Previous:   r.Previous.ptr(),
		})
	}
	return out, nil
}
