// Package fetcher pulls raw provider data (news, prices, fundamentals, options,
// macro, insider, analyst) and converts it into contracts types at the boundary.
package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/wonny/charlie/backend/internal/contracts"
	"github.com/wonny/charlie/backend/pkg/httputil"
)

// Provider names (also used as raw_news.source and log fields)
const (
	ProviderFinnhub = "finnhub"
	ProviderNewsAPI = "newsapi"
	ProviderFMP     = "fmp"
	ProviderEODHD   = "eodhd"
	ProviderYahoo   = "yahoo"
)

// NewsFetcher returns raw articles published in the look-back window ending at asOf
type NewsFetcher interface {
	Name() string
	FetchNews(ctx context.Context, asset *contracts.Asset, asOf time.Time) ([]*contracts.RawNews, error)
}

// PriceFetcher returns daily bars ending at asOf (inclusive)
type PriceFetcher interface {
	FetchBars(ctx context.Context, ticker string, asOf time.Time) ([]contracts.PriceBar, error)
}

// classify maps a transport/status error onto the contracts taxonomy.
// 402/403/426 → ErrTierRestricted, 429 → ErrQuotaExceeded, everything else → ErrFetchFailure.
func classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var se *httputil.StatusError
	if errors.As(err, &se) {
		switch se.StatusCode {
		case http.StatusPaymentRequired, http.StatusForbidden, http.StatusUpgradeRequired:
			return fmt.Errorf("%s: %w: %v", provider, contracts.ErrTierRestricted, err)
		case http.StatusTooManyRequests:
			return fmt.Errorf("%s: %w: %v", provider, contracts.ErrQuotaExceeded, err)
		}
	}
	return fmt.Errorf("%s: %w: %v", provider, contracts.ErrFetchFailure, err)
}

// encodePayload keeps the provider record as an opaque msgpack blob
func encodePayload(v interface{}) []byte {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

// DecodePayload restores a msgpack payload into a generic map (debugging, status output)
func DecodePayload(b []byte) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := msgpack.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return out, nil
}

// rawDedupeHash identifies one article within a provider feed
func rawDedupeHash(source, url, headline, published string) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{source, url, headline, published}, "|")))
	return hex.EncodeToString(sum[:])
}

func day(t time.Time) string {
	return t.UTC().Format(contracts.DateLayout)
}

// civilDate truncates to the UTC calendar date
func civilDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// flexFloat accepts a JSON number, a numeric string, or null/empty
type flexFloat struct {
	v *float64
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		f.v = nil
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		f.v = nil
		return nil
	}
	f.v = &v
	return nil
}

func (f flexFloat) MarshalJSON() ([]byte, error) {
	if f.v == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*f.v)
}

func (f flexFloat) ptr() *float64 {
	return f.v
}

func (f flexFloat) value() float64 {
	if f.v == nil {
		return 0
	}
	return *f.v
}

// parseDay reads "2006-01-02" or "2006-01-02 15:04:05" as a UTC calendar date
func parseDay(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if len(s) >= 10 {
		if t, err := time.Parse(contracts.DateLayout, s[:10]); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
