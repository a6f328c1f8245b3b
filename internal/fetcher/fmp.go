package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/wonny/charlie/backend/internal/contracts"
	"github.com/wonny/charlie/backend/pkg/httputil"
)

// FMPFetcher fetches fundamentals, analyst grades and insider trades from the FMP stable API
type FMPFetcher struct {
	client  *httputil.Client
	apiKey  string
	baseURL string
	now     func() time.Time
}

// NewFMPFetcher creates an FMP fetcher
func NewFMPFetcher(client *httputil.Client, apiKey, baseURL string) *FMPFetcher {
	return &FMPFetcher{client: client, apiKey: apiKey, baseURL: baseURL, now: time.Now}
}

type fmpIncomeStatement struct {
	Date             string    `json:"date"`
	Symbol           string    `json:"symbol"`
	FilingDate       string    `json:"filingDate"`
	AcceptedDate     string    `json:"acceptedDate"`
	ReportedCurrency string    `json:"reportedCurrency"`
	Period           string    `json:"period"`
	Revenue          flexFloat `json:"revenue"`
	NetIncome        flexFloat `json:"netIncome"`
	EBITDA           flexFloat `json:"ebitda"`
	EPS              flexFloat `json:"eps"`
}

// filedOn prefers filingDate and falls back to acceptedDate ("2024-05-02 18:04:09")
func (r fmpIncomeStatement) filedOn() *time.Time {
	for _, s := range []string{r.FilingDate, r.AcceptedDate} {
		if d, ok := parseDay(s); ok {
			return &d
		}
	}
	return nil
}

type fmpGrade struct {
	Symbol         string `json:"symbol"`
	Date           string `json:"date"`
	GradingCompany string `json:"gradingCompany"`
	PreviousGrade  string `json:"previousGrade"`
	NewGrade       string `json:"newGrade"`
	Action         string `json:"action"`
}

type fmpInsiderTrade struct {
	Symbol               string    `json:"symbol"`
	FilingDate           string    `json:"filingDate"`
	TransactionDate      string    `json:"transactionDate"`
	ReportingName        string    `json:"reportingName"`
	TransactionType      string    `json:"transactionType"`
	SecuritiesTransacted flexFloat `json:"securitiesTransacted"`
	Price                flexFloat `json:"price"`
}

// get fetches one endpoint; FMP answers some failures with 200 and {"Error Message": ...}
func (f *FMPFetcher) get(ctx context.Context, endpoint string, q url.Values, asOf time.Time, out interface{}) error {
	q.Set("apikey", f.apiKey)
	body, err := f.client.GetBytes(ctx, httputil.Request{
		Provider: ProviderFMP,
		URL:      f.baseURL + endpoint,
		Query:    q,
		CacheTTL: cacheTTL(asOf, f.now()),
	})
	if err != nil {
		return classify(ProviderFMP, err)
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var msg map[string]interface{}
		_ = json.Unmarshal(trimmed, &msg)
		text := fmt.Sprint(msg["Error Message"])
		if strings.Contains(strings.ToLower(text), "premium") || strings.Contains(strings.ToLower(text), "subscription") {
			return fmt.Errorf("%s %s: %w: %s", ProviderFMP, endpoint, contracts.ErrTierRestricted, text)
		}
		return fmt.Errorf("%s %s: %w: %s", ProviderFMP, endpoint, contracts.ErrFetchFailure, text)
	}

	if err := json.Unmarshal(trimmed, out); err != nil {
		return fmt.Errorf("%s %s: %w: %v", ProviderFMP, endpoint, contracts.ErrFetchFailure, err)
	}
	return nil
}

// FetchFundamentals returns the most recent `limit` income statements
func (f *FMPFetcher) FetchFundamentals(ctx context.Context, asset *contracts.Asset, asOf time.Time, limit int) ([]*contracts.Fundamental, error) {
	q := url.Values{}
	q.Set("symbol", asset.Ticker)
	q.Set("period", "quarter")
	q.Set("limit", strconv.Itoa(limit))

	var rows []fmpIncomeStatement
	if err := f.get(ctx, "/income-statement", q, asOf, &rows); err != nil {
		return nil, err
	}

	out := make([]*contracts.Fundamental, 0, len(rows))
	for _, r := range rows {
		d, ok := parseDay(r.Date)
		if !ok {
			continue
		}
		period := r.Period
		if period == "" {
			period = "Q"
		}
		currency := r.ReportedCurrency
		if currency == "" {
			currency = "USD"
		}
		out = append(out, &contracts.Fundamental{
			AssetID:    asset.ID,
			ReportDate: d,
			FilingDate: r.filedOn(),
			PeriodType: period,
			Currency:   currency,
			Metrics: contracts.FundamentalMetrics{
				Revenue:   r.Revenue.ptr(),
				NetIncome: r.NetIncome.ptr(),
				EBITDA:    r.EBITDA.ptr(),
				EPS:       r.EPS.ptr(),
			},
			Source: ProviderFMP,
		})
	}
	return out, nil
}

// FetchAnalyst returns analyst grade actions
func (f *FMPFetcher) FetchAnalyst(ctx context.Context, asset *contracts.Asset, asOf time.Time) ([]*contracts.AnalystReco, error) {
	q := url.Values{}
	q.Set("symbol", asset.Ticker)

	var rows []fmpGrade
	if err := f.get(ctx, "/grades", q, asOf, &rows); err != nil {
		return nil, err
	}

	out := make([]*contracts.AnalystReco, 0, len(rows))
	for _, r := range rows {
		d, ok := parseDay(r.Date)
		if !ok || r.GradingCompany == "" {
			continue
		}
		out = append(out, &contracts.AnalystReco{
			AssetID:  asset.ID,
			RecoDate: d,
			Firm:     r.GradingCompany,
			Rating:   r.NewGrade,
			Action:   r.Action,
		})
	}
	return out, nil
}

// FetchInsider returns insider filings; usually TierRestricted on the free plan
func (f *FMPFetcher) FetchInsider(ctx context.Context, asset *contracts.Asset, asOf time.Time) ([]*contracts.InsiderTxn, error) {
	q := url.Values{}
	q.Set("symbol", asset.Ticker)

	var rows []fmpInsiderTrade
	if err := f.get(ctx, "/insider-trading", q, asOf, &rows); err != nil {
		return nil, err
	}

	out := make([]*contracts.InsiderTxn, 0, len(rows))
	for _, r := range rows {
		d, ok := parseDay(r.FilingDate)
		if !ok {
			if d, ok = parseDay(r.TransactionDate); !ok {
				continue
			}
		}
		out = append(out, &contracts.InsiderTxn{
			AssetID:         asset.ID,
			FilingDate:      d,
			InsiderName:     r.ReportingName,
			TransactionType: r.TransactionType,
			Shares:          r.SecuritiesTransacted.value(),
			Price:           r.Price.value(),
		})
	}
	return out, nil
}
