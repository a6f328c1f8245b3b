package pipeline

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/wonny/charlie/backend/internal/contracts"
	"github.com/wonny/charlie/backend/internal/runconfig"
)

// DefaultSeed is used when no seed is given
const DefaultSeed int64 = 1234

// RunParams are the caller-supplied parameters of one run.
// Dates are strings so that CLI flags and query params validate the same way.
type RunParams struct {
	Tickers        []string `validate:"required,min=1,dive,required"`
	AsOfDate       string   `validate:"omitempty,datetime=2006-01-02"`
	StartDate      string   `validate:"required_without=AsOfDate,omitempty,datetime=2006-01-02"`
	EndDate        string   `validate:"required_without=AsOfDate,omitempty,datetime=2006-01-02"`
	Seed           string
	VariationCount int `validate:"gte=0"`
	TokenBudget    int `validate:"gte=0"`
	Workers        int `validate:"gte=0,lte=64"`
	SkipFetch      bool
	SkipDistill    bool
	SkipExport     bool
}

// Plan is the resolved, validated form of RunParams
type Plan struct {
	Tickers        []string
	Dates          []time.Time
	StartDate      time.Time
	EndDate        time.Time
	RunType        string
	Seed           int64
	VariationCount int
	TokenBudget    int
	Workers        int
	SkipFetch      bool
	SkipDistill    bool
	SkipExport     bool
}

var validate = validator.New()

// Resolve validates the params and expands them against the run profile.
// Every failure is a contracts.ValidationError (errors.Is ErrInvalidRunParams).
func (p RunParams) Resolve(profile *runconfig.Profile) (*Plan, error) {
	p.Tickers = NormalizeTickers(p.Tickers)

	if err := validate.Struct(p); err != nil {
		return nil, toValidationError(err)
	}

	plan := &Plan{
		Tickers:        p.Tickers,
		Seed:           DefaultSeed,
		VariationCount: profile.VariationCount,
		TokenBudget:    profile.TokenBudget,
		Workers:        p.Workers,
		SkipFetch:      p.SkipFetch,
		SkipDistill:    p.SkipDistill,
		SkipExport:     p.SkipExport,
	}

	if s := strings.TrimSpace(p.Seed); s != "" {
		seed, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, contracts.ValidationError{Field: "seed", Message: fmt.Sprintf("not an integer: %q", p.Seed)}
		}
		plan.Seed = seed
	}
	if p.VariationCount > 0 {
		plan.VariationCount = p.VariationCount
	}
	if p.TokenBudget > 0 {
		plan.TokenBudget = p.TokenBudget
	}

	if p.AsOfDate != "" {
		d, _ := time.Parse(contracts.DateLayout, p.AsOfDate)
		plan.StartDate, plan.EndDate = d, d
	} else {
		plan.StartDate, _ = time.Parse(contracts.DateLayout, p.StartDate)
		plan.EndDate, _ = time.Parse(contracts.DateLayout, p.EndDate)
		if plan.StartDate.After(plan.EndDate) {
			return nil, contracts.ValidationError{Field: "start_date", Message: "must not be after end_date"}
		}
	}

	plan.Dates = DateRange(plan.StartDate, plan.EndDate)
	plan.RunType = contracts.RunTypeSingleDate
	if len(plan.Dates) > 1 {
		plan.RunType = contracts.RunTypeFullBackfill
	}

	return plan, nil
}

// NormalizeTickers upper-cases, trims and de-duplicates, keeping first-seen order
func NormalizeTickers(tickers []string) []string {
	seen := make(map[string]bool, len(tickers))
	out := make([]string, 0, len(tickers))
	for _, t := range tickers {
		for _, part := range strings.Split(t, ",") {
			s := strings.ToUpper(strings.TrimSpace(part))
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// DateRange returns every calendar day in [start, end], inclusive
func DateRange(start, end time.Time) []time.Time {
	start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	end = time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)

	var dates []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d)
	}
	return dates
}

// toValidationError maps the first validator failure to the contracts error type
func toValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return contracts.ValidationError{Field: "params", Message: err.Error()}
	}

	fe := verrs[0]
	field := fieldName(fe.StructField())
	switch fe.Tag() {
	case "required", "min":
		if fe.StructField() == "Tickers" || strings.HasPrefix(fe.Namespace(), "RunParams.Tickers") {
			return contracts.ValidationError{Field: "tickers", Message: "at least one ticker is required"}
		}
		return contracts.ValidationError{Field: field, Message: "is required"}
	case "required_without":
		return contracts.ValidationError{Field: "as_of_date", Message: "either as_of_date or start_date and end_date is required"}
	case "datetime":
		return contracts.ValidationError{Field: field, Message: fmt.Sprintf("expected YYYY-MM-DD, got %q", fe.Value())}
	default:
		return contracts.ValidationError{Field: field, Message: fmt.Sprintf("failed %s=%s", fe.Tag(), fe.Param())}
	}
}

func fieldName(structField string) string {
	switch structField {
	case "AsOfDate":
		return "as_of_date"
	case "StartDate":
		return "start_date"
	case "EndDate":
		return "end_date"
	case "VariationCount":
		return "variation_count"
	case "TokenBudget":
		return "token_budget"
	case "Workers":
		return "workers"
	case "Tickers":
		return "tickers"
	}
	return strings.ToLower(structField)
}
