package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/charlie/backend/internal/api/handlers"
	"github.com/wonny/charlie/backend/internal/contracts"
	"github.com/wonny/charlie/backend/internal/store/memory"
	"github.com/wonny/charlie/backend/pkg/logger"
)

type fixture struct {
	handler  http.Handler
	sampleID int64
	runID    int64
}

func setup(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()

	asset, err := store.Assets.Upsert(ctx, "AAPL", "Apple")
	require.NoError(t, err)

	day := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	var first int64
	for v := 1; v <= 2; v++ {
		id, err := store.Samples.Upsert(ctx, &contracts.AssembledSample{
			AssetID: asset.ID, Ticker: "AAPL", AsOfDate: day, VariationID: v,
			PromptText: "prompt", PromptTokens: 1,
			SourcesMeta: contracts.SourcesMeta{Technicals: contracts.TechnicalsMeta{Included: true}},
		})
		require.NoError(t, err)
		if v == 1 {
			first = id
		}
	}

	signal, class, q := 0.4, 3, 0.7
	require.NoError(t, store.Labels.Upsert(ctx, &contracts.SampleLabel{
		SampleID: first, CompositeSignal: &signal, LabelClass: &class, Quantile: &q, ComputedAt: day,
	}))

	runID, err := store.Runs.Create(ctx, &contracts.PipelineRun{
		RunName: "charlie_run_0a1b2c3d", RunType: contracts.RunTypeSingleDate,
		Status: contracts.RunStatusSuccess, Tickers: []string{"AAPL"}, StartDate: day, EndDate: day,
	})
	require.NoError(t, err)

	require.NoError(t, store.Audit.Record(ctx, &contracts.AuditEntry{
		Kind: contracts.AuditDuplicateConflict, Entity: "normalized_news", EntityKey: "abc",
	}))

	log := logger.Nop()
	h := NewRouter(
		handlers.NewSampleHandler(store, log),
		handlers.NewRunHandler(store.Runs, store.Audit, log),
		log,
	)
	return fixture{handler: h, sampleID: first, runID: runID}
}

func get(t *testing.T, h http.Handler, path string) (int, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec.Code, body
}

func TestRouter(t *testing.T) {
	f := setup(t)
	sample := "/api/samples/" + strconv.FormatInt(f.sampleID, 10)
	run := "/api/runs/" + strconv.FormatInt(f.runID, 10)

	tests := []struct {
		name   string
		path   string
		status int
		check  func(t *testing.T, body map[string]interface{})
	}{
		{"health", "/health", http.StatusOK, func(t *testing.T, b map[string]interface{}) {
			assert.Equal(t, "ok", b["status"])
		}},
		{"samples by ticker", "/api/samples?ticker=aapl", http.StatusOK, func(t *testing.T, b map[string]interface{}) {
			assert.Equal(t, float64(2), b["count"])
		}},
		{"samples by date", "/api/samples?ticker=AAPL&date=2024-06-04", http.StatusOK, func(t *testing.T, b map[string]interface{}) {
			assert.Equal(t, float64(0), b["count"])
		}},
		{"samples limit", "/api/samples?ticker=AAPL&limit=1", http.StatusOK, func(t *testing.T, b map[string]interface{}) {
			assert.Equal(t, float64(1), b["count"])
			assert.Equal(t, float64(2), b["total"])
		}},
		{"samples without ticker", "/api/samples", http.StatusBadRequest, nil},
		{"samples bad date", "/api/samples?ticker=AAPL&date=June", http.StatusBadRequest, nil},
		{"samples unknown ticker", "/api/samples?ticker=ZZZZ", http.StatusNotFound, nil},
		{"sample detail", sample, http.StatusOK, func(t *testing.T, b map[string]interface{}) {
			assert.Equal(t, "AAPL", b["ticker"])
			require.NotNil(t, b["label"])
			assert.Nil(t, b["thesis"])
		}},
		{"sample missing", "/api/samples/99999", http.StatusNotFound, nil},
		{"labels", "/api/labels?ticker=AAPL", http.StatusOK, func(t *testing.T, b map[string]interface{}) {
			assert.Equal(t, float64(1), b["count"])
		}},
		{"coverage", "/api/coverage?ticker=AAPL", http.StatusOK, func(t *testing.T, b map[string]interface{}) {
			assert.Equal(t, float64(2), b["total_samples"])
		}},
		{"runs", "/api/runs", http.StatusOK, func(t *testing.T, b map[string]interface{}) {
			assert.Equal(t, float64(1), b["count"])
		}},
		{"run detail", run, http.StatusOK, func(t *testing.T, b map[string]interface{}) {
			assert.Equal(t, "charlie_run_0a1b2c3d", b["run_name"])
		}},
		{"run missing", "/api/runs/424242", http.StatusNotFound, nil},
		{"audit", "/api/audit?kind=duplicate_conflict", http.StatusOK, func(t *testing.T, b map[string]interface{}) {
			assert.Equal(t, float64(1), b["count"])
		}},
		{"audit bad kind", "/api/audit?kind=nope", http.StatusBadRequest, nil},
		{"unknown route", "/api/theses", http.StatusNotFound, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := get(t, f.handler, tt.path)
			assert.Equal(t, tt.status, status)
			if tt.status >= 400 {
				assert.NotEmpty(t, body["error"])
			}
			if tt.check != nil {
				tt.check(t, body)
			}
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	h := recoveryMiddleware(logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	status, body := get(t, h, "/anything")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "Internal server error", body["error"])
}

func TestRequestID(t *testing.T) {
	f := setup(t)

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Len(t, rec.Header().Get(RequestIDHeader), 36)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "trace-123")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, "trace-123", rec.Header().Get(RequestIDHeader))
}

func TestReadOnly(t *testing.T) {
	f := setup(t)

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/runs", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Contains(t, rec.Body.String(), "read-only")
}
