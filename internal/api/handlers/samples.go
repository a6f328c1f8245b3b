package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/wonny/charlie/backend/internal/contracts"
	"github.com/wonny/charlie/backend/internal/quality"
	"github.com/wonny/charlie/backend/pkg/logger"
)

// SampleHandler serves assembled samples, their labels and theses
// ⭐ SSOT: 샘플/라벨 조회 API 핸들러는 여기서만
type SampleHandler struct {
	store  *contracts.Store
	gate   *quality.Gate
	logger *logger.Logger
}

// NewSampleHandler creates a new sample handler
func NewSampleHandler(store *contracts.Store, log *logger.Logger) *SampleHandler {
	return &SampleHandler{
		store:  store,
		gate:   quality.NewGate(quality.DefaultConfig()),
		logger: log,
	}
}

// SampleDetail is one sample with its label and thesis, when present
type SampleDetail struct {
	*contracts.AssembledSample
	Label  *contracts.SampleLabel     `json:"label"`
	Thesis *contracts.DistilledThesis `json:"thesis"`
}

// assetFromQuery resolves ?ticker=; it writes the error response itself
func (h *SampleHandler) assetFromQuery(w http.ResponseWriter, r *http.Request) (*contracts.Asset, bool) {
	ticker := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("ticker")))
	if ticker == "" {
		respondError(w, http.StatusBadRequest, "ticker is required")
		return nil, false
	}
	asset, err := h.store.Assets.GetByTicker(r.Context(), ticker)
	if err != nil {
		if statusFor(err) != http.StatusNotFound {
			h.logger.WithError(err).Ticker(ticker).Error("Failed to get asset")
		}
		respondError(w, statusFor(err), "unknown ticker "+ticker)
		return nil, false
	}
	return asset, true
}

// ListSamples returns the samples of one ticker, optionally for one date
// GET /api/samples?ticker=AAPL&date=2024-06-03
func (h *SampleHandler) ListSamples(w http.ResponseWriter, r *http.Request) {
	asset, ok := h.assetFromQuery(w, r)
	if !ok {
		return
	}
	date, hasDate, err := parseDate(r.URL.Query().Get("date"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	var samples []*contracts.AssembledSample
	if hasDate {
		samples, err = h.store.Samples.ListByAssetAndDate(r.Context(), asset.ID, date)
	} else {
		samples, err = h.store.Samples.ListByAsset(r.Context(), asset.ID)
	}
	if err != nil {
		h.logger.WithError(err).Ticker(asset.Ticker).Error("Failed to list samples")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve samples")
		return
	}

	limit := parseLimit(r)
	total := len(samples)
	if len(samples) > limit {
		samples = samples[:limit]
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"ticker":  asset.Ticker,
		"total":   total,
		"count":   len(samples),
		"samples": samples,
	})
}

// GetSample returns one sample with its label and thesis
// GET /api/samples/{id}
func (h *SampleHandler) GetSample(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(mux.Vars(r)["id"])
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid sample id")
		return
	}
	ctx := r.Context()

	sample, err := h.store.Samples.Get(ctx, id)
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			h.logger.WithError(err).WithField("sample_id", id).Error("Failed to get sample")
		}
		respondError(w, statusFor(err), "sample not found")
		return
	}

	detail := SampleDetail{AssembledSample: sample}
	if detail.Label, err = h.store.Labels.GetBySample(ctx, id); err != nil && !errors.Is(err, contracts.ErrNotFound) {
		h.logger.WithError(err).WithField("sample_id", id).Warn("Failed to get label")
	}
	if detail.Thesis, err = h.store.Theses.GetBySample(ctx, id); err != nil && !errors.Is(err, contracts.ErrNotFound) {
		h.logger.WithError(err).WithField("sample_id", id).Warn("Failed to get thesis")
	}

	respondJSON(w, http.StatusOK, detail)
}

// ListLabels returns every label of one ticker
// GET /api/labels?ticker=AAPL
func (h *SampleHandler) ListLabels(w http.ResponseWriter, r *http.Request) {
	asset, ok := h.assetFromQuery(w, r)
	if !ok {
		return
	}

	labels, err := h.store.Labels.ListByAsset(r.Context(), asset.ID)
	if err != nil {
		h.logger.WithError(err).Ticker(asset.Ticker).Error("Failed to list labels")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve labels")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"ticker": asset.Ticker,
		"count":  len(labels),
		"labels": labels,
	})
}

// GetCoverage returns the modality coverage of one ticker's samples
// GET /api/coverage?ticker=AAPL
func (h *SampleHandler) GetCoverage(w http.ResponseWriter, r *http.Request) {
	asset, ok := h.assetFromQuery(w, r)
	if !ok {
		return
	}

	snapshot, err := h.gate.CheckAsset(r.Context(), h.store.Samples, asset, timeNow())
	if err != nil {
		h.logger.WithError(err).Ticker(asset.Ticker).Error("Failed to compute coverage")
		respondError(w, http.StatusInternalServerError, "Failed to compute coverage")
		return
	}

	respondJSON(w, http.StatusOK, snapshot)
}
