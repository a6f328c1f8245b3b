// Package export writes per-asset dataset snapshots (Parquet + checksum + completion marker).
package export

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/wonny/charlie/backend/internal/contracts"
	"github.com/wonny/charlie/backend/pkg/logger"
)

// MarkerName is written last; its presence means the snapshot is complete
const MarkerName = "_SUCCESS"

// Record is one Parquet row: a sample with its optional label and thesis.
// Nested metadata and thesis structure are JSON string columns.
type Record struct {
	SampleID        int64     `parquet:"sample_id"`
	Ticker          string    `parquet:"ticker,dict"`
	AsOfDate        string    `parquet:"as_of_date"`
	VariationID     int       `parquet:"variation_id"`
	AsOfCutoff      time.Time `parquet:"as_of_cutoff,timestamp(millisecond)"`
	PromptText      string    `parquet:"prompt_text"`
	PromptTokens    int       `parquet:"prompt_tokens"`
	SourcesMeta     string    `parquet:"sources_meta"`
	CompositeSignal *float64  `parquet:"composite_signal,optional"`
	LabelClass      *int      `parquet:"label_class,optional"`
	Quantile        *float64  `parquet:"quantile,optional"`
	ThesisText      *string   `parquet:"thesis_text,optional"`
	ThesisStructure *string   `parquet:"thesis_structure,optional"`
}

// Artifact describes one written snapshot
type Artifact struct {
	Ticker   string `json:"ticker"`
	Rows     int    `json:"rows"`
	Data     string `json:"data"`
	Checksum string `json:"checksum"`
	Marker   string `json:"marker"`
	SHA256   string `json:"sha256"`
}

// URIs lists the written objects in write order
func (a *Artifact) URIs() []string {
	return []string{a.Data, a.Checksum, a.Marker}
}

// Exporter joins samples, labels and theses and writes them to a Backend
// ⭐ SSOT: 스냅샷 파일 쓰기는 여기서만
type Exporter struct {
	rows    contracts.ExportRepository
	backend Backend
	logger  *logger.Logger
	now     func() time.Time
}

// NewExporter creates an exporter
func NewExporter(rows contracts.ExportRepository, backend Backend, log *logger.Logger) *Exporter {
	return &Exporter{
		rows:    rows,
		backend: backend,
		logger:  log.Component("export"),
		now:     time.Now,
	}
}

// ToRecord flattens one export row
func ToRecord(r *contracts.ExportRow) (Record, error) {
	meta, err := json.Marshal(r.Sample.SourcesMeta)
	if err != nil {
		return Record{}, fmt.Errorf("encode sources_meta: %w", err)
	}
	rec := Record{
		SampleID:     r.Sample.ID,
		Ticker:       r.Sample.Ticker,
		AsOfDate:     r.Sample.AsOfDate.Format(contracts.DateLayout),
		VariationID:  r.Sample.VariationID,
		AsOfCutoff:   r.Sample.AsOfCutoff.UTC(),
		PromptText:   r.Sample.PromptText,
		PromptTokens: r.Sample.PromptTokens,
		SourcesMeta:  string(meta),
	}
	if r.Label != nil {
		rec.CompositeSignal = r.Label.CompositeSignal
		rec.LabelClass = r.Label.LabelClass
		rec.Quantile = r.Label.Quantile
	}
	if r.Thesis != nil {
		st, err := json.Marshal(r.Thesis.Structure)
		if err != nil {
			return Record{}, fmt.Errorf("encode thesis_structure: %w", err)
		}
		text, structure := r.Thesis.ThesisText, string(st)
		rec.ThesisText = &text
		rec.ThesisStructure = &structure
	}
	return rec, nil
}

// encodeParquet writes all records as one zstd-compressed Parquet file
func encodeParquet(records []Record, ticker string) ([]byte, error) {
	var buf bytes.Buffer
	w := parquet.NewGenericWriter[Record](&buf,
		parquet.Compression(&parquet.Zstd),
		parquet.KeyValueMetadata("charlie.ticker", ticker),
	)
	if _, err := w.Write(records); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

// ExportAsset writes exports/<TICKER>/charlie_export_<TICKER>_<ts>.parquet, its .sha256 and _SUCCESS.
// The marker is only written after data and checksum succeeded.
func (e *Exporter) ExportAsset(ctx context.Context, asset *contracts.Asset) (*Artifact, error) {
	rows, err := e.rows.ExportRows(ctx, asset.ID)
	if err != nil {
		return nil, fmt.Errorf("load export rows: %w", err)
	}

	ticker := strings.ToUpper(asset.Ticker)
	records := make([]Record, 0, len(rows))
	for _, r := range rows {
		rec, err := ToRecord(r)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", r.Sample.ID, err)
		}
		records = append(records, rec)
	}
	data, err := encodeParquet(records, ticker)
	if err != nil {
		return nil, err
	}

	ts := e.now().UTC().Format("20060102T150405Z")
	dir := "exports/" + ticker
	name := fmt.Sprintf("charlie_export_%s_%s.parquet", ticker, ts)

	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])

	art := &Artifact{Ticker: ticker, Rows: len(rows), SHA256: digest}

	if art.Data, err = e.backend.Put(ctx, dir+"/"+name, data, "application/vnd.apache.parquet"); err != nil {
		return nil, err
	}
	checksum := []byte(fmt.Sprintf("%s  %s\n", digest, name))
	if art.Checksum, err = e.backend.Put(ctx, dir+"/"+name+".sha256", checksum, "text/plain"); err != nil {
		return nil, err
	}
	if art.Marker, err = e.backend.Put(ctx, dir+"/"+MarkerName, []byte(name+"\n"), "text/plain"); err != nil {
		return nil, err
	}

	e.logger.WithFields(map[string]interface{}{
		"ticker":  ticker,
		"rows":    art.Rows,
		"backend": e.backend.Name(),
		"data":    art.Data,
	}).Info("Snapshot exported")

	return art, nil
}
