package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/charlie/backend/internal/contracts"
)

// SampleRepository implements contracts.SampleRepository
// ⭐ SSOT: assembled_sample 저장소는 여기서만
type SampleRepository struct {
	pool *pgxpool.Pool
}

// NewSampleRepository creates a new sample repository
func NewSampleRepository(pool *pgxpool.Pool) *SampleRepository {
	return &SampleRepository{pool: pool}
}

// Upsert writes one variation on (asset_id, as_of_date, variation_id) and returns its id
func (r *SampleRepository) Upsert(ctx context.Context, s *contracts.AssembledSample) (int64, error) {
	meta, err := json.Marshal(s.SourcesMeta)
	if err != nil {
		return 0, fmt.Errorf("marshal sources_meta: %w", err)
	}

	query := `
		INSERT INTO assembled_sample
			(asset_id, as_of_date, variation_id, as_of_cutoff, run_id, prompt_text, prompt_tokens, sources_meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (asset_id, as_of_date, variation_id) DO UPDATE SET
			as_of_cutoff = EXCLUDED.as_of_cutoff,
			run_id = EXCLUDED.run_id,
			prompt_text = EXCLUDED.prompt_text,
			prompt_tokens = EXCLUDED.prompt_tokens,
			sources_meta = EXCLUDED.sources_meta,
			updated_at = NOW()
		RETURNING sample_id`

	var id int64
	err = r.pool.QueryRow(ctx, query,
		s.AssetID, s.AsOfDate, s.VariationID, s.AsOfCutoff, s.RunID, s.PromptText, s.PromptTokens, meta,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert assembled sample: %w", err)
	}
	return id, nil
}

const sampleColumns = `s.sample_id, s.asset_id, a.ticker, s.as_of_date, s.variation_id, s.as_of_cutoff, s.run_id,
	s.prompt_text, s.prompt_tokens, s.sources_meta`

func scanSample(row pgx.Row, extra ...interface{}) (*contracts.AssembledSample, error) {
	var s contracts.AssembledSample
	var meta []byte
	dest := []interface{}{&s.ID, &s.AssetID, &s.Ticker, &s.AsOfDate, &s.VariationID, &s.AsOfCutoff, &s.RunID,
		&s.PromptText, &s.PromptTokens, &meta}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(meta, &s.SourcesMeta); err != nil {
		return nil, fmt.Errorf("unmarshal sources_meta: %w", err)
	}
	s.AsOfCutoff = s.AsOfCutoff.UTC()
	return &s, nil
}

// Get retrieves one sample
func (r *SampleRepository) Get(ctx context.Context, id int64) (*contracts.AssembledSample, error) {
	s, err := scanSample(r.pool.QueryRow(ctx, `
		SELECT `+sampleColumns+`
		FROM assembled_sample s JOIN asset a USING (asset_id)
		WHERE s.sample_id = $1`, id))
	if err != nil {
		return nil, notFound(err, "sample", id)
	}
	return s, nil
}

func (r *SampleRepository) list(ctx context.Context, where string, args ...interface{}) ([]*contracts.AssembledSample, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+sampleColumns+`
		FROM assembled_sample s JOIN asset a USING (asset_id)
		WHERE `+where+`
		ORDER BY s.as_of_date, s.variation_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list samples: %w", err)
	}
	defer rows.Close()

	var out []*contracts.AssembledSample
	for rows.Next() {
		s, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListByAsset returns every sample of an asset
func (r *SampleRepository) ListByAsset(ctx context.Context, assetID int64) ([]*contracts.AssembledSample, error) {
	return r.list(ctx, "s.asset_id = $1", assetID)
}

// ListByAssetAndDate returns the variations of one date
func (r *SampleRepository) ListByAssetAndDate(ctx context.Context, assetID int64, asOf time.Time) ([]*contracts.AssembledSample, error) {
	return r.list(ctx, "s.asset_id = $1 AND s.as_of_date = $2", assetID, asOf)
}

// LabelRepository implements contracts.LabelRepository
// ⭐ SSOT: sample_label 저장소는 여기서만
type LabelRepository struct {
	pool *pgxpool.Pool
}

// Upsert writes the label of one sample
func (r *LabelRepository) Upsert(ctx context.Context, l *contracts.SampleLabel) error {
	query := `
		INSERT INTO sample_label (sample_id, composite_signal, label_class, quantile, computed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (sample_id) DO UPDATE SET
			composite_signal = EXCLUDED.composite_signal,
			label_class = EXCLUDED.label_class,
			quantile = EXCLUDED.quantile,
			computed_at = EXCLUDED.computed_at`

	if _, err := r.pool.Exec(ctx, query, l.SampleID, l.CompositeSignal, l.LabelClass, l.Quantile, l.ComputedAt); err != nil {
		return fmt.Errorf("upsert sample label: %w", err)
	}
	return nil
}

// GetBySample retrieves the label of one sample
func (r *LabelRepository) GetBySample(ctx context.Context, sampleID int64) (*contracts.SampleLabel, error) {
	var l contracts.SampleLabel
	err := r.pool.QueryRow(ctx, `
		SELECT sample_id, composite_signal, label_class, quantile, computed_at
		FROM sample_label WHERE sample_id = $1`, sampleID).
		Scan(&l.SampleID, &l.CompositeSignal, &l.LabelClass, &l.Quantile, &l.ComputedAt)
	if err != nil {
		return nil, notFound(err, "label for sample", sampleID)
	}
	return &l, nil
}

// ListByAsset returns every label of an asset's samples
func (r *LabelRepository) ListByAsset(ctx context.Context, assetID int64) ([]*contracts.SampleLabel, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT l.sample_id, l.composite_signal, l.label_class, l.quantile, l.computed_at
		FROM sample_label l JOIN assembled_sample s USING (sample_id)
		WHERE s.asset_id = $1
		ORDER BY l.sample_id`, assetID)
	if err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}
	defer rows.Close()

	var out []*contracts.SampleLabel
	for rows.Next() {
		var l contracts.SampleLabel
		if err := rows.Scan(&l.SampleID, &l.CompositeSignal, &l.LabelClass, &l.Quantile, &l.ComputedAt); err != nil {
			return nil, err
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

// ThesisRepository implements contracts.ThesisRepository
type ThesisRepository struct {
	pool *pgxpool.Pool
}

// Upsert writes the thesis of one sample
func (r *ThesisRepository) Upsert(ctx context.Context, t *contracts.DistilledThesis) error {
	structure, err := json.Marshal(t.Structure)
	if err != nil {
		return fmt.Errorf("marshal thesis structure: %w", err)
	}

	query := `
		INSERT INTO distilled_thesis (sample_id, thesis_text, thesis_structure, source_model, failed, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, NOW())
		ON CONFLICT (sample_id) DO UPDATE SET
			thesis_text = EXCLUDED.thesis_text,
			thesis_structure = EXCLUDED.thesis_structure,
			source_model = EXCLUDED.source_model,
			failed = EXCLUDED.failed,
			created_at = NOW()`

	if _, err := r.pool.Exec(ctx, query, t.SampleID, t.ThesisText, structure, t.SourceModel, t.Failed); err != nil {
		return fmt.Errorf("upsert distilled thesis: %w", err)
	}
	return nil
}

// GetBySample retrieves the thesis of one sample
func (r *ThesisRepository) GetBySample(ctx context.Context, sampleID int64) (*contracts.DistilledThesis, error) {
	var t contracts.DistilledThesis
	var structure []byte
	err := r.pool.QueryRow(ctx, `
		SELECT sample_id, thesis_text, thesis_structure, COALESCE(source_model, ''), failed, created_at
		FROM distilled_thesis WHERE sample_id = $1`, sampleID).
		Scan(&t.SampleID, &t.ThesisText, &structure, &t.SourceModel, &t.Failed, &t.CreatedAt)
	if err != nil {
		return nil, notFound(err, "thesis for sample", sampleID)
	}
	if err := json.Unmarshal(structure, &t.Structure); err != nil {
		return nil, fmt.Errorf("unmarshal thesis structure: %w", err)
	}
	return &t, nil
}

// ExportRepository implements contracts.ExportRepository
type ExportRepository struct {
	pool *pgxpool.Pool
}

// ExportRows joins samples with their optional label and thesis
func (r *ExportRepository) ExportRows(ctx context.Context, assetID int64) ([]*contracts.ExportRow, error) {
	query := `
		SELECT ` + sampleColumns + `,
		       l.sample_id, l.composite_signal, l.label_class, l.quantile, l.computed_at,
		       t.sample_id, t.thesis_text, t.thesis_structure, t.source_model, t.failed, t.created_at
		FROM assembled_sample s
		JOIN asset a USING (asset_id)
		LEFT JOIN sample_label l ON l.sample_id = s.sample_id
		LEFT JOIN distilled_thesis t ON t.sample_id = s.sample_id
		WHERE s.asset_id = $1
		ORDER BY s.as_of_date, s.variation_id`

	rows, err := r.pool.Query(ctx, query, assetID)
	if err != nil {
		return nil, fmt.Errorf("export rows: %w", err)
	}
	defer rows.Close()

	var out []*contracts.ExportRow
	for rows.Next() {
		var (
			labelID, thesisID *int64
			signal, quantile  *float64
			class             *int
			computedAt        *time.Time
			thesisText        *string
			structure         []byte
			sourceModel       *string
			failed            *bool
			createdAt         *time.Time
		)
		s, err := scanSample(rows,
			&labelID, &signal, &class, &quantile, &computedAt,
			&thesisID, &thesisText, &structure, &sourceModel, &failed, &createdAt)
		if err != nil {
			return nil, err
		}

		row := &contracts.ExportRow{Sample: *s}
		if labelID != nil {
			row.Label = &contracts.SampleLabel{SampleID: *labelID, CompositeSignal: signal, LabelClass: class, Quantile: quantile}
			if computedAt != nil {
				row.Label.ComputedAt = *computedAt
			}
		}
		if thesisID != nil {
			th := &contracts.DistilledThesis{SampleID: *thesisID}
			if thesisText != nil {
				th.ThesisText = *thesisText
			}
			if sourceModel != nil {
				th.SourceModel = *sourceModel
			}
			if failed != nil {
				th.Failed = *failed
			}
			if createdAt != nil {
				th.CreatedAt = *createdAt
			}
			if len(structure) > 0 {
				if err := json.Unmarshal(structure, &th.Structure); err != nil {
					return nil, fmt.Errorf("unmarshal thesis structure: %w", err)
				}
			}
			row.Thesis = th
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
