package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/charlie/backend/internal/contracts"
)

// RunRepository implements contracts.RunRepository
type RunRepository struct {
	pool *pgxpool.Pool
}

// NewRunRepository creates a new run repository
func NewRunRepository(pool *pgxpool.Pool) *RunRepository {
	return &RunRepository{pool: pool}
}

func marshalRunJSON(run *contracts.PipelineRun) ([]byte, []byte, error) {
	artifacts := run.Artifacts
	if artifacts == nil {
		artifacts = map[string][]string{}
	}
	summary := run.Summary
	if summary == nil {
		summary = map[string]interface{}{}
	}
	a, err := json.Marshal(artifacts)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal artifacts: %w", err)
	}
	s, err := json.Marshal(summary)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal summary: %w", err)
	}
	return a, s, nil
}

// Create inserts a run row and returns its id
func (r *RunRepository) Create(ctx context.Context, run *contracts.PipelineRun) (int64, error) {
	artifacts, summary, err := marshalRunJSON(run)
	if err != nil {
		return 0, err
	}

	query := `
		INSERT INTO pipeline_run
			(run_name, run_type, status, seed, tickers, start_date, end_date, config_hash, artifacts, summary, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10, $11)
		RETURNING run_id`

	var id int64
	err = r.pool.QueryRow(ctx, query,
		run.RunName, run.RunType, run.Status, run.Seed, run.Tickers,
		run.StartDate, run.EndDate, run.ConfigHash, artifacts, summary, run.StartedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert pipeline run: %w", err)
	}
	return id, nil
}

// Update stores status, artifacts, summary and finish time
func (r *RunRepository) Update(ctx context.Context, run *contracts.PipelineRun) error {
	artifacts, summary, err := marshalRunJSON(run)
	if err != nil {
		return err
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE pipeline_run
		SET status = $2, artifacts = $3, summary = $4, finished_at = $5
		WHERE run_id = $1`,
		run.ID, run.Status, artifacts, summary, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("update pipeline run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %d: %w", run.ID, contracts.ErrNotFound)
	}
	return nil
}

const runColumns = `run_id, run_name, run_type, status, seed, tickers, start_date, end_date,
	COALESCE(config_hash, ''), artifacts, summary, started_at, finished_at`

func scanRun(row pgx.Row) (*contracts.PipelineRun, error) {
	var run contracts.PipelineRun
	var artifacts, summary []byte
	if err := row.Scan(&run.ID, &run.RunName, &run.RunType, &run.Status, &run.Seed, &run.Tickers,
		&run.StartDate, &run.EndDate, &run.ConfigHash, &artifacts, &summary, &run.StartedAt, &run.FinishedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(artifacts, &run.Artifacts); err != nil {
		return nil, fmt.Errorf("unmarshal artifacts: %w", err)
	}
	if err := json.Unmarshal(summary, &run.Summary); err != nil {
		return nil, fmt.Errorf("unmarshal summary: %w", err)
	}
	return &run, nil
}

// Get retrieves one run
func (r *RunRepository) Get(ctx context.Context, id int64) (*contracts.PipelineRun, error) {
	run, err := scanRun(r.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM pipeline_run WHERE run_id = $1`, id))
	if err != nil {
		return nil, notFound(err, "run", id)
	}
	return run, nil
}

// List returns the most recent runs first
func (r *RunRepository) List(ctx context.Context, limit int) ([]*contracts.PipelineRun, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+runColumns+` FROM pipeline_run ORDER BY run_id DESC LIMIT $1`, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*contracts.PipelineRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// AuditRepository implements contracts.AuditRepository
type AuditRepository struct {
	pool *pgxpool.Pool
}

// Record appends one entry
func (r *AuditRepository) Record(ctx context.Context, e *contracts.AuditEntry) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO audit_log (run_id, kind, entity, entity_key, detail) VALUES ($1, $2, $3, $4, $5)`,
		e.RunID, string(e.Kind), e.Entity, e.EntityKey, e.Detail)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// List returns the newest entries, optionally of one kind
func (r *AuditRepository) List(ctx context.Context, kind contracts.AuditKind, limit int) ([]*contracts.AuditEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT audit_id, run_id, kind, entity, entity_key, COALESCE(detail, ''), created_at
		FROM audit_log
		WHERE ($1::text = '' OR kind = $1::text)
		ORDER BY audit_id DESC
		LIMIT $2`, string(kind), limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []*contracts.AuditEntry
	for rows.Next() {
		var e contracts.AuditEntry
		var kindStr string
		if err := rows.Scan(&e.ID, &e.RunID, &kindStr, &e.Entity, &e.EntityKey, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Kind = contracts.AuditKind(kindStr)
		out = append(out, &e)
	}
	return out, rows.Err()
}
