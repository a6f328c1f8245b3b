package audit

import (
	"context"
	"sync"

	"github.com/wonny/charlie/backend/internal/contracts"
	"github.com/wonny/charlie/backend/pkg/logger"
)

// Recorder writes non-fatal anomalies to audit_log and the log stream.
// A failed audit write is logged and never interrupts the caller.
// ⭐ SSOT: audit_log 기록은 여기서만
type Recorder struct {
	repo   contracts.AuditRepository
	logger *logger.Logger

	mu     sync.Mutex
	counts map[contracts.AuditKind]int
}

// NewRecorder creates a recorder; repo may be nil (log only)
func NewRecorder(repo contracts.AuditRepository, log *logger.Logger) *Recorder {
	return &Recorder{
		repo:   repo,
		logger: log.Component("audit"),
		counts: make(map[contracts.AuditKind]int),
	}
}

// Record appends one entry. Under a WithRun context the entry carries the
// run id and is counted in that run's Tally.
func (r *Recorder) Record(ctx context.Context, kind contracts.AuditKind, entity, key, detail string) {
	r.mu.Lock()
	r.counts[kind]++
	r.mu.Unlock()

	tally := tallyFrom(ctx)
	tally.add(kind)

	log := r.logger.WithFields(map[string]interface{}{
		"kind":   string(kind),
		"entity": entity,
		"key":    key,
	})
	log.Debug(detail)

	if r.repo == nil {
		return
	}

	entry := &contracts.AuditEntry{
		Kind:      kind,
		Entity:    entity,
		EntityKey: key,
		Detail:    detail,
	}
	if tally != nil {
		runID := tally.runID
		entry.RunID = &runID
	}
	if err := r.repo.Record(ctx, entry); err != nil {
		log.WithError(err).Warn("Failed to write audit entry")
	}
}

// Counts returns how many entries of each kind were recorded by this process.
// Use a Tally for one run's share.
func (r *Recorder) Counts() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]int, len(r.counts))
	for k, v := range r.counts {
		out[string(k)] = v
	}
	return out
}

// Recent lists the latest entries of one kind (all kinds when kind is empty)
func (r *Recorder) Recent(ctx context.Context, kind contracts.AuditKind, limit int) ([]*contracts.AuditEntry, error) {
	if r.repo == nil {
		return nil, nil
	}
	return r.repo.List(ctx, kind, limit)
}
