package audit

import (
	"context"
	"sync"

	"github.com/wonny/charlie/backend/internal/contracts"
)

type tallyKey struct{}

// Tally counts the entries recorded under one run's context.
// Concurrent runs each carry their own Tally.
type Tally struct {
	runID int64

	mu     sync.Mutex
	counts map[contracts.AuditKind]int
}

// WithRun returns a context whose audit entries are tagged with runID and counted in the returned Tally
func WithRun(ctx context.Context, runID int64) (context.Context, *Tally) {
	t := &Tally{runID: runID, counts: make(map[contracts.AuditKind]int)}
	return context.WithValue(ctx, tallyKey{}, t), t
}

func tallyFrom(ctx context.Context) *Tally {
	t, _ := ctx.Value(tallyKey{}).(*Tally)
	return t
}

func (t *Tally) add(kind contracts.AuditKind) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.counts[kind]++
	t.mu.Unlock()
}

// Counts returns the run's entries by kind
func (t *Tally) Counts() map[string]int {
	out := make(map[string]int)
	if t == nil {
		return out
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, v := range t.counts {
		out[string(k)] = v
	}
	return out
}
