package scheduler

import (
	"context"
	"sync"
	"time"
)

// historyLimit bounds how many results are kept per job
const historyLimit = 100

// Job is one cron-driven unit of work. Schedule uses the six-field form
// ("0 30 6 * * *") or a descriptor such as "@daily".
// ⭐ SSOT: 스케줄 작업 인터페이스는 여기서만 정의
type Job interface {
	Name() string
	Run(ctx context.Context) error
	Schedule() string
}

// Reporter is implemented by jobs that can describe what their last Run produced,
// e.g. the pipeline run name and status. The text is stored with the result.
type Reporter interface {
	LastReport() string
}

// JobResult is one execution of a job, retries included
type JobResult struct {
	JobName   string        `json:"job_name"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Attempts  int           `json:"attempts"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Report    string        `json:"report,omitempty"`
}

// JobHistory is a fixed-size ring of results for one job
type JobHistory struct {
	mu    sync.RWMutex
	ring  [historyLimit]JobResult
	next  int
	count int
}

// HistorySummary folds a JobHistory into counters
type HistorySummary struct {
	Runs        int
	Succeeded   int
	Failed      int
	LastRun     *time.Time
	LastSuccess *time.Time
	LastFailure *time.Time
	LastReport  string
}

// SuccessRate is Succeeded/Runs, 0 when nothing ran
func (s HistorySummary) SuccessRate() float64 {
	if s.Runs == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(s.Runs)
}

// Add records a result, overwriting the oldest once full
func (h *JobHistory) Add(result JobResult) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.ring[h.next] = result
	h.next = (h.next + 1) % historyLimit
	if h.count < historyLimit {
		h.count++
	}
}

// Len returns the number of stored results
func (h *JobHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Recent returns up to n results, newest first
func (h *JobHistory) Recent(n int) []JobResult {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n > h.count {
		n = h.count
	}
	out := make([]JobResult, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, h.ring[(h.next-i+historyLimit)%historyLimit])
	}
	return out
}

// Summary walks the ring once, newest first
func (h *JobHistory) Summary() HistorySummary {
	var s HistorySummary
	for _, r := range h.Recent(historyLimit) {
		start := r.StartTime
		s.Runs++
		if s.LastRun == nil {
			s.LastRun = &start
			s.LastReport = r.Report
		}
		if r.Success {
			s.Succeeded++
			if s.LastSuccess == nil {
				s.LastSuccess = &start
			}
			continue
		}
		s.Failed++
		if s.LastFailure == nil {
			s.LastFailure = &start
		}
	}
	return s
}
