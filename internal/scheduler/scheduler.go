package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wonny/charlie/backend/internal/contracts"
	"github.com/wonny/charlie/backend/pkg/logger"
)

var (
	// ErrUnknownJob is returned for a name that was never added
	ErrUnknownJob = errors.New("unknown job")
	// ErrJobRunning is returned by RunJob while the same job is still executing
	ErrJobRunning = errors.New("job already running")
)

// entry is one registered job and its bookkeeping
type entry struct {
	job     Job
	id      cron.EntryID
	history *JobHistory
	running bool
}

// Scheduler runs Jobs on cron schedules (UTC, seconds field) with retries.
// A job never overlaps itself: a tick that fires while it is running is skipped.
// ⭐ SSOT: 스케줄 관리는 이 스케줄러에서만
type Scheduler struct {
	cron   *cron.Cron
	logger *logger.Logger

	mu      sync.Mutex
	entries map[string]*entry

	// Stop 이 실행 중인 job 의 ctx 를 취소한다
	ctx    context.Context
	cancel context.CancelFunc

	maxRetries int
	retryDelay time.Duration
}

// Option customizes a Scheduler
type Option func(*Scheduler)

// WithRetry sets how often and how long apart a failed job is retried
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(s *Scheduler) {
		s.maxRetries = maxRetries
		s.retryDelay = delay
	}
}

// New creates a scheduler; jobs are retried 3 times a minute apart unless overridden
func New(log *logger.Logger, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		logger:     log.Component("scheduler"),
		entries:    make(map[string]*entry),
		ctx:        ctx,
		cancel:     cancel,
		maxRetries: 3,
		retryDelay: time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}

	cl := cronLogger{s.logger}
	s.cron = cron.New(
		cron.WithSeconds(),
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
	return s
}

// AddJob validates the schedule and registers the job
func (s *Scheduler) AddJob(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, ok := s.entries[name]; ok {
		return fmt.Errorf("job %s already registered", name)
	}

	e := &entry{job: job, history: &JobHistory{}}
	id, err := s.cron.AddFunc(job.Schedule(), func() {
		if _, err := s.execute(s.ctx, name); errors.Is(err, ErrJobRunning) {
			s.logger.WithField("job", name).Warn("Previous run still in progress, skipping tick")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %s %q: %w", name, job.Schedule(), err)
	}
	e.id = id
	s.entries[name] = e

	s.logger.WithFields(map[string]interface{}{
		"job":      name,
		"schedule": job.Schedule(),
	}).Info("Job registered")
	return nil
}

// RemoveJob unschedules a job
func (s *Scheduler) RemoveJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	s.cron.Remove(e.id)
	delete(s.entries, name)
	return nil
}

// Start begins firing schedules
func (s *Scheduler) Start() {
	s.logger.Info("Starting scheduler")
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

// RunJob runs a job now, outside its schedule, and waits for the result
func (s *Scheduler) RunJob(ctx context.Context, name string) (JobResult, error) {
	return s.execute(ctx, name)
}

// execute claims the job, runs it with retries and records the result
func (s *Scheduler) execute(ctx context.Context, name string) (JobResult, error) {
	s.mu.Lock()
	e, ok := s.entries[name]
	if !ok {
		s.mu.Unlock()
		return JobResult{}, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if e.running {
		s.mu.Unlock()
		return JobResult{}, fmt.Errorf("%w: %s", ErrJobRunning, name)
	}
	e.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		e.running = false
		s.mu.Unlock()
	}()

	result := s.withRetry(ctx, e.job)
	e.history.Add(result)
	return result, nil
}

// withRetry runs job up to maxRetries+1 times. Invalid run parameters and
// cancellation end the loop at once.
func (s *Scheduler) withRetry(ctx context.Context, job Job) JobResult {
	log := s.logger.WithField("job", job.Name())
	result := JobResult{JobName: job.Name(), StartTime: time.Now()}
	log.Info("Job started")

	var err error
	for result.Attempts <= s.maxRetries {
		result.Attempts++
		if err = job.Run(ctx); err == nil {
			break
		}
		if errors.Is(err, contracts.ErrInvalidRunParams) || ctx.Err() != nil || result.Attempts > s.maxRetries {
			break
		}

		log.WithError(err).WithField("attempt", result.Attempts).Warn("Job failed, retrying")
		t := time.NewTimer(s.retryDelay)
		select {
		case <-ctx.Done():
		case <-t.C:
		}
		t.Stop()
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	result.Success = err == nil
	if err != nil {
		result.Error = err.Error()
	}
	if rep, ok := job.(Reporter); ok {
		result.Report = rep.LastReport()
	}

	log = log.WithFields(map[string]interface{}{
		"duration": result.Duration.String(),
		"attempts": result.Attempts,
	})
	if result.Success {
		log.Info("Job completed")
	} else {
		log.WithError(err).Error("Job failed")
	}
	return result
}

// GetJobHistory returns the history of a job
func (s *Scheduler) GetJobHistory(name string) (*JobHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return e.history, nil
}

// GetAllJobs returns registered job names, sorted
func (s *Scheduler) GetAllJobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NextRun returns the next fire time; zero until Start
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(e.id).Next, true
}

// GetJobStats summarizes every job's history
func (s *Scheduler) GetJobStats() map[string]JobStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := make(map[string]JobStats, len(s.entries))
	for name, e := range s.entries {
		sum := e.history.Summary()
		stats[name] = JobStats{
			JobName:      name,
			Schedule:     e.job.Schedule(),
			Running:      e.running,
			TotalRuns:    sum.Runs,
			SuccessCount: sum.Succeeded,
			FailureCount: sum.Failed,
			SuccessRate:  sum.SuccessRate(),
			LastRun:      sum.LastRun,
			LastSuccess:  sum.LastSuccess,
			LastFailure:  sum.LastFailure,
			LastReport:   sum.LastReport,
		}
	}
	return stats
}

// JobStats is the per-job view printed by `scheduler list`
type JobStats struct {
	JobName      string     `json:"job_name"`
	Schedule     string     `json:"schedule"`
	Running      bool       `json:"running"`
	TotalRuns    int        `json:"total_runs"`
	SuccessCount int        `json:"success_count"`
	FailureCount int        `json:"failure_count"`
	SuccessRate  float64    `json:"success_rate"`
	LastRun      *time.Time `json:"last_run,omitempty"`
	LastSuccess  *time.Time `json:"last_success,omitempty"`
	LastFailure  *time.Time `json:"last_failure,omitempty"`
	LastReport   string     `json:"last_report,omitempty"`
}

// cronLogger routes robfig/cron's own messages (panics, schedule changes) to zerolog
type cronLogger struct {
	log *logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.WithFields(kv(keysAndValues)).Debug("cron: " + msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.WithError(err).WithFields(kv(keysAndValues)).Error("cron: " + msg)
}

func kv(pairs []interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out[fmt.Sprint(pairs[i])] = pairs[i+1]
	}
	return out
}
