package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/charlie/backend/internal/contracts"
	"github.com/wonny/charlie/backend/pkg/logger"
)

type countingJob struct {
	name     string
	schedule string
	failures int32
	err      error
	calls    int32
}

func (j *countingJob) Name() string     { return j.name }
func (j *countingJob) Schedule() string { return j.schedule }

func (j *countingJob) Run(ctx context.Context) error {
	n := atomic.AddInt32(&j.calls, 1)
	if n <= j.failures {
		return j.err
	}
	return nil
}

func TestScheduler_AddRemove(t *testing.T) {
	s := New(logger.Nop())
	job := &countingJob{name: "daily_build", schedule: "0 30 6 * * *"}

	require.NoError(t, s.AddJob(job))
	assert.Error(t, s.AddJob(job), "duplicate name")
	assert.Equal(t, []string{"daily_build"}, s.GetAllJobs())

	bad := &countingJob{name: "bad", schedule: "not a cron"}
	assert.Error(t, s.AddJob(bad))

	require.NoError(t, s.RemoveJob("daily_build"))
	assert.Empty(t, s.GetAllJobs())
	assert.Error(t, s.RemoveJob("daily_build"))
}

func TestScheduler_RunJobRetries(t *testing.T) {
	s := New(logger.Nop(), WithRetry(2, time.Millisecond))
	job := &countingJob{name: "flaky", schedule: "@daily", failures: 2, err: errors.New("upstream down")}
	require.NoError(t, s.AddJob(job))

	result, err := s.RunJob(context.Background(), "flaky")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 3, result.Attempts)

	stats := s.GetJobStats()["flaky"]
	assert.Equal(t, 1, stats.TotalRuns)
	assert.Equal(t, 1.0, stats.SuccessRate)
	require.NotNil(t, stats.LastSuccess)
}

func TestScheduler_InvalidParamsNotRetried(t *testing.T) {
	s := New(logger.Nop(), WithRetry(3, time.Millisecond))
	job := &countingJob{
		name:     "invalid",
		schedule: "@daily",
		failures: 10,
		err:      contracts.ValidationError{Field: "tickers", Message: "at least one ticker is required"},
	}
	require.NoError(t, s.AddJob(job))

	result, err := s.RunJob(context.Background(), "invalid")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 1, result.Attempts)
	assert.Contains(t, result.Error, "tickers")

	history, err := s.GetJobHistory("invalid")
	require.NoError(t, err)
	sum := history.Summary()
	assert.Equal(t, 1, sum.Failed)
	require.NotNil(t, sum.LastFailure)
	assert.Nil(t, sum.LastSuccess)
}

type blockingJob struct {
	started chan struct{}
	release chan struct{}
}

func (j *blockingJob) Name() string     { return "daily_build" }
func (j *blockingJob) Schedule() string { return "@daily" }

func (j *blockingJob) Run(ctx context.Context) error {
	close(j.started)
	<-j.release
	return nil
}

func TestScheduler_NoOverlap(t *testing.T) {
	s := New(logger.Nop())
	job := &blockingJob{started: make(chan struct{}), release: make(chan struct{})}
	require.NoError(t, s.AddJob(job))

	done := make(chan JobResult, 1)
	go func() {
		r, _ := s.RunJob(context.Background(), "daily_build")
		done <- r
	}()
	<-job.started

	assert.True(t, s.GetJobStats()["daily_build"].Running)
	_, err := s.RunJob(context.Background(), "daily_build")
	assert.ErrorIs(t, err, ErrJobRunning)

	close(job.release)
	assert.True(t, (<-done).Success)
	assert.False(t, s.GetJobStats()["daily_build"].Running)
}

func TestScheduler_UnknownJob(t *testing.T) {
	s := New(logger.Nop())
	_, err := s.RunJob(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownJob)
	_, ok := s.NextRun("missing")
	assert.False(t, ok)
}

type reportingJob struct {
	countingJob
}

func (j *reportingJob) LastReport() string { return "2024-06-04 charlie_run_deadbeef success" }

func TestScheduler_RecordsReport(t *testing.T) {
	s := New(logger.Nop())
	require.NoError(t, s.AddJob(&reportingJob{countingJob{name: "daily_build", schedule: "@daily"}}))

	result, err := s.RunJob(context.Background(), "daily_build")
	require.NoError(t, err)
	assert.Equal(t, "2024-06-04 charlie_run_deadbeef success", result.Report)
	assert.Equal(t, result.Report, s.GetJobStats()["daily_build"].LastReport)
}

func TestJobHistory_Ring(t *testing.T) {
	h := &JobHistory{}
	assert.Empty(t, h.Recent(5))
	assert.Zero(t, h.Summary().SuccessRate())

	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < historyLimit+10; i++ {
		h.Add(JobResult{JobName: "x", StartTime: base.Add(time.Duration(i) * time.Hour), Success: i%2 == 0})
	}
	assert.Equal(t, historyLimit, h.Len())

	recent := h.Recent(3)
	require.Len(t, recent, 3)
	assert.Equal(t, base.Add(time.Duration(historyLimit+9)*time.Hour), recent[0].StartTime)
	assert.True(t, recent[0].StartTime.After(recent[1].StartTime))
	assert.Len(t, h.Recent(1000), historyLimit)

	sum := h.Summary()
	assert.Equal(t, historyLimit, sum.Runs)
	assert.InDelta(t, 0.5, sum.SuccessRate(), 1e-9)
	// 마지막(109번째)은 홀수 → 실패
	assert.Equal(t, *sum.LastRun, *sum.LastFailure)
	assert.Equal(t, base.Add(time.Duration(historyLimit+8)*time.Hour), *sum.LastSuccess)
}
