package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wonny/charlie/backend/internal/contracts"
	"github.com/wonny/charlie/backend/internal/pipeline"
	"github.com/wonny/charlie/backend/pkg/config"
	"github.com/wonny/charlie/backend/pkg/logger"
)

// Runner executes one pipeline run
type Runner interface {
	Run(ctx context.Context, params pipeline.RunParams) (*pipeline.RunSummary, error)
}

// DailyBuildJob builds samples for the configured tickers as of the previous UTC day
// ⭐ SSOT: 일일 샘플 빌드 스케줄은 이 Job에서만
type DailyBuildJob struct {
	runner   Runner
	tickers  []string
	schedule string
	logger   *logger.Logger
	now      func() time.Time

	mu     sync.Mutex
	report string
}

// NewDailyBuildJob creates a new daily build job
func NewDailyBuildJob(runner Runner, cfg *config.Config, log *logger.Logger) *DailyBuildJob {
	return &DailyBuildJob{
		runner:   runner,
		tickers:  cfg.Tickers,
		schedule: cfg.DailyBuildSchedule,
		logger:   log.Component("daily_build"),
		now:      time.Now,
	}
}

// Name returns the job name
func (j *DailyBuildJob) Name() string {
	return "daily_build"
}

// Schedule returns the cron schedule (with seconds)
func (j *DailyBuildJob) Schedule() string {
	return j.schedule
}

// AsOfDate is the previous calendar day in UTC
func (j *DailyBuildJob) AsOfDate() string {
	return j.now().UTC().AddDate(0, 0, -1).Format(contracts.DateLayout)
}

// Run executes the build. A partial run is a success; a failed run is returned as an error so it is retried.
func (j *DailyBuildJob) Run(ctx context.Context) error {
	if j.runner == nil {
		return fmt.Errorf("daily build: no pipeline configured")
	}
	asOf := j.AsOfDate()
	j.logger.WithField("as_of_date", asOf).Info("Starting scheduled daily build")

	summary, err := j.runner.Run(ctx, pipeline.RunParams{
		Tickers:  j.tickers,
		AsOfDate: asOf,
	})
	if err != nil {
		j.setReport(asOf + " error")
		return fmt.Errorf("daily build %s: %w", asOf, err)
	}
	j.setReport(fmt.Sprintf("%s %s %s samples=%d failed=%d",
		asOf, summary.RunName, summary.Status, summary.Samples, len(summary.Failed)))

	log := j.logger.WithFields(map[string]interface{}{
		"run_name": summary.RunName,
		"status":   summary.Status,
		"samples":  summary.Samples,
	})

	switch summary.Status {
	case contracts.RunStatusFailed:
		return fmt.Errorf("daily build %s: run %s failed for every ticker", asOf, summary.RunName)
	case contracts.RunStatusPartial:
		log.WithField("failed", len(summary.Failed)).Warn("Daily build completed with failures")
	default:
		log.Info("Daily build completed successfully")
	}
	return nil
}

// LastReport describes the run produced by the latest Run
func (j *DailyBuildJob) LastReport() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.report
}

func (j *DailyBuildJob) setReport(r string) {
	j.mu.Lock()
	j.report = r
	j.mu.Unlock()
}
