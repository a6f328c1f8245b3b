package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/charlie/backend/internal/scheduler"
	"github.com/wonny/charlie/backend/internal/scheduler/jobs"
)

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "일일 빌드 스케줄러",
	Long: `cron 기반으로 daily_build 작업을 실행합니다 (UTC, 초 단위 cron).

daily_build: DAILY_BUILD_SCHEDULE (기본 06:30) 마다 TICKERS 전체를
전날 as-of 날짜로 빌드합니다. 실패한 run 은 1분 간격으로 2회 재시도합니다.

Example:
  go run ./cmd/charlie scheduler start
  go run ./cmd/charlie scheduler start --run-now
  go run ./cmd/charlie scheduler list
  go run ./cmd/charlie scheduler run daily_build`,
}

var (
	schedulerStartCmd = &cobra.Command{
		Use:   "start",
		Short: "스케줄러 실행 (Ctrl+C 로 종료)",
		RunE:  runScheduler,
	}

	schedulerListCmd = &cobra.Command{
		Use:   "list",
		Short: "등록된 작업과 다음 실행 시각",
		RunE:  listJobs,
	}

	schedulerRunCmd = &cobra.Command{
		Use:   "run <job>",
		Short: "작업 한 번 즉시 실행",
		Args:  cobra.ExactArgs(1),
		RunE:  runJob,
	}
)

var schedulerRunNow bool

const (
	jobRetries    = 2
	jobRetryDelay = time.Minute
)

func init() {
	rootCmd.AddCommand(schedulerCmd)
	schedulerCmd.AddCommand(schedulerStartCmd, schedulerListCmd, schedulerRunCmd)

	schedulerStartCmd.Flags().BoolVar(&schedulerRunNow, "run-now", false, "시작 직후 daily_build 를 한 번 실행 (중단 후 재기동 시)")
}

// initScheduler registers every job. runner may be nil when jobs are only listed.
func initScheduler(runner jobs.Runner, a *app) (*scheduler.Scheduler, error) {
	sched := scheduler.New(a.log, scheduler.WithRetry(jobRetries, jobRetryDelay))
	if err := sched.AddJob(jobs.NewDailyBuildJob(runner, a.cfg, a.log)); err != nil {
		return nil, fmt.Errorf("add daily_build: %w", err)
	}
	return sched, nil
}

func runScheduler(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := a.pipeline(ctx, false)
	if err != nil {
		return err
	}
	sched, err := initScheduler(p, a)
	if err != nil {
		return err
	}

	sched.Start()
	success("Scheduler started (Ctrl+C to stop)")
	printJobs(sched)

	if schedulerRunNow {
		go func() {
			if _, err := sched.RunJob(ctx, "daily_build"); err != nil {
				a.log.WithError(err).Warn("Immediate daily_build could not start")
			}
		}()
	}

	<-ctx.Done()
	fmt.Fprintln(out, "\nStopping scheduler; waiting for running jobs...")
	sched.Stop()
	printJobs(sched)
	return nil
}

func listJobs(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	sched, err := initScheduler(nil, a)
	if err != nil {
		return err
	}
	// cron 이 시작되지 않으면 Next 가 비어 있다
	sched.Start()
	defer sched.Stop()

	printJobs(sched)
	return nil
}

func printJobs(sched *scheduler.Scheduler) {
	stats := sched.GetJobStats()
	t := newTable(column{"Job", 12}, column{"Schedule", 14}, column{"Next", 20},
		column{"Runs", 5}, column{"Last", 48})
	for _, name := range sched.GetAllJobs() {
		st := stats[name]
		next := "-"
		if at, ok := sched.NextRun(name); ok && !at.IsZero() {
			next = at.UTC().Format("2006-01-02 15:04:05")
		}
		last := "-"
		if st.LastReport != "" {
			last = st.LastReport
		}
		t.row(name, st.Schedule, next, itoa(st.TotalRuns), last)
	}
}

func runJob(cmd *cobra.Command, args []string) error {
	jobName := args[0]

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := a.pipeline(ctx, false)
	if err != nil {
		return err
	}
	sched, err := initScheduler(p, a)
	if err != nil {
		return err
	}

	section("⏱  " + jobName)
	result, err := sched.RunJob(ctx, jobName)
	if err != nil {
		return err
	}

	keyValue("attempts", itoa(result.Attempts))
	keyValue("duration", result.Duration.Round(time.Millisecond).String())
	if result.Report != "" {
		keyValue("run", result.Report)
	}
	if !result.Success {
		failure(result.Error)
		return fmt.Errorf("job %s failed after %d attempts", jobName, result.Attempts)
	}
	success("Job " + jobName + " completed")
	return nil
}
