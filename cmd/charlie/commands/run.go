package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/charlie/backend/internal/contracts"
	"github.com/wonny/charlie/backend/internal/pipeline"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "샘플 빌드 실행",
	Long: `티커별로 수집 → 정규화 → 지표 → 조립 ‖ 라벨 → 증류 → 내보내기를 실행합니다.

날짜는 --as-of-date 하나, 또는 --start-date/--end-date 범위(양 끝 포함)로 지정합니다.
티커 하나의 실패는 다른 티커에 영향을 주지 않으며 run 상태는 success/partial/failed 로 기록됩니다.

Example:
  go run ./cmd/charlie run --as-of-date 2024-06-03
  go run ./cmd/charlie run --tickers AAPL,NVDA --start-date 2024-06-01 --end-date 2024-06-30 --seed 7
  go run ./cmd/charlie run --memory --skip-fetch --as-of-date 2024-06-03`,
	RunE: runBuild,
}

var (
	runTickers     []string
	runAsOfDate    string
	runStartDate   string
	runEndDate     string
	runSeed        string
	runVariations  int
	runTokenBudget int
	runWorkers     int
	runSkipFetch   bool
	runSkipDistill bool
	runSkipExport  bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringSliceVar(&runTickers, "tickers", nil, "티커 목록 (default: TICKERS)")
	runCmd.Flags().StringVar(&runAsOfDate, "as-of-date", "", "단일 as-of 날짜 (YYYY-MM-DD)")
	runCmd.Flags().StringVar(&runStartDate, "start-date", "", "범위 시작 (YYYY-MM-DD)")
	runCmd.Flags().StringVar(&runEndDate, "end-date", "", "범위 끝 (YYYY-MM-DD)")
	runCmd.Flags().StringVar(&runSeed, "seed", "", "정수 seed (default 1234)")
	runCmd.Flags().IntVar(&runVariations, "variations", 0, "날짜당 variation 수 (default: profile)")
	runCmd.Flags().IntVar(&runTokenBudget, "token-budget", 0, "프롬프트 토큰 예산 (default: profile)")
	runCmd.Flags().IntVar(&runWorkers, "workers", pipeline.DefaultWorkers, "동시 처리 티커 수")
	runCmd.Flags().BoolVar(&runSkipFetch, "skip-fetch", false, "외부 수집 생략 (저장된 데이터만 사용)")
	runCmd.Flags().BoolVar(&runSkipDistill, "skip-distill", false, "thesis 증류 생략")
	runCmd.Flags().BoolVar(&runSkipExport, "skip-export", false, "스냅샷 내보내기 생략")
}

func runBuild(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	tickers := runTickers
	if len(tickers) == 0 {
		tickers = a.cfg.Tickers
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := a.pipeline(ctx, runSkipFetch)
	if err != nil {
		return err
	}

	start := time.Now()
	summary, err := p.Run(ctx, pipeline.RunParams{
		Tickers:        tickers,
		AsOfDate:       runAsOfDate,
		StartDate:      runStartDate,
		EndDate:        runEndDate,
		Seed:           runSeed,
		VariationCount: runVariations,
		TokenBudget:    runTokenBudget,
		Workers:        runWorkers,
		SkipFetch:      runSkipFetch,
		SkipDistill:    runSkipDistill,
		SkipExport:     runSkipExport,
	})
	if err != nil {
		failure(err.Error())
		return err
	}

	printSummary(summary, time.Since(start))

	if summary.Status == contracts.RunStatusFailed {
		return fmt.Errorf("run %s failed for every ticker", summary.RunName)
	}
	return nil
}

func printSummary(s *pipeline.RunSummary, elapsed time.Duration) {
	fmt.Fprintln(out)
	heavyRule()
	fmt.Fprintf(out, "  %s (#%d)\n", s.RunName, s.RunID)
	rule()
	keyValue("Type", s.RunType)
	keyValue("Status", s.Status)
	keyValue("Dates", itoa(s.Dates))
	keyValue("Samples", itoa(s.Samples))
	keyValue("Labels", itoa(s.Labels))
	keyValue("Theses", itoa(s.Theses))
	rule()

	t := newTable(
		column{"Ticker", 8}, column{"Samples", 8}, column{"Labels", 8},
		column{"Theses", 8}, column{"Coverage", 10}, column{"Result", 30},
	)
	for _, r := range s.Results {
		coverage := "-"
		if r.Coverage != nil {
			coverage = fmt.Sprintf("%.2f", r.Coverage.QualityScore)
		}
		result := "ok"
		if r.Err != nil {
			result = r.Err.Error()
		}
		t.row(r.Ticker, itoa(r.Samples), itoa(r.Labels), itoa(r.Theses), coverage, result)
	}

	if len(s.Audit) > 0 {
		kinds := make([]string, 0, len(s.Audit))
		for k, n := range s.Audit {
			kinds = append(kinds, fmt.Sprintf("%s=%d", k, n))
		}
		sort.Strings(kinds)
		rule()
		keyValue("Audit", strings.Join(kinds, " "))
	}

	switch s.Status {
	case contracts.RunStatusSuccess:
		fmt.Fprintln(out)
		success(fmt.Sprintf("%s completed in %.2fs", s.RunName, elapsed.Seconds()))
	case contracts.RunStatusPartial:
		warning(fmt.Sprintf("%d ticker(s) failed", len(s.Failed)))
	default:
		failure("every ticker failed")
	}
}
