package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/charlie/backend/internal/contracts"
	"github.com/wonny/charlie/backend/internal/quality"
	"github.com/wonny/charlie/backend/pkg/redis"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "빌드 상태 조회",
	Long: `설정/DB/최근 run/티커별 커버리지/감사 로그를 표시합니다.

표시 정보:
- Providers: API 키 설정 여부
- Database: 연결 상태와 풀 통계
- Runs: 최근 pipeline run
- Coverage: 티커별 최신 as-of 날짜 커버리지

Example:
  go run ./cmd/charlie status
  go run ./cmd/charlie status --watch 30s`,
	RunE: runStatus,
}

var (
	statusWatch time.Duration
	statusRuns  int
)

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().DurationVar(&statusWatch, "watch", 0, "갱신 간격 (0 이면 한 번만 출력)")
	statusCmd.Flags().IntVar(&statusRuns, "runs", 5, "표시할 최근 run 수")
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if statusWatch <= 0 {
		return displayStatus(ctx, a)
	}

	ticker := time.NewTicker(statusWatch)
	defer ticker.Stop()

	for {
		// Clear screen (ANSI escape code)
		fmt.Fprint(out, "\033[H\033[2J")
		fmt.Fprintf(out, "Refresh: %v | Last update: %s\n", statusWatch, time.Now().Format("15:04:05"))
		if err := displayStatus(ctx, a); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "\n✅ Status monitor stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func displayStatus(ctx context.Context, a *app) error {
	fmt.Fprintln(out, "=== Charlie-TR1 Status ===")

	// Providers
	section("🔑 Providers")
	apis := a.cfg.APIStatus()
	names := make([]string, 0, len(apis))
	for name := range apis {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		state := "missing"
		if apis[name] {
			state = "configured"
		}
		keyValue(name, state)
	}
	keyValue("storage", a.cfg.Storage.Backend)
	keyValue("redis", redisState(ctx, a))

	// Database
	section("🗄  Database")
	if a.db == nil {
		keyValue("store", "in-memory")
	} else {
		health, err := a.db.HealthCheck(ctx)
		if err != nil {
			keyValue("healthy", "false ("+health.Error+")")
		} else {
			keyValue("healthy", "true")
			keyValue("schema", health.Schema)
			if !health.Migrated {
				warning("schema not migrated; run `charlie migrate`")
			}
			keyValue("latency", health.ResponseTime.String())
			keyValue("conns", fmt.Sprintf("%d/%d", health.Stats.AcquiredConns, health.Stats.MaxConns))
		}
	}

	// Runs
	section("🏃 Recent Runs")
	runs, err := a.store.Runs.List(ctx, statusRuns)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "   (none)")
	} else {
		t := newTable(column{"ID", 6}, column{"Name", 22}, column{"Type", 14},
			column{"Status", 8}, column{"Started", 20})
		for _, r := range runs {
			t.row(fmt.Sprintf("%d", r.ID), r.RunName, r.RunType, r.Status,
				r.StartedAt.UTC().Format("2006-01-02 15:04:05"))
		}
	}

	// Coverage
	section("📊 Coverage (latest as-of date)")
	if err := displayCoverage(ctx, a); err != nil {
		return err
	}

	// Audit
	section("📝 Audit")
	for _, kind := range []contracts.AuditKind{
		contracts.AuditDuplicateConflict,
		contracts.AuditParseFailure,
		contracts.AuditLeakageGuard,
		contracts.AuditDistillFailure,
	} {
		entries, err := a.store.Audit.List(ctx, kind, 100)
		if err != nil {
			return fmt.Errorf("list audit %s: %w", kind, err)
		}
		n := fmt.Sprintf("%d", len(entries))
		if len(entries) == 100 {
			n = "100+"
		}
		keyValue(string(kind), n)
	}
	return nil
}

func displayCoverage(ctx context.Context, a *app) error {
	assets, err := a.store.Assets.List(ctx)
	if err != nil {
		return fmt.Errorf("list assets: %w", err)
	}
	if len(assets) == 0 {
		fmt.Fprintln(out, "   (no assets)")
		return nil
	}

	gate := quality.NewGate(quality.DefaultConfig())
	t := newTable(column{"Ticker", 8}, column{"As-of", 12}, column{"Samples", 8},
		column{"Score", 8}, column{"Pass", 6})
	for _, asset := range assets {
		samples, err := a.store.Samples.ListByAsset(ctx, asset.ID)
		if err != nil {
			return fmt.Errorf("list samples %s: %w", asset.Ticker, err)
		}
		if len(samples) == 0 {
			t.row(asset.Ticker, "-", "0", "-", "-")
			continue
		}

		latest := samples[0].AsOfDate
		for _, s := range samples[1:] {
			if s.AsOfDate.After(latest) {
				latest = s.AsOfDate
			}
		}
		snap, err := gate.CheckAsset(ctx, a.store.Samples, asset, latest)
		if err != nil {
			return err
		}
		pass := "no"
		if snap.Passed {
			pass = "yes"
		}
		t.row(asset.Ticker, latest.UTC().Format(contracts.DateLayout),
			itoa(snap.TotalSamples), fmt.Sprintf("%.2f", snap.QualityScore), pass)
	}
	return nil
}

func redisState(ctx context.Context, a *app) string {
	if !a.cfg.Redis.Enabled {
		return "disabled"
	}
	if a.redis == nil {
		rc, err := redis.New(a.cfg)
		if err != nil {
			return "unreachable (" + err.Error() + ")"
		}
		a.redis = rc
	}
	rtt, err := a.redis.Ping(ctx)
	if err != nil {
		return "unreachable (" + err.Error() + ")"
	}
	return "ok " + rtt.Round(time.Microsecond).String()
}
