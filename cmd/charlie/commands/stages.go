package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wonny/charlie/backend/internal/audit"
	"github.com/wonny/charlie/backend/internal/contracts"
	"github.com/wonny/charlie/backend/internal/distill"
	"github.com/wonny/charlie/backend/internal/labels"
)

// 단계별 재실행 커맨드: 이미 저장된 샘플에 대해 라벨/증류/내보내기만 다시 수행

var stageTickers []string

var labelsCmd = &cobra.Command{
	Use:   "labels",
	Short: "저장된 샘플에 라벨 재부착",
	Long: `저장된 가격 이력으로 composite signal 과 라벨을 다시 계산해 샘플에 부착합니다.

Example:
  go run ./cmd/charlie labels
  go run ./cmd/charlie labels --tickers AAPL`,
	RunE: runLabels,
}

var distillCmd = &cobra.Command{
	Use:   "distill",
	Short: "저장된 샘플에서 thesis 증류",
	Long: `티커별 샘플을 선택해 LLM(또는 stub)으로 thesis 를 생성합니다.
ANTHROPIC_API_KEY 가 없으면 결정적 stub 모델을 사용합니다.

Example:
  go run ./cmd/charlie distill --tickers NVDA`,
	RunE: runDistill,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "티커별 스냅샷 내보내기",
	Long: `샘플 + 라벨 + thesis 를 Parquet 스냅샷으로 내보냅니다 (data, .sha256, _SUCCESS).
STORAGE_BACKEND=s3 이면 S3 로, 아니면 DATA_ROOT 아래에 씁니다.

Example:
  go run ./cmd/charlie export`,
	RunE: runExport,
}

func init() {
	for _, c := range []*cobra.Command{labelsCmd, distillCmd, exportCmd} {
		c.Flags().StringSliceVar(&stageTickers, "tickers", nil, "티커 목록 (default: 저장된 전체 자산)")
		rootCmd.AddCommand(c)
	}
}

// forEachAsset resolves the ticker flag and runs fn per asset, stopping at the first error
func forEachAsset(fn func(ctx context.Context, a *app, asset *contracts.Asset) error) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	assets, err := a.assets(ctx, stageTickers)
	if err != nil {
		return err
	}
	if len(assets) == 0 {
		warning("No assets stored; run `charlie run` first")
		return nil
	}

	for _, asset := range assets {
		if err := fn(ctx, a, asset); err != nil {
			failure(fmt.Sprintf("%s: %v", asset.Ticker, err))
			return err
		}
	}
	return nil
}

func runLabels(cmd *cobra.Command, args []string) error {
	var t *table
	return forEachAsset(func(ctx context.Context, a *app, asset *contracts.Asset) error {
		l := labels.NewLabeler(a.store.Prices, a.store.Samples, a.store.Labels, a.log)
		stats, err := l.Run(ctx, asset)
		if err != nil {
			return err
		}
		if t == nil {
			t = newTable(column{"Ticker", 8}, column{"Series", 8}, column{"Signals", 8},
				column{"Samples", 8}, column{"Labeled", 8})
		}
		t.row(asset.Ticker, itoa(stats.SeriesLength), itoa(stats.ValidSignals),
			itoa(stats.Samples), itoa(stats.Labeled))
		return nil
	})
}

func runDistill(cmd *cobra.Command, args []string) error {
	var t *table
	return forEachAsset(func(ctx context.Context, a *app, asset *contracts.Asset) error {
		d := distill.New(a.cfg.LLM, a.log)
		rec := audit.NewRecorder(a.store.Audit, a.log)
		r := distill.NewRunner(d, a.store.Samples, a.store.Theses, rec,
			a.profile.Distill.TargetSamples, a.profile.Distill.BatchSize, a.log)

		stats, err := r.RunAsset(ctx, asset)
		if err != nil {
			return err
		}
		if t == nil {
			keyValue("Model", d.Model())
			t = newTable(column{"Ticker", 8}, column{"Candidates", 10}, column{"Selected", 8},
				column{"Written", 8}, column{"Failed", 8})
		}
		t.row(asset.Ticker, itoa(stats.Candidates), itoa(stats.Selected),
			itoa(stats.Written), itoa(stats.Failed))
		return nil
	})
}

func runExport(cmd *cobra.Command, args []string) error {
	return forEachAsset(func(ctx context.Context, a *app, asset *contracts.Asset) error {
		exp, err := a.exporter(ctx)
		if err != nil {
			return err
		}
		artifact, err := exp.ExportAsset(ctx, asset)
		if err != nil {
			return err
		}
		success(fmt.Sprintf("%s: %d rows", asset.Ticker, artifact.Rows))
		bullets(artifact.URIs()...)
		return nil
	})
}
