package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wonny/charlie/backend/internal/api"
	"github.com/wonny/charlie/backend/internal/api/handlers"
)

// apiCmd represents the api command
var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "API 서버 시작",
	Long: `읽기 전용 REST API 서버를 시작합니다.

Endpoints:
  GET  /health                  - Health check
  GET  /api/samples?ticker=     - 티커별 샘플 목록 (date, limit)
  GET  /api/samples/{id}        - 샘플 + 라벨 + thesis
  GET  /api/labels?ticker=      - 티커별 라벨
  GET  /api/coverage?ticker=    - 날짜별 커버리지 스냅샷
  GET  /api/runs                - 최근 pipeline run
  GET  /api/runs/{id}           - run 상세
  GET  /api/audit?kind=         - 감사 로그

Example:
  go run ./cmd/charlie api
  go run ./cmd/charlie api --port 8080`,
	RunE: runAPIServer,
}

var (
	apiPort string
)

func init() {
	rootCmd.AddCommand(apiCmd)

	// Flags
	apiCmd.Flags().StringVar(&apiPort, "port", "", "API 서버 포트 (default: PORT)")
}

func runAPIServer(cmd *cobra.Command, args []string) error {
	fmt.Fprintln(out, "=== Charlie-TR1 API Server ===")

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if apiPort != "" {
		a.cfg.Port = apiPort
	}

	samples := handlers.NewSampleHandler(a.store, a.log)
	runs := handlers.NewRunHandler(a.store.Runs, a.store.Audit, a.log)
	server := api.New(a.cfg, a.log, api.NewRouter(samples, runs, a.log))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ready := make(chan string, 1)
	go func() {
		addr, ok := <-ready
		if ok {
			fmt.Fprintln(out)
			success("API server listening on " + addr)
			fmt.Fprintln(out, "Press Ctrl+C to stop")
		}
	}()

	if err := server.Serve(ctx, ready); err != nil {
		failure(err.Error())
		return err
	}
	fmt.Fprintln(out, "Server stopped")
	return nil
}
