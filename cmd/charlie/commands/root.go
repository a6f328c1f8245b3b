package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile  string
	profileFile string
	logLevel    string
	memoryStore bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "charlie",
	Short: "Charlie-TR1 - as-of 학습 샘플 빌더",
	Long: `Charlie-TR1 Unified CLI

티커별 뉴스/가격/재무/옵션/거시 데이터를 as-of 기준으로 조립해
프롬프트 샘플, forward-looking 라벨, thesis, 스냅샷을 만든다.

Usage:
  go run ./cmd/charlie [command]

Examples:
  go run ./cmd/charlie migrate
  go run ./cmd/charlie run --tickers AAPL,NVDA --as-of-date 2024-06-03
  go run ./cmd/charlie run --start-date 2024-06-01 --end-date 2024-06-30
  go run ./cmd/charlie scheduler start
  go run ./cmd/charlie api`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "env file (default is .env)")
	rootCmd.PersistentFlags().StringVar(&profileFile, "profile", "", "run profile YAML (default: RUN_PROFILE or built-in)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVar(&memoryStore, "memory", false, "use the in-memory store instead of Postgres (dry run)")
}
