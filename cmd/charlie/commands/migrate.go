package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/charlie/backend/pkg/database"
)

var migrateList bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "DB 스키마 마이그레이션",
	Long: `임베드된 migrations/*.sql 을 한 트랜잭션으로 적용합니다.
모든 DDL 은 IF NOT EXISTS 라 여러 번 실행해도 안전합니다.

Example:
  go run ./cmd/charlie migrate
  go run ./cmd/charlie migrate --list`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().BoolVar(&migrateList, "list", false, "적용할 마이그레이션 파일만 출력")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	files, err := database.MigrationFiles()
	if err != nil {
		return err
	}
	if migrateList {
		bullets(files...)
		return nil
	}
	if memoryStore {
		return fmt.Errorf("migrate needs Postgres; drop --memory")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := a.db.Migrate(ctx); err != nil {
		failure(err.Error())
		return err
	}
	success(fmt.Sprintf("Applied %d migration(s)", len(files)))
	return nil
}
