package main

import (
	"os"

	"github.com/wonny/charlie/backend/cmd/charlie/commands"
)

// main is the entry point for the Charlie CLI
// ⭐ 통합 CLI 진입점: go run ./cmd/charlie [command]
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
