package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/verbatik/agent-stream/internal/config"
	"github.com/verbatik/agent-stream/internal/store"
)

var migrateEnvFile string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Run:   runMigrate,
}

func init() {
	migrateCmd.Flags().StringVar(&migrateEnvFile, "env", ".env", "Path to .env file")
}

func runMigrate(cmd *cobra.Command, args []string) {
	loadEnvFile(migrateEnvFile)

	cfg, err := config.New()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Open applies pending migrations on connect.
	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to apply migrations: %v", err)
	}
	defer func() { _ = db.Close() }()
	log.Printf("Migrations applied (%s)", cfg.DatabaseURL)
}
