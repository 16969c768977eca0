package main

import (
	"context"
	"flag"
	"os"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/expense-insight/internal/config"
	infraBQ "github.com/dvloznov/expense-insight/internal/infra/bigquery"
	"github.com/dvloznov/expense-insight/internal/logger"
)

func main() {
	var (
		configPath = flag.String("config", os.Getenv("CONFIG_PATH"), "Path to YAML config (or set CONFIG_PATH env)")
		projectID  = flag.String("project", "", "GCP project ID (overrides config)")
		datasetID  = flag.String("dataset", "", "BigQuery dataset ID (overrides config)")
		appliedBy  = flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
	)
	flag.Parse()

	log := logger.New()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if *projectID != "" {
		cfg.Ledger.ProjectID = *projectID
	}
	if *datasetID != "" {
		cfg.Ledger.Dataset = *datasetID
	}
	if cfg.Ledger.ProjectID == "" {
		log.Fatal().Msg("A project ID is required: pass -project or set LEDGER_PROJECT_ID")
	}

	ctx := logger.WithContext(context.Background(), log)

	client, err := bigquery.NewClient(ctx, cfg.Ledger.ProjectID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery client")
	}
	defer client.Close()

	migrations, err := infraBQ.BundledMigrations(cfg.Ledger.ProjectID, cfg.Ledger.Dataset)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read migrations")
	}

	log.Info().
		Str("project", cfg.Ledger.ProjectID).
		Str("dataset", cfg.Ledger.Dataset).
		Int("migrations", len(migrations)).
		Msg("Connected to BigQuery")

	migrator := infraBQ.NewMigrator(client, cfg.Ledger.ProjectID, cfg.Ledger.Dataset, *appliedBy)
	applied, err := migrator.Apply(ctx, migrations)
	if err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}

	if applied == 0 {
		log.Info().Msg("No new migrations to apply. Dataset is up to date.")
	} else {
		log.Info().Int("applied", applied).Msg("Migrations applied")
	}
}
