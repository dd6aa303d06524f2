package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dukerupert/crewtasks/internal/database"
	"github.com/dukerupert/crewtasks/internal/logging"
	"github.com/dukerupert/crewtasks/internal/report"
	"github.com/dukerupert/crewtasks/internal/server"
	"github.com/dukerupert/crewtasks/internal/store"
	"github.com/dukerupert/crewtasks/internal/taskstore"
)

var reportFormat string

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print the current period's task and points summary",
	Long: `Print a summary of tasks, points and reward tiers for the current
points period, read from the configured storage.

Examples:
  crewtasks report
  crewtasks report --format json`,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVarP(&reportFormat, "format", "f", "yaml", "output format (yaml, json)")
}

func runReport(cmd *cobra.Command, args []string) error {
	if reportFormat != "yaml" && reportFormat != "json" {
		return fmt.Errorf("unknown format %q (want yaml or json)", reportFormat)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	storage, err := server.TaskStorage(cfg, db)
	if err != nil {
		return err
	}
	tasks := taskstore.New(storage,
		taskstore.WithLogger(logger.With("component", "taskstore")),
		taskstore.WithoutSeed(),
	)
	if err := tasks.Load(context.Background()); err != nil {
		return fmt.Errorf("load task store: %w", err)
	}

	profiles, err := store.NewProfileStore(db).List()
	if err != nil {
		return fmt.Errorf("list profiles: %w", err)
	}

	return writeSummary(cmd.OutOrStdout(), report.Build(tasks, profiles, time.Now()), reportFormat)
}

func writeSummary(w io.Writer, s report.Summary, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}
