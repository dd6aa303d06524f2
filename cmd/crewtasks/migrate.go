package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dukerupert/crewtasks/internal/database"
	"github.com/dukerupert/crewtasks/internal/push"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and print the schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		// Open applies pending migrations.
		db, err := database.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		v, err := database.Version(db)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s at schema version %d\n", cfg.DBPath, v)
		return nil
	},
}

var vapidCmd = &cobra.Command{
	Use:   "vapid-keys",
	Short: "Generate a VAPID key pair for web push",
	RunE: func(cmd *cobra.Command, args []string) error {
		pub, priv, err := push.GenerateVAPIDKeys()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "CREWTASKS_PUSH_VAPID_PUBLIC_KEY=%s\n", pub)
		fmt.Fprintf(out, "CREWTASKS_PUSH_VAPID_PRIVATE_KEY=%s\n", priv)
		return nil
	},
}
