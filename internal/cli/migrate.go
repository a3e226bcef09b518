package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/GulDilin/image-deduplication-storage/internal/repository/sqlite"
	"github.com/GulDilin/image-deduplication-storage/internal/repository/sqlite/migrations"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			statusOnly, err := cmd.Flags().GetBool("status")
			if err != nil {
				return fmt.Errorf("failed to get status flag: %w", err)
			}

			store, err := openStore(cfg.Database)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			db, ok := store.(*sqlite.DB)
			if !ok {
				if statusOnly {
					fmt.Fprintf(out, "%s store: schema is versioned in the store itself\n", cfg.Database.Driver)
					return nil
				}
				if err := store.Migrate(cmd.Context()); err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
				fmt.Fprintf(out, "%s store schema is up to date\n", cfg.Database.Driver)
				return nil
			}

			if !statusOnly {
				applied, err := migrations.Run(cmd.Context(), db.SqlDB)
				if err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
				fmt.Fprintf(out, "applied %d migration(s)\n", len(applied))
			}

			statuses, err := migrations.Check(cmd.Context(), db.SqlDB)
			if err != nil {
				return fmt.Errorf("check migrations: %w", err)
			}
			for _, s := range statuses {
				if s.Applied {
					fmt.Fprintf(out, "%-24s applied %s\n", s.Filename, s.AppliedAt.Format(time.RFC3339))
				} else {
					fmt.Fprintf(out, "%-24s pending\n", s.Filename)
				}
			}
			return nil
		},
	}
	cmd.Flags().Bool("status", false, "Only report which migrations are applied")
	return cmd
}
