package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

func newReconcileCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Delete orphaned files and records whose files are missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			dryRun, err := cmd.Flags().GetBool("dry-run")
			if err != nil {
				return fmt.Errorf("failed to get dry-run flag: %w", err)
			}

			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					slog.Error("close store", "error", err)
				}
			}()

			report, err := a.reconciler.Run(cmd.Context(), dryRun)
			if err != nil {
				return fmt.Errorf("reconcile: %w", err)
			}

			out := cmd.OutOrStdout()
			verb := "removed"
			if dryRun {
				verb = "would remove"
			}
			fmt.Fprintf(out, "scanned %d stored file(s)\n", report.Scanned)
			for _, name := range report.Orphans {
				fmt.Fprintf(out, "%s orphan file %s\n", verb, name)
			}
			for _, id := range report.Missing {
				fmt.Fprintf(out, "%s image %s (file missing)\n", verb, id)
			}
			for _, id := range report.StaleThumbnails {
				fmt.Fprintf(out, "%s thumbnail %s (file missing)\n", verb, id)
			}
			return nil
		},
	}
	cmd.Flags().Bool("dry-run", false, "Report what would be removed without changing anything")
	return cmd
}
