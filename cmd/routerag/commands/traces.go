package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/routerag-go/internal/logging"
)

// NewTracesCmd constructs the `routerag traces` command, which lists or
// prunes archived query traces.
func NewTracesCmd() *cobra.Command {
	var limit int
	var queryID string
	var pruneOlder time.Duration

	cmd := &cobra.Command{
		Use:   "traces",
		Short: "Inspect or prune archived query traces",
		Long: `List recent query traces from the SQLite archive, newest first.

Examples:
  routerag traces --limit 5
  routerag traces --id 6f1c2d9e-0b7a-4c1e-9a55-2f3b8f0e7d41
  routerag traces --prune 720h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			a, err := buildApp(ctx, log, buildOptions{archive: true})
			if err != nil {
				return fmt.Errorf("traces: %w", err)
			}
			defer a.Close()

			if a.archive == nil {
				return errors.New("traces: archive is disabled")
			}

			if pruneOlder > 0 {
				n, err := a.archive.Prune(ctx, time.Now().Add(-pruneOlder))
				if err != nil {
					return fmt.Errorf("traces: %w", err)
				}
				log.Info("traces pruned", slog.Int64("removed", n))
				return nil
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			if queryID != "" {
				tr, err := a.archive.Get(ctx, queryID)
				if err != nil {
					return fmt.Errorf("traces: %w", err)
				}
				return enc.Encode(tr)
			}

			traces, err := a.ctrl.RecentTraces(ctx, limit)
			if err != nil {
				return fmt.Errorf("traces: %w", err)
			}
			return enc.Encode(traces)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of traces to show")
	cmd.Flags().StringVar(&queryID, "id", "", "Show the single trace with this query id")
	cmd.Flags().DurationVar(&pruneOlder, "prune", 0, "Delete traces older than this duration instead of listing")

	return cmd
}
