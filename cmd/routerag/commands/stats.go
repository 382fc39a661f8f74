package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/routerag-go/internal/logging"
)

// NewStatsCmd constructs the `routerag stats` command, which reports the
// configured index's document and chunk totals along with dependency
// readiness.
func NewStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics and dependency readiness",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			a, err := buildApp(ctx, log, buildOptions{})
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			defer a.Close()

			stats, err := a.ctrl.IndexStats(ctx)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			ready := a.ctrl.Initialize(ctx)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Index any `json:"index"`
				Ready any `json:"readiness"`
			}{stats, ready})
		},
	}
}
