package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/routerag-go/internal/logging"
	"github.com/54b3r/routerag-go/internal/tracing"
)

// NewAskCmd constructs the `routerag ask` command, which answers a single
// question and prints the answer to stdout.
func NewAskCmd() *cobra.Command {
	var docs []string
	var showTrace bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a single question",
		Long: `Answer a single question through the routed pipeline.

Documents passed with --doc are ingested first, so the RAG branch can answer
from them even with the in-memory index.

Examples:
  routerag ask "what's the weather in Tokyo?"
  routerag ask --doc ./handbook.pdf "how many vacation days do I get?"
  routerag ask --trace "is it raining in Paris?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			flush := tracing.Install(log)
			defer flush()

			a, err := buildApp(ctx, log, buildOptions{archive: true})
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer a.Close()

			for _, path := range docs {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("ask: %w", err)
				}
				if _, err := a.ctrl.IngestDocument(ctx, data, filepath.Base(path)); err != nil {
					return fmt.Errorf("ask: %w", err)
				}
			}

			ans, err := a.ctrl.AnswerQuery(ctx, strings.Join(args, " "))
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, ans.FinalAnswer)
			if ans.Evaluation != nil {
				fmt.Fprintf(out, "\n[%s] overall %.2f: %s\n", ans.Branch, ans.Evaluation.Overall, strings.Join(ans.Evaluation.Feedback, "; "))
			}
			if showTrace {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(ans.Trace)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&docs, "doc", "d", nil, "Document to ingest before answering (repeatable)")
	cmd.Flags().BoolVar(&showTrace, "trace", false, "Print the full query trace as JSON")

	return cmd
}
