// Package commands defines all Cobra CLI commands for the routerag binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/routerag-go/internal/audit"
	"github.com/54b3r/routerag-go/internal/config"
	"github.com/54b3r/routerag-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// envFile holds the --env-file flag value.
var envFile string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "routerag",
		Short: "routerag answers weather and document questions with a routed agent pipeline",
		Long: `routerag classifies each question as a weather lookup or a question about
your documents, runs the matching specialist, has a supervisor review the
result, and scores the final answer.

Documents (PDF, DOCX, XLSX, Markdown, text) are chunked, embedded and stored
in a vector index selected with INDEX_BACKEND (memory, chromem, qdrant).
Model provider is selected via MODEL_PROVIDER or a YAML config file
(~/.routerag/config.yaml). MODEL_PROVIDER=none runs fully offline.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			if err := config.LoadDotEnv(envFile, log); err != nil {
				return err
			}

			// Env vars always override YAML values.
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.routerag/config.yaml)")
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "Path to a dotenv file (default: ./.env)")

	root.AddCommand(
		NewAskCmd(),
		NewServeCmd(),
		NewIngestCmd(),
		NewStatsCmd(),
		NewTracesCmd(),
		NewVersionCmd(),
	)

	return root
}
