package commands

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/54b3r/routerag-go/internal/ingestion"
	"github.com/54b3r/routerag-go/internal/logging"
	"github.com/54b3r/routerag-go/internal/pipeline"
)

// NewIngestCmd constructs the `routerag ingest` command, which chunks,
// embeds and stores documents in the configured vector index.
func NewIngestCmd() *cobra.Command {
	var keepGoing bool

	cmd := &cobra.Command{
		Use:   "ingest [file or directory]...",
		Short: "Ingest documents into the vector index",
		Long: `Ingest documents into the vector index.

Directories are walked recursively; files with an unsupported extension are
skipped. Documents are identified by absolute path; re-ingesting a file
replaces its previous chunks. A persistent
index (INDEX_BACKEND=chromem with CHROMEM_PATH, or qdrant) is needed for the
result to outlive the command.

Relevant environment variables:
  INDEX_BACKEND        memory, chromem or qdrant (default: memory)
  CHROMEM_PATH         chromem persistence directory
  QDRANT_HOST          Qdrant server hostname (default: localhost)
  QDRANT_PORT          Qdrant gRPC port (default: 6334)
  EMBEDDING_PROVIDER   hash, ollama, openai, azure
  CHUNK_SIZE           characters per chunk (default: 1000)
  CHUNK_OVERLAP        characters shared by neighbours (default: 200)

Examples:
  routerag ingest ./docs
  INDEX_BACKEND=chromem CHROMEM_PATH=~/.routerag/index routerag ingest handbook.pdf`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			a, err := buildApp(ctx, log, buildOptions{})
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer a.Close()

			files, err := collectFiles(args)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			log.Info("starting ingestion", slog.Int("files", len(files)))

			var chunks, failed int
			for _, path := range files {
				rep, err := ingestFile(ctx, a, path)
				if err != nil {
					failed++
					if !keepGoing {
						return fmt.Errorf("ingest: %s: %w", path, err)
					}
					log.Warn("ingest failed", slog.String("path", path), slog.Any("error", err))
					continue
				}
				chunks += rep.ChunkCount
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d chunks\n", rep.DocumentID, path, rep.ChunkCount)
			}

			log.Info("ingestion complete",
				slog.Int("files", len(files)-failed),
				slog.Int("failed", failed),
				slog.Int("chunks", chunks),
			)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&keepGoing, "keep-going", "k", false, "Continue past files that fail to ingest")

	return cmd
}

// ingestFile reads path and ingests it under its absolute path, so
// same-named files in different directories stay distinct documents.
func ingestFile(ctx context.Context, a *app, path string) (*pipeline.IngestReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return a.ctrl.IngestDocument(ctx, data, ingestion.SourceName(path))
}

// collectFiles expands directories into the supported files beneath them.
// Explicit file arguments are kept regardless of extension so the caller
// sees the unsupported-format error.
func collectFiles(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && ingestion.SupportedExtension(path) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}
