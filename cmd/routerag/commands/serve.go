package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/54b3r/routerag-go/internal/logging"
	"github.com/54b3r/routerag-go/internal/server"
	"github.com/54b3r/routerag-go/internal/tracing"
	"github.com/54b3r/routerag-go/internal/watcher"
)

// NewServeCmd constructs the `routerag serve` command, which starts the HTTP
// API and, when ROUTERAG_WATCH_DIR is set, the document folder watcher.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the routerag HTTP server",
		Long: `Start the routerag HTTP server.

Endpoints:
  POST   /api/query            answer a question
  POST   /api/documents        upload a document (multipart field "file")
  DELETE /api/documents/{id}   remove a document from the index
  GET    /api/stats            index statistics
  GET    /api/traces           recent query traces
  GET    /api/health           liveness
  GET    /api/ready            readiness of every dependency
  GET    /metrics              Prometheus metrics

Examples:
  routerag serve
  routerag serve --port 9090
  ROUTERAG_WATCH_DIR=./docs MODEL_PROVIDER=none routerag serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			flush := tracing.Install(log)
			defer flush()

			a, err := buildApp(ctx, log, buildOptions{
				registerer: prometheus.DefaultRegisterer,
				archive:    true,
			})
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer a.Close()

			if !cmd.Flags().Changed("host") {
				host = getEnvOrDefault("ROUTERAG_HOST", host)
			}
			if !cmd.Flags().Changed("port") {
				port = getEnvInt("ROUTERAG_PORT", port)
			}

			srv, err := server.New(a.ctrl, &server.Config{
				Host:   host,
				Port:   port,
				Logger: log,
				APIKey: os.Getenv("ROUTERAG_API_KEY"),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			ready := a.ctrl.Initialize(ctx)
			if !ready.Ready {
				log.Warn("serve: dependencies not ready", slog.String("diagnostic", ready.Diagnostic))
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Start(gctx) })

			if dir := a.ctrl.Settings().WatchDir; dir != "" {
				w, err := watcher.New(dir, a.ctrl, watcher.DefaultDebounce)
				if err != nil {
					return fmt.Errorf("serve: %w", err)
				}
				g.Go(func() error { return w.Run(gctx) })
				log.Info("watching documents", slog.String("dir", dir))
			}

			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}
