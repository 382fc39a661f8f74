package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/routerag-go/internal/agent"
	"github.com/54b3r/routerag-go/internal/classifier"
	"github.com/54b3r/routerag-go/internal/config"
	"github.com/54b3r/routerag-go/internal/embedder"
	"github.com/54b3r/routerag-go/internal/evaluation"
	"github.com/54b3r/routerag-go/internal/fault"
	"github.com/54b3r/routerag-go/internal/pipeline"
	"github.com/54b3r/routerag-go/internal/provider"
	"github.com/54b3r/routerag-go/internal/rag"
	"github.com/54b3r/routerag-go/internal/store"
	"github.com/54b3r/routerag-go/internal/weather"
)

// app bundles the controller with everything that must be released when a
// command exits.
type app struct {
	ctrl    *pipeline.Controller
	archive *store.SQLiteStore
	closers []func()
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// buildOptions tunes buildApp per command.
type buildOptions struct {
	// registerer receives pipeline metrics. Nil keeps them private.
	registerer prometheus.Registerer
	// archive opens the SQLite trace archive.
	archive bool
}

// buildApp wires the pipeline from environment configuration. A missing
// chat model is not fatal: every role falls back to its deterministic path.
func buildApp(ctx context.Context, log *slog.Logger, opts buildOptions) (*app, error) {
	settings, err := config.PipelineFromEnv()
	if err != nil {
		return nil, err
	}

	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	chatModel, providerCfg := buildChatModel(ctx, log)

	if err := embedder.Validate(log); err != nil {
		return nil, err
	}
	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	embBackend := embedder.Backend()
	log.Info("embedder initialised", slog.String("backend", embBackend))

	index, pingers, err := buildIndex(ctx, log, settings.IndexBackend, embedder.DefaultDimensions(embBackend))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = index.Close() })

	if providerCfg != nil && providerCfg.Backend == provider.BackendOllama {
		pingers = append(pingers, pipeline.NewHTTPPinger("ollama", strings.TrimRight(providerCfg.Ollama.Host, "/")+"/api/tags", nil))
	}

	gateway := buildWeather(log, settings)

	cfg := &pipeline.Config{
		Classifier: classifier.New(&classifier.Config{
			ChatModel:   chatModel,
			Threshold:   settings.ClassifierThreshold,
			CallTimeout: settings.CallTimeout,
		}),
		Weather:  gateway,
		Index:    index,
		Embedder: emb,
		Team: agent.NewTeam(&agent.Config{
			ChatModel:           chatModel,
			SimilarityThreshold: settings.SimilarityThreshold,
			CallTimeout:         settings.CallTimeout,
		}),
		Evaluator: evaluation.New(&evaluation.Config{
			ChatModel:   chatModel,
			Judge:       settings.LLMJudge,
			CallTimeout: settings.CallTimeout,
		}),
		Pingers:    pingers,
		Registerer: opts.registerer,
		Settings:   settings,
	}

	if opts.archive {
		if archive := openArchive(log); archive != nil {
			a.archive = archive
			a.closers = append(a.closers, func() { _ = archive.Close() })
			cfg.Archive = archive
		}
	}

	ctrl, err := pipeline.New(cfg)
	if err != nil {
		return nil, err
	}
	a.ctrl = ctrl
	ok = true
	return a, nil
}

// buildChatModel constructs the configured chat model. Failures are logged
// and yield a nil model so the pipeline runs deterministically.
func buildChatModel(ctx context.Context, log *slog.Logger) (model.BaseChatModel, *provider.Config) {
	cfg := provider.ConfigFromEnv()
	chatModel, err := provider.New(ctx, cfg)
	switch {
	case errors.Is(err, provider.ErrDisabled):
		log.Info("provider disabled, using deterministic agents")
		return nil, nil
	case err != nil:
		log.Warn("provider unavailable, using deterministic agents",
			slog.String("provider", string(cfg.Backend)),
			slog.Any("error", err),
		)
		return nil, nil
	}
	log.Info("provider initialised",
		slog.String("provider", string(cfg.Backend)),
		slog.String("model", cfg.ModelName()),
	)
	return chatModel, cfg
}

// buildIndex opens the vector index named by backend, plus the pingers
// that probe it.
func buildIndex(ctx context.Context, log *slog.Logger, backend string, dim int) (rag.VectorIndex, []pipeline.Pinger, error) {
	switch backend {
	case "qdrant":
		host := getEnvOrDefault("QDRANT_HOST", "localhost")
		port := getEnvInt("QDRANT_PORT", 6334)
		idx, err := rag.NewQdrantIndex(ctx, &rag.QdrantConfig{
			Host:       host,
			Port:       port,
			Collection: os.Getenv("QDRANT_COLLECTION"),
			VectorSize: uint64(dim), //nolint:gosec // dimensions are bounded
			APIKey:     os.Getenv("QDRANT_API_KEY"),
			UseTLS:     os.Getenv("QDRANT_TLS") == "true",
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", host, port, err)
		}
		log.Info("qdrant index ready", slog.String("host", host), slog.Int("port", port))
		return idx, []pipeline.Pinger{pipeline.NewPinger("qdrant", idx.Ping)}, nil

	case "chromem":
		path := os.Getenv("CHROMEM_PATH")
		idx, err := rag.NewChromemIndex(ctx, &rag.ChromemConfig{Path: path, Dimensions: dim})
		if err != nil {
			return nil, nil, err
		}
		log.Info("chromem index ready", slog.String("path", path))
		return idx, nil, nil

	default:
		log.Info("memory index ready")
		return rag.NewMemoryIndex(), nil, nil
	}
}

// buildWeather returns the cached OpenWeatherMap gateway, or an offline
// gateway when no API key is configured.
func buildWeather(log *slog.Logger, settings config.Pipeline) weather.Gateway {
	client, err := weather.NewOpenWeatherClient(&weather.OpenWeatherConfig{
		APIKey:  os.Getenv("OPENWEATHER_API_KEY"),
		BaseURL: os.Getenv("OPENWEATHER_BASE_URL"),
	})
	if err != nil {
		log.Warn("weather gateway offline", slog.Any("error", err))
		return offlineWeather{}
	}
	return weather.NewCachedGateway(client, settings.WeatherCacheTTL)
}

// offlineWeather fails every fetch so weather queries take the degraded
// path.
type offlineWeather struct{}

func (offlineWeather) Fetch(context.Context, string, weather.Options) (*weather.Snapshot, error) {
	return nil, fmt.Errorf("weather: no API key configured: %w", fault.ErrUpstreamUnavailable)
}

// openArchive opens the trace archive. ROUTERAG_ARCHIVE_DB overrides the
// default path (~/.routerag/traces.db); "disabled" turns it off. Failures
// are logged and disable the archive.
func openArchive(log *slog.Logger) *store.SQLiteStore {
	dbPath := os.Getenv("ROUTERAG_ARCHIVE_DB")
	if dbPath == "disabled" {
		log.Info("archive: disabled via ROUTERAG_ARCHIVE_DB=disabled")
		return nil
	}
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			log.Warn("archive: could not resolve default DB path, disabling", slog.Any("error", err))
			return nil
		}
	}
	s, err := store.Open(dbPath)
	if err != nil {
		log.Warn("archive: failed to open store, disabling", slog.Any("error", err))
		return nil
	}
	log.Info("archive: store opened", slog.String("path", dbPath))
	return s
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the named environment variable parsed as an int, or
// fallback if unset or unparseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
