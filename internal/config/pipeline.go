package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Pipeline defaults.
const (
	DefaultChunkSize           = 1000
	DefaultChunkOverlap        = 200
	DefaultTopK                = 5
	DefaultSimilarityThreshold = 0.35
	DefaultClassifierThreshold = 0.6
	DefaultCallTimeout         = 20 * time.Second
	DefaultQueryTimeout        = 90 * time.Second
	DefaultWeatherCacheTTL     = 10 * time.Minute
	DefaultWeatherLocation     = "London"
	DefaultIndexBackend        = "memory"
)

// Pipeline is the typed option set consumed by the query pipeline.
type Pipeline struct {
	// ChunkSize is the target chunk length in characters.
	ChunkSize int
	// ChunkOverlap is the number of characters shared by consecutive chunks.
	ChunkOverlap int
	// TopK is the number of chunks retrieved per query.
	TopK int
	// SimilarityThreshold is the minimum cosine score for a chunk to be used.
	SimilarityThreshold float32
	// ClassifierThreshold is the heuristic confidence below which the LLM
	// fallback is consulted.
	ClassifierThreshold float32
	// CallTimeout bounds every external call.
	CallTimeout time.Duration
	// QueryTimeout bounds a whole query.
	QueryTimeout time.Duration
	// WeatherCacheTTL is the weather snapshot cache lifetime.
	WeatherCacheTTL time.Duration
	// DefaultLocation is used when a weather query names no place.
	DefaultLocation string
	// IndexBackend is memory, qdrant or chromem.
	IndexBackend string
	// LLMJudge enables model-based evaluation.
	LLMJudge bool
	// WatchDir is auto-ingested when non-empty.
	WatchDir string
}

// DefaultPipeline returns the option set with every field at its default.
func DefaultPipeline() Pipeline {
	return Pipeline{
		ChunkSize:           DefaultChunkSize,
		ChunkOverlap:        DefaultChunkOverlap,
		TopK:                DefaultTopK,
		SimilarityThreshold: DefaultSimilarityThreshold,
		ClassifierThreshold: DefaultClassifierThreshold,
		CallTimeout:         DefaultCallTimeout,
		QueryTimeout:        DefaultQueryTimeout,
		WeatherCacheTTL:     DefaultWeatherCacheTTL,
		DefaultLocation:     DefaultWeatherLocation,
		IndexBackend:        DefaultIndexBackend,
	}
}

// PipelineFromEnv builds a [Pipeline] from environment variables, falling
// back to defaults for unset keys. Malformed values are reported rather than
// silently ignored.
func PipelineFromEnv() (Pipeline, error) {
	p := DefaultPipeline()
	var errs []string

	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s=%q is not an integer", key, v))
				return
			}
			*dst = n
		}
	}
	setFloat := func(key string, dst *float32) {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 32)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s=%q is not a number", key, v))
				return
			}
			*dst = float32(f)
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s=%q is not a duration", key, v))
				return
			}
			*dst = d
		}
	}

	setInt("CHUNK_SIZE", &p.ChunkSize)
	setInt("CHUNK_OVERLAP", &p.ChunkOverlap)
	setInt("RETRIEVAL_TOP_K", &p.TopK)
	setFloat("SIMILARITY_THRESHOLD", &p.SimilarityThreshold)
	setFloat("CLASSIFIER_THRESHOLD", &p.ClassifierThreshold)
	setDuration("CALL_TIMEOUT", &p.CallTimeout)
	setDuration("QUERY_TIMEOUT", &p.QueryTimeout)
	setDuration("WEATHER_CACHE_TTL", &p.WeatherCacheTTL)

	if v := os.Getenv("WEATHER_DEFAULT_LOCATION"); v != "" {
		p.DefaultLocation = v
	}
	if v := os.Getenv("INDEX_BACKEND"); v != "" {
		p.IndexBackend = strings.ToLower(v)
	}
	if v := os.Getenv("EVAL_LLM_JUDGE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("EVAL_LLM_JUDGE=%q is not a boolean", v))
		}
		p.LLMJudge = b
	}
	p.WatchDir = os.Getenv("ROUTERAG_WATCH_DIR")

	if len(errs) > 0 {
		return Pipeline{}, fmt.Errorf("config: invalid pipeline settings: %s", strings.Join(errs, "; "))
	}
	if err := p.Validate(); err != nil {
		return Pipeline{}, err
	}
	return p, nil
}

// Validate checks the option set for values the pipeline cannot honour.
func (p Pipeline) Validate() error {
	switch {
	case p.ChunkSize <= 0:
		return fmt.Errorf("config: chunk size must be positive, got %d", p.ChunkSize)
	case p.ChunkOverlap < 0 || p.ChunkOverlap >= p.ChunkSize:
		return fmt.Errorf("config: chunk overlap must be in [0, %d), got %d", p.ChunkSize, p.ChunkOverlap)
	case p.TopK <= 0:
		return fmt.Errorf("config: retrieval top-k must be positive, got %d", p.TopK)
	case p.SimilarityThreshold < -1 || p.SimilarityThreshold > 1:
		return fmt.Errorf("config: similarity threshold must be in [-1, 1], got %v", p.SimilarityThreshold)
	case p.ClassifierThreshold < 0 || p.ClassifierThreshold > 1:
		return fmt.Errorf("config: classifier threshold must be in [0, 1], got %v", p.ClassifierThreshold)
	case p.CallTimeout <= 0:
		return fmt.Errorf("config: call timeout must be positive, got %s", p.CallTimeout)
	case p.QueryTimeout < p.CallTimeout:
		return fmt.Errorf("config: query timeout %s is shorter than call timeout %s", p.QueryTimeout, p.CallTimeout)
	}
	switch p.IndexBackend {
	case "memory", "qdrant", "chromem":
	default:
		return fmt.Errorf("config: unknown index backend %q (supported: memory, qdrant, chromem)", p.IndexBackend)
	}
	return nil
}
