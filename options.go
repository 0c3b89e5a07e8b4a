package offline

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/fabricedemange/coopaz-offline/codec"
	"github.com/fabricedemange/coopaz-offline/store"
)

// Compression selects the codec wrapper used for persisted values.
type Compression string

const (
	CompressionNone Compression = ""
	CompressionZstd Compression = "zstd"
	CompressionLZ4  Compression = "lz4"
)

type options struct {
	codec            codec.Codec
	schemaVersion    uint32
	migrations       []store.Migration
	metricsCollector MetricsCollector
	logger           *Logger
	baseURL          string
	httpTimeout      time.Duration
	httpClient       *http.Client
	generation       string
}

// Option configures Open behavior.
type Option func(*options)

// WithSchemaVersion overrides the target schema version. The default is
// DefaultSchemaVersion; lowering it below the version already on disk
// leaves the store untouched.
func WithSchemaVersion(v uint32) Option {
	return func(o *options) {
		o.schemaVersion = v
	}
}

// WithMigrations replaces the upgrade steps run at Open. The default is
// DefaultMigrations().
func WithMigrations(migrations []store.Migration) Option {
	return func(o *options) {
		o.migrations = migrations
	}
}

// WithCodec configures the codec used for persisted values.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithCompression wraps the value codec with the given compression
// algorithm. Reference snapshots compress well; CompressionNone is the
// right choice for stores that stay small.
func WithCompression(algo Compression) Option {
	return func(o *options) {
		inner := o.codec
		if inner == nil {
			inner = codec.Default
		}
		switch algo {
		case CompressionZstd:
			o.codec = codec.NewZstd(inner)
		case CompressionLZ4:
			o.codec = codec.NewLZ4(inner)
		default:
			o.codec = inner
		}
	}
}

// WithBaseURL sets the server origin the agent syncs against.
func WithBaseURL(baseURL string) Option {
	return func(o *options) {
		o.baseURL = baseURL
	}
}

// WithHTTPTimeout bounds each server request.
func WithHTTPTimeout(d time.Duration) Option {
	return func(o *options) {
		o.httpTimeout = d
	}
}

// WithHTTPClient overrides the underlying HTTP client (tests).
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithCacheGeneration names the response-cache generation served from
// this agent's store. The default is DefaultGeneration.
func WithCacheGeneration(name string) Option {
	return func(o *options) {
		o.generation = name
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &offline.BasicMetricsCollector{}
//	agent, _ := offline.Open(ctx, dir, offline.WithMetricsCollector(metrics))
//	// ... use agent ...
//	stats := metrics.GetStats()
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := offline.NewJSONLogger(slog.LevelInfo)
//	agent, _ := offline.Open(ctx, dir, offline.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		schemaVersion:    DefaultSchemaVersion,
		migrations:       DefaultMigrations(),
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		generation:       DefaultGeneration,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
