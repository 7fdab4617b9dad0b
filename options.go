package facematch

import (
	"log/slog"

	"github.com/mcpmessenger/shine-skincare-app-sub001/blobstore"
	"github.com/mcpmessenger/shine-skincare-app-sub001/cache"
	"github.com/mcpmessenger/shine-skincare-app-sub001/codec"
	"github.com/mcpmessenger/shine-skincare-app-sub001/distance"
)

type options struct {
	name             string
	metric           distance.Metric
	blobs            blobstore.BlobStore
	codec            codec.Codec
	metricsCollector MetricsCollector
	logger           *Logger
	disableCache     bool
	cacheOptions     []func(*cache.Options)
	saveEvery        int
}

// Option configures Engine construction.
type Option func(*options)

// WithName sets the logical index name used to derive artifact names in the
// blob store. Defaults to "faces".
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithMetric selects the similarity metric. Defaults to inner product over
// L2-normalized vectors, i.e. cosine similarity.
func WithMetric(m distance.Metric) Option {
	return func(o *options) {
		o.metric = m
	}
}

// WithBlobStore sets the artifact backend for Save/Load and cache snapshots.
// Defaults to an in-memory store; pass blobstore.NewLocalStore for durable
// local state, or the s3/minio stores for remote state.
func WithBlobStore(b blobstore.BlobStore) Option {
	return func(o *options) {
		o.blobs = b
	}
}

// WithCodec configures the codec used for the id, metadata, and stats
// artifacts and cached result payloads.
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

// WithCache configures the result cache.
//
// Example:
//
//	facematch.New(128,
//	    facematch.WithCache(
//	        cache.WithMaxBytes(32<<20),
//	        cache.WithPolicy(cache.PolicyAdaptive),
//	        cache.WithDefaultTTL(time.Hour),
//	    ))
func WithCache(optFns ...func(*cache.Options)) Option {
	return func(o *options) {
		o.cacheOptions = append(o.cacheOptions, optFns...)
	}
}

// WithoutCache disables the result cache entirely; every search goes to the
// vector store.
func WithoutCache() Option {
	return func(o *options) {
		o.disableCache = true
	}
}

// WithSaveEvery triggers an automatic Save plus cache maintenance after
// every n mutations. 0 disables auto-save (the default); callers then own
// the Save cadence.
func WithSaveEvery(n int) Option {
	return func(o *options) {
		o.saveEvery = n
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &facematch.BasicMetricsCollector{}
//	eng, _ := facematch.New(128, facematch.WithMetricsCollector(metrics))
//	// ... use eng ...
//	stats := metrics.GetStats()
//	fmt.Printf("Adds: %d, Avg latency: %dns\n", stats.AddCount, stats.AddAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithEngineLogger configures structured logging for operations.
// Pass nil to disable logging.
func WithEngineLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithEngineLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		name:             "faces",
		metric:           distance.MetricInnerProduct,
		codec:            nil,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
