package bootstrap

import (
	"github.com/lyzr/minutes/common/blob"
	"github.com/lyzr/minutes/common/config"
	"github.com/lyzr/minutes/common/logger"
)

// Option configures the bootstrap process
type Option func(*options)

type options struct {
	skipQueue        bool
	skipRedis        bool
	skipCache        bool
	skipTelemetry    bool
	ensureContainers bool
	customLogger     *logger.Logger
	customConfig     *config.Config
	customStore      blob.Store
}

// WithoutQueue skips queue initialization
func WithoutQueue() Option {
	return func(o *options) {
		o.skipQueue = true
	}
}

// WithoutRedis skips the redis connection even when enabled in config
func WithoutRedis() Option {
	return func(o *options) {
		o.skipRedis = true
	}
}

// WithoutCache skips cache initialization
func WithoutCache() Option {
	return func(o *options) {
		o.skipCache = true
	}
}

// WithoutTelemetry skips telemetry initialization
func WithoutTelemetry() Option {
	return func(o *options) {
		o.skipTelemetry = true
	}
}

// WithEnsureContainers creates the four containers on startup when missing
func WithEnsureContainers() Option {
	return func(o *options) {
		o.ensureContainers = true
	}
}

// WithCustomLogger uses a custom logger instead of creating one
func WithCustomLogger(log *logger.Logger) Option {
	return func(o *options) {
		o.customLogger = log
	}
}

// WithCustomConfig uses a custom config instead of loading from env
func WithCustomConfig(cfg *config.Config) Option {
	return func(o *options) {
		o.customConfig = cfg
	}
}

// WithStore uses the given blob store instead of building one from config
func WithStore(store blob.Store) Option {
	return func(o *options) {
		o.customStore = store
	}
}

func defaultOptions() *options {
	return &options{}
}
