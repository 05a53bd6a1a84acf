package bootstrap

import (
	"context"
	"fmt"

	"github.com/lyzr/minutes/common/apperrors"
	"github.com/lyzr/minutes/common/blob"
	"github.com/lyzr/minutes/common/cache"
	"github.com/lyzr/minutes/common/config"
	"github.com/lyzr/minutes/common/journal"
	"github.com/lyzr/minutes/common/logger"
	"github.com/lyzr/minutes/common/queue"
	"github.com/lyzr/minutes/common/redis"
	"github.com/lyzr/minutes/common/telemetry"
)

// Setup initializes all service components
// This is the main entry point for all services
func Setup(ctx context.Context, serviceName string, opts ...Option) (*Components, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	components := &Components{
		cleanupFuncs: make([]func() error, 0),
	}

	// 1. Load configuration
	var err error
	if options.customConfig != nil {
		components.Config = options.customConfig
	} else {
		components.Config, err = config.Load(serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	// 2. Initialize logger
	if options.customLogger != nil {
		components.Logger = options.customLogger
	} else {
		components.Logger = logger.New(
			components.Config.Service.LogLevel,
			components.Config.Service.LogFormat,
		)
	}

	components.Logger.Info("initializing service",
		"service", serviceName,
		"environment", components.Config.Service.Environment,
	)

	// 3. Blob storage
	if err := components.setupStore(ctx, options); err != nil {
		components.Shutdown(ctx)
		return nil, err
	}

	// 4. Redis (queue, dedupe, journal, cache and rate limits share one connection)
	needRedis := components.Config.Redis.Enabled || components.Config.Queue.Type == "redis"
	if !options.skipRedis && needRedis {
		components.Logger.Info("connecting to redis", "addr", components.Config.Redis.Addr)
		components.Redis, err = redis.Dial(ctx,
			components.Config.Redis.Addr,
			components.Config.Redis.Password,
			components.Config.Redis.DB,
			components.Logger,
		)
		if err != nil {
			components.Shutdown(ctx)
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		components.addCleanup(func() error {
			components.Logger.Info("closing redis connection")
			return components.Redis.Close()
		})
	}

	// 5. Initialize queue (if not skipped)
	if !options.skipQueue {
		if err := components.setupQueue(); err != nil {
			components.Shutdown(ctx)
			return nil, err
		}
	}

	// 6. Initialize cache (if not skipped)
	if !options.skipCache && components.Config.Cache.Enabled {
		components.Logger.Info("initializing cache",
			"default_ttl", components.Config.Cache.DefaultTTL,
			"shared", components.Redis != nil)
		if components.Redis != nil {
			components.Cache = cache.NewRedisCache(components.Redis)
		} else {
			components.Cache = cache.NewMemoryCache(components.Logger)
		}
		components.addCleanup(func() error {
			components.Logger.Info("closing cache")
			return components.Cache.Close()
		})
	}

	// 7. Job journal
	components.Journal = journal.Nop{}
	if components.Config.Journal.Enabled && components.Redis != nil {
		components.Journal = journal.NewRedisJournal(components.Redis,
			components.Config.Journal.MaxLen,
			components.Config.Journal.TTL,
			components.Logger,
		)
	}

	// 8. Initialize telemetry (if not skipped)
	if !options.skipTelemetry && components.Config.Telemetry.EnablePprof {
		components.Logger.Info("initializing telemetry")
		components.Telemetry = telemetry.New(components.Config.Telemetry.PprofPort, components.Logger)

		if err := components.Telemetry.Start(ctx); err != nil {
			components.Logger.Warn("failed to start telemetry", "error", err)
		}
	}

	components.Logger.Info("host", telemetry.CaptureHost().Attrs()...)
	components.Logger.Info("service initialization complete",
		"service", serviceName,
		"storage", components.Config.Storage.Backend,
		"redis", components.Redis != nil,
		"queue", components.Queue != nil,
		"cache", components.Cache != nil,
		"telemetry", components.Telemetry != nil,
	)

	return components, nil
}

func (c *Components) setupStore(ctx context.Context, options *options) error {
	if options.customStore != nil {
		c.Store = options.customStore
		return nil
	}

	storage := c.Config.Storage
	switch storage.Backend {
	case "memory":
		c.Logger.Warn("using in-memory blob store, artifacts are lost on exit")
		c.Store = blob.NewMemoryStore("")
	case "azure":
		store, err := blob.NewAzureStore(storage, c.Logger)
		if err != nil {
			return fmt.Errorf("failed to create blob store: %w", err)
		}
		if options.ensureContainers || storage.EnsureContainers {
			if err := store.EnsureContainers(ctx,
				storage.VideoContainer,
				storage.AudioContainer,
				storage.TranscriptsContainer,
				storage.MinutesContainer,
			); err != nil {
				return fmt.Errorf("failed to ensure containers: %w", err)
			}
		}
		c.Store = store
	default:
		return apperrors.Wrap(apperrors.ErrConfiguration, "bootstrap", "store", "unknown storage backend "+storage.Backend, nil)
	}
	return nil
}

func (c *Components) setupQueue() error {
	qcfg := c.Config.Queue
	c.Logger.Info("initializing queue", "type", qcfg.Type, "stream", qcfg.Stream)

	opts := queue.Options{
		AckPolicy:         func(err error) bool { return !apperrors.Retryable(err) },
		VisibilityTimeout: c.Config.Extraction.VisibilityTimeout,
		MaxDeliveries:     int64(qcfg.MaxDeliveries),
	}

	switch qcfg.Type {
	case "memory":
		c.Logger.Warn("using in-memory queue, messages do not leave this process")
		c.Queue = queue.NewMemoryQueue(c.Logger, opts)
	case "redis":
		if c.Redis == nil {
			return apperrors.Wrap(apperrors.ErrConfiguration, "bootstrap", "queue", "redis queue requires a redis connection", nil)
		}
		c.Queue = queue.NewRedisStreamQueue(c.Redis, qcfg.Group, qcfg.MaxLen, qcfg.ReclaimSchedule, opts, c.Logger)
	default:
		return fmt.Errorf("unknown queue type: %s", qcfg.Type)
	}

	c.addCleanup(func() error {
		c.Logger.Info("closing queue")
		return c.Queue.Close()
	})
	return nil
}

// MustSetup is like Setup but panics on error
// Useful for services that can't recover from initialization failure
func MustSetup(ctx context.Context, serviceName string, opts ...Option) *Components {
	components, err := Setup(ctx, serviceName, opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to setup service %s: %v", serviceName, err))
	}
	return components
}
