package bootstrap

import (
	"context"
	"fmt"

	"github.com/lyzr/minutes/common/blob"
	"github.com/lyzr/minutes/common/cache"
	"github.com/lyzr/minutes/common/config"
	"github.com/lyzr/minutes/common/journal"
	"github.com/lyzr/minutes/common/logger"
	"github.com/lyzr/minutes/common/queue"
	"github.com/lyzr/minutes/common/redis"
	"github.com/lyzr/minutes/common/telemetry"
)

// Components holds all initialized service dependencies
type Components struct {
	Config    *config.Config
	Logger    *logger.Logger
	Store     blob.Store
	Redis     *redis.Client
	Queue     queue.Queue
	Cache     cache.Cache
	Journal   journal.Journal
	Telemetry *telemetry.Telemetry

	// Internal
	cleanupFuncs []func() error
}

// Shutdown performs graceful shutdown of all components
// Should be called with defer after Setup()
func (c *Components) Shutdown(ctx context.Context) error {
	if c.Logger != nil {
		c.Logger.Info("shutting down components")
	}

	var errs []error

	// LIFO
	for i := len(c.cleanupFuncs) - 1; i >= 0; i-- {
		if err := c.cleanupFuncs[i](); err != nil {
			errs = append(errs, err)
			if c.Logger != nil {
				c.Logger.Error("cleanup error", "error", err)
			}
		}
	}
	c.cleanupFuncs = nil

	if c.Telemetry != nil {
		if err := c.Telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	if c.Logger != nil {
		c.Logger.Info("shutdown complete")
	}
	return nil
}

// Health checks health of all components
func (c *Components) Health(ctx context.Context) error {
	if c.Redis != nil {
		if err := c.Redis.Ping(ctx); err != nil {
			return fmt.Errorf("redis unhealthy: %w", err)
		}
	}
	// Blob store and memory queue have no cheap liveness probe.
	return nil
}

// addCleanup registers a cleanup function
func (c *Components) addCleanup(fn func() error) {
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}
