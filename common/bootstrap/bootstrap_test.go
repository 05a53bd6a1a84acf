package bootstrap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/minutes/common/apperrors"
	"github.com/lyzr/minutes/common/blob"
	"github.com/lyzr/minutes/common/config"
	"github.com/lyzr/minutes/common/journal"
	"github.com/lyzr/minutes/common/logger"
	"github.com/lyzr/minutes/common/queue"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Service: config.ServiceConfig{Name: "test", LogLevel: "error", LogFormat: "json"},
		Storage: config.StorageConfig{Backend: "memory"},
		Queue:   config.QueueConfig{Type: "memory", Stream: "video-extract", MaxDeliveries: 5},
		Cache:   config.CacheConfig{Enabled: true},
	}
}

func TestSetupMemoryComponents(t *testing.T) {
	ctx := context.Background()
	c, err := Setup(ctx, "test", WithCustomConfig(memoryConfig()), WithCustomLogger(logger.Discard()))
	require.NoError(t, err)

	assert.IsType(t, &blob.MemoryStore{}, c.Store)
	assert.IsType(t, &queue.MemoryQueue{}, c.Queue)
	assert.NotNil(t, c.Cache)
	assert.Nil(t, c.Redis)
	assert.IsType(t, journal.Nop{}, c.Journal)
	assert.NoError(t, c.Health(ctx))
	assert.NoError(t, c.Shutdown(ctx))
}

func TestSetupSkipsAndCustomStore(t *testing.T) {
	store := blob.NewMemoryStore("")
	c, err := Setup(context.Background(), "test",
		WithCustomConfig(memoryConfig()),
		WithCustomLogger(logger.Discard()),
		WithStore(store),
		WithoutQueue(),
		WithoutCache(),
	)
	require.NoError(t, err)
	assert.Same(t, store, c.Store)
	assert.Nil(t, c.Queue)
	assert.Nil(t, c.Cache)
}

func TestSetupRejectsUnknownBackends(t *testing.T) {
	cfg := memoryConfig()
	cfg.Storage.Backend = "ftp"
	_, err := Setup(context.Background(), "test", WithCustomConfig(cfg), WithCustomLogger(logger.Discard()))
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)

	cfg = memoryConfig()
	cfg.Queue.Type = "kafka"
	_, err = Setup(context.Background(), "test", WithCustomConfig(cfg), WithCustomLogger(logger.Discard()))
	assert.Error(t, err)
}

func TestSetupRedisQueueNeedsConnection(t *testing.T) {
	cfg := memoryConfig()
	cfg.Queue.Type = "redis"
	_, err := Setup(context.Background(), "test", WithCustomConfig(cfg), WithCustomLogger(logger.Discard()), WithoutRedis())
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}
