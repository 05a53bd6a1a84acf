package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/minutes/common/apperrors"
	"github.com/lyzr/minutes/common/eventfilter"
	"github.com/lyzr/minutes/common/logger"
	"github.com/lyzr/minutes/common/redis"
)

// keyStore behaves like the redis client: every call fails once its context
// is done.
type keyStore struct {
	mu   sync.Mutex
	data map[string]string
	ttl  map[string]time.Duration
}

func newKeyStore() *keyStore {
	return &keyStore{data: map[string]string{}, ttl: map[string]time.Duration{}}
}

func (s *keyStore) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", redis.ErrKeyNotFound, key)
	}
	return v, nil
}

func (s *keyStore) SetNX(ctx context.Context, key, value string, expiry time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; ok {
		return false, nil
	}
	s.data[key] = value
	s.ttl[key] = expiry
	return true, nil
}

func (s *keyStore) SetWithExpiry(ctx context.Context, key, value string, expiry time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	s.ttl[key] = expiry
	return nil
}

func (s *keyStore) Delete(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.data, k)
		delete(s.ttl, k)
	}
	return nil
}

// expire drops a lease the way Redis does when its TTL runs out.
func (s *keyStore) expire(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
}

// interruptedTranscoder cancels the delivery context mid-run, like a SIGTERM
// arriving while ffmpeg is working.
type interruptedTranscoder struct {
	cancel context.CancelFunc
	calls  int
}

func (t *interruptedTranscoder) Extract(ctx context.Context, _, _ string) error {
	t.calls++
	t.cancel()
	<-ctx.Done()
	return ctx.Err()
}

func (t *interruptedTranscoder) Extension() string   { return ".wav" }
func (t *interruptedTranscoder) ContentType() string { return "audio/wav" }

func TestRedisDeduperLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newKeyStore()
	d := NewRedisDeduper(store, 10*time.Minute, 24*time.Hour)

	claim, err := d.Acquire(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, Claimed, claim)
	assert.Equal(t, stateInProgress, store.data["k"])
	assert.Equal(t, 10*time.Minute, store.ttl["k"], "in-progress lease follows the visibility timeout")

	claim, err = d.Acquire(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, InProgress, claim)

	require.NoError(t, d.Complete(ctx, "k"))
	assert.Equal(t, 24*time.Hour, store.ttl["k"])
	claim, err = d.Acquire(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, Done, claim)
}

func TestRedisDeduperBookkeepingSurvivesCancellation(t *testing.T) {
	store := newKeyStore()
	d := NewRedisDeduper(store, time.Minute, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := d.Acquire(ctx, "k")
	require.NoError(t, err)
	cancel()

	require.NoError(t, d.Release(ctx, "k"))
	_, held := store.data["k"]
	assert.False(t, held)
}

func TestInterruptedExtractionIsRetriedOnRedelivery(t *testing.T) {
	f := newFixture(t, "")
	store := newKeyStore()
	guard := NewRedisDeduper(store, time.Minute, time.Hour)
	ev := f.upload(t, uploadName, nil)

	ctx, cancel := context.WithCancel(context.Background())
	interrupted := &interruptedTranscoder{cancel: cancel}
	first := NewExtractor(f.store, interrupted, f.cfg, Options{Filter: eventfilter.MustNew(""), Dedupe: guard}, logger.Discard())

	_, err := first.Process(ctx, ev)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.True(t, apperrors.Retryable(err), "the message must stay pending")
	assert.Empty(t, store.data, "guard released despite the cancelled context")

	second := NewExtractor(f.store, f.transcoder, f.cfg, Options{Filter: eventfilter.MustNew(""), Dedupe: guard}, logger.Discard())
	audio, err := second.Process(context.Background(), ev)
	require.NoError(t, err)
	assert.NotEmpty(t, audio)
	assert.Equal(t, 1, f.transcoder.calls)
}

func TestCrashedExtractionIsNotAcked(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "")
	store := newKeyStore()
	guard := NewRedisDeduper(store, time.Minute, time.Hour)
	x := NewExtractor(f.store, f.transcoder, f.cfg, Options{Filter: eventfilter.MustNew(""), Dedupe: guard}, logger.Discard())
	ev := f.upload(t, uploadName, nil)

	// A worker died holding the lease.
	key := DedupeKey(f.store.URL("video", uploadName), "etag-1")
	_, err := guard.Acquire(ctx, key)
	require.NoError(t, err)

	_, err = x.Process(ctx, ev)
	require.ErrorIs(t, err, ErrExtractionInProgress)
	assert.True(t, apperrors.Retryable(err))
	assert.Zero(t, f.transcoder.calls)

	store.expire(key)
	audio, err := x.Process(ctx, ev)
	require.NoError(t, err)
	assert.NotEmpty(t, audio)
	assert.Equal(t, stateDone, store.data[key])

	again, err := x.Process(ctx, ev)
	require.NoError(t, err)
	assert.Empty(t, again, "completed sources are skipped")
	assert.Equal(t, 1, f.transcoder.calls)
}

func TestMemoryDeduperStates(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDeduper()

	claim, _ := d.Acquire(ctx, "k")
	assert.Equal(t, Claimed, claim)
	claim, _ = d.Acquire(ctx, "k")
	assert.Equal(t, InProgress, claim)
	require.NoError(t, d.Release(ctx, "k"))
	claim, _ = d.Acquire(ctx, "k")
	assert.Equal(t, Claimed, claim)
	require.NoError(t, d.Complete(ctx, "k"))
	claim, _ = d.Acquire(ctx, "k")
	assert.Equal(t, Done, claim)
}
