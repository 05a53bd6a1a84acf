package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/lyzr/minutes/common/redis"
)

// Claim is the outcome of trying to take the guard for one source version.
type Claim int

const (
	// Claimed means this delivery owns the extraction.
	Claimed Claim = iota
	// InProgress means another delivery holds the guard and has not finished.
	InProgress
	// Done means the audio for this source version already exists.
	Done
)

const (
	stateInProgress = "in-progress"
	stateDone       = "done"
	guardOpTimeout  = 5 * time.Second
)

// Deduper guards against extracting the same upload twice when a message is
// redelivered. A claim starts in progress with a short lease and only becomes
// done once the audio is written.
type Deduper interface {
	Acquire(ctx context.Context, key string) (Claim, error)
	Complete(ctx context.Context, key string) error
	Release(ctx context.Context, key string) error
}

// KeyStore is the subset of the Redis client the guard needs.
type KeyStore interface {
	Get(ctx context.Context, key string) (string, error)
	SetNX(ctx context.Context, key, value string, expiry time.Duration) (bool, error)
	SetWithExpiry(ctx context.Context, key, value string, expiry time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// DedupeKey identifies one version of one source blob.
func DedupeKey(blobURL, etag string) string {
	sum := sha256.Sum256([]byte(blobURL + "|" + etag))
	return "extract:guard:" + hex.EncodeToString(sum[:16])
}

// guardContext keeps guard bookkeeping alive after the delivery context is
// cancelled by shutdown.
func guardContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), guardOpTimeout)
}

// RedisDeduper claims keys with SET NX. The in-progress lease expires on its
// own when a worker dies mid-extraction.
type RedisDeduper struct {
	store   KeyStore
	lease   time.Duration
	doneTTL time.Duration
}

// NewRedisDeduper creates a Redis-backed guard. lease should match the
// message visibility timeout.
func NewRedisDeduper(store KeyStore, lease, doneTTL time.Duration) *RedisDeduper {
	if lease <= 0 {
		lease = 10 * time.Minute
	}
	if doneTTL <= 0 {
		doneTTL = 24 * time.Hour
	}
	return &RedisDeduper{store: store, lease: lease, doneTTL: doneTTL}
}

func (d *RedisDeduper) Acquire(ctx context.Context, key string) (Claim, error) {
	ok, err := d.store.SetNX(ctx, key, stateInProgress, d.lease)
	if err != nil {
		return InProgress, err
	}
	if ok {
		return Claimed, nil
	}
	state, err := d.store.Get(ctx, key)
	if errors.Is(err, redis.ErrKeyNotFound) {
		// Lease expired between the two calls; let redelivery try again.
		return InProgress, nil
	}
	if err != nil {
		return InProgress, err
	}
	if state == stateDone {
		return Done, nil
	}
	return InProgress, nil
}

func (d *RedisDeduper) Complete(ctx context.Context, key string) error {
	gctx, cancel := guardContext(ctx)
	defer cancel()
	return d.store.SetWithExpiry(gctx, key, stateDone, d.doneTTL)
}

func (d *RedisDeduper) Release(ctx context.Context, key string) error {
	gctx, cancel := guardContext(ctx)
	defer cancel()
	return d.store.Delete(gctx, key)
}

// MemoryDeduper is an in-process guard for single-replica and test setups.
type MemoryDeduper struct {
	mu   sync.Mutex
	keys map[string]string
}

func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{keys: map[string]string{}}
}

func (d *MemoryDeduper) Acquire(_ context.Context, key string) (Claim, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.keys[key] {
	case stateDone:
		return Done, nil
	case stateInProgress:
		return InProgress, nil
	}
	d.keys[key] = stateInProgress
	return Claimed, nil
}

func (d *MemoryDeduper) Complete(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keys[key] = stateDone
	return nil
}

func (d *MemoryDeduper) Release(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.keys, key)
	return nil
}
