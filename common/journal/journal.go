// Package journal keeps a short, expiring history of stage transitions per
// job. It is informational only: blob names and metadata stay the source of
// truth for job state.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lyzr/minutes/common/logger"
)

// Stages recorded by the pipeline.
const (
	StageUploaded               = "uploaded"
	StageAudioExtracted         = "audio_extracted"
	StageTranscriptionSubmitted = "transcription_submitted"
	StageMinutesWritten         = "minutes_written"
	StageRegenerated            = "regenerated"
	StageTranslated             = "translated"
)

// Event is one journal entry.
type Event struct {
	JobID  string    `json:"job_id"`
	Stage  string    `json:"stage"`
	Status string    `json:"status"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// Journal appends and reads job history.
type Journal interface {
	Append(ctx context.Context, ev Event) error
	History(ctx context.Context, jobID string) ([]Event, error)
}

// ListStore is the Redis list surface the journal needs.
type ListStore interface {
	PushCapped(ctx context.Context, key string, maxLen int64, ttl time.Duration, values ...interface{}) error
	ListRange(ctx context.Context, key string) ([]string, error)
}

// Key returns the list key holding a job's history.
func Key(jobID string) string {
	return fmt.Sprintf("job:%s:events", jobID)
}

// RedisJournal stores each job's events in a capped list with a TTL.
type RedisJournal struct {
	store  ListStore
	maxLen int64
	ttl    time.Duration
	log    *logger.Logger
	now    func() time.Time
}

// NewRedisJournal creates a journal on top of a Redis list store.
func NewRedisJournal(store ListStore, maxLen int64, ttl time.Duration, log *logger.Logger) *RedisJournal {
	if log == nil {
		log = logger.Discard()
	}
	return &RedisJournal{store: store, maxLen: maxLen, ttl: ttl, log: log, now: time.Now}
}

// Append records ev, stamping it when At is zero.
func (j *RedisJournal) Append(ctx context.Context, ev Event) error {
	if ev.JobID == "" {
		return nil
	}
	if ev.At.IsZero() {
		ev.At = j.now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal journal event: %w", err)
	}
	return j.store.PushCapped(ctx, Key(ev.JobID), j.maxLen, j.ttl, string(data))
}

// History returns the recorded events oldest first. Undecodable entries are skipped.
func (j *RedisJournal) History(ctx context.Context, jobID string) ([]Event, error) {
	raw, err := j.store.ListRange(ctx, Key(jobID))
	if err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(raw))
	for _, r := range raw {
		var ev Event
		if err := json.Unmarshal([]byte(r), &ev); err != nil {
			j.log.Warn("skipping undecodable journal entry", "job_id", jobID, "error", err)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// Nop discards everything.
type Nop struct{}

func (Nop) Append(context.Context, Event) error { return nil }

func (Nop) History(context.Context, string) ([]Event, error) { return nil, nil }

// Memory is an in-process journal for tests and single-process runs.
type Memory struct {
	mu     sync.Mutex
	events map[string][]Event
}

// NewMemory creates an empty in-memory journal.
func NewMemory() *Memory {
	return &Memory{events: make(map[string][]Event)}
}

func (m *Memory) Append(_ context.Context, ev Event) error {
	if ev.JobID == "" {
		return nil
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[ev.JobID] = append(m.events[ev.JobID], ev)
	return nil
}

func (m *Memory) History(_ context.Context, jobID string) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]Event(nil), m.events[jobID]...)
	sort.SliceStable(out, func(i, k int) bool { return out[i].At.Before(out[k].At) })
	return out, nil
}

// Record appends an event and logs instead of failing the caller.
func Record(ctx context.Context, j Journal, log *logger.Logger, jobID, stage, detail string) {
	if j == nil {
		return
	}
	if err := j.Append(ctx, Event{JobID: jobID, Stage: stage, Status: "ok", Detail: detail}); err != nil && log != nil {
		log.Warn("failed to append journal event", "job_id", jobID, "stage", stage, "error", err)
	}
}
