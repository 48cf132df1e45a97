// Package history persists completed searches and serves the bounded
// most-recent-first view the widget renders.
//
// Every backend follows the same policy:
//   - an append whose query already exists replaces the older entry, so the
//     recent view never lists a query twice (exact, case-sensitive match);
//   - timestamps are strictly increasing within a store; a colliding or
//     earlier timestamp is bumped just past the newest one;
//   - at most Retain entries are kept (0 keeps everything).
package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"wikiseek/internal/models"
)

// Store is the append/query capability the orchestrator depends on.
type Store interface {
	// Append durably records entry. Backend failures wrap models.ErrPersistence.
	Append(ctx context.Context, entry models.HistoryEntry) error
	// Recent returns at most n entries, newest first.
	Recent(ctx context.Context, n int) ([]models.HistoryEntry, error)
	// Get returns a single entry by id or models.ErrEntryNotFound.
	Get(ctx context.Context, id string) (models.HistoryEntry, error)
	// Clear removes every entry.
	Clear(ctx context.Context) error
	Close() error
}

// Options tune backend behaviour shared by all stores.
type Options struct {
	Retain int
	Now    func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now().UTC()
	}
	return time.Now().UTC()
}

// prepare fills the id and validates the entry before it reaches a backend.
func prepare(entry models.HistoryEntry) (models.HistoryEntry, error) {
	entry.Query = models.NormalizeQuery(entry.Query)
	if entry.Query == "" {
		return entry, fmt.Errorf("%w: empty query", models.ErrValidation)
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Kind == "" {
		entry.Kind = models.EntryText
	}
	if len(entry.Results) == 0 {
		entry.Results = []models.SearchResult{models.NoResult}
	}
	return entry, nil
}

// clock hands out strictly increasing instants at a fixed resolution.
type clock struct {
	mu   sync.Mutex
	last time.Time
	step time.Duration
}

func newClock(step time.Duration) *clock {
	return &clock{step: step}
}

// next returns want truncated to the clock step, bumped past the last value handed out.
func (c *clock) next(want time.Time) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.advance(want)
}

// observe records an externally known instant, e.g. the newest persisted row.
func (c *clock) observe(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.last) {
		c.last = t
	}
}

func (c *clock) advance(want time.Time) time.Time {
	want = want.Truncate(c.step)
	if !want.After(c.last) {
		want = c.last.Add(c.step)
	}
	c.last = want
	return want
}

func persistErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", models.ErrPersistence, op, err)
}
