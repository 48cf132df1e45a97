package history

import (
	"context"
	"sync"
	"time"

	"wikiseek/internal/models"
)

// MemoryStore keeps history in process memory. Entries are lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	opts    Options
	clock   *clock
	entries []models.HistoryEntry // newest first
}

func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{opts: opts, clock: newClock(time.Nanosecond)}
}

func (s *MemoryStore) Append(ctx context.Context, entry models.HistoryEntry) error {
	entry, err := prepare(entry)
	if err != nil {
		return err
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.opts.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry.Timestamp = s.clock.next(entry.Timestamp)
	entry.Results = append([]models.SearchResult(nil), entry.Results...)

	kept := make([]models.HistoryEntry, 0, len(s.entries)+1)
	kept = append(kept, entry)
	for _, existing := range s.entries {
		if existing.Query == entry.Query {
			continue
		}
		kept = append(kept, existing)
	}
	if s.opts.Retain > 0 && len(kept) > s.opts.Retain {
		kept = kept[:s.opts.Retain]
	}
	s.entries = kept
	return nil
}

func (s *MemoryStore) Recent(ctx context.Context, n int) ([]models.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 {
		return []models.HistoryEntry{}, nil
	}
	if n > len(s.entries) {
		n = len(s.entries)
	}
	out := make([]models.HistoryEntry, n)
	for i := range out {
		out[i] = cloneEntry(s.entries[i])
	}
	return out, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (models.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, entry := range s.entries {
		if entry.ID == id {
			return cloneEntry(entry), nil
		}
	}
	return models.HistoryEntry{}, models.ErrEntryNotFound
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.entries = nil
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func cloneEntry(e models.HistoryEntry) models.HistoryEntry {
	e.Results = append([]models.SearchResult(nil), e.Results...)
	return e
}

var _ Store = (*MemoryStore)(nil)
