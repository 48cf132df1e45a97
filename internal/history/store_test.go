package history

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wikiseek/internal/db"
	"wikiseek/internal/models"
)

type storeFactory func(t *testing.T, opts Options) Store

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T, opts Options) Store {
			return NewMemoryStore(opts)
		},
		"sqlite": func(t *testing.T, opts Options) Store {
			conn, err := db.Open(filepath.Join(t.TempDir(), "history.db"))
			require.NoError(t, err)
			t.Cleanup(func() { conn.Close() })
			store, err := NewSQLiteStore(context.Background(), conn, opts)
			require.NoError(t, err)
			return store
		},
		"redis": func(t *testing.T, opts Options) Store {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			store := NewRedisStoreWithClient(client, "test:history", opts)
			t.Cleanup(func() { store.Close() })
			return store
		},
	}
}

func textEntry(query string) models.HistoryEntry {
	return models.HistoryEntry{
		Query:   query,
		Kind:    models.EntryText,
		Status:  models.StatusFound,
		Results: []models.SearchResult{{Title: query, Snippet: "about " + query, Link: "https://example.org/" + query}},
	}
}

func queries(entries []models.HistoryEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Query
	}
	return out
}

func TestStoreContract(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("recent is newest first and bounded", func(t *testing.T) {
				store := factory(t, Options{})
				for i := 0; i < 8; i++ {
					require.NoError(t, store.Append(ctx, textEntry(fmt.Sprintf("q%d", i))))
				}

				got, err := store.Recent(ctx, 5)
				require.NoError(t, err)
				assert.Equal(t, []string{"q7", "q6", "q5", "q4", "q3"}, queries(got))
				for i := 1; i < len(got); i++ {
					assert.True(t, got[i-1].Timestamp.After(got[i].Timestamp), "timestamps must strictly descend")
				}

				none, err := store.Recent(ctx, 0)
				require.NoError(t, err)
				assert.Empty(t, none)
			})

			t.Run("recent is idempotent", func(t *testing.T) {
				store := factory(t, Options{})
				require.NoError(t, store.Append(ctx, textEntry("Albert Einstein")))
				require.NoError(t, store.Append(ctx, textEntry("Marie Curie")))

				first, err := store.Recent(ctx, 5)
				require.NoError(t, err)
				second, err := store.Recent(ctx, 5)
				require.NoError(t, err)
				assert.Equal(t, first, second)
			})

			t.Run("duplicate query moves to head", func(t *testing.T) {
				store := factory(t, Options{})
				require.NoError(t, store.Append(ctx, textEntry("cat")))
				require.NoError(t, store.Append(ctx, textEntry("dog")))
				require.NoError(t, store.Append(ctx, textEntry("cat")))
				require.NoError(t, store.Append(ctx, textEntry("Cat")))

				got, err := store.Recent(ctx, 10)
				require.NoError(t, err)
				assert.Equal(t, []string{"Cat", "cat", "dog"}, queries(got))
			})

			t.Run("retain trims oldest", func(t *testing.T) {
				store := factory(t, Options{Retain: 3})
				for _, q := range []string{"a", "b", "c", "d", "b"} {
					require.NoError(t, store.Append(ctx, textEntry(q)))
				}

				got, err := store.Recent(ctx, 10)
				require.NoError(t, err)
				assert.Equal(t, []string{"b", "d", "c"}, queries(got))

				require.NoError(t, store.Append(ctx, textEntry("a")))
				got, err = store.Recent(ctx, 10)
				require.NoError(t, err)
				assert.Equal(t, []string{"a", "b", "d"}, queries(got))
			})

			t.Run("get and sentinel results", func(t *testing.T) {
				store := factory(t, Options{})
				require.NoError(t, store.Append(ctx, models.HistoryEntry{
					Query:  models.UnrecognizedImageQuery,
					Kind:   models.EntryImage,
					Status: models.StatusUnrecognized,
				}))

				got, err := store.Recent(ctx, 1)
				require.NoError(t, err)
				require.Len(t, got, 1)
				assert.NotEmpty(t, got[0].ID)
				assert.Equal(t, models.NoResult, got[0].Head())

				byID, err := store.Get(ctx, got[0].ID)
				require.NoError(t, err)
				assert.Equal(t, got[0], byID)

				_, err = store.Get(ctx, "missing")
				assert.ErrorIs(t, err, models.ErrEntryNotFound)
			})

			t.Run("colliding timestamps stay ordered", func(t *testing.T) {
				fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
				store := factory(t, Options{})
				for _, q := range []string{"x", "y", "z"} {
					e := textEntry(q)
					e.Timestamp = fixed
					require.NoError(t, store.Append(ctx, e))
				}

				got, err := store.Recent(ctx, 3)
				require.NoError(t, err)
				assert.Equal(t, []string{"z", "y", "x"}, queries(got))
			})

			t.Run("empty query rejected", func(t *testing.T) {
				store := factory(t, Options{})
				err := store.Append(ctx, textEntry("   "))
				assert.ErrorIs(t, err, models.ErrValidation)
			})

			t.Run("clear", func(t *testing.T) {
				store := factory(t, Options{})
				require.NoError(t, store.Append(ctx, textEntry("one")))
				require.NoError(t, store.Clear(ctx))

				got, err := store.Recent(ctx, 5)
				require.NoError(t, err)
				assert.Empty(t, got)
			})

			t.Run("concurrent appends", func(t *testing.T) {
				store := factory(t, Options{Retain: 5})
				var wg sync.WaitGroup
				for i := 0; i < 10; i++ {
					wg.Add(1)
					go func(i int) {
						defer wg.Done()
						assert.NoError(t, store.Append(ctx, textEntry(fmt.Sprintf("c%d", i))))
					}(i)
				}
				wg.Wait()

				got, err := store.Recent(ctx, 10)
				require.NoError(t, err)
				assert.Len(t, got, 5)
			})
		})
	}
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	conn, err := db.Open(path)
	require.NoError(t, err)
	store, err := NewSQLiteStore(ctx, conn, Options{})
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, textEntry("first")))
	require.NoError(t, conn.Close())

	conn, err = db.Open(path)
	require.NoError(t, err)
	defer conn.Close()
	store, err = NewSQLiteStore(ctx, conn, Options{Now: func() time.Time { return time.Unix(0, 0) }})
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, textEntry("second")))

	got, err := store.Recent(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"second", "first"}, queries(got))
}

func TestRedisStoreSharedBetweenClients(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	a := NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "shared", Options{Retain: 5})
	b := NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "shared", Options{Retain: 5})
	defer a.Close()
	defer b.Close()

	require.NoError(t, a.Append(ctx, textEntry("from-a")))
	require.NoError(t, b.Append(ctx, textEntry("from-b")))

	got, err := a.Recent(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"from-b", "from-a"}, queries(got))
}

func TestRedisStoreAppendFailsWhenServerDown(t *testing.T) {
	mr := miniredis.RunT(t)
	store := NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1}), "down", Options{})
	defer store.Close()
	mr.Close()

	err := store.Append(context.Background(), textEntry("lost"))
	assert.ErrorIs(t, err, models.ErrPersistence)
}
