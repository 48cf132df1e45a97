package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"wikiseek/internal/models"
)

const maxTxRetries = 16

// RedisStore shares history between clients through a Redis instance.
// Entries live in a hash keyed by id, ordering lives in a sorted set scored
// by server time in microseconds, and a second hash maps query to id.
type RedisStore struct {
	client *redis.Client
	prefix string
	opts   Options
}

// NewRedisStore connects using a redis:// URL and verifies the connection.
func NewRedisStore(ctx context.Context, url, prefix string, opts Options) (*RedisStore, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisStoreWithClient(client, prefix, opts), nil
}

func NewRedisStoreWithClient(client *redis.Client, prefix string, opts Options) *RedisStore {
	if prefix == "" {
		prefix = "wikiseek:history"
	}
	return &RedisStore{client: client, prefix: prefix, opts: opts}
}

func (s *RedisStore) entriesKey() string { return s.prefix + ":entries" }
func (s *RedisStore) recentKey() string  { return s.prefix + ":recent" }
func (s *RedisStore) queriesKey() string { return s.prefix + ":queries" }

func (s *RedisStore) Append(ctx context.Context, entry models.HistoryEntry) error {
	entry, err := prepare(entry)
	if err != nil {
		return err
	}
	if entry.Timestamp.IsZero() {
		now, err := s.client.Time(ctx).Result()
		if err != nil {
			return persistErr("server time", err)
		}
		entry.Timestamp = now.UTC()
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err = s.client.Watch(ctx, func(tx *redis.Tx) error {
			return s.appendTx(ctx, tx, entry)
		}, s.recentKey(), s.queriesKey())
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return persistErr("append", err)
	}
	return nil
}

func (s *RedisStore) appendTx(ctx context.Context, tx *redis.Tx, entry models.HistoryEntry) error {
	// bounded by Retain
	current, err := tx.ZRangeWithScores(ctx, s.recentKey(), 0, -1).Result()
	if err != nil {
		return err
	}
	c := newClock(time.Microsecond)
	if len(current) > 0 {
		c.observe(time.UnixMicro(int64(current[len(current)-1].Score)).UTC())
	}
	entry.Timestamp = c.next(entry.Timestamp)

	oldID, err := tx.HGet(ctx, s.queriesKey(), entry.Query).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}

	var evicted []string
	if s.opts.Retain > 0 {
		survivors := make([]string, 0, len(current))
		for _, z := range current {
			if id, _ := z.Member.(string); id != oldID {
				survivors = append(survivors, id)
			}
		}
		if over := len(survivors) - (s.opts.Retain - 1); over > 0 {
			evicted = survivors[:over]
		}
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	var evictedQueries []string
	if len(evicted) > 0 {
		raw, err := tx.HMGet(ctx, s.entriesKey(), evicted...).Result()
		if err != nil {
			return err
		}
		for _, v := range raw {
			str, ok := v.(string)
			if !ok {
				continue
			}
			var old models.HistoryEntry
			if json.Unmarshal([]byte(str), &old) == nil && old.Query != entry.Query {
				evictedQueries = append(evictedQueries, old.Query)
			}
		}
	}

	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if oldID != "" {
			pipe.ZRem(ctx, s.recentKey(), oldID)
			pipe.HDel(ctx, s.entriesKey(), oldID)
		}
		if len(evicted) > 0 {
			members := make([]any, len(evicted))
			for i, id := range evicted {
				members[i] = id
			}
			pipe.ZRem(ctx, s.recentKey(), members...)
			pipe.HDel(ctx, s.entriesKey(), evicted...)
		}
		if len(evictedQueries) > 0 {
			pipe.HDel(ctx, s.queriesKey(), evictedQueries...)
		}
		pipe.HSet(ctx, s.entriesKey(), entry.ID, payload)
		pipe.HSet(ctx, s.queriesKey(), entry.Query, entry.ID)
		pipe.ZAdd(ctx, s.recentKey(), redis.Z{Score: float64(entry.Timestamp.UnixMicro()), Member: entry.ID})
		return nil
	})
	return err
}

func (s *RedisStore) Recent(ctx context.Context, n int) ([]models.HistoryEntry, error) {
	if n <= 0 {
		return []models.HistoryEntry{}, nil
	}
	ids, err := s.client.ZRevRange(ctx, s.recentKey(), 0, int64(n-1)).Result()
	if err != nil {
		return nil, persistErr("read recent", err)
	}
	if len(ids) == 0 {
		return []models.HistoryEntry{}, nil
	}
	raw, err := s.client.HMGet(ctx, s.entriesKey(), ids...).Result()
	if err != nil {
		return nil, persistErr("read entries", err)
	}

	entries := make([]models.HistoryEntry, 0, len(ids))
	for _, v := range raw {
		str, ok := v.(string)
		if !ok {
			// removed between the two reads
			continue
		}
		var entry models.HistoryEntry
		if err := json.Unmarshal([]byte(str), &entry); err != nil {
			return nil, persistErr("decode entry", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (models.HistoryEntry, error) {
	str, err := s.client.HGet(ctx, s.entriesKey(), id).Result()
	if errors.Is(err, redis.Nil) {
		return models.HistoryEntry{}, models.ErrEntryNotFound
	}
	if err != nil {
		return models.HistoryEntry{}, persistErr("read entry", err)
	}
	var entry models.HistoryEntry
	if err := json.Unmarshal([]byte(str), &entry); err != nil {
		return models.HistoryEntry{}, persistErr("decode entry", err)
	}
	return entry, nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.entriesKey(), s.recentKey(), s.queriesKey()).Err(); err != nil {
		return persistErr("clear", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
