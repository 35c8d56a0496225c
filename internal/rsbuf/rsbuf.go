// Package rsbuf keeps a short-lived Redis stream per agent run so that
// late-joining clients can backfill progress chunks they missed. Unlike the
// channel queue there are no consumer groups: readers fetch ranges directly.
package rsbuf

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/verbatik/agent-stream/internal/apperr"
)

const (
	defaultPrefix = "rsbuf:"
	defaultMaxLen = 10_000
	defaultTTL    = time.Hour
)

// Entry is one buffered chunk.
type Entry struct {
	ID   string
	Data map[string]any
}

// Buffer appends and replays per-run progress chunks.
type Buffer struct {
	client redis.UniversalClient
	prefix string
	maxLen int64
	ttl    time.Duration
}

// Option customizes a Buffer.
type Option func(*Buffer)

// WithPrefix overrides the "rsbuf:" key prefix.
func WithPrefix(prefix string) Option { return func(b *Buffer) { b.prefix = prefix } }

// WithMaxLen caps the buffered entries per run.
func WithMaxLen(n int64) Option { return func(b *Buffer) { b.maxLen = n } }

// WithTTL sets how long a run buffer outlives its last append.
func WithTTL(ttl time.Duration) Option { return func(b *Buffer) { b.ttl = ttl } }

// New creates a Buffer on the given Redis client.
func New(client redis.UniversalClient, opts ...Option) *Buffer {
	b := &Buffer{client: client, prefix: defaultPrefix, maxLen: defaultMaxLen, ttl: defaultTTL}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Key returns the stream key for a run.
func (b *Buffer) Key(runID string) string { return b.prefix + runID }

// Append adds a chunk to the run buffer and refreshes its TTL.
func (b *Buffer) Append(ctx context.Context, runID string, data map[string]any) (string, error) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "encoding chunk", err)
	}

	key := b.Key(runID)
	pipe := b.client.TxPipeline()
	add := pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: b.maxLen,
		Approx: true,
		Values: map[string]any{"data": string(encoded)},
	})
	pipe.Expire(ctx, key, b.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", apperr.Wrap(apperr.KindTransport, "appending chunk", err)
	}
	return add.Val(), nil
}

// Backfill returns buffered entries after sinceID, oldest first. An empty
// sinceID replays the whole buffer.
func (b *Buffer) Backfill(ctx context.Context, runID, sinceID string) ([]Entry, error) {
	start := "-"
	if sinceID != "" {
		// Exclusive range start, supported since Redis 6.2.
		start = "(" + sinceID
	}

	raw, err := b.client.XRange(ctx, b.Key(runID), start, "+").Result()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransport, "reading buffer", err)
	}

	entries := make([]Entry, 0, len(raw))
	for _, msg := range raw {
		data, ok := decode(msg)
		if !ok {
			continue
		}
		entries = append(entries, Entry{ID: msg.ID, Data: data})
	}
	return entries, nil
}

// Tail returns the newest count entries, oldest first.
func (b *Buffer) Tail(ctx context.Context, runID string, count int64) ([]Entry, error) {
	raw, err := b.client.XRevRangeN(ctx, b.Key(runID), "+", "-", count).Result()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransport, "reading buffer tail", err)
	}

	entries := make([]Entry, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		data, ok := decode(raw[i])
		if !ok {
			continue
		}
		entries = append(entries, Entry{ID: raw[i].ID, Data: data})
	}
	return entries, nil
}

// Delete drops the run buffer.
func (b *Buffer) Delete(ctx context.Context, runID string) error {
	return apperr.Wrap(apperr.KindTransport, "deleting buffer",
		b.client.Del(ctx, b.Key(runID)).Err())
}

func decode(msg redis.XMessage) (map[string]any, bool) {
	str, ok := msg.Values["data"].(string)
	if !ok {
		return nil, false
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(str), &data); err != nil {
		return nil, false
	}
	return data, true
}
