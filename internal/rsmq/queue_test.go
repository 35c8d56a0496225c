package rsmq

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T, opts Options) (*Queue, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	if opts.Block == 0 {
		opts.Block = 100 * time.Millisecond
	}
	return New(&ClientAdapter{Client: rdb}, opts, nil), rdb
}

func collectMessages(t *testing.T, msgs <-chan Message, n int) []Message {
	t.Helper()
	var out []Message
	timeout := time.After(5 * time.Second)
	for len(out) < n {
		select {
		case m, ok := <-msgs:
			if !ok {
				t.Fatalf("message channel closed after %d of %d messages", len(out), n)
			}
			out = append(out, m)
		case <-timeout:
			t.Fatalf("timed out after %d of %d messages", len(out), n)
		}
	}
	return out
}

func TestSendAndConsume(t *testing.T) {
	q, _ := newTestQueue(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id1, err := q.Send(ctx, "general", map[string]any{"sender": "alice", "text": "hello"})
	require.NoError(t, err)
	id2, err := q.Send(ctx, "general", map[string]any{"sender": "bob", "text": "hi"})
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	msgs, _ := q.Consume(ctx, "general", "c1", ConsumeOptions{AutoAck: true})
	got := collectMessages(t, msgs, 2)

	assert.Equal(t, id1, got[0].ID)
	assert.Equal(t, "hello", got[0].Data["text"])
	assert.Equal(t, id2, got[1].ID)
	assert.Equal(t, "hi", got[1].Data["text"])
}

func TestConsumeReplaysHistoryForNewGroup(t *testing.T) {
	// A fresh group created at "0" sees entries sent before any consumer
	// existed. This is the broadcast replay behavior SSE subscribers rely on.
	q, _ := newTestQueue(t, Options{StartID: StartBeginning})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := q.Send(ctx, "ch", map[string]any{"n": float64(1)})
	require.NoError(t, err)

	msgs, _ := q.Consume(ctx, "ch", "late-joiner", ConsumeOptions{AutoAck: true})
	got := collectMessages(t, msgs, 1)
	assert.Equal(t, float64(1), got[0].Data["n"])
}

func TestStartNewOnlySkipsHistory(t *testing.T) {
	q, _ := newTestQueue(t, Options{StartID: StartNewOnly})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := q.Send(ctx, "ch", map[string]any{"text": "old"})
	require.NoError(t, err)
	require.NoError(t, q.EnsureGroup(ctx, "ch"))
	_, err = q.Send(ctx, "ch", map[string]any{"text": "new"})
	require.NoError(t, err)

	msgs, _ := q.Consume(ctx, "ch", "c1", ConsumeOptions{AutoAck: true})
	got := collectMessages(t, msgs, 1)
	assert.Equal(t, "new", got[0].Data["text"])
}

func TestBroadcastReachesAllGroups(t *testing.T) {
	// One group per subscriber means every subscriber sees every message.
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	qa := New(&ClientAdapter{Client: rdb}, Options{Group: "mq-consumer-a", Block: 100 * time.Millisecond}, nil)
	qb := New(&ClientAdapter{Client: rdb}, Options{Group: "mq-consumer-b", Block: 100 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := qa.Broadcast(ctx, "ch", "model_stream_chunk", map[string]any{"content": "Hel"})
	require.NoError(t, err)

	msgsA, _ := qa.Consume(ctx, "ch", "a", ConsumeOptions{AutoAck: true})
	msgsB, _ := qb.Consume(ctx, "ch", "b", ConsumeOptions{AutoAck: true})

	gotA := collectMessages(t, msgsA, 1)
	gotB := collectMessages(t, msgsB, 1)

	assert.Equal(t, "model_stream_chunk", gotA[0].Data["type"])
	assert.Equal(t, "Hel", gotB[0].Data["content"])
}

func TestBroadcastTypeWinsOnConflict(t *testing.T) {
	q, _ := newTestQueue(t, Options{})
	ctx := context.Background()

	_, err := q.Broadcast(ctx, "ch", "done", map[string]any{"type": "other", "k": "v"})
	require.NoError(t, err)

	ctx2, cancel := context.WithCancel(ctx)
	defer cancel()
	msgs, _ := q.Consume(ctx2, "ch", "c1", ConsumeOptions{AutoAck: true})
	got := collectMessages(t, msgs, 1)
	assert.Equal(t, "done", got[0].Data["type"])
	assert.Equal(t, "v", got[0].Data["k"])
}

func TestUnackedMessagesRedeliveredAsPending(t *testing.T) {
	q, _ := newTestQueue(t, Options{})

	ctx1, cancel1 := context.WithCancel(context.Background())
	_, err := q.Send(ctx1, "ch", map[string]any{"text": "keep me"})
	require.NoError(t, err)

	// First consumer reads without acking, then goes away.
	msgs, _ := q.Consume(ctx1, "ch", "c1", ConsumeOptions{AutoAck: false})
	first := collectMessages(t, msgs, 1)
	cancel1()

	pending, err := q.PendingMessages(context.Background(), "ch", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, first[0].ID, pending[0]["id"])

	// The same consumer resuming with the pending method sees it again.
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	msgs2, _ := q.Consume(ctx2, "ch", "c1", ConsumeOptions{AutoAck: true, Method: ReadPending})
	again := collectMessages(t, msgs2, 1)
	assert.Equal(t, first[0].ID, again[0].ID)
}

func TestPendingThenNew(t *testing.T) {
	q, _ := newTestQueue(t, Options{})

	ctx1, cancel1 := context.WithCancel(context.Background())
	_, err := q.Send(ctx1, "ch", map[string]any{"text": "pending"})
	require.NoError(t, err)

	msgs, _ := q.Consume(ctx1, "ch", "c1", ConsumeOptions{AutoAck: false})
	collectMessages(t, msgs, 1)
	cancel1()

	_, err = q.Send(context.Background(), "ch", map[string]any{"text": "fresh"})
	require.NoError(t, err)

	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	msgs2, _ := q.Consume(ctx2, "ch", "c1", ConsumeOptions{AutoAck: true, Method: ReadPending})
	got := collectMessages(t, msgs2, 2)
	assert.Equal(t, "pending", got[0].Data["text"])
	assert.Equal(t, "fresh", got[1].Data["text"])
}

func TestAckClearsPending(t *testing.T) {
	q, _ := newTestQueue(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := q.Send(ctx, "ch", map[string]any{"text": "x"})
	require.NoError(t, err)

	msgs, _ := q.Consume(ctx, "ch", "c1", ConsumeOptions{AutoAck: true})
	collectMessages(t, msgs, 1)

	pending, err := q.PendingMessages(ctx, "ch", 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestConsumeWithDisconnectCheckStops(t *testing.T) {
	q, _ := newTestQueue(t, Options{})
	ctx := context.Background()

	_, err := q.Send(ctx, "ch", map[string]any{"text": "x"})
	require.NoError(t, err)

	var gone atomic.Bool
	msgs, errs := q.ConsumeWithDisconnectCheck(ctx, "ch", "c1",
		gone.Load,
		ConsumeOptions{AutoAck: true, Block: 20 * time.Millisecond})

	collectMessages(t, msgs, 1)
	gone.Store(true)

	select {
	case _, ok := <-msgs:
		assert.False(t, ok, "message channel should close after disconnect")
	case <-time.After(5 * time.Second):
		t.Fatal("consume loop did not stop after disconnect")
	}
	assert.NoError(t, <-errs)
}

func TestMalformedEntriesAreSkipped(t *testing.T) {
	q, rdb := newTestQueue(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Entry without the expected "data" field.
	_, err := rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.Key("ch"),
		Values: map[string]any{"other": "x"},
	}).Result()
	require.NoError(t, err)

	_, err = q.Send(ctx, "ch", map[string]any{"text": "good"})
	require.NoError(t, err)

	msgs, _ := q.Consume(ctx, "ch", "c1", ConsumeOptions{AutoAck: true})
	got := collectMessages(t, msgs, 1)
	assert.Equal(t, "good", got[0].Data["text"])
}

func TestDeleteAndLen(t *testing.T) {
	q, _ := newTestQueue(t, Options{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := q.Send(ctx, "ch", map[string]any{"n": i})
		require.NoError(t, err)
	}

	n, err := q.Len(ctx, "ch")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	deleted, err := q.Delete(ctx, "ch")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = q.Delete(ctx, "ch")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestSendRefreshesTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	q := New(&ClientAdapter{Client: rdb}, Options{TTL: time.Minute}, nil)
	_, err := q.Send(context.Background(), "ch", map[string]any{"text": "x"})
	require.NoError(t, err)

	ttl := mr.TTL(q.Key("ch"))
	assert.Equal(t, time.Minute, ttl)
}

func TestExpireOverridesTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	ctx := context.Background()

	q := New(&ClientAdapter{Client: rdb}, Options{TTL: time.Minute}, nil)
	_, err := q.Send(ctx, "ch", map[string]any{"text": "x"})
	require.NoError(t, err)

	ok, err := q.Expire(ctx, "ch", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Hour, mr.TTL(q.Key("ch")))

	ok, err = q.Expire(ctx, "missing", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTimestampFromID(t *testing.T) {
	assert.Equal(t, int64(1712345678901), TimestampFromID("1712345678901-0"))
	assert.Equal(t, int64(0), TimestampFromID("garbage"))
}

func TestKeyPrefix(t *testing.T) {
	q := New(nil, Options{}, nil)
	assert.Equal(t, "mq:channel:general", q.Key("general"))

	q2 := New(nil, Options{Prefix: "custom:"}, nil)
	assert.Equal(t, "custom:general", q2.Key("general"))
}
