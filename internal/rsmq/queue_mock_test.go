package rsmq

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verbatik/agent-stream/internal/apperr"
)

// mockClient implements StreamClient with overridable behavior per method.
type mockClient struct {
	xAdd           func(ctx context.Context, args *redis.XAddArgs) (string, error)
	xReadGroup     func(ctx context.Context, args *redis.XReadGroupArgs) ([]redis.XStream, error)
	xAck           func(ctx context.Context, stream, group string, ids ...string) (int64, error)
	xGroupCreate   func(ctx context.Context, stream, group, start string) error
	xGroupDelCons  func(ctx context.Context, stream, group, consumer string) (int64, error)
	xPendingExt    func(ctx context.Context, args *redis.XPendingExtArgs) ([]redis.XPendingExt, error)
	xClaim         func(ctx context.Context, args *redis.XClaimArgs) ([]redis.XMessage, error)
	xLen           func(ctx context.Context, stream string) (int64, error)
	xTrimMaxLen    func(ctx context.Context, stream string, maxLen int64) (int64, error)
	xInfoStream    func(ctx context.Context, stream string) (*redis.XInfoStream, error)
	xInfoGroups    func(ctx context.Context, stream string) ([]redis.XInfoGroup, error)
	xInfoConsumers func(ctx context.Context, stream, group string) ([]redis.XInfoConsumer, error)
	expire         func(ctx context.Context, key string, ttl time.Duration) (bool, error)
	del            func(ctx context.Context, keys ...string) (int64, error)
}

func (m *mockClient) XAdd(ctx context.Context, args *redis.XAddArgs) (string, error) {
	if m.xAdd != nil {
		return m.xAdd(ctx, args)
	}
	return "1-0", nil
}

func (m *mockClient) XReadGroup(ctx context.Context, args *redis.XReadGroupArgs) ([]redis.XStream, error) {
	if m.xReadGroup != nil {
		return m.xReadGroup(ctx, args)
	}
	return nil, redis.Nil
}

func (m *mockClient) XAck(ctx context.Context, stream, group string, ids ...string) (int64, error) {
	if m.xAck != nil {
		return m.xAck(ctx, stream, group, ids...)
	}
	return int64(len(ids)), nil
}

func (m *mockClient) XGroupCreateMkStream(ctx context.Context, stream, group, start string) error {
	if m.xGroupCreate != nil {
		return m.xGroupCreate(ctx, stream, group, start)
	}
	return nil
}

func (m *mockClient) XGroupDelConsumer(ctx context.Context, stream, group, consumer string) (int64, error) {
	if m.xGroupDelCons != nil {
		return m.xGroupDelCons(ctx, stream, group, consumer)
	}
	return 0, nil
}

func (m *mockClient) XPendingExt(ctx context.Context, args *redis.XPendingExtArgs) ([]redis.XPendingExt, error) {
	if m.xPendingExt != nil {
		return m.xPendingExt(ctx, args)
	}
	return nil, nil
}

func (m *mockClient) XClaim(ctx context.Context, args *redis.XClaimArgs) ([]redis.XMessage, error) {
	if m.xClaim != nil {
		return m.xClaim(ctx, args)
	}
	return nil, nil
}

func (m *mockClient) XLen(ctx context.Context, stream string) (int64, error) {
	if m.xLen != nil {
		return m.xLen(ctx, stream)
	}
	return 0, nil
}

func (m *mockClient) XTrimMaxLen(ctx context.Context, stream string, maxLen int64) (int64, error) {
	if m.xTrimMaxLen != nil {
		return m.xTrimMaxLen(ctx, stream, maxLen)
	}
	return 0, nil
}

func (m *mockClient) XInfoStream(ctx context.Context, stream string) (*redis.XInfoStream, error) {
	if m.xInfoStream != nil {
		return m.xInfoStream(ctx, stream)
	}
	return &redis.XInfoStream{}, nil
}

func (m *mockClient) XInfoGroups(ctx context.Context, stream string) ([]redis.XInfoGroup, error) {
	if m.xInfoGroups != nil {
		return m.xInfoGroups(ctx, stream)
	}
	return nil, nil
}

func (m *mockClient) XInfoConsumers(ctx context.Context, stream, group string) ([]redis.XInfoConsumer, error) {
	if m.xInfoConsumers != nil {
		return m.xInfoConsumers(ctx, stream, group)
	}
	return nil, nil
}

func (m *mockClient) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if m.expire != nil {
		return m.expire(ctx, key, ttl)
	}
	return true, nil
}

func (m *mockClient) Del(ctx context.Context, keys ...string) (int64, error) {
	if m.del != nil {
		return m.del(ctx, keys...)
	}
	return 0, nil
}

func TestEnsureGroupToleratesBusyGroup(t *testing.T) {
	mock := &mockClient{
		xGroupCreate: func(ctx context.Context, stream, group, start string) error {
			return errors.New("BUSYGROUP Consumer Group name already exists")
		},
	}
	q := New(mock, Options{}, nil)
	assert.NoError(t, q.EnsureGroup(context.Background(), "ch"))
}

func TestEnsureGroupPropagatesOtherErrors(t *testing.T) {
	mock := &mockClient{
		xGroupCreate: func(ctx context.Context, stream, group, start string) error {
			return errors.New("connection refused")
		},
	}
	q := New(mock, Options{}, nil)
	err := q.EnsureGroup(context.Background(), "ch")
	require.Error(t, err)
	assert.Equal(t, apperr.KindTransport, apperr.KindOf(err))
}

func TestSendErrorKind(t *testing.T) {
	mock := &mockClient{
		xAdd: func(ctx context.Context, args *redis.XAddArgs) (string, error) {
			return "", errors.New("connection refused")
		},
	}
	q := New(mock, Options{}, nil)
	_, err := q.Send(context.Background(), "ch", map[string]any{"text": "x"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindTransport, apperr.KindOf(err))
}

func TestSendUsesMaxLenApprox(t *testing.T) {
	var captured *redis.XAddArgs
	mock := &mockClient{
		xAdd: func(ctx context.Context, args *redis.XAddArgs) (string, error) {
			captured = args
			return "1-0", nil
		},
	}
	q := New(mock, Options{MaxLen: 777}, nil)
	_, err := q.Send(context.Background(), "ch", map[string]any{"text": "x"})
	require.NoError(t, err)
	require.NotNil(t, captured)
	assert.Equal(t, int64(777), captured.MaxLen)
	assert.True(t, captured.Approx)
	assert.Equal(t, "mq:channel:ch", captured.Stream)
}

func TestConsumeTerminatesAfterPersistentErrors(t *testing.T) {
	old := errorBackoff
	errorBackoff = time.Millisecond
	defer func() { errorBackoff = old }()

	mock := &mockClient{
		xReadGroup: func(ctx context.Context, args *redis.XReadGroupArgs) ([]redis.XStream, error) {
			return nil, errors.New("connection refused")
		},
	}
	q := New(mock, Options{Block: time.Millisecond}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msgs, errs := q.Consume(ctx, "ch", "c1", ConsumeOptions{})

	err := <-errs
	require.Error(t, err)
	assert.Equal(t, apperr.KindTransport, apperr.KindOf(err))

	_, open := <-msgs
	assert.False(t, open)
}

func TestConsumeRecreatesMissingGroup(t *testing.T) {
	var created, reads atomic.Int32
	mock := &mockClient{
		xGroupCreate: func(ctx context.Context, stream, group, start string) error {
			created.Add(1)
			return nil
		},
		xReadGroup: func(ctx context.Context, args *redis.XReadGroupArgs) ([]redis.XStream, error) {
			if reads.Add(1) == 1 {
				return nil, errors.New("NOGROUP No such consumer group")
			}
			return []redis.XStream{{
				Stream: args.Streams[0],
				Messages: []redis.XMessage{
					{ID: "2-0", Values: map[string]any{"data": `{"text":"x"}`}},
				},
			}}, nil
		},
	}
	q := New(mock, Options{Block: time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, _ := q.Consume(ctx, "ch", "c1", ConsumeOptions{AutoAck: true})
	got := collectMessages(t, msgs, 1)

	assert.Equal(t, "x", got[0].Data["text"])
	assert.GreaterOrEqual(t, created.Load(), int32(2), "group should be recreated after NOGROUP")
}

func TestClaimStale(t *testing.T) {
	mock := &mockClient{
		xPendingExt: func(ctx context.Context, args *redis.XPendingExtArgs) ([]redis.XPendingExt, error) {
			return []redis.XPendingExt{
				{ID: "1-0", Consumer: "dead", Idle: time.Minute},
				{ID: "2-0", Consumer: "alive", Idle: time.Second},
			}, nil
		},
		xClaim: func(ctx context.Context, args *redis.XClaimArgs) ([]redis.XMessage, error) {
			assert.Equal(t, []string{"1-0"}, args.Messages)
			return []redis.XMessage{
				{ID: "1-0", Values: map[string]any{"data": `{"text":"orphan"}`}},
			}, nil
		},
	}
	q := New(mock, Options{}, nil)

	claimed, err := q.ClaimStale(context.Background(), "ch", "rescuer", 30*time.Second)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "orphan", claimed[0].Data["text"])
}

func TestClaimStaleNothingIdle(t *testing.T) {
	mock := &mockClient{
		xPendingExt: func(ctx context.Context, args *redis.XPendingExtArgs) ([]redis.XPendingExt, error) {
			return []redis.XPendingExt{{ID: "1-0", Consumer: "busy", Idle: time.Second}}, nil
		},
	}
	q := New(mock, Options{}, nil)

	claimed, err := q.ClaimStale(context.Background(), "ch", "rescuer", time.Minute)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestInfoShapes(t *testing.T) {
	mock := &mockClient{
		xInfoStream: func(ctx context.Context, stream string) (*redis.XInfoStream, error) {
			return &redis.XInfoStream{
				Length:          3,
				Groups:          2,
				LastGeneratedID: "9-0",
				FirstEntry:      redis.XMessage{ID: "1-0"},
				LastEntry:       redis.XMessage{ID: "9-0"},
			}, nil
		},
		xInfoGroups: func(ctx context.Context, stream string) ([]redis.XInfoGroup, error) {
			return []redis.XInfoGroup{
				{Name: "mq-consumer-group", Consumers: 1, Pending: 2, LastDeliveredID: "9-0"},
			}, nil
		},
		xInfoConsumers: func(ctx context.Context, stream, group string) ([]redis.XInfoConsumer, error) {
			return []redis.XInfoConsumer{{Name: "c1", Pending: 2, Idle: 3 * time.Second}}, nil
		},
	}
	q := New(mock, Options{}, nil)
	ctx := context.Background()

	info, err := q.Info(ctx, "ch")
	require.NoError(t, err)
	assert.Equal(t, int64(3), info["length"])
	assert.Equal(t, "1-0", info["first_entry_id"])

	groups, err := q.GroupInfo(ctx, "ch")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "mq-consumer-group", groups[0]["name"])

	consumers, err := q.ConsumersInfo(ctx, "ch")
	require.NoError(t, err)
	require.Len(t, consumers, 1)
	assert.Equal(t, int64(3000), consumers[0]["idle_ms"])
}
