package rsmq

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// StreamClient is the subset of Redis commands the queue needs.
// This abstraction allows for easy mocking in tests.
type StreamClient interface {
	// XAdd adds an entry to a stream
	XAdd(ctx context.Context, args *redis.XAddArgs) (string, error)
	// XReadGroup reads entries from a stream using a consumer group
	XReadGroup(ctx context.Context, args *redis.XReadGroupArgs) ([]redis.XStream, error)
	// XAck acknowledges processed messages
	XAck(ctx context.Context, stream, group string, ids ...string) (int64, error)
	// XGroupCreateMkStream creates a consumer group (and the stream if needed)
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) error
	// XGroupDelConsumer removes a consumer from a group, releasing its pending entries
	XGroupDelConsumer(ctx context.Context, stream, group, consumer string) (int64, error)
	// XPendingExt returns detailed pending entries
	XPendingExt(ctx context.Context, args *redis.XPendingExtArgs) ([]redis.XPendingExt, error)
	// XClaim claims pending messages for a consumer
	XClaim(ctx context.Context, args *redis.XClaimArgs) ([]redis.XMessage, error)
	// XLen returns the length of a stream
	XLen(ctx context.Context, stream string) (int64, error)
	// XTrimMaxLen trims a stream to an approximate maximum length
	XTrimMaxLen(ctx context.Context, stream string, maxLen int64) (int64, error)
	// XInfoStream returns stream info
	XInfoStream(ctx context.Context, stream string) (*redis.XInfoStream, error)
	// XInfoGroups returns consumer group info for a stream
	XInfoGroups(ctx context.Context, stream string) ([]redis.XInfoGroup, error)
	// XInfoConsumers returns consumer info for a group
	XInfoConsumers(ctx context.Context, stream, group string) ([]redis.XInfoConsumer, error)
	// Expire sets a TTL on a key
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Del deletes keys and returns the number removed
	Del(ctx context.Context, keys ...string) (int64, error)
}

// ClientAdapter adapts a go-redis/v9 client to the StreamClient interface.
type ClientAdapter struct {
	Client redis.UniversalClient
}

func (a *ClientAdapter) XAdd(ctx context.Context, args *redis.XAddArgs) (string, error) {
	return a.Client.XAdd(ctx, args).Result()
}

func (a *ClientAdapter) XReadGroup(ctx context.Context, args *redis.XReadGroupArgs) ([]redis.XStream, error) {
	return a.Client.XReadGroup(ctx, args).Result()
}

func (a *ClientAdapter) XAck(ctx context.Context, stream, group string, ids ...string) (int64, error) {
	return a.Client.XAck(ctx, stream, group, ids...).Result()
}

func (a *ClientAdapter) XGroupCreateMkStream(ctx context.Context, stream, group, start string) error {
	return a.Client.XGroupCreateMkStream(ctx, stream, group, start).Err()
}

func (a *ClientAdapter) XGroupDelConsumer(ctx context.Context, stream, group, consumer string) (int64, error) {
	return a.Client.XGroupDelConsumer(ctx, stream, group, consumer).Result()
}

func (a *ClientAdapter) XPendingExt(ctx context.Context, args *redis.XPendingExtArgs) ([]redis.XPendingExt, error) {
	return a.Client.XPendingExt(ctx, args).Result()
}

func (a *ClientAdapter) XClaim(ctx context.Context, args *redis.XClaimArgs) ([]redis.XMessage, error) {
	return a.Client.XClaim(ctx, args).Result()
}

func (a *ClientAdapter) XLen(ctx context.Context, stream string) (int64, error) {
	return a.Client.XLen(ctx, stream).Result()
}

func (a *ClientAdapter) XTrimMaxLen(ctx context.Context, stream string, maxLen int64) (int64, error) {
	return a.Client.XTrimMaxLenApprox(ctx, stream, maxLen, 0).Result()
}

func (a *ClientAdapter) XInfoStream(ctx context.Context, stream string) (*redis.XInfoStream, error) {
	return a.Client.XInfoStream(ctx, stream).Result()
}

func (a *ClientAdapter) XInfoGroups(ctx context.Context, stream string) ([]redis.XInfoGroup, error) {
	return a.Client.XInfoGroups(ctx, stream).Result()
}

func (a *ClientAdapter) XInfoConsumers(ctx context.Context, stream, group string) ([]redis.XInfoConsumer, error) {
	return a.Client.XInfoConsumers(ctx, stream, group).Result()
}

func (a *ClientAdapter) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return a.Client.Expire(ctx, key, ttl).Result()
}

func (a *ClientAdapter) Del(ctx context.Context, keys ...string) (int64, error) {
	return a.Client.Del(ctx, keys...).Result()
}
