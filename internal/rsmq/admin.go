package rsmq

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/verbatik/agent-stream/internal/apperr"
)

// Management operations for channel streams. These back the channel info and
// cleanup endpoints and are not part of the hot send/consume path.

// Len returns the number of entries in the channel stream.
func (q *Queue) Len(ctx context.Context, channel string) (int64, error) {
	n, err := q.client.XLen(ctx, q.Key(channel))
	if err != nil {
		return 0, apperr.Wrap(apperr.KindTransport, "reading stream length", err)
	}
	return n, nil
}

// Trim caps the channel stream at approximately maxLen entries and returns
// the number of entries removed.
func (q *Queue) Trim(ctx context.Context, channel string, maxLen int64) (int64, error) {
	n, err := q.client.XTrimMaxLen(ctx, q.Key(channel), maxLen)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindTransport, "trimming stream", err)
	}
	return n, nil
}

// Expire sets a fresh TTL on the channel stream, overriding the queue's
// default expiry. It reports whether the stream existed.
func (q *Queue) Expire(ctx context.Context, channel string, ttl time.Duration) (bool, error) {
	ok, err := q.client.Expire(ctx, q.Key(channel), ttl)
	if err != nil {
		return false, apperr.Wrap(apperr.KindTransport, "expiring stream", err)
	}
	return ok, nil
}

// Delete removes the channel stream with all entries and groups. It reports
// whether the stream existed.
func (q *Queue) Delete(ctx context.Context, channel string) (bool, error) {
	n, err := q.client.Del(ctx, q.Key(channel))
	if err != nil {
		return false, apperr.Wrap(apperr.KindTransport, "deleting stream", err)
	}
	return n > 0, nil
}

// Info returns stream-level metadata for a channel.
func (q *Queue) Info(ctx context.Context, channel string) (map[string]any, error) {
	info, err := q.client.XInfoStream(ctx, q.Key(channel))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransport, "reading stream info", err)
	}
	return map[string]any{
		"length":            info.Length,
		"groups":            info.Groups,
		"last_generated_id": info.LastGeneratedID,
		"first_entry_id":    info.FirstEntry.ID,
		"last_entry_id":     info.LastEntry.ID,
	}, nil
}

// GroupInfo returns the consumer groups attached to a channel stream.
func (q *Queue) GroupInfo(ctx context.Context, channel string) ([]map[string]any, error) {
	groups, err := q.client.XInfoGroups(ctx, q.Key(channel))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransport, "reading group info", err)
	}
	out := make([]map[string]any, 0, len(groups))
	for _, g := range groups {
		out = append(out, map[string]any{
			"name":              g.Name,
			"consumers":         g.Consumers,
			"pending":           g.Pending,
			"last_delivered_id": g.LastDeliveredID,
		})
	}
	return out, nil
}

// ConsumersInfo returns the consumers of the queue's group on a channel.
func (q *Queue) ConsumersInfo(ctx context.Context, channel string) ([]map[string]any, error) {
	consumers, err := q.client.XInfoConsumers(ctx, q.Key(channel), q.opts.Group)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransport, "reading consumer info", err)
	}
	out := make([]map[string]any, 0, len(consumers))
	for _, c := range consumers {
		out = append(out, map[string]any{
			"name":    c.Name,
			"pending": c.Pending,
			"idle_ms": c.Idle.Milliseconds(),
		})
	}
	return out, nil
}

// PendingMessages lists unacknowledged entries for the queue's group.
func (q *Queue) PendingMessages(ctx context.Context, channel string, count int64) ([]map[string]any, error) {
	if count <= 0 {
		count = q.opts.ReadCount
	}
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.Key(channel),
		Group:  q.opts.Group,
		Start:  "-",
		End:    "+",
		Count:  count,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransport, "reading pending entries", err)
	}
	out := make([]map[string]any, 0, len(pending))
	for _, p := range pending {
		out = append(out, map[string]any{
			"id":          p.ID,
			"consumer":    p.Consumer,
			"idle_ms":     p.Idle.Milliseconds(),
			"retry_count": p.RetryCount,
		})
	}
	return out, nil
}

// ClaimStale transfers entries pending longer than minIdle from other
// consumers of the group to the given consumer and returns them decoded.
// This lets a replacement consumer take over after a crash.
func (q *Queue) ClaimStale(ctx context.Context, channel, consumer string, minIdle time.Duration) ([]Message, error) {
	key := q.Key(channel)

	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: key,
		Group:  q.opts.Group,
		Start:  "-",
		End:    "+",
		Count:  q.opts.ReadCount,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransport, "reading pending entries", err)
	}

	var stale []string
	for _, p := range pending {
		if p.Idle >= minIdle {
			stale = append(stale, p.ID)
		}
	}
	if len(stale) == 0 {
		return nil, nil
	}

	claimed, err := q.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   key,
		Group:    q.opts.Group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: stale,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransport, "claiming entries", err)
	}

	out := make([]Message, 0, len(claimed))
	for _, raw := range claimed {
		data, derr := decodeEntry(raw)
		if derr != nil {
			_, _ = q.client.XAck(ctx, key, q.opts.Group, raw.ID)
			continue
		}
		out = append(out, Message{ID: raw.ID, Data: data})
	}
	return out, nil
}

// RemoveConsumer deletes a consumer from the channel's group, releasing its
// pending entries back to the group.
func (q *Queue) RemoveConsumer(ctx context.Context, channel, consumer string) error {
	_, err := q.client.XGroupDelConsumer(ctx, q.Key(channel), q.opts.Group, consumer)
	return apperr.Wrap(apperr.KindTransport, "removing consumer", err)
}
