// Package rsmq implements a per-channel message queue on Redis Streams.
//
// Each channel maps to one stream key. Consumer groups control delivery:
// consumers sharing a group split the work, while a unique group per
// consumer yields broadcast semantics. Entries are acknowledged only after
// delivery, so unacknowledged messages survive consumer crashes.
package rsmq

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/verbatik/agent-stream/internal/apperr"
)

// Group start positions used when creating consumer groups.
const (
	StartBeginning = "0" // replay the full stream history
	StartNewOnly   = "$" // only entries added after group creation
)

const (
	defaultPrefix    = "mq:channel:"
	defaultGroup     = "mq-consumer-group"
	defaultMaxLen    = 10_000
	defaultBlock     = 15 * time.Second
	defaultReadCount = 10

	// Poll interval when a disconnect predicate has to be checked between reads.
	disconnectPoll = time.Second

	maxConsecutiveErrors = 5
)

// Backoff between failed reads. Variable so tests can shorten it.
var errorBackoff = time.Second

// Options configures a Queue.
type Options struct {
	Prefix    string        // Stream key prefix, default "mq:channel:"
	Group     string        // Consumer group name, default "mq-consumer-group"
	MaxLen    int64         // Approximate stream length cap for XADD
	TTL       time.Duration // Key TTL, refreshed on every send (0 = no expiry)
	Block     time.Duration // XREADGROUP block timeout
	ReadCount int64         // Entries per read
	StartID   string        // Group start position, StartBeginning or StartNewOnly
}

func (o Options) withDefaults() Options {
	if o.Prefix == "" {
		o.Prefix = defaultPrefix
	}
	if o.Group == "" {
		o.Group = defaultGroup
	}
	if o.MaxLen <= 0 {
		o.MaxLen = defaultMaxLen
	}
	if o.Block <= 0 {
		o.Block = defaultBlock
	}
	if o.ReadCount <= 0 {
		o.ReadCount = defaultReadCount
	}
	if o.StartID == "" {
		o.StartID = StartBeginning
	}
	return o
}

// Message is one decoded stream entry.
type Message struct {
	ID   string
	Data map[string]any
}

// Timestamp returns the entry's creation time in Unix milliseconds,
// parsed from the millisecond prefix of the stream entry ID.
func (m Message) Timestamp() int64 {
	return TimestampFromID(m.ID)
}

// TimestampFromID extracts the millisecond timestamp from a stream entry ID.
func TimestampFromID(id string) int64 {
	ms, _, _ := strings.Cut(id, "-")
	ts, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return 0
	}
	return ts
}

// ReadMethod selects which entries a consumer reads.
type ReadMethod string

const (
	// ReadNew delivers entries not yet delivered to the group.
	ReadNew ReadMethod = "new"
	// ReadPending re-delivers this consumer's unacknowledged entries first,
	// then switches to new entries.
	ReadPending ReadMethod = "pending"
)

// ConsumeOptions configures a single consume loop.
type ConsumeOptions struct {
	AutoAck bool          // Acknowledge entries as they are delivered
	Method  ReadMethod    // Defaults to ReadNew
	Block   time.Duration // Overrides the queue block timeout when > 0
}

// Queue is a Redis Streams message queue with per-channel streams.
type Queue struct {
	client StreamClient
	opts   Options
	logger *zap.Logger
}

// New creates a Queue. A nil logger defaults to zap.NewNop().
func New(client StreamClient, opts Options, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, opts: opts.withDefaults(), logger: logger}
}

// Group returns the configured consumer group name.
func (q *Queue) Group() string { return q.opts.Group }

// Key returns the stream key for a channel.
func (q *Queue) Key(channel string) string { return q.opts.Prefix + channel }

// EnsureGroup creates the channel's consumer group at the configured start
// position, creating the stream if needed. An existing group is not an error.
func (q *Queue) EnsureGroup(ctx context.Context, channel string) error {
	err := q.client.XGroupCreateMkStream(ctx, q.Key(channel), q.opts.Group, q.opts.StartID)
	if err != nil && !isGroupExistsError(err) {
		return apperr.Wrap(apperr.KindTransport, "creating consumer group", err)
	}
	return nil
}

// isGroupExistsError checks if the error indicates the group already exists.
func isGroupExistsError(err error) bool {
	// Redis returns "BUSYGROUP Consumer Group name already exists"
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

// isNoGroupError checks for reads against a group that does not exist yet,
// e.g. after the stream key expired between sends.
func isNoGroupError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "NOGROUP")
}

// Send encodes data as a compact JSON document in a single "data" field and
// appends it to the channel stream, capping the stream length and refreshing
// the key TTL. It returns the new entry ID.
func (q *Queue) Send(ctx context.Context, channel string, data map[string]any) (string, error) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "encoding message", err)
	}

	key := q.Key(channel)
	id, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: q.opts.MaxLen,
		Approx: true,
		Values: map[string]any{"data": string(encoded)},
	})
	if err != nil {
		return "", apperr.Wrap(apperr.KindTransport, "appending to stream", err)
	}

	if q.opts.TTL > 0 {
		if _, err := q.client.Expire(ctx, key, q.opts.TTL); err != nil {
			q.logger.Warn("failed to refresh stream TTL",
				zap.String("channel", channel), zap.Error(err))
		}
	}
	return id, nil
}

// Broadcast sends a typed event to all channel subscribers. The payload keys
// are merged into one flat object with the "type" key, type winning on
// conflict.
func (q *Queue) Broadcast(ctx context.Context, channel, eventType string, payload map[string]any) (string, error) {
	data := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		data[k] = v
	}
	data["type"] = eventType
	return q.Send(ctx, channel, data)
}

// Ack acknowledges delivered entries for the queue's consumer group.
func (q *Queue) Ack(ctx context.Context, channel string, ids ...string) error {
	_, err := q.client.XAck(ctx, q.Key(channel), q.opts.Group, ids...)
	return apperr.Wrap(apperr.KindTransport, "acknowledging messages", err)
}

// Consume reads the channel as the given consumer until ctx is cancelled.
// Decoded messages arrive on the first channel; a terminal failure arrives on
// the second, after which both channels are closed. Transient read errors are
// retried with backoff and do not terminate the loop.
func (q *Queue) Consume(ctx context.Context, channel, consumer string, opts ConsumeOptions) (<-chan Message, <-chan error) {
	return q.startConsume(ctx, channel, consumer, opts, nil)
}

// ConsumeWithDisconnectCheck behaves like Consume but polls the disconnected
// predicate between short blocking reads and stops once it reports true. On
// exit the consumer is always removed from the group so crashed or departed
// subscribers do not accumulate.
func (q *Queue) ConsumeWithDisconnectCheck(ctx context.Context, channel, consumer string, disconnected func() bool, opts ConsumeOptions) (<-chan Message, <-chan error) {
	if disconnected == nil {
		disconnected = func() bool { return false }
	}
	return q.startConsume(ctx, channel, consumer, opts, disconnected)
}

func (q *Queue) startConsume(ctx context.Context, channel, consumer string, opts ConsumeOptions, disconnected func() bool) (<-chan Message, <-chan error) {
	msgs := make(chan Message, q.opts.ReadCount)
	errs := make(chan error, 1)

	go func() {
		defer close(errs)
		defer close(msgs)
		if disconnected != nil {
			defer q.removeConsumer(channel, consumer)
		}
		if err := q.consumeLoop(ctx, channel, consumer, opts, disconnected, msgs); err != nil {
			errs <- err
		}
	}()

	return msgs, errs
}

func (q *Queue) consumeLoop(ctx context.Context, channel, consumer string, opts ConsumeOptions, disconnected func() bool, msgs chan<- Message) error {
	if err := q.EnsureGroup(ctx, channel); err != nil {
		return err
	}

	key := q.Key(channel)

	block := q.opts.Block
	if disconnected != nil {
		block = disconnectPoll
	}
	if opts.Block > 0 {
		block = opts.Block
	}

	// readID ">" asks for entries new to the group. Any concrete ID asks for
	// this consumer's pending entries after that ID; once those drain the
	// loop switches to ">".
	readID := ">"
	if opts.Method == ReadPending {
		readID = "0"
	}

	consecutive := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		if disconnected != nil && disconnected() {
			return nil
		}

		args := &redis.XReadGroupArgs{
			Group:    q.opts.Group,
			Consumer: consumer,
			Streams:  []string{key, readID},
			Count:    q.opts.ReadCount,
			Block:    block,
		}
		streams, err := q.client.XReadGroup(ctx, args)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				// A pending read can come back empty as redis.Nil too.
				if readID != ">" {
					readID = ">"
				}
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			if isNoGroupError(err) {
				if gerr := q.EnsureGroup(ctx, channel); gerr == nil {
					continue
				}
			}
			consecutive++
			if consecutive >= maxConsecutiveErrors {
				return apperr.Wrap(apperr.KindTransport, "reading stream", err)
			}
			q.logger.Warn("stream read failed, backing off",
				zap.String("channel", channel),
				zap.String("consumer", consumer),
				zap.Error(err))
			if !sleepCtx(ctx, errorBackoff) {
				return nil
			}
			continue
		}
		consecutive = 0

		delivered := 0
		for _, stream := range streams {
			for _, raw := range stream.Messages {
				data, derr := decodeEntry(raw)
				if derr != nil {
					q.logger.Warn("skipping undecodable entry",
						zap.String("channel", channel),
						zap.String("id", raw.ID),
						zap.Error(derr))
					// Ack malformed entries so they cannot wedge the group.
					_, _ = q.client.XAck(ctx, key, q.opts.Group, raw.ID)
					continue
				}

				select {
				case msgs <- Message{ID: raw.ID, Data: data}:
					delivered++
					if opts.AutoAck {
						if _, aerr := q.client.XAck(ctx, key, q.opts.Group, raw.ID); aerr != nil {
							q.logger.Warn("failed to ack message",
								zap.String("channel", channel),
								zap.String("id", raw.ID),
								zap.Error(aerr))
						}
					}
				case <-ctx.Done():
					return nil
				}

				if readID != ">" {
					readID = raw.ID
				}
			}
		}

		// Pending history drained, move on to new entries.
		if readID != ">" && delivered == 0 {
			readID = ">"
		}
	}
}

// removeConsumer deregisters the consumer from the channel's group. Runs on a
// fresh context because the consume context is usually already cancelled.
func (q *Queue) removeConsumer(channel, consumer string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := q.client.XGroupDelConsumer(ctx, q.Key(channel), q.opts.Group, consumer); err != nil {
		q.logger.Warn("failed to remove consumer",
			zap.String("channel", channel),
			zap.String("consumer", consumer),
			zap.Error(err))
		return
	}
	q.logger.Debug("removed consumer",
		zap.String("channel", channel),
		zap.String("consumer", consumer))
}

// decodeEntry extracts the JSON document from an entry's "data" field.
func decodeEntry(msg redis.XMessage) (map[string]any, error) {
	raw, ok := msg.Values["data"]
	if !ok {
		return nil, errors.New("entry missing 'data' field")
	}
	str, ok := raw.(string)
	if !ok {
		return nil, errors.New("'data' field is not a string")
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(str), &data); err != nil {
		return nil, err
	}
	return data, nil
}

// sleepCtx sleeps for d unless ctx is done first. Returns false on cancel.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
