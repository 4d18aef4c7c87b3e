// Package stream implements the priority-aware Redis Streams consumer that
// feeds the Worker Supervisor's task channel.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	obsctx "github.com/mousehunter-quant/crawler-worker/internal/observability"

	"github.com/mousehunter-quant/crawler-worker/internal/domain"
)

// Envelope pairs a decoded Task with the ack callback for its originating
// stream entry, so the Worker Supervisor never talks to Redis directly.
type Envelope struct {
	Task  domain.Task
	Queue string
	ID    string
	ack   func(context.Context) error
}

// Ack acknowledges the underlying stream entry (XACK), removing it from the
// consumer group's pending list. The entry itself stays in the stream.
func (e Envelope) Ack(ctx context.Context) error {
	if e.ack == nil {
		return nil
	}
	return e.ack(ctx)
}

// Consumer reads tasks from a tier's priority-ordered list of Redis Streams
// under one consumer group, recovering any entries left pending by a prior
// instance of this same consumer name before entering the live read loop.
type Consumer struct {
	rdb          *redis.Client
	group        string
	consumerName string
	queues       []string // priority order: queues[0] is highest priority

	blockInterval time.Duration
	claimMinIdle  time.Duration
	batchSize     int64
}

// New builds a Consumer. queues must already be ordered from highest to
// lowest priority; that order is preserved in every XREADGROUP call.
func New(rdb *redis.Client, group, consumerName string, queues []string, blockInterval, claimMinIdle time.Duration, batchSize int64) *Consumer {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &Consumer{
		rdb:           rdb,
		group:         group,
		consumerName:  consumerName,
		queues:        queues,
		blockInterval: blockInterval,
		claimMinIdle:  claimMinIdle,
		batchSize:     batchSize,
	}
}

// EnsureGroups creates the consumer group on every queue, tolerating
// BUSYGROUP so repeated calls across worker restarts are safe. MKSTREAM
// creates the stream itself if it doesn't exist yet.
func (c *Consumer) EnsureGroups(ctx context.Context) error {
	for _, q := range c.queues {
		err := c.rdb.XGroupCreateMkStream(ctx, q, c.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("stream.EnsureGroups: queue=%s: %w", q, err)
		}
	}
	return nil
}

// RecoverPending XCLAIMs, per queue, up to 100 entries left pending under
// this consumer's own name by a prior process (e.g. after a crash) that have
// been idle for at least claimMinIdle. It does not hand the claimed entries
// to Run, which reads only new entries (ID ">"), so they remain in the
// group's pending list.
func (c *Consumer) RecoverPending(ctx context.Context) error {
	for _, q := range c.queues {
		pending, err := c.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: q,
			Group:  c.group,
			Start:  "-",
			End:    "+",
			Count:  100,
			Consumer: c.consumerName,
		}).Result()
		if err != nil {
			return fmt.Errorf("stream.RecoverPending: queue=%s: %w", q, err)
		}
		if len(pending) == 0 {
			continue
		}
		ids := make([]string, 0, len(pending))
		for _, p := range pending {
			ids = append(ids, p.ID)
		}
		if _, err := c.rdb.XClaim(ctx, &redis.XClaimArgs{
			Stream:   q,
			Group:    c.group,
			Consumer: c.consumerName,
			MinIdle:  c.claimMinIdle,
			Messages: ids,
		}).Result(); err != nil {
			return fmt.Errorf("stream.RecoverPending: claim queue=%s: %w", q, err)
		}
	}
	return nil
}

// Run reads from the priority-ordered queues until ctx is cancelled,
// pushing each decoded task onto out. Run blocks; the caller should run it
// in its own goroutine and cancel ctx to stop pulling new messages during
// drain.
func (c *Consumer) Run(ctx context.Context, out chan<- Envelope) error {
	lg := obsctx.LoggerFromContext(ctx).With(slog.String("consumer", c.consumerName), slog.String("group", c.group))

	streams := make([]string, 0, len(c.queues)*2)
	streams = append(streams, c.queues...)
	for range c.queues {
		streams = append(streams, ">")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		res, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.consumerName,
			Streams:  streams,
			Count:    c.batchSize,
			Block:    c.blockInterval,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			lg.Error("xreadgroup failed", slog.Any("error", err))
			return fmt.Errorf("stream.Run: xreadgroup: %w", err)
		}

		for _, streamRes := range res {
			for _, msg := range streamRes.Messages {
				env, derr := c.decode(streamRes.Stream, msg)
				if derr != nil {
					lg.Warn("dropping undecodable stream entry", slog.String("id", msg.ID), slog.Any("error", derr))
					_ = c.ack(ctx, streamRes.Stream, msg.ID)
					continue
				}
				select {
				case out <- env:
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}

func (c *Consumer) decode(queue string, msg redis.XMessage) (Envelope, error) {
	raw, ok := msg.Values["body"]
	if !ok {
		return Envelope{}, fmt.Errorf("missing body field")
	}
	str, ok := raw.(string)
	if !ok {
		return Envelope{}, fmt.Errorf("body field is not a string")
	}
	var t domain.Task
	if err := json.Unmarshal([]byte(str), &t); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal task: %w", err)
	}
	msgID := msg.ID
	return Envelope{
		Task:  t,
		Queue: queue,
		ID:    msgID,
		ack:   func(ctx context.Context) error { return c.ack(ctx, queue, msgID) },
	}, nil
}

func (c *Consumer) ack(ctx context.Context, queue, id string) error {
	if err := c.rdb.XAck(ctx, queue, c.group, id).Err(); err != nil {
		return fmt.Errorf("stream.ack: queue=%s id=%s: %w", queue, id, err)
	}
	return nil
}

// QueueDepth returns the number of entries currently in a queue (XLEN), for
// metrics reporting.
func (c *Consumer) QueueDepth(ctx context.Context, queue string) (int64, error) {
	n, err := c.rdb.XLen(ctx, queue).Result()
	if err != nil {
		return 0, fmt.Errorf("stream.QueueDepth: queue=%s: %w", queue, err)
	}
	return n, nil
}

// Queues returns the consumer's priority-ordered queue names.
func (c *Consumer) Queues() []string { return c.queues }

// NewTestEnvelope builds an Envelope with a caller-supplied ack function, for
// tests in other packages that need to observe whether a task was acked
// without standing up a real or fake Redis connection.
func NewTestEnvelope(task domain.Task, ack func(context.Context) error) Envelope {
	return Envelope{Task: task, ack: ack}
}
