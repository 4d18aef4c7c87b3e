package stream

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mousehunter-quant/crawler-worker/internal/domain"
)

func newTestConsumer(t *testing.T, queues []string) (*Consumer, *redis.Client, func()) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := New(rdb, "workers", "worker-1", queues, 50*time.Millisecond, time.Minute, 10)
	cleanup := func() {
		_ = rdb.Close()
		mr.Close()
	}
	return c, rdb, cleanup
}

func addTask(t *testing.T, rdb *redis.Client, queue string, task domain.Task) {
	payload, err := json.Marshal(task)
	require.NoError(t, err)
	err = rdb.XAdd(context.Background(), &redis.XAddArgs{
		Stream: queue,
		Values: map[string]interface{}{"task_id": task.TaskID, "body": string(payload)},
	}).Err()
	require.NoError(t, err)
}

func TestConsumer_EnsureGroups_Idempotent(t *testing.T) {
	c, _, cleanup := newTestConsumer(t, []string{"queue:critical", "queue:normal"})
	defer cleanup()

	require.NoError(t, c.EnsureGroups(context.Background()))
	require.NoError(t, c.EnsureGroups(context.Background()))
}

func TestConsumer_Run_DecodesAndDeliversInPriorityOrder(t *testing.T) {
	c, rdb, cleanup := newTestConsumer(t, []string{"queue:critical", "queue:normal"})
	defer cleanup()
	require.NoError(t, c.EnsureGroups(context.Background()))

	addTask(t, rdb, "queue:normal", domain.Task{TaskID: "normal-1", Market: domain.MarketUS})
	addTask(t, rdb, "queue:critical", domain.Task{TaskID: "critical-1", Market: domain.MarketUS})

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan Envelope, 4)

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, out) }()

	var received []Envelope
	for len(received) < 2 {
		select {
		case env := <-out:
			received = append(received, env)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for envelopes")
		}
	}
	cancel()
	<-done

	assert.Equal(t, "critical-1", received[0].Task.TaskID)
	assert.Equal(t, "normal-1", received[1].Task.TaskID)
}

func TestConsumer_Ack_RemovesFromPending(t *testing.T) {
	c, rdb, cleanup := newTestConsumer(t, []string{"queue:critical"})
	defer cleanup()
	require.NoError(t, c.EnsureGroups(context.Background()))
	addTask(t, rdb, "queue:critical", domain.Task{TaskID: "t1", Market: domain.MarketUS})

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan Envelope, 1)
	go func() { _ = c.Run(ctx, out) }()

	var env Envelope
	select {
	case env = <-out:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for envelope")
	}
	cancel()

	require.NoError(t, env.Ack(context.Background()))

	pending, err := rdb.XPendingExt(context.Background(), &redis.XPendingExtArgs{
		Stream: "queue:critical", Group: "workers", Start: "-", End: "+", Count: 10,
	}).Result()
	require.NoError(t, err)
	assert.Empty(t, pending)

	depth, err := c.QueueDepth(context.Background(), "queue:critical")
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth) // XACK doesn't trim the stream itself
}

func TestConsumer_QueueDepth(t *testing.T) {
	c, rdb, cleanup := newTestConsumer(t, []string{"queue:critical"})
	defer cleanup()
	require.NoError(t, c.EnsureGroups(context.Background()))
	addTask(t, rdb, "queue:critical", domain.Task{TaskID: "t1"})
	addTask(t, rdb, "queue:critical", domain.Task{TaskID: "t2"})

	depth, err := c.QueueDepth(context.Background(), "queue:critical")
	require.NoError(t, err)
	assert.Equal(t, int64(2), depth)
}
