package gate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSemaphore_AcquireRelease(t *testing.T) {
	s := NewSemaphore(2)
	ctx := context.Background()

	rel1, err := s.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, s.InUse())

	rel2, err := s.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, s.InUse())

	rel1()
	assert.Equal(t, 1, s.InUse())
	rel2()
	assert.Equal(t, 0, s.InUse())
}

func TestSemaphore_AcquireBlocksUntilCancelled(t *testing.T) {
	s := NewSemaphore(1)
	rel, err := s.Acquire(context.Background())
	require.NoError(t, err)
	defer rel()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = s.Acquire(ctx)
	assert.Error(t, err)
}

func TestSemaphore_FullCapacityThenRelease(t *testing.T) {
	s := NewSemaphore(1)
	rel, err := s.Acquire(context.Background())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		rel2, err := s.Acquire(context.Background())
		require.NoError(t, err)
		rel2()
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	rel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second acquire never unblocked after release")
	}
}

func TestGate_RoutesByProxyFlag(t *testing.T) {
	g := New(1, 2)
	ctx := context.Background()

	relNoProxy, err := g.Acquire(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, g.NoProxyInUse())
	assert.Equal(t, 0, g.ProxyInUse())

	relProxy, err := g.Acquire(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, g.ProxyInUse())

	relNoProxy()
	relProxy()
	assert.Equal(t, 0, g.NoProxyInUse())
	assert.Equal(t, 0, g.ProxyInUse())
}

func TestGate_ConcurrentAcquireRespectsCapacity(t *testing.T) {
	g := New(2, 2)
	var wg sync.WaitGroup
	var mu sync.Mutex
	maxObserved := 0

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rel, err := g.Acquire(context.Background(), false)
			require.NoError(t, err)
			mu.Lock()
			if g.NoProxyInUse() > maxObserved {
				maxObserved = g.NoProxyInUse()
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			rel()
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, maxObserved, g.NoProxyCapacity())
}
