package jobqueue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newQueue(t *testing.T) *Queue[int] {
	t.Helper()
	q, err := New[int](zap.NewNop(), nil)
	require.NoError(t, err)
	return q
}

// runUntil starts the consumer and returns a stop function that cancels it
// and waits for Run to return.
func runUntil(t *testing.T, q *Queue[int], h Handler[int]) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx, h) }()
	return func() {
		cancel()
		require.NoError(t, <-done)
	}
}

func TestQueue_FIFOAndSequential(t *testing.T) {
	q := newQueue(t)

	var (
		mu       sync.Mutex
		seen     []int
		inFlight atomic.Int32
		maxSeen  atomic.Int32
		all      = make(chan struct{})
	)
	const n = 50
	stop := runUntil(t, q, func(_ context.Context, job int) error {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)
		if cur > maxSeen.Load() {
			maxSeen.Store(cur)
		}
		time.Sleep(time.Millisecond)

		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, job)
		if len(seen) == n {
			close(all)
		}
		return nil
	})

	for i := range n {
		q.Push(i)
	}
	select {
	case <-all:
	case <-time.After(5 * time.Second):
		t.Fatal("queue did not drain")
	}
	stop()

	require.Len(t, seen, n)
	for i, v := range seen {
		assert.Equal(t, i, v)
	}
	assert.Equal(t, int32(1), maxSeen.Load())
	assert.Zero(t, q.Len())
}

func TestQueue_ContinuesAfterFailureAndPanic(t *testing.T) {
	q := newQueue(t)
	done := make(chan int, 3)

	stop := runUntil(t, q, func(_ context.Context, job int) error {
		defer func() { done <- job }()
		switch job {
		case 1:
			return errors.New("bad job")
		case 2:
			panic("worse job")
		}
		return nil
	})
	defer stop()

	q.Push(1)
	q.Push(2)
	q.Push(3)

	var got []int
	for range 3 {
		select {
		case j := <-done:
			got = append(got, j)
		case <-time.After(5 * time.Second):
			t.Fatal("consumer stopped")
		}
	}
	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	q := newQueue(t)
	const producers, per = 8, 100

	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range per {
				q.Push(p*per + i)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, producers*per, q.Len())

	var count atomic.Int32
	finished := make(chan struct{})
	stop := runUntil(t, q, func(context.Context, int) error {
		if count.Add(1) == producers*per {
			close(finished)
		}
		return nil
	})
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("queue did not drain")
	}
	stop()
}

func TestQueue_RunReturnsOnCancelWithPendingJobs(t *testing.T) {
	q := newQueue(t)
	q.Push(1)
	q.Push(2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, q.Run(ctx, func(context.Context, int) error {
		t.Fatal("handler must not run after shutdown")
		return nil
	}))
	assert.Equal(t, 2, q.Len())
}
