package ocrpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	text   string
	err    error
	closed atomic.Bool
}

func (e *fakeEngine) Recognize(ctx context.Context, image []byte) (string, error) {
	return e.text, e.err
}

func (e *fakeEngine) Close() error {
	e.closed.Store(true)
	return nil
}

func fakeFactory(text string) EngineFactory {
	return func() (Engine, error) {
		return &fakeEngine{text: text}, nil
	}
}

func TestInitializeIdempotent(t *testing.T) {
	var created atomic.Int64
	pool := New(2, func() (Engine, error) {
		created.Add(1)
		return &fakeEngine{}, nil
	})

	ctx := context.Background()
	require.NoError(t, pool.Initialize(ctx))
	require.NoError(t, pool.Initialize(ctx))
	require.EqualValues(t, 2, created.Load())
	require.NoError(t, pool.Shutdown())
}

func TestAcquireBeforeInitialize(t *testing.T) {
	pool := New(1, fakeFactory("X"))
	_, err := pool.Acquire(context.Background())
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestEngineCreationRetried(t *testing.T) {
	var tries atomic.Int64
	pool := New(1, func() (Engine, error) {
		if tries.Add(1) < 3 {
			return nil, fmt.Errorf("transient init failure")
		}
		return &fakeEngine{}, nil
	})
	require.NoError(t, pool.Initialize(context.Background()))
	require.EqualValues(t, 3, tries.Load())
	require.NoError(t, pool.Shutdown())
}

func TestInitializeFailsWithZeroEngines(t *testing.T) {
	pool := New(3, func() (Engine, error) {
		return nil, fmt.Errorf("no tessdata")
	})
	require.Error(t, pool.Initialize(context.Background()))
}

func TestMutualExclusion(t *testing.T) {
	const poolSize = 3
	const acquirers = 16

	pool := New(poolSize, fakeFactory("AB3D"))
	ctx := context.Background()
	require.NoError(t, pool.Initialize(ctx))
	defer pool.Shutdown()

	var inFlight atomic.Int64
	var maxInFlight atomic.Int64
	var served atomic.Int64

	wg := sync.WaitGroup{}
	for i := 0; i < acquirers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			slot, err := pool.Acquire(ctx)
			if err != nil {
				t.Error(err)
				return
			}

			current := inFlight.Add(1)
			for {
				max := maxInFlight.Load()
				if current <= max || maxInFlight.CompareAndSwap(max, current) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inFlight.Add(-1)
			served.Add(1)

			pool.Release(slot)
		}()
	}
	wg.Wait()

	require.LessOrEqual(t, maxInFlight.Load(), int64(poolSize))
	require.EqualValues(t, acquirers, served.Load())
}

func TestReleaseForeignSlotNoop(t *testing.T) {
	ctx := context.Background()

	pool := New(1, fakeFactory("X"))
	require.NoError(t, pool.Initialize(ctx))
	defer pool.Shutdown()

	other := New(1, fakeFactory("Y"))
	require.NoError(t, other.Initialize(ctx))
	defer other.Shutdown()

	slot, err := other.Acquire(ctx)
	require.NoError(t, err)

	// must not inject the foreign slot into pool's idle set
	pool.Release(slot)
	pool.Release(nil)

	first, err := pool.Acquire(ctx)
	require.NoError(t, err)

	acquireCtx, cancel := context.WithTimeout(ctx, time.Millisecond*50)
	defer cancel()
	_, err = pool.Acquire(acquireCtx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	pool.Release(first)
	other.Release(slot)
}

func TestDoubleReleaseDoesNotDuplicateSlot(t *testing.T) {
	ctx := context.Background()
	pool := New(1, fakeFactory("X"))
	require.NoError(t, pool.Initialize(ctx))
	defer pool.Shutdown()

	slot, err := pool.Acquire(ctx)
	require.NoError(t, err)
	pool.Release(slot)
	pool.Release(slot)

	_, err = pool.Acquire(ctx)
	require.NoError(t, err)

	acquireCtx, cancel := context.WithTimeout(ctx, time.Millisecond*50)
	defer cancel()
	_, err = pool.Acquire(acquireCtx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestShutdownDisposesAndResets(t *testing.T) {
	var engines []*fakeEngine
	pool := New(2, func() (Engine, error) {
		e := &fakeEngine{}
		engines = append(engines, e)
		return e, nil
	})

	ctx := context.Background()
	require.NoError(t, pool.Initialize(ctx))
	require.NoError(t, pool.Shutdown())

	require.Len(t, engines, 2)
	for _, e := range engines {
		require.True(t, e.closed.Load())
	}

	_, err := pool.Acquire(ctx)
	require.ErrorIs(t, err, ErrNotInitialized)

	// re-initialization brings the pool back
	require.NoError(t, pool.Initialize(ctx))
	slot, err := pool.Acquire(ctx)
	require.NoError(t, err)
	pool.Release(slot)
	require.NoError(t, pool.Shutdown())
}

func TestRecognizeRecordsStats(t *testing.T) {
	ctx := context.Background()

	pool := New(1, func() (Engine, error) {
		return &fakeEngine{text: "AB3D"}, nil
	})
	require.NoError(t, pool.Initialize(ctx))
	defer pool.Shutdown()

	text, err := pool.Recognize(ctx, []byte("image"))
	require.NoError(t, err)
	require.Equal(t, "AB3D", text)

	failing := New(1, func() (Engine, error) {
		return &fakeEngine{err: fmt.Errorf("recognition failed")}, nil
	})
	require.NoError(t, failing.Initialize(ctx))
	defer failing.Shutdown()

	_, err = failing.Recognize(ctx, []byte("image"))
	require.Error(t, err)

	stats := pool.Stats()
	require.EqualValues(t, 1, stats.Requests)
	require.EqualValues(t, 1, stats.Successes)
	require.EqualValues(t, 0, stats.Failures)

	stats = failing.Stats()
	require.EqualValues(t, 1, stats.Requests)
	require.EqualValues(t, 1, stats.Failures)
}
