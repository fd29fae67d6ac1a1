package gate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGateBoundsConcurrency(t *testing.T) {
	t.Parallel()

	const limit = 3
	g := New(limit)
	ctx := context.Background()

	var (
		active  atomic.Int64
		peak    atomic.Int64
		wg      sync.WaitGroup
		workers = 20
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, g.Acquire(ctx))
			defer g.Release()

			now := active.Add(1)
			for {
				old := peak.Load()
				if now <= old || peak.CompareAndSwap(old, now) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			active.Add(-1)
		}()
	}
	wg.Wait()

	require.LessOrEqual(t, peak.Load(), int64(limit))
	require.Zero(t, active.Load())
}

func TestGateAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	g := New(1)
	require.NoError(t, g.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := g.Acquire(ctx)
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	g.Release()
	require.NoError(t, g.Acquire(context.Background()))
}

func TestGateFloorsLimit(t *testing.T) {
	t.Parallel()

	require.Equal(t, 1, New(0).Limit())
	require.Equal(t, 1, New(-5).Limit())
	require.Equal(t, 7, New(7).Limit())
}

func TestGateExtraReleaseIsNoop(t *testing.T) {
	t.Parallel()

	g := New(2)
	g.Release()
	g.Release()
	require.NoError(t, g.Acquire(context.Background()))
	require.NoError(t, g.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, g.Acquire(ctx))
}
