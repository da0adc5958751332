package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPermitPool_AcquireRelease(t *testing.T) {
	p := NewPermitPool(2)
	ctx := context.Background()

	assert.Equal(t, 2, p.Capacity())
	assert.Equal(t, 2, p.Available())

	require.NoError(t, p.Acquire(ctx))
	require.NoError(t, p.Acquire(ctx))
	assert.Equal(t, 0, p.Available())

	p.Release()
	assert.Equal(t, 1, p.Available())
	p.Release()
	assert.Equal(t, 2, p.Available())

	assert.Equal(t, int64(2), p.Peak())
	assert.Equal(t, int64(2), p.Acquired())
}

func TestPermitPool_MinimumSize(t *testing.T) {
	assert.Equal(t, 1, NewPermitPool(0).Capacity())
	assert.Equal(t, 1, NewPermitPool(-3).Capacity())
}

func TestPermitPool_AcquireHonoursContext(t *testing.T) {
	p := NewPermitPool(1)
	require.NoError(t, p.Acquire(context.Background()))
	defer p.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := p.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int64(1), p.Acquired())
}

func TestPermitPool_BoundsConcurrency(t *testing.T) {
	const size = 3
	p := NewPermitPool(size)
	ctx := context.Background()

	var (
		mu      sync.Mutex
		current int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, p.Acquire(ctx))
			defer p.Release()

			mu.Lock()
			current++
			maxSeen = max(maxSeen, current)
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			current--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, maxSeen, size)
	assert.LessOrEqual(t, p.Peak(), int64(size))
	assert.Equal(t, size, p.Available())
}
