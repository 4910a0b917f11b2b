package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-beacon/internal/ports"
)

func TestLocal_AcquireRelease(t *testing.T) {
	l := NewLocal()

	release, err := l.Acquire(context.Background(), "client-1")
	require.NoError(t, err)
	assert.Equal(t, 1, l.size())

	release()
	release()
	assert.Equal(t, 0, l.size())

	release, err = l.Acquire(context.Background(), "client-1")
	require.NoError(t, err)
	release()
}

func TestLocal_BlocksSameClient(t *testing.T) {
	l := NewLocal()

	release, err := l.Acquire(context.Background(), "client-1")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = l.Acquire(ctx, "client-1")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, ports.ErrLockNotAcquired)
	assert.Equal(t, 1, l.size())
}

func TestLocal_IndependentClients(t *testing.T) {
	l := NewLocal()

	r1, err := l.Acquire(context.Background(), "client-1")
	require.NoError(t, err)
	defer r1()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	r2, err := l.Acquire(ctx, "client-2")
	require.NoError(t, err)
	r2()
}

func TestLocal_MutualExclusion(t *testing.T) {
	l := NewLocal()

	var (
		inside  atomic.Int32
		maxSeen atomic.Int32
		wg      sync.WaitGroup
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), "client-1")
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			for {
				cur := maxSeen.Load()
				if n <= cur || maxSeen.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen.Load())
	assert.Equal(t, 0, l.size())
}
