package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachedValue_LoadsOnce(t *testing.T) {
	c := NewCachedValue[int](time.Minute)
	var loads atomic.Int32
	loader := func(context.Context) (int, error) {
		return int(loads.Add(1)), nil
	}

	for i := 0; i < 3; i++ {
		v, err := c.GetOrRefresh(context.Background(), loader)
		require.NoError(t, err)
		assert.Equal(t, 1, v)
	}
	assert.Equal(t, int32(1), loads.Load())
}

func TestCachedValue_Expiry(t *testing.T) {
	c := NewCachedValue[string](time.Second)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	calls := 0
	loader := func(context.Context) (string, error) {
		calls++
		return "v", nil
	}

	_, err := c.GetOrRefresh(context.Background(), loader)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Second), c.ExpiresAt())

	now = now.Add(500 * time.Millisecond)
	_, ok := c.Get()
	assert.True(t, ok)

	now = now.Add(time.Second)
	_, ok = c.Get()
	assert.False(t, ok)

	_, err = c.GetOrRefresh(context.Background(), loader)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestCachedValue_Invalidate(t *testing.T) {
	c := NewCachedValue[int](0)
	n := 0
	loader := func(context.Context) (int, error) {
		n++
		return n, nil
	}

	v, _ := c.GetOrRefresh(context.Background(), loader)
	assert.Equal(t, 1, v)

	c.Invalidate()
	_, ok := c.Get()
	assert.False(t, ok)
	assert.True(t, c.ExpiresAt().IsZero())

	v, _ = c.GetOrRefresh(context.Background(), loader)
	assert.Equal(t, 2, v)
}

func TestCachedValue_ErrorNotCached(t *testing.T) {
	c := NewCachedValue[int](time.Minute)
	boom := errors.New("boom")

	_, err := c.GetOrRefresh(context.Background(), func(context.Context) (int, error) {
		return 0, boom
	})
	require.ErrorIs(t, err, boom)

	v, err := c.GetOrRefresh(context.Background(), func(context.Context) (int, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestCachedValue_ConcurrentRefreshCoalesced(t *testing.T) {
	c := NewCachedValue[int](time.Minute)
	var loads atomic.Int32
	release := make(chan struct{})
	loader := func(context.Context) (int, error) {
		loads.Add(1)
		<-release
		return 42, nil
	}

	var wg sync.WaitGroup
	results := make([]int, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrRefresh(context.Background(), loader)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), loads.Load())
	for _, v := range results {
		assert.Equal(t, 42, v)
	}
}

func TestCachedValue_CallerCancelDoesNotAbortLoad(t *testing.T) {
	c := NewCachedValue[int](time.Minute)
	started := make(chan struct{})
	release := make(chan struct{})
	var loaderCanceled atomic.Bool

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.GetOrRefresh(ctx, func(lctx context.Context) (int, error) {
			close(started)
			<-release
			loaderCanceled.Store(lctx.Err() != nil)
			return 9, nil
		})
		done <- err
	}()

	<-started
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	close(release)
	require.Eventually(t, func() bool {
		_, ok := c.Get()
		return ok
	}, time.Second, 5*time.Millisecond)

	v, _ := c.Get()
	assert.Equal(t, 9, v)
	assert.False(t, loaderCanceled.Load())
}

func TestCachedValue_InvalidateDuringLoadDiscardsResult(t *testing.T) {
	c := NewCachedValue[int](time.Minute)
	started := make(chan struct{})
	release := make(chan struct{})

	done := make(chan int, 1)
	go func() {
		v, _ := c.GetOrRefresh(context.Background(), func(context.Context) (int, error) {
			close(started)
			<-release
			return 1, nil
		})
		done <- v
	}()

	<-started
	c.Invalidate()
	close(release)

	assert.Equal(t, 1, <-done)
	_, ok := c.Get()
	assert.False(t, ok)
}
