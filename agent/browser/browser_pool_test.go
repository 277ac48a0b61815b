package browser_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xiaoyun172/CS-LLM-house-sub001/agent/browser"
	"github.com/xiaoyun172/CS-LLM-house-sub001/testutil/mocks"
)

func fakeFactory(created *atomic.Int32) browser.PageFactory {
	return func(context.Context) (browser.PageView, error) {
		created.Add(1)
		return mocks.NewFakePageView(), nil
	}
}

func TestBrowserPool_AcquireRelease(t *testing.T) {
	var created atomic.Int32
	pool, err := browser.NewBrowserPool(context.Background(), browser.BrowserPoolConfig{MaxSize: 2, MinIdle: 1}, fakeFactory(&created), zap.NewNop())
	require.NoError(t, err)
	defer pool.Close()
	assert.Equal(t, int32(1), created.Load())

	p1, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	p2, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, p1, p2)
	assert.Equal(t, int32(2), created.Load())

	idle, active, total := pool.Stats()
	assert.Equal(t, 0, idle)
	assert.Equal(t, 2, active)
	assert.Equal(t, 2, total)

	pool.Release(p1)
	p3, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.Same(t, p1, p3, "released page should be reused")
	assert.Equal(t, int32(2), created.Load())
}

func TestBrowserPool_AcquireBlocksUntilRelease(t *testing.T) {
	var created atomic.Int32
	pool, err := browser.NewBrowserPool(context.Background(), browser.BrowserPoolConfig{MaxSize: 1}, fakeFactory(&created), nil)
	require.NoError(t, err)
	defer pool.Close()

	p1, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	got := make(chan browser.PageView, 1)
	go func() {
		p, err := pool.Acquire(context.Background())
		if err == nil {
			got <- p
		}
	}()
	time.Sleep(10 * time.Millisecond)
	pool.Release(p1)

	select {
	case p := <-got:
		assert.Same(t, p1, p)
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by Release")
	}
}

func TestBrowserPool_FactoryError(t *testing.T) {
	boom := errors.New("chrome not found")
	_, err := browser.NewBrowserPool(context.Background(), browser.BrowserPoolConfig{MaxSize: 2, MinIdle: 1},
		func(context.Context) (browser.PageView, error) { return nil, boom }, nil)
	assert.ErrorIs(t, err, boom)
}

func TestBrowserPool_ReleaseAfterClose(t *testing.T) {
	var created atomic.Int32
	pool, err := browser.NewBrowserPool(context.Background(), browser.BrowserPoolConfig{MaxSize: 2}, fakeFactory(&created), nil)
	require.NoError(t, err)

	page, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, pool.Close())

	assert.NotPanics(t, func() { pool.Release(page) })
	assert.True(t, page.(*mocks.FakePageView).IsClosed())

	_, err = pool.Acquire(context.Background())
	assert.ErrorIs(t, err, browser.ErrPoolClosed)
}

func TestBrowserPool_ConcurrentReleaseAndClose(t *testing.T) {
	for iter := 0; iter < 50; iter++ {
		var created atomic.Int32
		pool, err := browser.NewBrowserPool(context.Background(), browser.BrowserPoolConfig{MaxSize: 5}, fakeFactory(&created), nil)
		require.NoError(t, err)

		pages := make([]browser.PageView, 5)
		for i := range pages {
			pages[i], err = pool.Acquire(context.Background())
			require.NoError(t, err)
		}

		var wg sync.WaitGroup
		for _, p := range pages {
			wg.Add(1)
			go func(p browser.PageView) {
				defer wg.Done()
				pool.Release(p)
			}(p)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pool.Close()
		}()
		wg.Wait()
	}
}
