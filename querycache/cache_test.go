package querycache

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

// gatedLoader blocks every call until release is closed.
type gatedLoader struct {
	calls   atomic.Int32
	release chan struct{}
	value   any
	err     error
}

func newGatedLoader(value any) *gatedLoader {
	return &gatedLoader{release: make(chan struct{}), value: value}
}

func (g *gatedLoader) load(ctx context.Context) (any, error) {
	g.calls.Add(1)
	<-g.release
	return g.value, g.err
}

func staticLoader(calls *atomic.Int32, value any) Loader {
	return func(ctx context.Context) (any, error) {
		calls.Add(1)
		return value, nil
	}
}

func waitStatus(t *testing.T, c *Cache, key string, want Status) Entry {
	t.Helper()
	var got Entry
	require.Eventually(t, func() bool {
		e, ok := c.Get(key)
		got = e
		return ok && e.Status == want
	}, time.Second, 5*time.Millisecond, "key %s never reached %s", key, want)
	return got
}

func TestFetchDeduplicatesConcurrentCalls(t *testing.T) {
	c := New()
	g := newGatedLoader("v")

	var wg sync.WaitGroup
	results := make([]any, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.Fetch(context.Background(), "users:all", g.load)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	waitStatus(t, c, "users:all", StatusPending)
	close(g.release)
	wg.Wait()

	assert.Equal(t, int32(1), g.calls.Load())
	for _, v := range results {
		assert.Equal(t, "v", v)
	}
}

func TestFetchServesReadyEntryFromCache(t *testing.T) {
	c := New()
	var calls atomic.Int32

	for i := 0; i < 3; i++ {
		v, err := c.Fetch(context.Background(), "users:u1", staticLoader(&calls, "alice"))
		require.NoError(t, err)
		assert.Equal(t, "alice", v)
	}
	assert.Equal(t, int32(1), calls.Load())

	e, ok := c.Get("users:u1")
	require.True(t, ok)
	assert.Equal(t, StatusReady, e.Status)
	assert.False(t, e.Stale)
	assert.True(t, e.HasData())

	_, ok = c.Get("users:u2")
	assert.False(t, ok)
}

func TestInvalidate(t *testing.T) {
	ctx := context.Background()

	t.Run("next fetch reloads", func(t *testing.T) {
		c := New()
		var calls atomic.Int32
		_, err := c.Fetch(ctx, "users:all", staticLoader(&calls, 1))
		require.NoError(t, err)

		assert.Equal(t, 1, c.Invalidate("users:all"))
		e, _ := c.Get("users:all")
		assert.True(t, e.Stale)
		assert.Equal(t, 1, e.Data)

		_, err = c.Fetch(ctx, "users:all", staticLoader(&calls, 2))
		require.NoError(t, err)
		assert.Equal(t, int32(2), calls.Load())

		e, _ = c.Get("users:all")
		assert.False(t, e.Stale)
		assert.Equal(t, 2, e.Data)
	})

	t.Run("prefix matches whole segments", func(t *testing.T) {
		c := New()
		var calls atomic.Int32
		for _, k := range []string{"users:1", "users:10", "users:all", "users_extra:all", "matches:all"} {
			_, err := c.Fetch(ctx, k, staticLoader(&calls, k))
			require.NoError(t, err)
		}

		assert.Equal(t, 1, c.Invalidate("users:1"))
		e, _ := c.Get("users:10")
		assert.False(t, e.Stale)

		assert.Equal(t, 3, c.Invalidate("users"))
		e, _ = c.Get("users_extra:all")
		assert.False(t, e.Stale)

		assert.Equal(t, 5, c.Invalidate(""))
	})

	t.Run("subscribers keep the stale value while refetching", func(t *testing.T) {
		c := New()
		var calls atomic.Int32
		_, err := c.Fetch(ctx, "users:all", staticLoader(&calls, "old"))
		require.NoError(t, err)
		c.Invalidate("users:all")

		g := newGatedLoader("new")
		done := make(chan struct{})
		go func() {
			defer close(done)
			_, _ = c.Fetch(ctx, "users:all", g.load)
		}()

		e := waitStatus(t, c, "users:all", StatusPending)
		assert.Equal(t, "old", e.Data)
		assert.True(t, e.Stale)

		close(g.release)
		<-done
		e, _ = c.Get("users:all")
		assert.Equal(t, StatusReady, e.Status)
		assert.Equal(t, "new", e.Data)
		assert.False(t, e.Stale)
	})
}

func TestLoaderErrorsAreTerminalUntilNextFetch(t *testing.T) {
	c := New()
	boom := errors.New("boom")
	var calls atomic.Int32
	failing := func(ctx context.Context) (any, error) {
		calls.Add(1)
		return nil, boom
	}

	_, err := c.Fetch(context.Background(), "matches:all", failing)
	assert.ErrorIs(t, err, boom)

	e, ok := c.Get("matches:all")
	require.True(t, ok)
	assert.Equal(t, StatusError, e.Status)
	assert.ErrorIs(t, e.Err, boom)

	// Nothing retries on its own.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	v, err := c.Fetch(context.Background(), "matches:all", staticLoader(&calls, "ok"))
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, int32(2), calls.Load())

	e, _ = c.Get("matches:all")
	assert.Equal(t, StatusReady, e.Status)
	assert.NoError(t, e.Err)
}

func TestLoaderPanicBecomesError(t *testing.T) {
	c := New()
	_, err := c.Fetch(context.Background(), "k", func(ctx context.Context) (any, error) {
		panic("kaboom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")

	e, _ := c.Get("k")
	assert.Equal(t, StatusError, e.Status)
}

func TestNewerLoadWinsOverOlderLoad(t *testing.T) {
	c := New()
	ctx := context.Background()

	older := newGatedLoader("older")
	olderDone := make(chan any, 1)
	go func() {
		v, _ := c.Fetch(ctx, "matches:all", older.load)
		olderDone <- v
	}()
	waitStatus(t, c, "matches:all", StatusPending)
	require.Eventually(t, func() bool { return older.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	// A mutation lands while the first load is in flight.
	c.Invalidate("matches")

	newer := newGatedLoader("newer")
	newerDone := make(chan any, 1)
	go func() {
		v, _ := c.Fetch(ctx, "matches:all", newer.load)
		newerDone <- v
	}()
	require.Eventually(t, func() bool { return newer.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	close(newer.release)
	assert.Equal(t, "newer", <-newerDone)
	e := waitStatus(t, c, "matches:all", StatusReady)
	assert.Equal(t, "newer", e.Data)

	close(older.release)
	assert.Equal(t, "older", <-olderDone, "the older caller still gets its own result")

	e, _ = c.Get("matches:all")
	assert.Equal(t, "newer", e.Data)
	assert.False(t, e.Stale)
}

func TestSupersededLoadStaysStale(t *testing.T) {
	c := New()
	ctx := context.Background()

	g := newGatedLoader("v1")
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Fetch(ctx, "users:all", g.load)
	}()
	waitStatus(t, c, "users:all", StatusPending)
	c.Invalidate("users:all")
	close(g.release)
	<-done

	e, _ := c.Get("users:all")
	assert.Equal(t, StatusReady, e.Status)
	assert.Equal(t, "v1", e.Data)
	assert.True(t, e.Stale)

	var calls atomic.Int32
	_, err := c.Fetch(ctx, "users:all", staticLoader(&calls, "v2"))
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCancelledCallerDoesNotCancelLoad(t *testing.T) {
	c := New()
	ctx, cancel := context.WithCancel(context.Background())

	release := make(chan struct{})
	var loadErr atomic.Value
	load := func(lctx context.Context) (any, error) {
		<-release
		if err := lctx.Err(); err != nil {
			loadErr.Store(err)
		}
		return "v", nil
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Fetch(ctx, "users:u1", load)
		errCh <- err
	}()
	waitStatus(t, c, "users:u1", StatusPending)

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	close(release)
	e := waitStatus(t, c, "users:u1", StatusReady)
	assert.Equal(t, "v", e.Data)
	assert.Nil(t, loadErr.Load())
}

func TestSubscribe(t *testing.T) {
	c := New()
	ctx := context.Background()

	ch, unsubscribe := c.Subscribe("users:all")

	e, ok := c.Get("users:all")
	assert.False(t, ok, "subscribing must not create a visible entry")
	assert.Equal(t, Entry{}, e)

	var calls atomic.Int32
	_, err := c.Fetch(ctx, "users:all", staticLoader(&calls, []string{"u1"}))
	require.NoError(t, err)

	first := <-ch
	assert.Equal(t, StatusPending, first.Status)
	assert.Equal(t, 1, first.Subscribers)
	second := <-ch
	assert.Equal(t, StatusReady, second.Status)
	assert.Equal(t, []string{"u1"}, second.Data)

	c.Invalidate("users")
	third := <-ch
	assert.True(t, third.Stale)
	assert.Equal(t, []string{"u1"}, third.Data)

	unsubscribe()
	unsubscribe()
	_, open := <-ch
	assert.False(t, open)

	// Late subscribers get the current state straight away.
	late, stop := c.Subscribe("users:all")
	defer stop()
	current := <-late
	assert.True(t, current.Stale)
}

func TestUnsubscribeDropsUnfetchedEntry(t *testing.T) {
	c := New()
	entries := func() int {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.entries)
	}

	_, stopA := c.Subscribe("dashboard:nobody")
	_, stopB := c.Subscribe("dashboard:nobody")
	assert.Equal(t, 1, entries())
	stopA()
	assert.Equal(t, 1, entries(), "still watched")
	stopB()
	assert.Equal(t, 0, entries())

	// Fetched entries stay cached after the last subscriber leaves.
	ch, stop := c.Subscribe("users:all")
	var calls atomic.Int32
	_, err := c.Fetch(context.Background(), "users:all", staticLoader(&calls, "v"))
	require.NoError(t, err)
	stop()
	for range ch {
	}
	_, ok := c.Get("users:all")
	assert.True(t, ok)
	assert.Equal(t, 1, entries())
}

func TestSlowSubscriberGetsLatestState(t *testing.T) {
	c := New(WithSubscriberBuffer(1))
	ch, stop := c.Subscribe("k")
	defer stop()

	var calls atomic.Int32
	for i := 0; i < 5; i++ {
		c.Invalidate("k")
		_, err := c.Fetch(context.Background(), "k", staticLoader(&calls, i))
		require.NoError(t, err)
	}

	latest := <-ch
	assert.Equal(t, StatusReady, latest.Status)
	assert.Equal(t, 4, latest.Data)
}

func TestMaxAge(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c := New(WithMaxAge(time.Minute), WithClock(func() time.Time { return now }))
	var calls atomic.Int32

	_, err := c.Fetch(context.Background(), "k", staticLoader(&calls, 1))
	require.NoError(t, err)
	_, _ = c.Fetch(context.Background(), "k", staticLoader(&calls, 1))
	assert.Equal(t, int32(1), calls.Load())

	now = now.Add(2 * time.Minute)
	e, _ := c.Get("k")
	assert.True(t, e.Stale)

	_, _ = c.Fetch(context.Background(), "k", staticLoader(&calls, 2))
	assert.Equal(t, int32(2), calls.Load())
}

func TestClose(t *testing.T) {
	c := New()
	ch, stop := c.Subscribe("k")
	c.Close()
	c.Close()

	_, open := <-ch
	assert.False(t, open)
	stop()

	_, err := c.Fetch(context.Background(), "k", func(ctx context.Context) (any, error) { return 1, nil })
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFetchAs(t *testing.T) {
	c := New()
	v, err := FetchAs(context.Background(), c, "k", func(ctx context.Context) ([]int, error) {
		return []int{1, 2}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, v)

	_, err = FetchAs(context.Background(), c, "k", func(ctx context.Context) (string, error) {
		return "x", nil
	})
	assert.Error(t, err, "cached value has a different type")
}
