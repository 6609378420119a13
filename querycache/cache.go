// Package querycache is an in-memory query result cache with request
// de-duplication, stale-while-revalidate reads, prefix invalidation and
// per-key subscriptions.
//
// A Cache is created once at process start, handed to everything that reads
// through it, and closed on shutdown. Entries are only ever mutated by the
// Cache's own methods.
package querycache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"golang.org/x/sync/singleflight"
)

// ErrClosed is returned by Fetch after Close.
var ErrClosed = errors.New("querycache: closed")

// Loader produces the value for a key. It runs detached from the
// cancellation of the caller that triggered it.
type Loader func(ctx context.Context) (any, error)

// Cache holds query results by key. The zero value is not usable; use New.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	closed  bool

	group singleflight.Group

	maxAge time.Duration
	buffer int
	now    func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithMaxAge treats ready entries older than d as stale. Zero (the default)
// keeps entries fresh until invalidated.
func WithMaxAge(d time.Duration) Option {
	return func(c *Cache) { c.maxAge = d }
}

// WithSubscriberBuffer sets the channel buffer of each subscription.
func WithSubscriberBuffer(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.buffer = n
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New returns an empty Cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[string]*entry),
		buffer:  16,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the current entry for key without fetching.
func (c *Cache) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || e.gen == 0 {
		return Entry{}, false
	}
	return c.snapshotLocked(e), true
}

// Fetch returns the value for key.
//
// A ready, non-stale entry is returned as is. If a load for key is in flight
// the caller joins it. Otherwise load is started; its outcome is stored and
// broadcast to subscribers. Errors are stored too and are not retried until
// the next Fetch.
//
// If ctx is done before the load resolves Fetch returns ctx.Err(); the load
// keeps running and its result is still cached.
func (c *Cache) Fetch(ctx context.Context, key string, load Loader) (any, error) {
	if load == nil {
		return nil, fmt.Errorf("querycache: nil loader for %q", key)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	e := c.entryLocked(key)
	if e.status == StatusReady && e.flight == "" && !c.staleLocked(e) {
		data := e.data
		c.mu.Unlock()
		glog.V(2).Infof("[cache] hit %s", key)
		return data, nil
	}

	if e.flight == "" {
		e.gen++
		gen := e.gen
		flight := key + "\x00" + strconv.FormatUint(gen, 10)
		loadCtx := context.WithoutCancel(ctx)

		e.flight = flight
		e.flightFn = func() (any, error) {
			return c.run(loadCtx, e, gen, flight, load)
		}
		e.status = StatusPending
		glog.V(2).Infof("[cache] load %s gen=%d", key, gen)
		c.notifyLocked(e)
	} else {
		glog.V(2).Infof("[cache] join %s", key)
	}
	// Called under c.mu: the flight cannot complete (run needs c.mu) until
	// we are registered with it.
	ch := c.group.DoChan(e.flight, e.flightFn)
	c.mu.Unlock()

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// FetchAs is Fetch with a typed loader.
func FetchAs[T any](ctx context.Context, c *Cache, key string, load func(context.Context) (T, error)) (T, error) {
	v, err := c.Fetch(ctx, key, func(ctx context.Context) (any, error) {
		return load(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	t, ok := v.(T)
	if !ok && v != nil {
		var zero T
		return zero, fmt.Errorf("querycache: %q holds %T", key, v)
	}
	return t, nil
}

func (c *Cache) run(ctx context.Context, e *entry, gen uint64, flight string, load Loader) (val any, err error) {
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("querycache: loader for %q panicked: %v", e.key, r)
			}
		}()
		val, err = load(ctx)
	}()

	c.mu.Lock()
	defer c.mu.Unlock()

	if e.flight == flight {
		e.flight = ""
		e.flightFn = nil
	}
	if c.closed {
		return val, err
	}
	// A newer load already landed; never overwrite it with older data.
	if gen <= e.applied {
		glog.V(2).Infof("[cache] drop %s gen=%d (applied=%d)", e.key, gen, e.applied)
		return val, err
	}

	e.applied = gen
	if err != nil {
		e.err = err
	} else {
		e.data = val
		e.err = nil
		e.fetchedAt = c.now()
	}
	switch {
	case e.flight != "":
		e.status = StatusPending
	case err != nil:
		e.status = StatusError
	default:
		e.status = StatusReady
	}
	e.stale = gen <= e.staleGen
	if err != nil {
		glog.V(1).Infof("[cache] %s failed: %v", e.key, err)
	}
	c.notifyLocked(e)
	return val, err
}

// Invalidate marks every entry whose key is prefix, or starts with
// prefix + ":", as stale and returns how many were marked. The empty prefix
// matches every key. Stale entries keep their data; the next Fetch reloads.
// A load in flight for a matching key is superseded: its result is still
// stored but stays stale, and the next Fetch starts a new load.
func (c *Cache) Invalidate(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for key, e := range c.entries {
		if e.gen == 0 || !matchPrefix(key, prefix) {
			continue
		}
		e.stale = true
		if e.flight != "" {
			e.staleGen = e.gen
			e.flight = ""
			e.flightFn = nil
		}
		n++
		c.notifyLocked(e)
	}
	if n > 0 {
		glog.V(2).Infof("[cache] invalidated %d entries under %q", n, prefix)
	}
	return n
}

func matchPrefix(key, prefix string) bool {
	return prefix == "" || key == prefix || strings.HasPrefix(key, prefix+":")
}

// Close drops every entry and closes every subscription. Fetch returns
// ErrClosed afterwards.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	for key, e := range c.entries {
		for s := range e.subs {
			s.close()
		}
		delete(c.entries, key)
	}
}

func (c *Cache) entryLocked(key string) *entry {
	e, ok := c.entries[key]
	if !ok {
		e = &entry{key: key, subs: make(map[*subscriber]struct{})}
		c.entries[key] = e
	}
	return e
}

func (c *Cache) staleLocked(e *entry) bool {
	if e.stale {
		return true
	}
	return c.maxAge > 0 && e.status == StatusReady && c.now().Sub(e.fetchedAt) > c.maxAge
}

func (c *Cache) snapshotLocked(e *entry) Entry {
	s := e.snapshot()
	s.Stale = c.staleLocked(e)
	return s
}
