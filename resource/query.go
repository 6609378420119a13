package resource

import (
	"context"
	"time"

	"github.com/golang/glog"

	"gitea.kood.tech/petrkubec/matchmaker/querycache"
)

// State is what a view renders: the data (possibly stale), whether a load
// is in flight, and the last error.
type State[T any] struct {
	Data      T         `json:"data"`
	IsLoading bool      `json:"isLoading"`
	Err       error     `json:"-"`
	Stale     bool      `json:"stale"`
	FetchedAt time.Time `json:"fetchedAt"`
}

func stateOf[T any](e querycache.Entry) State[T] {
	s := State[T]{
		IsLoading: e.Status == querycache.StatusPending,
		Stale:     e.Stale,
		FetchedAt: e.FetchedAt,
	}
	if v, ok := e.Data.(T); ok {
		s.Data = v
	}
	if e.Status == querycache.StatusError {
		s.Err = e.Err
	}
	return s
}

// Query is a cached read bound to one cache key.
type Query[T any] struct {
	cache  *querycache.Cache
	key    string
	keyErr error
	load   func(ctx context.Context) (T, error)
}

// NewQuery builds a query for an arbitrary key and loader. Used for derived
// reads that compose several resources.
func NewQuery[T any](cache *querycache.Cache, key string, load func(ctx context.Context) (T, error)) *Query[T] {
	return &Query[T]{cache: cache, key: key, load: load}
}

// Key is the cache key, empty if it could not be derived.
func (q *Query[T]) Key() string {
	return q.key
}

// Fetch reads through the cache.
func (q *Query[T]) Fetch(ctx context.Context) (T, error) {
	if q.keyErr != nil {
		var zero T
		return zero, q.keyErr
	}
	return querycache.FetchAs(ctx, q.cache, q.key, q.load)
}

// State returns the cached state without fetching. A query that was never
// fetched reports the zero State.
func (q *Query[T]) State() State[T] {
	if q.keyErr != nil {
		return State[T]{Err: q.keyErr}
	}
	e, ok := q.cache.Get(q.key)
	if !ok {
		return State[T]{}
	}
	return stateOf[T](e)
}

// Watch fetches the query and streams its state on every transition until
// ctx is done. When the entry is invalidated it is refetched, so consumers
// re-render from notifications instead of polling. Only the latest state is
// guaranteed to be delivered to a slow reader.
func (q *Query[T]) Watch(ctx context.Context) <-chan State[T] {
	out := make(chan State[T], 1)
	if q.keyErr != nil {
		out <- State[T]{Err: q.keyErr}
		close(out)
		return out
	}

	entries, unsubscribe := q.cache.Subscribe(q.key)
	go func() {
		defer close(out)
		defer unsubscribe()

		go q.refresh(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-entries:
				if !ok {
					return
				}
				if e.Stale && e.Status != querycache.StatusPending {
					go q.refresh(ctx)
				}
				s := stateOf[T](e)
				select {
				case out <- s:
				default:
					select {
					case <-out:
					default:
					}
					out <- s
				}
			}
		}
	}()
	return out
}

func (q *Query[T]) refresh(ctx context.Context) {
	if _, err := q.Fetch(ctx); err != nil && ctx.Err() == nil {
		glog.V(1).Infof("[resource] refresh %s: %v", q.key, err)
	}
}
