package resource

import (
	"context"
	"sync"

	"github.com/golang/glog"

	"gitea.kood.tech/petrkubec/matchmaker/datasource"
	"gitea.kood.tech/petrkubec/matchmaker/querycache"
)

// Registry maps tables to the cache namespaces built from them, so that a
// change notification for a table invalidates everything derived from it.
type Registry struct {
	cache *querycache.Cache

	mu      sync.RWMutex
	byTable map[string][]string
}

func NewRegistry(cache *querycache.Cache) *Registry {
	return &Registry{cache: cache, byTable: make(map[string][]string)}
}

// Register adds namespaces to table. Duplicates are ignored.
func (r *Registry) Register(table string, namespaces ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ns := range namespaces {
		if !contains(r.byTable[table], ns) {
			r.byTable[table] = append(r.byTable[table], ns)
		}
	}
}

// Namespaces returns the namespaces registered for table.
func (r *Registry) Namespaces(table string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.byTable[table]...)
}

// Apply invalidates what c affects and returns the number of entries
// marked stale. A reset invalidates the whole cache.
func (r *Registry) Apply(c datasource.Change) int {
	if c.Type == datasource.ChangeReset {
		n := r.cache.Invalidate("")
		glog.Infof("[realtime] reset: invalidated %d entries", n)
		return n
	}
	n := 0
	for _, ns := range r.Namespaces(c.Table) {
		n += r.cache.Invalidate(ns)
	}
	glog.V(2).Infof("[realtime] %s on %s: invalidated %d entries", c.Type, c.Table, n)
	return n
}

// Run applies changes until the channel closes or ctx is done.
func (r *Registry) Run(ctx context.Context, changes <-chan datasource.Change) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-changes:
			if !ok {
				return
			}
			r.Apply(c)
		}
	}
}

// Listen subscribes to n and applies its changes in the background until ctx
// is done.
func (r *Registry) Listen(ctx context.Context, n datasource.Notifier) error {
	changes, err := n.Changes(ctx)
	if err != nil {
		return err
	}
	go r.Run(ctx, changes)
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
