package querycache

import "sync"

type subscriber struct {
	ch   chan Entry
	once sync.Once
}

// deliver never blocks. When the buffer is full the oldest pending
// transition is dropped so the latest state always gets through. Only
// called with the cache lock held, so there is a single sender.
func (s *subscriber) deliver(e Entry) {
	select {
	case s.ch <- e:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- e:
	default:
	}
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

// Subscribe registers for every state transition of key: load started,
// resolved, failed, invalidated. If key was already fetched its current
// state is delivered first. The returned func unsubscribes and closes the
// channel; calling it more than once is harmless.
//
// A subscriber that stops reading loses intermediate transitions, never the
// latest one.
func (c *Cache) Subscribe(key string) (<-chan Entry, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &subscriber{ch: make(chan Entry, c.buffer)}
	if c.closed {
		s.close()
		return s.ch, func() {}
	}

	e := c.entryLocked(key)
	e.subs[s] = struct{}{}
	if e.gen > 0 {
		s.deliver(c.snapshotLocked(e))
	}

	unsubscribe := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(e.subs, s)
		s.close()
		// Never fetched and nobody watching: nothing worth keeping.
		if e.gen == 0 && len(e.subs) == 0 && c.entries[key] == e {
			delete(c.entries, key)
		}
	}
	return s.ch, unsubscribe
}

func (c *Cache) notifyLocked(e *entry) {
	if len(e.subs) == 0 {
		return
	}
	snap := c.snapshotLocked(e)
	for s := range e.subs {
		s.deliver(snap)
	}
}
