package querycache

import "time"

// Status is the lifecycle state of a cache entry.
type Status int

const (
	StatusPending Status = iota
	StatusReady
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusReady:
		return "ready"
	case StatusError:
		return "error"
	}
	return "unknown"
}

// Entry is a snapshot of one cached query result.
//
// While a refetch is pending, Data still holds the previous value (if any)
// so consumers never flash to empty.
type Entry struct {
	Key         string
	Data        any
	Err         error
	FetchedAt   time.Time
	Status      Status
	Stale       bool
	Subscribers int
}

// HasData reports whether the entry ever resolved successfully.
func (e Entry) HasData() bool {
	return !e.FetchedAt.IsZero()
}

// entry is the mutable record behind an Entry.
type entry struct {
	key       string
	data      any
	err       error
	fetchedAt time.Time
	status    Status
	stale     bool

	// gen numbers loads for this key in start order. applied is the gen of
	// the last result written. staleGen is the highest gen whose result is
	// already outdated by an invalidation.
	gen      uint64
	applied  uint64
	staleGen uint64

	flight   string // singleflight key of the current load, "" when idle
	flightFn func() (any, error)

	subs map[*subscriber]struct{}
}

func (e *entry) snapshot() Entry {
	return Entry{
		Key:         e.key,
		Data:        e.data,
		Err:         e.err,
		FetchedAt:   e.fetchedAt,
		Status:      e.status,
		Stale:       e.stale,
		Subscribers: len(e.subs),
	}
}
