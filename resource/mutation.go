package resource

import (
	"context"
	"sync"

	"gitea.kood.tech/petrkubec/matchmaker/datasource"
)

// Mutation is a callable write that tracks its own state. Concurrent calls
// are allowed; IsLoading stays true until all of them return and Data/Err
// reflect the call that finished last.
type Mutation[I, O any] struct {
	run func(ctx context.Context, in I) (O, error)

	mu       sync.Mutex
	inFlight int
	state    State[O]
}

func newMutation[I, O any](run func(ctx context.Context, in I) (O, error)) *Mutation[I, O] {
	return &Mutation[I, O]{run: run}
}

// Do performs the write.
func (m *Mutation[I, O]) Do(ctx context.Context, in I) (O, error) {
	m.mu.Lock()
	m.inFlight++
	m.state.IsLoading = true
	m.mu.Unlock()

	out, err := m.run(ctx, in)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight--
	m.state.IsLoading = m.inFlight > 0
	m.state.Err = err
	if err == nil {
		m.state.Data = out
	}
	return out, err
}

// State returns the mutation's own pending/result state.
func (m *Mutation[I, O]) State() State[O] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// UpdateInput addresses a row by primary key and carries the columns to set.
type UpdateInput struct {
	ID    string
	Patch datasource.Row
}

func (c *Client[T]) CreateMutation() *Mutation[T, T] {
	return newMutation(c.Create)
}

func (c *Client[T]) UpdateMutation() *Mutation[UpdateInput, T] {
	return newMutation(func(ctx context.Context, in UpdateInput) (T, error) {
		return c.Update(ctx, in.ID, in.Patch)
	})
}

func (c *Client[T]) DeleteMutation() *Mutation[string, T] {
	return newMutation(c.Delete)
}
