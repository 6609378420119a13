package resource

import (
	"context"
	"fmt"

	"github.com/golang/glog"

	"gitea.kood.tech/petrkubec/matchmaker/datasource"
	"gitea.kood.tech/petrkubec/matchmaker/querycache"
)

// Client reads and writes one resource through the shared cache.
type Client[T any] struct {
	res   Resource[T]
	cache *querycache.Cache
	src   datasource.Source
}

// NewClient binds res to cache and src. If reg is not nil the resource is
// registered there so change notifications for its table invalidate it.
func NewClient[T any](res Resource[T], cache *querycache.Cache, src datasource.Source, reg *Registry) *Client[T] {
	if reg != nil {
		reg.Register(res.Table, append([]string{res.Name}, res.Dependents...)...)
	}
	return &Client[T]{res: res, cache: cache, src: src}
}

// Resource returns the descriptor the client was built with.
func (c *Client[T]) Resource() Resource[T] {
	return c.res
}

// Source returns the data source the client reads from.
func (c *Client[T]) Source() datasource.Source {
	return c.src
}

// List returns every row.
func (c *Client[T]) List(ctx context.Context) ([]T, error) {
	return c.ListQuery().Fetch(ctx)
}

// One returns the row whose primary key is id. It fails with
// datasource.ErrNotFound or datasource.ErrAmbiguousResult unless exactly one
// row matches.
func (c *Client[T]) One(ctx context.Context, id string) (T, error) {
	return c.OneQuery(id).Fetch(ctx)
}

// FilteredList returns the rows matching every filter.
func (c *Client[T]) FilteredList(ctx context.Context, filters ...datasource.Filter) ([]T, error) {
	return c.FilteredQuery(filters...).Fetch(ctx)
}

// ListQuery is the observable handle behind List.
func (c *Client[T]) ListQuery() *Query[[]T] {
	return &Query[[]T]{
		cache: c.cache,
		key:   c.res.ListKey(),
		load: func(ctx context.Context) ([]T, error) {
			rows, err := c.src.Select(ctx, c.res.Table, nil, nil)
			if err != nil {
				return nil, fmt.Errorf("list %s: %w", c.res.Name, err)
			}
			return DecodeRows[T](rows)
		},
	}
}

// OneQuery is the observable handle behind One. An invalid id surfaces on
// the first Fetch.
func (c *Client[T]) OneQuery(id string) *Query[T] {
	key, err := c.res.OneKey(id)
	return &Query[T]{
		cache:  c.cache,
		key:    key,
		keyErr: err,
		load: func(ctx context.Context) (T, error) {
			var zero T
			rows, err := c.src.Select(ctx, c.res.Table, nil, []datasource.Filter{datasource.Eq(c.res.pk(), id)})
			if err != nil {
				return zero, fmt.Errorf("get %s %q: %w", c.res.Name, id, err)
			}
			switch len(rows) {
			case 0:
				return zero, fmt.Errorf("%s %q: %w", c.res.Name, id, datasource.ErrNotFound)
			case 1:
				return DecodeRow[T](rows[0])
			default:
				return zero, fmt.Errorf("%s %q matched %d rows: %w", c.res.Name, id, len(rows), datasource.ErrAmbiguousResult)
			}
		},
	}
}

// FilteredQuery is the observable handle behind FilteredList.
func (c *Client[T]) FilteredQuery(filters ...datasource.Filter) *Query[[]T] {
	key, err := c.res.FilterKey(filters)
	fs := append([]datasource.Filter(nil), filters...)
	return &Query[[]T]{
		cache:  c.cache,
		key:    key,
		keyErr: err,
		load: func(ctx context.Context) ([]T, error) {
			rows, err := c.src.Select(ctx, c.res.Table, nil, fs)
			if err != nil {
				return nil, fmt.Errorf("filter %s: %w", c.res.Name, err)
			}
			return DecodeRows[T](rows)
		},
	}
}

// Create inserts v and returns the stored row. The list and every filtered
// list of the resource are invalidated.
func (c *Client[T]) Create(ctx context.Context, v T) (T, error) {
	var zero T
	row, err := encodeRow(v)
	if err != nil {
		return zero, err
	}
	rows, err := c.src.Insert(ctx, c.res.Table, []datasource.Row{row})
	if err != nil {
		return zero, fmt.Errorf("create %s: %w", c.res.Name, err)
	}
	c.invalidate("")
	if len(rows) != 1 {
		return zero, fmt.Errorf("create %s returned %d rows: %w", c.res.Name, len(rows), datasource.ErrAmbiguousResult)
	}
	return DecodeRow[T](rows[0])
}

// Update applies patch to the row whose primary key is id and returns the
// updated row. The list, filtered lists and the row's own entry are
// invalidated.
func (c *Client[T]) Update(ctx context.Context, id string, patch datasource.Row) (T, error) {
	var zero T
	if _, err := c.res.OneKey(id); err != nil {
		return zero, err
	}
	if _, ok := patch[c.res.pk()]; ok {
		return zero, &datasource.ValidationError{Field: c.res.pk(), Reason: "primary key is immutable"}
	}
	rows, err := c.src.Update(ctx, c.res.Table, patch, []datasource.Filter{datasource.Eq(c.res.pk(), id)})
	if err != nil {
		return zero, fmt.Errorf("update %s %q: %w", c.res.Name, id, err)
	}
	switch len(rows) {
	case 0:
		return zero, fmt.Errorf("update %s %q: %w", c.res.Name, id, datasource.ErrNotFound)
	case 1:
		c.invalidate(id)
		return DecodeRow[T](rows[0])
	default:
		c.invalidate(id)
		return zero, fmt.Errorf("update %s %q touched %d rows: %w", c.res.Name, id, len(rows), datasource.ErrAmbiguousResult)
	}
}

// Delete removes the row whose primary key is id and returns it. Invalidates
// like Update.
func (c *Client[T]) Delete(ctx context.Context, id string) (T, error) {
	var zero T
	if _, err := c.res.OneKey(id); err != nil {
		return zero, err
	}
	rows, err := c.src.Delete(ctx, c.res.Table, []datasource.Filter{datasource.Eq(c.res.pk(), id)})
	if err != nil {
		return zero, fmt.Errorf("delete %s %q: %w", c.res.Name, id, err)
	}
	switch len(rows) {
	case 0:
		return zero, fmt.Errorf("delete %s %q: %w", c.res.Name, id, datasource.ErrNotFound)
	case 1:
		c.invalidate(id)
		return DecodeRow[T](rows[0])
	default:
		c.invalidate(id)
		return zero, fmt.Errorf("delete %s %q removed %d rows: %w", c.res.Name, id, len(rows), datasource.ErrAmbiguousResult)
	}
}

func (c *Client[T]) invalidate(id string) {
	n := c.cache.Invalidate(c.res.ListKey())
	n += c.cache.Invalidate(c.res.filterPrefix())
	if id != "" {
		if key, err := c.res.OneKey(id); err == nil {
			n += c.cache.Invalidate(key)
		}
	}
	for _, dep := range c.res.Dependents {
		n += c.cache.Invalidate(dep)
	}
	glog.V(2).Infof("[resource] %s write invalidated %d entries", c.res.Name, n)
}
