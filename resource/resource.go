// Package resource binds tables of a datasource.Source to the query cache:
// one generic set of reads and mutations per resource, with cache key
// derivation and post-mutation invalidation in one place.
package resource

import (
	"encoding/json"
	"fmt"
	"strings"

	"gitea.kood.tech/petrkubec/matchmaker/datasource"
)

// Resource describes a table and how its reads are cached.
type Resource[T any] struct {
	// Name is the cache namespace. Every key of this resource starts with
	// Name + ":".
	Name string
	// Table is the backing table.
	Table string
	// PK is the primary key column, "id" when empty.
	PK string
	// Dependents are namespaces of derived reads built from this resource;
	// they are invalidated by every mutation.
	Dependents []string
}

func (r Resource[T]) pk() string {
	if r.PK == "" {
		return "id"
	}
	return r.PK
}

// ListKey is the key of the unfiltered list.
func (r Resource[T]) ListKey() string {
	return r.Name + ":all"
}

// OneKey is the key of a single row. Ids may not contain ":", so a row key
// never shares a segment with the list or filter keys.
func (r Resource[T]) OneKey(id string) (string, error) {
	switch {
	case id == "":
		return "", &datasource.ValidationError{Field: r.pk(), Reason: "empty id"}
	case id == "all", id == "where":
		return "", &datasource.ValidationError{Field: r.pk(), Reason: fmt.Sprintf("reserved id %q", id)}
	case strings.Contains(id, ":"):
		return "", &datasource.ValidationError{Field: r.pk(), Reason: fmt.Sprintf("id %q contains \":\"", id)}
	}
	return r.Name + ":" + id, nil
}

// FilterKey is the key of a filtered list. Filters are serialized
// canonically so the same predicate always maps to the same entry.
func (r Resource[T]) FilterKey(filters []datasource.Filter) (string, error) {
	c, err := datasource.Canonical(filters)
	if err != nil {
		return "", err
	}
	return r.filterPrefix() + ":" + c, nil
}

func (r Resource[T]) filterPrefix() string {
	return r.Name + ":where"
}

// DecodeRow converts a row into T through its JSON field names.
func DecodeRow[T any](row datasource.Row) (T, error) {
	var v T
	b, err := json.Marshal(row)
	if err != nil {
		return v, fmt.Errorf("encoding row: %w", err)
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return v, fmt.Errorf("decoding row into %T: %w", v, err)
	}
	return v, nil
}

// DecodeRows decodes every row, failing on the first that does not fit T.
func DecodeRows[T any](rows []datasource.Row) ([]T, error) {
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		v, err := DecodeRow[T](row)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func encodeRow[T any](v T) (datasource.Row, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding %T: %w", v, err)
	}
	var row datasource.Row
	if err := json.Unmarshal(b, &row); err != nil {
		return nil, &datasource.ValidationError{Reason: fmt.Sprintf("%T does not encode to a row", v)}
	}
	return row, nil
}
