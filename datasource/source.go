// Package datasource is the row-oriented view of the remote relational
// backend: select/insert/update/delete with filter predicates, plus an
// optional change feed.
package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Row is one record as column -> value.
type Row map[string]any

// Op is a filter operator.
type Op string

const (
	OpEq    Op = "eq"
	OpNeq   Op = "neq"
	OpGt    Op = "gt"
	OpGte   Op = "gte"
	OpLt    Op = "lt"
	OpLte   Op = "lte"
	OpIn    Op = "in"
	OpILike Op = "ilike"
)

var knownOps = map[Op]bool{
	OpEq: true, OpNeq: true, OpGt: true, OpGte: true,
	OpLt: true, OpLte: true, OpIn: true, OpILike: true,
}

// Filter is a single `column op value` predicate. Filters passed together
// are combined with AND.
type Filter struct {
	Column string
	Op     Op
	Value  any
}

func Eq(column string, value any) Filter  { return Filter{Column: column, Op: OpEq, Value: value} }
func Neq(column string, value any) Filter { return Filter{Column: column, Op: OpNeq, Value: value} }
func Gt(column string, value any) Filter  { return Filter{Column: column, Op: OpGt, Value: value} }
func Gte(column string, value any) Filter { return Filter{Column: column, Op: OpGte, Value: value} }
func Lt(column string, value any) Filter  { return Filter{Column: column, Op: OpLt, Value: value} }
func Lte(column string, value any) Filter { return Filter{Column: column, Op: OpLte, Value: value} }

// In matches rows whose column is any of values.
func In[V any](column string, values ...V) Filter {
	vs := make([]any, len(values))
	for i, v := range values {
		vs[i] = v
	}
	return Filter{Column: column, Op: OpIn, Value: vs}
}

// ILike is a case-insensitive SQL LIKE match (% and _ wildcards).
func ILike(column, pattern string) Filter {
	return Filter{Column: column, Op: OpILike, Value: pattern}
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdent reports whether name can be used as a table or column name.
func ValidIdent(name string) bool {
	return identRe.MatchString(name)
}

// Validate checks the filter shape without touching the backend.
func (f Filter) Validate() error {
	if !ValidIdent(f.Column) {
		return invalid(f.Column, "invalid column name")
	}
	if !knownOps[f.Op] {
		return invalid(f.Column, "unknown operator %q", f.Op)
	}
	switch f.Op {
	case OpIn:
		vs, ok := f.Value.([]any)
		if !ok {
			return invalid(f.Column, "operator in expects a list")
		}
		for _, v := range vs {
			if !scalar(v) {
				return invalid(f.Column, "operator in expects scalar values, got %T", v)
			}
		}
	case OpILike:
		if _, ok := f.Value.(string); !ok {
			return invalid(f.Column, "operator ilike expects a string")
		}
	default:
		if !scalar(f.Value) {
			return invalid(f.Column, "operator %s expects a scalar value, got %T", f.Op, f.Value)
		}
	}
	return nil
}

func scalar(v any) bool {
	switch v.(type) {
	case nil, string, bool, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	}
	return false
}

// ValidateFilters validates every filter in fs.
func ValidateFilters(fs []Filter) error {
	for _, f := range fs {
		if err := f.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Canonical returns a stable serialization of fs, independent of the order
// the filters were given in. Two filter sets that select the same rows by
// the same predicate serialize identically; different predicates never do.
func Canonical(fs []Filter) (string, error) {
	if err := ValidateFilters(fs); err != nil {
		return "", err
	}
	terms := make([]string, 0, len(fs))
	for _, f := range fs {
		v, err := json.Marshal(normalize(f.Value))
		if err != nil {
			return "", invalid(f.Column, "unserializable value: %v", err)
		}
		terms = append(terms, fmt.Sprintf("%s=%s.%s", f.Column, f.Op, v))
	}
	sort.Strings(terms)
	return strings.Join(terms, "&"), nil
}

// normalize widens numeric types so 1, int64(1) and 1.0 serialize the same.
func normalize(v any) any {
	switch x := v.(type) {
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalize(e)
		}
		return out
	default:
		if f, ok := toFloat(v); ok {
			return f
		}
		return v
	}
}

// ChangeType is the kind of a change notification.
type ChangeType string

const (
	ChangeInsert ChangeType = "insert"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
	// ChangeReset means notifications may have been lost; consumers must
	// treat every table as changed.
	ChangeReset ChangeType = "reset"
)

// Change is a real-time notification that a row of Table changed.
type Change struct {
	Table string     `json:"table"`
	Type  ChangeType `json:"type"`
	Row   Row        `json:"row,omitempty"`
}

// Source is the remote relational store.
type Source interface {
	// Select returns the rows of table matching every filter. Empty columns
	// selects all columns.
	Select(ctx context.Context, table string, columns []string, filters []Filter) ([]Row, error)
	// Insert stores rows and returns them as stored.
	Insert(ctx context.Context, table string, rows []Row) ([]Row, error)
	// Update applies patch to the rows matching filters and returns them.
	// An empty filter set is rejected.
	Update(ctx context.Context, table string, patch Row, filters []Filter) ([]Row, error)
	// Delete removes the rows matching filters and returns them. An empty
	// filter set is rejected.
	Delete(ctx context.Context, table string, filters []Filter) ([]Row, error)
}

// Notifier is implemented by sources that publish change notifications.
// The channel is closed when ctx is done or the feed stops.
type Notifier interface {
	Changes(ctx context.Context) (<-chan Change, error)
}

func checkTable(table string) error {
	if !ValidIdent(table) {
		return invalid(table, "invalid table name")
	}
	return nil
}

func checkWrite(table string, filters []Filter) error {
	if err := checkTable(table); err != nil {
		return err
	}
	if len(filters) == 0 {
		return invalid(table, "refusing to modify rows without a filter")
	}
	return ValidateFilters(filters)
}
