package datasource

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process Source and Notifier. Rows without an "id" get a
// random UUID on insert. Intended for tests, local development and demos.
type Memory struct {
	mu     sync.RWMutex
	tables map[string][]Row

	subMu       sync.RWMutex
	subscribers map[chan Change]bool
}

// NewMemory creates an empty in-memory source.
func NewMemory() *Memory {
	return &Memory{
		tables:      make(map[string][]Row),
		subscribers: make(map[chan Change]bool),
	}
}

// Seed appends rows to table without emitting change notifications.
func (m *Memory) Seed(table string, rows ...Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		m.tables[table] = append(m.tables[table], cloneRow(r))
	}
}

func (m *Memory) Select(ctx context.Context, table string, columns []string, filters []Filter) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkTable(table); err != nil {
		return nil, err
	}
	if err := ValidateFilters(filters); err != nil {
		return nil, err
	}
	for _, c := range columns {
		if c != "*" && !ValidIdent(c) {
			return nil, invalid(c, "invalid column name")
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []Row{}
	for _, r := range m.tables[table] {
		ok, err := matchAll(r, filters)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, project(r, columns))
		}
	}
	return out, nil
}

func (m *Memory) Insert(ctx context.Context, table string, rows []Row) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkTable(table); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, invalid(table, "nothing to insert")
	}

	for _, r := range rows {
		for col := range r {
			if !ValidIdent(col) {
				return nil, invalid(col, "invalid column name")
			}
		}
	}

	m.mu.Lock()
	// Every id is checked, against the table and the batch, before any row
	// is stored.
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		stored := cloneRow(r)
		if id, ok := stored["id"]; !ok || id == nil || id == "" {
			stored["id"] = uuid.NewString()
		}
		if hasID(m.tables[table], stored["id"]) || hasID(out, stored["id"]) {
			m.mu.Unlock()
			return nil, &RemoteError{
				Message: fmt.Sprintf("duplicate key value violates unique constraint on %s.id", table),
				Code:    "23505",
			}
		}
		out = append(out, stored)
	}
	for i, r := range out {
		m.tables[table] = append(m.tables[table], r)
		out[i] = cloneRow(r)
	}
	m.mu.Unlock()

	for _, r := range out {
		m.publish(Change{Table: table, Type: ChangeInsert, Row: r})
	}
	return out, nil
}

func hasID(rows []Row, id any) bool {
	for _, r := range rows {
		if looseEqual(r["id"], id) {
			return true
		}
	}
	return false
}

func (m *Memory) Update(ctx context.Context, table string, patch Row, filters []Filter) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkWrite(table, filters); err != nil {
		return nil, err
	}
	if len(patch) == 0 {
		return nil, invalid(table, "empty patch")
	}
	for col := range patch {
		if !ValidIdent(col) {
			return nil, invalid(col, "invalid column name")
		}
	}

	m.mu.Lock()
	out := []Row{}
	for _, r := range m.tables[table] {
		ok, err := matchAll(r, filters)
		if err != nil {
			m.mu.Unlock()
			return nil, err
		}
		if !ok {
			continue
		}
		for k, v := range patch {
			r[k] = cloneValue(v)
		}
		out = append(out, cloneRow(r))
	}
	m.mu.Unlock()

	for _, r := range out {
		m.publish(Change{Table: table, Type: ChangeUpdate, Row: r})
	}
	return out, nil
}

func (m *Memory) Delete(ctx context.Context, table string, filters []Filter) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkWrite(table, filters); err != nil {
		return nil, err
	}

	m.mu.Lock()
	kept := m.tables[table][:0:0]
	out := []Row{}
	for _, r := range m.tables[table] {
		ok, err := matchAll(r, filters)
		if err != nil {
			m.mu.Unlock()
			return nil, err
		}
		if ok {
			out = append(out, r)
		} else {
			kept = append(kept, r)
		}
	}
	m.tables[table] = kept
	m.mu.Unlock()

	for _, r := range out {
		m.publish(Change{Table: table, Type: ChangeDelete, Row: r})
	}
	return out, nil
}

// Changes subscribes to every successful write. The channel is buffered;
// a subscriber that falls behind misses notifications and receives a
// ChangeReset instead.
func (m *Memory) Changes(ctx context.Context) (<-chan Change, error) {
	ch := make(chan Change, 64)

	m.subMu.Lock()
	m.subscribers[ch] = true
	m.subMu.Unlock()

	go func() {
		<-ctx.Done()
		m.subMu.Lock()
		delete(m.subscribers, ch)
		close(ch)
		m.subMu.Unlock()
	}()
	return ch, nil
}

func (m *Memory) publish(c Change) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()
	for ch := range m.subscribers {
		select {
		case ch <- c:
		default:
			// Subscriber is behind: replace the oldest pending notification
			// with a reset so nothing is silently lost.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- Change{Type: ChangeReset}:
			default:
			}
		}
	}
}

func matchAll(r Row, filters []Filter) (bool, error) {
	for _, f := range filters {
		ok, err := matchOne(r[f.Column], f)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchOne(v any, f Filter) (bool, error) {
	switch f.Op {
	case OpEq:
		return looseEqual(v, f.Value), nil
	case OpNeq:
		return v != nil && !looseEqual(v, f.Value), nil
	case OpIn:
		for _, want := range f.Value.([]any) {
			if looseEqual(v, want) {
				return true, nil
			}
		}
		return false, nil
	case OpILike:
		s, ok := v.(string)
		if !ok {
			return false, nil
		}
		return likeRegexp(f.Value.(string)).MatchString(s), nil
	case OpGt, OpGte, OpLt, OpLte:
		c, ok := compare(v, f.Value)
		if !ok {
			return false, nil
		}
		switch f.Op {
		case OpGt:
			return c > 0, nil
		case OpGte:
			return c >= 0, nil
		case OpLt:
			return c < 0, nil
		default:
			return c <= 0, nil
		}
	}
	return false, invalid(f.Column, "unknown operator %q", f.Op)
}

func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, fb, ok := numericPair(a, b); ok {
		return fa == fb
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func compare(a, b any) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	if fa, fb, ok := numericPair(a, b); ok {
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	sa, ok1 := a.(string)
	sb, ok2 := b.(string)
	if !ok1 || !ok2 {
		return 0, false
	}
	return strings.Compare(sa, sb), true
}

// numericPair reports both sides as numbers when one is a number and the
// other a number or numeric text, the way Postgres coerces an untyped
// parameter against a numeric column.
func numericPair(a, b any) (float64, float64, bool) {
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	switch {
	case aNum && bNum:
		return fa, fb, true
	case aNum:
		fb, bNum = parseNumber(b)
	case bNum:
		fa, aNum = parseNumber(a)
	default:
		return 0, 0, false
	}
	return fa, fb, aNum && bNum
}

func parseNumber(v any) (float64, bool) {
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f, err == nil
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

func likeRegexp(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("(?is)^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}

func project(r Row, columns []string) Row {
	if len(columns) == 0 || (len(columns) == 1 && columns[0] == "*") {
		return cloneRow(r)
	}
	out := make(Row, len(columns))
	for _, c := range columns {
		if v, ok := r[c]; ok {
			out[c] = cloneValue(v)
		}
	}
	return out
}

func cloneRow(r Row) Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case []any:
		return append([]any(nil), x...)
	case []string:
		return append([]string(nil), x...)
	case map[string]any:
		return map[string]any(cloneRow(Row(x)))
	case Row:
		return cloneRow(x)
	}
	return v
}
