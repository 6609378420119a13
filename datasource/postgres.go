package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/golang/glog"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
)

// Postgres is a Source backed by a PostgreSQL database. Every statement
// returns its rows as row_to_json so results are column-agnostic.
type Postgres struct {
	db *sqlx.DB
}

// NewPostgres wraps an open sqlx connection pool.
func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

// DB exposes the underlying pool (migrations, health checks).
func (p *Postgres) DB() *sqlx.DB {
	return p.db
}

func (p *Postgres) Select(ctx context.Context, table string, columns []string, filters []Filter) ([]Row, error) {
	query, args, err := buildSelect(table, columns, filters)
	if err != nil {
		return nil, err
	}
	return p.query(ctx, "select", query, args)
}

func (p *Postgres) Insert(ctx context.Context, table string, rows []Row) ([]Row, error) {
	query, args, err := buildInsert(table, rows)
	if err != nil {
		return nil, err
	}
	return p.query(ctx, "insert", query, args)
}

func (p *Postgres) Update(ctx context.Context, table string, patch Row, filters []Filter) ([]Row, error) {
	query, args, err := buildUpdate(table, patch, filters)
	if err != nil {
		return nil, err
	}
	return p.query(ctx, "update", query, args)
}

func (p *Postgres) Delete(ctx context.Context, table string, filters []Filter) ([]Row, error) {
	query, args, err := buildDelete(table, filters)
	if err != nil {
		return nil, err
	}
	return p.query(ctx, "delete", query, args)
}

func (p *Postgres) query(ctx context.Context, op, query string, args []any) ([]Row, error) {
	glog.V(3).Infof("[postgres] %s: %s %v", op, query, args)

	var raws []types.JSONText
	if err := p.db.SelectContext(ctx, &raws, query, args...); err != nil {
		return nil, classify(op, err)
	}
	rows := make([]Row, 0, len(raws))
	for _, raw := range raws {
		var r Row
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("decoding %s result: %w", op, err)
		}
		rows = append(rows, r)
	}
	return rows, nil
}

// Helper function to build a `$1, $2, ...` style argument list.
// The first value that cannot be bound is kept in err.
type argList struct {
	args []any
	err  error
}

func (a *argList) add(v any) string {
	sv, err := sqlValue(v)
	if err != nil && a.err == nil {
		a.err = err
	}
	a.args = append(a.args, sv)
	return fmt.Sprintf("$%d", len(a.args))
}

func (a *argList) done(query string) (string, []any, error) {
	if a.err != nil {
		return "", nil, a.err
	}
	return query, a.args, nil
}

// sqlValue adapts Go values lib/pq cannot bind directly. Slices become
// Postgres arrays and maps become JSON documents.
func sqlValue(v any) (any, error) {
	switch x := v.(type) {
	case []string:
		return pq.Array(x), nil
	case []any:
		if ss, ok := stringSlice(x); ok {
			return pq.Array(ss), nil
		}
		if fs, ok := floatSlice(x); ok {
			return pq.Array(fs), nil
		}
		return jsonValue(x)
	case map[string]any, Row:
		return jsonValue(x)
	}
	return v, nil
}

func jsonValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("value cannot be encoded as JSON: %v", err)}
	}
	return string(b), nil
}

func stringSlice(vs []any) ([]string, bool) {
	out := make([]string, len(vs))
	for i, v := range vs {
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		out[i] = s
	}
	return out, true
}

func floatSlice(vs []any) ([]float64, bool) {
	out := make([]float64, len(vs))
	for i, v := range vs {
		f, ok := toFloat(v)
		if !ok {
			return nil, false
		}
		out[i] = f
	}
	return out, true
}

var sqlOps = map[Op]string{
	OpEq: "=", OpNeq: "<>", OpGt: ">", OpGte: ">=", OpLt: "<", OpLte: "<=", OpILike: "ILIKE",
}

func buildWhere(alias string, filters []Filter, a *argList) (string, error) {
	if len(filters) == 0 {
		return "", nil
	}
	if err := ValidateFilters(filters); err != nil {
		return "", err
	}
	conds := make([]string, 0, len(filters))
	for _, f := range filters {
		col := alias + "." + pq.QuoteIdentifier(f.Column)
		switch {
		case f.Op == OpIn:
			conds = append(conds, fmt.Sprintf("%s::text = ANY(%s)", col, a.add(textArray(f.Value.([]any)))))
		case f.Value == nil && f.Op == OpEq:
			conds = append(conds, col+" IS NULL")
		case f.Value == nil && f.Op == OpNeq:
			conds = append(conds, col+" IS NOT NULL")
		default:
			conds = append(conds, fmt.Sprintf("%s %s %s", col, sqlOps[f.Op], a.add(f.Value)))
		}
	}
	return " WHERE " + strings.Join(conds, " AND "), nil
}

// textArray renders IN values as text so uuid, text and numeric columns
// compare uniformly through the ::text cast.
func textArray(vs []any) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		switch x := v.(type) {
		case string:
			out[i] = x
		case float64:
			out[i] = strconv.FormatFloat(x, 'f', -1, 64)
		case float32:
			out[i] = strconv.FormatFloat(float64(x), 'f', -1, 32)
		default:
			out[i] = fmt.Sprint(v)
		}
	}
	return out
}

func buildSelect(table string, columns []string, filters []Filter) (string, []any, error) {
	if err := checkTable(table); err != nil {
		return "", nil, err
	}
	cols := "t.*"
	if len(columns) > 0 && !(len(columns) == 1 && columns[0] == "*") {
		quoted := make([]string, len(columns))
		for i, c := range columns {
			if !ValidIdent(c) {
				return "", nil, invalid(c, "invalid column name")
			}
			quoted[i] = "t." + pq.QuoteIdentifier(c)
		}
		cols = strings.Join(quoted, ", ")
	}
	var a argList
	where, err := buildWhere("t", filters, &a)
	if err != nil {
		return "", nil, err
	}
	query := fmt.Sprintf("SELECT row_to_json(s) FROM (SELECT %s FROM %s AS t%s) AS s",
		cols, pq.QuoteIdentifier(table), where)
	return a.done(query)
}

func buildInsert(table string, rows []Row) (string, []any, error) {
	if err := checkTable(table); err != nil {
		return "", nil, err
	}
	if len(rows) == 0 {
		return "", nil, invalid(table, "nothing to insert")
	}
	colSet := map[string]bool{}
	for _, r := range rows {
		for c := range r {
			if !ValidIdent(c) {
				return "", nil, invalid(c, "invalid column name")
			}
			colSet[c] = true
		}
	}
	if len(colSet) == 0 {
		return "", nil, invalid(table, "rows have no columns")
	}
	cols := make([]string, 0, len(colSet))
	for c := range colSet {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	var a argList
	tuples := make([]string, len(rows))
	for i, r := range rows {
		vals := make([]string, len(cols))
		for j, c := range cols {
			if v, ok := r[c]; ok {
				vals[j] = a.add(v)
			} else {
				vals[j] = "DEFAULT"
			}
		}
		tuples[i] = "(" + strings.Join(vals, ", ") + ")"
	}
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pq.QuoteIdentifier(c)
	}
	query := fmt.Sprintf("INSERT INTO %s AS t (%s) VALUES %s RETURNING row_to_json(t)",
		pq.QuoteIdentifier(table), strings.Join(quoted, ", "), strings.Join(tuples, ", "))
	return a.done(query)
}

func buildUpdate(table string, patch Row, filters []Filter) (string, []any, error) {
	if err := checkWrite(table, filters); err != nil {
		return "", nil, err
	}
	if len(patch) == 0 {
		return "", nil, invalid(table, "empty patch")
	}
	cols := make([]string, 0, len(patch))
	for c := range patch {
		if !ValidIdent(c) {
			return "", nil, invalid(c, "invalid column name")
		}
		cols = append(cols, c)
	}
	sort.Strings(cols)

	var a argList
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = %s", pq.QuoteIdentifier(c), a.add(patch[c]))
	}
	where, err := buildWhere("t", filters, &a)
	if err != nil {
		return "", nil, err
	}
	query := fmt.Sprintf("UPDATE %s AS t SET %s%s RETURNING row_to_json(t)",
		pq.QuoteIdentifier(table), strings.Join(sets, ", "), where)
	return a.done(query)
}

func buildDelete(table string, filters []Filter) (string, []any, error) {
	if err := checkWrite(table, filters); err != nil {
		return "", nil, err
	}
	var a argList
	where, err := buildWhere("t", filters, &a)
	if err != nil {
		return "", nil, err
	}
	query := fmt.Sprintf("DELETE FROM %s AS t%s RETURNING row_to_json(t)", pq.QuoteIdentifier(table), where)
	return a.done(query)
}
