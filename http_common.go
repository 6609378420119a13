package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/golang/glog"

	"gitea.kood.tech/petrkubec/matchmaker/datasource"
	"gitea.kood.tech/petrkubec/matchmaker/querycache"
)

// --- Response helpers ---
func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeErr maps the data layer's error taxonomy to a status code.
func writeErr(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		glog.Warningf("[http] %d: %v", status, err)
	}
	writeError(w, status, err.Error())
}

func errorStatus(err error) int {
	var (
		valErr    *datasource.ValidationError
		remoteErr *datasource.RemoteError
		netErr    *datasource.NetworkError
	)
	switch {
	case errors.Is(err, datasource.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, datasource.ErrAmbiguousResult):
		return http.StatusConflict
	case errors.As(err, &valErr):
		return http.StatusBadRequest
	case errors.As(err, &remoteErr):
		if remoteErr.Code == "23505" {
			return http.StatusConflict
		}
		return http.StatusBadGateway
	case errors.As(err, &netErr):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, querycache.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// parseFilters reads PostgREST style predicates from the query string:
// ?matching_score=gte.80&user_id=eq.<id>&industry=in.(fintech,health)
func parseFilters(q url.Values) ([]datasource.Filter, error) {
	var out []datasource.Filter
	for col, raws := range q {
		for _, raw := range raws {
			op, value, ok := strings.Cut(raw, ".")
			if !ok {
				return nil, &datasource.ValidationError{Field: col, Reason: "expected op.value"}
			}
			f := datasource.Filter{Column: col, Op: datasource.Op(op)}
			switch f.Op {
			case datasource.OpIn:
				if !strings.HasPrefix(value, "(") || !strings.HasSuffix(value, ")") {
					return nil, &datasource.ValidationError{Field: col, Reason: "in expects (a,b,...)"}
				}
				var vs []any
				for _, v := range strings.Split(value[1:len(value)-1], ",") {
					vs = append(vs, filterValue(strings.TrimSpace(v)))
				}
				f.Value = vs
			case datasource.OpILike:
				f.Value = strings.ReplaceAll(value, "*", "%")
			default:
				f.Value = filterValue(value)
			}
			if err := f.Validate(); err != nil {
				return nil, err
			}
			out = append(out, f)
		}
	}
	return out, nil
}

// filterValue keeps query values as text, so "0123" or a phone number stays
// intact. The source coerces text against typed columns.
func filterValue(s string) any {
	if s == "null" {
		return nil
	}
	return s
}
