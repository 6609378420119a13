package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"gitea.kood.tech/petrkubec/matchmaker/datasource"
	"gitea.kood.tech/petrkubec/matchmaker/matchmaking"
	"gitea.kood.tech/petrkubec/matchmaker/resource"
)

// endpoint erases the row type of a resource client so every table can be
// served by the same handlers.
type endpoint interface {
	list(ctx context.Context, filters []datasource.Filter) (any, error)
	one(ctx context.Context, id string) (any, error)
	create(ctx context.Context, body []byte) (any, error)
	update(ctx context.Context, id string, patch datasource.Row) (any, error)
	remove(ctx context.Context, id string) (any, error)
}

type clientEndpoint[T any] struct {
	c *resource.Client[T]
}

func (e clientEndpoint[T]) list(ctx context.Context, filters []datasource.Filter) (any, error) {
	if len(filters) == 0 {
		return e.c.List(ctx)
	}
	return e.c.FilteredList(ctx, filters...)
}

func (e clientEndpoint[T]) one(ctx context.Context, id string) (any, error) {
	return e.c.One(ctx, id)
}

func (e clientEndpoint[T]) create(ctx context.Context, body []byte) (any, error) {
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, &datasource.ValidationError{Reason: "invalid JSON body: " + err.Error()}
	}
	return e.c.Create(ctx, v)
}

func (e clientEndpoint[T]) update(ctx context.Context, id string, patch datasource.Row) (any, error) {
	return e.c.Update(ctx, id, patch)
}

func (e clientEndpoint[T]) remove(ctx context.Context, id string) (any, error) {
	return e.c.Delete(ctx, id)
}

func endpoints(svc *matchmaking.Service) map[string]endpoint {
	return map[string]endpoint{
		"users":    clientEndpoint[matchmaking.Profile]{svc.Users},
		"matches":  clientEndpoint[matchmaking.Match]{svc.Matches},
		"profiles": clientEndpoint[datasource.Row]{svc.Profiles},
		"threads":  clientEndpoint[datasource.Row]{svc.Threads},
		"filters":  clientEndpoint[datasource.Row]{svc.Filters},
		"meetings": clientEndpoint[datasource.Row]{svc.Meetings},
	}
}

const maxBody = 1 << 20

// resourceHandler serves /api/{resource} and /api/{resource}/{id}.
func resourceHandler(eps map[string]endpoint) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		ep, ok := eps[vars["resource"]]
		if !ok {
			writeError(w, http.StatusNotFound, "unknown resource")
			return
		}
		id, hasID := vars["id"]

		var (
			out    any
			err    error
			status = http.StatusOK
		)
		switch {
		case r.Method == http.MethodGet && !hasID:
			var filters []datasource.Filter
			if filters, err = parseFilters(r.URL.Query()); err == nil {
				out, err = ep.list(r.Context(), filters)
			}
		case r.Method == http.MethodGet:
			out, err = ep.one(r.Context(), id)
		case r.Method == http.MethodPost && !hasID:
			var body []byte
			if body, err = io.ReadAll(io.LimitReader(r.Body, maxBody)); err == nil {
				out, err = ep.create(r.Context(), body)
				status = http.StatusCreated
			}
		case r.Method == http.MethodPatch && hasID:
			var patch datasource.Row
			if err = json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&patch); err != nil {
				err = &datasource.ValidationError{Reason: "invalid JSON body: " + err.Error()}
			} else {
				out, err = ep.update(r.Context(), id, patch)
			}
		case r.Method == http.MethodDelete && hasID:
			out, err = ep.remove(r.Context(), id)
		default:
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, status, out)
	}
}
