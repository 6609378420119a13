package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"gitea.kood.tech/petrkubec/matchmaker/datasource"
	"gitea.kood.tech/petrkubec/matchmaker/matchmaking"
	"gitea.kood.tech/petrkubec/matchmaker/querycache"
	"gitea.kood.tech/petrkubec/matchmaker/resource"
)

type testEnv struct {
	mem    *datasource.Memory
	cache  *querycache.Cache
	reg    *resource.Registry
	svc    *matchmaking.Service
	hub    *Hub
	server *httptest.Server
}

// newTestEnv serves the full router over a seeded in-memory source.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mem := datasource.NewMemory()
	mem.Seed(matchmaking.DefaultTables.Users,
		datasource.Row{"id": "u1", "name": "Alice", "industry": "fintech"},
		datasource.Row{"id": "u2", "name": "Bob", "industry": "healthtech"},
		datasource.Row{"id": "u3", "name": "Carol", "industry": "fintech"},
	)
	mem.Seed(matchmaking.DefaultTables.Matches,
		datasource.Row{"id": "m1", "user_id": "u1", "matched_user_id": "u2", "matching_score": 87},
		datasource.Row{"id": "m2", "user_id": "u1", "matched_user_id": "u3", "matching_score": 92},
	)

	cache := querycache.New()
	reg := resource.NewRegistry(cache)
	svc := matchmaking.NewService(cache, mem, reg, matchmaking.Tables{})
	hub := newHub()
	server := httptest.NewServer(withCORS(newRouter(svc, hub), []string{"http://localhost:5173"}))
	t.Cleanup(func() {
		hub.closeAll()
		server.Close()
		cache.Close()
	})
	return &testEnv{mem: mem, cache: cache, reg: reg, svc: svc, hub: hub, server: server}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.server.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func decode[T any](t *testing.T, b []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(b, &v), string(b))
	return v
}
