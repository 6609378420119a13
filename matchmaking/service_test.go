package matchmaking

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitea.kood.tech/petrkubec/matchmaker/datasource"
	"gitea.kood.tech/petrkubec/matchmaker/querycache"
	"gitea.kood.tech/petrkubec/matchmaker/resource"
)

// flakyUsers fails selects against the users table while failing is set and
// counts them.
type flakyUsers struct {
	datasource.Source
	failing     atomic.Bool
	userSelects atomic.Int32
}

func (f *flakyUsers) Select(ctx context.Context, table string, columns []string, filters []datasource.Filter) ([]datasource.Row, error) {
	if table == DefaultTables.Users {
		f.userSelects.Add(1)
		if f.failing.Load() {
			return nil, &datasource.NetworkError{Op: "select", Err: errors.New("connection refused")}
		}
	}
	return f.Source.Select(ctx, table, columns, filters)
}

func seeded() *datasource.Memory {
	mem := datasource.NewMemory()
	mem.Seed(DefaultTables.Users,
		datasource.Row{"id": "u1", "name": "Alice", "skills": []string{"go", "sql"}},
		datasource.Row{"id": "u2", "name": "Bob", "industry": "fintech"},
		datasource.Row{"id": "u3", "name": "Carol"},
	)
	mem.Seed(DefaultTables.Matches,
		datasource.Row{"id": "m1", "user_id": "u1", "matched_user_id": "u2", "matching_score": 87},
	)
	return mem
}

func newService(t *testing.T, src datasource.Source) (*Service, *querycache.Cache, *resource.Registry) {
	t.Helper()
	cache := querycache.New()
	t.Cleanup(cache.Close)
	reg := resource.NewRegistry(cache)
	return NewService(cache, src, reg, Tables{}), cache, reg
}

func TestMatchesForUser(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t, seeded())

	matches, err := svc.Matches.FilteredList(ctx, datasource.Eq("user_id", "u1"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "m1", matches[0].ID)
	assert.Equal(t, 87.0, matches[0].MatchingScore)

	composed, err := svc.MatchesWithProfile(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, composed, 1)
	assert.Equal(t, "m1", composed[0].ID)
	require.NotNil(t, composed[0].MatchedProfile)
	assert.Equal(t, "Bob", composed[0].MatchedProfile.Name)
	assert.Equal(t, "fintech", composed[0].MatchedProfile.Industry)

	none, err := svc.MatchesWithProfile(ctx, "u3")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestDanglingProfileComposesAsNil(t *testing.T) {
	mem := seeded()
	mem.Seed(DefaultTables.Matches,
		datasource.Row{"id": "m2", "user_id": "u1", "matched_user_id": "ghost", "matching_score": 50},
		datasource.Row{"id": "m3", "user_id": "u1", "matching_score": 10},
	)
	svc, _, _ := newService(t, mem)

	composed, err := svc.MatchesWithProfile(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, composed, 3)

	byID := map[string]MatchWithProfile{}
	for _, m := range composed {
		byID[m.ID] = m
	}
	assert.NotNil(t, byID["m1"].MatchedProfile)
	assert.Nil(t, byID["m2"].MatchedProfile)
	assert.Nil(t, byID["m3"].MatchedProfile)
}

func TestProfileLookupFailureDoesNotFailRead(t *testing.T) {
	src := &flakyUsers{Source: seeded()}
	src.failing.Store(true)
	svc, _, _ := newService(t, src)

	composed, err := svc.MatchesWithProfile(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, composed, 1)
	assert.Equal(t, "m1", composed[0].ID)
	assert.Nil(t, composed[0].MatchedProfile)
}

func TestProfileLookupsAreBatched(t *testing.T) {
	mem := seeded()
	mem.Seed(DefaultTables.Matches,
		datasource.Row{"id": "m4", "user_id": "u1", "matched_user_id": "u3", "matching_score": 40},
		datasource.Row{"id": "m5", "user_id": "u1", "matched_user_id": "u2", "matching_score": 20},
	)
	src := &flakyUsers{Source: mem}
	svc, _, _ := newService(t, src)

	composed, err := svc.MatchesWithProfile(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, composed, 3)
	for _, m := range composed {
		assert.NotNil(t, m.MatchedProfile, m.ID)
	}
	assert.Equal(t, int32(1), src.userSelects.Load())
}

func TestMutationsInvalidateComposedRead(t *testing.T) {
	ctx := context.Background()
	svc, cache, _ := newService(t, seeded())

	_, err := svc.MatchesWithProfile(ctx, "u1")
	require.NoError(t, err)

	_, err = svc.Users.Update(ctx, "u2", datasource.Row{"name": "Robert"})
	require.NoError(t, err)
	e, ok := cache.Get("matches-with-profile:u1")
	require.True(t, ok)
	assert.True(t, e.Stale)

	composed, err := svc.MatchesWithProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Robert", composed[0].MatchedProfile.Name)

	_, err = svc.Matches.Create(ctx, Match{UserID: "u1", MatchedUserID: "u3", MatchingScore: 91})
	require.NoError(t, err)
	composed, err = svc.MatchesWithProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, composed, 2)
}

func TestRealtimeChangeInvalidatesMatches(t *testing.T) {
	ctx := context.Background()
	mem := seeded()
	svc, cache, reg := newService(t, mem)

	_, err := svc.Matches.List(ctx)
	require.NoError(t, err)
	_, err = svc.MatchesWithProfile(ctx, "u1")
	require.NoError(t, err)

	listenCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	require.NoError(t, reg.Listen(listenCtx, mem))

	_, err = mem.Update(ctx, DefaultTables.Matches, datasource.Row{"matching_score": 12}, []datasource.Filter{datasource.Eq("id", "m1")})
	require.NoError(t, err)

	for _, key := range []string{"matches:all", `matches:where:user_id=eq."u1"`, "matches-with-profile:u1"} {
		key := key
		assert.Eventually(t, func() bool {
			e, ok := cache.Get(key)
			return ok && e.Stale
		}, time.Second, 5*time.Millisecond, key)
	}
}

func TestDashboard(t *testing.T) {
	ctx := context.Background()
	mem := seeded()
	mem.Seed(DefaultTables.Matches,
		datasource.Row{"id": "m2", "user_id": "u1", "matched_user_id": "u3", "matching_score": 95},
		datasource.Row{"id": "m3", "user_id": "u1", "matched_user_id": "u3", "matching_score": 12},
	)
	svc, _, _ := newService(t, mem)

	d, err := svc.Dashboard(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", d.Profile.Name)
	assert.Equal(t, []string{"go", "sql"}, d.Profile.Skills)
	require.Len(t, d.Matches, 3)
	assert.Equal(t, []string{"m2", "m1", "m3"}, []string{d.Matches[0].ID, d.Matches[1].ID, d.Matches[2].ID})

	_, err = svc.Dashboard(ctx, "nobody")
	assert.ErrorIs(t, err, datasource.ErrNotFound)

	_, err = svc.Dashboard(ctx, "")
	var valErr *datasource.ValidationError
	assert.True(t, errors.As(err, &valErr))
}
