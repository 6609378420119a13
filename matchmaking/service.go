package matchmaking

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/golang/glog"
	"github.com/graph-gophers/dataloader/v7"

	"gitea.kood.tech/petrkubec/matchmaker/datasource"
	"gitea.kood.tech/petrkubec/matchmaker/querycache"
	"gitea.kood.tech/petrkubec/matchmaker/resource"
)

// Service holds one hook client per table plus the composed reads.
type Service struct {
	Users    *resource.Client[Profile]
	Matches  *resource.Client[Match]
	Profiles *resource.Client[datasource.Row]
	Threads  *resource.Client[datasource.Row]
	Filters  *resource.Client[datasource.Row]
	Meetings *resource.Client[datasource.Row]

	cache    *querycache.Cache
	profiles *dataloader.Loader[string, *Profile]
}

// NewService builds the clients over src and registers their tables with reg
// (which may be nil). Empty table names fall back to DefaultTables.
func NewService(cache *querycache.Cache, src datasource.Source, reg *resource.Registry, tables Tables) *Service {
	t := tables.withDefaults()
	s := &Service{
		Users:    resource.NewClient(usersResource(t), cache, src, reg),
		Matches:  resource.NewClient(matchesResource(t), cache, src, reg),
		Profiles: resource.NewClient(rowResource("profiles", t.Profiles), cache, src, reg),
		Threads:  resource.NewClient(rowResource("threads", t.Threads), cache, src, reg),
		Filters:  resource.NewClient(rowResource("filters", t.Filters), cache, src, reg),
		Meetings: resource.NewClient(rowResource("meetings", t.Meetings), cache, src, reg),
		cache:    cache,
	}
	// Results are cached by querycache, not by the loader.
	s.profiles = dataloader.NewBatchedLoader(
		profileBatchFn(src, t.Users),
		dataloader.WithWait[string, *Profile](16*time.Millisecond),
		dataloader.WithCache[string, *Profile](&dataloader.NoCache[string, *Profile]{}),
	)
	return s
}

// profileBatchFn loads every requested profile with one select. Ids with no
// row resolve to nil.
func profileBatchFn(src datasource.Source, table string) dataloader.BatchFunc[string, *Profile] {
	return func(ctx context.Context, keys []string) []*dataloader.Result[*Profile] {
		results := make([]*dataloader.Result[*Profile], len(keys))
		for i := range results {
			results[i] = &dataloader.Result[*Profile]{}
		}
		if len(keys) == 0 {
			return results
		}

		rows, err := src.Select(ctx, table, nil, []datasource.Filter{datasource.In("id", keys...)})
		if err != nil {
			for i := range results {
				results[i].Error = err
			}
			return results
		}
		users, err := resource.DecodeRows[Profile](rows)
		if err != nil {
			for i := range results {
				results[i].Error = err
			}
			return results
		}

		byID := make(map[string]*Profile, len(users))
		for i := range users {
			byID[users[i].ID] = &users[i]
		}
		for i, key := range keys {
			results[i].Data = byID[key]
		}
		glog.V(2).Infof("[matchmaking] batched %d profile lookups, %d found", len(keys), len(byID))
		return results
	}
}

// MatchesWithProfileQuery is the cached read of userID's matches, each joined
// with its matched profile.
func (s *Service) MatchesWithProfileQuery(userID string) (*resource.Query[[]MatchWithProfile], error) {
	if _, err := s.Users.Resource().OneKey(userID); err != nil {
		return nil, err
	}
	key := MatchesWithProfileNamespace + ":" + userID
	return resource.NewQuery(s.cache, key, func(ctx context.Context) ([]MatchWithProfile, error) {
		return s.composeMatches(ctx, userID)
	}), nil
}

// MatchesWithProfile returns userID's matches with their matched profiles. A
// profile that is missing or fails to load leaves MatchedProfile nil; only a
// failure to read the matches themselves is an error.
func (s *Service) MatchesWithProfile(ctx context.Context, userID string) ([]MatchWithProfile, error) {
	q, err := s.MatchesWithProfileQuery(userID)
	if err != nil {
		return nil, err
	}
	return q.Fetch(ctx)
}

func (s *Service) composeMatches(ctx context.Context, userID string) ([]MatchWithProfile, error) {
	matches, err := s.Matches.FilteredList(ctx, datasource.Eq("user_id", userID))
	if err != nil {
		return nil, fmt.Errorf("matches of %q: %w", userID, err)
	}

	thunks := make([]dataloader.Thunk[*Profile], len(matches))
	for i, m := range matches {
		if m.MatchedUserID != "" {
			thunks[i] = s.profiles.Load(ctx, m.MatchedUserID)
		}
	}

	out := make([]MatchWithProfile, len(matches))
	for i, m := range matches {
		out[i].Match = m
		if thunks[i] == nil {
			continue
		}
		p, err := thunks[i]()
		if err != nil {
			glog.Warningf("[matchmaking] profile %s of match %s unavailable: %v", m.MatchedUserID, m.ID, err)
			continue
		}
		if p == nil {
			glog.Warningf("[matchmaking] match %s points at missing profile %s", m.ID, m.MatchedUserID)
			continue
		}
		cp := *p
		out[i].MatchedProfile = &cp
	}
	return out, nil
}

// DashboardQuery is the cached read behind the dashboard page.
func (s *Service) DashboardQuery(userID string) (*resource.Query[Dashboard], error) {
	if _, err := s.Users.Resource().OneKey(userID); err != nil {
		return nil, err
	}
	key := DashboardNamespace + ":" + userID
	return resource.NewQuery(s.cache, key, func(ctx context.Context) (Dashboard, error) {
		return s.loadDashboard(ctx, userID)
	}), nil
}

// Dashboard returns userID's profile and matches, best score first. It fails
// with datasource.ErrNotFound when the user does not exist.
func (s *Service) Dashboard(ctx context.Context, userID string) (Dashboard, error) {
	q, err := s.DashboardQuery(userID)
	if err != nil {
		return Dashboard{}, err
	}
	return q.Fetch(ctx)
}

func (s *Service) loadDashboard(ctx context.Context, userID string) (Dashboard, error) {
	profile, err := s.Users.One(ctx, userID)
	if err != nil {
		return Dashboard{}, err
	}
	matches, err := s.MatchesWithProfile(ctx, userID)
	if err != nil {
		return Dashboard{}, err
	}
	// The composed slice is shared with its own cache entry.
	sorted := make([]MatchWithProfile, len(matches))
	copy(sorted, matches)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MatchingScore > sorted[j].MatchingScore
	})
	return Dashboard{Profile: profile, Matches: sorted}, nil
}
