// Package matchmaking wires the dashboard's tables to the generic resource
// hooks and composes matches with the profiles they point at.
package matchmaking

import (
	"gitea.kood.tech/petrkubec/matchmaker/datasource"
	"gitea.kood.tech/petrkubec/matchmaker/resource"
)

// Cache namespaces of the derived reads.
const (
	MatchesWithProfileNamespace = "matches-with-profile"
	DashboardNamespace          = "dashboard"
)

// Tables names the backing tables.
type Tables struct {
	Users    string
	Matches  string
	Profiles string
	Threads  string
	Filters  string
	Meetings string
}

// DefaultTables are the table names of the hosted backend.
var DefaultTables = Tables{
	Users:    "users_matchmakers",
	Matches:  "matches_matchmaker",
	Profiles: "profiles",
	Threads:  "threads",
	Filters:  "filters",
	Meetings: "meetings",
}

func (t Tables) withDefaults() Tables {
	fill := func(v *string, d string) {
		if *v == "" {
			*v = d
		}
	}
	fill(&t.Users, DefaultTables.Users)
	fill(&t.Matches, DefaultTables.Matches)
	fill(&t.Profiles, DefaultTables.Profiles)
	fill(&t.Threads, DefaultTables.Threads)
	fill(&t.Filters, DefaultTables.Filters)
	fill(&t.Meetings, DefaultTables.Meetings)
	return t
}

var derived = []string{MatchesWithProfileNamespace, DashboardNamespace}

func usersResource(t Tables) resource.Resource[Profile] {
	return resource.Resource[Profile]{Name: "users", Table: t.Users, Dependents: derived}
}

func matchesResource(t Tables) resource.Resource[Match] {
	return resource.Resource[Match]{Name: "matches", Table: t.Matches, Dependents: derived}
}

func rowResource(name, table string) resource.Resource[datasource.Row] {
	return resource.Resource[datasource.Row]{Name: name, Table: table}
}
