package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"gitea.kood.tech/petrkubec/matchmaker/datasource"
	"gitea.kood.tech/petrkubec/matchmaker/matchmaking"
)

const SeederVersion = "0.1.0"

const usage = `Matchmaker database seeder.

Fills the users and matches tables with deterministic fake data. The schema
is created by the backend's migrations; start it once before seeding.

Usage:
    db-seeder [--dsn=<dsn>] [--count=<count>] [--matches=<matches>] [--seed=<seed>] [--truncate]
    db-seeder -h | --help
    db-seeder --version

Options:
    -h --help            Show this screen.
    --version            Show version.
    --dsn=<dsn>          Postgres DSN, defaults to $DATABASE_URL.
    --count=<count>      Number of users to create [default: 50].
    --matches=<matches>  Matches per user [default: 5].
    --seed=<seed>        RNG seed (deterministic) [default: 42].
    --truncate           Delete existing users and matches first.`

type cfg struct {
	DSN      string
	Count    int
	Matches  int
	Seed     int64
	Truncate bool
}

func parseArgs(argv []string) (cfg, error) {
	opts, err := docopt.ParseArgs(usage, argv, SeederVersion)
	if err != nil {
		return cfg{}, err
	}
	var c cfg
	c.DSN, _ = opts.String("--dsn")
	if c.DSN == "" {
		c.DSN = os.Getenv("DATABASE_URL")
	}
	if c.Count, err = opts.Int("--count"); err != nil {
		return c, fmt.Errorf("--count: %w", err)
	}
	if c.Matches, err = opts.Int("--matches"); err != nil {
		return c, fmt.Errorf("--matches: %w", err)
	}
	seed, _ := opts.String("--seed")
	if c.Seed, err = strconv.ParseInt(seed, 10, 64); err != nil {
		return c, fmt.Errorf("--seed: %w", err)
	}
	c.Truncate, _ = opts.Bool("--truncate")

	switch {
	case c.DSN == "":
		return c, fmt.Errorf("missing DSN: provide --dsn or set DATABASE_URL")
	case c.Count < 2:
		return c, fmt.Errorf("--count must be at least 2")
	case c.Matches < 0 || c.Matches >= c.Count:
		return c, fmt.Errorf("--matches must be in range 0..%d", c.Count-1)
	}
	return c, nil
}

func main() {
	_ = flag.Set("logtostderr", "true")
	defer glog.Flush()

	c, err := parseArgs(os.Args[1:])
	if err != nil {
		glog.Exit(err)
	}

	db, err := sqlx.Connect("postgres", c.DSN)
	if err != nil {
		glog.Exitf("DB open error: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	tables := matchmaking.DefaultTables
	if c.Truncate {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE %s, %s", tables.Matches, tables.Users)); err != nil {
			glog.Exitf("truncate: %v", err)
		}
		glog.Infof("Truncated %s and %s", tables.Users, tables.Matches)
	}

	r := rand.New(rand.NewSource(c.Seed))
	src := datasource.NewPostgres(db)

	users := generateUsers(r, c.Count)
	if err := insertAll(ctx, src, tables.Users, users); err != nil {
		glog.Exitf("insert users: %v", err)
	}
	glog.Infof("Inserted %d users", len(users))

	matches := generateMatches(r, users, c.Matches)
	if err := insertAll(ctx, src, tables.Matches, matches); err != nil {
		glog.Exitf("insert matches: %v", err)
	}
	glog.Infof("Inserted %d matches", len(matches))
	glog.Info("Seed complete")
}

// insertAll writes rows in batches to stay under the bind parameter limit.
func insertAll(ctx context.Context, src datasource.Source, table string, rows []datasource.Row) error {
	const batch = 100
	for start := 0; start < len(rows); start += batch {
		end := min(start+batch, len(rows))
		if _, err := src.Insert(ctx, table, rows[start:end]); err != nil {
			return fmt.Errorf("rows %d..%d: %w", start, end, err)
		}
	}
	return nil
}

var (
	firstNames = []string{"alex", "sam", "mia", "li", "noah", "olivia", "leo", "emil", "sara", "luca", "milla", "mikko", "eeva", "niklas", "sofia"}
	lastNames  = []string{"korhonen", "virtanen", "nieminen", "laine", "heikkinen", "koski", "maki", "aho", "salmi", "rantanen"}
	companies  = []string{"Northwind AI", "Fjord Labs", "Aurora Data", "Kettle Robotics", "Birch Analytics", "Lumen Health"}
	titles     = []string{"CTO", "Founder", "ML Engineer", "Head of Product", "Data Scientist", "VP Engineering"}
	locations  = []string{"Helsinki", "Espoo", "Tampere", "Turku", "Oulu", "Stockholm", "Berlin"}
	industries = []string{"fintech", "healthtech", "edtech", "logistics", "retail", "energy"}
	skills     = []string{"go", "python", "mlops", "computer vision", "nlp", "data engineering", "product strategy", "fundraising", "sales", "ux research"}
	interests  = []string{"open source", "climate", "robotics", "generative ai", "privacy", "developer tools", "healthcare", "education"}
	stages     = []string{"early career", "mid career", "senior", "executive"}
	channels   = []string{"email", "video call", "in person", "chat"}
)

func pick(r *rand.Rand, xs []string) string {
	return xs[r.Intn(len(xs))]
}

// pickN returns n distinct elements of xs.
func pickN(r *rand.Rand, xs []string, n int) []string {
	idx := r.Perm(len(xs))
	out := make([]string, 0, n)
	for _, i := range idx[:min(n, len(xs))] {
		out = append(out, xs[i])
	}
	return out
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func generateUsers(r *rand.Rand, n int) []datasource.Row {
	rows := make([]datasource.Row, 0, n)
	for i := 0; i < n; i++ {
		id, err := uuid.NewRandomFromReader(r)
		if err != nil {
			glog.Exitf("uuid: %v", err)
		}
		first, last := pick(r, firstNames), pick(r, lastNames)
		company := pick(r, companies)
		rows = append(rows, datasource.Row{
			"id":                      id.String(),
			"name":                    title(first) + " " + title(last),
			"company_name":            company,
			"company_website":         "https://" + strings.ToLower(strings.ReplaceAll(company, " ", "")) + ".example",
			"job_title":               pick(r, titles),
			"current_title":           pick(r, titles),
			"main_email":              fmt.Sprintf("%s.%s+%d@example.com", first, last, i),
			"location":                pick(r, locations),
			"industry":                pick(r, industries),
			"skills":                  pickN(r, skills, 2+r.Intn(3)),
			"interests":               pickN(r, interests, 1+r.Intn(3)),
			"areas_of_expertise":      pickN(r, skills, 2),
			"career_stage":            pick(r, stages),
			"preferred_communication": pick(r, channels),
		})
	}
	return rows
}

func generateMatches(r *rand.Rand, users []datasource.Row, perUser int) []datasource.Row {
	var rows []datasource.Row
	for i, u := range users {
		added := 0
		for _, j := range r.Perm(len(users)) {
			if added == perUser {
				break
			}
			if j == i {
				continue
			}
			added++
			target := users[j]
			shared := intersect(u["interests"].([]string), target["interests"].([]string))
			rows = append(rows, datasource.Row{
				"user_id":                     u["id"],
				"matched_user_id":             target["id"],
				"matching_score":              40 + r.Intn(61),
				"explanation":                 fmt.Sprintf("%s and %s work in %s and %s.", u["name"], target["name"], u["industry"], target["industry"]),
				"complementary_skills":        pickN(r, target["skills"].([]string), 2),
				"shared_interests":            shared,
				"geographical_synergy":        fmt.Sprintf("%s / %s", u["location"], target["location"]),
				"experience_level":            pick(r, stages),
				"communication_compatibility": pick(r, channels),
				"potential_collaboration":     "Joint pilot in " + pick(r, industries),
			})
		}
	}
	return rows
}

func intersect(a, b []string) []string {
	set := make(map[string]bool, len(b))
	for _, s := range b {
		set[s] = true
	}
	out := []string{}
	for _, s := range a {
		if set[s] {
			out = append(out, s)
		}
	}
	return out
}
