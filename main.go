package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/mux"

	"gitea.kood.tech/petrkubec/matchmaker/datasource"
	"gitea.kood.tech/petrkubec/matchmaker/matchmaking"
	"gitea.kood.tech/petrkubec/matchmaker/querycache"
	"gitea.kood.tech/petrkubec/matchmaker/resource"
)

func newRouter(svc *matchmaking.Service, hub *Hub) *mux.Router {
	r := mux.NewRouter()

	// Health check endpoint for Docker
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods("GET")

	// Generic table access
	api := resourceHandler(endpoints(svc))
	r.HandleFunc("/api/{resource}", api).Methods("GET", "POST")
	r.HandleFunc("/api/{resource}/{id}", api).Methods("GET", "PATCH", "DELETE")

	// Dashboard page and its live stream
	r.HandleFunc("/dashboard/{userID}", dashboardHandler(svc)).Methods("GET")
	r.HandleFunc("/dashboard/{userID}/matches", matchesWithProfileHandler(svc)).Methods("GET")
	r.HandleFunc("/ws/dashboard/{userID}", wsDashboardHandler(svc, hub))

	return r
}

func matchesWithProfileHandler(svc *matchmaking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		matches, err := svc.MatchesWithProfile(r.Context(), mux.Vars(r)["userID"])
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, matches)
	}
}

func main() {
	flag.Parse()
	defer glog.Flush()

	cfg, err := loadConfig()
	if err != nil {
		glog.Exitf("Error reading configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cache := querycache.New(querycache.WithMaxAge(cfg.CacheMaxAge))
	defer cache.Close()
	reg := resource.NewRegistry(cache)

	var (
		src      datasource.Source
		notifier datasource.Notifier
	)
	switch cfg.DataSource {
	case "memory":
		mem := datasource.NewMemory()
		src, notifier = mem, mem
		glog.Warning("Using the in-memory data source, nothing is persisted")
	default:
		db, err := openDB(cfg.DatabaseURL)
		if err != nil {
			glog.Exitf("Cannot reach the database: %v", err)
		}
		defer db.Close()
		src = datasource.NewPostgres(db)
		notifier = datasource.NewListener(cfg.DatabaseURL, cfg.NotifyChannel)
	}

	svc := matchmaking.NewService(cache, src, reg, cfg.tables())
	if err := reg.Listen(ctx, notifier); err != nil {
		// API writes still invalidate.
		glog.Warningf("Realtime change feed unavailable: %v", err)
	}

	hub := newHub()
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           withCORS(newRouter(svc, hub), cfg.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		glog.Info("Shutting down")
		hub.closeAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			glog.Warningf("Shutdown: %v", err)
		}
	}()

	glog.Infof("Starting matchmaker backend on port %s (%s)...", cfg.Port, cfg.GoEnv)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		glog.Errorf("Server error: %v", err)
	}
}
