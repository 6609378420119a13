package main

import (
	"embed"
	"fmt"

	"github.com/golang/glog"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// openDB connects to Postgres and applies pending migrations.
func openDB(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to db: %w", err)
	}
	glog.Info("Database connection established successfully")

	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(gooseLogger{})
	if err := goose.SetDialect(string(goose.DialectPostgres)); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting dialect for migrations: %w", err)
	}
	if err := goose.Up(db.DB, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying migrations: %w", err)
	}
	return db, nil
}

// gooseLogger routes migration output to glog.
type gooseLogger struct{}

func (gooseLogger) Fatalf(format string, v ...interface{}) { glog.Fatalf("[migrate] "+format, v...) }
func (gooseLogger) Printf(format string, v ...interface{}) { glog.Infof("[migrate] "+format, v...) }
