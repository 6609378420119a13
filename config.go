package main

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"gitea.kood.tech/petrkubec/matchmaker/datasource"
	"gitea.kood.tech/petrkubec/matchmaker/matchmaking"
)

// Config is read from the environment; every key has a development default.
type Config struct {
	DatabaseURL    string        `mapstructure:"database_url"`
	DataSource     string        `mapstructure:"data_source"`
	Port           string        `mapstructure:"port"`
	CacheMaxAge    time.Duration `mapstructure:"cache_max_age"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	GoEnv          string        `mapstructure:"go_env"`
	NotifyChannel  string        `mapstructure:"notify_channel"`
	UsersTable     string        `mapstructure:"users_table"`
	MatchesTable   string        `mapstructure:"matches_table"`
}

func loadConfig() (Config, error) {
	v := viper.New()
	v.SetDefault("database_url", "user=admin password=password dbname=matchmakerdb sslmode=disable")
	v.SetDefault("data_source", "postgres")
	v.SetDefault("port", "8080")
	v.SetDefault("cache_max_age", "0s")
	v.SetDefault("allowed_origins", "http://localhost:5173,http://127.0.0.1:5173,http://localhost:3001,http://127.0.0.1:3001")
	v.SetDefault("go_env", "development")
	v.SetDefault("notify_channel", datasource.DefaultNotifyChannel)
	v.SetDefault("users_table", matchmaking.DefaultTables.Users)
	v.SetDefault("matches_table", matchmaking.DefaultTables.Matches)
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	// Comma separated in the environment.
	cfg.AllowedOrigins = splitList(v.GetString("allowed_origins"))
	cfg.CacheMaxAge = v.GetDuration("cache_max_age")
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c Config) tables() matchmaking.Tables {
	return matchmaking.Tables{Users: c.UsersTable, Matches: c.MatchesTable}
}
