package main

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config collects the recognised environment keys. Env overrides
// defaults.
type Config struct {
	DBPath     string
	IntakeAddr string
	APIAddr    string

	GazetteerURL       string // external service; takes precedence when set
	GazetteerDBPath    string // offline SQLite backend
	GazetteerCachePath string

	StateFile     string
	ScheduleGlob  string // conf.d fragment pattern merged over defaults
	IndexSnapshot string
	GeoIPDBPath   string

	PollInterval    time.Duration
	BatchSize       int
	ClusterInterval time.Duration
	RefreshInterval time.Duration
	CleanupHorizon  time.Duration

	RSSFeeds   []string
	GDELTQuery string
}

// FromEnv reads the recognised environment keys over built-in defaults.
func FromEnv() Config {
	cfg := Config{
		DBPath:             envStr("NEWSGLOBE_DB_PATH", "newsglobe.db"),
		IntakeAddr:         envStr("NEWSGLOBE_INTAKE_ADDR", ":8001"),
		APIAddr:            envStr("NEWSGLOBE_API_ADDR", ":8002"),
		GazetteerURL:       os.Getenv("NEWSGLOBE_GAZETTEER_URL"),
		GazetteerDBPath:    os.Getenv("NEWSGLOBE_GAZETTEER_DB"),
		GazetteerCachePath: envStr("NEWSGLOBE_GAZETTEER_CACHE", "gazetteer-cache.json.gz"),
		StateFile:          envStr("NEWSGLOBE_STATE_FILE", "supervisor.json"),
		ScheduleGlob:       os.Getenv("NEWSGLOBE_SCHEDULE_GLOB"),
		IndexSnapshot:      envStr("NEWSGLOBE_INDEX_SNAPSHOT", "cluster-index.json.gz"),
		GeoIPDBPath:        os.Getenv("NEWSGLOBE_GEOIP_DB"),
		PollInterval:       envDuration("NEWSGLOBE_POLL_INTERVAL", 5*time.Second),
		BatchSize:          envInt("NEWSGLOBE_BATCH_SIZE", 250),
		ClusterInterval:    envDuration("NEWSGLOBE_CLUSTER_INTERVAL", 30*time.Second),
		RefreshInterval:    envDuration("NEWSGLOBE_REFRESH_INTERVAL", 5*time.Minute),
		CleanupHorizon:     envDuration("NEWSGLOBE_CLEANUP_HORIZON", 7*24*time.Hour),
		GDELTQuery:         envStr("NEWSGLOBE_GDELT_QUERY", "breaking"),
	}
	if feeds := os.Getenv("NEWSGLOBE_RSS_FEEDS"); feeds != "" {
		for _, f := range strings.Split(feeds, ",") {
			if f = strings.TrimSpace(f); f != "" {
				cfg.RSSFeeds = append(cfg.RSSFeeds, f)
			}
		}
	}
	return cfg
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
