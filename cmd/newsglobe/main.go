// Command newsglobe runs the events aggregator service: connectors
// under the supervisor, the intake queue and its HTTP surface, the
// ingestion pipeline, the clustering engine, and the reference
// read-side API.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/spf13/cobra"

	"github.com/mihasm/news-globe/cmd/newsglobe/cli"
	"github.com/mihasm/news-globe/internal/api"
	"github.com/mihasm/news-globe/internal/clustering"
	"github.com/mihasm/news-globe/internal/connector"
	"github.com/mihasm/news-globe/internal/gazetteer"
	"github.com/mihasm/news-globe/internal/geoip"
	"github.com/mihasm/news-globe/internal/ingestion"
	"github.com/mihasm/news-globe/internal/intake"
	"github.com/mihasm/news-globe/internal/logging"
	"github.com/mihasm/news-globe/internal/store"
	"github.com/mihasm/news-globe/internal/supervisor"
)

var version = "dev"

func main() {
	baseHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug, // filtering is done by ComponentFilterHandler
	})
	filterHandler := logging.NewComponentFilterHandler(baseHandler, slog.LevelInfo)
	logger := slog.New(filterHandler)

	rootCmd := &cobra.Command{
		Use:   "newsglobe",
		Short: "Multi-source real-time events aggregator",
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the aggregator service",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()
			return run(ctx, logger, FromEnv())
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	rootCmd.AddCommand(serveCmd, versionCmd, cli.NewAdminCommand(logger))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg Config) error {
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		// Missing stores at startup are Fatal; the service exits non-zero.
		return fmt.Errorf("open item/cluster store: %w", err)
	}
	defer db.Close()
	items := db.Items()
	clusters := db.Clusters(nil)

	resolver, closeResolver, err := buildResolver(cfg, logger)
	if err != nil {
		return err
	}
	if closeResolver != nil {
		defer closeResolver()
	}

	queue := intake.New()
	intakeSrv := intake.NewServer(queue, logger)
	if cfg.GeoIPDBPath != "" {
		g := geoip.NewGeoIP()
		if _, err := g.Load(cfg.GeoIPDBPath); err != nil {
			logger.Warn("geoip database unavailable", "path", cfg.GeoIPDBPath, "error", err)
		} else {
			if err := g.WatchFile(cfg.GeoIPDBPath); err != nil {
				logger.Warn("geoip watch unavailable", "error", err)
			}
			intakeSrv.GeoIP = g
			defer g.Close()
		}
	}

	sup, err := supervisor.New(queue, supervisor.NewStateStore(cfg.StateFile), logger)
	if err != nil {
		return err
	}
	if err := registerConnectors(sup, cfg); err != nil {
		return err
	}

	pipeline := ingestion.New(queue, items, resolver, nil, logger).WithBatchSize(cfg.BatchSize)
	engine := clustering.NewEngine(clusters, items, nil, logger).WithSnapshotPath(cfg.IndexSnapshot)
	engine.WarmStart()

	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	if err := addJobs(ctx, sched, logger, queue, pipeline, engine, cfg); err != nil {
		return err
	}

	if err := sup.Start(ctx); err != nil {
		return err
	}
	sched.Start()

	intakeHTTP := &http.Server{Addr: cfg.IntakeAddr, Handler: intakeSrv.Handler(), ReadHeaderTimeout: 10 * time.Second}
	apiHTTP := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           api.NewServer(items, clusters, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 2)
	go func() {
		logger.Info("intake queue listening", "addr", cfg.IntakeAddr)
		if err := intakeHTTP.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("intake server: %w", err)
		}
	}()
	go func() {
		logger.Info("read-side api listening", "addr", cfg.APIAddr)
		if err := apiHTTP.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("api server: %w", err)
		}
	}()

	logger.Info("aggregator started", "version", version)

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		logger.Error("http server failed", "error", err)
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = intakeHTTP.Shutdown(shutdownCtx)
	_ = apiHTTP.Shutdown(shutdownCtx)

	if err := sup.Stop(); err != nil && !errors.Is(err, supervisor.ErrNotRunning) {
		logger.Warn("supervisor stop", "error", err)
	}
	if err := sched.Shutdown(); err != nil {
		logger.Warn("scheduler shutdown", "error", err)
	}
	if err := engine.Refresh(shutdownCtx); err != nil {
		logger.Warn("final index snapshot failed", "error", err)
	}
	logger.Info("aggregator stopped")
	return nil
}

// buildResolver picks the gazetteer backend: the external HTTP service
// when a URL is configured, the offline SQLite gazetteer when a DB path
// is, otherwise no enrichment at all.
func buildResolver(cfg Config, logger *slog.Logger) (gazetteer.Resolver, func(), error) {
	switch {
	case cfg.GazetteerURL != "":
		logger.Info("using gazetteer service", "url", cfg.GazetteerURL)
		return gazetteer.NewHTTPResolver(cfg.GazetteerURL), nil, nil
	case cfg.GazetteerDBPath != "":
		r, err := gazetteer.NewSQLiteResolver(cfg.GazetteerDBPath, cfg.GazetteerCachePath)
		if err != nil {
			// A configured-but-missing gazetteer DB is Fatal.
			return nil, nil, fmt.Errorf("open gazetteer db: %w", err)
		}
		logger.Info("using offline gazetteer", "path", cfg.GazetteerDBPath)
		closeFn := func() {
			if err := r.SaveCache(cfg.GazetteerCachePath); err != nil {
				logger.Warn("saving gazetteer cache failed", "error", err)
			}
			_ = r.Close()
		}
		return r, closeFn, nil
	default:
		logger.Warn("no gazetteer configured; location enrichment disabled")
		return nil, nil, nil
	}
}

// registerConnectors wires the baseline source set with its default
// schedules (fast scrape sources ~60s, news aggregators ~300s),
// overridable via conf.d fragments and the persisted state file.
func registerConnectors(sup *supervisor.Supervisor, cfg Config) error {
	defaults := map[string]supervisor.Schedule{
		"rss":      {IntervalSeconds: 300, Enabled: len(cfg.RSSFeeds) > 0},
		"gdelt":    {IntervalSeconds: 300, Enabled: true},
		"usgs":     {IntervalSeconds: 300, Enabled: true},
		"gdacs":    {IntervalSeconds: 300, Enabled: true},
		"mastodon": {IntervalSeconds: 60, Enabled: false},
		"telegram": {IntervalSeconds: 60, Enabled: false},
		"adsb":     {IntervalSeconds: 60, Enabled: false},
		"ais":      {IntervalSeconds: 60, Enabled: false},
	}
	if cfg.ScheduleGlob != "" {
		merged, err := supervisor.LoadScheduleFragments(cfg.ScheduleGlob, defaults)
		if err != nil {
			return fmt.Errorf("load schedule fragments: %w", err)
		}
		defaults = merged
	}

	connectors := []connector.Connector{
		connector.NewRSS(cfg.RSSFeeds, 0, 0),
		connector.NewGDELT(cfg.GDELTQuery, 0, 0),
		connector.NewUSGS("", 0),
		connector.NewGDACS(0),
		connector.NewMastodon(connector.MastodonConfig{
			InstanceBaseURL: envStr("NEWSGLOBE_MASTODON_INSTANCE", "https://mastodon.social"),
		}),
		connector.NewTelegram(connector.TelegramConfig{
			BotToken: os.Getenv("NEWSGLOBE_TELEGRAM_TOKEN"),
		}),
		connector.NewADSB(nil, 0),
		connector.NewAIS(os.Getenv("NEWSGLOBE_AIS_URL"), 0),
	}
	for _, c := range connectors {
		sched, ok := defaults[c.Name()]
		if !ok {
			sched = supervisor.Schedule{IntervalSeconds: 300, Enabled: false}
		}
		if err := sup.Register(c, sched); err != nil {
			return err
		}
	}
	return nil
}

// addJobs registers the ingestion and clustering loops: drain the
// intake queue every poll interval, run a clustering pass, refresh the
// index, and prune stale clusters.
func addJobs(ctx context.Context, sched gocron.Scheduler, logger *slog.Logger, queue *intake.Queue, pipeline *ingestion.Pipeline, engine *clustering.Engine, cfg Config) error {
	jobs := []struct {
		name     string
		interval time.Duration
		task     func()
	}{
		{"ingestion", cfg.PollInterval, func() {
			for {
				if err := pipeline.RunOnce(ctx); err != nil {
					// DB errors propagate here; the next tick retries.
					if ctx.Err() == nil {
						logger.Error("ingestion batch failed", "error", err)
					}
					return
				}
				if queue.Size() == 0 {
					return
				}
			}
		}},
		{"clustering", cfg.ClusterInterval, func() {
			if _, err := engine.RunPass(ctx); err != nil && ctx.Err() == nil {
				logger.Error("clustering pass failed", "error", err)
			}
		}},
		{"index-refresh", cfg.RefreshInterval, func() {
			if err := engine.Refresh(ctx); err != nil && ctx.Err() == nil {
				logger.Error("index refresh failed", "error", err)
			}
		}},
		{"cluster-cleanup", 12 * time.Hour, func() {
			if _, err := engine.Cleanup(ctx, cfg.CleanupHorizon); err != nil && ctx.Err() == nil {
				logger.Error("cluster cleanup failed", "error", err)
			}
		}},
	}
	for _, j := range jobs {
		if _, err := sched.NewJob(
			gocron.DurationJob(j.interval),
			gocron.NewTask(j.task),
			gocron.WithName(j.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		); err != nil {
			return fmt.Errorf("create %s job: %w", j.name, err)
		}
	}
	return nil
}
