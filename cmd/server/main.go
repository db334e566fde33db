package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/velmora/news-aggregator/internal/aggregator"
	"github.com/velmora/news-aggregator/internal/api"
	"github.com/velmora/news-aggregator/internal/browser"
	"github.com/velmora/news-aggregator/internal/cache"
	memorycache "github.com/velmora/news-aggregator/internal/cache/memory"
	rediscache "github.com/velmora/news-aggregator/internal/cache/redis"
	sqlitecache "github.com/velmora/news-aggregator/internal/cache/sqlite"
	"github.com/velmora/news-aggregator/internal/config"
	"github.com/velmora/news-aggregator/internal/scheduler"
	"github.com/velmora/news-aggregator/internal/source"
	"github.com/velmora/news-aggregator/internal/source/hackernews"
	"github.com/velmora/news-aggregator/internal/source/newsapi"
	"github.com/velmora/news-aggregator/internal/source/page"
	"github.com/velmora/news-aggregator/internal/source/rss"
	"github.com/velmora/news-aggregator/pkg/logger"
	"github.com/velmora/news-aggregator/pkg/ratelimit"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "velmora-server",
		Short: "News aggregation API server",
		Long: `Serves the multi-source news aggregation API and runs the
background refresh and retention jobs.`,
		RunE: runServer,
	}

	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file path")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	log.Info().Msg("Starting news aggregation server")

	limiter := ratelimit.NewDefaultLimiter()

	var handle *browser.Handle
	if cfg.Browser.Enabled {
		handle = browser.NewHandle(cfg.Browser, log)
		defer handle.Close()
	}

	registry := buildRegistry(cfg, handle, limiter, log)
	if len(registry.All()) == 0 {
		return fmt.Errorf("no sources configured")
	}
	log.Info().Int("sources", len(registry.All())).Msg("source registry built")

	store, err := openStore(cfg.Cache, log)
	if err != nil {
		return fmt.Errorf("failed to open cache store: %w", err)
	}
	defer store.Close()

	var searcher aggregator.Searcher
	if cfg.Sources.NewsAPI.Enabled {
		searcher = newsapi.New(cfg.Sources.NewsAPI, limiter, log)
	}

	agg := aggregator.New(registry, store, searcher, aggregator.Options{
		FreshnessWindow: cfg.Cache.FreshnessWindow,
		FallbackWindow:  cfg.Cache.FallbackWindow,
		SourceTimeout:   cfg.Fetch.SourceTimeout,
		MaxConcurrent:   cfg.Fetch.MaxConcurrent,
	}, log)

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		jobsDB, err := openJobsDB(cfg.Scheduler.JobsDSN)
		if err != nil {
			return fmt.Errorf("failed to open jobs database: %w", err)
		}
		sched, err = scheduler.New(jobsDB, agg, store, registry, cfg.Scheduler, cfg.Cache.RetentionDays, log)
		if err != nil {
			return err
		}
		if err := sched.Start(); err != nil {
			return err
		}
	}

	if cfg.Server.Mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log))

	var jobs api.JobAdmin
	if sched != nil {
		jobs = sched
	}
	api.NewServer(agg, registry, store, jobs, log).RegisterRoutes(router)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if sched != nil {
		if err := sched.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("scheduler shutdown incomplete")
		}
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	log.Info().Msg("Shutdown complete")
	return nil
}

// buildRegistry turns the static catalog into live sources. A feed with
// both an RSS URL and page selectors gets the RSS-first, render-on-
// failure composite; otherwise whichever single mode it configures.
func buildRegistry(cfg *config.Config, handle *browser.Handle, limiter *ratelimit.MultiLimiter, log *logger.Logger) *source.Registry {
	registry := source.NewRegistry()

	for _, feed := range cfg.Sources.Feeds {
		var pageSrc source.Source
		if handle != nil && feed.URL != "" && feed.Selectors.Configured() {
			src, err := page.New(feed, handle, cfg.Browser, limiter, log)
			if err != nil {
				log.Warn().Err(err).Str("source", feed.ID).Msg("page mode unavailable for source")
			} else {
				pageSrc = src
			}
		}

		switch {
		case feed.RSS != "" && pageSrc != nil:
			registry.Register(source.WithFallback(rss.New(feed, limiter, log), pageSrc))
		case feed.RSS != "":
			registry.Register(rss.New(feed, limiter, log))
		case pageSrc != nil:
			registry.Register(pageSrc)
		default:
			log.Warn().Str("source", feed.ID).Msg("source has neither feed nor usable selectors, skipping")
		}
	}

	if cfg.Sources.HackerNews.Enabled {
		registry.Register(hackernews.New(cfg.Sources.HackerNews, limiter, log))
	}

	return registry
}

// openStore picks the cache backend from config
func openStore(cfg config.CacheConfig, log *logger.Logger) (cache.Store, error) {
	switch cfg.Driver {
	case "memory":
		log.Info().Msg("Using in-memory cache store")
		return memorycache.New(), nil
	case "redis":
		log.Info().Str("addr", cfg.RedisAddr).Msg("Using Redis cache store")
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return rediscache.New(rdb), nil
	case "sqlite", "":
		log.Info().Str("dsn", cfg.DSN).Msg("Using SQLite cache store")
		return sqlitecache.New(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown cache driver %q", cfg.Driver)
	}
}

func openJobsDB(dsn string) (*gorm.DB, error) {
	dir := filepath.Dir(dsn)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	return gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
}

// requestLogger logs one line per request
func requestLogger(log *logger.Logger) gin.HandlerFunc {
	l := log.WithComponent("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		l.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}
