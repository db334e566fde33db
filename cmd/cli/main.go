package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/velmora/news-aggregator/internal/aggregator"
	"github.com/velmora/news-aggregator/internal/browser"
	"github.com/velmora/news-aggregator/internal/cache"
	memorycache "github.com/velmora/news-aggregator/internal/cache/memory"
	rediscache "github.com/velmora/news-aggregator/internal/cache/redis"
	sqlitecache "github.com/velmora/news-aggregator/internal/cache/sqlite"
	"github.com/velmora/news-aggregator/internal/config"
	"github.com/velmora/news-aggregator/internal/models"
	"github.com/velmora/news-aggregator/internal/scheduler"
	"github.com/velmora/news-aggregator/internal/source"
	"github.com/velmora/news-aggregator/internal/source/hackernews"
	"github.com/velmora/news-aggregator/internal/source/newsapi"
	"github.com/velmora/news-aggregator/internal/source/page"
	"github.com/velmora/news-aggregator/internal/source/rss"
	"github.com/velmora/news-aggregator/pkg/logger"
	"github.com/velmora/news-aggregator/pkg/ratelimit"
)

var (
	cfgFile string
	cfg     *config.Config
	log     *logger.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "velmora",
		Short: "Multi-source news aggregation toolkit",
		Long: `One-shot access to the news aggregation pipeline: fetch and
search articles, inspect the source catalog, and administer the
cache and scheduled jobs.`,
		PersistentPreRunE: initializeApp,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./configs/config.yaml)")

	rootCmd.AddCommand(fetchCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(sourcesCmd())
	rootCmd.AddCommand(cacheCmd())
	rootCmd.AddCommand(jobsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func initializeApp(cmd *cobra.Command, args []string) error {
	var err error

	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log = logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	return nil
}

// buildPipeline wires the registry, cache store and aggregator for the
// one-shot commands. The returned cleanup releases the browser and the
// store.
func buildPipeline(withBrowser bool) (*aggregator.Aggregator, *source.Registry, cache.Store, func(), error) {
	limiter := ratelimit.NewDefaultLimiter()

	var handle *browser.Handle
	if withBrowser && cfg.Browser.Enabled {
		handle = browser.NewHandle(cfg.Browser, log)
	}

	registry := source.NewRegistry()
	for _, feed := range cfg.Sources.Feeds {
		var pageSrc source.Source
		if handle != nil && feed.URL != "" && feed.Selectors.Configured() {
			if src, err := page.New(feed, handle, cfg.Browser, limiter, log); err == nil {
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
		}
	}
	if cfg.Sources.HackerNews.Enabled {
		registry.Register(hackernews.New(cfg.Sources.HackerNews, limiter, log))
	}

	store, err := openStore(cfg.Cache)
	if err != nil {
		if handle != nil {
			handle.Close()
		}
		return nil, nil, nil, nil, fmt.Errorf("failed to open cache store: %w", err)
	}

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

	cleanup := func() {
		store.Close()
		if handle != nil {
			handle.Close()
		}
	}
	return agg, registry, store, cleanup, nil
}

func openStore(c config.CacheConfig) (cache.Store, error) {
	switch c.Driver {
	case "memory":
		return memorycache.New(), nil
	case "redis":
		return rediscache.New(goredis.NewClient(&goredis.Options{
			Addr:     c.RedisAddr,
			Password: c.RedisPassword,
			DB:       c.RedisDB,
		})), nil
	case "sqlite", "":
		return sqlitecache.New(c.DSN)
	default:
		return nil, fmt.Errorf("unknown cache driver %q", c.Driver)
	}
}

func printResult(res *models.AggregationResult) {
	fmt.Printf("\n=== Articles (%s) ===\n", res.ServedFrom)
	for i, a := range res.Articles {
		when := "unknown"
		if a.HasPublished() {
			when = a.PublishedAt.Format(time.RFC3339)
		}
		fmt.Printf("%2d. [%s] %s\n    %s (%s)\n", i+1, a.Source.Name, a.Title, a.URL, when)
	}

	if len(res.Sources) > 0 {
		ids := make([]string, 0, len(res.Sources))
		for id := range res.Sources {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		fmt.Printf("\nSource status:\n")
		for _, id := range ids {
			st := res.Sources[id]
			if st.OK() {
				fmt.Printf("  %-12s %d articles\n", id, st.Articles)
			} else {
				fmt.Printf("  %-12s FAILED: %s\n", id, st.Error)
			}
		}
	}
	fmt.Printf("\nTotal: %d\n", len(res.Articles))
}

// ============ FETCH ============

func fetchCmd() *cobra.Command {
	var (
		sourceIDs []string
		category  string
		keywords  string
		limit     int
		fresh     bool
		noBrowser bool
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Run one aggregation and print the articles",
		RunE: func(cmd *cobra.Command, args []string) error {
			agg, registry, _, cleanup, err := buildPipeline(!noBrowser)
			if err != nil {
				return err
			}
			defer cleanup()

			if len(sourceIDs) == 0 {
				sourceIDs = registry.IDs()
			}

			res, err := agg.Aggregate(context.Background(), models.AggregationRequest{
				Sources:      sourceIDs,
				Category:     models.Category(category),
				Keywords:     keywords,
				Limit:        limit,
				Fresh:        fresh,
				CacheAllowed: true,
			})
			if err != nil {
				return err
			}

			printResult(res)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&sourceIDs, "sources", nil, "source ids (default: all)")
	cmd.Flags().StringVar(&category, "category", "", "category filter")
	cmd.Flags().StringVar(&keywords, "keywords", "", "keyword filter")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum articles")
	cmd.Flags().BoolVar(&fresh, "fresh", false, "bypass the cache")
	cmd.Flags().BoolVar(&noBrowser, "no-browser", false, "skip page-mode fallbacks")
	return cmd
}

// ============ SEARCH ============

func searchCmd() *cobra.Command {
	var (
		sortBy string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search articles by keyword",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agg, _, _, cleanup, err := buildPipeline(true)
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := agg.Search(context.Background(), aggregator.SearchRequest{
				Query:  args[0],
				SortBy: sortBy,
				Limit:  limit,
			})
			if err != nil {
				return err
			}

			printResult(res)
			return nil
		},
	}

	cmd.Flags().StringVar(&sortBy, "sort-by", "publishedAt", "relevancy, popularity or publishedAt")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum articles")
	return cmd
}

// ============ SOURCES ============

func sourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List the configured sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, registry, _, cleanup, err := buildPipeline(false)
			if err != nil {
				return err
			}
			defer cleanup()

			fmt.Printf("\n=== Sources ===\n")
			for _, src := range registry.All() {
				fmt.Printf("%-12s %-20s mode=%-12s category=%s\n",
					src.ID(), src.Name(), src.Mode(), src.Category())
			}
			return nil
		},
	}
}

// ============ CACHE ============

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Cache administration",
	}
	cmd.AddCommand(cacheClearCmd())
	cmd.AddCommand(cachePurgeCmd())
	return cmd
}

func cacheClearCmd() *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove cached entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cfg.Cache)
			if err != nil {
				return err
			}
			defer store.Close()

			removed, err := store.Clear(context.Background(), models.Category(category))
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d cache entries\n", removed)
			return nil
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "clear one category only")
	return cmd
}

func cachePurgeCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove cached entries past an age",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cfg.Cache)
			if err != nil {
				return err
			}
			defer store.Close()

			removed, err := store.PurgeOlderThan(context.Background(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d cache entries older than %s\n", removed, olderThan)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 24*time.Hour, "minimum age to remove")
	return cmd
}

// ============ JOBS ============

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Scheduled job administration",
	}
	cmd.AddCommand(jobsListCmd())
	cmd.AddCommand(jobsAddCmd())
	cmd.AddCommand(jobsStopCmd())
	return cmd
}

// openScheduler builds a dormant scheduler over the jobs database; the
// cron loop is never started, so these commands only touch persistence.
func openScheduler() (*scheduler.Scheduler, func(), error) {
	dsn := cfg.Scheduler.JobsDSN
	dir := filepath.Dir(dsn)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open jobs database: %w", err)
	}

	agg, _, store, cleanup, err := buildPipeline(false)
	if err != nil {
		return nil, nil, err
	}

	sched, err := scheduler.New(db, agg, store, source.NewRegistry(), cfg.Scheduler, cfg.Cache.RetentionDays, log)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return sched, cleanup, nil
}

func jobsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, cleanup, err := openScheduler()
			if err != nil {
				return err
			}
			defer cleanup()

			jobs, err := sched.Jobs(context.Background())
			if err != nil {
				return err
			}

			fmt.Printf("\n=== Scheduled Jobs ===\n")
			for _, j := range jobs {
				lastRun := "never"
				if j.LastRunAt != nil {
					lastRun = j.LastRunAt.Format(time.RFC3339)
				}
				fmt.Printf("#%d %-16s %-16s state=%-8s last_run=%s last_count=%d\n",
					j.ID, j.Name, j.CronExpr, j.State, lastRun, j.LastCount)
				if j.LastError != "" {
					fmt.Printf("    last_error: %s\n", j.LastError)
				}
			}
			fmt.Printf("Total: %d\n", len(jobs))
			return nil
		},
	}
}

func jobsAddCmd() *cobra.Command {
	var (
		name      string
		cronExpr  string
		sourceIDs []string
		category  string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a recurring aggregation job",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(sourceIDs) == 0 {
				return fmt.Errorf("at least one --sources id is required")
			}

			sched, cleanup, err := openScheduler()
			if err != nil {
				return err
			}
			defer cleanup()

			job, err := sched.Schedule(context.Background(), name, cronExpr, models.AggregationRequest{
				Sources:      sourceIDs,
				Category:     models.Category(category),
				Limit:        limit,
				Fresh:        true,
				CacheAllowed: true,
			})
			if err != nil {
				return err
			}

			fmt.Printf("Created job #%d (%s) on schedule %q\n", job.ID, job.Name, job.CronExpr)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "job name")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "cron expression")
	cmd.Flags().StringSliceVar(&sourceIDs, "sources", nil, "source ids")
	cmd.Flags().StringVar(&category, "category", "", "category filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "article budget per tick")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("cron")
	return cmd
}

func jobsStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <id>",
		Short: "Deactivate a scheduled job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(strings.TrimPrefix(args[0], "#"), 10, 32)
			if err != nil {
				return fmt.Errorf("job id must be numeric, got %q", args[0])
			}

			sched, cleanup, err := openScheduler()
			if err != nil {
				return err
			}
			defer cleanup()

			if err := sched.Stop(context.Background(), uint(id)); err != nil {
				return err
			}
			fmt.Printf("Stopped job #%d\n", id)
			return nil
		},
	}
}
