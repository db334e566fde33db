package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// ServerConfig holds HTTP API settings
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug or release (gin mode)
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json or console
	Output string `mapstructure:"output"` // stdout or file path
}

// CacheConfig holds cache store settings
type CacheConfig struct {
	Driver          string        `mapstructure:"driver"` // memory, sqlite or redis
	DSN             string        `mapstructure:"dsn"`    // sqlite file path
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	FreshnessWindow time.Duration `mapstructure:"freshness_window"` // serve cache without refetch
	FallbackWindow  time.Duration `mapstructure:"fallback_window"`  // serve cache when all fetches fail
	RetentionDays   int           `mapstructure:"retention_days"`   // purge entries older than this
}

// BrowserConfig holds headless-browser settings for page-mode sources
type BrowserConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	ExecPath        string        `mapstructure:"exec_path"`        // chrome binary, empty = auto-detect
	NavTimeout      time.Duration `mapstructure:"nav_timeout"`      // page navigation budget
	WaitTimeout     time.Duration `mapstructure:"wait_timeout"`     // bounded wait for the article container
	RecycleInterval time.Duration `mapstructure:"recycle_interval"` // restart the browser to bound memory growth
}

// SourcesConfig holds the static source catalog
type SourcesConfig struct {
	Feeds      []FeedSource     `mapstructure:"feeds"`
	HackerNews HackerNewsConfig `mapstructure:"hackernews"`
	NewsAPI    NewsAPIConfig    `mapstructure:"newsapi"`
}

// FeedSource describes one feed- or page-backed source. A source with
// both an RSS URL and selectors prefers RSS and falls back to rendering
// the page when the feed fails.
type FeedSource struct {
	ID        string    `mapstructure:"id"`
	Name      string    `mapstructure:"name"`
	Category  string    `mapstructure:"category"`
	RSS       string    `mapstructure:"rss"`
	URL       string    `mapstructure:"url"`
	Selectors Selectors `mapstructure:"selectors"`
}

// Selectors is the closed set of per-field CSS selectors a page-mode
// source may configure. Title and Link are required for an item to be
// emitted; the rest are optional.
type Selectors struct {
	Article     string `mapstructure:"article"` // repeated container, one per item
	Title       string `mapstructure:"title"`
	Link        string `mapstructure:"link"`
	Description string `mapstructure:"description"`
	Image       string `mapstructure:"image"`
	Date        string `mapstructure:"date"`
}

// Configured reports whether the selector set can emit items at all
func (s Selectors) Configured() bool {
	return s.Article != "" && s.Title != "" && s.Link != ""
}

// HackerNewsConfig holds the Hacker News API source settings
type HackerNewsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	BaseURL string `mapstructure:"base_url"`
}

// NewsAPIConfig holds the keyword-search API settings
type NewsAPIConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`
	Language string `mapstructure:"language"`
}

// FetchConfig holds per-source fetch behavior
type FetchConfig struct {
	SourceTimeout time.Duration `mapstructure:"source_timeout"` // per-source network budget
	MaxConcurrent int           `mapstructure:"max_concurrent"` // fan-out bound within one aggregation
}

// SchedulerConfig holds scheduler settings
type SchedulerConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	RefreshCron  string `mapstructure:"refresh_cron"`  // recurring full aggregation
	RefreshLimit int    `mapstructure:"refresh_limit"` // article budget per refresh tick
	CleanupCron  string `mapstructure:"cleanup_cron"`  // daily retention sweep
	JobsDSN      string `mapstructure:"jobs_dsn"`      // sqlite file for persisted jobs
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	// Load .env file if present (ignore errors if not found)
	_ = godotenv.Load()
	_ = godotenv.Load(".env.local")

	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")

		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".velmora"))
		}
	}

	// Environment variables
	v.SetEnvPrefix("VELMORA")
	v.AutomaticEnv()

	// Explicit bindings for nested keys (Viper doesn't auto-bind underscored nested keys)
	v.BindEnv("server.port", "VELMORA_SERVER_PORT")
	v.BindEnv("cache.driver", "VELMORA_CACHE_DRIVER")
	v.BindEnv("cache.dsn", "VELMORA_CACHE_DSN")
	v.BindEnv("cache.redis_addr", "VELMORA_CACHE_REDIS_ADDR")
	v.BindEnv("cache.redis_password", "VELMORA_CACHE_REDIS_PASSWORD")
	v.BindEnv("sources.newsapi.api_key", "VELMORA_NEWSAPI_KEY")
	v.BindEnv("browser.exec_path", "VELMORA_BROWSER_EXEC_PATH")
	v.BindEnv("scheduler.enabled", "VELMORA_SCHEDULER_ENABLED")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// The source catalog is static; without an explicit one, run with
	// the built-in catalog.
	if len(config.Sources.Feeds) == 0 {
		config.Sources.Feeds = DefaultFeeds()
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stdout")

	// Cache defaults
	v.SetDefault("cache.driver", "sqlite")
	v.SetDefault("cache.dsn", "./data/newscache.db")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.freshness_window", 30*time.Minute)
	v.SetDefault("cache.fallback_window", 24*time.Hour)
	v.SetDefault("cache.retention_days", 30)

	// Browser defaults
	v.SetDefault("browser.enabled", true)
	v.SetDefault("browser.nav_timeout", 30*time.Second)
	v.SetDefault("browser.wait_timeout", 10*time.Second)
	v.SetDefault("browser.recycle_interval", 30*time.Minute)

	// Source defaults
	v.SetDefault("sources.hackernews.enabled", true)
	v.SetDefault("sources.hackernews.base_url", "https://hacker-news.firebaseio.com/v0")
	v.SetDefault("sources.newsapi.enabled", false)
	v.SetDefault("sources.newsapi.base_url", "https://newsapi.org/v2")
	v.SetDefault("sources.newsapi.language", "en")

	// Fetch defaults
	v.SetDefault("fetch.source_timeout", 30*time.Second)
	v.SetDefault("fetch.max_concurrent", 5)

	// Scheduler defaults
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.refresh_cron", "*/30 * * * *") // every 30 minutes
	v.SetDefault("scheduler.refresh_limit", 50)
	v.SetDefault("scheduler.cleanup_cron", "0 2 * * *") // daily at 2 AM
	v.SetDefault("scheduler.jobs_dsn", "./data/jobs.db")
}

// DefaultFeeds returns the built-in source catalog
func DefaultFeeds() []FeedSource {
	return []FeedSource{
		{
			ID:       "bbc",
			Name:     "BBC News",
			Category: "general",
			RSS:      "https://feeds.bbci.co.uk/news/rss.xml",
			URL:      "https://www.bbc.com/news",
			Selectors: Selectors{
				Article:     "article.gs-c-promo",
				Title:       "h3.gs-c-promo-heading__title",
				Link:        "a.gs-c-promo-heading__link",
				Description: "p.gs-c-promo-summary",
				Image:       "img.gs-c-promo-image",
				Date:        "time",
			},
		},
		{
			ID:       "cnn",
			Name:     "CNN",
			Category: "general",
			RSS:      "http://rss.cnn.com/rss/edition.rss",
			URL:      "https://edition.cnn.com/",
			Selectors: Selectors{
				Article:     ".container__item",
				Title:       ".container__headline-text",
				Link:        ".container__link",
				Description: ".container__description",
				Image:       ".container__image img",
				Date:        ".container__date",
			},
		},
		{
			ID:       "reuters",
			Name:     "Reuters",
			Category: "business",
			RSS:      "https://www.reutersagency.com/feed/?best-topics=business-finance&post_type=best",
			URL:      "https://www.reuters.com/",
			Selectors: Selectors{
				Article:     "article.story-card",
				Title:       "h2.story-card__headline",
				Link:        "a.story-card__link",
				Description: "p.story-card__summary",
				Image:       "img.story-card__image",
				Date:        "time",
			},
		},
		{
			ID:       "guardian",
			Name:     "The Guardian",
			Category: "general",
			RSS:      "https://www.theguardian.com/world/rss",
			URL:      "https://www.theguardian.com/international",
			Selectors: Selectors{
				Article:     ".fc-item",
				Title:       ".fc-item__title",
				Link:        ".fc-item__link",
				Description: ".fc-item__standfirst",
				Image:       ".fc-item__image-container img",
				Date:        ".fc-item__timestamp",
			},
		},
		{
			ID:       "techcrunch",
			Name:     "TechCrunch",
			Category: "technology",
			RSS:      "https://feeds.feedburner.com/TechCrunch",
			URL:      "https://techcrunch.com/",
			Selectors: Selectors{
				Article:     ".post-block",
				Title:       ".post-block__title",
				Link:        ".post-block__title__link",
				Description: ".post-block__content",
				Image:       ".post-block__media img",
				Date:        ".post-block__time",
			},
		},
		{
			ID:       "bloomberg",
			Name:     "Bloomberg",
			Category: "business",
			RSS:      "https://feeds.bloomberg.com/markets/news.rss",
			URL:      "https://www.bloomberg.com/",
			Selectors: Selectors{
				Article:     ".story-package-module__story",
				Title:       ".story-package-module__story-headline",
				Link:        ".story-package-module__story-headline a",
				Description: ".story-package-module__story-summary",
				Image:       ".story-package-module__story-figure img",
				Date:        ".story-package-module__story-byline time",
			},
		},
	}
}
