package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/velmora/news-aggregator/internal/config"
	"github.com/velmora/news-aggregator/pkg/logger"
)

// Handle owns a shared headless browser instance. Page-mode sources
// acquire tabs from it instead of touching chromedp directly, so the
// composing process controls the lifecycle: one browser per process,
// recycled after the configured interval to bound memory growth, and
// closed on shutdown.
type Handle struct {
	execPath string
	recycle  time.Duration
	log      *logger.Logger

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	startedAt     time.Time
	activeTabs    int
}

// NewHandle creates a browser handle. The browser itself launches
// lazily on the first Tab call.
func NewHandle(cfg config.BrowserConfig, log *logger.Logger) *Handle {
	recycle := cfg.RecycleInterval
	if recycle <= 0 {
		recycle = 30 * time.Minute
	}
	return &Handle{
		execPath: cfg.ExecPath,
		recycle:  recycle,
		log:      log.WithComponent("browser"),
	}
}

// Tab returns a context scoped to a fresh browser tab and a release
// function. The release function must be called on every exit path;
// the caller applies its own timeout on top of the returned context.
func (h *Handle) Tab() (context.Context, context.CancelFunc, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Recycle only between tabs so in-flight work keeps the old
	// browser alive until released.
	if h.browserCtx != nil && h.activeTabs == 0 && time.Since(h.startedAt) > h.recycle {
		h.log.Info().Dur("age", time.Since(h.startedAt)).Msg("Recycling browser instance")
		h.closeLocked()
	}

	if err := h.ensureLocked(); err != nil {
		return nil, nil, err
	}

	tabCtx, tabCancel := chromedp.NewContext(h.browserCtx)
	h.activeTabs++

	var once sync.Once
	release := func() {
		once.Do(func() {
			tabCancel()
			h.mu.Lock()
			h.activeTabs--
			h.mu.Unlock()
		})
	}

	return tabCtx, release, nil
}

// Close shuts the browser down. Safe to call multiple times.
func (h *Handle) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closeLocked()
}

func (h *Handle) ensureLocked() error {
	if h.browserCtx != nil {
		return nil
	}

	opts := append([]chromedp.ExecAllocatorOption{},
		chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.WindowSize(1920, 1080),
	)
	if h.execPath != "" {
		opts = append(opts, chromedp.ExecPath(h.execPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Warm up so the first tab doesn't pay the launch cost mid-fetch
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	h.allocCancel = allocCancel
	h.browserCtx = browserCtx
	h.browserCancel = browserCancel
	h.startedAt = time.Now()
	h.log.Info().Msg("Browser instance launched")
	return nil
}

func (h *Handle) closeLocked() {
	if h.browserCancel != nil {
		h.browserCancel()
		h.browserCancel = nil
	}
	if h.allocCancel != nil {
		h.allocCancel()
		h.allocCancel = nil
	}
	h.browserCtx = nil
}
