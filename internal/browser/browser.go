// Package browser provides Chrome/Chromedp initialization and configuration.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"

	"github.com/cantalupo555/gov-dataset-retriever/internal/locator"
)

// DesktopUserAgent is sent by both the browser and the HTTP fetcher.
const DesktopUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Config holds browser configuration options.
type Config struct {
	ExecPath     string
	DownloadDir  string
	UserAgent    string
	Headless     bool
	WindowWidth  int
	WindowHeight int

	// NavigationTimeout bounds the wait for the document body.
	NavigationTimeout time.Duration
	// SettleDelay is slept after the body appears so client-side rendering
	// can finish. It is a heuristic, not a readiness check.
	SettleDelay time.Duration
	// StabilizeDelay is slept between scrolling an element into view and
	// clicking it.
	StabilizeDelay time.Duration
	// QueryTimeout bounds a single locator lookup.
	QueryTimeout time.Duration
}

// DefaultConfig returns default browser configuration.
func DefaultConfig() Config {
	return Config{
		ExecPath:          "chromium",
		UserAgent:         DesktopUserAgent,
		Headless:          true,
		WindowWidth:       1920,
		WindowHeight:      1080,
		NavigationTimeout: 20 * time.Second,
		SettleDelay:       5 * time.Second,
		StabilizeDelay:    2 * time.Second,
		QueryTimeout:      5 * time.Second,
	}
}

// launchFlags returns the command-line switches added on top of chromedp's
// defaults. Anti-detection settings live here and nowhere else.
func launchFlags(cfg Config) map[string]any {
	flags := map[string]any{
		"no-sandbox":                     true,
		"disable-dev-shm-usage":          true,
		"disable-gpu":                    true,
		"disable-extensions":             true,
		"disable-web-security":           true,
		"allow-running-insecure-content": true,
		"disable-blink-features":         "AutomationControlled",
		"enable-automation":              false,
		"window-size":                    fmt.Sprintf("%d,%d", cfg.WindowWidth, cfg.WindowHeight),
	}
	if !cfg.Headless {
		flags["headless"] = false
	}
	if cfg.UserAgent != "" {
		flags["user-agent"] = cfg.UserAgent
	}
	return flags
}

// allocatorOptions turns cfg into exec allocator options.
func allocatorOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	for name, value := range launchFlags(cfg) {
		opts = append(opts, chromedp.Flag(name, value))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}

// Session owns one browser process. Close must be called once Open returns
// successfully; it is safe to call more than once.
type Session struct {
	cfg Config
	ctx context.Context

	allocCancel context.CancelFunc
	ctxCancel   context.CancelFunc
	closeOnce   sync.Once
}

// Open launches the browser and routes its downloads into cfg.DownloadDir.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocatorOptions(cfg)...)
	browserCtx, ctxCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			slog.Debug(fmt.Sprintf(format, args...), "source", "chromedp")
		}),
	)

	s := &Session{
		cfg:         cfg,
		ctx:         browserCtx,
		allocCancel: allocCancel,
		ctxCancel:   ctxCancel,
	}

	// The first Run starts the process.
	if err := chromedp.Run(browserCtx); err != nil {
		s.Close()
		return nil, &LaunchError{ExecPath: cfg.ExecPath, Err: err}
	}

	if err := s.configureDownloads(); err != nil {
		s.Close()
		return nil, &LaunchError{ExecPath: cfg.ExecPath, Err: err}
	}

	slog.Info("✓ Browser started", "exec", cfg.ExecPath, "headless", cfg.Headless)
	return s, nil
}

// configureDownloads sets up the download directory for the browser.
func (s *Session) configureDownloads() error {
	if err := chromedp.Run(s.ctx,
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllow).
			WithDownloadPath(s.cfg.DownloadDir).
			WithEventsEnabled(true),
	); err != nil {
		return fmt.Errorf("set download behavior: %w", err)
	}
	slog.Info("✓ Downloads will be saved", "dir", s.cfg.DownloadDir)
	return nil
}

// Close terminates the browser process.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.ctxCancel != nil {
			s.ctxCancel()
		}
		if s.allocCancel != nil {
			s.allocCancel()
		}
		slog.Debug("browser closed")
	})
}

// run executes actions against the browser tab, bounded by ctx and timeout.
// Cancellation of ctx stops the actions without tearing the browser down.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

// Navigate loads url, waits for the document body and then sleeps SettleDelay.
func (s *Session) Navigate(ctx context.Context, url string) error {
	slog.Info("Loading page", "url", url)
	err := s.run(ctx, s.cfg.NavigationTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if IsTimeout(err) {
			return fmt.Errorf("%w: %s after %v", ErrNavigationTimeout, url, s.cfg.NavigationTimeout)
		}
		return fmt.Errorf("navigate %s: %w", url, err)
	}

	return sleep(ctx, s.cfg.SettleDelay)
}

// ScrollTo scrolls the first element matching a CSS selector into view.
func (s *Session) ScrollTo(ctx context.Context, selector string) error {
	err := s.run(ctx, s.cfg.QueryTimeout,
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("scroll to %s: %w", selector, err)
	}
	return sleep(ctx, s.cfg.StabilizeDelay)
}

// Query implements locator.Page. It does not wait for the element to
// appear: a candidate that matches nothing right now returns a nil node.
func (s *Session) Query(ctx context.Context, c locator.Candidate) (*cdp.Node, error) {
	expr, err := c.Expression()
	if err != nil {
		return nil, err
	}

	var nodes []*cdp.Node
	if err := s.run(ctx, s.cfg.QueryTimeout,
		chromedp.Nodes(expr, &nodes, queryOption(c.Kind), chromedp.AtLeast(0)),
	); err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, nil
	}
	return nodes[0], nil
}

// queryOption maps a locator kind onto the chromedp selector engine.
func queryOption(k locator.Kind) chromedp.QueryOption {
	switch k {
	case locator.KindXPath, locator.KindText:
		return chromedp.BySearch
	case locator.KindID:
		return chromedp.ByID
	default:
		return chromedp.ByQuery
	}
}

// Trigger scrolls the matched element into view, waits StabilizeDelay and
// clicks it.
func (s *Session) Trigger(ctx context.Context, m locator.Match) error {
	if m.Node == nil {
		return fmt.Errorf("trigger %s: no node", m.Candidate)
	}
	ids := []cdp.NodeID{m.Node.NodeID}

	if err := s.run(ctx, s.cfg.QueryTimeout,
		chromedp.ScrollIntoView(ids, chromedp.ByNodeID),
	); err != nil {
		return fmt.Errorf("scroll %s into view: %w", m.Candidate, err)
	}
	if err := sleep(ctx, s.cfg.StabilizeDelay); err != nil {
		return err
	}
	if err := s.run(ctx, s.cfg.QueryTimeout,
		chromedp.Click(ids, chromedp.ByNodeID),
	); err != nil {
		return fmt.Errorf("click %s: %w", m.Candidate, err)
	}

	slog.Info("✓ Clicked download element", "candidate", m.Candidate.String())
	return nil
}

// CurrentURL returns the current page URL.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := s.run(ctx, s.cfg.QueryTimeout, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
