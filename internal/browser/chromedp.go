// Package browser drives headless Chrome through chromedp.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/jbeaumont/fetchd/internal/fetch"
)

// Config controls the shared browser engine.
type Config struct {
	UserAgent         string
	Headless          bool
	NavigationTimeout time.Duration
}

// Chromedp implements fetch.Browser on a shared exec allocator. The binary
// is launched lazily on first use; browsing contexts for proxied requests
// get their own short-lived allocator because a proxy can only be set at
// process launch.
type Chromedp struct {
	cfg    Config
	logger *zap.Logger

	once        sync.Once
	launchErr   error
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New creates the engine handle without launching anything.
func New(cfg Config, logger *zap.Logger) *Chromedp {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chromedp{cfg: cfg, logger: logger}
}

// Launch prepares the shared allocator. Safe to call repeatedly; only the
// first call does work and later calls return its outcome.
func (b *Chromedp) Launch(ctx context.Context) error {
	b.once.Do(func() {
		allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), b.allocatorOptions("")...)
		b.allocator = allocCtx
		b.allocCancel = allocCancel
		b.logger.Info("browser allocator ready", zap.Bool("headless", b.cfg.Headless))
	})
	return b.launchErr
}

// NewContext opens an isolated browsing context. A non-empty proxy forces a
// dedicated allocator that is torn down with the context.
func (b *Chromedp) NewContext(ctx context.Context, identity, proxy string) (fetch.BrowserContext, error) {
	if err := b.Launch(ctx); err != nil {
		return nil, err
	}

	allocator := b.allocator
	var allocCancel context.CancelFunc
	if proxy != "" {
		allocator, allocCancel = chromedp.NewExecAllocator(context.Background(), b.allocatorOptions(proxy)...)
	}

	tabCtx, tabCancel := chromedp.NewContext(allocator)
	userAgent := b.cfg.UserAgent
	if identity != "" {
		userAgent = identity
	}
	return &tab{
		ctx:         tabCtx,
		cancel:      tabCancel,
		allocCancel: allocCancel,
		userAgent:   userAgent,
	}, nil
}

// Close shuts the shared allocator down.
func (b *Chromedp) Close() error {
	if b.allocCancel != nil {
		b.allocCancel()
	}
	return nil
}

func (b *Chromedp) allocatorOptions(proxy string) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
	)
	if proxy != "" {
		opts = append(opts, chromedp.ProxyServer(proxy))
	}
	return opts
}

// tab is one open browsing context.
type tab struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	userAgent   string
}

// Navigate loads url and waits for the document body, returning the
// rendered DOM. The timeout covers the whole navigation including render.
func (t *tab) Navigate(ctx context.Context, url string, timeout time.Duration) (fetch.PageContent, error) {
	navCtx, cancel := context.WithTimeout(t.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	meta := newResponseMeta()
	chromedp.ListenTarget(navCtx, meta.captureEvent)

	var (
		html  string
		title string
	)
	actions := []chromedp.Action{
		t.setupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.Title(&title),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(navCtx, actions...); err != nil {
		// Keep the cause in the chain; classification needs to see
		// deadline and proxy failures through the navigation wrapper.
		return fetch.PageContent{}, fmt.Errorf("%w: %s: %w", fetch.ErrNavigation, url, err)
	}

	return fetch.PageContent{
		HTML:       html,
		Title:      title,
		StatusCode: meta.statusOrDefault(),
	}, nil
}

// ReadContent re-reads the DOM of the already navigated tab.
func (t *tab) ReadContent(ctx context.Context) (fetch.PageContent, error) {
	readCtx, cancel := context.WithTimeout(t.ctx, 15*time.Second)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var (
		html  string
		title string
	)
	actions := []chromedp.Action{
		chromedp.Title(&title),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(readCtx, actions...); err != nil {
		return fetch.PageContent{}, fmt.Errorf("read rendered content: %w", err)
	}
	return fetch.PageContent{HTML: html, Title: title}, nil
}

// Close tears the browsing context down, and its allocator when dedicated.
func (t *tab) Close() error {
	t.cancel()
	if t.allocCancel != nil {
		t.allocCancel()
	}
	return nil
}

func (t *tab) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if t.userAgent != "" {
			if err := emulation.SetUserAgentOverride(t.userAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

type responseMeta struct {
	mu     sync.RWMutex
	status int
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(resp.Response.Status)
	m.mu.Unlock()
}

func (m *responseMeta) statusOrDefault() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status == 0 {
		return 200
	}
	return m.status
}
