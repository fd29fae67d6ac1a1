// Package session caches proof-of-passage artifacts per domain and decides
// fast-path versus refresh-path for the lightweight fetch route.
package session

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/jbeaumont/fetchd/internal/fetch"
)

// ContentFetcher issues the actual content request with a cached artifact.
type ContentFetcher interface {
	FetchWithSession(ctx context.Context, url string, cookies []fetch.Cookie, userAgent string) (fetch.PageContent, error)
}

// Entry is one cached artifact for a domain.
type Entry struct {
	Domain     string
	Cookies    []fetch.Cookie
	UserAgent  string
	AcquiredAt time.Time
}

// EntryInfo is the read-only view exposed for introspection.
type EntryInfo struct {
	Domain     string    `json:"domain"`
	Cookies    int       `json:"cookies"`
	UserAgent  string    `json:"user_agent"`
	AcquiredAt time.Time `json:"acquired_at"`
	AgeSeconds float64   `json:"age_seconds"`
	Fresh      bool      `json:"fresh"`
}

// Result is what GetOrRefresh hands back to the worker.
type Result struct {
	Content   fetch.PageContent
	Cookies   []fetch.Cookie
	UserAgent string
	Refreshed bool
}

// Config controls cache behavior.
type Config struct {
	MaxStale     time.Duration
	SolveTimeout time.Duration
}

// Cache is the domain-keyed session store. Staleness is evaluated at read
// time; entries are only removed by an explicit Cleanup call. Refreshes for
// the same domain are deduplicated through a single-flight group so one
// expensive solve serves every concurrent caller.
type Cache struct {
	cfg     Config
	solver  fetch.ChallengeSolver
	content ContentFetcher
	clock   fetch.Clock
	logger  *zap.Logger

	group   singleflight.Group
	entries *entryMap
}

// New builds a Cache.
func New(cfg Config, solver fetch.ChallengeSolver, content ContentFetcher, clock fetch.Clock, logger *zap.Logger) *Cache {
	if cfg.MaxStale <= 0 {
		cfg.MaxStale = 30 * time.Minute
	}
	if cfg.SolveTimeout <= 0 {
		cfg.SolveTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		cfg:     cfg,
		solver:  solver,
		content: content,
		clock:   clock,
		logger:  logger,
		entries: newEntryMap(),
	}
}

// GetOrRefresh serves rawURL through the session path. A fresh cached entry
// means one lightweight HTTP request with the stored cookies and identity.
// A stale or missing entry (or force) triggers a single solver round trip
// whose rendered content is returned directly.
func (c *Cache) GetOrRefresh(ctx context.Context, rawURL string, force bool) (Result, error) {
	domain, err := DomainKey(rawURL)
	if err != nil {
		return Result{}, err
	}

	if !force {
		if entry, ok := c.freshEntry(domain); ok {
			content, err := c.content.FetchWithSession(ctx, rawURL, entry.Cookies, entry.UserAgent)
			if err != nil {
				return Result{}, fmt.Errorf("session fast path: %w", err)
			}
			return Result{
				Content:   content,
				Cookies:   entry.Cookies,
				UserAgent: entry.UserAgent,
				Refreshed: false,
			}, nil
		}
	}

	// The flight shares only the session artifact. Content is per URL:
	// concurrent callers for different pages of one stale domain piggyback
	// on a single solve, then each fetches its own page with the new
	// cookies. Only the caller whose URL the solver actually rendered may
	// use the solution's content directly.
	v, err, _ := c.group.Do(domain, func() (any, error) {
		if !force {
			// A concurrent caller may have refreshed while this one
			// waited for the flight slot.
			if entry, ok := c.freshEntry(domain); ok {
				return flightResult{entry: entry}, nil
			}
		}
		return c.refresh(ctx, rawURL, domain)
	})
	if err != nil {
		return Result{}, err
	}
	fr, ok := v.(flightResult)
	if !ok {
		return Result{}, fmt.Errorf("unexpected flight result type %T", v)
	}
	if fr.solved && fr.url == rawURL {
		return Result{
			Content:   fr.content,
			Cookies:   fr.entry.Cookies,
			UserAgent: fr.entry.UserAgent,
			Refreshed: true,
		}, nil
	}
	content, err := c.content.FetchWithSession(ctx, rawURL, fr.entry.Cookies, fr.entry.UserAgent)
	if err != nil {
		return Result{}, fmt.Errorf("session fast path: %w", err)
	}
	return Result{
		Content:   content,
		Cookies:   fr.entry.Cookies,
		UserAgent: fr.entry.UserAgent,
		Refreshed: fr.solved,
	}, nil
}

// flightResult is what one single-flight round hands to every caller that
// joined it: the session artifact, plus the rendered content for the one
// URL the solver was asked about.
type flightResult struct {
	entry   Entry
	solved  bool
	url     string
	content fetch.PageContent
}

func (c *Cache) refresh(ctx context.Context, rawURL, domain string) (flightResult, error) {
	solution, err := c.solver.Solve(ctx, rawURL, c.cfg.SolveTimeout)
	if err != nil {
		return flightResult{}, fmt.Errorf("refresh session for %s: %w", domain, err)
	}
	entry := Entry{
		Domain:     domain,
		Cookies:    solution.Cookies,
		UserAgent:  solution.UserAgent,
		AcquiredAt: c.clock.Now(),
	}
	c.entries.put(domain, entry)
	c.logger.Info("session refreshed",
		zap.String("domain", domain),
		zap.Int("cookies", len(entry.Cookies)),
	)
	return flightResult{
		entry:  entry,
		solved: true,
		url:    rawURL,
		content: fetch.PageContent{
			HTML:       solution.HTML,
			StatusCode: solution.StatusCode,
		},
	}, nil
}

// Invalidate drops the entry for rawURL's domain.
func (c *Cache) Invalidate(rawURL string) {
	domain, err := DomainKey(rawURL)
	if err != nil {
		return
	}
	c.entries.delete(domain)
}

// Cleanup removes every entry older than the configured max-stale threshold
// and returns the number removed. Callers own the schedule; the cache runs
// no background sweep of its own.
func (c *Cache) Cleanup() int {
	now := c.clock.Now()
	removed := c.entries.removeIf(func(e Entry) bool {
		return now.Sub(e.AcquiredAt) >= c.cfg.MaxStale
	})
	if removed > 0 {
		c.logger.Info("cleaned up stale sessions", zap.Int("removed", removed))
	}
	return removed
}

// Snapshot lists the cached domains with freshness info.
func (c *Cache) Snapshot() []EntryInfo {
	now := c.clock.Now()
	entries := c.entries.all()
	infos := make([]EntryInfo, 0, len(entries))
	for _, e := range entries {
		age := now.Sub(e.AcquiredAt)
		infos = append(infos, EntryInfo{
			Domain:     e.Domain,
			Cookies:    len(e.Cookies),
			UserAgent:  e.UserAgent,
			AcquiredAt: e.AcquiredAt,
			AgeSeconds: age.Seconds(),
			Fresh:      age < c.cfg.MaxStale,
		})
	}
	return infos
}

func (c *Cache) freshEntry(domain string) (Entry, bool) {
	entry, ok := c.entries.get(domain)
	if !ok {
		return Entry{}, false
	}
	if c.clock.Now().Sub(entry.AcquiredAt) >= c.cfg.MaxStale {
		return Entry{}, false
	}
	return entry, true
}

// DomainKey reduces a URL to its scheme+host cache key.
func DomainKey(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url for domain key: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", rawURL)
	}
	return parsed.Scheme + "://" + strings.ToLower(parsed.Host), nil
}
