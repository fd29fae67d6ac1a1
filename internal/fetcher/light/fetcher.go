// Package light is the non-rendering HTTP fetch path used once a domain
// session already exists.
package light

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/jbeaumont/fetchd/internal/fetch"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Fetcher issues plain GETs through colly, replaying the session cookies
// and solver identity so protected origins accept the request without a
// full browser.
type Fetcher struct {
	cfg  Config
	base *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	// colly v2.1.0's Async option ignores its argument and always enables
	// async mode; omitting it yields the synchronous collector intended here.
	c := colly.NewCollector()
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())
	return &Fetcher{cfg: cfg, base: c}
}

// FetchWithSession performs one GET with the given session artifact. The
// solver's user agent must accompany its cookies or the origin rejects the
// mismatch.
func (f *Fetcher) FetchWithSession(ctx context.Context, url string, cookies []fetch.Cookie, userAgent string) (fetch.PageContent, error) {
	var (
		content  fetch.PageContent
		fetchErr error
	)

	collector := f.base.Clone()
	collector.UserAgent = f.cfg.UserAgent
	if userAgent != "" {
		collector.UserAgent = userAgent
	}
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(f.cfg.Timeout)

	header := cookieHeader(cookies)
	collector.OnRequest(func(r *colly.Request) {
		if header != "" {
			r.Headers.Set("Cookie", header)
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		html := string(r.Body)
		content = fetch.PageContent{
			HTML:       html,
			Title:      extractTitle(html),
			StatusCode: r.StatusCode,
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		fetchErr = err
		if r != nil {
			content.StatusCode = r.StatusCode
		}
	})

	if err := f.runCollector(ctx, collector, url, &fetchErr); err != nil {
		return fetch.PageContent{}, err
	}
	return content, nil
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("light fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("light visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("light response failed: %w", *fetchErr)
		}
		return nil
	}
}

func cookieHeader(cookies []fetch.Cookie) string {
	if len(cookies) == 0 {
		return ""
	}
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		if c.Name == "" {
			continue
		}
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

func extractTitle(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
