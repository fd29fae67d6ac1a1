package session

import (
	"context"

	"github.com/jbeaumont/fetchd/internal/fetch"
)

// PageFetcher adapts the cache to the per-URL fetch contract used by
// workers, mirroring the browser-backed adapter.
type PageFetcher struct {
	cache *Cache
}

// NewPageFetcher builds the adapter.
func NewPageFetcher(cache *Cache) *PageFetcher {
	return &PageFetcher{cache: cache}
}

// FetchPage serves req through the session path. Proxies are ignored here;
// the solver owns its own egress.
func (f *PageFetcher) FetchPage(ctx context.Context, req fetch.PageRequest) (fetch.Page, error) {
	res, err := f.cache.GetOrRefresh(ctx, req.URL, req.ForceRefresh)
	if err != nil {
		return nil, err
	}
	return &cachedPage{
		cache:     f.cache,
		url:       req.URL,
		content:   res.Content,
		refreshed: res.Refreshed,
	}, nil
}

// cachedPage has no live browser behind it; a re-read is simply another
// request over the cached session.
type cachedPage struct {
	cache     *Cache
	url       string
	content   fetch.PageContent
	refreshed bool
}

func (p *cachedPage) Content() fetch.PageContent { return p.content }

func (p *cachedPage) Reread(ctx context.Context) (fetch.PageContent, error) {
	res, err := p.cache.GetOrRefresh(ctx, p.url, false)
	if err != nil {
		return fetch.PageContent{}, err
	}
	if res.Refreshed {
		p.refreshed = true
	}
	p.content = res.Content
	return res.Content, nil
}

func (p *cachedPage) Close() error { return nil }

// Refreshed reports whether serving this page minted a new session.
func (p *cachedPage) Refreshed() bool { return p.refreshed }
