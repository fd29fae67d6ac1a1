package browser

import (
	"context"

	"github.com/jbeaumont/fetchd/internal/fetch"
)

// PageFetcher adapts the engine to the per-URL fetch contract. Each request
// gets its own browsing context so cookies and identity never bleed between
// URLs of the same job.
type PageFetcher struct {
	engine fetch.Browser
}

// NewPageFetcher builds the adapter.
func NewPageFetcher(engine fetch.Browser) *PageFetcher {
	return &PageFetcher{engine: engine}
}

// FetchPage opens a context, navigates, and hands back the open page. The
// caller owns Close regardless of later errors.
func (f *PageFetcher) FetchPage(ctx context.Context, req fetch.PageRequest) (fetch.Page, error) {
	bc, err := f.engine.NewContext(ctx, "", req.Proxy)
	if err != nil {
		return nil, err
	}
	content, err := bc.Navigate(ctx, req.URL, req.Timeout)
	if err != nil {
		_ = bc.Close()
		return nil, err
	}
	return &page{bc: bc, content: content}, nil
}

// page keeps the tab open so a later re-read sees the settled DOM.
type page struct {
	bc      fetch.BrowserContext
	content fetch.PageContent
}

func (p *page) Content() fetch.PageContent { return p.content }

func (p *page) Reread(ctx context.Context) (fetch.PageContent, error) {
	content, err := p.bc.ReadContent(ctx)
	if err != nil {
		return fetch.PageContent{}, err
	}
	// Keep the navigation status; a DOM re-read has no response of its own.
	content.StatusCode = p.content.StatusCode
	p.content = content
	return content, nil
}

func (p *page) Close() error { return p.bc.Close() }
