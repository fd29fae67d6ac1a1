package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"

	"github.com/jbeaumont/fetchd/internal/fetch"
)

func TestResponseMetaCapture(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	require.Equal(t, 200, meta.statusOrDefault(), "no document response defaults to 200")

	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 503},
	})
	require.Equal(t, 503, meta.statusOrDefault())

	// Subresource responses never overwrite the document status.
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeImage,
		Response: &network.Response{Status: 404},
	})
	require.Equal(t, 503, meta.statusOrDefault())
}

func TestAllocatorOptionsProxy(t *testing.T) {
	t.Parallel()

	b := New(Config{Headless: true}, nil)
	base := b.allocatorOptions("")
	withProxy := b.allocatorOptions("socks5://127.0.0.1:9050")
	require.Len(t, withProxy, len(base)+1)
}

type fakeContext struct {
	navigated string
	content   fetch.PageContent
	navErr    error
	rereads   int
	closed    bool
}

func (c *fakeContext) Navigate(_ context.Context, url string, _ time.Duration) (fetch.PageContent, error) {
	c.navigated = url
	if c.navErr != nil {
		return fetch.PageContent{}, c.navErr
	}
	return c.content, nil
}

func (c *fakeContext) ReadContent(context.Context) (fetch.PageContent, error) {
	c.rereads++
	return fetch.PageContent{HTML: "<html>settled</html>"}, nil
}

func (c *fakeContext) Close() error {
	c.closed = true
	return nil
}

type fakeEngine struct {
	ctx       *fakeContext
	lastProxy string
}

func (e *fakeEngine) Launch(context.Context) error { return nil }
func (e *fakeEngine) Close() error                 { return nil }

func (e *fakeEngine) NewContext(_ context.Context, _, proxy string) (fetch.BrowserContext, error) {
	e.lastProxy = proxy
	return e.ctx, nil
}

func TestPageFetcherLifecycle(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{ctx: &fakeContext{content: fetch.PageContent{
		HTML:       "<html>first read</html>",
		StatusCode: 200,
	}}}
	f := NewPageFetcher(engine)

	page, err := f.FetchPage(context.Background(), fetch.PageRequest{
		URL:     "https://example.com/",
		Proxy:   "http://proxy.test:3128",
		Timeout: time.Second,
	})
	require.NoError(t, err)
	require.Equal(t, "https://example.com/", engine.ctx.navigated)
	require.Equal(t, "http://proxy.test:3128", engine.lastProxy)
	require.Equal(t, "<html>first read</html>", page.Content().HTML)

	content, err := page.Reread(context.Background())
	require.NoError(t, err)
	require.Equal(t, "<html>settled</html>", content.HTML)
	require.Equal(t, 200, content.StatusCode, "re-read keeps the navigation status")
	require.Equal(t, content, page.Content())

	require.NoError(t, page.Close())
	require.True(t, engine.ctx.closed)
}

func TestPageFetcherClosesContextOnNavigateError(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{ctx: &fakeContext{navErr: errors.New("net::ERR_CONNECTION_REFUSED")}}
	f := NewPageFetcher(engine)

	_, err := f.FetchPage(context.Background(), fetch.PageRequest{URL: "https://example.com/", Timeout: time.Second})
	require.Error(t, err)
	require.True(t, engine.ctx.closed, "failed navigation must not leak the context")
}
