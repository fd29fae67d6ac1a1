package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jbeaumont/fetchd/internal/fetch"
)

func pageRequest(url string, force bool) fetch.PageRequest {
	return fetch.PageRequest{URL: url, Timeout: time.Second, ForceRefresh: force}
}

func TestPageFetcherServesThroughCache(t *testing.T) {
	t.Parallel()

	solver := &fakeSolver{}
	content := &fakeContent{}
	clock := &fakeClock{now: time.Unix(1000, 0)}
	cache := newTestCache(solver, content, clock)
	f := NewPageFetcher(cache)
	ctx := context.Background()

	page, err := f.FetchPage(ctx, pageRequest("https://shop.example.com/items", false))
	require.NoError(t, err)
	require.Contains(t, page.Content().HTML, "solved")

	refreshed, ok := page.(interface{ Refreshed() bool })
	require.True(t, ok)
	require.True(t, refreshed.Refreshed())
	require.NoError(t, page.Close())

	// A second page rides the session; its re-read is another light GET.
	page, err = f.FetchPage(ctx, pageRequest("https://shop.example.com/other", false))
	require.NoError(t, err)
	require.Contains(t, page.Content().HTML, "fast")

	before := content.fetchCalls()
	_, err = page.Reread(ctx)
	require.NoError(t, err)
	require.Equal(t, before+1, content.fetchCalls())
	require.Equal(t, 1, solver.solveCalls())
}
