package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jbeaumont/fetchd/internal/fetch"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newStore() *JobStore {
	return NewJobStore(&fakeClock{now: time.Unix(1000, 0).UTC()})
}

func pendingJob(id string, urls ...string) fetch.Job {
	return fetch.Job{
		ID:     id,
		Status: fetch.JobStatusPending,
		URLs:   urls,
	}
}

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := newStore()
	ctx := context.Background()

	require.NoError(t, store.CreateJob(ctx, pendingJob("job-1", "https://a.test", "https://b.test")))
	require.Error(t, store.CreateJob(ctx, pendingJob("job-1", "https://a.test")))

	view, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, fetch.JobStatusPending, view.Status)
	require.Equal(t, 2, view.TotalURLs)
	require.Zero(t, view.CompletedURLs)
	require.Nil(t, view.Started)

	require.NoError(t, store.MarkRunning(ctx, "job-1"))
	view, err = store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, fetch.JobStatusRunning, view.Status)
	require.NotNil(t, view.Started)

	done, err := store.SetResult(ctx, "job-1", 0, fetch.Result{URL: "https://a.test", Status: fetch.ResultSuccess})
	require.NoError(t, err)
	require.False(t, done)

	done, err = store.SetResult(ctx, "job-1", 1, fetch.Result{URL: "https://b.test", Status: fetch.ResultError, ErrorKind: fetch.ErrorKindTimeout})
	require.NoError(t, err)
	require.True(t, done)

	view, err = store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, fetch.JobStatusCompleted, view.Status)
	require.Equal(t, 2, view.CompletedURLs)
	require.NotNil(t, view.Finished)
	require.Equal(t, float64(100), view.ProgressPercentage())
	require.True(t, view.IsFinished())
}

func TestJobStoreSlotRules(t *testing.T) {
	t.Parallel()

	store := newStore()
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, pendingJob("job-2", "https://a.test")))

	_, err := store.SetResult(ctx, "job-2", -1, fetch.Result{})
	require.Error(t, err)
	_, err = store.SetResult(ctx, "job-2", 1, fetch.Result{})
	require.Error(t, err)

	_, err = store.SetResult(ctx, "job-2", 0, fetch.Result{URL: "https://a.test", Status: fetch.ResultSuccess})
	require.NoError(t, err)
	_, err = store.SetResult(ctx, "job-2", 0, fetch.Result{URL: "https://a.test", Status: fetch.ResultSuccess})
	require.Error(t, err, "a slot must only be written once")
}

func TestJobStoreSnapshotIsolation(t *testing.T) {
	t.Parallel()

	store := newStore()
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, pendingJob("job-3", "https://a.test")))
	_, err := store.SetResult(ctx, "job-3", 0, fetch.Result{URL: "https://a.test", Status: fetch.ResultSuccess, HTMLContent: "<html/>"})
	require.NoError(t, err)

	view, err := store.GetJob(ctx, "job-3")
	require.NoError(t, err)
	view.Results[0].HTMLContent = "mutated"

	again, err := store.GetJob(ctx, "job-3")
	require.NoError(t, err)
	require.Equal(t, "<html/>", again.Results[0].HTMLContent)
}

func TestJobStoreUnknownJob(t *testing.T) {
	t.Parallel()

	store := newStore()
	ctx := context.Background()

	_, err := store.GetJob(ctx, "nope")
	require.ErrorIs(t, err, fetch.ErrJobNotFound)
	require.ErrorIs(t, store.MarkRunning(ctx, "nope"), fetch.ErrJobNotFound)
	_, err = store.SetResult(ctx, "nope", 0, fetch.Result{})
	require.ErrorIs(t, err, fetch.ErrJobNotFound)
	require.ErrorIs(t, store.FailAll(ctx, "nope", fetch.ErrorKindInfrastructure, "boom"), fetch.ErrJobNotFound)
}

func TestJobStoreFailAllFillsEmptySlots(t *testing.T) {
	t.Parallel()

	store := newStore()
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, pendingJob("job-4", "https://a.test", "https://b.test", "https://c.test")))
	_, err := store.SetResult(ctx, "job-4", 1, fetch.Result{URL: "https://b.test", Status: fetch.ResultSuccess})
	require.NoError(t, err)

	require.NoError(t, store.FailAll(ctx, "job-4", fetch.ErrorKindInfrastructure, "job could not start"))

	view, err := store.GetJob(ctx, "job-4")
	require.NoError(t, err)
	require.Equal(t, fetch.JobStatusCompleted, view.Status)
	require.Equal(t, 3, view.CompletedURLs)
	require.Equal(t, fetch.ResultSuccess, view.Results[1].Status)
	for _, slot := range []int{0, 2} {
		require.Equal(t, fetch.ResultError, view.Results[slot].Status)
		require.Equal(t, fetch.ErrorKindInfrastructure, view.Results[slot].ErrorKind)
	}
}

func TestJobStoreConcurrentWriters(t *testing.T) {
	t.Parallel()

	store := newStore()
	ctx := context.Background()

	const slots = 50
	urls := make([]string, slots)
	for i := range urls {
		urls[i] = "https://example.test/" + string(rune('a'+i%26))
	}
	job := fetch.Job{ID: "job-5", Status: fetch.JobStatusPending, URLs: urls}
	// Duplicate URLs are allowed at the store layer; slots stay distinct.
	require.NoError(t, store.CreateJob(ctx, job))
	require.NoError(t, store.MarkRunning(ctx, "job-5"))

	var wg sync.WaitGroup
	for slot := 0; slot < slots; slot++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			_, err := store.SetResult(ctx, "job-5", slot, fetch.Result{URL: urls[slot], Status: fetch.ResultSuccess})
			require.NoError(t, err)
		}(slot)
	}
	wg.Wait()

	view, err := store.GetJob(ctx, "job-5")
	require.NoError(t, err)
	require.Equal(t, slots, view.CompletedURLs)
	require.Equal(t, fetch.JobStatusCompleted, view.Status)
}
