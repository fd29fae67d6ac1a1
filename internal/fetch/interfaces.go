package fetch

import (
	"context"
	"time"
)

// JobStore holds job records, safe for concurrent polling reads while
// workers write distinct slots.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	MarkRunning(ctx context.Context, jobID string) error
	// SetResult writes slot and bumps the completed counter; it reports
	// whether the write completed the job.
	SetResult(ctx context.Context, jobID string, slot int, result Result) (bool, error)
	// FailAll writes every still-empty slot with an error result and moves
	// the job straight to completed.
	FailAll(ctx context.Context, jobID string, kind ErrorKind, message string) error
	GetJob(ctx context.Context, jobID string) (JobView, error)
}

// Browser is the shared rendering engine handle. Launch is lazy and
// idempotent; each NewContext returns an isolated browsing context.
type Browser interface {
	Launch(ctx context.Context) error
	NewContext(ctx context.Context, identity, proxy string) (BrowserContext, error)
	Close() error
}

// BrowserContext is one isolated browsing context: its own cookie jar,
// identity and proxy. Close must release resources on every exit path.
type BrowserContext interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) (PageContent, error)
	ReadContent(ctx context.Context) (PageContent, error)
	Close() error
}

// ChallengeSolver solves an anti-bot challenge for a URL in one round trip.
type ChallengeSolver interface {
	Solve(ctx context.Context, url string, timeout time.Duration) (Solution, error)
}

// Page is an open fetch attempt: content already read once, re-readable
// while the underlying page is kept alive.
type Page interface {
	Content() PageContent
	Reread(ctx context.Context) (PageContent, error)
	Close() error
}

// PageFetcher executes one navigation attempt for a URL. Implementations
// back the browser path and the cached-session path with the same shape so
// worker results stay comparable.
type PageFetcher interface {
	FetchPage(ctx context.Context, req PageRequest) (Page, error)
}

// Clock returns the current time (swappable in tests).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
