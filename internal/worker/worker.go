// Package worker runs the per-URL fetch pipeline: permit, navigate, pace,
// inspect, retry, record.
package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/jbeaumont/fetchd/internal/challenge"
	"github.com/jbeaumont/fetchd/internal/fetch"
	"github.com/jbeaumont/fetchd/internal/gate"
	"github.com/jbeaumont/fetchd/internal/progress"
)

// Config controls attempt behavior shared by all jobs.
type Config struct {
	NavigationTimeout time.Duration
	// SettleExtra is the additional wait before the one re-read when a
	// challenge indicator was seen on first inspection.
	SettleExtra time.Duration
	// ProxyPerAttempt re-picks the proxy on every retry instead of once
	// per URL.
	ProxyPerAttempt bool
	// HostQPS caps the request rate against any single host across all
	// jobs. Zero disables the cap.
	HostQPS float64
}

// Worker executes single-URL fetch attempts and writes exactly one result
// into the job's slot, no matter how the attempts end.
type Worker struct {
	cfg      Config
	store    fetch.JobStore
	fetchers map[fetch.Engine]fetch.PageFetcher
	detector challenge.Detector
	emitter  progress.Emitter
	clock    fetch.Clock
	logger   *zap.Logger
	limiter  *hostLimiter
}

// New builds a Worker.
func New(
	cfg Config,
	store fetch.JobStore,
	fetchers map[fetch.Engine]fetch.PageFetcher,
	detector challenge.Detector,
	emitter progress.Emitter,
	clock fetch.Clock,
	logger *zap.Logger,
) *Worker {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 60 * time.Second
	}
	if cfg.SettleExtra <= 0 {
		cfg.SettleExtra = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		cfg:      cfg,
		store:    store,
		fetchers: fetchers,
		detector: detector,
		emitter:  emitter,
		clock:    clock,
		logger:   logger,
		limiter:  newHostLimiter(cfg.HostQPS),
	}
}

// Process fetches job.URLs[slot] and records the outcome. The gate is the
// job's permit pool; the slot is written exactly once on every path,
// including permit-wait failure.
func (w *Worker) Process(ctx context.Context, job fetch.Job, slot int, g *gate.Gate) {
	rawURL := job.URLs[slot]
	logger := w.logger.With(
		zap.String("job_id", job.ID),
		zap.String("url", rawURL),
		zap.Int("slot", slot),
	)

	if err := g.Acquire(ctx); err != nil {
		w.writeResult(ctx, job.ID, slot, fetch.Result{
			URL:          rawURL,
			Status:       fetch.ResultError,
			ErrorKind:    fetch.ErrorKindInfrastructure,
			ErrorMessage: fmt.Sprintf("waiting for fetch slot: %v", err),
		}, logger)
		return
	}
	defer g.Release()

	result := w.runAttempts(ctx, job, slot, logger)
	w.writeResult(ctx, job.ID, slot, result, logger)
}

func (w *Worker) runAttempts(ctx context.Context, job fetch.Job, slot int, logger *zap.Logger) fetch.Result {
	rawURL := job.URLs[slot]
	opts := job.Options
	host := hostOf(rawURL)

	fetcher, ok := w.fetchers[opts.Engine]
	if !ok {
		return fetch.Result{
			URL:          rawURL,
			Status:       fetch.ResultError,
			ErrorKind:    fetch.ErrorKindInfrastructure,
			ErrorMessage: fmt.Sprintf("no fetcher for engine %q", opts.Engine),
		}
	}

	maxAttempts := opts.RetryCount + 1
	proxy := pickProxy(opts.Proxies)
	start := w.clock.Now()

	// attempts counts loop iterations that actually fetched; an early
	// break on cancellation must not report attempts that never ran.
	attempts := 0
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		if w.cfg.ProxyPerAttempt && attempt > 1 {
			proxy = pickProxy(opts.Proxies)
		}
		if err := w.limiter.Wait(ctx, host); err != nil {
			lastErr = err
			break
		}
		attempts = attempt
		w.emitAttempt(job.ID, rawURL, host, attempt)

		content, refreshed, err := w.attempt(ctx, fetcher, fetch.PageRequest{
			URL:     rawURL,
			Proxy:   proxy,
			Timeout: w.cfg.NavigationTimeout,
			// A forced refresh only makes sense once; retries reuse
			// whatever session the first attempt minted.
			ForceRefresh: opts.ForceRefresh && attempt == 1,
		}, opts, host, job.ID)
		if err != nil {
			lastErr = err
			logger.Warn("fetch attempt failed",
				zap.Int("attempt", attempt),
				zap.String("error_kind", string(fetch.Classify(err))),
				zap.Error(err),
			)
			continue
		}

		elapsed := w.clock.Now().Sub(start)
		result := fetch.Result{
			URL:              rawURL,
			Status:           fetch.ResultSuccess,
			HTMLContent:      content.HTML,
			ResponseTimeMs:   elapsed.Milliseconds(),
			StatusCode:       content.StatusCode,
			Attempts:         attempt,
			UsedSession:      opts.Engine == fetch.EngineSession,
			SessionRefreshed: refreshed,
		}
		w.emitDone(job.ID, rawURL, host, attempt, "success", content.StatusCode, elapsed)
		return result
	}

	elapsed := w.clock.Now().Sub(start)
	kind := fetch.Classify(lastErr)
	message := "all attempts exhausted"
	if lastErr != nil {
		message = lastErr.Error()
	}
	w.emitDone(job.ID, rawURL, host, attempts, string(kind), 0, elapsed)
	return fetch.Result{
		URL:            rawURL,
		Status:         fetch.ResultError,
		ErrorKind:      kind,
		ErrorMessage:   message,
		ResponseTimeMs: elapsed.Milliseconds(),
		Attempts:       attempts,
		UsedSession:    opts.Engine == fetch.EngineSession,
	}
}

// attempt performs one navigation plus challenge inspection. The pacing
// sleep lands between navigation and inspection so the page gets its settle
// window and traffic stays irregular.
func (w *Worker) attempt(
	ctx context.Context,
	fetcher fetch.PageFetcher,
	req fetch.PageRequest,
	opts fetch.Options,
	host string,
	jobID string,
) (fetch.PageContent, bool, error) {
	page, err := fetcher.FetchPage(ctx, req)
	if err != nil {
		return fetch.PageContent{}, false, err
	}
	defer func() { _ = page.Close() }()

	if err := w.pace(ctx, opts.WaitMin, opts.WaitMax); err != nil {
		return fetch.PageContent{}, false, err
	}

	content := page.Content()
	if w.detector.Inspect(content.HTML, content.Title) == challenge.VerdictClear {
		return content, pageRefreshed(page, w, jobID, host), nil
	}

	// One more settle window, then a single re-read. Interstitials that
	// clear on their own are caught here; anything still flagged is a
	// real challenge.
	if err := w.sleep(ctx, w.cfg.SettleExtra); err != nil {
		return fetch.PageContent{}, false, err
	}
	content, err = page.Reread(ctx)
	if err != nil {
		return fetch.PageContent{}, false, err
	}
	if w.detector.Inspect(content.HTML, content.Title) == challenge.VerdictClear {
		return content, pageRefreshed(page, w, jobID, host), nil
	}
	return fetch.PageContent{}, false, fmt.Errorf("%w: %s", fetch.ErrChallengeDetected, req.URL)
}

func (w *Worker) pace(ctx context.Context, waitMin, waitMax time.Duration) error {
	if waitMax <= 0 {
		return nil
	}
	d := waitMin
	if spread := waitMax - waitMin; spread > 0 {
		d += time.Duration(rand.Int63n(int64(spread) + 1))
	}
	return w.sleep(ctx, d)
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) writeResult(ctx context.Context, jobID string, slot int, result fetch.Result, logger *zap.Logger) {
	if _, err := w.store.SetResult(ctx, jobID, slot, result); err != nil {
		if !errors.Is(err, context.Canceled) {
			logger.Error("failed to record fetch result", zap.Error(err))
		}
	}
}

func (w *Worker) emitAttempt(jobID, rawURL, host string, attempt int) {
	if w.emitter == nil {
		return
	}
	stage := progress.StageFetchStart
	if attempt > 1 {
		stage = progress.StageFetchRetry
	}
	w.emitter.Emit(progress.Event{
		JobID:   jobID,
		TS:      w.clock.Now(),
		Stage:   stage,
		Host:    host,
		URL:     rawURL,
		Attempt: attempt,
	})
}

func (w *Worker) emitDone(jobID, rawURL, host string, attempt int, outcome string, statusCode int, dur time.Duration) {
	if w.emitter == nil {
		return
	}
	evt := progress.Event{
		JobID:   jobID,
		TS:      w.clock.Now(),
		Stage:   progress.StageFetchDone,
		Host:    host,
		URL:     rawURL,
		Attempt: attempt,
		Outcome: outcome,
		Dur:     dur,
	}
	if statusCode > 0 {
		evt.StatusClass = progress.ClassifyStatus(statusCode)
	}
	w.emitter.Emit(evt)
}

func (w *Worker) emitSessionRefresh(jobID, host string) {
	if w.emitter == nil {
		return
	}
	w.emitter.Emit(progress.Event{
		JobID: jobID,
		TS:    w.clock.Now(),
		Stage: progress.StageSessionRefresh,
		Host:  host,
	})
}

// pageRefreshed reports whether serving the page minted a new session, and
// emits the refresh event when it did.
func pageRefreshed(page fetch.Page, w *Worker, jobID, host string) bool {
	r, ok := page.(interface{ Refreshed() bool })
	if !ok || !r.Refreshed() {
		return false
	}
	w.emitSessionRefresh(jobID, host)
	return true
}

func pickProxy(proxies []string) string {
	if len(proxies) == 0 {
		return ""
	}
	return proxies[rand.Intn(len(proxies))]
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return "unknown"
	}
	return parsed.Host
}
