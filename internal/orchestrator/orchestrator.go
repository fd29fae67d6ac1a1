// Package orchestrator validates submissions, creates job records, and fans
// URL work out to workers.
package orchestrator

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jbeaumont/fetchd/internal/fetch"
	"github.com/jbeaumont/fetchd/internal/gate"
	"github.com/jbeaumont/fetchd/internal/progress"
	"github.com/jbeaumont/fetchd/internal/worker"
)

// Limits bounds what a single submission may ask for.
type Limits struct {
	MaxURLs            int
	MaxConcurrency     int
	DefaultConcurrency int
	DefaultRetries     int
	MaxWait            time.Duration
}

// DefaultLimits mirror the service defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxURLs:            1000,
		MaxConcurrency:     20,
		DefaultConcurrency: 5,
		DefaultRetries:     2,
		MaxWait:            60 * time.Second,
	}
}

var allowedProxySchemes = map[string]struct{}{
	"http":   {},
	"https":  {},
	"socks4": {},
	"socks5": {},
}

// Orchestrator owns the job lifecycle from submission to completion.
type Orchestrator struct {
	limits  Limits
	store   fetch.JobStore
	worker  *worker.Worker
	emitter progress.Emitter
	clock   fetch.Clock
	ids     fetch.IDGenerator
	logger  *zap.Logger

	// running tracks detached job goroutines so shutdown can wait.
	running sync.WaitGroup
}

// New builds an Orchestrator.
func New(
	limits Limits,
	store fetch.JobStore,
	w *worker.Worker,
	emitter progress.Emitter,
	clock fetch.Clock,
	ids fetch.IDGenerator,
	logger *zap.Logger,
) *Orchestrator {
	if limits.MaxURLs <= 0 {
		limits.MaxURLs = 1000
	}
	if limits.MaxConcurrency <= 0 {
		limits.MaxConcurrency = 20
	}
	if limits.DefaultConcurrency <= 0 {
		limits.DefaultConcurrency = 5
	}
	if limits.MaxWait <= 0 {
		limits.MaxWait = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		limits:  limits,
		store:   store,
		worker:  w,
		emitter: emitter,
		clock:   clock,
		ids:     ids,
		logger:  logger,
	}
}

// Submit validates the request, registers the job, and starts it in the
// background. The returned ID is pollable immediately.
func (o *Orchestrator) Submit(ctx context.Context, urls []string, opts fetch.Options) (string, error) {
	if err := o.validate(urls, opts); err != nil {
		return "", err
	}
	opts = o.normalize(opts)

	id, err := o.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	job := fetch.Job{
		ID:        id,
		Status:    fetch.JobStatusPending,
		URLs:      urls,
		Options:   opts,
		Submitted: o.clock.Now(),
	}
	if err := o.store.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}

	// The job outlives the submission request: detach from its
	// cancellation but keep request-scoped values.
	runCtx := context.WithoutCancel(ctx)
	o.running.Add(1)
	go o.run(runCtx, job)

	o.logger.Info("job submitted",
		zap.String("job_id", id),
		zap.Int("urls", len(urls)),
		zap.String("engine", string(opts.Engine)),
		zap.Int("concurrency", opts.ConcurrencyLimit),
	)
	return id, nil
}

// Status returns the point-in-time snapshot for a job.
func (o *Orchestrator) Status(ctx context.Context, jobID string) (fetch.JobView, error) {
	return o.store.GetJob(ctx, jobID)
}

// Wait blocks until every in-flight job goroutine has finished.
func (o *Orchestrator) Wait() {
	o.running.Wait()
}

func (o *Orchestrator) run(ctx context.Context, job fetch.Job) {
	defer o.running.Done()

	start := o.clock.Now()
	if err := o.store.MarkRunning(ctx, job.ID); err != nil {
		o.logger.Error("failed to mark job running", zap.String("job_id", job.ID), zap.Error(err))
		if err := o.store.FailAll(ctx, job.ID, fetch.ErrorKindInfrastructure, "job could not start"); err != nil {
			o.logger.Error("failed to fail job", zap.String("job_id", job.ID), zap.Error(err))
		}
		return
	}
	o.emitJobEvent(job.ID, progress.StageJobStart, 0)

	g := gate.New(job.Options.ConcurrencyLimit)
	var wg sync.WaitGroup
	for slot := range job.URLs {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			o.worker.Process(ctx, job, slot, g)
		}(slot)
	}
	wg.Wait()

	dur := o.clock.Now().Sub(start)
	o.emitJobEvent(job.ID, progress.StageJobDone, dur)
	o.logger.Info("job finished",
		zap.String("job_id", job.ID),
		zap.Int("urls", len(job.URLs)),
		zap.Duration("dur", dur),
	)
}

func (o *Orchestrator) emitJobEvent(jobID string, stage progress.Stage, dur time.Duration) {
	if o.emitter == nil {
		return
	}
	o.emitter.Emit(progress.Event{
		JobID: jobID,
		TS:    o.clock.Now(),
		Stage: stage,
		Dur:   dur,
	})
}

func (o *Orchestrator) validate(urls []string, opts fetch.Options) error {
	if len(urls) == 0 {
		return fetch.NewValidationError("urls must not be empty")
	}
	if len(urls) > o.limits.MaxURLs {
		return fetch.NewValidationError(fmt.Sprintf("at most %d urls per job", o.limits.MaxURLs))
	}
	seen := make(map[string]struct{}, len(urls))
	for _, raw := range urls {
		parsed, err := url.Parse(raw)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fetch.NewValidationError(fmt.Sprintf("url %q is not absolute", raw))
		}
		scheme := strings.ToLower(parsed.Scheme)
		if scheme != "http" && scheme != "https" {
			return fetch.NewValidationError(fmt.Sprintf("url %q has unsupported scheme %q", raw, parsed.Scheme))
		}
		if _, dup := seen[raw]; dup {
			return fetch.NewValidationError(fmt.Sprintf("duplicate url %q", raw))
		}
		seen[raw] = struct{}{}
	}
	for _, proxy := range opts.Proxies {
		parsed, err := url.Parse(proxy)
		if err != nil || parsed.Host == "" {
			return fetch.NewValidationError(fmt.Sprintf("proxy %q is not a valid url", proxy))
		}
		if _, ok := allowedProxySchemes[strings.ToLower(parsed.Scheme)]; !ok {
			return fetch.NewValidationError(fmt.Sprintf("proxy %q has unsupported scheme %q", proxy, parsed.Scheme))
		}
	}
	if opts.ConcurrencyLimit < 0 {
		return fetch.NewValidationError("concurrency_limit must be >= 1")
	}
	if opts.ConcurrencyLimit > o.limits.MaxConcurrency {
		return fetch.NewValidationError(fmt.Sprintf("concurrency_limit must be <= %d", o.limits.MaxConcurrency))
	}
	if opts.RetryCount < 0 {
		return fetch.NewValidationError("retry_count must be >= 0")
	}
	if opts.WaitMin < 0 || opts.WaitMax < 0 {
		return fetch.NewValidationError("wait bounds must be >= 0")
	}
	if opts.WaitMin > opts.WaitMax {
		return fetch.NewValidationError("wait_min must be <= wait_max")
	}
	if opts.WaitMax > o.limits.MaxWait {
		return fetch.NewValidationError(fmt.Sprintf("wait_max must be <= %s", o.limits.MaxWait))
	}
	switch opts.Engine {
	case "", fetch.EngineBrowser, fetch.EngineSession:
	default:
		return fetch.NewValidationError(fmt.Sprintf("unknown engine %q", opts.Engine))
	}
	return nil
}

func (o *Orchestrator) normalize(opts fetch.Options) fetch.Options {
	if opts.ConcurrencyLimit == 0 {
		opts.ConcurrencyLimit = o.limits.DefaultConcurrency
	}
	if opts.Engine == "" {
		opts.Engine = fetch.EngineBrowser
	}
	return opts
}
