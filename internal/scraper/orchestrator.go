// Package scraper executes validated scraping tasks end to end: proxy
// selection, browser session lifecycle, per-page extraction, pagination,
// retries, and billing accounting.
package scraper

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/fetchlab/harvester/internal/proxy"
	"github.com/fetchlab/harvester/internal/taskconfig"
)

// Task terminal states.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	// StatusPartial is reserved in the result schema; the runner currently
	// resolves every task to completed or failed.
	StatusPartial = "partial"
)

// minComputeUnits is the billing floor: even an instant task is charged a
// tenth of a unit.
const minComputeUnits = 0.1

// sessionInitAttempts bounds browser launch retries within one task attempt.
const sessionInitAttempts = 3

// TaskResult is the persisted outcome of one task execution.
type TaskResult struct {
	TaskID           string                   `json:"task_id"`
	Status           string                   `json:"status"`
	Data             []map[string]interface{} `json:"data"`
	PagesScraped     int                      `json:"pages_scraped"`
	TotalRecords     int                      `json:"total_records"`
	ComputeUnitsUsed float64                  `json:"compute_units_used"`
	ExecutionTime    float64                  `json:"execution_time"`
	Errors           []string                 `json:"errors"`
	Warnings         []string                 `json:"warnings"`
	Metadata         map[string]interface{}   `json:"metadata"`
	CreatedAt        time.Time                `json:"created_at"`
}

// PageSession is the slice of a browser session the orchestrator drives.
// browser.Session satisfies it.
type PageSession interface {
	PageDriver
	Navigate(ctx context.Context, url string) error
	HTML(ctx context.Context) (string, error)
	Location(ctx context.Context) (string, error)
	Close()
}

// SessionFactory opens a browser session for a task attempt, optionally
// routed through the given proxy endpoint.
type SessionFactory func(ctx context.Context, cfg *taskconfig.TaskConfig, ep *proxy.Endpoint) (PageSession, error)

// ProxySource is the slice of the proxy pool the orchestrator depends on.
type ProxySource interface {
	Get(opts proxy.GetOptions) *proxy.Endpoint
	MarkSuccess(ep *proxy.Endpoint)
	MarkFailed(ep *proxy.Endpoint)
}

// ResultSink persists a finished task result and returns where it landed.
type ResultSink interface {
	Write(ctx context.Context, result *TaskResult) (string, error)
}

// MetricsRecorder receives task-level observations. Implementations must be
// safe for concurrent use.
type MetricsRecorder interface {
	ObserveTask(status string, duration time.Duration, pages int, computeUnits float64)
	ObserveProxyFailure()
}

// Runner executes tasks. One Runner serves many tasks concurrently; all
// per-task state lives in the Run call.
type Runner struct {
	proxies   ProxySource
	sessions  SessionFactory
	extractor *Extractor
	sink      ResultSink
	metrics   MetricsRecorder
	log       zerolog.Logger
}

// NewRunner wires a task runner. proxies may be nil when no pool is
// configured; metrics may be nil.
func NewRunner(proxies ProxySource, sessions SessionFactory, sink ResultSink, metrics MetricsRecorder, log zerolog.Logger) *Runner {
	return &Runner{
		proxies:   proxies,
		sessions:  sessions,
		extractor: NewExtractor(log),
		sink:      sink,
		metrics:   metrics,
		log:       log.With().Str("component", "runner").Logger(),
	}
}

// Run executes one task to completion, including retries, and always
// persists the result before returning. The returned result's Status says
// whether the task succeeded; the error return is reserved for persistence
// problems.
func (r *Runner) Run(ctx context.Context, taskID string, cfg *taskconfig.TaskConfig) (*TaskResult, error) {
	start := time.Now()
	log := r.log.With().Str("task_id", taskID).Logger()

	result := &TaskResult{
		TaskID:    taskID,
		Status:    StatusFailed,
		Data:      []map[string]interface{}{},
		Errors:    []string{},
		Warnings:  []string{},
		Metadata:  map[string]interface{}{"url": cfg.URL},
		CreatedAt: start.UTC(),
	}

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			log.Info().Int("attempt", attempt+1).Msg("retrying task")
			r.pause(ctx, time.Duration(cfg.RetryDelay)*time.Millisecond)
		}

		err := r.runAttempt(ctx, cfg, result, log)
		if err == nil {
			result.Status = StatusCompleted
			break
		}

		te := classify(err)
		log.Warn().Int("attempt", attempt+1).Str("kind", string(te.Kind)).Err(te.Err).Msg("task attempt failed")

		if te.Kind == KindProxyFailure && r.metrics != nil {
			r.metrics.ObserveProxyFailure()
		}
		if !te.Retryable {
			result.Errors = append(result.Errors, te.Error())
			break
		}
		if attempt == cfg.MaxRetries {
			result.Errors = append(result.Errors, te.Error())
			result.Errors = append(result.Errors,
				newTaskError(KindMaxRetries, false, fmt.Errorf("task failed after %d attempts", attempt+1)).Error())
			break
		}
		// Another attempt follows, so the failure is informational.
		result.Warnings = append(result.Warnings, fmt.Sprintf("Retry %d: %s", attempt+1, te.Error()))
	}

	result.TotalRecords = len(result.Data)
	if result.Status == StatusCompleted && len(result.Data) == 0 {
		result.Status = StatusFailed
		result.Errors = append(result.Errors, "task produced no data: no pages were extracted")
	}

	elapsed := time.Since(start)
	result.ExecutionTime = elapsed.Seconds()
	result.ComputeUnitsUsed = computeUnits(elapsed)
	result.Metadata["finished_at"] = time.Now().UTC().Format(time.RFC3339)

	if r.metrics != nil {
		r.metrics.ObserveTask(result.Status, elapsed, result.PagesScraped, result.ComputeUnitsUsed)
	}

	path, err := r.sink.Write(ctx, result)
	if err != nil {
		log.Error().Err(err).Msg("failed to persist task result")
		return result, fmt.Errorf("failed to persist result for task %s: %w", taskID, err)
	}
	result.Metadata["results_file"] = path

	log.Info().
		Str("status", result.Status).
		Int("pages", result.PagesScraped).
		Int("records", result.TotalRecords).
		Float64("compute_units", result.ComputeUnitsUsed).
		Msg("task finished")
	return result, nil
}

// runAttempt performs one full scrape pass. Data accumulated by earlier
// failed attempts is discarded so a successful retry starts clean.
func (r *Runner) runAttempt(ctx context.Context, cfg *taskconfig.TaskConfig, result *TaskResult, log zerolog.Logger) error {
	result.Data = result.Data[:0]
	result.PagesScraped = 0

	session, ep, err := r.openSession(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer session.Close()

	if ep != nil {
		result.Metadata["proxy"] = ep.ID()
		result.Metadata["proxy_country"] = ep.Country
	}

	if err := session.Navigate(ctx, cfg.URL); err != nil {
		te := classify(err)
		if te.Kind == KindScraping {
			te = newTaskError(KindNavigation, true, err)
		}
		if te.Kind == KindProxyFailure && ep != nil {
			r.proxies.MarkFailed(ep)
		}
		return te
	}

	if err := r.scrapePages(ctx, cfg, session, result, log); err != nil {
		te := classify(err)
		if te.Kind == KindProxyFailure && ep != nil {
			r.proxies.MarkFailed(ep)
		}
		return te
	}

	if ep != nil {
		r.proxies.MarkSuccess(ep)
	}
	return nil
}

// sessionInitBackoff is the base of the exponential pause between browser
// launch attempts.
var sessionInitBackoff = time.Second

// openSession acquires a proxy and launches the browser, retrying transient
// failures with exponential backoff. Every failed launch reports its proxy
// as failed so the next attempt acquires a fresh one.
func (r *Runner) openSession(ctx context.Context, cfg *taskconfig.TaskConfig, log zerolog.Logger) (PageSession, *proxy.Endpoint, error) {
	var lastErr error
	for i := 0; i < sessionInitAttempts; i++ {
		if i > 0 {
			r.pause(ctx, sessionInitBackoff*time.Duration(1<<uint(i-1)))
		}
		ep, err := r.acquireProxy(cfg)
		if err != nil {
			return nil, nil, err
		}
		session, err := r.sessions(ctx, cfg, ep)
		if err == nil {
			return session, ep, nil
		}
		lastErr = err
		log.Warn().Int("attempt", i+1).Err(err).Msg("browser launch failed")
		if ep != nil {
			r.proxies.MarkFailed(ep)
		}
	}

	if isProxyError(lastErr) {
		return nil, nil, newTaskError(KindProxyFailure, true, lastErr)
	}
	return nil, nil, newTaskError(KindBrowserInit, true, lastErr)
}

// acquireProxy selects an endpoint when the task asked for one.
func (r *Runner) acquireProxy(cfg *taskconfig.TaskConfig) (*proxy.Endpoint, error) {
	if !cfg.Proxy.Enabled || r.proxies == nil {
		return nil, nil
	}
	ep := r.proxies.Get(proxy.GetOptions{
		Country: cfg.Proxy.Country,
		Sticky:  cfg.Proxy.StickySession,
	})
	if ep == nil {
		return nil, newTaskError(KindProxyFailure, true,
			fmt.Errorf("no healthy proxy available for country %q", cfg.Proxy.Country))
	}
	return ep, nil
}

// scrapePages extracts the current page and walks pagination until it runs
// out. Pagination failures end the walk with a warning; pages already
// extracted are kept.
func (r *Runner) scrapePages(ctx context.Context, cfg *taskconfig.TaskConfig, session PageSession, result *TaskResult, log zerolog.Logger) error {
	paginator := NewPaginator(cfg.Pagination, session, log)
	limiter := pageLimiter(cfg.RateLimit)

	for {
		html, err := session.HTML(ctx)
		if err != nil {
			return err
		}

		pageURL, err := session.Location(ctx)
		if err != nil || pageURL == "" {
			pageURL = cfg.URL
		}

		record, warnings, err := r.extractor.Extract(html, cfg.Fields, pageURL)
		if err != nil {
			return newTaskError(KindScraping, true, err)
		}
		result.Data = append(result.Data, record)
		result.Warnings = append(result.Warnings, warnings...)
		result.PagesScraped = paginator.Page()

		if !paginator.HasNext(ctx) {
			return nil
		}

		r.pacePage(ctx, cfg.RateLimit, limiter)
		if err := paginator.Advance(ctx); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("pagination stopped on page %d: %v", paginator.Page(), err))
			log.Warn().Err(err).Int("page", paginator.Page()).Msg("pagination ended early")
			return nil
		}
	}
}

// pageLimiter builds the per-task rate limiter from the task's cadence.
func pageLimiter(spec taskconfig.RateLimitSpec) *rate.Limiter {
	rpm := spec.RequestsPerMinute
	if rpm <= 0 {
		rpm = 30
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
}

// pacePage enforces the configured pause before loading the next page: the
// rate limiter, the fixed delay, and optional random jitter.
func (r *Runner) pacePage(ctx context.Context, spec taskconfig.RateLimitSpec, limiter *rate.Limiter) {
	if err := limiter.Wait(ctx); err != nil {
		return
	}
	delay := time.Duration(spec.DelayBetweenRequests) * time.Millisecond
	if spec.RandomDelay && spec.MaxRandomDelay > 0 {
		delay += randomJitter(spec.MaxRandomDelay)
	}
	r.pause(ctx, delay)
}

func (r *Runner) pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

func randomJitter(maxMillis int) time.Duration {
	return time.Duration(rand.Intn(maxMillis+1)) * time.Millisecond
}

// computeUnits converts wall-clock runtime to billed units with the minimum
// charge applied.
func computeUnits(elapsed time.Duration) float64 {
	units := elapsed.Minutes()
	if units < minComputeUnits {
		return minComputeUnits
	}
	return units
}
