package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"interp-crawler/logger"
	"interp-crawler/metrics"
	"interp-crawler/models"
	"interp-crawler/utils"
)

var ErrInvalidStartURL = errors.New("invalid start url")

// Handler extracts one fetched page and returns the tasks it discovered.
type Handler func(ctx context.Context, task models.CrawlTask, doc *goquery.Document) ([]models.CrawlTask, error)

type SchedulerConfig struct {
	RatePerMinute int
	Workers       int
	MaxRetries    int
	DetailDelay   time.Duration
	// Limiter, when set, is used instead of one built from RatePerMinute.
	// Schedulers crawling the same host at the same time must share it.
	Limiter *rate.Limiter
}

// NewLimiter spaces requests evenly at perMinute per minute with no burst.
func NewLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
}

// Scheduler drains a Frontier with a fixed pool of workers. Every fetch,
// across all workers, waits on one shared limiter.
type Scheduler struct {
	fetcher     Fetcher
	frontier    *Frontier
	limiter     *rate.Limiter
	workers     int
	detailDelay time.Duration
	handlers    map[models.PageType]Handler
	log         logger.Interface
	metrics     *metrics.Metrics

	fetched atomic.Int64
	failed  atomic.Int64
	retries atomic.Int64
}

func NewScheduler(cfg SchedulerConfig, fetcher Fetcher, log logger.Interface, m *metrics.Metrics) *Scheduler {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = NewLimiter(cfg.RatePerMinute)
	}
	return &Scheduler{
		fetcher:     fetcher,
		frontier:    NewFrontier(cfg.MaxRetries),
		limiter:     limiter,
		workers:     workers,
		detailDelay: cfg.DetailDelay,
		handlers:    make(map[models.PageType]Handler),
		log:         log,
		metrics:     m,
	}
}

// Handle registers the handler for a page type. Handlers must be registered
// before Run.
func (s *Scheduler) Handle(pageType models.PageType, h Handler) {
	s.handlers[pageType] = h
}

// Run seeds the frontier and blocks until it is exhausted or ctx is done.
// The returned stats are valid in both cases; a cancelled run also returns
// ctx.Err().
func (s *Scheduler) Run(ctx context.Context, seeds ...models.CrawlTask) (*models.CrawlStats, error) {
	start := time.Now()

	for _, seed := range seeds {
		if !utils.IsValidURL(seed.URL) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidStartURL, seed.URL)
		}
		if _, ok := s.handlers[seed.Type]; !ok {
			return nil, fmt.Errorf("no handler registered for %q pages", seed.Type)
		}
	}
	for _, seed := range seeds {
		s.frontier.Enqueue(seed)
	}
	s.metrics.SetFrontierPending(s.frontier.Pending())

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go s.worker(ctx, &wg, i)
	}
	wg.Wait()

	stats := &models.CrawlStats{
		PagesFetched: int(s.fetched.Load()),
		PagesFailed:  int(s.failed.Load()),
		Retries:      int(s.retries.Load()),
		Duration:     time.Since(start),
		Failed:       s.frontier.Failed(),
	}
	return stats, ctx.Err()
}

func (s *Scheduler) worker(ctx context.Context, wg *sync.WaitGroup, id int) {
	defer wg.Done()
	log := s.log.With("worker", id)

	for {
		task, err := s.frontier.Next(ctx)
		if err != nil {
			if !errors.Is(err, ErrFrontierExhausted) {
				log.Debug("worker stopping", "error", err)
			}
			return
		}
		s.metrics.SetFrontierPending(s.frontier.Pending())

		if ok := s.process(ctx, log, task); ok && task.Type == models.PageDetail {
			s.pause(ctx)
		}
	}
}

// process resolves one task with the frontier and reports whether the page
// was fetched and handled.
func (s *Scheduler) process(ctx context.Context, log logger.Interface, task models.CrawlTask) bool {
	pageType := string(task.Type)

	if err := s.limiter.Wait(ctx); err != nil {
		s.frontier.Done(task)
		return false
	}

	started := time.Now()
	doc, err := s.fetcher.Fetch(ctx, task.URL)
	if err != nil {
		if ctx.Err() != nil {
			s.frontier.Done(task)
			return false
		}
		s.fail(log, task, err, IsRetryable(err))
		return false
	}

	handler, ok := s.handlers[task.Type]
	if !ok {
		s.fail(log, task, fmt.Errorf("no handler registered for %q pages", task.Type), false)
		return false
	}

	derived, err := handler(ctx, task, doc)
	if err != nil {
		s.fail(log, task, err, false)
		return false
	}
	s.fetched.Add(1)
	s.metrics.ObserveFetch(pageType, time.Since(started).Seconds())

	for _, next := range derived {
		if !utils.IsValidURL(next.URL) {
			log.Debug("skipping invalid link", "url", next.URL, "from", task.URL)
			continue
		}
		s.frontier.Enqueue(next)
	}
	s.frontier.Done(task)
	s.metrics.SetFrontierPending(s.frontier.Pending())

	log.Debug("page processed", "url", task.URL, "type", pageType, "discovered", len(derived))
	return true
}

func (s *Scheduler) fail(log logger.Interface, task models.CrawlTask, err error, retryable bool) {
	pageType := string(task.Type)

	if retryable && s.frontier.Retry(task, err) {
		s.retries.Add(1)
		s.metrics.ObserveRetry(pageType)
		log.Warn("fetch failed, retrying", "url", task.URL, "attempt", task.Attempts+1, "error", err)
		return
	}
	if !retryable {
		s.frontier.Fail(task, err)
	}
	s.failed.Add(1)
	s.metrics.ObserveFailure(pageType)
	log.Error("task abandoned", "url", task.URL, "type", pageType, "attempts", task.Attempts, "error", err)
}

func (s *Scheduler) pause(ctx context.Context) {
	if s.detailDelay <= 0 {
		return
	}
	t := time.NewTimer(s.detailDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
