package crawler

import (
	"context"
	"errors"
	"sync"
	"time"

	"interp-crawler/models"
	"interp-crawler/utils"
)

// ErrFrontierExhausted is returned by Next once nothing is queued and
// nothing is in flight.
var ErrFrontierExhausted = errors.New("frontier exhausted")

// Frontier is the run's work queue. URLs are deduplicated for the life of
// the run; a retried task re-enters the queue under the same URL. Tasks
// carrying a context are deduplicated per context, so one page listed under
// two parents is fetched for each.
type Frontier struct {
	mu         sync.Mutex
	queue      []models.CrawlTask
	seen       map[string]struct{}
	inFlight   int
	maxRetries int
	failed     []models.FailedTask
	changed    chan struct{}
	now        func() time.Time
}

func NewFrontier(maxRetries int) *Frontier {
	return &Frontier{
		seen:       make(map[string]struct{}),
		maxRetries: maxRetries,
		changed:    make(chan struct{}),
		now:        time.Now,
	}
}

// broadcast wakes every waiter in Next. Callers hold mu.
func (f *Frontier) broadcast() {
	close(f.changed)
	f.changed = make(chan struct{})
}

// Enqueue adds task unless its URL, within its context, was already seen in
// this run.
func (f *Frontier) Enqueue(task models.CrawlTask) bool {
	key := dedupKey(task)

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, dup := f.seen[key]; dup {
		return false
	}
	f.seen[key] = struct{}{}
	f.queue = append(f.queue, task)
	f.broadcast()
	return true
}

func dedupKey(task models.CrawlTask) string {
	key := utils.NormalizeURL(task.URL)
	if task.Context != "" {
		key += "\x00" + task.Context
	}
	return key
}

// Next hands out the oldest queued task. It blocks while the queue is empty
// but other tasks are still in flight, since those may discover more work.
func (f *Frontier) Next(ctx context.Context) (models.CrawlTask, error) {
	for {
		f.mu.Lock()
		if len(f.queue) > 0 {
			task := f.queue[0]
			f.queue[0] = models.CrawlTask{}
			f.queue = f.queue[1:]
			f.inFlight++
			f.mu.Unlock()
			return task, nil
		}
		if f.inFlight == 0 {
			f.mu.Unlock()
			return models.CrawlTask{}, ErrFrontierExhausted
		}
		wait := f.changed
		f.mu.Unlock()

		select {
		case <-ctx.Done():
			return models.CrawlTask{}, ctx.Err()
		case <-wait:
		}
	}
}

// Done resolves a task handed out by Next.
func (f *Frontier) Done(models.CrawlTask) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.inFlight--
	f.broadcast()
}

// Retry re-enqueues a failed task with one more attempt, or records it as
// terminally failed once it has used up the retry ceiling. It reports
// whether the task was re-enqueued.
func (f *Frontier) Retry(task models.CrawlTask, cause error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.inFlight--
	defer f.broadcast()

	if task.Attempts >= f.maxRetries {
		f.recordFailure(task, cause)
		return false
	}
	task.Attempts++
	f.queue = append(f.queue, task)
	return true
}

// Fail records a task as terminally failed without retrying it.
func (f *Frontier) Fail(task models.CrawlTask, cause error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.inFlight--
	f.recordFailure(task, cause)
	f.broadcast()
}

func (f *Frontier) recordFailure(task models.CrawlTask, cause error) {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	f.failed = append(f.failed, models.FailedTask{Task: task, Error: msg, At: f.now()})
}

// Pending is the number of queued tasks.
func (f *Frontier) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}

// Failed returns the terminally failed tasks in the order they failed.
func (f *Frontier) Failed() []models.FailedTask {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.FailedTask(nil), f.failed...)
}
