package crawler

import (
	"context"
	"time"

	"github.com/PuerkitoBio/goquery"

	"interp-crawler/database"
	"interp-crawler/index"
	"interp-crawler/logger"
	"interp-crawler/metrics"
	"interp-crawler/models"
)

// PublicationSink receives every publication a run produces, in addition to
// the store. The backup writer implements it.
type PublicationSink interface {
	WritePublication(models.Publication) error
}

// Options carries what both crawl pipelines share.
type Options struct {
	Scheduler SchedulerConfig
	BatchSize int
	Fetcher   Fetcher
	Store     database.Upserter
	Rules     RuleSet
	Log       logger.Interface
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now().UTC()
}

func (o Options) rules() RuleSet {
	if o.Rules.Version == "" {
		return DefaultRules
	}
	return o.Rules
}

type PublicationsResult struct {
	Stats *models.CrawlStats
	Index models.OrganizedIndex
}

type publicationsPipeline struct {
	opts    Options
	rules   RuleSet
	batcher *database.Batcher
	acc     *index.Accumulator
	sink    PublicationSink
	log     logger.Interface
}

// CrawlPublications walks the paginated publication listing from startURL,
// stores every detail page as a publication and, once the frontier is
// exhausted, saves the organized index built from this run's records.
func CrawlPublications(ctx context.Context, opts Options, startURL string, sink PublicationSink) (*PublicationsResult, error) {
	log := opts.Log.With("pipeline", "publications")
	p := &publicationsPipeline{
		opts:    opts,
		rules:   opts.rules(),
		batcher: database.NewBatcher(opts.Store, models.PublicationsCollection, models.PublicationKey, opts.BatchSize, log, opts.Metrics),
		acc:     index.NewAccumulator(),
		sink:    sink,
		log:     log,
	}

	sched := NewScheduler(opts.Scheduler, opts.Fetcher, log, opts.Metrics)
	sched.Handle(models.PageListing, p.handleListing)
	sched.Handle(models.PageDetail, p.handleDetail)

	log.Info("crawl started", "start_url", startURL, "rules", p.rules.Version)
	stats, runErr := sched.Run(ctx, models.CrawlTask{URL: startURL, Type: models.PageListing})
	if stats == nil {
		return nil, runErr
	}

	// Records already extracted are persisted even when the run was cancelled.
	flushCtx := context.WithoutCancel(ctx)
	p.batcher.Close(flushCtx)

	idx := p.acc.Snapshot(p.opts.now())
	if err := index.Save(flushCtx, opts.Store, idx); err != nil {
		log.Error("index save failed", "error", err)
	} else {
		log.Info("index saved", "dates", len(idx.ByDate), "standards", len(idx.ByStandardNumber))
	}

	stats.Records = p.acc.Len()
	stats.BatchesFlushed = p.batcher.Flushes()
	stats.BatchesFailed = p.batcher.Failures()

	log.Info("crawl finished",
		"pages", stats.PagesFetched,
		"failed", stats.PagesFailed,
		"records", stats.Records,
		"stored", p.batcher.Written(),
		"duration", stats.Duration.String(),
	)
	return &PublicationsResult{Stats: stats, Index: idx}, runErr
}

func (p *publicationsPipeline) handleListing(_ context.Context, task models.CrawlTask, doc *goquery.Document) ([]models.CrawlTask, error) {
	res := p.rules.ExtractListing(doc, task.URL)

	tasks := make([]models.CrawlTask, 0, len(res.DetailLinks)+1)
	for _, link := range res.DetailLinks {
		tasks = append(tasks, models.CrawlTask{URL: link, Type: models.PageDetail})
	}
	if res.NextPage != "" {
		tasks = append(tasks, models.CrawlTask{URL: res.NextPage, Type: models.PageListing})
	}

	p.log.Info("listing page extracted", "url", task.URL, "details", len(res.DetailLinks), "has_next", res.NextPage != "")
	return tasks, nil
}

func (p *publicationsPipeline) handleDetail(ctx context.Context, task models.CrawlTask, doc *goquery.Document) ([]models.CrawlTask, error) {
	pub := p.rules.ExtractDetail(doc, task.URL, p.opts.now())

	if !p.acc.Add(pub) {
		return nil, nil
	}
	p.opts.Metrics.ObserveRecord(models.PublicationsCollection)
	p.batcher.Record(context.WithoutCancel(ctx), pub)

	if p.sink != nil {
		if err := p.sink.WritePublication(pub); err != nil {
			p.log.Warn("backup write failed", "url", pub.URL, "error", err)
		}
	}
	return nil, nil
}
