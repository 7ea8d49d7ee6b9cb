package crawler

import (
	"context"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"interp-crawler/database"
	"interp-crawler/logger"
	"interp-crawler/models"
)

// Taxonomy is the standards tree assembled during a run. Top-level numbers
// keep their discovery order; children are unique per parent.
type Taxonomy struct {
	mu       sync.Mutex
	order    []string
	nodes    map[string]*models.StandardNode
	children map[string]map[string]struct{}
}

func NewTaxonomy() *Taxonomy {
	return &Taxonomy{
		nodes:    make(map[string]*models.StandardNode),
		children: make(map[string]map[string]struct{}),
	}
}

// AddRoot inserts node unless its number is already present.
func (t *Taxonomy) AddRoot(node models.StandardNode) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, dup := t.nodes[node.StandardNumber]; dup {
		return false
	}
	if node.Children == nil {
		node.Children = []models.StandardChild{}
	}
	t.order = append(t.order, node.StandardNumber)
	t.nodes[node.StandardNumber] = &node
	t.children[node.StandardNumber] = make(map[string]struct{})
	return true
}

// AddChildren attaches children to parent and returns how many were new.
// An unknown parent accepts nothing.
func (t *Taxonomy) AddChildren(parent string, children []models.StandardChild) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.nodes[parent]
	if !ok {
		return 0
	}
	added := 0
	for _, c := range children {
		if _, dup := t.children[parent][c.StandardNumber]; dup {
			continue
		}
		t.children[parent][c.StandardNumber] = struct{}{}
		node.Children = append(node.Children, c)
		added++
	}
	return added
}

// Nodes returns a copy of the tree in discovery order.
func (t *Taxonomy) Nodes() []models.StandardNode {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]models.StandardNode, 0, len(t.order))
	for _, num := range t.order {
		n := *t.nodes[num]
		n.Children = append([]models.StandardChild{}, n.Children...)
		out = append(out, n)
	}
	return out
}

type StandardsResult struct {
	Stats *models.CrawlStats
	Nodes []models.StandardNode
}

type standardsPipeline struct {
	rules RuleSet
	tree  *Taxonomy
	log   logger.Interface
}

// CrawlStandards fetches the standards taxonomy root at rootURL and every
// standard page it links to, then stores one document per top-level standard.
func CrawlStandards(ctx context.Context, opts Options, rootURL string) (*StandardsResult, error) {
	log := opts.Log.With("pipeline", "standards")
	p := &standardsPipeline{
		rules: opts.rules(),
		tree:  NewTaxonomy(),
		log:   log,
	}

	sched := NewScheduler(opts.Scheduler, opts.Fetcher, log, opts.Metrics)
	sched.Handle(models.PageTaxonomyRoot, p.handleRoot)
	sched.Handle(models.PageTaxonomyChild, p.handleChild)

	log.Info("crawl started", "start_url", rootURL, "rules", p.rules.Version)
	stats, runErr := sched.Run(ctx, models.CrawlTask{URL: rootURL, Type: models.PageTaxonomyRoot})
	if stats == nil {
		return nil, runErr
	}

	nodes := p.tree.Nodes()
	batcher := database.NewBatcher(opts.Store, models.StandardsCollection, models.StandardKey, opts.BatchSize, log, opts.Metrics)
	flushCtx := context.WithoutCancel(ctx)
	for _, n := range nodes {
		opts.Metrics.ObserveRecord(models.StandardsCollection)
		batcher.Record(flushCtx, n)
	}
	batcher.Close(flushCtx)

	stats.Records = len(nodes)
	stats.BatchesFlushed = batcher.Flushes()
	stats.BatchesFailed = batcher.Failures()

	log.Info("crawl finished",
		"pages", stats.PagesFetched,
		"failed", stats.PagesFailed,
		"standards", stats.Records,
		"stored", batcher.Written(),
		"duration", stats.Duration.String(),
	)
	return &StandardsResult{Stats: stats, Nodes: nodes}, runErr
}

func (p *standardsPipeline) handleRoot(_ context.Context, task models.CrawlTask, doc *goquery.Document) ([]models.CrawlTask, error) {
	nodes := p.rules.ExtractTaxonomyRoot(doc, task.URL)

	var tasks []models.CrawlTask
	for _, n := range nodes {
		if !p.tree.AddRoot(n) {
			continue
		}
		if n.URL == "" {
			p.log.Warn("standard has no page link, children skipped", "standard", n.StandardNumber)
			continue
		}
		tasks = append(tasks, models.CrawlTask{
			URL:     n.URL,
			Type:    models.PageTaxonomyChild,
			Context: n.StandardNumber,
		})
	}

	p.log.Info("taxonomy root extracted", "url", task.URL, "standards", len(nodes))
	return tasks, nil
}

func (p *standardsPipeline) handleChild(_ context.Context, task models.CrawlTask, doc *goquery.Document) ([]models.CrawlTask, error) {
	children := p.rules.ExtractTaxonomyChildren(doc, task.URL)
	added := p.tree.AddChildren(task.Context, children)

	p.log.Debug("taxonomy children extracted", "parent", task.Context, "children", added)
	return nil, nil
}
