package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"interp-crawler/crawler"
	"interp-crawler/database"
	"interp-crawler/models"
	"interp-crawler/report"
)

const (
	targetPublications = "publications"
	targetStandards    = "standards"
	targetAll          = "all"
)

type crawlFlags struct {
	dryRun bool
	backup string
}

func newCrawlCommand(flags *globalFlags) *cobra.Command {
	cf := &crawlFlags{}

	cmd := &cobra.Command{
		Use:       "crawl [publications|standards|all]",
		Short:     "Run a crawl pipeline once",
		Long:      "Crawl the publication listing, the standards taxonomy, or both side by side, and store the results.",
		ValidArgs: []string{targetPublications, targetStandards, targetAll},
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, flags)
			if err != nil {
				return err
			}
			defer func() { _ = a.log.Sync() }()

			store, err := a.openStore(cf.dryRun)
			if err != nil {
				return err
			}
			defer store.Close()

			return a.runCrawl(cmd.Context(), cmd.OutOrStdout(), store, args[0], cf.backup)
		},
	}

	cmd.Flags().BoolVar(&cf.dryRun, "dry-run", false, "crawl without a database, keeping records in memory")
	cmd.Flags().StringVar(&cf.backup, "backup", "", "also write publications as NDJSON to this file, with the index next to it")

	return cmd
}

// runCrawl runs the selected pipelines against store and prints a summary of
// each. A cancelled run still reports and persists what it gathered.
func (a *app) runCrawl(ctx context.Context, out io.Writer, store database.Upserter, target, backupPath string) error {
	opts := a.crawlOptions(store)

	var backup *report.Backup
	if backupPath != "" && target != targetStandards {
		b, err := report.NewBackup(backupPath)
		if err != nil {
			return err
		}
		backup = b
	}

	var (
		mu      sync.Mutex
		pubs    *crawler.PublicationsResult
		stds    *crawler.StandardsResult
		g       errgroup.Group
		crawled = func(name string, stats *models.CrawlStats) {
			mu.Lock()
			defer mu.Unlock()
			report.Summary(out, name, stats)
		}
	)

	if target == targetPublications || target == targetAll {
		g.Go(func() error {
			var sink crawler.PublicationSink
			if backup != nil {
				sink = backup
			}
			res, err := crawler.CrawlPublications(ctx, opts, a.cfg.PublicationsURL, sink)
			if res != nil {
				pubs = res
				crawled(targetPublications, res.Stats)
			}
			return err
		})
	}
	if target == targetStandards || target == targetAll {
		g.Go(func() error {
			res, err := crawler.CrawlStandards(ctx, opts, a.cfg.StandardsURL)
			if res != nil {
				stds = res
				crawled(targetStandards, res.Stats)
			}
			return err
		})
	}

	runErr := g.Wait()

	if backup != nil {
		if pubs != nil {
			if err := backup.WriteIndex(pubs.Index); err != nil {
				a.log.Error("index backup failed", "error", err)
			}
		}
		if err := backup.Close(); err != nil {
			a.log.Error("backup close failed", "error", err)
		} else {
			a.log.Info("backup written", "path", backupPath, "publications", backup.Count(), "index", backup.IndexPath())
		}
	}

	if stds != nil {
		a.log.Debug("standards stored", "top_level", len(stds.Nodes))
	}

	if errors.Is(runErr, context.Canceled) {
		a.log.Warn("crawl interrupted")
		return nil
	}
	if runErr != nil {
		return fmt.Errorf("crawl %s: %w", target, runErr)
	}
	return nil
}
