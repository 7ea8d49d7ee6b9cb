package cmd

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"interp-crawler/api"
	"interp-crawler/database"
)

type scheduleFlags struct {
	spec   string
	runNow bool
	serve  bool
}

func newScheduleCommand(flags *globalFlags) *cobra.Command {
	sf := &scheduleFlags{}

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Re-run the full crawl on a cron schedule until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd, flags)
			if err != nil {
				return err
			}
			defer func() { _ = a.log.Sync() }()

			if !cmd.Flags().Changed("cron") {
				sf.spec = a.cfg.CrawlSchedule
			}

			store, err := database.NewPostgresStore(a.cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer store.Close()

			return a.runSchedule(cmd.Context(), cmd, store, sf)
		},
	}

	cmd.Flags().StringVar(&sf.spec, "cron", "", "five-field cron expression (env CRAWL_SCHEDULE)")
	cmd.Flags().BoolVar(&sf.runNow, "run-now", false, "also crawl once at startup")
	cmd.Flags().BoolVar(&sf.serve, "serve", false, "serve the read API and crawl metrics while scheduling")
	return cmd
}

func (a *app) runSchedule(ctx context.Context, cmd *cobra.Command, store database.Store, sf *scheduleFlags) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	g, gctx := errgroup.WithContext(ctx)

	id, err := c.AddFunc(sf.spec, func() {
		a.log.Info("scheduled crawl starting")
		if err := a.runCrawl(gctx, cmd.OutOrStdout(), store, targetAll, ""); err != nil {
			a.log.Error("scheduled crawl failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", sf.spec, err)
	}

	if sf.serve {
		gin.SetMode(gin.ReleaseMode)
		g.Go(func() error {
			return api.Serve(gctx, a.cfg.APIAddr, api.NewRouter(store, a.log, a.registry), a.log)
		})
	}

	c.Start()
	a.log.Info("scheduler started", "cron", sf.spec, "next", c.Entry(id).Next.String())
	if sf.runNow {
		// The wrapped job shares the skip-if-running guard with scheduled runs.
		g.Go(func() error {
			c.Entry(id).WrappedJob.Run()
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("scheduler stopping, waiting for a running crawl")
		<-c.Stop().Done()
		return nil
	})

	return g.Wait()
}
