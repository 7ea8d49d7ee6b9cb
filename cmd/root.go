// Package cmd implements the interp-crawler command line.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"interp-crawler/config"
	"interp-crawler/crawler"
	"interp-crawler/database"
	"interp-crawler/logger"
	"interp-crawler/metrics"
)

// globalFlags override the matching environment settings when set.
type globalFlags struct {
	logLevel  string
	logFormat string
	workers   int
	rate      int
	retries   int
	batchSize int
	rules     string
}

// app is what every command shares once configuration is loaded.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	rules    crawler.RuleSet
}

func NewRootCommand() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "interp-crawler",
		Short:         "Crawl and index OSHA standard interpretations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error (env LOG_LEVEL)")
	pf.StringVar(&flags.logFormat, "log-format", "", "log format: console or json (env LOG_FORMAT)")
	pf.IntVar(&flags.workers, "workers", 0, "concurrent fetch workers (env WORKERS)")
	pf.IntVar(&flags.rate, "rate", 0, "requests per minute across all workers (env RATE_LIMIT)")
	pf.IntVar(&flags.retries, "max-retries", 0, "retry ceiling for transient failures (env MAX_RETRIES)")
	pf.IntVar(&flags.batchSize, "batch-size", 0, "records per upsert batch (env BATCH_SIZE)")
	pf.StringVar(&flags.rules, "rules", "", "YAML file overriding the extraction selectors (env RULES_FILE)")

	root.AddCommand(newCrawlCommand(flags))
	root.AddCommand(newServeCommand(flags))
	root.AddCommand(newScheduleCommand(flags))

	return root
}

// Execute runs the command line until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return NewRootCommand().ExecuteContext(ctx)
}

func newApp(cmd *cobra.Command, flags *globalFlags) (*app, error) {
	cfg := config.Load()

	pf := cmd.Flags()
	if pf.Changed("log-level") {
		cfg.LogLevel = flags.logLevel
	}
	if pf.Changed("log-format") {
		cfg.LogFormat = flags.logFormat
	}
	if pf.Changed("workers") {
		cfg.Workers = flags.workers
	}
	if pf.Changed("rate") {
		cfg.RateLimit = flags.rate
	}
	if pf.Changed("max-retries") {
		cfg.MaxRetries = flags.retries
	}
	if pf.Changed("batch-size") {
		cfg.BatchSize = flags.batchSize
	}
	if pf.Changed("rules") {
		cfg.RulesFile = flags.rules
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rules := crawler.DefaultRules
	if cfg.RulesFile != "" {
		loaded, err := crawler.LoadRules(cfg.RulesFile)
		if err != nil {
			return nil, err
		}
		rules = loaded
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &app{
		cfg:      cfg,
		log:      logger.New(logger.Config{Level: cfg.LogLevel, Encoding: cfg.LogFormat}),
		registry: reg,
		metrics:  metrics.New(reg),
		rules:    rules,
	}, nil
}

func (a *app) openStore(dryRun bool) (database.Store, error) {
	if dryRun {
		a.log.Info("dry run: records are kept in memory")
		return database.NewMemoryStore(), nil
	}
	store, err := database.NewPostgresStore(a.cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return store, nil
}

// crawlOptions is built once per run. Both pipelines of `crawl all` hit the
// same host, so they share one limiter.
func (a *app) crawlOptions(store database.Upserter) crawler.Options {
	return crawler.Options{
		Scheduler: crawler.SchedulerConfig{
			Limiter:       crawler.NewLimiter(a.cfg.RateLimit),
			RatePerMinute: a.cfg.RateLimit,
			Workers:       a.cfg.Workers,
			MaxRetries:    a.cfg.MaxRetries,
			DetailDelay:   a.cfg.DetailDelay(),
		},
		BatchSize: a.cfg.BatchSize,
		Fetcher:   crawler.NewHTTPFetcher(a.cfg.Timeout(), a.cfg.UserAgent),
		Store:     store,
		Rules:     a.rules,
		Log:       a.log,
		Metrics:   a.metrics,
	}
}
