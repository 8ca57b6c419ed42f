// Package cmd defines and implements the CLI commands for the econcrawl executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/econ-series-crawler/internal/app"
	"github.com/JakeFAU/econ-series-crawler/internal/config"
	"github.com/JakeFAU/econ-series-crawler/internal/crawler"
	"github.com/JakeFAU/econ-series-crawler/internal/logging"
	"github.com/JakeFAU/econ-series-crawler/internal/scheduler"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the application surface the commands use. Tests inject a fake.
type App interface {
	Close()
	Logger() *zap.Logger
	CheckSchema(ctx context.Context) error
	Migrate(ctx context.Context) error
	CycleOptions() scheduler.Options
	RunCycle(ctx context.Context, opts scheduler.Options) (scheduler.CrawlingReport, error)
	RunContinuous(ctx context.Context, interval time.Duration, opts scheduler.Options) error
	QueueStatistics(ctx context.Context) (crawler.QueueStatistics, error)
	Serve(ctx context.Context) error
}

// newApp is the application factory, swapped out in tests.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

type rootFlags struct {
	configFile  string
	databaseURL string
	apiKeys     []string
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:   "econcrawl",
		Short: "Discovers and crawls economic time series from public statistical providers.",
		Long: `econcrawl keeps a catalogue of economic time series from providers such as
FRED, BLS, the World Bank and the ECB, and crawls them on a priority schedule
through a Postgres-backed work queue.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			logger, err := logging.New(logging.Options{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
				_ = appInstance.Logger().Sync()
			}
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.configFile, "config", "", "config file (yaml, json or toml)")
	pf.StringVar(&flags.databaseURL, "database-url", "", "Postgres connection string (overrides database.url)")
	pf.StringArrayVar(&flags.apiKeys, "api-key", nil, "provider API key as SOURCE=KEY; repeatable")

	cmd.AddCommand(
		newCrawlAllCmd(),
		newCrawlSourceCmd(),
		newServeCmd(),
		newMigrateCmd(),
		newQueueStatsCmd(),
	)
	return cmd
}

func loadConfig(flags *rootFlags) (config.Config, error) {
	cfg, err := config.Load(flags.configFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if flags.databaseURL != "" {
		cfg.Database.URL = flags.databaseURL
	}
	keys, err := parseAPIKeys(flags.apiKeys)
	if err != nil {
		return config.Config{}, err
	}
	return cfg.WithAPIKeys(keys), nil
}

// parseAPIKeys turns repeated SOURCE=KEY flags into a map keyed by the
// upper-cased source name.
func parseAPIKeys(values []string) (map[string]string, error) {
	out := make(map[string]string, len(values))
	for _, v := range values {
		source, key, ok := strings.Cut(v, "=")
		source = strings.TrimSpace(source)
		key = strings.TrimSpace(key)
		if !ok || source == "" || key == "" {
			return nil, fmt.Errorf("invalid --api-key %q: want SOURCE=KEY", v)
		}
		out[strings.ToUpper(source)] = key
	}
	return out, nil
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	ctx := context.Background()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// cycleFlags are shared by crawl-all and crawl-source.
type cycleFlags struct {
	dryRun           bool
	skipDiscovery    bool
	skipDataDownload bool
	seriesCount      int
	interval         time.Duration
}

func (f *cycleFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.BoolVar(&f.dryRun, "dry-run", false, "discover and prioritise but do not enqueue or crawl")
	fs.BoolVar(&f.skipDiscovery, "skip-discovery", false, "crawl the existing catalogue without discovery")
	fs.BoolVar(&f.skipDataDownload, "skip-data-download", false, "run discovery only")
	fs.IntVar(&f.seriesCount, "series-count", 5, "maximum series per source to discover and crawl; 0 means unlimited")
	fs.DurationVar(&f.interval, "interval", 0, "repeat cycles with this pause until interrupted")
}

func (f *cycleFlags) options(cmd *cobra.Command, base scheduler.Options) scheduler.Options {
	opts := base
	opts.DryRun = f.dryRun
	opts.SkipDiscovery = f.skipDiscovery
	opts.SkipDataDownload = f.skipDataDownload
	if cmd.Flags().Changed("series-count") {
		opts.SeriesCount = f.seriesCount
	}
	return opts
}
