package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/econ-series-crawler/internal/scheduler"
)

// newCrawlAllCmd creates the 'crawl-all' subcommand, which runs a cycle
// across every crawlable source.
func newCrawlAllCmd() *cobra.Command {
	flags := &cycleFlags{}
	cmd := &cobra.Command{
		Use:   "crawl-all",
		Short: "Runs a crawl cycle across all enabled sources",
		Long: `Discovers new series, scores every catalogued series that is due, enqueues
the highest priority ones and crawls them. Individual series failures are
recorded in the report; the command only fails on startup or storage errors.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCycleCommand(cmd, flags, "")
		},
	}
	flags.register(cmd)
	return cmd
}

// newCrawlSourceCmd creates the 'crawl-source' subcommand.
func newCrawlSourceCmd() *cobra.Command {
	flags := &cycleFlags{}
	cmd := &cobra.Command{
		Use:   "crawl-source SOURCE",
		Short: "Runs a crawl cycle for a single source",
		Example: `  econcrawl crawl-source fred --series-count 10
  econcrawl crawl-source world_bank --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCycleCommand(cmd, flags, args[0])
		},
	}
	flags.register(cmd)
	return cmd
}

func runCycleCommand(cmd *cobra.Command, flags *cycleFlags, source string) error {
	ctx := cmd.Context()
	appInstance, err := resolveApp(ctx)
	if err != nil {
		return err
	}
	if err := appInstance.CheckSchema(ctx); err != nil {
		return fmt.Errorf("database not ready (run 'econcrawl migrate'): %w", err)
	}

	opts := flags.options(cmd, appInstance.CycleOptions())
	opts.SourceFilter = source

	if flags.interval > 0 {
		err := appInstance.RunContinuous(ctx, flags.interval, opts)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("continuous crawl: %w", err)
		}
		return nil
	}

	report, err := appInstance.RunCycle(ctx, opts)
	if err != nil {
		return fmt.Errorf("crawl cycle: %w", err)
	}
	printReport(cmd.OutOrStdout(), report)
	appInstance.Logger().Info("crawl command finished",
		zap.Int("series_crawled", report.TotalSeriesCrawled),
		zap.Int("errors", len(report.Errors)))
	return nil
}

func printReport(w io.Writer, r scheduler.CrawlingReport) {
	if r.DryRun {
		fmt.Fprintf(w, "dry run: %d candidates\n", len(r.Candidates))
		for _, c := range r.Candidates {
			fmt.Fprintf(w, "  p%-2d %4d  %-10s %s\n", c.Priority, c.Score, c.Source.Name, c.Series.ExternalID)
		}
		return
	}
	if r.Discovery != nil {
		fmt.Fprintf(w, "discovered %d series (%d new)\n", r.Discovery.TotalDiscovered, r.Discovery.NewSeries)
	}
	fmt.Fprintf(w, "enqueued %d, crawled %d series, %d new data points, %d errors\n",
		r.Enqueued, r.TotalSeriesCrawled, r.TotalNewDataPoints, len(r.Errors))
	for _, si := range r.Insights.Sources {
		fmt.Fprintf(w, "  %-12s %d/%d (%.0f%%)\n", si.Source, si.Successful, si.Attempts, si.SuccessRate)
	}
	for _, rec := range r.Insights.Recommendations {
		fmt.Fprintf(w, "  ! %s\n", rec)
	}
}
