package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ruvinda/webharvest/internal/config"
	"github.com/ruvinda/webharvest/internal/logging"
	"github.com/ruvinda/webharvest/internal/models"
	"github.com/ruvinda/webharvest/pkg/crawler"
	"github.com/ruvinda/webharvest/pkg/reporter"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "webharvest",
	Short: "WebHarvest - polite web crawler with content extraction",
	Long: `WebHarvest crawls websites politely, extracts page content and images,
and appends one JSON record per page to an NDJSON file.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
}

var crawlCmd = &cobra.Command{
	Use:   "crawl [SEED...]",
	Short: "Crawl one or more seed URLs and extract content",
	Args:  cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if len(args) > 0 {
			cfg.Crawl.Seeds = args
		}
		applyFlagOverrides(cmd, cfg)

		logger := logging.New(cfg.Logging)

		c, err := crawler.New(cfg, logger)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		stats, err := c.Run(ctx)
		if err != nil {
			return fmt.Errorf("crawl failed: %w", err)
		}

		format, _ := cmd.Flags().GetString("report-format")
		summary := reporter.Summary{
			Seeds:       cfg.Crawl.Seeds,
			GeneratedAt: time.Now().UTC(),
			Stats:       stats,
			RecordsPath: cfg.Output.Path,
			ImagesDir:   cfg.Output.ImagesDir,
		}
		out, err := reporter.New().Render(summary, format)
		if err != nil {
			return err
		}
		fmt.Print(out)
		return completionError(stats)
	},
}

// completionError turns a crawl that fetched nothing into a non-zero exit:
// every seed was denied, unreachable, or failed, and no output exists.
func completionError(stats models.Stats) error {
	if stats.PagesFetched == 0 {
		return fmt.Errorf("no pages fetched: all seeds were denied, unreachable, or failed")
	}
	return nil
}

// applyFlagOverrides copies explicitly set crawl flags over the loaded
// configuration, so the precedence is flags > config file > defaults.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("max-pages") {
		cfg.Crawl.MaxPages, _ = flags.GetInt("max-pages")
	}
	if flags.Changed("max-depth") {
		cfg.Crawl.MaxDepth, _ = flags.GetInt("max-depth")
	}
	if flags.Changed("workers") {
		cfg.Crawl.MaxWorkers, _ = flags.GetInt("workers")
	}
	if flags.Changed("image-limit") {
		cfg.Crawl.PerPageImageLimit, _ = flags.GetInt("image-limit")
	}
	if flags.Changed("user-agent") {
		cfg.Crawl.UserAgent, _ = flags.GetString("user-agent")
	}
	if flags.Changed("min-delay") {
		cfg.Crawl.MinDelay, _ = flags.GetDuration("min-delay")
	}
	if flags.Changed("all-domains") {
		allDomains, _ := flags.GetBool("all-domains")
		cfg.Crawl.SameRegisteredDomainOnly = !allDomains
	}
	if flags.Changed("extractor") {
		cfg.Extractor.Name, _ = flags.GetString("extractor")
	}
	if flags.Changed("output") {
		cfg.Output.Path, _ = flags.GetString("output")
	}
	if flags.Changed("images-dir") {
		cfg.Output.ImagesDir, _ = flags.GetString("images-dir")
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format, _ = flags.GetString("log-format")
	}
}

func init() {
	crawlCmd.Flags().Int("max-pages", 100, "Maximum number of pages to fetch")
	crawlCmd.Flags().Int("max-depth", 0, "Maximum link depth from the seeds (0 = unlimited)")
	crawlCmd.Flags().Int("workers", 4, "Number of concurrent crawl workers")
	crawlCmd.Flags().Int("image-limit", 5, "Maximum images downloaded per page")
	crawlCmd.Flags().String("user-agent", "", "User-Agent header for all requests")
	crawlCmd.Flags().Duration("min-delay", 500*time.Millisecond, "Minimum delay between requests to the same domain")
	crawlCmd.Flags().Bool("all-domains", false, "Follow links to any domain, not just the seed domains")
	crawlCmd.Flags().String("extractor", "besteffort", "Content extractor (besteffort, article)")
	crawlCmd.Flags().String("output", "", "Path to the NDJSON records file")
	crawlCmd.Flags().String("images-dir", "", "Directory for downloaded images")
	crawlCmd.Flags().String("report-format", "text", "Summary report format (text, json, markdown)")
	crawlCmd.Flags().String("log-level", "", "Log level (debug, info, warn, error)")
	crawlCmd.Flags().String("log-format", "", "Log format (console, json)")

	rootCmd.AddCommand(crawlCmd)

	rootCmd.PersistentFlags().String("config", "", "Config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
