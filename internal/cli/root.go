package cmd

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/kellanvoss/linkgraph/internal/api"
	"github.com/kellanvoss/linkgraph/internal/build"
	"github.com/kellanvoss/linkgraph/internal/config"
	"github.com/kellanvoss/linkgraph/internal/crawler"
	"github.com/kellanvoss/linkgraph/internal/extractor"
	"github.com/kellanvoss/linkgraph/internal/fetcher"
	"github.com/kellanvoss/linkgraph/internal/graph"
	"github.com/kellanvoss/linkgraph/internal/jobstore"
	"github.com/kellanvoss/linkgraph/internal/metadata"
	"github.com/kellanvoss/linkgraph/internal/robots"
	"github.com/kellanvoss/linkgraph/pkg/limiter"
	"github.com/kellanvoss/linkgraph/pkg/urlutil"
	"github.com/spf13/cobra"
)

/*
Responsibilities

- Parse flags/config file into a config.Config
- Wire the job store, robots cache, and HTTP server together for `serve`
- Offer `crawl`/`report` subcommands for scripting without the server running

Replaces the source's single seed-url/max-depth/output-dir command with
subcommands matching the new Config shape (spec.md §4.8).
*/

var (
	cfgFile       string
	addr          string
	dbPath        string
	userAgent     string
	maxPages      int
	maxConcurrent int
	requestDelay  time.Duration
	jitter        time.Duration
	randomSeed    int64
	respectRobots bool
	timeout       time.Duration
	targetDomain  string
)

var rootCmd = &cobra.Command{
	Use:     "linkgraphd",
	Short:   "A local-only link graph crawler and backlink analyzer.",
	Version: build.FullVersion(),
	Long: `linkgraphd crawls a target domain's pages and the pages that link to
it, builds a simple backlink graph, and serves the result over HTTP.

It approximates, on a single machine, what a hosted off-page SEO tool
gives you: referring domain counts, follow/nofollow ratios, and a crude
authority estimate, without calling out to any third-party API.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// NewRootCommandForTest exposes the root command for tests that want to
// exercise flag parsing and RunE error paths without calling os.Exit.
func NewRootCommandForTest() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "config file path (e.g., /home/myuser/config.json)")
	rootCmd.PersistentFlags().StringVar(&userAgent, "user-agent", "", "user agent string for HTTP requests")
	rootCmd.PersistentFlags().IntVar(&maxPages, "max-pages", 0, "maximum number of pages to fetch per crawl (0 keeps the default)")
	rootCmd.PersistentFlags().IntVar(&maxConcurrent, "max-concurrent", 0, "number of concurrent fetch workers (0 keeps the default)")
	rootCmd.PersistentFlags().DurationVar(&requestDelay, "request-delay", 0, "politeness delay between requests to the same host")
	rootCmd.PersistentFlags().DurationVar(&jitter, "jitter", 0, "random jitter added to the request delay")
	rootCmd.PersistentFlags().Int64Var(&randomSeed, "random-seed", 0, "seed for the jitter/backoff random number generator")
	rootCmd.PersistentFlags().BoolVar(&respectRobots, "respect-robots", true, "honor robots.txt disallow rules")
	rootCmd.PersistentFlags().DurationVar(&timeout, "per-request-timeout", 0, "timeout applied to each individual fetch")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(crawlCmd)
	rootCmd.AddCommand(reportCmd)

	serveCmd.Flags().StringVar(&addr, "addr", ":8080", "address to listen on")
	serveCmd.Flags().StringVar(&dbPath, "db-path", "", "bbolt database path (defaults to config.DBPath())")

	crawlCmd.Flags().StringVar(&dbPath, "db-path", "", "bbolt database path (defaults to config.DBPath())")
	crawlCmd.Flags().StringVar(&targetDomain, "target-domain", "", "target domain to compute backlink metrics for (required)")
	crawlCmd.MarkFlagRequired("target-domain")

	reportCmd.Flags().StringVar(&dbPath, "db-path", "", "bbolt database path (defaults to config.DBPath())")
}

// buildConfig assembles a config.Config from the parsed flags, or from a
// config file when --config-file is set, on top of the shared defaults.
func buildConfig() (config.Config, error) {
	if cfgFile != "" {
		return config.WithConfigFile(cfgFile)
	}

	builder := config.WithDefault()
	if maxPages > 0 {
		builder = builder.WithMaxPages(maxPages)
	}
	if maxConcurrent > 0 {
		builder = builder.WithMaxConcurrent(maxConcurrent)
	}
	if requestDelay > 0 {
		builder = builder.WithRequestDelay(requestDelay)
	}
	if jitter > 0 {
		builder = builder.WithJitter(jitter)
	}
	if randomSeed != 0 {
		builder = builder.WithRandomSeed(randomSeed)
	}
	builder = builder.WithRespectRobots(respectRobots)
	if userAgent != "" {
		builder = builder.WithUserAgent(userAgent)
	}
	if timeout > 0 {
		builder = builder.WithPerRequestTimeout(timeout)
	}
	return builder.Build()
}

func resolvedDBPath() string {
	if dbPath != "" {
		return dbPath
	}
	return config.DBPath()
}

func parseSeeds(raw []string) ([]url.URL, error) {
	seeds := make([]url.URL, 0, len(raw))
	for _, s := range raw {
		canon, err := urlutil.CanonicalizeRaw(s, nil)
		if err != nil {
			return nil, fmt.Errorf("parsing seed url %q: %w", s, err)
		}
		seeds = append(seeds, canon)
	}
	return seeds, nil
}

// newCLICrawler builds one crawl pipeline, the same way api.Server does
// for an HTTP-triggered job, for use by the synchronous `crawl` command.
func newCLICrawler(cfg config.Config, robot *robots.Robot) crawler.Crawler {
	recorder := metadata.NewRecorder(nil)
	htmlFetcher := fetcher.NewHtmlFetcher(&recorder)
	domExtractor := extractor.NewDomExtractor(&recorder)
	rateLimiter := limiter.NewConcurrentRateLimiter()
	return crawler.NewCrawler(cfg, robot, &htmlFetcher, &domExtractor, rateLimiter, &recorder)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API (serves /crawl, /report, /off-page-analyze, /ingest-referrers, /health)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := buildConfig()
		if err != nil {
			return err
		}

		store, err := jobstore.Open(resolvedDBPath())
		if err != nil {
			return fmt.Errorf("opening job store: %w", err)
		}
		defer store.Close()

		recorder := metadata.NewRecorder(nil)
		robot := robots.NewCachedRobot(&recorder)
		robot.Init(cfg.UserAgent())

		server := api.NewServer(cfg, store, &robot, &recorder)

		slog.Info("linkgraphd serving", "addr", addr, "db", resolvedDBPath(), "version", build.FullVersion())
		return http.ListenAndServe(addr, server)
	},
}

var crawlCmd = &cobra.Command{
	Use:   "crawl [seed-url...]",
	Short: "Run one crawl synchronously and print the resulting report",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := buildConfig()
		if err != nil {
			return err
		}

		store, err := jobstore.Open(resolvedDBPath())
		if err != nil {
			return fmt.Errorf("opening job store: %w", err)
		}
		defer store.Close()

		seeds, err := parseSeeds(args)
		if err != nil {
			return err
		}

		recorder := metadata.NewRecorder(nil)
		robot := robots.NewCachedRobot(&recorder)
		robot.Init(cfg.UserAgent())

		jobID, err := store.CreateJob(targetDomain, args)
		if err != nil {
			return err
		}
		if err := store.MarkRunning(jobID); err != nil {
			return err
		}

		c := newCLICrawler(cfg, &robot)
		result, err := c.Run(cmd.Context(), seeds, targetDomain)
		if err != nil {
			store.MarkFailed(jobID, err.Error())
			return fmt.Errorf("crawl failed: %w", err)
		}

		metrics := graph.BuildMetrics(result.Pages, targetDomain)
		if err := store.StoreCrawl(jobID, targetDomain, result.Pages, metrics); err != nil {
			return err
		}

		fmt.Printf("pages_crawled=%d referring_domains=%d total_backlinks=%d follow_pct=%.2f estimated_da=%.1f\n",
			metrics.PagesCrawled, metrics.ReferringDomains, metrics.TotalBacklinks, metrics.FollowPct, metrics.EstimatedDA)
		return nil
	},
}

var reportCmd = &cobra.Command{
	Use:   "report [domain]",
	Short: "Print the latest stored report for a domain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := jobstore.Open(resolvedDBPath())
		if err != nil {
			return err
		}
		defer store.Close()

		record, err := store.LatestReport(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("domain=%s pages_crawled=%d referring_domains=%d total_backlinks=%d follow_pct=%.2f estimated_da=%.1f updated_at=%s\n",
			record.TargetDomain, record.PagesCrawled, record.ReferringDomains, record.TotalBacklinks,
			record.FollowPct, record.EstimatedDA, record.UpdatedAt.Format(time.RFC3339))
		return nil
	},
}
