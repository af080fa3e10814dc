package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/abelbrown/guidepost/internal/aggregate"
	"github.com/abelbrown/guidepost/internal/cache"
	"github.com/abelbrown/guidepost/internal/config"
	"github.com/abelbrown/guidepost/internal/dedup"
	"github.com/abelbrown/guidepost/internal/logging"
	"github.com/abelbrown/guidepost/internal/metrics"
	"github.com/abelbrown/guidepost/internal/ratelimit"
	"github.com/abelbrown/guidepost/internal/score"
	"github.com/abelbrown/guidepost/internal/solution"
	"github.com/abelbrown/guidepost/internal/source"
	"github.com/abelbrown/guidepost/internal/source/discussion"
	"github.com/abelbrown/guidepost/internal/source/qna"
	"github.com/abelbrown/guidepost/internal/source/videoidx"
)

var (
	flagSources []string
	flagLimit   int
	flagJSON    bool
)

var searchCmd = &cobra.Command{
	Use:   "search <topic>",
	Short: "Search the configured sources for a help topic",
	Long: `Search every configured source for a topic, deduplicate and rank the
results, and print them best first.

Examples:
  # Search everywhere
  guidepost search "hollow knight mantis lords"

  # Only the configured Q&A platforms, top 5
  guidepost search --sources qna/gamefaqs --limit 5 "stuck on water temple"

  # Machine-readable output
  guidepost search --json "elden ring margit" | jq '.[0].url'`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().StringSliceVar(&flagSources, "sources", nil, "source IDs to query (default: all configured)")
	searchCmd.Flags().IntVar(&flagLimit, "limit", 0, "maximum results to print (default: config result_limit)")
	searchCmd.Flags().BoolVar(&flagJSON, "json", false, "print results as JSON")
}

func runSearch(cmd *cobra.Command, args []string) error {
	topic := strings.TrimSpace(args[0])
	if topic == "" {
		return fmt.Errorf("topic must not be empty")
	}

	cfg, err := config.Load(flagConfig)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	if err := logging.Init(cfg.DataDir); err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	defer logging.Close()

	db, err := cache.Open(filepath.Join(cfg.DataDir, "cache.db"))
	if err != nil {
		return fmt.Errorf("opening cache: %w", err)
	}
	defer db.Close()

	sources, err := buildSources(cfg)
	if err != nil {
		return err
	}

	limiter := ratelimit.New()
	for _, s := range sources {
		w := cfg.Window(string(s.ID()))
		limiter.Register(s.ID(), w.MaxPerWindow, time.Duration(w.WindowSeconds)*time.Second)
	}

	engine := aggregate.New(
		sources,
		db,
		limiter,
		dedup.New(cfg.Dedup.SimilarityThreshold, time.Duration(cfg.Dedup.ProximityHours)*time.Hour),
		score.New(cfg.Scoring),
		metrics.New(prometheus.NewRegistry()),
		logging.Logger,
		aggregate.Options{
			QueryDeadline: cfg.QueryDeadline(),
			SourceTimeout: cfg.SourceTimeout(),
			CacheTTL:      cfg.CacheTTL(),
			FailFast:      cfg.FailFast,
			DefaultLimit:  cfg.ResultLimit,
		},
	)

	ids, err := resolveSources(cfg, flagSources)
	if err != nil {
		return err
	}

	q := solution.NewQuery(topic, ids, cfg.CacheTTL(), flagLimit, cfg.ResultLimit)
	results, err := engine.Retrieve(cmd.Context(), q)
	if err != nil {
		return err
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(results) == 0 {
		fmt.Println("No results.")
		return nil
	}
	for _, r := range results {
		printResult(r)
	}
	return nil
}

// buildSources instantiates one adapter per configured source. Each adapter
// gets its own client so request pacing for one platform never delays
// another.
func buildSources(cfg *config.Config) ([]source.Source, error) {
	sources := make([]source.Source, 0, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		id := solution.SourceID(sc.ID)
		client := source.NewClient(cfg.SourceTimeout(), 500*time.Millisecond)
		switch sc.Kind {
		case solution.KindDiscussion:
			sources = append(sources, discussion.New(id, sc.Name, sc.BaseURL, sc.QueryTemplate, client))
		case solution.KindQnA:
			sources = append(sources, qna.New(id, sc.Name, sc.BaseURL, sc.QueryTemplate, sc.SchemaVersion, sc.APIKey, client))
		case solution.KindVideo:
			sources = append(sources, videoidx.New(id, sc.Name, sc.BaseURL, sc.QueryTemplate, sc.SchemaVersion, sc.APIKey, client))
		default:
			return nil, fmt.Errorf("source %q: unknown kind %q", sc.ID, sc.Kind)
		}
	}
	return sources, nil
}

// resolveSources maps --sources values onto configured IDs, defaulting to all
func resolveSources(cfg *config.Config, requested []string) ([]solution.SourceID, error) {
	configured := make(map[string]bool, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		configured[sc.ID] = true
	}

	if len(requested) == 0 {
		ids := make([]solution.SourceID, 0, len(cfg.Sources))
		for _, sc := range cfg.Sources {
			ids = append(ids, solution.SourceID(sc.ID))
		}
		return ids, nil
	}

	ids := make([]solution.SourceID, 0, len(requested))
	for _, r := range requested {
		if !configured[r] {
			return nil, fmt.Errorf("unknown source %q (run 'guidepost init' to see configured sources)", r)
		}
		ids = append(ids, solution.SourceID(r))
	}
	return ids, nil
}

func printResult(r solution.ScoredCandidate) {
	marks := make([]string, 0, 2)
	if r.Engagement.FlaggedSolved {
		marks = append(marks, "solved")
	}
	if r.Engagement.AuthorTrust == solution.TrustVerified {
		marks = append(marks, "verified")
	}
	suffix := ""
	if len(marks) > 0 {
		suffix = " [" + strings.Join(marks, ", ") + "]"
	}

	fmt.Printf("%2d. %.3f  %s%s\n", r.Rank, r.Score, r.Title, suffix)
	fmt.Printf("    %s  (%s, +%d/%d replies)\n", r.URL, r.Source, r.Engagement.Upvotes, r.Engagement.Replies)
}

func runInit(cmd *cobra.Command, args []string) error {
	path := flagConfig
	if path == "" {
		path = config.ConfigPath()
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists at %s", path)
	}

	if err := config.DefaultConfig().Save(path); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	fmt.Printf("Wrote default config to %s\n", path)
	return nil
}

func runPurge(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := cache.Open(filepath.Join(cfg.DataDir, "cache.db"))
	if err != nil {
		return fmt.Errorf("opening cache: %w", err)
	}
	defer db.Close()

	n, err := db.PurgeExpired(cfg.CacheTTL())
	if err != nil {
		return fmt.Errorf("purging: %w", err)
	}
	if n == 0 {
		fmt.Println("Nothing to purge.")
	} else {
		fmt.Printf("Purged %d expired entries.\n", n)
	}
	return nil
}
