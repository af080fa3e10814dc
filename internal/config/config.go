package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/abelbrown/guidepost/internal/solution"
)

// Config is the persistent engine configuration
type Config struct {
	// Sources to query
	Sources []SourceConfig `json:"sources"`

	// RateLimits keyed by source ID
	RateLimits map[string]WindowConfig `json:"rate_limits"`

	// FailFast skips a source when its rate window is exhausted instead of
	// waiting for the window to reset
	FailFast bool `json:"fail_fast"`

	// CacheTTLMinutes is the freshness window for cached query results
	CacheTTLMinutes int `json:"cache_ttl_minutes"`

	// QueryDeadlineSeconds bounds one whole retrieval
	QueryDeadlineSeconds int `json:"query_deadline_seconds"`

	// SourceTimeoutSeconds bounds each individual source fetch
	SourceTimeoutSeconds int `json:"source_timeout_seconds"`

	Scoring ScoringConfig `json:"scoring"`
	Dedup   DedupConfig   `json:"dedup"`

	// ResultLimit is the default result count when a query doesn't set one
	ResultLimit int `json:"result_limit"`

	// DataDir holds the result cache database
	DataDir string `json:"data_dir"`
}

// SourceConfig describes one platform instance
type SourceConfig struct {
	ID            string `json:"id"`   // e.g. "qna/gamefaqs"
	Kind          string `json:"kind"` // "discussion", "qna", "video"
	Name          string `json:"name"` // display name
	BaseURL       string `json:"base_url"`
	QueryTemplate string `json:"query_template"` // platform query dialect, {topic}/{limit} placeholders
	SchemaVersion string `json:"schema_version"` // response schema the adapter expects
	APIKey        string `json:"api_key,omitempty"`
}

// WindowConfig is a fixed rate-limit window for one source
type WindowConfig struct {
	MaxPerWindow  int `json:"max_per_window"`
	WindowSeconds int `json:"window_seconds"`
}

// ScoringConfig holds the versioned score weights and normalization knobs.
// Weights must sum to 1.0. Rankings are only reproducible if these stay fixed
// per deployment, never re-derived per query.
type ScoringConfig struct {
	Version              string  `json:"version"`
	WeightTrust          float64 `json:"weight_trust"`
	WeightEngagement     float64 `json:"weight_engagement"`
	WeightStructure      float64 `json:"weight_structure"`
	WeightEndorsement    float64 `json:"weight_endorsement"`
	WeightRecency        float64 `json:"weight_recency"`
	WeightDetail         float64 `json:"weight_detail"`
	EngagementSaturation int     `json:"engagement_saturation"` // raw count treated as full engagement
	MaxAgeDays           int     `json:"max_age_days"`          // recency decays to zero here
	DetailFullChars      int     `json:"detail_full_chars"`     // excerpt length treated as fully detailed
}

// WeightSum returns the sum of all six signal weights
func (s ScoringConfig) WeightSum() float64 {
	return s.WeightTrust + s.WeightEngagement + s.WeightStructure +
		s.WeightEndorsement + s.WeightRecency + s.WeightDetail
}

// DedupConfig controls duplicate detection
type DedupConfig struct {
	// SimilarityThreshold in (0,1]: minimum title similarity for the fuzzy arm
	SimilarityThreshold float64 `json:"similarity_threshold"`
	// ProximityHours: fuzzy matches must be created within this window of each other
	ProximityHours int `json:"proximity_hours"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Sources: []SourceConfig{
			{
				ID:            "discussion/steam",
				Kind:          solution.KindDiscussion,
				Name:          "Steam Discussions",
				BaseURL:       "https://steamcommunity.com/discussions",
				QueryTemplate: "{topic}",
			},
			{
				ID:            "qna/gamefaqs",
				Kind:          solution.KindQnA,
				Name:          "GameFAQs Answers",
				BaseURL:       "https://gamefaqs.gamespot.com/api",
				QueryTemplate: "{topic} help",
				SchemaVersion: "v1",
			},
			{
				ID:            "video/guides",
				Kind:          solution.KindVideo,
				Name:          "Guide Videos",
				BaseURL:       "https://video-index.local/api",
				QueryTemplate: "{topic} guide",
				SchemaVersion: "v1",
			},
		},
		RateLimits: map[string]WindowConfig{
			// Per-platform ceilings: forums tolerate the least
			"discussion/steam": {MaxPerWindow: 20, WindowSeconds: 60},
			"qna/gamefaqs":     {MaxPerWindow: 10, WindowSeconds: 60},
			"video/guides":     {MaxPerWindow: 60, WindowSeconds: 60},
		},
		FailFast:             true,
		CacheTTLMinutes:      30,
		QueryDeadlineSeconds: 10,
		SourceTimeoutSeconds: 8,
		Scoring: ScoringConfig{
			Version:              "v1",
			WeightTrust:          0.20,
			WeightEngagement:     0.25,
			WeightStructure:      0.20,
			WeightEndorsement:    0.15,
			WeightRecency:        0.10,
			WeightDetail:         0.10,
			EngagementSaturation: 200,
			MaxAgeDays:           180,
			DetailFullChars:      400,
		},
		Dedup: DedupConfig{
			SimilarityThreshold: 0.8,
			ProximityHours:      72,
		},
		ResultLimit: 10,
		DataDir:     filepath.Join(home, ".guidepost"),
	}
}

// ConfigPath returns the default config file location
func ConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".guidepost", "config.json")
}

// Load reads config from path, or returns defaults when the file is absent.
// An unreadable or invalid file is an error, not a silent fallback.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := DefaultConfig()
			cfg.AutoPopulateFromEnv()
			return cfg, nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.AutoPopulateFromEnv()
	return cfg, nil
}

// Save writes config to path
func (c *Config) Save(path string) error {
	if path == "" {
		path = ConfigPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600) // may contain API keys
}

// AutoPopulateFromEnv fills in per-source API keys from environment variables
func (c *Config) AutoPopulateFromEnv() {
	for i := range c.Sources {
		if c.Sources[i].APIKey != "" {
			continue
		}
		switch c.Sources[i].Kind {
		case solution.KindQnA:
			c.Sources[i].APIKey = os.Getenv("GUIDEPOST_QNA_API_KEY")
		case solution.KindVideo:
			c.Sources[i].APIKey = os.Getenv("GUIDEPOST_VIDEO_API_KEY")
		}
	}
}

// Validate checks the configuration at startup. Any error here is fatal;
// queries never re-validate.
func (c *Config) Validate() error {
	if math.Abs(c.Scoring.WeightSum()-1.0) > 1e-9 {
		return fmt.Errorf("config: score weights sum to %.4f, want 1.0", c.Scoring.WeightSum())
	}
	if c.Dedup.SimilarityThreshold <= 0 || c.Dedup.SimilarityThreshold > 1 {
		return fmt.Errorf("config: dedup similarity threshold %.2f outside (0,1]", c.Dedup.SimilarityThreshold)
	}
	if c.CacheTTLMinutes <= 0 {
		return fmt.Errorf("config: cache TTL must be positive, got %d", c.CacheTTLMinutes)
	}
	if c.QueryDeadlineSeconds <= 0 {
		return fmt.Errorf("config: query deadline must be positive, got %d", c.QueryDeadlineSeconds)
	}
	if c.SourceTimeoutSeconds <= 0 {
		return fmt.Errorf("config: source timeout must be positive, got %d", c.SourceTimeoutSeconds)
	}
	if c.Scoring.EngagementSaturation <= 0 {
		return fmt.Errorf("config: engagement saturation must be positive, got %d", c.Scoring.EngagementSaturation)
	}
	if c.Scoring.MaxAgeDays <= 0 {
		return fmt.Errorf("config: max age days must be positive, got %d", c.Scoring.MaxAgeDays)
	}
	if c.Scoring.DetailFullChars <= 0 {
		return fmt.Errorf("config: detail full chars must be positive, got %d", c.Scoring.DetailFullChars)
	}
	if c.ResultLimit <= 0 {
		return fmt.Errorf("config: result limit must be positive, got %d", c.ResultLimit)
	}
	seen := make(map[string]bool)
	for _, src := range c.Sources {
		if src.ID == "" || src.BaseURL == "" {
			return fmt.Errorf("config: source %q missing id or base_url", src.ID)
		}
		if seen[src.ID] {
			return fmt.Errorf("config: duplicate source id %q", src.ID)
		}
		seen[src.ID] = true
		switch src.Kind {
		case solution.KindDiscussion, solution.KindQnA, solution.KindVideo:
		default:
			return fmt.Errorf("config: source %q has unknown kind %q", src.ID, src.Kind)
		}
	}
	for id, w := range c.RateLimits {
		if w.MaxPerWindow <= 0 || w.WindowSeconds <= 0 {
			return fmt.Errorf("config: rate limit for %q must be positive", id)
		}
	}
	return nil
}

// CacheTTL returns the freshness window as a duration
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMinutes) * time.Minute
}

// QueryDeadline returns the overall query deadline as a duration
func (c *Config) QueryDeadline() time.Duration {
	return time.Duration(c.QueryDeadlineSeconds) * time.Second
}

// SourceTimeout returns the per-source fetch timeout as a duration
func (c *Config) SourceTimeout() time.Duration {
	return time.Duration(c.SourceTimeoutSeconds) * time.Second
}

// Window returns the rate-limit window for a source, with a conservative
// default when none is configured.
func (c *Config) Window(id string) WindowConfig {
	if w, ok := c.RateLimits[id]; ok {
		return w
	}
	return WindowConfig{MaxPerWindow: 10, WindowSeconds: 60}
}
