// Package aggregate drives one retrieval end to end: fan a query out to the
// requested sources, respecting the cache and each source's rate window,
// collect whatever arrives before the deadline, then dedupe, score, and rank.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/abelbrown/guidepost/internal/cache"
	"github.com/abelbrown/guidepost/internal/dedup"
	"github.com/abelbrown/guidepost/internal/metrics"
	"github.com/abelbrown/guidepost/internal/ratelimit"
	"github.com/abelbrown/guidepost/internal/score"
	"github.com/abelbrown/guidepost/internal/solution"
	"github.com/abelbrown/guidepost/internal/source"
)

// ErrAllSourcesFailed is returned when literally no source could be reached
// and nothing came from the cache. A query that reached sources but found
// nothing returns an empty list and no error; callers can tell "nothing
// found" from "retrieval broken".
var ErrAllSourcesFailed = errors.New("all sources failed")

// Options configures an Engine.
type Options struct {
	QueryDeadline time.Duration // hard bound on one whole retrieval
	SourceTimeout time.Duration // bound on each individual fetch
	CacheTTL      time.Duration // freshness window when the query doesn't set one
	FailFast      bool          // skip a source whose rate window is full instead of waiting
	DefaultLimit  int
}

// Engine coordinates the retrieval pipeline. Safe for concurrent Retrieve
// calls; the cache and limiter are the only state shared between queries.
type Engine struct {
	sources map[solution.SourceID]source.Source
	cache   *cache.Cache
	limiter *ratelimit.Limiter
	deduper *dedup.Deduper
	scorer  *score.Scorer
	metrics *metrics.Metrics
	logger  *log.Logger
	opts    Options
}

// New creates an Engine. metrics and logger may be nil.
func New(sources []source.Source, c *cache.Cache, l *ratelimit.Limiter,
	d *dedup.Deduper, s *score.Scorer, m *metrics.Metrics, logger *log.Logger, opts Options) *Engine {

	byID := make(map[solution.SourceID]source.Source, len(sources))
	for _, src := range sources {
		byID[src.ID()] = src
	}
	return &Engine{
		sources: byID,
		cache:   c,
		limiter: l,
		deduper: d,
		scorer:  s,
		metrics: m,
		logger:  logger,
		opts:    opts,
	}
}

// fetchOutcome is one source's contribution to a query.
type fetchOutcome struct {
	candidates []solution.Candidate
	reached    bool // cache hit or completed fetch attempt cycle
	err        error
}

// Retrieve runs one query and returns the ranked result set, truncated to
// the query's limit. Per-source failures are isolated: one source failing
// never fails the query unless every source failed.
func (e *Engine) Retrieve(ctx context.Context, q solution.Query) ([]solution.ScoredCandidate, error) {
	if len(q.Sources) == 0 {
		return nil, fmt.Errorf("query has no sources")
	}

	ttl := q.Freshness
	if ttl <= 0 {
		ttl = e.opts.CacheTTL
	}
	limit := q.Limit
	if limit <= 0 {
		limit = e.opts.DefaultLimit
	}

	// Hard wall-clock bound for the whole retrieval. Sources still running
	// when it elapses contribute nothing and raise no error.
	qctx, cancel := context.WithTimeout(ctx, e.opts.QueryDeadline)
	defer cancel()

	outcomes := make([]fetchOutcome, len(q.Sources))
	var g errgroup.Group
	for i, id := range q.Sources {
		g.Go(func() error {
			outcomes[i] = e.fetchOne(qctx, id, q.Topic, limit, ttl)
			return nil // per-source errors are recorded, never fail the group
		})
	}
	_ = g.Wait()

	// Merge in query order so downstream tie-breaks see a stable sequence.
	var merged []solution.Candidate
	reached := 0
	var srcErrs []error
	for i, out := range outcomes {
		if out.err != nil {
			srcErrs = append(srcErrs, fmt.Errorf("%s: %w", q.Sources[i], out.err))
			continue
		}
		if out.reached {
			reached++
		}
		merged = append(merged, out.candidates...)
	}

	if reached == 0 && len(srcErrs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrAllSourcesFailed, errors.Join(srcErrs...))
	}

	survivors, dropped := e.deduper.Dedupe(merged)
	e.metrics.DuplicatesCollapsed(len(dropped))

	scored := make([]solution.ScoredCandidate, len(survivors))
	for i, c := range survivors {
		scored[i] = solution.ScoredCandidate{Candidate: c, Score: e.scorer.Score(c)}
	}
	solution.SortRanked(scored)

	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// fetchOne resolves a single source: cache first, then a rate-limited fetch
// bounded by the per-source timeout.
func (e *Engine) fetchOne(ctx context.Context, id solution.SourceID, topic string, limit int, ttl time.Duration) fetchOutcome {
	if cached, ok := e.cache.Get(id, topic, ttl); ok {
		e.metrics.CacheHit(string(id))
		return fetchOutcome{candidates: cached, reached: true}
	}
	e.metrics.CacheMiss(string(id))

	src, ok := e.sources[id]
	if !ok {
		err := fmt.Errorf("unknown source %q", id)
		e.logError(id, err)
		return fetchOutcome{err: err}
	}

	if e.opts.FailFast {
		if err := e.limiter.TryAcquire(id); err != nil {
			e.metrics.RateLimitDenied(string(id))
			e.logError(id, err)
			return fetchOutcome{err: err}
		}
	} else {
		if err := e.limiter.Acquire(ctx, id); err != nil {
			if ctx.Err() != nil {
				// Deadline elapsed while waiting: empty, not an error
				return fetchOutcome{}
			}
			e.metrics.RateLimitDenied(string(id))
			return fetchOutcome{err: err}
		}
	}

	fctx, cancel := context.WithTimeout(ctx, e.opts.SourceTimeout)
	defer cancel()

	res, err := src.Fetch(fctx, topic, limit)
	if err != nil {
		if ctx.Err() != nil {
			// The overall deadline cancelled this fetch mid-flight
			return fetchOutcome{}
		}
		err = source.Classify(err)
		e.metrics.Failure(string(id), failureKind(err))
		e.logError(id, err)
		return fetchOutcome{err: err}
	}

	e.metrics.Fetch(string(id))
	e.metrics.ItemsSkipped(string(id), res.Skipped)

	// A cancelled fetch must never write the cache; only a fetch that
	// completed inside the deadline is trustworthy.
	if ctx.Err() == nil {
		if err := e.cache.Put(id, topic, res.Candidates); err != nil {
			e.logError(id, fmt.Errorf("cache write: %w", err))
		}
	}

	if e.logger != nil {
		e.logger.Debug("fetched", "source", id, "candidates", len(res.Candidates), "skipped", res.Skipped)
	}
	return fetchOutcome{candidates: res.Candidates, reached: true}
}

func (e *Engine) logError(id solution.SourceID, err error) {
	if e.logger != nil {
		e.logger.Error("source failed", "source", id, "err", err)
	}
}

// failureKind maps a typed fetch error onto a metrics label.
func failureKind(err error) string {
	switch {
	case errors.Is(err, source.ErrTimeout):
		return "timeout"
	case errors.Is(err, source.ErrFormat):
		return "format"
	case errors.Is(err, ratelimit.ErrLimitExceeded):
		return "rate_limited"
	default:
		return "unavailable"
	}
}
