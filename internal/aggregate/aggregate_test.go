package aggregate

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/abelbrown/guidepost/internal/cache"
	"github.com/abelbrown/guidepost/internal/config"
	"github.com/abelbrown/guidepost/internal/dedup"
	"github.com/abelbrown/guidepost/internal/ratelimit"
	"github.com/abelbrown/guidepost/internal/score"
	"github.com/abelbrown/guidepost/internal/solution"
	"github.com/abelbrown/guidepost/internal/source"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeSource is a scripted adapter for engine tests.
type fakeSource struct {
	id         solution.SourceID
	candidates []solution.Candidate
	err        error
	delay      time.Duration // sleeps observing ctx before responding
	calls      atomic.Int64
}

func (f *fakeSource) ID() solution.SourceID { return f.id }
func (f *fakeSource) Name() string          { return string(f.id) }

func (f *fakeSource) Fetch(ctx context.Context, topic string, limit int) (source.Result, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return source.Result{}, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return source.Result{}, f.err
	}
	return source.Result{Candidates: f.candidates}, nil
}

func candidate(id string, src solution.SourceID, url string, upvotes int) solution.Candidate {
	return solution.Candidate{
		ID:          id,
		Source:      src,
		Title:       "Candidate " + id,
		BodyExcerpt: "1. Do the thing. 2. Win.",
		URL:         url,
		CreatedAt:   fixedNow.Add(-24 * time.Hour),
		Engagement:  solution.Engagement{Upvotes: upvotes},
		ContentType: solution.ContentThread,
	}
}

func newEngine(t *testing.T, opts Options, sources ...source.Source) *Engine {
	t.Helper()

	c, err := cache.Open(":memory:")
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	l := ratelimit.New()
	for _, s := range sources {
		l.Register(s.ID(), 100, time.Minute)
	}

	sc := score.New(config.DefaultConfig().Scoring)
	sc.SetClock(func() time.Time { return fixedNow })

	if opts.QueryDeadline == 0 {
		opts.QueryDeadline = 2 * time.Second
	}
	if opts.SourceTimeout == 0 {
		opts.SourceTimeout = time.Second
	}
	if opts.CacheTTL == 0 {
		opts.CacheTTL = 30 * time.Minute
	}
	if opts.DefaultLimit == 0 {
		opts.DefaultLimit = 10
	}

	return New(sources, c, l, dedup.New(0.8, 72*time.Hour), sc, nil, nil, opts)
}

func sourceIDs(sources ...source.Source) []solution.SourceID {
	ids := make([]solution.SourceID, len(sources))
	for i, s := range sources {
		ids[i] = s.ID()
	}
	return ids
}

func TestRetrieveMergesAndRanks(t *testing.T) {
	a := &fakeSource{id: "qna/a", candidates: []solution.Candidate{
		candidate("a-1", "qna/a", "https://example.com/t/1", 50),
		candidate("a-2", "qna/a", "https://example.com/t/2", 10),
		candidate("a-3", "qna/a", "https://example.com/t/3", 5),
	}}
	b := &fakeSource{id: "discussion/b", candidates: []solution.Candidate{
		candidate("b-1", "discussion/b", "https://www.example.com/t/1", 20),
	}}

	e := newEngine(t, Options{}, a, b)
	q := solution.NewQuery("boss", sourceIDs(a, b), time.Hour, 10, 10)

	got, err := e.Retrieve(context.Background(), q)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	// b-1 is a URL duplicate of a-1: 3 survivors, engagement folded 50+20
	if len(got) != 3 {
		t.Fatalf("results = %d, want 3 after dedup", len(got))
	}
	if got[0].ID != "a-1" {
		t.Errorf("top result = %q, want a-1", got[0].ID)
	}
	if got[0].Engagement.Upvotes != 70 {
		t.Errorf("merged upvotes = %d, want 70", got[0].Engagement.Upvotes)
	}
	for i, r := range got {
		if r.Rank != i+1 {
			t.Errorf("rank at %d = %d, want %d", i, r.Rank, i+1)
		}
	}
}

func TestRetrieveDeterministic(t *testing.T) {
	a := &fakeSource{id: "qna/a", candidates: []solution.Candidate{
		candidate("a-1", "qna/a", "https://example.com/t/1", 50),
		candidate("a-2", "qna/a", "https://example.com/t/2", 50), // score tie with a-1
	}}

	e := newEngine(t, Options{}, a)
	q := solution.NewQuery("boss", sourceIDs(a), time.Hour, 10, 10)

	first, err := e.Retrieve(context.Background(), q)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	for run := 0; run < 3; run++ {
		again, err := e.Retrieve(context.Background(), q)
		if err != nil {
			t.Fatalf("run %d: %v", run, err)
		}
		if len(again) != len(first) {
			t.Fatalf("run %d: %d results, want %d", run, len(again), len(first))
		}
		for i := range first {
			if again[i].ID != first[i].ID || again[i].Score != first[i].Score || again[i].Rank != first[i].Rank {
				t.Errorf("run %d, position %d: got %q/%f/%d, want %q/%f/%d", run, i,
					again[i].ID, again[i].Score, again[i].Rank, first[i].ID, first[i].Score, first[i].Rank)
			}
		}
	}
}

func TestSlowSourceContributesNothing(t *testing.T) {
	a := &fakeSource{id: "qna/a", candidates: []solution.Candidate{
		candidate("a-1", "qna/a", "https://example.com/t/1", 50),
	}}
	b := &fakeSource{id: "discussion/b", delay: 10 * time.Second}

	e := newEngine(t, Options{QueryDeadline: 300 * time.Millisecond, SourceTimeout: 5 * time.Second}, a, b)
	q := solution.NewQuery("boss", sourceIDs(a, b), time.Hour, 10, 10)

	start := time.Now()
	got, err := e.Retrieve(context.Background(), q)
	if err != nil {
		t.Fatalf("Retrieve: %v (slow source must not fail the query)", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Retrieve took %v, deadline not enforced", elapsed)
	}
	if len(got) != 1 || got[0].ID != "a-1" {
		t.Errorf("results = %+v, want only a-1", got)
	}
}

func TestAllSourcesFailed(t *testing.T) {
	a := &fakeSource{id: "qna/a", err: source.ErrUnavailable}
	b := &fakeSource{id: "discussion/b", err: source.ErrFormat}

	e := newEngine(t, Options{}, a, b)
	q := solution.NewQuery("boss", sourceIDs(a, b), time.Hour, 10, 10)

	_, err := e.Retrieve(context.Background(), q)
	if !errors.Is(err, ErrAllSourcesFailed) {
		t.Errorf("Retrieve = %v, want ErrAllSourcesFailed", err)
	}
}

func TestPartialFailureIsSilent(t *testing.T) {
	a := &fakeSource{id: "qna/a", candidates: []solution.Candidate{
		candidate("a-1", "qna/a", "https://example.com/t/1", 50),
	}}
	b := &fakeSource{id: "discussion/b", err: source.ErrUnavailable}

	e := newEngine(t, Options{}, a, b)
	q := solution.NewQuery("boss", sourceIDs(a, b), time.Hour, 10, 10)

	got, err := e.Retrieve(context.Background(), q)
	if err != nil {
		t.Fatalf("Retrieve: %v, partial failure must not surface", err)
	}
	if len(got) != 1 {
		t.Errorf("results = %d, want 1", len(got))
	}
}

func TestEmptyResultIsNotAnError(t *testing.T) {
	a := &fakeSource{id: "qna/a"} // responds fine, finds nothing

	e := newEngine(t, Options{}, a)
	q := solution.NewQuery("extremely obscure topic", sourceIDs(a), time.Hour, 10, 10)

	got, err := e.Retrieve(context.Background(), q)
	if err != nil {
		t.Fatalf("Retrieve: %v, empty result is valid", err)
	}
	if len(got) != 0 {
		t.Errorf("results = %d, want 0", len(got))
	}
}

func TestSecondQueryHitsCache(t *testing.T) {
	a := &fakeSource{id: "qna/a", candidates: []solution.Candidate{
		candidate("a-1", "qna/a", "https://example.com/t/1", 50),
	}}

	e := newEngine(t, Options{}, a)
	// Exhaust the limiter after one permit to prove the cache path skips it
	e.limiter = ratelimit.New()
	e.limiter.Register("qna/a", 1, time.Hour)

	q := solution.NewQuery("boss", sourceIDs(a), time.Hour, 10, 10)

	if _, err := e.Retrieve(context.Background(), q); err != nil {
		t.Fatalf("first Retrieve: %v", err)
	}
	got, err := e.Retrieve(context.Background(), q)
	if err != nil {
		t.Fatalf("second Retrieve: %v", err)
	}
	if a.calls.Load() != 1 {
		t.Errorf("adapter calls = %d, want 1: second query must be served from cache", a.calls.Load())
	}
	if len(got) != 1 {
		t.Errorf("cached results = %d, want 1", len(got))
	}
}

func TestRateLimitFailFastSkipsSource(t *testing.T) {
	a := &fakeSource{id: "qna/a", candidates: []solution.Candidate{
		candidate("a-1", "qna/a", "https://example.com/t/1", 50),
	}}

	e := newEngine(t, Options{FailFast: true}, a)
	e.limiter = ratelimit.New()
	e.limiter.Register("qna/a", 0, time.Hour) // window permanently full
	e.limiter.Register("discussion/b", 100, time.Hour)

	b := &fakeSource{id: "discussion/b", candidates: []solution.Candidate{
		candidate("b-2", "discussion/b", "https://example.com/t/9", 5),
	}}
	e.sources["discussion/b"] = b

	q := solution.NewQuery("boss", []solution.SourceID{"qna/a", "discussion/b"}, time.Hour, 10, 10)
	got, err := e.Retrieve(context.Background(), q)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if a.calls.Load() != 0 {
		t.Errorf("rate-limited adapter was called %d times, want 0", a.calls.Load())
	}
	if len(got) != 1 || got[0].ID != "b-2" {
		t.Errorf("results = %+v, want only b-2", got)
	}
}

func TestResultLimitTruncation(t *testing.T) {
	var cs []solution.Candidate
	for i := 0; i < 8; i++ {
		cs = append(cs, candidate(
			string(rune('a'+i))+"-1", "qna/a",
			"https://example.com/t/"+string(rune('0'+i)), i*10))
	}
	a := &fakeSource{id: "qna/a", candidates: cs}

	e := newEngine(t, Options{}, a)
	q := solution.NewQuery("boss", sourceIDs(a), time.Hour, 3, 10)

	got, err := e.Retrieve(context.Background(), q)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("results = %d, want 3 (query limit)", len(got))
	}
}

func TestNoSourcesIsAnError(t *testing.T) {
	e := newEngine(t, Options{})
	q := solution.NewQuery("boss", nil, time.Hour, 10, 10)
	if _, err := e.Retrieve(context.Background(), q); err == nil {
		t.Error("expected error for a query with no sources")
	}
}

func TestUnknownSourceCountsAsFailure(t *testing.T) {
	e := newEngine(t, Options{})
	q := solution.NewQuery("boss", []solution.SourceID{"qna/nonexistent"}, time.Hour, 10, 10)

	_, err := e.Retrieve(context.Background(), q)
	if !errors.Is(err, ErrAllSourcesFailed) {
		t.Errorf("Retrieve = %v, want ErrAllSourcesFailed", err)
	}
}

func TestCancelledFetchDoesNotWriteCache(t *testing.T) {
	a := &fakeSource{id: "qna/a", delay: 10 * time.Second, candidates: []solution.Candidate{
		candidate("a-1", "qna/a", "https://example.com/t/1", 50),
	}}

	e := newEngine(t, Options{QueryDeadline: 100 * time.Millisecond, SourceTimeout: 5 * time.Second}, a)
	q := solution.NewQuery("boss", sourceIDs(a), time.Hour, 10, 10)

	if _, err := e.Retrieve(context.Background(), q); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if _, ok := e.cache.Get("qna/a", "boss", time.Hour); ok {
		t.Error("cancelled fetch must not populate the cache")
	}
}
