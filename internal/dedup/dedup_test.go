package dedup

import (
	"testing"
	"time"

	"github.com/abelbrown/guidepost/internal/solution"
)

var base = time.Date(2026, 2, 20, 10, 0, 0, 0, time.UTC)

func TestCanonicalURL(t *testing.T) {
	tests := []struct{ in, want string }{
		{"https://www.example.com/t/123?ref=search#post-4", "https://example.com/t/123"},
		{"https://EXAMPLE.com/t/123/", "https://example.com/t/123"},
		{"http://example.com/t/123", "http://example.com/t/123"},
		{"not a url", ""},
	}
	for _, tt := range tests {
		if got := CanonicalURL(tt.in); got != tt.want {
			t.Errorf("CanonicalURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDedupeByURL(t *testing.T) {
	// A's top candidate (50 upvotes) cross-posted on B
	// with 20 upvotes; merged engagement is 70.
	cs := []solution.Candidate{
		{ID: "a-1", Source: "qna/a", URL: "https://example.com/t/1?utm=x", Title: "Beat the boss",
			CreatedAt: base, Engagement: solution.Engagement{Upvotes: 50}},
		{ID: "a-2", Source: "qna/a", URL: "https://example.com/t/2", Title: "Other thread",
			CreatedAt: base, Engagement: solution.Engagement{Upvotes: 10}},
		{ID: "a-3", Source: "qna/a", URL: "https://example.com/t/3", Title: "Third thread",
			CreatedAt: base, Engagement: solution.Engagement{Upvotes: 5}},
		{ID: "b-1", Source: "discussion/b", URL: "https://www.example.com/t/1", Title: "Beat the boss mirror",
			CreatedAt: base.Add(time.Hour), Engagement: solution.Engagement{Upvotes: 20, FlaggedSolved: true}},
	}

	d := New(0.8, 72*time.Hour)
	out, dropped := d.Dedupe(cs)

	if len(out) != 3 {
		t.Fatalf("survivors = %d, want 3", len(out))
	}
	if len(dropped) != 1 {
		t.Fatalf("dropped = %d, want 1", len(dropped))
	}
	if dropped[0].ID != "b-1" || dropped[0].DuplicateOf != "a-1" {
		t.Errorf("dropped = %+v, want b-1 folded into a-1", dropped[0])
	}

	var surv *solution.Candidate
	for i := range out {
		if out[i].ID == "a-1" {
			surv = &out[i]
		}
	}
	if surv == nil {
		t.Fatal("survivor a-1 missing")
	}
	if surv.Engagement.Upvotes != 70 {
		t.Errorf("merged upvotes = %d, want 70", surv.Engagement.Upvotes)
	}
	if !surv.Engagement.FlaggedSolved {
		t.Error("FlaggedSolved should fold into the survivor")
	}
}

func TestDedupeByTitleSimilarity(t *testing.T) {
	cs := []solution.Candidate{
		{ID: "f-1", Source: "discussion/f", URL: "https://forum.example.com/t/1",
			Title: "Game crashes on launch after patch", CreatedAt: base,
			Engagement: solution.Engagement{Replies: 8}},
		{ID: "f-2", Source: "discussion/f", URL: "https://forum.example.com/t/2",
			Title: "game crashes on launch after patch!", CreatedAt: base.Add(12 * time.Hour),
			Engagement: solution.Engagement{Replies: 3}},
	}

	d := New(0.8, 72*time.Hour)
	out, dropped := d.Dedupe(cs)

	if len(out) != 1 {
		t.Fatalf("survivors = %d, want 1", len(out))
	}
	if out[0].ID != "f-1" {
		t.Errorf("survivor = %q, want f-1 (higher engagement)", out[0].ID)
	}
	if out[0].Engagement.Replies != 11 {
		t.Errorf("merged replies = %d, want 11", out[0].Engagement.Replies)
	}
	if len(dropped) != 1 || dropped[0].DuplicateOf != "f-1" {
		t.Errorf("dropped = %+v, want f-2 -> f-1", dropped)
	}
}

func TestFuzzyArmRequiresSameSource(t *testing.T) {
	cs := []solution.Candidate{
		{ID: "f-1", Source: "discussion/f", URL: "https://forum.example.com/t/1",
			Title: "Game crashes on launch", CreatedAt: base},
		{ID: "q-1", Source: "qna/q", URL: "https://board.example.com/q/9",
			Title: "Game crashes on launch", CreatedAt: base},
	}

	d := New(0.8, 72*time.Hour)
	out, _ := d.Dedupe(cs)
	if len(out) != 2 {
		t.Errorf("survivors = %d, want 2: fuzzy arm is same-source only", len(out))
	}
}

func TestFuzzyArmRequiresProximity(t *testing.T) {
	cs := []solution.Candidate{
		{ID: "f-1", Source: "discussion/f", URL: "https://forum.example.com/t/1",
			Title: "Game crashes on launch", CreatedAt: base},
		{ID: "f-2", Source: "discussion/f", URL: "https://forum.example.com/t/2",
			Title: "Game crashes on launch", CreatedAt: base.Add(200 * time.Hour)},
	}

	d := New(0.8, 72*time.Hour)
	out, _ := d.Dedupe(cs)
	if len(out) != 2 {
		t.Errorf("survivors = %d, want 2: candidates too far apart in time", len(out))
	}
}

func TestDissimilarTitlesSurvive(t *testing.T) {
	cs := []solution.Candidate{
		{ID: "f-1", Source: "discussion/f", URL: "https://forum.example.com/t/1",
			Title: "Boss strategy for phase two", CreatedAt: base},
		{ID: "f-2", Source: "discussion/f", URL: "https://forum.example.com/t/2",
			Title: "Where to find the hidden key", CreatedAt: base},
	}

	d := New(0.8, 72*time.Hour)
	out, _ := d.Dedupe(cs)
	if len(out) != 2 {
		t.Errorf("survivors = %d, want 2", len(out))
	}
}

func TestDedupeIdempotent(t *testing.T) {
	cs := []solution.Candidate{
		{ID: "a-1", Source: "qna/a", URL: "https://example.com/t/1", Title: "Beat the boss",
			CreatedAt: base, Engagement: solution.Engagement{Upvotes: 50}},
		{ID: "b-1", Source: "discussion/b", URL: "https://www.example.com/t/1/", Title: "Beat the boss",
			CreatedAt: base, Engagement: solution.Engagement{Upvotes: 20}},
		{ID: "a-2", Source: "qna/a", URL: "https://example.com/t/2", Title: "Unrelated",
			CreatedAt: base},
	}

	d := New(0.8, 72*time.Hour)
	once, _ := d.Dedupe(cs)
	twice, dropped := d.Dedupe(once)

	if len(dropped) != 0 {
		t.Errorf("second pass dropped %d, want 0", len(dropped))
	}
	if len(once) != len(twice) {
		t.Fatalf("second pass changed set size: %d vs %d", len(once), len(twice))
	}
	for i := range once {
		if once[i].ID != twice[i].ID || once[i].Engagement != twice[i].Engagement {
			t.Errorf("second pass changed candidate %d: %+v vs %+v", i, once[i], twice[i])
		}
	}
}

func TestDedupeEmptyAndSingle(t *testing.T) {
	d := New(0.8, 72*time.Hour)

	out, dropped := d.Dedupe(nil)
	if len(out) != 0 || len(dropped) != 0 {
		t.Error("empty input should produce empty output")
	}

	one := []solution.Candidate{{ID: "x", URL: "https://example.com/a"}}
	out, _ = d.Dedupe(one)
	if len(out) != 1 {
		t.Errorf("single input = %d survivors, want 1", len(out))
	}
}
