// Package dedup collapses candidates that reference the same underlying
// thread or video. Two candidates are duplicates when their URLs canonicalize
// identically, or when their titles are similar enough and they come from the
// same source within a short time window.
package dedup

import (
	"net/url"
	"strings"
	"time"

	"github.com/abelbrown/guidepost/internal/solution"
)

// Duplicate records a dropped candidate and the survivor it folded into.
type Duplicate struct {
	ID          string
	DuplicateOf string
}

// Deduper detects and collapses near-duplicate candidates.
type Deduper struct {
	threshold float64       // minimum title similarity for the fuzzy arm
	proximity time.Duration // fuzzy matches must be created within this window
}

// New creates a Deduper. threshold is in (0,1].
func New(threshold float64, proximity time.Duration) *Deduper {
	return &Deduper{threshold: threshold, proximity: proximity}
}

// Dedupe collapses duplicate sets. The member with the highest raw engagement
// survives; the rest are dropped, with their engagement counts summed into
// the survivor so a popular thread fetched twice is not undercounted.
// Survivors keep their input order. Idempotent: deduping the output again
// changes nothing.
func (d *Deduper) Dedupe(cs []solution.Candidate) ([]solution.Candidate, []Duplicate) {
	if len(cs) < 2 {
		return cs, nil
	}

	// Union-find over candidate indices
	parent := make([]int, len(cs))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}

	// URL arm: identical canonical URLs are the same content, cross-source
	byURL := make(map[string]int)
	for i, c := range cs {
		canon := CanonicalURL(c.URL)
		if canon == "" {
			continue
		}
		if j, ok := byURL[canon]; ok {
			union(j, i)
		} else {
			byURL[canon] = i
		}
	}

	// Fuzzy arm: similar titles, same source, close in time
	tokens := make([][]string, len(cs))
	for i, c := range cs {
		tokens[i] = titleTokens(c.Title)
	}
	for i := 0; i < len(cs); i++ {
		for j := i + 1; j < len(cs); j++ {
			if cs[i].Source != cs[j].Source {
				continue
			}
			delta := cs[i].CreatedAt.Sub(cs[j].CreatedAt)
			if delta < 0 {
				delta = -delta
			}
			if delta > d.proximity {
				continue
			}
			if jaccard(tokens[i], tokens[j]) >= d.threshold {
				union(i, j)
			}
		}
	}

	// Pick survivors and fold engagement
	groups := make(map[int][]int)
	for i := range cs {
		root := find(i)
		groups[root] = append(groups[root], i)
	}

	survivorOf := make(map[int]int) // group root -> surviving index
	for root, members := range groups {
		best := members[0]
		for _, m := range members[1:] {
			if better(cs[m], cs[best]) {
				best = m
			}
		}
		survivorOf[root] = best
	}

	var out []solution.Candidate
	var dropped []Duplicate
	for i, c := range cs {
		root := find(i)
		surv := survivorOf[root]
		if i != surv {
			dropped = append(dropped, Duplicate{ID: c.ID, DuplicateOf: cs[surv].ID})
			continue
		}
		merged := c
		for _, m := range groups[root] {
			if m == surv {
				continue
			}
			merged.Engagement.Upvotes += cs[m].Engagement.Upvotes
			merged.Engagement.Replies += cs[m].Engagement.Replies
			merged.Engagement.FlaggedSolved = merged.Engagement.FlaggedSolved || cs[m].Engagement.FlaggedSolved
			if cs[m].Engagement.AuthorTrust > merged.Engagement.AuthorTrust {
				merged.Engagement.AuthorTrust = cs[m].Engagement.AuthorTrust
			}
		}
		out = append(out, merged)
	}

	return out, dropped
}

// better reports whether a should survive over b: higher raw engagement,
// ties broken by older creation, then ID. Deterministic for fixed input.
func better(a, b solution.Candidate) bool {
	if a.Engagement.Raw() != b.Engagement.Raw() {
		return a.Engagement.Raw() > b.Engagement.Raw()
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// CanonicalURL reduces a URL to scheme://host/path with query and fragment
// stripped, host lowercased, "www." dropped, and trailing slash trimmed.
func CanonicalURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.ToLower(u.Host)
	host = strings.TrimPrefix(host, "www.")
	path := strings.TrimRight(u.Path, "/")
	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + host + path
}

// titleTokens normalizes a title into a sorted-unique token set.
func titleTokens(title string) []string {
	fields := strings.Fields(strings.ToLower(title))
	seen := make(map[string]bool, len(fields))
	var out []string
	for _, f := range fields {
		f = strings.Trim(f, ".,!?:;\"'()[]")
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// jaccard computes intersection-over-union of two token sets.
func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[t] = true
	}
	inter := 0
	for _, t := range b {
		if set[t] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
