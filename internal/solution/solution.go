// Package solution defines the record types that flow through the retrieval
// pipeline. Every source adapter normalizes its platform's response into a
// Candidate; the engine attaches a score and rank to produce ScoredCandidates.
package solution

import (
	"sort"
	"strings"
	"time"
)

// SourceID identifies a configured source instance, e.g. "discussion/steam".
// The prefix names the adapter kind, the suffix the platform instance.
type SourceID string

// Adapter kinds. A SourceID is "<kind>/<instance>".
const (
	KindDiscussion = "discussion"
	KindQnA        = "qna"
	KindVideo      = "video"
)

// Kind returns the adapter kind portion of the ID.
func (s SourceID) Kind() string {
	if i := strings.IndexByte(string(s), '/'); i >= 0 {
		return string(s)[:i]
	}
	return string(s)
}

// ContentType classifies what a candidate links to.
type ContentType string

const (
	ContentThread ContentType = "thread"
	ContentAnswer ContentType = "answer"
	ContentVideo  ContentType = "video"
)

// Trust is the author trust level reported by a platform.
type Trust int

const (
	TrustUnknown Trust = iota
	TrustEstablished
	TrustVerified
)

func (t Trust) String() string {
	switch t {
	case TrustEstablished:
		return "established"
	case TrustVerified:
		return "verified"
	default:
		return "unknown"
	}
}

// TrustFromBadge maps a platform badge/role string onto a trust level.
// Developer and moderator roles count as verified; long-standing community
// roles as established.
func TrustFromBadge(badge string) Trust {
	b := strings.ToLower(badge)
	switch {
	case b == "":
		return TrustUnknown
	case strings.Contains(b, "developer"), strings.Contains(b, "moderator"),
		strings.Contains(b, "verified"), strings.Contains(b, "staff"):
		return TrustVerified
	case strings.Contains(b, "trusted"), strings.Contains(b, "veteran"),
		strings.Contains(b, "expert"), strings.Contains(b, "mvp"),
		strings.Contains(b, "helper"):
		return TrustEstablished
	default:
		return TrustUnknown
	}
}

// Engagement holds the platform-agnostic engagement signals. Each adapter is
// responsible for mapping its platform's metrics onto this shape (a thread's
// reply count and a Q&A board's answer count both land in Replies).
type Engagement struct {
	Upvotes       int   `json:"upvotes"`
	Replies       int   `json:"replies"`
	FlaggedSolved bool  `json:"flagged_solved"`
	AuthorTrust   Trust `json:"author_trust"`
}

// Raw is the combined raw engagement count used for duplicate resolution.
func (e Engagement) Raw() int {
	return e.Upvotes + e.Replies
}

// Candidate is one normalized unit of retrieved content. It is created by a
// source adapter and not mutated afterwards; the scoring stage copies it into
// a ScoredCandidate rather than writing back.
type Candidate struct {
	ID          string      `json:"id"` // source-qualified, e.g. "qna-12345"
	Source      SourceID    `json:"source"`
	Title       string      `json:"title"`
	BodyExcerpt string      `json:"body_excerpt"`
	URL         string      `json:"url"`
	CreatedAt   time.Time   `json:"created_at"`
	Engagement  Engagement  `json:"engagement"`
	ContentType ContentType `json:"content_type"`
}

// ScoredCandidate is a Candidate with its quality score and final rank.
type ScoredCandidate struct {
	Candidate
	Score float64 `json:"score"` // in [0,1]
	Rank  int     `json:"rank"`  // 1-based, unique within one result set
}

// Query is one retrieval request. Immutable once constructed.
type Query struct {
	Topic     string
	Sources   []SourceID
	Freshness time.Duration // max age of cached results to reuse
	Limit     int
}

// NewQuery builds a Query, applying defaultLimit when limit <= 0.
func NewQuery(topic string, sources []SourceID, freshness time.Duration, limit, defaultLimit int) Query {
	if limit <= 0 {
		limit = defaultLimit
	}
	srcs := make([]SourceID, len(sources))
	copy(srcs, sources)
	return Query{Topic: topic, Sources: srcs, Freshness: freshness, Limit: limit}
}

// SortRanked orders candidates by descending score, breaking ties by newer
// CreatedAt, then by ID, and assigns ranks 1..N. The ordering is total, so
// repeated runs over the same set produce identical output.
func SortRanked(cs []ScoredCandidate) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].Score != cs[j].Score {
			return cs[i].Score > cs[j].Score
		}
		if !cs[i].CreatedAt.Equal(cs[j].CreatedAt) {
			return cs[i].CreatedAt.After(cs[j].CreatedAt)
		}
		return cs[i].ID < cs[j].ID
	})
	for i := range cs {
		cs[i].Rank = i + 1
	}
}
