// Package qna adapts Q&A board platforms that expose a JSON search API.
package qna

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/abelbrown/guidepost/internal/solution"
	"github.com/abelbrown/guidepost/internal/source"
)

// answer is one element of the board's search response.
type answer struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	Excerpt     string `json:"excerpt"`
	Link        string `json:"link"`
	Author      author `json:"author"`
	Score       int    `json:"score"`
	AnswerCount int    `json:"answer_count"`
	Accepted    bool   `json:"accepted"`
	Created     int64  `json:"created"` // unix seconds
}

type author struct {
	Name  string `json:"name"`
	Badge string `json:"badge"`
}

// searchResponse is the board's search API envelope.
type searchResponse struct {
	SchemaVersion string            `json:"schema_version"`
	Answers       []json.RawMessage `json:"answers"`
}

// Source fetches answers from a Q&A board search API.
type Source struct {
	id            solution.SourceID
	name          string
	baseURL       string
	template      string
	schemaVersion string
	apiKey        string
	client        *source.Client
}

// New creates a qna source.
func New(id solution.SourceID, name, baseURL, template, schemaVersion, apiKey string, client *source.Client) *Source {
	return &Source{
		id:            id,
		name:          name,
		baseURL:       strings.TrimRight(baseURL, "/"),
		template:      template,
		schemaVersion: schemaVersion,
		apiKey:        apiKey,
		client:        client,
	}
}

func (s *Source) ID() solution.SourceID { return s.id }

func (s *Source) Name() string { return s.name }

// Fetch retrieves answers matching topic. Individual malformed answers are
// skipped and counted; the whole response failing to parse is a format error.
func (s *Source) Fetch(ctx context.Context, topic string, limit int) (source.Result, error) {
	query := source.ExpandTemplate(s.template, topic, limit)
	searchURL := fmt.Sprintf("%s/search?q=%s&limit=%d", s.baseURL, url.QueryEscape(query), limit)

	var header http.Header
	if s.apiKey != "" {
		header = http.Header{"Authorization": []string{"Bearer " + s.apiKey}}
	}

	body, err := s.client.Get(ctx, searchURL, header)
	if err != nil {
		return source.Result{}, source.Classify(err)
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return source.Result{}, fmt.Errorf("%w: decode response: %v", source.ErrFormat, err)
	}
	if s.schemaVersion != "" && resp.SchemaVersion != "" && resp.SchemaVersion != s.schemaVersion {
		return source.Result{}, fmt.Errorf("%w: schema %q, adapter expects %q", source.ErrFormat, resp.SchemaVersion, s.schemaVersion)
	}

	res := source.Result{Candidates: make([]solution.Candidate, 0, len(resp.Answers))}
	for _, raw := range resp.Answers {
		if len(res.Candidates) >= limit {
			break
		}
		var a answer
		if err := json.Unmarshal(raw, &a); err != nil || a.Title == "" || a.Link == "" {
			res.Skipped++
			continue
		}
		res.Candidates = append(res.Candidates, s.convert(a))
	}

	return res, nil
}

func (s *Source) convert(a answer) solution.Candidate {
	return solution.Candidate{
		ID:          source.CandidateID(s.id, strconv.Itoa(a.ID)),
		Source:      s.id,
		Title:       a.Title,
		BodyExcerpt: a.Excerpt,
		URL:         a.Link,
		CreatedAt:   time.Unix(a.Created, 0).UTC(),
		Engagement: solution.Engagement{
			Upvotes:       a.Score,
			Replies:       a.AnswerCount, // answer count maps to replies
			FlaggedSolved: a.Accepted,
			AuthorTrust:   solution.TrustFromBadge(a.Author.Badge),
		},
		ContentType: solution.ContentAnswer,
	}
}
