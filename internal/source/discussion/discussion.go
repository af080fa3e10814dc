// Package discussion adapts forum-style thread platforms. Boards expose
// per-search RSS feeds; replies come from the slash:comments extension and
// the [SOLVED] title convention marks resolved threads.
package discussion

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/abelbrown/guidepost/internal/solution"
	"github.com/abelbrown/guidepost/internal/source"
)

const excerptLen = 300

// solvedRe matches solved markers forums put in thread titles.
var solvedRe = regexp.MustCompile(`(?i)^\s*\[(solved|resolved|fixed)\]`)

// Source fetches forum threads from an RSS search feed.
type Source struct {
	id       solution.SourceID
	name     string
	baseURL  string
	template string
	client   *source.Client
	parser   *gofeed.Parser
}

// New creates a discussion source.
func New(id solution.SourceID, name, baseURL, template string, client *source.Client) *Source {
	return &Source{
		id:       id,
		name:     name,
		baseURL:  strings.TrimRight(baseURL, "/"),
		template: template,
		client:   client,
		parser:   gofeed.NewParser(),
	}
}

func (s *Source) ID() solution.SourceID { return s.id }

func (s *Source) Name() string { return s.name }

// Fetch retrieves threads matching topic.
func (s *Source) Fetch(ctx context.Context, topic string, limit int) (source.Result, error) {
	query := source.ExpandTemplate(s.template, topic, limit)
	feedURL := fmt.Sprintf("%s/rss?q=%s&count=%d", s.baseURL, url.QueryEscape(query), limit)

	body, err := s.client.Get(ctx, feedURL, nil)
	if err != nil {
		return source.Result{}, source.Classify(err)
	}

	feed, err := s.parser.Parse(bytes.NewReader(body))
	if err != nil {
		return source.Result{}, fmt.Errorf("%w: parse feed: %v", source.ErrFormat, err)
	}

	res := source.Result{Candidates: make([]solution.Candidate, 0, len(feed.Items))}
	for _, item := range feed.Items {
		if len(res.Candidates) >= limit {
			break
		}
		if item.Title == "" || item.Link == "" {
			res.Skipped++
			continue
		}

		// No date stays zero; the scorer treats an absent recency signal
		// as contributing nothing rather than inventing one.
		var created time.Time
		if item.PublishedParsed != nil {
			created = *item.PublishedParsed
		} else if item.UpdatedParsed != nil {
			created = *item.UpdatedParsed
		}

		res.Candidates = append(res.Candidates, solution.Candidate{
			ID:          threadID(s.id, item),
			Source:      s.id,
			Title:       cleanTitle(item.Title),
			BodyExcerpt: truncate(stripHTML(item.Description), excerptLen),
			URL:         item.Link,
			CreatedAt:   created,
			Engagement: solution.Engagement{
				Replies:       replyCount(item),
				FlaggedSolved: solvedRe.MatchString(item.Title),
			},
			ContentType: solution.ContentThread,
		})
	}

	return res, nil
}

// threadID builds a source-qualified ID from the feed GUID or link.
func threadID(id solution.SourceID, item *gofeed.Item) string {
	key := item.GUID
	if key == "" {
		key = item.Link
	}
	return source.CandidateID(id, source.ShortHash(key))
}

// replyCount reads the slash:comments extension when the feed provides it.
func replyCount(item *gofeed.Item) int {
	exts, ok := item.Extensions["slash"]
	if !ok {
		return 0
	}
	for _, ext := range exts["comments"] {
		if n, err := strconv.Atoi(strings.TrimSpace(ext.Value)); err == nil {
			return n
		}
	}
	return 0
}

// cleanTitle drops the solved marker; the flag survives in Engagement.
func cleanTitle(title string) string {
	return strings.TrimSpace(solvedRe.ReplaceAllString(title, ""))
}

// stripHTML removes tags and collapses whitespace.
func stripHTML(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// truncate shortens s to maxLen runes, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
