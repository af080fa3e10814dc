// Package videoidx adapts the video-transcript index. The index is fed by an
// external transcript collaborator; its responses already carry a summary per
// video, so candidates arrive with BodyExcerpt populated and this adapter
// never touches transcripts itself.
package videoidx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/abelbrown/guidepost/internal/solution"
	"github.com/abelbrown/guidepost/internal/source"
)

// video is one element of the index's search response.
type video struct {
	VideoID         string `json:"video_id"`
	Title           string `json:"title"`
	Summary         string `json:"summary"` // transcript summary from the collaborator
	URL             string `json:"url"`
	Channel         string `json:"channel"`
	ChannelVerified bool   `json:"channel_verified"`
	Views           int    `json:"views"`
	Likes           int    `json:"likes"`
	Comments        int    `json:"comments"`
	PublishedAt     string `json:"published_at"` // RFC3339
}

type searchResponse struct {
	SchemaVersion string            `json:"schema_version"`
	Videos        []json.RawMessage `json:"videos"`
}

// Source fetches guide videos from the transcript index.
type Source struct {
	id            solution.SourceID
	name          string
	baseURL       string
	template      string
	schemaVersion string
	apiKey        string
	client        *source.Client
}

// New creates a videoidx source.
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

// Fetch retrieves videos matching topic.
func (s *Source) Fetch(ctx context.Context, topic string, limit int) (source.Result, error) {
	query := source.ExpandTemplate(s.template, topic, limit)
	searchURL := fmt.Sprintf("%s/videos/search?q=%s&limit=%d", s.baseURL, url.QueryEscape(query), limit)

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

	res := source.Result{Candidates: make([]solution.Candidate, 0, len(resp.Videos))}
	for _, raw := range resp.Videos {
		if len(res.Candidates) >= limit {
			break
		}
		var v video
		if err := json.Unmarshal(raw, &v); err != nil || v.VideoID == "" || v.Title == "" {
			res.Skipped++
			continue
		}
		res.Candidates = append(res.Candidates, s.convert(v))
	}

	return res, nil
}

func (s *Source) convert(v video) solution.Candidate {
	// An unparseable date stays zero so the recency signal contributes
	// nothing instead of reading as brand new.
	var created time.Time
	if t, err := time.Parse(time.RFC3339, v.PublishedAt); err == nil {
		created = t
	}

	trust := solution.TrustUnknown
	if v.ChannelVerified {
		trust = solution.TrustVerified
	}

	// Likes map to upvotes, comment count to replies. View counts are far
	// larger than either and would swamp the shared engagement scale, so
	// they stay out of the normalized record.
	return solution.Candidate{
		ID:          source.CandidateID(s.id, v.VideoID),
		Source:      s.id,
		Title:       v.Title,
		BodyExcerpt: v.Summary,
		URL:         v.URL,
		CreatedAt:   created,
		Engagement: solution.Engagement{
			Upvotes:     v.Likes,
			Replies:     v.Comments,
			AuthorTrust: trust,
		},
		ContentType: solution.ContentVideo,
	}
}
