// Package score computes the quality score used to rank candidates: a fixed
// weighted sum of six independently normalized signals. Scoring is a pure
// function of a candidate and the scorer's frozen configuration, so repeated
// runs over the same input always rank identically and candidates can be
// scored in parallel without synchronization.
package score

import (
	"math"
	"regexp"
	"time"

	"github.com/abelbrown/guidepost/internal/config"
	"github.com/abelbrown/guidepost/internal/solution"
)

// stepRe matches numbered-step formatting in an excerpt ("1.", "step 2").
var stepRe = regexp.MustCompile(`(?i)(^|\s)(\d+\.\s|step\s+\d+)`)

// sequenceRe matches prose sequence markers ("first ... then ...").
var sequenceRe = regexp.MustCompile(`(?i)\b(first|then|next|finally|afterwards)\b`)

// Breakdown shows how each signal contributed to the final score.
type Breakdown struct {
	Trust       float64
	Engagement  float64
	Structure   float64
	Endorsement float64
	Recency     float64
	Detail      float64
	Final       float64
}

// Scorer scores candidates against a frozen weight configuration. Build one
// per engine from a validated config; never mutate it per query.
type Scorer struct {
	cfg config.ScoringConfig
	now func() time.Time
}

// New creates a Scorer. The config must already have passed Validate.
func New(cfg config.ScoringConfig) *Scorer {
	return &Scorer{cfg: cfg, now: time.Now}
}

// SetClock overrides the time source. Test use only.
func (s *Scorer) SetClock(now func() time.Time) { s.now = now }

// Version returns the weight configuration version.
func (s *Scorer) Version() string { return s.cfg.Version }

// Score returns the candidate's quality score in [0,1]. Missing signals
// contribute zero to their term; Score never fails.
func (s *Scorer) Score(c solution.Candidate) float64 {
	return s.ScoreWithBreakdown(c).Final
}

// ScoreWithBreakdown returns the score with per-signal components.
func (s *Scorer) ScoreWithBreakdown(c solution.Candidate) Breakdown {
	b := Breakdown{
		Trust:       trustScore(c.Engagement.AuthorTrust),
		Engagement:  s.engagementScore(c.Engagement),
		Structure:   structureScore(c.BodyExcerpt),
		Endorsement: endorsementScore(c.Engagement),
		Recency:     s.recencyScore(c.CreatedAt),
		Detail:      s.detailScore(c.BodyExcerpt),
	}
	b.Final = clamp01(b.Trust*s.cfg.WeightTrust +
		b.Engagement*s.cfg.WeightEngagement +
		b.Structure*s.cfg.WeightStructure +
		b.Endorsement*s.cfg.WeightEndorsement +
		b.Recency*s.cfg.WeightRecency +
		b.Detail*s.cfg.WeightDetail)
	return b
}

func trustScore(t solution.Trust) float64 {
	switch t {
	case solution.TrustVerified:
		return 1.0
	case solution.TrustEstablished:
		return 0.6
	default:
		return 0.0
	}
}

// engagementScore log-scales raw engagement against the saturation point.
func (s *Scorer) engagementScore(e solution.Engagement) float64 {
	raw := float64(e.Raw())
	if raw <= 0 {
		return 0
	}
	sat := float64(s.cfg.EngagementSaturation)
	return clamp01(math.Log1p(raw) / math.Log1p(sat))
}

// structureScore grades formatting in the excerpt: numbered steps count as
// fully structured, prose sequencing as half.
func structureScore(excerpt string) float64 {
	if excerpt == "" {
		return 0
	}
	if stepRe.MatchString(excerpt) {
		return 1.0
	}
	if sequenceRe.MatchString(excerpt) {
		return 0.5
	}
	return 0
}

func endorsementScore(e solution.Engagement) float64 {
	if e.FlaggedSolved {
		return 1.0
	}
	return 0
}

// recencyScore decays linearly from 1.0 now to 0.0 at the max-age horizon.
func (s *Scorer) recencyScore(created time.Time) float64 {
	if created.IsZero() {
		return 0
	}
	age := s.now().Sub(created)
	if age < 0 {
		age = 0
	}
	horizon := time.Duration(s.cfg.MaxAgeDays) * 24 * time.Hour
	return clamp01(1.0 - float64(age)/float64(horizon))
}

// detailScore grades excerpt length against the configured full-detail point.
func (s *Scorer) detailScore(excerpt string) float64 {
	return clamp01(float64(len([]rune(excerpt))) / float64(s.cfg.DetailFullChars))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
