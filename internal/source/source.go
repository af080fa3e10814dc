// Package source defines the adapter contract every platform implements and
// the shared HTTP plumbing adapters fetch through. Platform-specific request
// construction and response mapping live entirely in the per-kind
// subpackages; nothing upstream knows about any platform's wire format.
package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net"
	"strconv"
	"strings"

	"github.com/abelbrown/guidepost/internal/solution"
)

// Typed fetch failures. Adapters classify their errors into one of these so
// the aggregator can count and report them without parsing messages.
var (
	// ErrUnavailable: network or transport failure reaching the platform
	ErrUnavailable = errors.New("source unavailable")
	// ErrTimeout: the per-source fetch deadline elapsed
	ErrTimeout = errors.New("source timeout")
	// ErrFormat: the platform responded but the payload did not parse
	ErrFormat = errors.New("source format error")
)

// Result is one adapter fetch outcome. A partially parseable response is a
// success: the parsed subset plus a count of skipped items, never a hard
// failure.
type Result struct {
	Candidates []solution.Candidate
	Skipped    int // malformed items dropped during parsing
}

// Source is the interface all platform adapters implement.
type Source interface {
	// ID returns the configured source identifier, e.g. "qna/gamefaqs"
	ID() solution.SourceID

	// Name returns the human-readable platform name
	Name() string

	// Fetch retrieves candidates matching topic, at most limit of them.
	// Must observe ctx cancellation at its I/O boundary.
	Fetch(ctx context.Context, topic string, limit int) (Result, error)
}

// Classify wraps err in the matching typed failure. Context deadline and
// cancellation map to ErrTimeout, transport errors to ErrUnavailable;
// anything else is assumed to be a parse problem.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUnavailable), errors.Is(err, ErrTimeout), errors.Is(err, ErrFormat):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return errors.Join(ErrTimeout, err)
	default:
		var netErr net.Error
		if errors.As(err, &netErr) {
			if netErr.Timeout() {
				return errors.Join(ErrTimeout, err)
			}
			return errors.Join(ErrUnavailable, err)
		}
		return errors.Join(ErrFormat, err)
	}
}

// ExpandTemplate substitutes {topic} and {limit} placeholders in a source's
// query-dialect template. An empty template passes the topic through.
func ExpandTemplate(template, topic string, limit int) string {
	if template == "" {
		return topic
	}
	out := strings.ReplaceAll(template, "{topic}", topic)
	out = strings.ReplaceAll(out, "{limit}", strconv.Itoa(limit))
	return out
}

// ShortHash returns a 16-character hex digest of s, for deterministic
// candidate IDs when a platform has no stable item ID.
func ShortHash(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:8])
}

// CandidateID builds a candidate ID qualified by the full source ID, so two
// configured instances of the same adapter kind never mint colliding IDs for
// unrelated content. The slash is flattened to keep IDs single-token.
func CandidateID(id solution.SourceID, item string) string {
	return strings.ReplaceAll(string(id), "/", "-") + "-" + item
}
