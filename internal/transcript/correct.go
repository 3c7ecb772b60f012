package transcript

import (
	"strings"
	"sync"

	"github.com/telawney/dispatchd/internal/transcript/gazetteer"
)

// Correction records one place-name substitution applied to a caller turn.
type Correction struct {
	// Original is the phrase as transcribed.
	Original string

	// Corrected is the canonical place name that replaced it.
	Corrected string

	// Confidence is the similarity score that justified the substitution.
	Confidence float64
}

// callerRole is the speaker role whose turns get place-name correction.
// Operator turns are synthesised from text and never misheard.
const callerRole = "caller"

// CorrectingSink decorates a [Sink] with gazetteer-based place-name
// correction of caller turns. Misheard street and landmark names are replaced
// with their canonical spelling before the turn reaches the underlying sink,
// so both the live transcript and the eventual record carry locations a
// dispatcher can act on.
//
// Safe for concurrent use when the underlying sink is.
type CorrectingSink struct {
	inner   Sink
	matcher *gazetteer.Matcher

	mu      sync.Mutex
	applied []Correction
}

var _ Sink = (*CorrectingSink)(nil)

// NewCorrectingSink wraps inner with place-name correction against m.
func NewCorrectingSink(inner Sink, m *gazetteer.Matcher) *CorrectingSink {
	return &CorrectingSink{inner: inner, matcher: m}
}

// Append implements [Sink]. Caller turns are corrected; other roles pass
// through unchanged.
func (s *CorrectingSink) Append(role, text string) error {
	if role == callerRole {
		corrected, corrections := s.correct(text)
		if len(corrections) > 0 {
			s.mu.Lock()
			s.applied = append(s.applied, corrections...)
			s.mu.Unlock()
			text = corrected
		}
	}
	return s.inner.Append(role, text)
}

// ReadAll implements [Sink].
func (s *CorrectingSink) ReadAll() (string, error) {
	return s.inner.ReadAll()
}

// Reset implements [Sink]. The applied-correction log is cleared along with
// the transcript.
func (s *CorrectingSink) Reset() error {
	s.mu.Lock()
	s.applied = nil
	s.mu.Unlock()
	return s.inner.Reset()
}

// Corrections returns a snapshot of the substitutions applied since the last
// Reset.
func (s *CorrectingSink) Corrections() []Correction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Correction, len(s.applied))
	copy(out, s.applied)
	return out
}

// correct slides n-gram windows over the text, replacing the longest window
// that matches a known place at each position. Longer windows win so
// multi-word places take precedence over partial single-word matches.
func (s *CorrectingSink) correct(text string) (string, []Correction) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text, nil
	}
	maxWindow := s.matcher.MaxPlaceWords()

	var output []string
	var corrections []Correction

	i := 0
	for i < len(tokens) {
		// Clamp window size to remaining tokens.
		maxN := maxWindow
		if i+maxN > len(tokens) {
			maxN = len(tokens) - i
		}

		matched := false
		for n := maxN; n >= 1; n-- {
			window := strings.Join(tokens[i:i+n], " ")
			place, conf, ok := s.matcher.Match(window)
			if !ok {
				continue
			}

			output = append(output, strings.Fields(place)...)
			if place != window {
				corrections = append(corrections, Correction{
					Original:   window,
					Corrected:  place,
					Confidence: conf,
				})
			}
			i += n
			matched = true
			break
		}

		if !matched {
			output = append(output, tokens[i])
			i++
		}
	}

	return strings.Join(output, " "), corrections
}
