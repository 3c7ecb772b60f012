// Package gazetteer matches misheard spoken phrases against a list of known
// place names using Double Metaphone phonetic encoding combined with
// Jaro-Winkler string similarity for ranked candidate selection.
//
// Voice transcription routinely mangles street and landmark names ("Oke
// Street" for "Oak Street", "twelve oh khurst" for "Oakhurst"), and a
// dispatcher record with a wrong location is worse than useless. The matcher
// proceeds in two stages:
//
//  1. Phonetic candidate filtering: Double Metaphone codes are computed for
//     each word in the input and for each known place. If any code from the
//     input overlaps with any code from a place, the place becomes a
//     phonetic candidate.
//
//  2. Jaro-Winkler ranking: Among phonetic candidates, the place with the
//     highest Jaro-Winkler similarity (computed on the original strings,
//     case-insensitive) is selected, provided its score exceeds the
//     configurable phonetic threshold.
//
//     When no phonetic candidate is found, a secondary pass tests pure
//     Jaro-Winkler similarity against all places using a higher fuzzy
//     threshold (default 0.85).
//
// Multi-word places (e.g., "Oak Hill Cemetery") are supported: the matcher
// computes phonetic codes for each word and considers the best pairwise score
// across all word pairs when ranking candidates.
package gazetteer

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched place to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found and the matcher falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher scores spoken phrases against known place names. All methods are
// safe for concurrent use — the Matcher is read-only after construction.
type Matcher struct {
	places            []string
	maxPlaceWords     int
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a [Matcher] over the given place names. Default thresholds are
// 0.70 for phonetic matches and 0.85 for fuzzy fallback matches.
func New(places []string, opts ...Option) *Matcher {
	m := &Matcher{
		places:            places,
		maxPlaceWords:     maxWordCount(places),
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// MaxPlaceWords returns the largest word count among the known places. Used
// by callers sliding n-gram windows over a transcript.
func (m *Matcher) MaxPlaceWords() int {
	return m.maxPlaceWords
}

// Match attempts to find the known place most phonetically similar to phrase.
//
// phrase may be a single word or a space-separated n-gram. When phrase
// contains multiple tokens, the matcher checks whether any token phonetically
// aligns with any token in a multi-word place, then ranks by Jaro-Winkler on
// the full strings.
//
// When matched is false, corrected equals phrase unchanged and confidence
// is 0.
func (m *Matcher) Match(phrase string) (corrected string, confidence float64, matched bool) {
	if len(m.places) == 0 || strings.TrimSpace(phrase) == "" {
		return phrase, 0, false
	}

	phraseLower := strings.ToLower(strings.TrimSpace(phrase))
	phraseTokens := strings.Fields(phraseLower)

	// Build phonetic code set for the input.
	inputCodes := codesForTokens(phraseTokens)

	type candidate struct {
		place    string
		score    float64
		phonetic bool
	}

	var best candidate

	for _, place := range m.places {
		placeLower := strings.ToLower(strings.TrimSpace(place))
		if placeLower == "" {
			continue
		}
		placeTokens := strings.Fields(placeLower)

		// Check phonetic overlap between input tokens and place tokens.
		placeCodes := codesForTokens(placeTokens)
		phoneticMatch := codesOverlap(inputCodes, placeCodes)

		// Compute the best Jaro-Winkler score for this place using several
		// comparison strategies to handle multi-word mismatches robustly.
		jwScore := bestJWScore(phraseTokens, placeTokens, phraseLower, placeLower)

		if phoneticMatch {
			if jwScore >= m.phoneticThreshold {
				if !best.phonetic || jwScore > best.score {
					best = candidate{place: place, score: jwScore, phonetic: true}
				}
			}
		} else if !best.phonetic {
			if jwScore >= m.fuzzyThreshold && jwScore > best.score {
				best = candidate{place: place, score: jwScore, phonetic: false}
			}
		}
	}

	if best.place != "" {
		return best.place, best.score, true
	}
	return phrase, 0, false
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes (produced when the word is too short or
// contains no consonants) are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	// Iterate over the smaller set.
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore computes the highest Jaro-Winkler similarity between the input
// and the place using three strategies:
//
//  1. Full-string comparison (e.g., "oke hurst" vs "oakhurst").
//  2. Space-stripped comparison (e.g., "okehurst" vs "oakhurst").
//  3. Best pairwise word comparison — the maximum JW score between any input
//     token and any place token (useful when one spoken word corresponds to
//     one place word).
func bestJWScore(inputTokens, placeTokens []string, inputFull, placeFull string) float64 {
	// Strategy 1: full strings.
	score := matchr.JaroWinkler(inputFull, placeFull, false)

	// Strategy 2: concatenated (no spaces).
	if len(inputTokens) > 1 || len(placeTokens) > 1 {
		concat1 := strings.Join(inputTokens, "")
		concat2 := strings.Join(placeTokens, "")
		if s := matchr.JaroWinkler(concat1, concat2, false); s > score {
			score = s
		}
	}

	// Strategy 3: best pairwise token score.
	for _, it := range inputTokens {
		for _, pt := range placeTokens {
			if s := matchr.JaroWinkler(it, pt, false); s > score {
				score = s
			}
		}
	}

	return score
}

// maxWordCount returns the maximum number of whitespace-separated words in
// any place string. Returns 1 when places is empty.
func maxWordCount(places []string) int {
	max := 1
	for _, p := range places {
		n := len(strings.Fields(p))
		if n > max {
			max = n
		}
	}
	return max
}
