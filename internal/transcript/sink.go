// Package transcript implements the append-only transcript channel that a
// streaming session writes to as a call progresses.
//
// The sink is a single shared text surface: the session controller appends
// one role-prefixed line per finalised utterance, and independent readers
// (the live view in the supervising process, the classification pipeline)
// may read the accumulated text at any time. Lines use the form
//
//	role: utterance text
//
// so downstream parsing can reconstruct turns without any structured format.
package transcript

import (
	"fmt"
	"strings"
)

// Sink is an append-only text channel for a single session's transcript.
// Implementations must be safe for concurrent use: the session controller
// appends while observers read.
type Sink interface {
	// Append adds one finalised utterance as a role-prefixed line.
	// Newlines inside text are flattened so one utterance is always one line.
	Append(role, text string) error

	// ReadAll returns the full transcript accumulated so far.
	ReadAll() (string, error)

	// Reset discards all accumulated content. Called once at session start
	// so a new call never inherits the previous call's transcript.
	Reset() error
}

// Turn is one parsed transcript line.
type Turn struct {
	Role string
	Text string
}

// formatLine renders a single transcript line. Embedded newlines are
// replaced so the line-oriented format stays parseable.
func formatLine(role, text string) string {
	text = strings.ReplaceAll(text, "\n", " ")
	return fmt.Sprintf("%s: %s\n", role, strings.TrimSpace(text))
}

// ParseTurns splits a raw transcript back into role-tagged turns. Lines
// without a role prefix are attributed to the previous turn's role, or
// skipped when there is none; blank lines are ignored.
func ParseTurns(raw string) []Turn {
	var turns []Turn
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		role, text, found := strings.Cut(line, ": ")
		if !found || strings.ContainsAny(role, " \t") {
			if len(turns) == 0 {
				continue
			}
			last := &turns[len(turns)-1]
			last.Text += " " + line
			continue
		}
		turns = append(turns, Turn{Role: role, Text: text})
	}
	return turns
}
