package transcript

import (
	"strings"
	"testing"

	"github.com/telawney/dispatchd/internal/transcript/gazetteer"
)

func newCorrectingSink(places ...string) (*CorrectingSink, *Buffer) {
	inner := &Buffer{}
	return NewCorrectingSink(inner, gazetteer.New(places)), inner
}

func TestCorrectingSinkFixesCallerTurn(t *testing.T) {
	sink, inner := newCorrectingSink("Oakhurst", "Riverside Park")

	if err := sink.Append("caller", "there is a fire near oke hurst"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	text, err := inner.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if !strings.Contains(text, "Oakhurst") {
		t.Errorf("transcript = %q, want corrected place name", text)
	}
	if strings.Contains(text, "oke hurst") {
		t.Errorf("transcript = %q, still contains the misheard phrase", text)
	}

	corrections := sink.Corrections()
	if len(corrections) != 1 {
		t.Fatalf("Corrections() = %d entries, want 1", len(corrections))
	}
	if corrections[0].Original != "oke hurst" || corrections[0].Corrected != "Oakhurst" {
		t.Errorf("correction = %+v", corrections[0])
	}
	if corrections[0].Confidence <= 0 {
		t.Errorf("confidence = %f, want > 0", corrections[0].Confidence)
	}
}

func TestCorrectingSinkLeavesOperatorTurns(t *testing.T) {
	sink, inner := newCorrectingSink("Oakhurst")

	if err := sink.Append("operator", "units dispatched to oke hurst"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	text, err := inner.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if !strings.Contains(text, "oke hurst") {
		t.Errorf("transcript = %q, operator turn was rewritten", text)
	}
	if len(sink.Corrections()) != 0 {
		t.Errorf("Corrections() = %v, want none", sink.Corrections())
	}
}

func TestCorrectingSinkMultiWordPrecedence(t *testing.T) {
	// "river side park" must resolve to the multi-word place, not leave a
	// partial single-word match behind.
	sink, inner := newCorrectingSink("Riverside Park", "Riverside")

	if err := sink.Append("caller", "someone collapsed at river side park"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	text, err := inner.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if !strings.Contains(text, "Riverside Park") {
		t.Errorf("transcript = %q, want multi-word place", text)
	}
}

func TestCorrectingSinkPassthroughWithoutMatches(t *testing.T) {
	sink, inner := newCorrectingSink("Oakhurst")

	const line = "my neighbour will not stop shouting"
	if err := sink.Append("caller", line); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	text, err := inner.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if !strings.Contains(text, line) {
		t.Errorf("transcript = %q, want unmodified line", text)
	}
}

func TestCorrectingSinkResetClearsCorrections(t *testing.T) {
	sink, _ := newCorrectingSink("Oakhurst")

	if err := sink.Append("caller", "fire at oke hurst"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if len(sink.Corrections()) == 0 {
		t.Fatal("expected at least one correction before reset")
	}

	if err := sink.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if len(sink.Corrections()) != 0 {
		t.Errorf("Corrections() after Reset = %v, want none", sink.Corrections())
	}
	text, err := sink.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if text != "" {
		t.Errorf("transcript after Reset = %q, want empty", text)
	}
}
