package classify

import (
	"context"
	"errors"
	"testing"

	"github.com/telawney/dispatchd/internal/ipc"
	"github.com/telawney/dispatchd/internal/record"
	"github.com/telawney/dispatchd/pkg/provider/llm"
	llmmock "github.com/telawney/dispatchd/pkg/provider/llm/mock"
)

const sampleTranscript = "caller: There's a fire at 12 Oak St\noperator: Help is on the way"

func respondWith(content string) *llmmock.Provider {
	return &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: content},
	}
}

func TestRunEndToEnd(t *testing.T) {
	provider := respondWith(`{"summary":"Reported fire","criticality":"HIGH","isSpam":"False","department":"Fire","user":"Unknown","location":"12 Oak St"}`)
	store := &record.MemStore{}
	signals, err := ipc.New(t.TempDir())
	if err != nil {
		t.Fatalf("ipc.New() error = %v", err)
	}

	p := New(provider, store, WithSignals(signals))
	rec, err := p.Run(context.Background(), sampleTranscript)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if rec == nil {
		t.Fatal("Run() record = nil")
	}

	if rec.Criticality != record.CriticalityHigh {
		t.Errorf("criticality = %q, want HIGH", rec.Criticality)
	}
	if rec.IsSpam {
		t.Error("is_spam = true, want false")
	}
	if rec.Location != "12 Oak St" {
		t.Errorf("location = %q, want %q", rec.Location, "12 Oak St")
	}
	if rec.Transcript != sampleTranscript {
		t.Errorf("transcript = %q, want original text", rec.Transcript)
	}
	if rec.ID == "" || rec.Timestamp.IsZero() {
		t.Errorf("record missing identity: id=%q timestamp=%v", rec.ID, rec.Timestamp)
	}

	// The record must be persisted and announced.
	stored, err := store.QueryByID(context.Background(), rec.ID)
	if err != nil || stored == nil {
		t.Fatalf("QueryByID() = (%v, %v), want stored record", stored, err)
	}
	id, ok, err := signals.TakeDone()
	if err != nil || !ok {
		t.Fatalf("TakeDone() = (%q, %v, %v), want published marker", id, ok, err)
	}
	if id != rec.ID {
		t.Errorf("published record id = %q, want %q", id, rec.ID)
	}

	// The request carried the transcript as the user message.
	calls := provider.CompleteCalls
	if len(calls) != 1 {
		t.Fatalf("Complete calls = %d, want 1", len(calls))
	}
	if got := calls[0].Req.Messages[0].Content; got != sampleTranscript {
		t.Errorf("user message = %q, want transcript", got)
	}
	if calls[0].Req.SystemPrompt == "" {
		t.Error("system prompt was empty")
	}
}

func TestRunEmptyTranscript(t *testing.T) {
	for _, transcript := range []string{"", "   \n\t "} {
		provider := &llmmock.Provider{}
		store := &record.MemStore{}

		rec, err := New(provider, store).Run(context.Background(), transcript)
		if err != nil {
			t.Errorf("Run(%q) error = %v", transcript, err)
		}
		if rec != nil {
			t.Errorf("Run(%q) record = %+v, want nil", transcript, rec)
		}
		if len(provider.CompleteCalls) != 0 {
			t.Errorf("Run(%q) called the LLM", transcript)
		}
		if all, _ := store.QueryAll(context.Background()); len(all) != 0 {
			t.Errorf("Run(%q) persisted a record", transcript)
		}
	}
}

func TestRunFallbackOnInvalidJSON(t *testing.T) {
	tests := []struct {
		name     string
		provider *llmmock.Provider
	}{
		{"malformed body", respondWith(`{"summary": "truncated`)},
		{"no json at all", respondWith("I could not process that call.")},
		{"upstream error", &llmmock.Provider{CompleteErr: errors.New("rate limited")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &record.MemStore{}
			rec, err := New(tt.provider, store).Run(context.Background(), sampleTranscript)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}

			if rec.Summary != FallbackSummary {
				t.Errorf("summary = %q, want %q", rec.Summary, FallbackSummary)
			}
			if rec.Criticality != record.CriticalityLow {
				t.Errorf("criticality = %q, want LOW", rec.Criticality)
			}
			if !rec.IsSpam {
				t.Error("is_spam = false, want fail-safe true")
			}
			if rec.Caller != record.UnknownValue || rec.Location != record.UnknownValue {
				t.Errorf("caller/location = %q/%q, want Unknown", rec.Caller, rec.Location)
			}
			if rec.Transcript != sampleTranscript {
				t.Error("fallback record lost the transcript")
			}
		})
	}
}

func TestRunUnrecognisedCriticality(t *testing.T) {
	provider := respondWith(`{"summary":"ok","criticality":"urgent","isSpam":"false","department":"Police","user":"Jo","location":"Main St"}`)
	rec, err := New(provider, &record.MemStore{}).Run(context.Background(), sampleTranscript)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if rec.Criticality != record.CriticalityLow {
		t.Errorf("criticality = %q, want LOW", rec.Criticality)
	}
}

func TestRunStoreFailure(t *testing.T) {
	provider := respondWith(`{"summary":"ok","criticality":"LOW","isSpam":"false"}`)
	store := &failingStore{err: errors.New("connection refused")}

	rec, err := New(provider, store).Run(context.Background(), sampleTranscript)
	if err == nil {
		t.Fatal("Run() error = nil, want insert failure")
	}
	if rec != nil {
		t.Errorf("Run() record = %+v, want nil on insert failure", rec)
	}
}

func TestRunExtractsWrappedJSON(t *testing.T) {
	provider := respondWith("Here is the analysis:\n```json\n" +
		`{"summary":"Cat stuck in tree","criticality":"LOW","isSpam":"false","department":"Fire","user":"Unknown","location":"Unknown"}` +
		"\n```")
	rec, err := New(provider, &record.MemStore{}).Run(context.Background(), sampleTranscript)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if rec.Summary != "Cat stuck in tree" {
		t.Errorf("summary = %q, want extracted value", rec.Summary)
	}
	if rec.IsSpam {
		t.Error("is_spam = true, want false")
	}
}

func TestSpamValueCoercion(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    bool
	}{
		{"uppercase TRUE string", `{"isSpam":"TRUE"}`, true},
		{"mixed-case False string", `{"isSpam":"False"}`, false},
		{"bare boolean true", `{"isSpam":true}`, true},
		{"bare boolean false", `{"isSpam":false}`, false},
		{"non-boolean-like string", `{"isSpam":"probably"}`, true},
		{"numeric value", `{"isSpam":1}`, true},
		{"missing field", `{"summary":"x"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, ok := parseAnalysis(tt.payload)
			if !ok {
				t.Fatal("parseAnalysis() failed")
			}
			if res.IsSpam != tt.want {
				t.Errorf("IsSpam = %v, want %v", res.IsSpam, tt.want)
			}
		})
	}
}

func TestParseAnalysisBackfill(t *testing.T) {
	res, ok := parseAnalysis(`{"summary":"","criticality":"MEDIUM","isSpam":"false"}`)
	if !ok {
		t.Fatal("parseAnalysis() failed")
	}
	if res.Summary != record.UnknownValue {
		t.Errorf("summary = %q, want backfilled Unknown", res.Summary)
	}
	if res.Department != record.UnknownValue || res.Caller != record.UnknownValue || res.Location != record.UnknownValue {
		t.Errorf("missing fields not backfilled: %+v", res)
	}
	if res.Criticality != string(record.CriticalityMedium) {
		t.Errorf("criticality = %q, want MEDIUM", res.Criticality)
	}
}

// failingStore rejects every insert.
type failingStore struct {
	record.MemStore
	err error
}

func (s *failingStore) Insert(ctx context.Context, rec *record.Record) error {
	return s.err
}
