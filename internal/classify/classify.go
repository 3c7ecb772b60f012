// Package classify turns a finished call transcript into a persisted
// [record.Record].
//
// The pipeline submits the transcript to an LLM with a fixed instruction to
// return a six-field JSON object, tolerantly extracts that object from the
// response, normalises the fields, and inserts the resulting record into the
// store. Upstream failures and malformed model output are recovered locally
// by substituting a canonical fallback analysis; only storage failures are
// surfaced to the caller.
package classify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/codes"

	"github.com/telawney/dispatchd/internal/ipc"
	"github.com/telawney/dispatchd/internal/observe"
	"github.com/telawney/dispatchd/internal/record"
	"github.com/telawney/dispatchd/pkg/provider/llm"
)

// systemPrompt is the fixed instruction sent to the LLM for every transcript.
const systemPrompt = `You must analyze the conversation carefully and respond with a valid JSON object containing exactly these fields:
{
  "summary": "A brief summary of the conversation",
  "criticality": "Criticality of the emergency call using these guidelines: HIGH (immediate life-threatening situations, major fires, violent crimes in progress), MEDIUM (non-life threatening injuries, property damage, ongoing but non-violent crimes), LOW (minor incidents, information requests, non-emergency situations)",
  "isSpam": "True if the call appears to be a prank, contains no actual emergency, is deliberately misleading, or the caller is not serious. False for genuine emergency calls",
  "department": "Department name (Fire, Police, Medical, or combination if multiple services needed)",
  "user": "User name (Unknown if not provided)",
  "location": "User location (Unknown if not provided)"
}
Carefully examine the conversation context to accurately determine criticality and spam status. Do not default to HIGH criticality unless truly warranted by the situation described. Do not include any other text or formatting.`

// FallbackSummary is the summary stored when classification cannot produce
// valid structured output.
const FallbackSummary = "Error processing conversation"

// analysis is the classifier's six-field output before normalisation into a
// record. Department is reported to operators via logs but not persisted.
type analysis struct {
	Summary     string
	Criticality string
	IsSpam      bool
	Department  string
	Caller      string
	Location    string
}

// fallbackAnalysis is the canonical substitute for unusable model output.
// Spam defaults to true so an unclassifiable call is treated as
// non-actionable rather than silently dropped.
func fallbackAnalysis() analysis {
	return analysis{
		Summary:     FallbackSummary,
		Criticality: string(record.CriticalityLow),
		IsSpam:      true,
		Department:  record.UnknownValue,
		Caller:      record.UnknownValue,
		Location:    record.UnknownValue,
	}
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithSignals makes the pipeline publish a completion marker carrying the new
// record ID after each successful insert.
func WithSignals(ch *ipc.Channel) Option {
	return func(p *Pipeline) { p.signals = ch }
}

// WithMetrics sets the metrics instance used for instrumentation. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// Pipeline classifies transcripts and persists the results. Safe for
// concurrent use.
type Pipeline struct {
	llm     llm.Provider
	store   record.Store
	signals *ipc.Channel
	metrics *observe.Metrics

	now   func() time.Time
	newID func() string
}

// New creates a [Pipeline] backed by the given LLM provider and record store.
func New(provider llm.Provider, store record.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		llm:   provider,
		store: store,
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// Run classifies the transcript and persists the resulting record, returning
// it on success.
//
// An empty or whitespace-only transcript short-circuits: no record is created
// and (nil, nil) is returned. Upstream LLM failures and malformed output
// never fail the run; they produce the fallback record instead. Only a store
// insert failure is returned as an error, with the record left unpersisted.
func (p *Pipeline) Run(ctx context.Context, transcript string) (*record.Record, error) {
	ctx, span := observe.StartSpan(ctx, "classify.run")
	defer span.End()
	log := observe.Logger(ctx)

	if strings.TrimSpace(transcript) == "" {
		log.Warn("classification skipped, no conversation data")
		p.metrics.RecordClassification(ctx, "no_data")
		return nil, nil
	}

	start := p.now()
	res, fellBack := p.analyse(ctx, transcript)
	p.metrics.ClassificationDuration.Record(ctx, p.now().Sub(start).Seconds())
	outcome := "ok"
	if fellBack {
		outcome = "fallback"
	}
	p.metrics.RecordClassification(ctx, outcome)

	rec := &record.Record{
		ID:          p.newID(),
		Transcript:  transcript,
		Timestamp:   p.now().UTC(),
		Summary:     res.Summary,
		Criticality: record.Criticality(res.Criticality),
		IsSpam:      res.IsSpam,
		Caller:      res.Caller,
		Location:    res.Location,
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("classify: built invalid record: %w", err)
	}

	if err := p.store.Insert(ctx, rec); err != nil {
		p.metrics.RecordStoreInsert(ctx, "error")
		span.SetStatus(codes.Error, "store insert failed")
		return nil, fmt.Errorf("classify: insert record: %w", err)
	}
	p.metrics.RecordStoreInsert(ctx, "ok")

	log.Info("transcript classified",
		"record_id", rec.ID,
		"criticality", rec.Criticality,
		"is_spam", rec.IsSpam,
		"department", res.Department,
		"outcome", outcome,
	)

	if p.signals != nil {
		if err := p.signals.PublishDone(rec.ID); err != nil {
			// The record is already persisted; a lost marker only delays
			// observers until they query the store directly.
			log.Error("publish completion marker failed", "error", err)
		}
	}
	return rec, nil
}

// analyse calls the LLM and parses its output, reporting whether the fallback
// analysis was substituted.
func (p *Pipeline) analyse(ctx context.Context, transcript string) (analysis, bool) {
	log := observe.Logger(ctx)

	resp, err := p.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: transcript},
		},
	})
	if err != nil || resp == nil {
		log.Error("classifier request failed", "error", err)
		return fallbackAnalysis(), true
	}

	res, ok := parseAnalysis(resp.Content)
	if !ok {
		log.Error("classifier returned unparseable output", "content", resp.Content)
		return fallbackAnalysis(), true
	}
	return res, false
}

// parseAnalysis extracts the six-field JSON object from raw model output.
// Models occasionally wrap the object in prose or code fences, so everything
// outside the outermost braces is ignored.
func parseAnalysis(content string) (analysis, bool) {
	open := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if open < 0 || end < open {
		return analysis{}, false
	}
	body := content[open : end+1]
	if !gjson.Valid(body) {
		return analysis{}, false
	}

	parsed := gjson.Parse(body)
	return analysis{
		Summary:     stringField(parsed, "summary"),
		Criticality: string(record.NormalizeCriticality(parsed.Get("criticality").String())),
		IsSpam:      spamValue(parsed.Get("isSpam")),
		Department:  stringField(parsed, "department"),
		Caller:      stringField(parsed, "user"),
		Location:    stringField(parsed, "location"),
	}, true
}

// stringField reads a string field, backfilling "Unknown" when it is missing
// or blank.
func stringField(parsed gjson.Result, key string) string {
	v := strings.TrimSpace(parsed.Get(key).String())
	if v == "" {
		return record.UnknownValue
	}
	return v
}

// spamValue interprets the model's isSpam field. "true"/"false" strings are
// matched case-insensitively; anything not recognisably falsy coerces to
// true, so an unclassifiable call is flagged rather than waved through.
func spamValue(res gjson.Result) bool {
	switch res.Type {
	case gjson.True:
		return true
	case gjson.False:
		return false
	case gjson.String:
		switch strings.ToLower(strings.TrimSpace(res.Str)) {
		case "true":
			return true
		case "false":
			return false
		default:
			return true
		}
	default:
		return true
	}
}
