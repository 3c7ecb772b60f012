package record

import (
	"testing"
	"time"
)

func TestNormalizeCriticality(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Criticality
	}{
		{"uppercase high", "HIGH", CriticalityHigh},
		{"lowercase medium", "medium", CriticalityMedium},
		{"mixed case low", "Low", CriticalityLow},
		{"surrounding whitespace", "  high  ", CriticalityHigh},
		{"unrecognised value", "urgent", CriticalityLow},
		{"empty", "", CriticalityLow},
		{"numeric", "1", CriticalityLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeCriticality(tt.in); got != tt.want {
				t.Errorf("NormalizeCriticality(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRecordValidate(t *testing.T) {
	valid := func() Record {
		return Record{
			ID:          "rec-1",
			Transcript:  "caller: hello",
			Timestamp:   time.Now().UTC(),
			Summary:     "A test call",
			Criticality: CriticalityLow,
			IsSpam:      true,
			Caller:      UnknownValue,
			Location:    UnknownValue,
		}
	}

	t.Run("valid record passes", func(t *testing.T) {
		rec := valid()
		if err := rec.Validate(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("empty transcript is allowed", func(t *testing.T) {
		rec := valid()
		rec.Transcript = ""
		if err := rec.Validate(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	mutations := []struct {
		name   string
		mutate func(*Record)
	}{
		{"missing id", func(r *Record) { r.ID = "" }},
		{"zero timestamp", func(r *Record) { r.Timestamp = time.Time{} }},
		{"empty summary", func(r *Record) { r.Summary = "" }},
		{"out-of-enum criticality", func(r *Record) { r.Criticality = "URGENT" }},
		{"empty caller", func(r *Record) { r.Caller = "" }},
		{"empty location", func(r *Record) { r.Location = "" }},
	}
	for _, tt := range mutations {
		t.Run(tt.name+" fails", func(t *testing.T) {
			rec := valid()
			tt.mutate(&rec)
			if err := rec.Validate(); err == nil {
				t.Fatal("expected validation error, got nil")
			}
		})
	}
}
