// Package record defines the persisted outcome of a classified emergency
// call and the store that holds it.
//
// A [Record] is immutable once written: the classification pipeline fills in
// every field (defaulting where the classifier was unusable) before the
// insert, so a record read back from any [Store] implementation always
// satisfies the schema constraints — non-empty summary, criticality within
// the known set, caller and location never blank.
package record

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// UnknownValue is the placeholder stored for any text field the classifier
// could not fill in.
const UnknownValue = "Unknown"

// Criticality grades the urgency of a classified call.
type Criticality string

const (
	CriticalityHigh   Criticality = "HIGH"
	CriticalityMedium Criticality = "MEDIUM"
	CriticalityLow    Criticality = "LOW"
)

// IsValid reports whether c is a recognised criticality grade.
func (c Criticality) IsValid() bool {
	switch c {
	case CriticalityHigh, CriticalityMedium, CriticalityLow:
		return true
	}
	return false
}

// NormalizeCriticality maps free-form classifier output onto a valid
// [Criticality]. Comparison is case-insensitive; anything unrecognised
// (including the empty string) degrades to [CriticalityLow] so that an
// ambiguous model answer never escalates a call on its own.
func NormalizeCriticality(raw string) Criticality {
	c := Criticality(strings.ToUpper(strings.TrimSpace(raw)))
	if !c.IsValid() {
		return CriticalityLow
	}
	return c
}

// Record is one finished call: the raw transcript plus the validated
// classification outcome. Timestamp and ID are assigned at classification
// time, not call start.
type Record struct {
	// ID is a globally unique identifier generated when the record is built.
	ID string

	// Transcript is the full raw line-oriented transcript. It may be empty
	// only if the call produced no speech at all.
	Transcript string

	// Timestamp is when classification completed, in UTC.
	Timestamp time.Time

	// Summary is a non-empty condensation of the call.
	Summary string

	// Criticality is the validated urgency grade.
	Criticality Criticality

	// IsSpam marks the call as non-actionable. Defaults to true whenever the
	// classifier output could not be interpreted (fail-closed).
	IsSpam bool

	// Caller is the caller's name, or "Unknown".
	Caller string

	// Location is the reported incident location, or "Unknown".
	Location string
}

// Validate checks the invariants every persisted record must satisfy.
// Stores call it before writing; a validation failure indicates a pipeline
// bug, not bad input.
func (r *Record) Validate() error {
	var errs []error
	if r.ID == "" {
		errs = append(errs, errors.New("record: id is required"))
	}
	if r.Timestamp.IsZero() {
		errs = append(errs, errors.New("record: timestamp is required"))
	}
	if r.Summary == "" {
		errs = append(errs, errors.New("record: summary must not be empty"))
	}
	if !r.Criticality.IsValid() {
		errs = append(errs, fmt.Errorf("record: criticality %q is not one of HIGH, MEDIUM, LOW", r.Criticality))
	}
	if r.Caller == "" {
		errs = append(errs, errors.New("record: caller must not be empty"))
	}
	if r.Location == "" {
		errs = append(errs, errors.New("record: location must not be empty"))
	}
	return errors.Join(errs...)
}
