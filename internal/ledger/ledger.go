// Package ledger tracks, for every building record, the current best
// identifier assignment, its confidence and provenance, and the history
// of resolution attempts. All resolver stages read and write through the
// ledger rather than mutating record fields directly.
package ledger

import (
	"fmt"
	"time"

	"github.com/nycbuildings/lotline/internal/models"
)

// Confidence orders resolution sources by trust. Higher values are more
// trusted; a record's confidence never moves to a lower-trust value once
// set within a single pipeline run.
type Confidence int

const (
	// Unresolved means no identifier has been assigned.
	Unresolved Confidence = iota
	// ManualOverride comes from the operator-maintained override file.
	ManualOverride
	// ExternalTextSearch comes from free-text search extraction.
	ExternalTextSearch
	// ExternalStructured comes from the structured geocoding service.
	ExternalStructured
	// NearestWithinTolerance is a distance-bounded nearest-polygon match.
	NearestWithinTolerance
	// ExactContainment is a point-in-polygon match, the highest trust.
	ExactContainment
)

// String returns the stable name used in checkpoints and reports.
func (c Confidence) String() string {
	switch c {
	case ExactContainment:
		return "exact_containment"
	case NearestWithinTolerance:
		return "nearest_within_tolerance"
	case ExternalStructured:
		return "external_structured"
	case ExternalTextSearch:
		return "external_text_search"
	case ManualOverride:
		return "manual_override"
	default:
		return "unresolved"
	}
}

// ParseConfidence is the inverse of String. Unknown names map to
// Unresolved.
func ParseConfidence(s string) Confidence {
	switch s {
	case "exact_containment":
		return ExactContainment
	case "nearest_within_tolerance":
		return NearestWithinTolerance
	case "external_structured":
		return ExternalStructured
	case "external_text_search":
		return ExternalTextSearch
	case "manual_override":
		return ManualOverride
	default:
		return Unresolved
	}
}

// Attempt is one resolution attempt for one record. The attempts list is
// append-only and survives checkpointing, so a record that exhausts the
// cascade still carries a full trail of what was tried.
type Attempt struct {
	Stage    string    `json:"stage"`
	Outcome  string    `json:"outcome"`
	Detail   string    `json:"detail,omitempty"`
	Distance *float64  `json:"distance,omitempty"`
	At       time.Time `json:"at"`
}

// Entry is the ledger state for one record. BBL and BIN are tracked
// independently: a record may carry a high-confidence BBL and a
// low-confidence BIN.
type Entry struct {
	RecordID      string            `json:"record_id"`
	Identifier    models.Identifier `json:"identifier"`
	BBLConfidence Confidence        `json:"bbl_confidence"`
	BINConfidence Confidence        `json:"bin_confidence"`
	BBLSource     string            `json:"bbl_source,omitempty"`
	BINSource     string            `json:"bin_source,omitempty"`
	Attempts      []Attempt         `json:"attempts,omitempty"`

	// NonProperty marks a record whose address is known not to map to a
	// tax lot (parks, piers, vague intersections): intentionally
	// unresolved, never retried.
	NonProperty bool `json:"non_property,omitempty"`
	// RetryEligible marks a record whose sentinel identifier was stripped
	// and which should re-enter the external cascade.
	RetryEligible bool `json:"retry_eligible,omitempty"`
}

// Ledger holds one entry per record. Entries are created up front at
// ingestion so that later stages, including a parallelized cascade, only
// ever touch their own record's entry.
type Ledger struct {
	entries map[string]*Entry
	order   []string
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{entries: make(map[string]*Entry)}
}

// Track registers a record with the ledger. Tracking the same record
// twice is a no-op.
func (l *Ledger) Track(recordID string) *Entry {
	if e, ok := l.entries[recordID]; ok {
		return e
	}
	e := &Entry{RecordID: recordID}
	l.entries[recordID] = e
	l.order = append(l.order, recordID)
	return e
}

// Entry returns the entry for a record, or nil if it was never tracked.
func (l *Ledger) Entry(recordID string) *Entry {
	return l.entries[recordID]
}

// Restore re-registers a checkpointed entry, preserving its state.
func (l *Ledger) Restore(e *Entry) {
	if _, ok := l.entries[e.RecordID]; !ok {
		l.order = append(l.order, e.RecordID)
	}
	l.entries[e.RecordID] = e
}

// Len returns the number of tracked records.
func (l *Ledger) Len() int {
	return len(l.entries)
}

// RecordIDs returns record IDs in tracking order.
func (l *Ledger) RecordIDs() []string {
	ids := make([]string, len(l.order))
	copy(ids, l.order)
	return ids
}

// RecordAttempt appends an attempt to a record's trail.
func (l *Ledger) RecordAttempt(recordID, stage, outcome, detail string, distance *float64) {
	e := l.Track(recordID)
	e.Attempts = append(e.Attempts, Attempt{
		Stage:    stage,
		Outcome:  outcome,
		Detail:   detail,
		Distance: distance,
		At:       time.Now().UTC(),
	})
}

// SetBBL assigns a BBL with the given confidence and provenance. The
// value must be canonical and non-sentinel; an assignment at equal or
// lower confidence than the current one is ignored. Returns true when
// the assignment was applied.
func (l *Ledger) SetBBL(recordID, bbl string, conf Confidence, source string) (bool, error) {
	if !models.ValidBBL(bbl) {
		return false, fmt.Errorf("rejecting bbl %q for record %s: invalid or placeholder", bbl, recordID)
	}
	e := l.Track(recordID)
	if e.Identifier.BBL != "" && conf <= e.BBLConfidence {
		return false, nil
	}
	e.Identifier.BBL = bbl
	e.BBLConfidence = conf
	e.BBLSource = source
	e.RetryEligible = false
	return true, nil
}

// SetBIN assigns a BIN with the given confidence and provenance, under
// the same monotonicity rule as SetBBL.
func (l *Ledger) SetBIN(recordID, bin string, conf Confidence, source string) (bool, error) {
	if !models.ValidBIN(bin) {
		return false, fmt.Errorf("rejecting bin %q for record %s: invalid format", bin, recordID)
	}
	e := l.Track(recordID)
	if e.Identifier.BIN != "" && conf <= e.BINConfidence {
		return false, nil
	}
	e.Identifier.BIN = bin
	e.BINConfidence = conf
	e.BINSource = source
	return true, nil
}

// ImportRaw stores an identifier pair carried by the input feed itself.
// Unlike SetBBL/SetBIN it admits the placeholder sentinel, because
// upstream feeds are known to contain it; the sanitizer stage strips it
// later. Malformed values are dropped, not stored.
func (l *Ledger) ImportRaw(recordID, rawBBL, rawBIN string, source string) {
	e := l.Track(recordID)
	if rawBBL != "" {
		if bbl, err := models.NormalizeBBL(rawBBL); err == nil {
			e.Identifier.BBL = bbl
			e.BBLConfidence = ExternalStructured
			e.BBLSource = source
		} else if models.IsPlaceholderBBL(rawBBL) {
			e.Identifier.BBL = models.PlaceholderBBL
			e.BBLConfidence = ExternalStructured
			e.BBLSource = source
		}
	}
	if rawBIN != "" {
		if bin, err := models.NormalizeBIN(rawBIN); err == nil {
			e.Identifier.BIN = bin
			e.BINConfidence = ExternalStructured
			e.BINSource = source
		}
	}
}

// ClearBBL strips the BBL back to unresolved, keeping the attempt trail.
// Used by the sanitizer when the stored value is the sentinel.
func (l *Ledger) ClearBBL(recordID string) {
	e := l.Track(recordID)
	e.Identifier.BBL = ""
	e.BBLConfidence = Unresolved
	e.BBLSource = ""
}

// ClearBIN strips the BIN back to unresolved.
func (l *Ledger) ClearBIN(recordID string) {
	e := l.Track(recordID)
	e.Identifier.BIN = ""
	e.BINConfidence = Unresolved
	e.BINSource = ""
}

// Drop removes a record's entry entirely. Only the true-duplicate pass
// deletes records.
func (l *Ledger) Drop(recordID string) {
	if _, ok := l.entries[recordID]; !ok {
		return
	}
	delete(l.entries, recordID)
	for i, id := range l.order {
		if id == recordID {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
}

// NeedsBBL reports whether the record still lacks a BBL and is not
// intentionally unresolved.
func (l *Ledger) NeedsBBL(recordID string) bool {
	e := l.entries[recordID]
	if e == nil {
		return false
	}
	return e.Identifier.BBL == "" && !e.NonProperty
}

// NeedsBIN reports whether the record still lacks a BIN and is not
// intentionally unresolved.
func (l *Ledger) NeedsBIN(recordID string) bool {
	e := l.entries[recordID]
	if e == nil {
		return false
	}
	return e.Identifier.BIN == "" && !e.NonProperty
}
