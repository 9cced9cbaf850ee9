// Package report computes the completeness report, the pipeline's
// primary failure-visibility mechanism: every still-unresolved record
// is enumerated with its address and last attempt, never silently
// dropped.
package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nycbuildings/lotline/internal/ledger"
	"github.com/nycbuildings/lotline/internal/models"
)

// FieldStats breaks one identifier field down by confidence.
type FieldStats struct {
	Total         int            `json:"total"`
	Resolved      int            `json:"resolved"`
	ResolvedPct   float64        `json:"resolved_pct"`
	ByConfidence  map[string]int `json:"by_confidence"`
	NonProperty   int            `json:"non_property"`
	Unresolved    int            `json:"unresolved"`
	UnresolvedPct float64        `json:"unresolved_pct"`
}

// UnresolvedRecord is one record still missing an identifier.
type UnresolvedRecord struct {
	RecordID    string `json:"record_id"`
	Address     string `json:"address"`
	MissingBBL  bool   `json:"missing_bbl"`
	MissingBIN  bool   `json:"missing_bin"`
	NonProperty bool   `json:"non_property"`
	LastAttempt string `json:"last_attempt,omitempty"`
}

// Report is the full completeness report.
type Report struct {
	Records    int                `json:"records"`
	BBL        FieldStats         `json:"bbl"`
	BIN        FieldStats         `json:"bin"`
	Complexes  int                `json:"complexes"`
	Unresolved []UnresolvedRecord `json:"unresolved,omitempty"`
}

// Build computes the report over the final record set and ledger.
func Build(records []*models.BuildingRecord, led *ledger.Ledger, complexes int) Report {
	rep := Report{
		Records:   len(records),
		BBL:       FieldStats{ByConfidence: make(map[string]int)},
		BIN:       FieldStats{ByConfidence: make(map[string]int)},
		Complexes: complexes,
	}

	for _, rec := range records {
		e := led.Entry(rec.RecordID)
		if e == nil {
			e = &ledger.Entry{RecordID: rec.RecordID}
		}
		rep.BBL.Total++
		rep.BIN.Total++

		tally(&rep.BBL, e.Identifier.BBL, e.BBLConfidence, e.NonProperty)
		tally(&rep.BIN, e.Identifier.BIN, e.BINConfidence, e.NonProperty)

		if e.Identifier.BBL == "" || e.Identifier.BIN == "" {
			rep.Unresolved = append(rep.Unresolved, UnresolvedRecord{
				RecordID:    rec.RecordID,
				Address:     rec.RawAddress,
				MissingBBL:  e.Identifier.BBL == "",
				MissingBIN:  e.Identifier.BIN == "",
				NonProperty: e.NonProperty,
				LastAttempt: lastAttempt(e),
			})
		}
	}

	finish(&rep.BBL)
	finish(&rep.BIN)
	sort.Slice(rep.Unresolved, func(i, j int) bool {
		return rep.Unresolved[i].RecordID < rep.Unresolved[j].RecordID
	})
	return rep
}

func tally(fs *FieldStats, value string, conf ledger.Confidence, nonProperty bool) {
	if value != "" {
		fs.Resolved++
		fs.ByConfidence[conf.String()]++
		return
	}
	if nonProperty {
		fs.NonProperty++
	}
	fs.Unresolved++
}

func finish(fs *FieldStats) {
	if fs.Total == 0 {
		return
	}
	fs.ResolvedPct = 100 * float64(fs.Resolved) / float64(fs.Total)
	fs.UnresolvedPct = 100 * float64(fs.Unresolved) / float64(fs.Total)
}

func lastAttempt(e *ledger.Entry) string {
	if len(e.Attempts) == 0 {
		return ""
	}
	a := e.Attempts[len(e.Attempts)-1]
	if a.Detail == "" {
		return fmt.Sprintf("%s: %s", a.Stage, a.Outcome)
	}
	return fmt.Sprintf("%s: %s (%s)", a.Stage, a.Outcome, a.Detail)
}

// Text renders the report for terminal output.
func (r Report) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "records: %d   complexes: %d\n", r.Records, r.Complexes)
	writeField(&b, "bbl", r.BBL)
	writeField(&b, "bin", r.BIN)

	if len(r.Unresolved) > 0 {
		fmt.Fprintf(&b, "\nunresolved records (%d):\n", len(r.Unresolved))
		for _, u := range r.Unresolved {
			missing := missingLabel(u)
			note := ""
			if u.NonProperty {
				note = " [non-property]"
			}
			fmt.Fprintf(&b, "  %s  %-40s missing=%s%s\n", u.RecordID, u.Address, missing, note)
			if u.LastAttempt != "" {
				fmt.Fprintf(&b, "      last attempt: %s\n", u.LastAttempt)
			}
		}
	}
	return b.String()
}

func writeField(b *strings.Builder, name string, fs FieldStats) {
	fmt.Fprintf(b, "\n%s: %d/%d resolved (%.1f%%)", name, fs.Resolved, fs.Total, fs.ResolvedPct)
	if fs.NonProperty > 0 {
		fmt.Fprintf(b, ", %d non-property", fs.NonProperty)
	}
	b.WriteString("\n")

	confs := make([]string, 0, len(fs.ByConfidence))
	for c := range fs.ByConfidence {
		confs = append(confs, c)
	}
	sort.Slice(confs, func(i, j int) bool {
		return ledger.ParseConfidence(confs[i]) > ledger.ParseConfidence(confs[j])
	})
	for _, c := range confs {
		fmt.Fprintf(b, "  %-26s %d\n", c, fs.ByConfidence[c])
	}
}

func missingLabel(u UnresolvedRecord) string {
	switch {
	case u.MissingBBL && u.MissingBIN:
		return "bbl,bin"
	case u.MissingBBL:
		return "bbl"
	default:
		return "bin"
	}
}
