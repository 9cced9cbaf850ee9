// Package dedupe groups resolved records into complexes (many
// structures, one tax lot) and removes true duplicates. The complex
// pass only annotates; the true-duplicate pass is the single place in
// the pipeline that deletes records.
package dedupe

import (
	"context"
	"sort"

	"github.com/agnivade/levenshtein"

	"github.com/nycbuildings/lotline/internal/ledger"
	"github.com/nycbuildings/lotline/internal/logger"
	"github.com/nycbuildings/lotline/internal/models"
)

// SimilarityThreshold is the fuzzy ratio both the name pair and the
// address pair must reach before two records count as true duplicates.
// Empirically chosen; see DESIGN.md.
const SimilarityThreshold = 0.85

// Deduplicator runs both passes. It must only run after every
// resolution in the batch is final.
type Deduplicator struct {
	log *logger.Logger
}

// New builds a deduplicator.
func New(log *logger.Logger) *Deduplicator {
	return &Deduplicator{log: log}
}

// Result is what a run produced. Records is the surviving set in input
// order; Removed lists the record IDs deleted as true duplicates.
type Result struct {
	Records []*models.BuildingRecord
	Groups  []models.ComplexGroup
	Removed []string
}

// Run removes true duplicates first, then annotates complexes over the
// survivors, so a deleted duplicate never distorts a group size.
func (d *Deduplicator) Run(ctx context.Context, records []*models.BuildingRecord, led *ledger.Ledger) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	survivors, removed := d.removeTrueDuplicates(records, led)
	groups := d.annotateComplexes(survivors, led)

	if d.log != nil {
		d.log.Info("deduplication complete", map[string]interface{}{
			"records":   len(survivors),
			"complexes": len(groups),
			"removed":   len(removed),
		})
	}
	return Result{Records: survivors, Groups: groups, Removed: removed}, nil
}

// removeTrueDuplicates compares only pairs that already share both
// identifiers. A pair whose names and addresses are each independently
// similar above the threshold loses its non-authoritative member.
func (d *Deduplicator) removeTrueDuplicates(records []*models.BuildingRecord, led *ledger.Ledger) ([]*models.BuildingRecord, []string) {
	byPair := make(map[[2]string][]*models.BuildingRecord)
	for _, rec := range records {
		e := led.Entry(rec.RecordID)
		if e == nil || e.Identifier.BBL == "" || e.Identifier.BIN == "" {
			continue
		}
		key := [2]string{e.Identifier.BBL, e.Identifier.BIN}
		byPair[key] = append(byPair[key], rec)
	}

	drop := make(map[string]struct{})
	for _, group := range byPair {
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				a, b := group[i], group[j]
				if _, gone := drop[a.RecordID]; gone {
					continue
				}
				if _, gone := drop[b.RecordID]; gone {
					continue
				}
				if !trueDuplicates(a, b) {
					continue
				}
				victim := pickVictim(a, b)
				drop[victim.RecordID] = struct{}{}
				led.Drop(victim.RecordID)
			}
		}
	}

	if len(drop) == 0 {
		return records, nil
	}
	survivors := make([]*models.BuildingRecord, 0, len(records)-len(drop))
	removed := make([]string, 0, len(drop))
	for _, rec := range records {
		if _, gone := drop[rec.RecordID]; gone {
			removed = append(removed, rec.RecordID)
			continue
		}
		survivors = append(survivors, rec)
	}
	sort.Strings(removed)
	return survivors, removed
}

// trueDuplicates requires both the names and the addresses to clear the
// threshold independently. Missing names never count as similar.
func trueDuplicates(a, b *models.BuildingRecord) bool {
	nameA, nameB := recordName(a), recordName(b)
	if nameA == "" || nameB == "" {
		return false
	}
	if similarity(nameA, nameB) < SimilarityThreshold {
		return false
	}
	return similarity(a.NormalizedAddress(), b.NormalizedAddress()) >= SimilarityThreshold
}

// pickVictim removes the non-authoritative member; when both or neither
// are authoritative, the higher record ID loses.
func pickVictim(a, b *models.BuildingRecord) *models.BuildingRecord {
	if a.Source.Authoritative() && !b.Source.Authoritative() {
		return b
	}
	if b.Source.Authoritative() && !a.Source.Authoritative() {
		return a
	}
	if a.RecordID < b.RecordID {
		return b
	}
	return a
}

// annotateComplexes groups survivors by BBL and marks exactly one
// primary per group. A lot with a single record still forms a group of
// one with that record as its primary. Every member is annotated and
// kept.
func (d *Deduplicator) annotateComplexes(records []*models.BuildingRecord, led *ledger.Ledger) []models.ComplexGroup {
	byBBL := make(map[string][]*models.BuildingRecord)
	var bbls []string
	for _, rec := range records {
		rec.ComplexPrimary = false
		rec.ComplexGroupSize = 0
		rec.ComplexBBL = ""

		e := led.Entry(rec.RecordID)
		if e == nil || e.Identifier.BBL == "" {
			continue
		}
		if _, seen := byBBL[e.Identifier.BBL]; !seen {
			bbls = append(bbls, e.Identifier.BBL)
		}
		byBBL[e.Identifier.BBL] = append(byBBL[e.Identifier.BBL], rec)
	}
	sort.Strings(bbls)

	var groups []models.ComplexGroup
	for _, bbl := range bbls {
		members := byBBL[bbl]
		primary := pickPrimary(members)
		group := models.ComplexGroup{BBL: bbl, Primary: primary}
		for _, m := range members {
			m.ComplexBBL = bbl
			m.ComplexGroupSize = len(members)
			m.ComplexPrimary = m == primary
			if m != primary {
				group.Secondary = append(group.Secondary, m)
			}
		}
		groups = append(groups, group)
	}
	return groups
}

// pickPrimary applies the deterministic tie-break: has a name, then
// authoritative source, then shortest normalized address, then lowest
// record ID.
func pickPrimary(members []*models.BuildingRecord) *models.BuildingRecord {
	best := members[0]
	for _, m := range members[1:] {
		if betterPrimary(m, best) {
			best = m
		}
	}
	return best
}

func betterPrimary(a, b *models.BuildingRecord) bool {
	aName, bName := recordName(a) != "", recordName(b) != ""
	if aName != bName {
		return aName
	}
	aAuth, bAuth := a.Source.Authoritative(), b.Source.Authoritative()
	if aAuth != bAuth {
		return aAuth
	}
	aAddr, bAddr := len(a.NormalizedAddress()), len(b.NormalizedAddress())
	if aAddr != bAddr {
		return aAddr < bAddr
	}
	return a.RecordID < b.RecordID
}

func recordName(r *models.BuildingRecord) string {
	if r.BuildingName == nil {
		return ""
	}
	return *r.BuildingName
}

// similarity is a normalized Levenshtein ratio over lowercased input:
// 1 for identical strings, 0 for nothing in common.
func similarity(a, b string) float64 {
	a = models.NormalizeAddressKey(a)
	b = models.NormalizeAddressKey(b)
	if a == "" && b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(longest)
}
