package rangeset

import "github.com/lumidb/lumidb/query"

// FieldRangeSetPair carries the single-key and multi-key interpretations of
// a predicate (spec.md §3). The multi-key interpretation matters when a
// field range admits more than one discrete value (a $in clause): a
// multi-key index must be probed once per value. This envelope collapses
// both interpretations onto the same FieldRangeSet, since a $in bound is
// already represented as a discrete value list rather than expanded into
// per-value sub-ranges - documented in DESIGN.md as a deliberate
// simplification of the source system's distinct single/multi-key range
// expansion.
type FieldRangeSetPair struct {
	Single *FieldRangeSet
	Multi  *FieldRangeSet
}

// BuildPair builds the FieldRangeSetPair for a flat conjunction of clauses.
func BuildPair(wheres []query.Where) *FieldRangeSetPair {
	frs := Build(wheres)
	return &FieldRangeSetPair{Single: frs, Multi: frs}
}

// FrsForIndex returns the FieldRangeSet ranges ordered for the given index
// key fields.
func (p *FieldRangeSetPair) FrsForIndex(keyFields []string) []FieldRange {
	return p.Single.FieldsForIndex(keyFields)
}

// MatchPossible reports whether the predicate can match any document.
func (p *FieldRangeSetPair) MatchPossible() bool {
	return p.Single.MatchPossible()
}

// MatchPossibleForIndex reports match-possibility restricted to an index's
// key fields.
func (p *FieldRangeSetPair) MatchPossibleForIndex(keyFields []string) bool {
	return p.Single.MatchPossibleForIndex(keyFields)
}

// NoNonUniversalRanges reports whether the predicate is empty.
func (p *FieldRangeSetPair) NoNonUniversalRanges() bool {
	return p.Single.NoNonUniversalRanges()
}

// NumNonUniversalRanges counts the predicate's constrained fields.
func (p *FieldRangeSetPair) NumNonUniversalRanges() int {
	return p.Single.NumNonUniversalRanges()
}

// GetSpecial returns the field name claimed by a plugin operator, if any.
func (p *FieldRangeSetPair) GetSpecial() string {
	return p.Single.GetSpecial()
}
