package rangeset

import "github.com/lumidb/lumidb/query"

// eliminated records one clause's winning scan, kept for explain output.
type eliminated struct {
	idxNo     int
	indexKey  []string
	tableScan bool
}

// OrRangeGenerator iterates the clauses of a top-level $or predicate,
// handing the OrDriver a fresh FieldRangeSetPair per clause and recording
// which range each clause's winning plan consumed (spec.md §4.4/§6).
//
// Duplicate suppression across clauses is delegated to the MultiCursor's
// seen-id set rather than to range subtraction here - a deliberate
// simplification over the source system's per-field range elimination,
// recorded in DESIGN.md.
type OrRangeGenerator struct {
	clauses [][]query.Where
	idx     int
	history []eliminated
}

// New constructs an OrRangeGenerator over the given clauses.
func New(clauses [][]query.Where) *OrRangeGenerator {
	return &OrRangeGenerator{clauses: clauses}
}

// Done reports whether every clause has been consumed.
func (g *OrRangeGenerator) Done() bool {
	return g.idx >= len(g.clauses)
}

// TopFrsp builds the FieldRangeSetPair for the current clause.
func (g *OrRangeGenerator) TopFrsp() (*FieldRangeSetPair, bool) {
	if g.Done() {
		return nil, false
	}
	return BuildPair(g.clauses[g.idx]), true
}

// TopFrspOriginal returns the current clause's raw Where list, before any
// range-set construction - used by the OrDriver to plan and match the
// clause.
func (g *OrRangeGenerator) TopFrspOriginal() []query.Where {
	if g.Done() {
		return nil
	}
	return g.clauses[g.idx]
}

// GetSpecial returns the plugin field name claimed by the current clause,
// if any.
func (g *OrRangeGenerator) GetSpecial() string {
	pair, ok := g.TopFrsp()
	if !ok {
		return ""
	}
	return pair.GetSpecial()
}

// PopOrClause advances past the current clause, recording which index (or
// table scan, when idxNo == -1) served it.
func (g *OrRangeGenerator) PopOrClause(idxNo int, indexKey []string) {
	g.history = append(g.history, eliminated{idxNo: idxNo, indexKey: indexKey, tableScan: idxNo == -1})
	g.idx++
}

// History returns the recorded per-clause scan choices, in order.
func (g *OrRangeGenerator) History() []eliminated {
	return g.history
}
