package planner

import "github.com/lumidb/lumidb/query"

// MultiCursor is the Cursor-shaped view over a $or predicate's clause
// winners (spec.md §4.8): it walks each clause's winning QueryOp in turn,
// and de-duplicates ids that satisfy more than one clause.
//
// Duplicate suppression is a seen-id set rather than the source system's
// per-field range elimination between clauses - the same simplification
// OrRangeGenerator documents, surfaced here where the ids actually flow.
type MultiCursor struct {
	driver *OrDriver

	current       QueryOp
	currentWheres []query.Where
	consumedFirst bool

	seen             map[string]bool
	completedScanned int

	curr string
	ok   bool
	done bool
}

// NewMultiCursor constructs a MultiCursor driven by driver.
func NewMultiCursor(driver *OrDriver) *MultiCursor {
	return &MultiCursor{driver: driver, seen: map[string]bool{}}
}

func (c *MultiCursor) Ok() bool { return c.ok }

// Advance pulls the next not-yet-seen id, crossing clause boundaries as
// each clause's winning op is exhausted.
func (c *MultiCursor) Advance() bool {
	if c.done {
		c.ok = false
		return false
	}
	for {
		if c.current == nil {
			op, wheres, err := c.driver.NextClause()
			if err != nil || op == nil {
				c.done = true
				c.ok = false
				return false
			}
			c.current = op
			c.currentWheres = wheres
			c.consumedFirst = false
		}

		if !c.consumedFirst {
			c.consumedFirst = true
			if id, has := c.current.Result(); has && !c.seen[id] {
				c.seen[id] = true
				c.curr = id
				c.ok = true
				return true
			}
		}

		if c.current.Complete() {
			c.completedScanned += c.current.NScanned()
			c.current = nil
			continue
		}

		_ = guardOp(c.current, c.current.Next)
		if c.current.IsError() {
			c.completedScanned += c.current.NScanned()
			c.current = nil
			continue
		}
		if id, has := c.current.Result(); has {
			if c.seen[id] {
				continue
			}
			c.seen[id] = true
			c.curr = id
			c.ok = true
			return true
		}
		// no result and not yet complete: loop, Complete() will catch up
		// on the next pass once the cursor underneath is exhausted.
	}
}

func (c *MultiCursor) CurrLoc() string { return c.curr }

// NScanned sums the nScanned of every clause's winning op, completed or
// in flight.
func (c *MultiCursor) NScanned() int {
	if c.current == nil {
		return c.completedScanned
	}
	return c.completedScanned + c.current.NScanned()
}

func (c *MultiCursor) SupportYields() bool { return true }

func (c *MultiCursor) PrepareToYield() {
	if c.current != nil {
		c.current.PrepareToYield()
	}
}

func (c *MultiCursor) RecoverFromYield() {
	if c.current != nil {
		c.current.RecoverFromYield()
	}
}

func (c *MultiCursor) PrettyIndexBounds() string {
	if c.current == nil || c.current.QueryPlan() == nil {
		return "$or(done)"
	}
	return "$or/" + c.current.QueryPlan().IndexKey()
}

func (c *MultiCursor) String() string { return "MultiCursor" }
