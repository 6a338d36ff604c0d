/**
 * @description
 * This file implements the fund-allocation waterfall: the core algorithm that
 * distributes a freshly created record's capacity across the queue of open
 * counterpart records. A new donation is poured into open projects; a new (or
 * raised) project drains open donations.
 *
 * @notes
 * - The pool must already be ordered oldest-first; the caller reads it with
 *   `ORDER BY create_date ASC, id ASC`, so ordering is total and stable even
 *   for equal timestamps.
 * - The function is pure over its arguments. Persistence and locking are the
 *   store's concern.
 */

package domain

import "time"

// Allocate greedily fills the pool from the source's remaining capacity.
// Each pool entry receives min(source remaining, entry remaining) in a single
// transfer, so an entry is never topped up across separate runs once touched.
// The closing rule is applied to every touched entry and to the source.
//
// It returns the number of leading pool entries that were mutated; entries
// past that index are untouched and need not be written back.
func Allocate(source *FundableState, pool []*FundableState, now time.Time) int {
	touched := 0
	for _, counterpart := range pool {
		needed := source.Remaining()
		// <= 0 rather than == 0: an overfunded source must never transfer a
		// negative amount back out of the pool.
		if needed <= 0 {
			break
		}
		transfer := min(needed, counterpart.Remaining())
		counterpart.InvestedAmount += transfer
		source.InvestedAmount += transfer
		counterpart.CloseIfComplete(now)
		touched++
	}
	source.CloseIfComplete(now)
	return touched
}
