/**
 * @description
 * This file defines the funding state shared by the two ledger entities of the
 * service, charity projects and donations. Both carry a target amount, the
 * amount already distributed into or out of them, and the closing bookkeeping
 * that marks a record as fully invested.
 *
 * @notes
 * - Amounts are `int64` in the smallest currency unit, which avoids
 *   floating-point inaccuracies with money.
 * - CloseDate is a pointer: absent until the record closes, then set exactly
 *   once and never overwritten.
 */

package domain

import "time"

// FundableState holds the common funding fields embedded in both Project and
// Donation. The invariants are:
//
//	0 <= InvestedAmount <= FullAmount
//	FullyInvested <=> InvestedAmount == FullAmount
//	CloseDate set <=> FullyInvested, and CloseDate >= CreateDate
type FundableState struct {
	FullAmount     int64      `json:"full_amount"`
	InvestedAmount int64      `json:"invested_amount"`
	FullyInvested  bool       `json:"fully_invested"`
	CreateDate     time.Time  `json:"create_date"`
	CloseDate      *time.Time `json:"close_date,omitempty"`
}

// Remaining returns the capacity still open for distribution.
func (f *FundableState) Remaining() int64 {
	return f.FullAmount - f.InvestedAmount
}

// CloseIfComplete recomputes FullyInvested from the amounts and stamps
// CloseDate when the record transitions to closed. Calling it again after the
// transition is a no-op, so the close timestamp is stable. Closed records
// never reopen: the store rejects any update that would raise a closed
// record's target.
func (f *FundableState) CloseIfComplete(now time.Time) {
	wasClosed := f.FullyInvested
	f.FullyInvested = f.InvestedAmount == f.FullAmount
	if f.FullyInvested && !wasClosed {
		closedAt := now
		f.CloseDate = &closedAt
	}
}
