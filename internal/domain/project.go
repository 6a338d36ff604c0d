/**
 * @description
 * This file defines the two ledger entities of the service and the DTOs used
 * by the API layer. Projects collect money; donations provide it. Both embed
 * FundableState rather than duplicating the funding fields.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// MaxProjectNameLength bounds project names; names must also be non-empty.
const MaxProjectNameLength = 100

// Project is a charity project collecting funds towards FullAmount.
// Name is unique across all projects.
type Project struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	FundableState
}

// Donation is a supporter contribution that gets distributed into open
// projects. It is immutable after creation except for the fields the
// allocation run mutates.
type Donation struct {
	ID      int64     `json:"id"`
	UserID  uuid.UUID `json:"user_id"`
	Comment *string   `json:"comment,omitempty"`
	FundableState
}

// ProjectCreateRequest is the DTO for creating a project.
type ProjectCreateRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	FullAmount  int64  `json:"full_amount"`
}

// ProjectUpdateRequest is the DTO for a partial project update. Nil fields are
// left unchanged.
type ProjectUpdateRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	FullAmount  *int64  `json:"full_amount,omitempty"`
}

// DonationCreateRequest is the DTO for recording a donation.
type DonationCreateRequest struct {
	FullAmount int64   `json:"full_amount"`
	Comment    *string `json:"comment,omitempty"`
}

// DonationShort is the owner-facing view of a donation: the allocation
// bookkeeping fields are omitted.
type DonationShort struct {
	ID         int64     `json:"id"`
	FullAmount int64     `json:"full_amount"`
	Comment    *string   `json:"comment,omitempty"`
	CreateDate time.Time `json:"create_date"`
}

// ShortView strips a donation down to the fields its owner sees.
func (d *Donation) ShortView() DonationShort {
	return DonationShort{
		ID:         d.ID,
		FullAmount: d.FullAmount,
		Comment:    d.Comment,
		CreateDate: d.CreateDate,
	}
}
