/**
 * @description
 * This file defines the `Repository` interface, the contract for all data
 * access the charity service needs. The business logic in `internal/app` is
 * written against this interface, which keeps it decoupled from PostgreSQL
 * and easy to stub in tests.
 *
 * @notes
 * - The Create/Update methods are transactional allocation runs: they persist
 *   the triggering record, lock the open counterpart pool oldest first, run
 *   the waterfall, and commit everything as one unit. A failed commit leaves
 *   no partial state behind.
 */

package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/qrkot/charity-service/internal/domain"
)

var (
	ErrProjectNotFound  = errors.New("project not found")
	ErrProjectNameTaken = errors.New("project name already taken")

	// The update and delete guards live here as well as in the service: the
	// service checks them on a read outside the transaction, the store
	// re-checks them on the locked row so a donation committed in between
	// cannot slip past.
	ErrProjectClosed        = errors.New("closed project cannot be edited")
	ErrAmountBelowInvested  = errors.New("full_amount cannot be below the invested amount")
	ErrProjectHasInvestment = errors.New("project with investments cannot be deleted")
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Project methods
	ListProjects(ctx context.Context) ([]domain.Project, error)
	ListClosedProjects(ctx context.Context) ([]domain.Project, error)
	GetProjectByID(ctx context.Context, projectID int64) (*domain.Project, error)
	GetProjectByName(ctx context.Context, name string) (*domain.Project, error)
	// CreateProject persists the project and immediately drains open donations
	// into it, oldest donation first. The project is mutated in place with its
	// assigned ID, timestamps and post-allocation amounts.
	CreateProject(ctx context.Context, project *domain.Project) error
	// UpdateProject writes the already-validated field changes and re-runs the
	// allocation waterfall, since a raised target can absorb idle donations.
	UpdateProject(ctx context.Context, project *domain.Project) error
	DeleteProject(ctx context.Context, projectID int64) error

	// Donation methods
	ListDonations(ctx context.Context) ([]domain.Donation, error)
	ListDonationsByUser(ctx context.Context, userID uuid.UUID) ([]domain.Donation, error)
	// CreateDonation persists the donation and distributes it across open
	// projects, oldest project first. It returns the projects that became
	// fully invested during this run so the caller can emit closure events.
	CreateDonation(ctx context.Context, donation *domain.Donation) ([]domain.Project, error)
}
