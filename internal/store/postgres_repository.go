/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. The interesting part is the allocation run: every create (and
 * project update) opens one transaction, persists the triggering record,
 * reads the open counterpart pool with `FOR UPDATE` ordered by creation, runs
 * the waterfall in memory, and writes all touched rows before committing.
 *
 * @notes
 * - The `FOR UPDATE` locks are acquired in creation order for every run, so
 *   two concurrent runs over the same pool serialize instead of both reading
 *   the same available capacity and over-funding a row.
 * - A single `now` timestamp is taken per run and used for both the source's
 *   create_date and every close_date stamped by that run.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/qrkot/charity-service/internal/domain"
)

const pgUniqueViolation = "23505"

// PostgresRepository is the pgx-backed implementation of Repository.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new repository backed by the given pool.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const projectColumns = `id, name, description, full_amount, invested_amount, fully_invested, create_date, close_date`

func scanProject(row pgx.Row) (*domain.Project, error) {
	var p domain.Project
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Description,
		&p.FullAmount,
		&p.InvestedAmount,
		&p.FullyInvested,
		&p.CreateDate,
		&p.CloseDate,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func collectProjects(rows pgx.Rows) ([]domain.Project, error) {
	defer rows.Close()
	var projects []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}

// ListProjects returns every project, oldest first.
func (r *PostgresRepository) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.db.Query(ctx, fmt.Sprintf(`
        SELECT %s FROM projects ORDER BY create_date ASC, id ASC
    `, projectColumns))
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return collectProjects(rows)
}

// ListClosedProjects returns fully invested projects for reporting.
func (r *PostgresRepository) ListClosedProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.db.Query(ctx, fmt.Sprintf(`
        SELECT %s FROM projects WHERE fully_invested = TRUE ORDER BY create_date ASC, id ASC
    `, projectColumns))
	if err != nil {
		return nil, fmt.Errorf("list closed projects: %w", err)
	}
	return collectProjects(rows)
}

// GetProjectByID fetches a single project by primary key.
func (r *PostgresRepository) GetProjectByID(ctx context.Context, projectID int64) (*domain.Project, error) {
	p, err := scanProject(r.db.QueryRow(ctx, fmt.Sprintf(`
        SELECT %s FROM projects WHERE id = $1
    `, projectColumns), projectID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("get project %d: %w", projectID, err)
	}
	return p, nil
}

// GetProjectByName fetches a project by its unique name (exact match).
func (r *PostgresRepository) GetProjectByName(ctx context.Context, name string) (*domain.Project, error) {
	p, err := scanProject(r.db.QueryRow(ctx, fmt.Sprintf(`
        SELECT %s FROM projects WHERE name = $1
    `, projectColumns), name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("get project %q: %w", name, err)
	}
	return p, nil
}

// lockOpenDonations reads the open donation pool inside tx, oldest first,
// taking row locks in that same order.
func lockOpenDonations(ctx context.Context, tx pgx.Tx) ([]domain.Donation, error) {
	rows, err := tx.Query(ctx, `
        SELECT id, user_id, comment, full_amount, invested_amount, fully_invested, create_date, close_date
        FROM donations
        WHERE fully_invested = FALSE
        ORDER BY create_date ASC, id ASC
        FOR UPDATE
    `)
	if err != nil {
		return nil, fmt.Errorf("lock open donations: %w", err)
	}
	defer rows.Close()

	var donations []domain.Donation
	for rows.Next() {
		var d domain.Donation
		if err := rows.Scan(
			&d.ID,
			&d.UserID,
			&d.Comment,
			&d.FullAmount,
			&d.InvestedAmount,
			&d.FullyInvested,
			&d.CreateDate,
			&d.CloseDate,
		); err != nil {
			return nil, err
		}
		donations = append(donations, d)
	}
	return donations, rows.Err()
}

// lockOpenProjects reads the open project pool inside tx, oldest first,
// taking row locks in that same order.
func lockOpenProjects(ctx context.Context, tx pgx.Tx) ([]domain.Project, error) {
	rows, err := tx.Query(ctx, fmt.Sprintf(`
        SELECT %s FROM projects
        WHERE fully_invested = FALSE
        ORDER BY create_date ASC, id ASC
        FOR UPDATE
    `, projectColumns))
	if err != nil {
		return nil, fmt.Errorf("lock open projects: %w", err)
	}
	return collectProjects(rows)
}

func updateProjectState(ctx context.Context, tx pgx.Tx, p *domain.Project) error {
	_, err := tx.Exec(ctx, `
        UPDATE projects
        SET invested_amount = $2, fully_invested = $3, close_date = $4
        WHERE id = $1
    `, p.ID, p.InvestedAmount, p.FullyInvested, p.CloseDate)
	return err
}

func updateDonationState(ctx context.Context, tx pgx.Tx, d *domain.Donation) error {
	_, err := tx.Exec(ctx, `
        UPDATE donations
        SET invested_amount = $2, fully_invested = $3, close_date = $4
        WHERE id = $1
    `, d.ID, d.InvestedAmount, d.FullyInvested, d.CloseDate)
	return err
}

// CreateProject inserts the project and runs the allocation waterfall over
// open donations within the same transaction.
func (r *PostgresRepository) CreateProject(ctx context.Context, project *domain.Project) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create project: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	project.CreateDate = now
	project.InvestedAmount = 0
	project.FullyInvested = false
	project.CloseDate = nil

	err = tx.QueryRow(ctx, `
        INSERT INTO projects (name, description, full_amount, invested_amount, fully_invested, create_date)
        VALUES ($1, $2, $3, 0, FALSE, $4)
        RETURNING id
    `, project.Name, project.Description, project.FullAmount, project.CreateDate).Scan(&project.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrProjectNameTaken
		}
		return fmt.Errorf("insert project: %w", err)
	}

	donations, err := lockOpenDonations(ctx, tx)
	if err != nil {
		return err
	}
	pool := make([]*domain.FundableState, len(donations))
	for i := range donations {
		pool[i] = &donations[i].FundableState
	}

	touched := domain.Allocate(&project.FundableState, pool, now)
	for i := 0; i < touched; i++ {
		if err := updateDonationState(ctx, tx, &donations[i]); err != nil {
			return fmt.Errorf("update donation %d: %w", donations[i].ID, err)
		}
	}
	if err := updateProjectState(ctx, tx, project); err != nil {
		return fmt.Errorf("update project %d: %w", project.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create project: %w", err)
	}
	return nil
}

// UpdateProject writes the changed fields and re-runs the waterfall: raising
// full_amount can leave the project open to absorb idle donations, or the new
// target may already be met by what was invested.
func (r *PostgresRepository) UpdateProject(ctx context.Context, project *domain.Project) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin update project: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()

	// RETURNING re-reads the invested state under the row lock: the guard
	// checks ran outside this transaction and a concurrent donation may have
	// shifted the amounts since.
	err = tx.QueryRow(ctx, `
        UPDATE projects
        SET name = $2, description = $3, full_amount = $4
        WHERE id = $1
        RETURNING invested_amount, fully_invested, create_date, close_date
    `, project.ID, project.Name, project.Description, project.FullAmount).Scan(
		&project.InvestedAmount,
		&project.FullyInvested,
		&project.CreateDate,
		&project.CloseDate,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrProjectNotFound
		}
		if isUniqueViolation(err) {
			return ErrProjectNameTaken
		}
		return fmt.Errorf("update project %d: %w", project.ID, err)
	}

	// Re-run the guards against the locked state. The rollback undoes the
	// UPDATE above, so a rejected race leaves the row untouched.
	if project.FullyInvested {
		return ErrProjectClosed
	}
	if project.FullAmount < project.InvestedAmount {
		return ErrAmountBelowInvested
	}

	donations, err := lockOpenDonations(ctx, tx)
	if err != nil {
		return err
	}
	pool := make([]*domain.FundableState, len(donations))
	for i := range donations {
		pool[i] = &donations[i].FundableState
	}

	touched := domain.Allocate(&project.FundableState, pool, now)
	for i := 0; i < touched; i++ {
		if err := updateDonationState(ctx, tx, &donations[i]); err != nil {
			return fmt.Errorf("update donation %d: %w", donations[i].ID, err)
		}
	}
	if err := updateProjectState(ctx, tx, project); err != nil {
		return fmt.Errorf("update project state %d: %w", project.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit update project: %w", err)
	}
	return nil
}

// DeleteProject removes a project row, but only while it still carries no
// investments. The guard is part of the DELETE itself so a donation landing
// between the service's check and this call cannot strand invested money.
func (r *PostgresRepository) DeleteProject(ctx context.Context, projectID int64) error {
	tag, err := r.db.Exec(ctx, `
        DELETE FROM projects WHERE id = $1 AND invested_amount = 0
    `, projectID)
	if err != nil {
		return fmt.Errorf("delete project %d: %w", projectID, err)
	}
	if tag.RowsAffected() == 0 {
		// Zero rows means the project is gone or it has investments now.
		if _, err := r.GetProjectByID(ctx, projectID); err != nil {
			return err
		}
		return ErrProjectHasInvestment
	}
	return nil
}

const donationColumns = `id, user_id, comment, full_amount, invested_amount, fully_invested, create_date, close_date`

func collectDonations(rows pgx.Rows) ([]domain.Donation, error) {
	defer rows.Close()
	var donations []domain.Donation
	for rows.Next() {
		var d domain.Donation
		if err := rows.Scan(
			&d.ID,
			&d.UserID,
			&d.Comment,
			&d.FullAmount,
			&d.InvestedAmount,
			&d.FullyInvested,
			&d.CreateDate,
			&d.CloseDate,
		); err != nil {
			return nil, err
		}
		donations = append(donations, d)
	}
	return donations, rows.Err()
}

// ListDonations returns every donation, oldest first.
func (r *PostgresRepository) ListDonations(ctx context.Context) ([]domain.Donation, error) {
	rows, err := r.db.Query(ctx, fmt.Sprintf(`
        SELECT %s FROM donations ORDER BY create_date ASC, id ASC
    `, donationColumns))
	if err != nil {
		return nil, fmt.Errorf("list donations: %w", err)
	}
	return collectDonations(rows)
}

// ListDonationsByUser returns the donations made by one user, oldest first.
func (r *PostgresRepository) ListDonationsByUser(ctx context.Context, userID uuid.UUID) ([]domain.Donation, error) {
	rows, err := r.db.Query(ctx, fmt.Sprintf(`
        SELECT %s FROM donations WHERE user_id = $1 ORDER BY create_date ASC, id ASC
    `, donationColumns), userID)
	if err != nil {
		return nil, fmt.Errorf("list donations for user %s: %w", userID, err)
	}
	return collectDonations(rows)
}

// CreateDonation inserts the donation and pours it into open projects within
// the same transaction. Projects closed by this run are returned.
func (r *PostgresRepository) CreateDonation(ctx context.Context, donation *domain.Donation) ([]domain.Project, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin create donation: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	donation.CreateDate = now
	donation.InvestedAmount = 0
	donation.FullyInvested = false
	donation.CloseDate = nil

	err = tx.QueryRow(ctx, `
        INSERT INTO donations (user_id, comment, full_amount, invested_amount, fully_invested, create_date)
        VALUES ($1, $2, $3, 0, FALSE, $4)
        RETURNING id
    `, donation.UserID, donation.Comment, donation.FullAmount, donation.CreateDate).Scan(&donation.ID)
	if err != nil {
		return nil, fmt.Errorf("insert donation: %w", err)
	}

	projects, err := lockOpenProjects(ctx, tx)
	if err != nil {
		return nil, err
	}
	pool := make([]*domain.FundableState, len(projects))
	for i := range projects {
		pool[i] = &projects[i].FundableState
	}

	touched := domain.Allocate(&donation.FundableState, pool, now)
	var closed []domain.Project
	for i := 0; i < touched; i++ {
		if err := updateProjectState(ctx, tx, &projects[i]); err != nil {
			return nil, fmt.Errorf("update project %d: %w", projects[i].ID, err)
		}
		if projects[i].FullyInvested {
			closed = append(closed, projects[i])
		}
	}
	if err := updateDonationState(ctx, tx, donation); err != nil {
		return nil, fmt.Errorf("update donation %d: %w", donation.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit create donation: %w", err)
	}
	return closed, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
