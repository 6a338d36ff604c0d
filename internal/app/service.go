/**
 * @description
 * This file contains the core business logic for the charity service. The
 * `Service` struct sits between the HTTP handlers and the repository: it runs
 * the mutation guards, triggers the transactional allocation runs, publishes
 * closure events, and assembles the closing-speed report.
 *
 * @notes
 * - Guards run in a fixed order and short-circuit on the first failure, so a
 *   request never reaches the repository with invalid or conflicting state.
 * - Validation failures and guard failures are distinct error values; the API
 *   layer maps them to different status codes.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/qrkot/charity-service/internal/domain"
	"github.com/qrkot/charity-service/internal/store"
	"github.com/qrkot/charity-service/pkg/rabbitmq"
	"github.com/qrkot/charity-service/pkg/sheets"
)

var (
	// ErrValidation marks malformed input rejected before any persistence.
	ErrValidation = errors.New("validation failed")
	// ErrProjectClosed rejects any field update to a fully invested project.
	// The service checks it on read; the store re-checks it on the locked row.
	ErrProjectClosed = store.ErrProjectClosed
	// ErrAmountBelowInvested rejects lowering full_amount under what is
	// already invested.
	ErrAmountBelowInvested = store.ErrAmountBelowInvested
	// ErrProjectHasInvestment rejects deleting a project money has entered.
	ErrProjectHasInvestment = store.ErrProjectHasInvestment
	// ErrDonationRateLimited is returned when a user exceeds the configured
	// donation creation rate.
	ErrDonationRateLimited = errors.New("donation rate limit exceeded")
	// ErrReportingUnavailable is returned when no spreadsheet exporter is
	// configured.
	ErrReportingUnavailable = errors.New("report export is not configured")
)

const donationRateLimitScope = "donation_create"

// RateLimiter is the contract for the distributed donation rate limiter.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// ReportExporter writes the ranked report to an external spreadsheet and
// returns its URL.
type ReportExporter interface {
	ExportClosingSpeedReport(ctx context.Context, rows []sheets.ReportRow) (string, error)
}

// Service provides the business logic for projects, donations and reporting.
type Service struct {
	repo                 store.Repository
	events               rabbitmq.Publisher
	limiter              RateLimiter
	reports              ReportExporter
	donationRateLimitPer int
	logger               zerolog.Logger
}

// NewService creates a new Service. The limiter and the report exporter may be
// nil: a nil limiter disables donation rate limiting, a nil exporter makes
// report export respond as unavailable.
func NewService(repo store.Repository, events rabbitmq.Publisher, limiter RateLimiter, reports ReportExporter, donationRateLimitPerMinute int, logger zerolog.Logger) *Service {
	return &Service{
		repo:                 repo,
		events:               events,
		limiter:              limiter,
		reports:              reports,
		donationRateLimitPer: donationRateLimitPerMinute,
		logger:               logger,
	}
}

// ListProjects returns every project.
func (s *Service) ListProjects(ctx context.Context) ([]domain.Project, error) {
	return s.repo.ListProjects(ctx)
}

// GetProject returns one project by id.
func (s *Service) GetProject(ctx context.Context, projectID int64) (*domain.Project, error) {
	return s.repo.GetProjectByID(ctx, projectID)
}

func validateProjectName(name string) error {
	if name == "" || len(name) > domain.MaxProjectNameLength {
		return fmt.Errorf("%w: name must be between 1 and %d characters", ErrValidation, domain.MaxProjectNameLength)
	}
	return nil
}

// guardNameFree rejects the name if another project already uses it.
func (s *Service) guardNameFree(ctx context.Context, name string) error {
	_, err := s.repo.GetProjectByName(ctx, name)
	if err == nil {
		return store.ErrProjectNameTaken
	}
	if errors.Is(err, store.ErrProjectNotFound) {
		return nil
	}
	return err
}

// CreateProject validates the request, checks the name is free, persists the
// project and runs the allocation waterfall against open donations.
func (s *Service) CreateProject(ctx context.Context, req domain.ProjectCreateRequest) (*domain.Project, error) {
	if err := validateProjectName(req.Name); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Description) == "" {
		return nil, fmt.Errorf("%w: description must not be empty", ErrValidation)
	}
	if req.FullAmount <= 0 {
		return nil, fmt.Errorf("%w: full_amount must be positive", ErrValidation)
	}
	if err := s.guardNameFree(ctx, req.Name); err != nil {
		return nil, err
	}

	project := &domain.Project{
		Name:        req.Name,
		Description: req.Description,
		FundableState: domain.FundableState{
			FullAmount: req.FullAmount,
		},
	}
	if err := s.repo.CreateProject(ctx, project); err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("project_id", project.ID).
		Int64("full_amount", project.FullAmount).
		Int64("invested_amount", project.InvestedAmount).
		Msg("project created")

	if project.FullyInvested {
		s.publishProjectClosed(ctx, project)
	}
	return project, nil
}

// UpdateProject applies a partial update after the mutation guards pass, then
// re-runs the allocation waterfall. Guard order: existence, closed project,
// amount floor, name uniqueness.
func (s *Service) UpdateProject(ctx context.Context, projectID int64, req domain.ProjectUpdateRequest) (*domain.Project, error) {
	if req.Name != nil {
		if err := validateProjectName(*req.Name); err != nil {
			return nil, err
		}
	}
	if req.Description != nil && strings.TrimSpace(*req.Description) == "" {
		return nil, fmt.Errorf("%w: description must not be empty", ErrValidation)
	}
	if req.FullAmount != nil && *req.FullAmount <= 0 {
		return nil, fmt.Errorf("%w: full_amount must be positive", ErrValidation)
	}

	project, err := s.repo.GetProjectByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project.FullyInvested {
		return nil, ErrProjectClosed
	}
	if req.FullAmount != nil && *req.FullAmount < project.InvestedAmount {
		return nil, ErrAmountBelowInvested
	}
	if req.Name != nil && *req.Name != project.Name {
		if err := s.guardNameFree(ctx, *req.Name); err != nil {
			return nil, err
		}
		project.Name = *req.Name
	}
	if req.Description != nil {
		project.Description = *req.Description
	}
	if req.FullAmount != nil {
		project.FullAmount = *req.FullAmount
	}

	if err := s.repo.UpdateProject(ctx, project); err != nil {
		return nil, err
	}

	s.logger.Info().Int64("project_id", project.ID).Msg("project updated")

	if project.FullyInvested {
		s.publishProjectClosed(ctx, project)
	}
	return project, nil
}

// DeleteProject removes a project that has no investments yet. The deleted
// record is returned so the API can echo it, matching create/update.
func (s *Service) DeleteProject(ctx context.Context, projectID int64) (*domain.Project, error) {
	project, err := s.repo.GetProjectByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project.InvestedAmount > 0 {
		return nil, ErrProjectHasInvestment
	}
	if err := s.repo.DeleteProject(ctx, projectID); err != nil {
		return nil, err
	}
	s.logger.Info().Int64("project_id", projectID).Msg("project deleted")
	return project, nil
}

// ListDonations returns every donation (privileged view).
func (s *Service) ListDonations(ctx context.Context) ([]domain.Donation, error) {
	return s.repo.ListDonations(ctx)
}

// ListUserDonations returns the caller's donations in the short form.
func (s *Service) ListUserDonations(ctx context.Context, userID uuid.UUID) ([]domain.DonationShort, error) {
	donations, err := s.repo.ListDonationsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	short := make([]domain.DonationShort, 0, len(donations))
	for i := range donations {
		short = append(short, donations[i].ShortView())
	}
	return short, nil
}

// CreateDonation records a donation for the given user and distributes it
// across open projects, oldest first.
func (s *Service) CreateDonation(ctx context.Context, userID uuid.UUID, req domain.DonationCreateRequest) (*domain.Donation, error) {
	if req.FullAmount <= 0 {
		return nil, fmt.Errorf("%w: full_amount must be positive", ErrValidation)
	}
	if err := s.consumeDonationRateLimit(ctx, userID); err != nil {
		return nil, err
	}

	donation := &domain.Donation{
		UserID:  userID,
		Comment: req.Comment,
		FundableState: domain.FundableState{
			FullAmount: req.FullAmount,
		},
	}
	closedProjects, err := s.repo.CreateDonation(ctx, donation)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("donation_id", donation.ID).
		Str("user_id", userID.String()).
		Int64("full_amount", donation.FullAmount).
		Int("projects_closed", len(closedProjects)).
		Msg("donation recorded")

	for i := range closedProjects {
		s.publishProjectClosed(ctx, &closedProjects[i])
	}
	return donation, nil
}

func (s *Service) consumeDonationRateLimit(ctx context.Context, userID uuid.UUID) error {
	if s.limiter == nil || s.donationRateLimitPer <= 0 {
		return nil
	}
	count, retryAfter, err := s.limiter.ConsumeRateLimit(ctx, donationRateLimitScope, userID.String(), s.donationRateLimitPer, time.Minute)
	if err != nil {
		// The limiter is best effort: losing Redis must not block donations.
		s.logger.Warn().Err(err).Msg("donation rate limiter unavailable")
		return nil
	}
	if count > s.donationRateLimitPer {
		return fmt.Errorf("%w: retry in %ds", ErrDonationRateLimited, retryAfter)
	}
	return nil
}

// BuildReport ranks closed projects by closing speed, fastest first.
func (s *Service) BuildReport(ctx context.Context) ([]domain.Project, error) {
	closed, err := s.repo.ListClosedProjects(ctx)
	if err != nil {
		return nil, err
	}
	return domain.RankByDuration(closed, false), nil
}

// ExportReport builds the closing-speed report and writes it to the
// configured spreadsheet exporter, returning the spreadsheet URL.
func (s *Service) ExportReport(ctx context.Context) (string, error) {
	if s.reports == nil {
		return "", ErrReportingUnavailable
	}
	ranked, err := s.BuildReport(ctx)
	if err != nil {
		return "", err
	}
	rows := make([]sheets.ReportRow, 0, len(ranked))
	for i := range ranked {
		rows = append(rows, sheets.ReportRow{
			Name:        ranked[i].Name,
			Duration:    ranked[i].FundingDuration(),
			Description: ranked[i].Description,
		})
	}
	url, err := s.reports.ExportClosingSpeedReport(ctx, rows)
	if err != nil {
		return "", fmt.Errorf("export report: %w", err)
	}
	s.logger.Info().Int("projects", len(rows)).Str("url", url).Msg("report exported")
	return url, nil
}

func (s *Service) publishProjectClosed(ctx context.Context, project *domain.Project) {
	if s.events == nil {
		return
	}
	event := rabbitmq.ProjectClosedEvent{
		ProjectID:  project.ID,
		Name:       project.Name,
		FullAmount: project.FullAmount,
		ClosedAt:   *project.CloseDate,
	}
	if err := s.events.PublishProjectClosed(ctx, event); err != nil {
		s.logger.Warn().Err(err).Int64("project_id", project.ID).Msg("failed to publish project closed event")
	}
}
