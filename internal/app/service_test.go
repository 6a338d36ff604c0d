package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/qrkot/charity-service/internal/domain"
	"github.com/qrkot/charity-service/internal/store"
	"github.com/qrkot/charity-service/pkg/rabbitmq"
	"github.com/qrkot/charity-service/pkg/sheets"
)

type repoStub struct {
	store.Repository

	projectByID   *domain.Project
	projectByName *domain.Project

	createdProject  *domain.Project
	updatedProject  *domain.Project
	deletedID       int64
	createdDonation *domain.Donation

	updateErr error
	deleteErr error

	closedOnDonation []domain.Project
	closedProjects   []domain.Project

	onCreateProject func(p *domain.Project)
}

func (s *repoStub) GetProjectByID(ctx context.Context, projectID int64) (*domain.Project, error) {
	if s.projectByID == nil {
		return nil, store.ErrProjectNotFound
	}
	return s.projectByID, nil
}

func (s *repoStub) GetProjectByName(ctx context.Context, name string) (*domain.Project, error) {
	if s.projectByName == nil {
		return nil, store.ErrProjectNotFound
	}
	return s.projectByName, nil
}

func (s *repoStub) CreateProject(ctx context.Context, project *domain.Project) error {
	s.createdProject = project
	project.ID = 1
	project.CreateDate = time.Now()
	if s.onCreateProject != nil {
		s.onCreateProject(project)
	}
	return nil
}

func (s *repoStub) UpdateProject(ctx context.Context, project *domain.Project) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.updatedProject = project
	return nil
}

func (s *repoStub) DeleteProject(ctx context.Context, projectID int64) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deletedID = projectID
	return nil
}

func (s *repoStub) CreateDonation(ctx context.Context, donation *domain.Donation) ([]domain.Project, error) {
	s.createdDonation = donation
	donation.ID = 1
	donation.CreateDate = time.Now()
	return s.closedOnDonation, nil
}

func (s *repoStub) ListClosedProjects(ctx context.Context) ([]domain.Project, error) {
	return s.closedProjects, nil
}

type publisherStub struct {
	closedEvents []rabbitmq.ProjectClosedEvent
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	return nil
}

func (p *publisherStub) PublishProjectClosed(ctx context.Context, event rabbitmq.ProjectClosedEvent) error {
	p.closedEvents = append(p.closedEvents, event)
	return nil
}

func (p *publisherStub) Close() {}

func newTestService(repo store.Repository, events rabbitmq.Publisher) *Service {
	return NewService(repo, events, nil, nil, 0, zerolog.Nop())
}

func validProjectRequest() domain.ProjectCreateRequest {
	return domain.ProjectCreateRequest{
		Name:        "Shelter for cats",
		Description: "A warm place for every cat.",
		FullAmount:  5000,
	}
}

func TestCreateProject_RejectsInvalidInput(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(req *domain.ProjectCreateRequest)
	}{
		{"empty name", func(req *domain.ProjectCreateRequest) { req.Name = "" }},
		{"name too long", func(req *domain.ProjectCreateRequest) { req.Name = strings.Repeat("x", 101) }},
		{"empty description", func(req *domain.ProjectCreateRequest) { req.Description = "   " }},
		{"zero amount", func(req *domain.ProjectCreateRequest) { req.FullAmount = 0 }},
		{"negative amount", func(req *domain.ProjectCreateRequest) { req.FullAmount = -5 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &repoStub{}
			svc := newTestService(repo, &publisherStub{})

			req := validProjectRequest()
			tc.mutate(&req)

			_, err := svc.CreateProject(context.Background(), req)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
			if repo.createdProject != nil {
				t.Fatal("repository must not be called for invalid input")
			}
		})
	}
}

func TestCreateProject_RejectsDuplicateName(t *testing.T) {
	repo := &repoStub{projectByName: &domain.Project{ID: 7, Name: "Shelter for cats"}}
	svc := newTestService(repo, &publisherStub{})

	_, err := svc.CreateProject(context.Background(), validProjectRequest())
	if !errors.Is(err, store.ErrProjectNameTaken) {
		t.Fatalf("expected ErrProjectNameTaken, got %v", err)
	}
	if repo.createdProject != nil {
		t.Fatal("project must not be persisted when the name is taken")
	}
}

func TestCreateProject_PublishesEventWhenClosedByAllocation(t *testing.T) {
	repo := &repoStub{
		onCreateProject: func(p *domain.Project) {
			// Simulate open donations fully funding the project at creation.
			p.InvestedAmount = p.FullAmount
			closedAt := time.Now()
			p.FullyInvested = true
			p.CloseDate = &closedAt
		},
	}
	events := &publisherStub{}
	svc := newTestService(repo, events)

	project, err := svc.CreateProject(context.Background(), validProjectRequest())
	if err != nil {
		t.Fatalf("CreateProject returned error: %v", err)
	}
	if !project.FullyInvested {
		t.Fatal("expected project to be closed")
	}
	if len(events.closedEvents) != 1 || events.closedEvents[0].ProjectID != project.ID {
		t.Fatalf("expected one closure event for project %d, got %+v", project.ID, events.closedEvents)
	}
}

func TestUpdateProject_RejectsClosedProject(t *testing.T) {
	closedAt := time.Now()
	repo := &repoStub{projectByID: &domain.Project{
		ID:   3,
		Name: "Closed one",
		FundableState: domain.FundableState{
			FullAmount:     100,
			InvestedAmount: 100,
			FullyInvested:  true,
			CloseDate:      &closedAt,
		},
	}}
	svc := newTestService(repo, &publisherStub{})

	newName := "Renamed"
	_, err := svc.UpdateProject(context.Background(), 3, domain.ProjectUpdateRequest{Name: &newName})
	if !errors.Is(err, ErrProjectClosed) {
		t.Fatalf("expected ErrProjectClosed, got %v", err)
	}
	if repo.updatedProject != nil {
		t.Fatal("closed project must never reach the repository update")
	}
}

func TestUpdateProject_RejectsAmountBelowInvested(t *testing.T) {
	repo := &repoStub{projectByID: &domain.Project{
		ID:   4,
		Name: "Half funded",
		FundableState: domain.FundableState{
			FullAmount:     200,
			InvestedAmount: 150,
		},
	}}
	svc := newTestService(repo, &publisherStub{})

	lowered := int64(100)
	_, err := svc.UpdateProject(context.Background(), 4, domain.ProjectUpdateRequest{FullAmount: &lowered})
	if !errors.Is(err, ErrAmountBelowInvested) {
		t.Fatalf("expected ErrAmountBelowInvested, got %v", err)
	}
}

func TestUpdateProject_NotFound(t *testing.T) {
	svc := newTestService(&repoStub{}, &publisherStub{})

	_, err := svc.UpdateProject(context.Background(), 99, domain.ProjectUpdateRequest{})
	if !errors.Is(err, store.ErrProjectNotFound) {
		t.Fatalf("expected ErrProjectNotFound, got %v", err)
	}
}

func TestUpdateProject_AppliesChangedFields(t *testing.T) {
	repo := &repoStub{projectByID: &domain.Project{
		ID:          5,
		Name:        "Old name",
		Description: "Old description",
		FundableState: domain.FundableState{
			FullAmount:     200,
			InvestedAmount: 50,
		},
	}}
	svc := newTestService(repo, &publisherStub{})

	newName := "New name"
	raised := int64(400)
	project, err := svc.UpdateProject(context.Background(), 5, domain.ProjectUpdateRequest{
		Name:       &newName,
		FullAmount: &raised,
	})
	if err != nil {
		t.Fatalf("UpdateProject returned error: %v", err)
	}
	if project.Name != "New name" || project.FullAmount != 400 {
		t.Fatalf("fields not applied: %+v", project)
	}
	if project.Description != "Old description" {
		t.Fatal("omitted fields must stay unchanged")
	}
	if repo.updatedProject == nil {
		t.Fatal("expected repository update")
	}
}

// The store re-checks the closed-project guard on the locked row. When the
// project was closed between the service's read and the update transaction,
// the store's rejection must surface as the same guard error.
func TestUpdateProject_StoreRejectsConcurrentlyClosedProject(t *testing.T) {
	repo := &repoStub{
		projectByID: &domain.Project{
			ID:   8,
			Name: "Still open at read time",
			FundableState: domain.FundableState{
				FullAmount:     200,
				InvestedAmount: 50,
			},
		},
		updateErr: store.ErrProjectClosed,
	}
	svc := newTestService(repo, &publisherStub{})

	newName := "Renamed"
	_, err := svc.UpdateProject(context.Background(), 8, domain.ProjectUpdateRequest{Name: &newName})
	if !errors.Is(err, ErrProjectClosed) {
		t.Fatalf("expected ErrProjectClosed, got %v", err)
	}
}

// Same race on the amount floor: a donation can raise invested_amount past the
// requested target after the service's read.
func TestUpdateProject_StoreRejectsAmountBelowInvested(t *testing.T) {
	repo := &repoStub{
		projectByID: &domain.Project{
			ID:   9,
			Name: "Filling fast",
			FundableState: domain.FundableState{
				FullAmount:     500,
				InvestedAmount: 100,
			},
		},
		updateErr: store.ErrAmountBelowInvested,
	}
	svc := newTestService(repo, &publisherStub{})

	lowered := int64(150)
	_, err := svc.UpdateProject(context.Background(), 9, domain.ProjectUpdateRequest{FullAmount: &lowered})
	if !errors.Is(err, ErrAmountBelowInvested) {
		t.Fatalf("expected ErrAmountBelowInvested, got %v", err)
	}
}

func TestDeleteProject_RejectsInvestedProject(t *testing.T) {
	repo := &repoStub{projectByID: &domain.Project{
		ID: 6,
		FundableState: domain.FundableState{
			FullAmount:     100,
			InvestedAmount: 1,
		},
	}}
	svc := newTestService(repo, &publisherStub{})

	_, err := svc.DeleteProject(context.Background(), 6)
	if !errors.Is(err, ErrProjectHasInvestment) {
		t.Fatalf("expected ErrProjectHasInvestment, got %v", err)
	}
	if repo.deletedID != 0 {
		t.Fatal("invested project must not be deleted")
	}
}

func TestDeleteProject_ReturnsDeletedRecord(t *testing.T) {
	repo := &repoStub{projectByID: &domain.Project{
		ID:   7,
		Name: "Fresh",
		FundableState: domain.FundableState{
			FullAmount: 100,
		},
	}}
	svc := newTestService(repo, &publisherStub{})

	project, err := svc.DeleteProject(context.Background(), 7)
	if err != nil {
		t.Fatalf("DeleteProject returned error: %v", err)
	}
	if project.Name != "Fresh" || repo.deletedID != 7 {
		t.Fatalf("unexpected delete result: %+v, deleted id %d", project, repo.deletedID)
	}
}

// The delete guard is part of the DELETE statement itself. A donation landing
// between the service's read and the delete surfaces as the guard error.
func TestDeleteProject_StoreRejectsConcurrentInvestment(t *testing.T) {
	repo := &repoStub{
		projectByID: &domain.Project{
			ID:   12,
			Name: "Empty at read time",
			FundableState: domain.FundableState{
				FullAmount: 100,
			},
		},
		deleteErr: store.ErrProjectHasInvestment,
	}
	svc := newTestService(repo, &publisherStub{})

	_, err := svc.DeleteProject(context.Background(), 12)
	if !errors.Is(err, ErrProjectHasInvestment) {
		t.Fatalf("expected ErrProjectHasInvestment, got %v", err)
	}
	if repo.deletedID != 0 {
		t.Fatal("delete must not be recorded when the store rejects it")
	}
}

func TestCreateDonation_RejectsNonPositiveAmount(t *testing.T) {
	repo := &repoStub{}
	svc := newTestService(repo, &publisherStub{})

	_, err := svc.CreateDonation(context.Background(), uuid.New(), domain.DonationCreateRequest{FullAmount: 0})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if repo.createdDonation != nil {
		t.Fatal("invalid donation must not be persisted")
	}
}

func TestCreateDonation_PublishesClosureEvents(t *testing.T) {
	closedAt := time.Now()
	repo := &repoStub{
		closedOnDonation: []domain.Project{
			{ID: 10, Name: "P1", FundableState: domain.FundableState{FullAmount: 100, InvestedAmount: 100, FullyInvested: true, CloseDate: &closedAt}},
			{ID: 11, Name: "P2", FundableState: domain.FundableState{FullAmount: 50, InvestedAmount: 50, FullyInvested: true, CloseDate: &closedAt}},
		},
	}
	events := &publisherStub{}
	svc := newTestService(repo, events)

	userID := uuid.New()
	donation, err := svc.CreateDonation(context.Background(), userID, domain.DonationCreateRequest{FullAmount: 150})
	if err != nil {
		t.Fatalf("CreateDonation returned error: %v", err)
	}
	if donation.UserID != userID {
		t.Fatal("donation must carry the donor's id")
	}
	if len(events.closedEvents) != 2 {
		t.Fatalf("expected 2 closure events, got %d", len(events.closedEvents))
	}
}

type limiterStub struct {
	count      int
	retryAfter int
	err        error
}

func (l *limiterStub) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	return l.count, l.retryAfter, l.err
}

func TestCreateDonation_RateLimited(t *testing.T) {
	repo := &repoStub{}
	svc := NewService(repo, &publisherStub{}, &limiterStub{count: 31, retryAfter: 12}, nil, 30, zerolog.Nop())

	_, err := svc.CreateDonation(context.Background(), uuid.New(), domain.DonationCreateRequest{FullAmount: 50})
	if !errors.Is(err, ErrDonationRateLimited) {
		t.Fatalf("expected ErrDonationRateLimited, got %v", err)
	}
	if repo.createdDonation != nil {
		t.Fatal("rate limited donation must not be persisted")
	}
}

func TestCreateDonation_LimiterFailureDoesNotBlock(t *testing.T) {
	repo := &repoStub{}
	svc := NewService(repo, &publisherStub{}, &limiterStub{err: errors.New("redis down")}, nil, 30, zerolog.Nop())

	_, err := svc.CreateDonation(context.Background(), uuid.New(), domain.DonationCreateRequest{FullAmount: 50})
	if err != nil {
		t.Fatalf("limiter outage must not block donations, got %v", err)
	}
	if repo.createdDonation == nil {
		t.Fatal("expected donation to be persisted")
	}
}

type exporterStub struct {
	rows []sheets.ReportRow
	url  string
}

func (e *exporterStub) ExportClosingSpeedReport(ctx context.Context, rows []sheets.ReportRow) (string, error) {
	e.rows = rows
	return e.url, nil
}

func TestExportReport_UnavailableWithoutExporter(t *testing.T) {
	svc := newTestService(&repoStub{}, &publisherStub{})

	_, err := svc.ExportReport(context.Background())
	if !errors.Is(err, ErrReportingUnavailable) {
		t.Fatalf("expected ErrReportingUnavailable, got %v", err)
	}
}

func TestExportReport_RanksFastestFirst(t *testing.T) {
	base := time.Now().Add(-48 * time.Hour)
	slowClose := base.Add(24 * time.Hour)
	fastClose := base.Add(time.Hour)
	repo := &repoStub{closedProjects: []domain.Project{
		{ID: 1, Name: "slow", Description: "d", FundableState: domain.FundableState{FullAmount: 10, InvestedAmount: 10, FullyInvested: true, CreateDate: base, CloseDate: &slowClose}},
		{ID: 2, Name: "fast", Description: "d", FundableState: domain.FundableState{FullAmount: 10, InvestedAmount: 10, FullyInvested: true, CreateDate: base, CloseDate: &fastClose}},
	}}
	exporter := &exporterStub{url: "https://docs.google.com/spreadsheets/d/abc"}
	svc := NewService(repo, &publisherStub{}, nil, exporter, 0, zerolog.Nop())

	url, err := svc.ExportReport(context.Background())
	if err != nil {
		t.Fatalf("ExportReport returned error: %v", err)
	}
	if url != exporter.url {
		t.Fatalf("unexpected url %q", url)
	}
	if len(exporter.rows) != 2 || exporter.rows[0].Name != "fast" || exporter.rows[1].Name != "slow" {
		t.Fatalf("rows not ranked fastest first: %+v", exporter.rows)
	}
	if exporter.rows[0].Duration != time.Hour {
		t.Fatalf("unexpected duration %v", exporter.rows[0].Duration)
	}
}
