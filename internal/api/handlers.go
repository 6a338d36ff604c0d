/**
 * @description
 * This file contains the HTTP handlers for the charity service's API
 * endpoints. Handlers are responsible for parsing incoming requests, calling
 * the appropriate methods on the application service, and writing the HTTP
 * response. They act as the bridge between the web layer and the business
 * logic layer.
 */

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/qrkot/charity-service/internal/app"
	"github.com/qrkot/charity-service/internal/domain"
	"github.com/qrkot/charity-service/internal/store"
)

// CharityHandlers holds the application service that handlers will use.
type CharityHandlers struct {
	service *app.Service
	logger  zerolog.Logger
}

// NewCharityHandlers creates a new instance of CharityHandlers.
func NewCharityHandlers(service *app.Service, logger zerolog.Logger) *CharityHandlers {
	return &CharityHandlers{service: service, logger: logger}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *CharityHandlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error().Err(err).Msg("failed to encode response")
	}
}

func (h *CharityHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, errorResponse{Error: message})
}

// writeServiceError maps the service's error taxonomy onto HTTP statuses.
// Callers see one stable message per category and never partial results.
func (h *CharityHandlers) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrValidation):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, store.ErrProjectNameTaken):
		h.writeError(w, http.StatusBadRequest, "A project with this name already exists.")
	case errors.Is(err, app.ErrProjectClosed):
		h.writeError(w, http.StatusBadRequest, "A closed project cannot be edited.")
	case errors.Is(err, app.ErrAmountBelowInvested):
		h.writeError(w, http.StatusBadRequest, "The new amount is below what has already been invested.")
	case errors.Is(err, app.ErrProjectHasInvestment):
		h.writeError(w, http.StatusUnprocessableEntity, "A project with investments cannot be deleted.")
	case errors.Is(err, store.ErrProjectNotFound):
		h.writeError(w, http.StatusNotFound, "Object not found.")
	case errors.Is(err, app.ErrDonationRateLimited):
		h.writeError(w, http.StatusTooManyRequests, "Too many donations, please slow down.")
	case errors.Is(err, app.ErrReportingUnavailable):
		h.writeError(w, http.StatusServiceUnavailable, "Report export is not configured.")
	default:
		h.logger.Error().Err(err).Msg("request failed")
		h.writeError(w, http.StatusInternalServerError, "Internal database error.")
	}
}

func projectIDFromURL(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "projectID"), 10, 64)
}

// ListProjectsHandler returns every charity project.
func (h *CharityHandlers) ListProjectsHandler(w http.ResponseWriter, r *http.Request) {
	projects, err := h.service.ListProjects(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if projects == nil {
		projects = []domain.Project{}
	}
	h.writeJSON(w, http.StatusOK, projects)
}

// CreateProjectHandler creates a project and runs allocation against open
// donations before responding.
func (h *CharityHandlers) CreateProjectHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.ProjectCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, "Invalid request body.")
		return
	}
	project, err := h.service.CreateProject(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, project)
}

// UpdateProjectHandler applies a partial update to an open project.
func (h *CharityHandlers) UpdateProjectHandler(w http.ResponseWriter, r *http.Request) {
	projectID, err := projectIDFromURL(r)
	if err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, "Project id must be an integer.")
		return
	}
	var req domain.ProjectUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, "Invalid request body.")
		return
	}
	project, err := h.service.UpdateProject(r.Context(), projectID, req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, project)
}

// DeleteProjectHandler deletes a project that has no investments and echoes
// the removed record.
func (h *CharityHandlers) DeleteProjectHandler(w http.ResponseWriter, r *http.Request) {
	projectID, err := projectIDFromURL(r)
	if err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, "Project id must be an integer.")
		return
	}
	project, err := h.service.DeleteProject(r.Context(), projectID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, project)
}

// ListDonationsHandler returns every donation (superuser only).
func (h *CharityHandlers) ListDonationsHandler(w http.ResponseWriter, r *http.Request) {
	donations, err := h.service.ListDonations(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if donations == nil {
		donations = []domain.Donation{}
	}
	h.writeJSON(w, http.StatusOK, donations)
}

// CreateDonationHandler records a donation for the authenticated user and
// distributes it across open projects before responding.
func (h *CharityHandlers) CreateDonationHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Authentication required.")
		return
	}
	var req domain.DonationCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, "Invalid request body.")
		return
	}
	donation, err := h.service.CreateDonation(r.Context(), userID, req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, donation.ShortView())
}

// ListMyDonationsHandler returns the caller's own donations in short form.
func (h *CharityHandlers) ListMyDonationsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Authentication required.")
		return
	}
	donations, err := h.service.ListUserDonations(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if donations == nil {
		donations = []domain.DonationShort{}
	}
	h.writeJSON(w, http.StatusOK, donations)
}

type reportResponse struct {
	URL string `json:"url"`
}

// GoogleReportHandler exports the closing-speed report to a Google
// spreadsheet and returns its URL.
func (h *CharityHandlers) GoogleReportHandler(w http.ResponseWriter, r *http.Request) {
	url, err := h.service.ExportReport(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, reportResponse{URL: url})
}
