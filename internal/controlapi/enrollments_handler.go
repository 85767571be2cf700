package controlapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/rafaeljc/nornir/internal/enrollment"
	"github.com/rafaeljc/nornir/internal/logger"
)

// backgroundSyncTimeout bounds the sync started after studies are re-enabled.
const backgroundSyncTimeout = time.Minute

// handleListEnrollments processes GET /api/v1/enrollments.
// The optional "active" query parameter filters by state.
func (a *API) handleListEnrollments(w http.ResponseWriter, r *http.Request) {
	var activeFilter *bool
	if raw := r.URL.Query().Get("active"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_INVALID_QUERY_PARAM",
				Message: "parameter 'active' must be a boolean",
			})
			return
		}
		activeFilter = &v
	}

	out := make([]Enrollment, 0)
	for _, e := range a.engine.Enrollments() {
		if activeFilter != nil && e.Active != *activeFilter {
			continue
		}
		out = append(out, mapEnrollment(e))
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, ListResponse{Data: out, Total: len(out)})
}

// handleGetEnrollment processes GET /api/v1/enrollments/{slug}.
func (a *API) handleGetEnrollment(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if errResp := validateSlug(slug, "slug"); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	e := a.engine.Get(slug)
	if e == nil {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_NOT_FOUND",
			Message: "Enrollment not found",
		})
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, mapEnrollment(e))
}

// handleUnenroll processes DELETE /api/v1/enrollments/{slug}: the user opts
// out of the enrollment.
func (a *API) handleUnenroll(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	slug := chi.URLParam(r, "slug")
	if errResp := validateSlug(slug, "slug"); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	cause := enrollment.Cause{Reason: enrollment.ReasonIndividualOptOut}
	if e := a.engine.Get(slug); e != nil && e.IsFirefoxLabsOptIn {
		cause.Reason = enrollment.ReasonLabsOptOut
	}

	e, err := a.engine.Unenroll(r.Context(), slug, cause)
	switch {
	case errors.Is(err, enrollment.ErrDoesNotExist):
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_NOT_FOUND",
			Message: "Enrollment not found",
		})
		return
	case errors.Is(err, enrollment.ErrAlreadyUnenrolled):
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_CONFLICT",
			Message: "Enrollment is already inactive",
		})
		return
	case err != nil:
		log.Error("failed to unenroll", slog.String("slug", slug), slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to unenroll",
		})
		return
	}

	log.Info("enrollment opted out", slog.String("slug", slug), slog.String("reason", string(cause.Reason)))
	render.Status(r, http.StatusOK)
	render.JSON(w, r, mapEnrollment(e))
}

// handleListOptIns processes GET /api/v1/optin.
func (a *API) handleListOptIns(w http.ResponseWriter, r *http.Request) {
	recipes := a.engine.OptInRecipes()

	out := make([]OptInRecipe, len(recipes))
	for i, rec := range recipes {
		out[i] = mapOptInRecipe(rec)
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, ListResponse{Data: out, Total: len(out)})
}

// handleOptIn processes POST /api/v1/optin/{slug}.
func (a *API) handleOptIn(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	slug := chi.URLParam(r, "slug")
	if errResp := validateSlug(slug, "slug"); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	var req OptInRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Warn("invalid json payload", slog.String("error", err.Error()))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return
	}

	req.Sanitize()
	if errResp := req.Validate(); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	e, err := a.engine.OptIn(r.Context(), slug, req.Branch)
	if err != nil {
		status, code := http.StatusInternalServerError, "ERR_INTERNAL"
		switch {
		case errors.Is(err, enrollment.ErrDoesNotExist):
			status, code = http.StatusNotFound, "ERR_NOT_FOUND"
		case errors.Is(err, enrollment.ErrInvalidBranch):
			status, code = http.StatusBadRequest, "ERR_INVALID_BRANCH"
		case errors.Is(err, enrollment.ErrNameConflict),
			errors.Is(err, enrollment.ErrFeatureConflict),
			errors.Is(err, enrollment.ErrStudiesDisabled):
			status, code = http.StatusConflict, "ERR_CONFLICT"
		default:
			log.Error("failed to opt in", slog.String("slug", slug), slog.String("error", err.Error()))
		}

		render.Status(r, status)
		render.JSON(w, r, ErrorResponse{Code: code, Message: err.Error()})
		return
	}

	log.Info("opted in", slog.String("slug", slug), slog.String("branch", req.Branch))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, mapEnrollment(e))
}

// handleGetFeature processes GET /api/v1/features/{id}.
func (a *API) handleGetFeature(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	fv, ok := a.engine.FeatureValue(id)
	if !ok {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_NOT_FOUND",
			Message: "No active enrollment configures this feature",
		})
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, fv)
}

// handleGetTargeting processes GET /api/v1/targeting.
func (a *API) handleGetTargeting(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, a.engine.TargetingContext())
}

// handleSetStudies processes PUT /api/v1/studies. Re-enabling studies
// starts a sync in the background so recipes are evaluated right away.
func (a *API) handleSetStudies(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req StudiesRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return
	}
	if errResp := req.Validate(); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	enabled := *req.Enabled
	a.engine.SetStudiesEnabled(r.Context(), enabled)
	log.Info("studies toggled", slog.Bool("enabled", enabled))

	if enabled && a.syncer != nil {
		go func(ctx context.Context) {
			ctx, cancel := context.WithTimeout(ctx, backgroundSyncTimeout)
			defer cancel()
			if err := a.syncer.Sync(ctx); err != nil {
				log.Error("sync after enabling studies failed", slog.String("error", err.Error()))
			}
		}(context.WithoutCancel(r.Context()))
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, StudiesResponse{Enabled: enabled})
}

// handleSync processes POST /api/v1/sync.
func (a *API) handleSync(w http.ResponseWriter, r *http.Request) {
	if a.syncer == nil {
		render.Status(r, http.StatusNotImplemented)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_NOT_IMPLEMENTED",
			Message: "Recipe syncing is disabled",
		})
		return
	}

	if err := a.syncer.Sync(r.Context()); err != nil {
		logger.FromContext(r.Context()).Error("manual sync failed", slog.String("error", err.Error()))
		render.Status(r, http.StatusBadGateway)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_SYNC_FAILED",
			Message: err.Error(),
		})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
