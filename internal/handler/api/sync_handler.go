package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"ltvsync/internal/export"
	"ltvsync/internal/models"
	"ltvsync/internal/repository"
	"ltvsync/internal/syncer"
)

const sampleLimit = 10

// SyncHandler exposes run control and run history.
type SyncHandler struct {
	svc      *syncer.Service
	runs     *repository.SyncRunRepository
	contacts *repository.SyncContactRepository
	logger   *zap.Logger
}

func NewSyncHandler(svc *syncer.Service, runs *repository.SyncRunRepository, contacts *repository.SyncContactRepository, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{svc: svc, runs: runs, contacts: contacts, logger: logger}
}

// Trigger starts a background run.
// POST /api/sync/trigger
func (h *SyncHandler) Trigger(c echo.Context) error {
	res, err := h.svc.Trigger(c.Request().Context())
	switch {
	case errors.Is(err, syncer.ErrAlreadyRunning):
		return errorResponse(c, http.StatusConflict, "A sync is already running")
	case errors.Is(err, syncer.ErrNoConfig):
		return errorResponse(c, http.StatusBadRequest, "No sync configuration found. Please configure first.")
	case err != nil:
		h.logger.Error("Failed to trigger sync", zap.Error(err))
		return errorResponse(c, http.StatusInternalServerError, "Failed to trigger sync")
	}
	return successResponse(c, "Sync triggered", models.TriggerResponse{
		Message:  "Sync triggered",
		ConfigID: res.ConfigID,
		RunID:    res.RunID,
	})
}

// Status reports whether a run is in progress.
// GET /api/sync/status
func (h *SyncHandler) Status(c echo.Context) error {
	st, err := h.svc.Status()
	if err != nil {
		h.logger.Error("Failed to load sync status", zap.Error(err))
		return errorResponse(c, http.StatusInternalServerError, "Failed to load sync status")
	}
	return successResponse(c, "Successful", models.SyncStatusResponse{
		IsRunning:     st.IsRunning,
		RunningSyncID: st.RunningSyncID,
		LastRun:       models.NewRunSummary(st.LastRun),
	})
}

// History lists runs newest first.
// GET /api/sync/history?page=&per_page=
func (h *SyncHandler) History(c echo.Context) error {
	page := queryInt(c, "page", 1)
	perPage := queryInt(c, "per_page", defaultPerPage)
	if perPage > maxPerPage {
		perPage = maxPerPage
	}

	runs, total, err := h.runs.List(page, perPage)
	if err != nil {
		h.logger.Error("Failed to list sync runs", zap.Error(err))
		return errorResponse(c, http.StatusInternalServerError, "Failed to retrieve sync history")
	}

	out := make([]*models.RunSummary, 0, len(runs))
	for i := range runs {
		out = append(out, models.NewRunSummary(&runs[i]))
	}
	return successResponse(c, "Successful", models.HistoryResponse{
		Runs:       out,
		Total:      total,
		Page:       page,
		PerPage:    perPage,
		TotalPages: totalPages(total, perPage),
	})
}

// Detail returns one run with up to ten contact samples.
// GET /api/sync/:id
func (h *SyncHandler) Detail(c echo.Context) error {
	run, ok, err := h.loadRun(c)
	if !ok {
		return err
	}

	contacts, err := h.contacts.Samples(run.ID, sampleLimit)
	if err != nil {
		h.logger.Error("Failed to load contact samples", zap.Uint("run_id", run.ID), zap.Error(err))
		return errorResponse(c, http.StatusInternalServerError, "Failed to retrieve sync run")
	}
	samples := make([]models.ContactSample, 0, len(contacts))
	for _, ct := range contacts {
		samples = append(samples, models.ContactSample{
			GHLContactID:    ct.GHLContactID,
			Email:           ct.Email,
			FirstName:       ct.FirstName,
			LastName:        ct.LastName,
			RawLTV:          ct.RawLTV,
			NormalizedValue: ct.NormalizedValue,
		})
	}
	return successResponse(c, "Successful", models.RunDetail{
		RunSummary:     models.NewRunSummary(run),
		ContactSamples: samples,
	})
}

// Export streams every contact of a run as an xlsx workbook.
// GET /api/sync/:id/export
func (h *SyncHandler) Export(c echo.Context) error {
	run, ok, err := h.loadRun(c)
	if !ok {
		return err
	}

	contacts, err := h.contacts.ListByRun(run.ID)
	if err != nil {
		h.logger.Error("Failed to load contacts for export", zap.Uint("run_id", run.ID), zap.Error(err))
		return errorResponse(c, http.StatusInternalServerError, "Failed to export sync run")
	}
	name, data, err := export.RunContactsXLSX(run, contacts)
	if err != nil {
		h.logger.Error("Failed to build export", zap.Uint("run_id", run.ID), zap.Error(err))
		return errorResponse(c, http.StatusInternalServerError, "Failed to export sync run")
	}

	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+name+`"`)
	return c.Blob(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}

// loadRun resolves :id. When ok is false the error response has been written
// and err is its result.
func (h *SyncHandler) loadRun(c echo.Context) (*models.SyncRun, bool, error) {
	id, valid := paramID(c)
	if !valid {
		return nil, false, errorResponse(c, http.StatusBadRequest, "Invalid sync run id")
	}
	run, err := h.runs.FindByID(id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, errorResponse(c, http.StatusNotFound, "Sync run not found")
	}
	if err != nil {
		h.logger.Error("Failed to load sync run", zap.Uint("run_id", id), zap.Error(err))
		return nil, false, errorResponse(c, http.StatusInternalServerError, "Failed to retrieve sync run")
	}
	return run, true, nil
}
