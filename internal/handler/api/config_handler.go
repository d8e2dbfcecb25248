package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"ltvsync/internal/ghl"
	"ltvsync/internal/models"
	"ltvsync/internal/repository"
)

// Settings are environment-level values echoed back with the configuration.
type Settings struct {
	MetaAdAccountID string
	GHLLocationName string
	SMTPFrom        string
	SMTPTo          string
}

// FieldLister lists CRM custom fields.
type FieldLister interface {
	FetchFieldMetadata(ctx context.Context) ([]ghl.Field, error)
}

// ConfigHandler reads and updates the sync configuration.
type ConfigHandler struct {
	configs  *repository.SyncConfigRepository
	fields   FieldLister
	settings Settings
	logger   *zap.Logger
}

func NewConfigHandler(configs *repository.SyncConfigRepository, fields FieldLister, settings Settings, logger *zap.Logger) *ConfigHandler {
	return &ConfigHandler{configs: configs, fields: fields, settings: settings, logger: logger}
}

func (h *ConfigHandler) response(cfg *models.SyncConfig) models.ConfigResponse {
	return models.ConfigResponse{
		Config:          cfg,
		MetaAdAccountID: h.settings.MetaAdAccountID,
		GHLLocationName: h.settings.GHLLocationName,
		SMTPFrom:        h.settings.SMTPFrom,
		SMTPTo:          h.settings.SMTPTo,
	}
}

// Get returns the active configuration, or a null config when none is saved.
// GET /api/config
func (h *ConfigHandler) Get(c echo.Context) error {
	cfg, err := h.configs.Latest()
	if err != nil {
		h.logger.Error("Failed to load config", zap.Error(err))
		return errorResponse(c, http.StatusInternalServerError, "Failed to load configuration")
	}
	return successResponse(c, "Successful", h.response(cfg))
}

// Save updates the LTV field of the active configuration. The ad account
// always comes from the environment.
// POST /api/config
func (h *ConfigHandler) Save(c echo.Context) error {
	var req models.ConfigRequest
	if msg, ok := bindAndValidate(c, &req); !ok {
		return errorResponse(c, http.StatusBadRequest, msg)
	}

	cfg, err := h.configs.Save(req.GHLLTVFieldKey, req.GHLLTVFieldName, h.settings.MetaAdAccountID)
	if err != nil {
		h.logger.Error("Failed to save config", zap.Error(err))
		return errorResponse(c, http.StatusInternalServerError, "Failed to save configuration")
	}
	if req.SyncEnabled != nil && *req.SyncEnabled != cfg.SyncEnabled {
		if err := h.configs.SetEnabled(cfg.ID, *req.SyncEnabled); err != nil {
			h.logger.Error("Failed to update sync_enabled", zap.Error(err))
			return errorResponse(c, http.StatusInternalServerError, "Failed to save configuration")
		}
		cfg.SyncEnabled = *req.SyncEnabled
	}

	h.logger.Info("Sync configuration saved",
		zap.Uint("config_id", cfg.ID),
		zap.String("ltv_field", cfg.GHLLTVFieldKey))
	return successResponse(c, "Configuration saved", h.response(cfg))
}

// CustomFields passes the CRM's custom field list through.
// GET /api/custom-fields
func (h *ConfigHandler) CustomFields(c echo.Context) error {
	fields, err := h.fields.FetchFieldMetadata(c.Request().Context())
	if err != nil {
		h.logger.Error("Failed to fetch custom fields", zap.Error(err))
		return errorResponse(c, http.StatusBadGateway, "GHL API error: "+err.Error())
	}
	return successResponse(c, "Successful", map[string]interface{}{"customFields": fields})
}
