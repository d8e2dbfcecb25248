package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// TestMailer sends the SMTP verification email.
type TestMailer interface {
	Enabled() bool
	SendTest(ctx context.Context) error
}

type EmailHandler struct {
	mailer TestMailer
	logger *zap.Logger
}

func NewEmailHandler(mailer TestMailer, logger *zap.Logger) *EmailHandler {
	return &EmailHandler{mailer: mailer, logger: logger}
}

// Test sends a test email.
// POST /api/email/test
func (h *EmailHandler) Test(c echo.Context) error {
	if !h.mailer.Enabled() {
		return errorResponse(c, http.StatusBadRequest, "SMTP not configured")
	}
	if err := h.mailer.SendTest(c.Request().Context()); err != nil {
		return errorResponse(c, http.StatusInternalServerError, "Failed to send test email: "+err.Error())
	}
	return successResponse(c, "Test email sent successfully", map[string]bool{"success": true})
}
