package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/manthanshiroya/alert-bot-project-api-sub003/internal/services"
)

// maxWebhookBody caps the accepted webhook payload size
const maxWebhookBody = 64 << 10

// AlertDispatcher hands persisted alerts to the asynchronous processor
type AlertDispatcher interface {
	Enqueue(id uint) bool
	Retry(ctx context.Context, id uint) error
}

// AlertHandler handles webhook intake and alert queries
type AlertHandler struct {
	alerts     *services.AlertService
	dispatcher AlertDispatcher
	source     string
	logger     zerolog.Logger
}

// NewAlertHandler creates a new alert handler
func NewAlertHandler(alerts *services.AlertService, dispatcher AlertDispatcher, source string) *AlertHandler {
	return &AlertHandler{
		alerts:     alerts,
		dispatcher: dispatcher,
		source:     source,
		logger:     log.With().Str("component", "webhook").Logger(),
	}
}

// HandleWebhook persists an incoming alert and queues it for processing.
// The response reflects persistence only; matching and delivery run later.
func (h *AlertHandler) HandleWebhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Payload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
		return
	}

	alert, err := h.alerts.Ingest(c.Request.Context(), body, h.source)
	if err != nil {
		respondError(c, err)
		return
	}

	queued := h.dispatcher.Enqueue(alert.ID)
	c.JSON(http.StatusOK, gin.H{
		"message":  "Alert received",
		"alert_id": alert.ID,
		"queued":   queued,
	})
}

// GetAlerts lists alerts, newest first
func (h *AlertHandler) GetAlerts(c *gin.Context) {
	page, limit := pagination(c)
	status := c.Query("status")

	alerts, total, err := h.alerts.GetAlerts(c.Request.Context(), page, limit, status)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"alerts": alerts,
		"total":  total,
		"page":   page,
		"limit":  limit,
	})
}

// GetAlert returns an alert with its recipients, trade actions and errors
func (h *AlertHandler) GetAlert(c *gin.Context) {
	id, ok := parseID(c, "alert")
	if !ok {
		return
	}

	detail, err := h.alerts.GetAlertDetail(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, detail)
}

// RetryAlert re-runs processing of a failed alert
func (h *AlertHandler) RetryAlert(c *gin.Context) {
	id, ok := parseID(c, "alert")
	if !ok {
		return
	}

	// Failures after the state guard are recorded on the alert itself.
	if err := h.dispatcher.Retry(c.Request.Context(), id); err != nil {
		if errors.Is(err, services.ErrInvalidState) || errors.Is(err, services.ErrNotFound) {
			respondError(c, err)
			return
		}
		h.logger.Warn().Err(err).Uint("alert_id", id).Msg("alert retry failed")
	}

	alert, err := h.alerts.GetAlert(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	h.logger.Info().Uint("alert_id", id).Str("verifier", c.GetString(VerifierIDKey)).Str("status", string(alert.Status)).Msg("alert retried")
	c.JSON(http.StatusOK, gin.H{"message": "Alert reprocessed", "alert": alert})
}
