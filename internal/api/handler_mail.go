package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Skycomm/email-ai-manager/internal/model"
	"github.com/Skycomm/email-ai-manager/internal/service"
)

// MailHandler drives commands and per-email actions.
type MailHandler struct {
	engine  Engine
	channel string
	logger  *zap.Logger
}

func NewMailHandler(engine Engine, channel string, log *zap.Logger) *MailHandler {
	return &MailHandler{engine: engine, channel: channel, logger: log}
}

// SubmitCommand handles POST /api/commands. Commands that parse but cannot
// apply come back as 422 with the reply text.
func (h *MailHandler) SubmitCommand(c *gin.Context) {
	var req struct {
		Channel string `json:"channel"`
		Text    string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if req.Channel == "" {
		req.Channel = h.channel
	}

	res, err := h.engine.SubmitCommand(c.Request.Context(), req.Channel, c.GetString(ctxUsername), req.Text)
	if err != nil && service.IsUserError(err) {
		c.JSON(http.StatusUnprocessableEntity, res)
		return
	}
	if err != nil {
		if res != nil {
			h.logger.Warn("Command failed", zap.String("kind", res.Kind), zap.Int64("email_id", res.EmailID), zap.Error(err))
			c.JSON(statusFor(err), res)
			return
		}
		writeError(c, h.logger, "failed to submit command", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Retry handles POST /api/emails/:id/retry
func (h *MailHandler) Retry(c *gin.Context) {
	h.apply(c, "failed to retry email", h.engine.Retry)
}

// MarkNotSpam handles POST /api/emails/:id/not-spam
func (h *MailHandler) MarkNotSpam(c *gin.Context) {
	h.apply(c, "failed to mark email not spam", h.engine.MarkNotSpam)
}

// Acknowledge handles POST /api/emails/:id/acknowledge
func (h *MailHandler) Acknowledge(c *gin.Context) {
	h.apply(c, "failed to acknowledge email", h.engine.Acknowledge)
}

// SetFollowUp handles POST /api/emails/:id/followup. A missing at clears
// the follow-up.
func (h *MailHandler) SetFollowUp(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req struct {
		At   *time.Time `json:"at"`
		Note string     `json:"note"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	em, err := h.engine.SetFollowUp(c.Request.Context(), id, req.At, req.Note)
	if err != nil {
		writeError(c, h.logger, "failed to set follow-up", err)
		return
	}
	c.JSON(http.StatusOK, em)
}

func (h *MailHandler) apply(c *gin.Context, msg string, fn func(ctx context.Context, id int64) (*model.Email, error)) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	em, err := fn(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, msg, err)
		return
	}
	c.JSON(http.StatusOK, em)
}
