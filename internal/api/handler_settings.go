package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Skycomm/email-ai-manager/internal/model"
)

// SettingsHandler manages spam rules and the VIP and muted sender lists.
type SettingsHandler struct {
	engine Engine
	logger *zap.Logger
}

func NewSettingsHandler(engine Engine, log *zap.Logger) *SettingsHandler {
	return &SettingsHandler{engine: engine, logger: log}
}

type spamRuleRequest struct {
	RuleType   model.RuleType   `json:"rule_type" binding:"required"`
	Pattern    string           `json:"pattern" binding:"required"`
	Action     model.RuleAction `json:"action"`
	Confidence int              `json:"confidence"`
	Active     *bool            `json:"active"`
}

func (h *SettingsHandler) ListSpamRules(c *gin.Context) {
	rules, err := h.engine.ListSpamRules(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, "failed to fetch spam rules", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules})
}

func (h *SettingsHandler) GetSpamRule(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	rule, err := h.engine.GetSpamRule(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, "failed to fetch spam rule", err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (h *SettingsHandler) CreateSpamRule(c *gin.Context) {
	var req spamRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	rule := &model.SpamRule{
		RuleType:   req.RuleType,
		Pattern:    req.Pattern,
		Action:     req.Action,
		Confidence: req.Confidence,
	}
	if err := h.engine.CreateSpamRule(c.Request.Context(), rule); err != nil {
		writeError(c, h.logger, "failed to create spam rule", err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

// UpdateSpamRule handles PUT /api/spam-rules/:id. Omitted active keeps the
// stored value.
func (h *SettingsHandler) UpdateSpamRule(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req spamRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	ctx := c.Request.Context()
	rule, err := h.engine.GetSpamRule(ctx, id)
	if err != nil {
		writeError(c, h.logger, "failed to fetch spam rule", err)
		return
	}
	rule.RuleType = req.RuleType
	rule.Pattern = req.Pattern
	rule.Action = req.Action
	rule.Confidence = req.Confidence
	if req.Active != nil {
		rule.Active = *req.Active
	}
	if err := h.engine.UpdateSpamRule(ctx, rule); err != nil {
		writeError(c, h.logger, "failed to update spam rule", err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (h *SettingsHandler) DeleteSpamRule(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := h.engine.DeleteSpamRule(c.Request.Context(), id); err != nil {
		writeError(c, h.logger, "failed to delete spam rule", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *SettingsHandler) ListVIPSenders(c *gin.Context) {
	vips, err := h.engine.ListVIPSenders(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, "failed to fetch vip senders", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"senders": vips})
}

func (h *SettingsHandler) AddVIPSender(c *gin.Context) {
	var req struct {
		Pattern string `json:"pattern" binding:"required"`
		Note    string `json:"note"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	v := &model.VipSender{Pattern: req.Pattern, Note: req.Note}
	if err := h.engine.AddVIPSender(c.Request.Context(), v); err != nil {
		writeError(c, h.logger, "failed to add vip sender", err)
		return
	}
	c.JSON(http.StatusCreated, v)
}

func (h *SettingsHandler) DeleteVIPSender(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := h.engine.DeleteVIPSender(c.Request.Context(), id); err != nil {
		writeError(c, h.logger, "failed to delete vip sender", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *SettingsHandler) ListMutedSenders(c *gin.Context) {
	muted, err := h.engine.ListMutedSenders(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, "failed to fetch muted senders", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"senders": muted})
}

func (h *SettingsHandler) AddMutedSender(c *gin.Context) {
	var req struct {
		Pattern string `json:"pattern" binding:"required"`
		Reason  string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	m := &model.MutedSender{Pattern: req.Pattern, Reason: req.Reason}
	if err := h.engine.AddMutedSender(c.Request.Context(), m); err != nil {
		writeError(c, h.logger, "failed to add muted sender", err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

func (h *SettingsHandler) DeleteMutedSender(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := h.engine.DeleteMutedSender(c.Request.Context(), id); err != nil {
		writeError(c, h.logger, "failed to delete muted sender", err)
		return
	}
	c.Status(http.StatusNoContent)
}
