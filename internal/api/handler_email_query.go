package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Skycomm/email-ai-manager/internal/model"
	"github.com/Skycomm/email-ai-manager/internal/repository"
)

type EmailQueryHandler struct {
	engine Engine
	logger *zap.Logger
}

func NewEmailQueryHandler(engine Engine, log *zap.Logger) *EmailQueryHandler {
	return &EmailQueryHandler{engine: engine, logger: log}
}

// ListEmails handles GET /api/emails?state=&category=&sender=&sort=&desc=&limit=&offset=
// state may repeat or be comma separated.
func (h *EmailQueryHandler) ListEmails(c *gin.Context) {
	var f repository.EmailFilter
	for _, v := range c.QueryArray("state") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name == "" {
				continue
			}
			s, err := model.ParseState(name)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			f.States = append(f.States, s)
		}
	}
	f.Category = model.Category(c.Query("category"))
	f.Sender = c.Query("sender")
	f.SortBy = c.Query("sort")
	f.Desc = c.Query("desc") == "true"
	f.Limit, _ = strconv.Atoi(c.Query("limit"))
	f.Offset, _ = strconv.Atoi(c.Query("offset"))

	emails, total, err := h.engine.ListEmails(c.Request.Context(), f)
	if err != nil {
		writeError(c, h.logger, "failed to fetch emails", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"emails": emails,
		"total":  total,
	})
}

// GetEmail handles GET /api/emails/:id
func (h *EmailQueryHandler) GetEmail(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	detail, err := h.engine.GetEmail(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, "failed to fetch email", err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// ListAudit handles GET /api/audit?agent=&action=&email_id=&since=&until=&success=&limit=&offset=
// since and until are RFC 3339.
func (h *EmailQueryHandler) ListAudit(c *gin.Context) {
	f := model.AuditFilter{
		Agent:  c.Query("agent"),
		Action: c.Query("action"),
	}
	var err error
	if v := c.Query("email_id"); v != "" {
		if f.EmailID, err = strconv.ParseInt(v, 10, 64); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid email_id"})
			return
		}
	}
	if f.Since, err = timeQuery(c, "since"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since"})
		return
	}
	if f.Until, err = timeQuery(c, "until"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid until"})
		return
	}
	if v := c.Query("success"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid success"})
			return
		}
		f.Success = &b
	}
	f.Limit, _ = strconv.Atoi(c.Query("limit"))
	f.Offset, _ = strconv.Atoi(c.Query("offset"))

	entries, err := h.engine.ListAudit(c.Request.Context(), f)
	if err != nil {
		writeError(c, h.logger, "failed to fetch audit log", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func timeQuery(c *gin.Context, key string) (time.Time, error) {
	v := c.Query(key)
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}
