package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Skycomm/email-ai-manager/internal/lifecycle"
	"github.com/Skycomm/email-ai-manager/internal/repository"
	"github.com/Skycomm/email-ai-manager/internal/service"
	"github.com/Skycomm/email-ai-manager/pkg/logger"
)

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	var ve *service.ValidationError
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrDuplicate),
		errors.Is(err, lifecycle.ErrConcurrentUpdate),
		errors.Is(err, service.ErrNoDraft):
		return http.StatusConflict
	case service.IsUserError(err):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, log *zap.Logger, msg string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.WithTrace(c.Request.Context(), log).Error(msg, zap.Error(err))
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}
