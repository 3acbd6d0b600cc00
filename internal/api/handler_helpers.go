package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jonesrussell/blog-scheduler/internal/domain"
	"github.com/jonesrussell/blog-scheduler/internal/logger"
	"github.com/jonesrussell/blog-scheduler/internal/platform"
)

// parseUUID parses a UUID from a gin.Context parameter
func parseUUID(c *gin.Context, paramName, entityType string) (uuid.UUID, bool) {
	idParam := c.Param(paramName)
	id, err := uuid.Parse(idParam)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid " + entityType + " ID format",
		})
		return uuid.Nil, false
	}
	return id, true
}

// handleServiceError maps domain and platform errors onto HTTP statuses.
func (h *Handlers) handleServiceError(c *gin.Context, err error, operation string) {
	switch {
	case errors.Is(err, domain.ErrInvalidTimezone),
		errors.Is(err, domain.ErrScheduleInPast),
		errors.Is(err, domain.ErrInvalidPost):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})

	case errors.Is(err, domain.ErrDuplicateDetected),
		errors.Is(err, domain.ErrAlreadyPublished),
		errors.Is(err, domain.ErrNotReschedulable),
		errors.Is(err, domain.ErrNotCancelable),
		errors.Is(err, domain.ErrNotPublishable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})

	case errors.Is(err, platform.ErrUnavailable),
		errors.Is(err, platform.ErrRejected):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})

	default:
		h.logger.Error("request failed",
			logger.String("operation", operation),
			logger.String("path", c.Request.URL.Path),
			logger.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to " + operation,
		})
	}
}
