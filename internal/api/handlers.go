package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jonesrussell/blog-scheduler/internal/domain"
	"github.com/jonesrussell/blog-scheduler/internal/logger"
	"github.com/jonesrussell/blog-scheduler/internal/service"
)

// SchedulingService is the service surface the handlers call.
type SchedulingService interface {
	Schedule(ctx context.Context, req service.ScheduleRequest) (*domain.ScheduledPost, error)
	Reschedule(ctx context.Context, id uuid.UUID, localDate, localTime, zone string) (*domain.ScheduledPost, error)
	PublishNow(ctx context.Context, id uuid.UUID) (*domain.ScheduledPost, error)
	Cancel(ctx context.Context, id uuid.UUID) (*domain.ScheduledPost, error)
	Get(ctx context.Context, id uuid.UUID) (*service.PostView, error)
	List(ctx context.Context, storeID string) ([]service.PostView, error)
	Stats(ctx context.Context, storeID string) (*domain.StoreStats, error)
}

// Handlers provides HTTP handlers for the scheduling API.
type Handlers struct {
	svc    SchedulingService
	logger logger.Logger
}

// NewHandlers creates a new handlers instance.
func NewHandlers(svc SchedulingService, log logger.Logger) *Handlers {
	return &Handlers{svc: svc, logger: log}
}

type createPostRequest struct {
	StoreID  string   `json:"store_id" binding:"required"`
	BlogID   string   `json:"blog_id" binding:"required"`
	Title    string   `json:"title" binding:"required"`
	Body     string   `json:"body" binding:"required"`
	Tags     []string `json:"tags"`
	Date     string   `json:"date" binding:"required"`
	Time     string   `json:"time" binding:"required"`
	Timezone string   `json:"timezone" binding:"required"`
}

type rescheduleRequest struct {
	Date     string `json:"date" binding:"required"`
	Time     string `json:"time" binding:"required"`
	Timezone string `json:"timezone" binding:"required"`
}

// CreatePost handles POST /api/v1/posts
func (h *Handlers) CreatePost(c *gin.Context) {
	var req createPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	post, err := h.svc.Schedule(c.Request.Context(), service.ScheduleRequest{
		StoreID:   req.StoreID,
		BlogID:    req.BlogID,
		Title:     req.Title,
		Body:      req.Body,
		Tags:      req.Tags,
		LocalDate: req.Date,
		LocalTime: req.Time,
		Timezone:  req.Timezone,
	})
	if err != nil {
		h.handleServiceError(c, err, "schedule post")
		return
	}

	c.JSON(http.StatusCreated, post)
}

// GetPost handles GET /api/v1/posts/:id
func (h *Handlers) GetPost(c *gin.Context) {
	id, ok := parseUUID(c, "id", "post")
	if !ok {
		return
	}

	view, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		h.handleServiceError(c, err, "get post")
		return
	}
	c.JSON(http.StatusOK, view)
}

// ReschedulePost handles POST /api/v1/posts/:id/reschedule
func (h *Handlers) ReschedulePost(c *gin.Context) {
	id, ok := parseUUID(c, "id", "post")
	if !ok {
		return
	}

	var req rescheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	post, err := h.svc.Reschedule(c.Request.Context(), id, req.Date, req.Time, req.Timezone)
	if err != nil {
		h.handleServiceError(c, err, "reschedule post")
		return
	}
	c.JSON(http.StatusOK, post)
}

// PublishPost handles POST /api/v1/posts/:id/publish
func (h *Handlers) PublishPost(c *gin.Context) {
	id, ok := parseUUID(c, "id", "post")
	if !ok {
		return
	}

	post, err := h.svc.PublishNow(c.Request.Context(), id)
	if err != nil {
		h.handleServiceError(c, err, "publish post")
		return
	}
	c.JSON(http.StatusOK, post)
}

// CancelPost handles POST /api/v1/posts/:id/cancel
func (h *Handlers) CancelPost(c *gin.Context) {
	id, ok := parseUUID(c, "id", "post")
	if !ok {
		return
	}

	post, err := h.svc.Cancel(c.Request.Context(), id)
	if err != nil {
		h.handleServiceError(c, err, "cancel post")
		return
	}
	c.JSON(http.StatusOK, post)
}

// ListStorePosts handles GET /api/v1/stores/:storeID/posts
func (h *Handlers) ListStorePosts(c *gin.Context) {
	storeID := c.Param("storeID")

	views, err := h.svc.List(c.Request.Context(), storeID)
	if err != nil {
		h.handleServiceError(c, err, "list posts")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"posts": views,
		"count": len(views),
	})
}

// GetStoreStats handles GET /api/v1/stores/:storeID/stats
func (h *Handlers) GetStoreStats(c *gin.Context) {
	storeID := c.Param("storeID")

	stats, err := h.svc.Stats(c.Request.Context(), storeID)
	if err != nil {
		h.handleServiceError(c, err, "get stats")
		return
	}
	c.JSON(http.StatusOK, stats)
}
