package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mr1hm/disaster-response/internal/events"
	"github.com/mr1hm/disaster-response/internal/ingestion"
	"github.com/mr1hm/disaster-response/internal/models"
	"github.com/mr1hm/disaster-response/internal/repository"
)

// SyncRunner runs one sync operation. *ingestion.Syncer implements it.
type SyncRunner interface {
	Sync(ctx context.Context, mode ingestion.Mode) *ingestion.Result
}

type Store interface {
	repository.DisasterRepository
	repository.ResponderRepository
	repository.ReportRepository
	repository.NotificationRepository
	repository.DeviceRepository
}

type Handler struct {
	store     Store
	syncer    SyncRunner
	publisher events.Publisher
}

func NewHandler(store Store, syncer SyncRunner, publisher events.Publisher) *Handler {
	return &Handler{
		store:     store,
		syncer:    syncer,
		publisher: publisher,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.POST("/api/bmkg/sync/:type", h.sync)

	r.GET("/api/disasters", h.getDisasters)
	r.GET("/api/disasters/:id", h.getDisaster)
	r.PATCH("/api/disasters/:id/status", h.updateStatus)
	r.POST("/api/disasters/:id/reports", h.createReport)

	r.POST("/api/devices", h.registerDevice)
	r.GET("/api/users/:id/notifications", h.getNotifications)

	r.GET("/health", h.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// sync answers 200 with success:true or 500 with success:false.
func (h *Handler) sync(c *gin.Context) {
	mode, err := ingestion.ParseMode(c.Param("type"))
	if err != nil {
		c.JSON(http.StatusNotFound, ingestion.Result{Success: false, Message: err.Error()})
		return
	}

	result := h.syncer.Sync(c.Request.Context(), mode)
	status := http.StatusOK
	if !result.Success {
		status = http.StatusInternalServerError
	}
	c.JSON(status, result)
}

func (h *Handler) getDisasters(c *gin.Context) {
	filter := repository.Filter{
		Limit: 20, // Default to 20 disasters if limit param not supplied
	}

	if s := c.Query("status"); s != "" {
		status := models.DisasterStatus(s)
		if !status.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			return
		}
		filter.Status = &status
	}
	if s := c.Query("source"); s != "" {
		source := models.DisasterSource(s)
		filter.Source = &source
	}
	if s := c.Query("category"); s != "" {
		category := models.DisasterCategory(s)
		filter.Category = &category
	}
	if m := c.Query("min_magnitude"); m != "" {
		if mag, err := strconv.ParseFloat(m, 64); err == nil {
			filter.MinMagnitude = &mag
		}
	}
	if s := c.Query("since"); s != "" {
		if t, err := time.Parse("2006-01-02", s); err == nil {
			filter.Since = &t
		}
	}
	if l := c.Query("limit"); l != "" {
		if lim, err := strconv.Atoi(l); err == nil && lim > 0 && lim <= 500 {
			filter.Limit = lim
		}
	}
	if o := c.Query("offset"); o != "" {
		if off, err := strconv.Atoi(o); err == nil && off > 0 {
			filter.Offset = off
		}
	}

	disasters, err := h.store.ListDisasters(c.Request.Context(), filter)
	if err != nil {
		slog.Error("error listing disasters", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to fetch disasters",
		})
		return
	}

	fc := toGeoJSON(disasters)
	c.Header("Content-Type", "application/geo+json")
	c.JSON(http.StatusOK, fc)
}

func (h *Handler) getDisaster(c *gin.Context) {
	d, ok := h.loadDisaster(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, d)
}

type statusRequest struct {
	Status models.DisasterStatus `json:"status" binding:"required"`
	UserID string                `json:"user_id" binding:"required"`
}

func (h *Handler) updateStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.Status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}

	d, ok := h.loadDisaster(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := h.store.UpdateStatus(ctx, d.ID, req.Status); err != nil {
		slog.Error("error updating status", "disaster_id", d.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update status"})
		return
	}
	previous := d.Status
	d.Status = req.Status

	if req.Status == models.DisasterStatusCompleted && previous != models.DisasterStatusCompleted {
		h.publish(ctx, models.Event{
			Type:       models.EventDisasterCompleted,
			DisasterID: d.ID,
			ActorID:    req.UserID,
			Title:      "Disaster completed",
			Message:    fmt.Sprintf("%s has been marked as completed.", d.Title),
			OccurredAt: time.Now().UTC(),
		})
	}

	c.JSON(http.StatusOK, d)
}

type reportRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
}

func (h *Handler) createReport(c *gin.Context) {
	var req reportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	d, ok := h.loadDisaster(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	report := &models.Report{
		DisasterID:  d.ID,
		UserID:      req.UserID,
		Title:       req.Title,
		Description: req.Description,
	}
	if err := h.store.AddReport(ctx, report); err != nil {
		slog.Error("error adding report", "disaster_id", d.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create report"})
		return
	}

	// Reporters join the response so they hear about later updates.
	if err := h.store.AssignResponder(ctx, d.ID, req.UserID); err != nil {
		slog.Warn("error assigning reporter", "disaster_id", d.ID, "user_id", req.UserID, "error", err)
	}

	h.publish(ctx, models.Event{
		Type:       models.EventReportCreated,
		DisasterID: d.ID,
		ActorID:    req.UserID,
		Title:      fmt.Sprintf("New report: %s", req.Title),
		Message:    fmt.Sprintf("A new report was filed for %s.", d.Title),
		OccurredAt: report.CreatedAt,
	})

	c.JSON(http.StatusCreated, report)
}

type deviceRequest struct {
	UserID   string `json:"user_id" binding:"required"`
	Token    string `json:"token" binding:"required"`
	Platform string `json:"platform"`
}

func (h *Handler) registerDevice(c *gin.Context) {
	var req deviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	d := &models.Device{Token: req.Token, UserID: req.UserID, Platform: req.Platform}
	if err := h.store.RegisterDevice(c.Request.Context(), d); err != nil {
		slog.Error("error registering device", "user_id", req.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register device"})
		return
	}
	c.JSON(http.StatusCreated, d)
}

func (h *Handler) getNotifications(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	ns, err := h.store.ListNotifications(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		slog.Error("error listing notifications", "user_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch notifications"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": ns})
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// loadDisaster writes the error response itself when it returns false.
func (h *Handler) loadDisaster(c *gin.Context) (*models.Disaster, bool) {
	d, err := h.store.GetByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "disaster not found"})
		return nil, false
	}
	if err != nil {
		slog.Error("error loading disaster", "id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch disaster"})
		return nil, false
	}
	return d, true
}

// publish runs after the write has committed; failures never reach the client.
func (h *Handler) publish(ctx context.Context, e models.Event) {
	if h.publisher == nil {
		return
	}
	if err := h.publisher.Publish(ctx, e); err != nil {
		slog.Warn("error publishing event", "type", e.Type, "disaster_id", e.DisasterID, "error", err)
	}
}
