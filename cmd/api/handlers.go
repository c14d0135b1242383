package main

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/therealutkarshpriyadarshi/vision/internal/stream"
	"github.com/therealutkarshpriyadarshi/vision/pkg/models"
)

const (
	defaultListLimit      = 100
	maxListLimit          = 1000
	defaultCleanupMinutes = 30
	archiveURLTTL         = 15 * time.Minute
)

// Health check endpoint
func (api *API) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	for name, check := range api.checks {
		if err := check(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":    "unhealthy",
				"component": name,
				"error":     err.Error(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
	})
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "Invalid stream id")
		return 0, false
	}
	return id, true
}

// createStream registers a new stream
func (api *API) createStream(c *gin.Context) {
	var req models.StreamDescriptor
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	st, err := api.streams.Create(c.Request.Context(), &req)
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, st)
}

func (api *API) getStream(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	st, err := api.streams.Get(c.Request.Context(), id)
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, st)
}

func (api *API) getStreamByStreamID(c *gin.Context) {
	st, err := api.streams.GetByStreamID(c.Request.Context(), c.Param("streamId"))
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, st)
}

// updateStream replaces the descriptive fields; status and telemetry stay
func (api *API) updateStream(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req models.StreamDescriptor
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	st, err := api.streams.Update(c.Request.Context(), id, &req)
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, st)
}

func (api *API) deleteStream(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := api.streams.Delete(c.Request.Context(), id); err != nil {
		api.respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// listStreams supports status (repeatable or comma separated), type,
// device_id, keyword, limit and offset
func (api *API) listStreams(c *gin.Context) {
	f := stream.ListFilter{
		Type:    models.StreamType(c.Query("type")),
		Keyword: strings.TrimSpace(c.Query("keyword")),
		Limit:   defaultListLimit,
	}

	for _, raw := range c.QueryArray("status") {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				f.Statuses = append(f.Statuses, models.StreamStatus(strings.ToUpper(part)))
			}
		}
	}

	if raw := c.Query("device_id"); raw != "" {
		deviceID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			badRequest(c, "Invalid device_id")
			return
		}
		f.DeviceID = &deviceID
	}

	var err error
	if raw := c.Query("limit"); raw != "" {
		if f.Limit, err = strconv.Atoi(raw); err != nil || f.Limit <= 0 {
			badRequest(c, "Invalid limit")
			return
		}
		if f.Limit > maxListLimit {
			f.Limit = maxListLimit
		}
	}
	if raw := c.Query("offset"); raw != "" {
		if f.Offset, err = strconv.Atoi(raw); err != nil {
			badRequest(c, "Invalid offset")
			return
		}
	}

	streams, total, err := api.streams.List(c.Request.Context(), f)
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"streams": streams,
		"total":   total,
		"limit":   f.Limit,
		"offset":  f.Offset,
	})
}

func (api *API) getStatistics(c *gin.Context) {
	stats, err := api.streams.Statistics(c.Request.Context())
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

func minutesQuery(c *gin.Context, def int) (time.Duration, bool) {
	minutes := def
	if raw := c.Query("minutes"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(c, "minutes must be a positive integer")
			return 0, false
		}
		minutes = n
	}
	return time.Duration(minutes) * time.Minute, true
}

// cleanupInactive auto-stops ACTIVE streams idle for longer than ?minutes
func (api *API) cleanupInactive(c *gin.Context) {
	threshold, ok := minutesQuery(c, defaultCleanupMinutes)
	if !ok {
		return
	}

	reaped, err := api.streams.CleanupInactive(c.Request.Context(), threshold)
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"threshold_minutes": int(threshold / time.Minute),
		"count":             len(reaped),
		"streams":           reaped,
	})
}

// reconcileTransient moves streams stuck in STARTING/STOPPING to ERROR
func (api *API) reconcileTransient(c *gin.Context) {
	olderThan, ok := minutesQuery(c, 5)
	if !ok {
		return
	}

	fixed, err := api.streams.ReconcileTransient(c.Request.Context(), olderThan)
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":   len(fixed),
		"streams": fixed,
	})
}

func (api *API) batchUpdateStatus(c *gin.Context) {
	var req struct {
		IDs    []int64             `json:"ids" binding:"required"`
		Status models.StreamStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	results, err := api.streams.BatchUpdateStatus(c.Request.Context(), req.IDs, req.Status)
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (api *API) batchDelete(c *gin.Context) {
	var req struct {
		IDs []int64 `json:"ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{"results": api.streams.BatchDelete(c.Request.Context(), req.IDs)})
}

func (api *API) listArchives(c *gin.Context) {
	if api.archiver == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "Archive storage is not configured"})
		return
	}

	entries, err := api.archiver.ListArchives(c.Request.Context(), c.Param("streamId"), archiveURLTTL)
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"archives": entries})
}

// systemHealth samples registry and queue health on demand
func (api *API) systemHealth(c *gin.Context) {
	if api.monitor == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "Monitoring is not configured"})
		return
	}

	snap, err := api.monitor.Collect(c.Request.Context())
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, snap)
}
