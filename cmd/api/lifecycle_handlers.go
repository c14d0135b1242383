package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/therealutkarshpriyadarshi/vision/internal/stream"
	"github.com/therealutkarshpriyadarshi/vision/pkg/models"
)

type lifecycleFunc func(ctx context.Context, id int64) (*models.Stream, error)

func (api *API) lifecycle(c *gin.Context, op lifecycleFunc) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	st, err := op(c.Request.Context(), id)
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, st)
}

func (api *API) startStream(c *gin.Context) {
	api.lifecycle(c, api.streams.Start)
}

func (api *API) stopStream(c *gin.Context) {
	api.lifecycle(c, api.streams.Stop)
}

func (api *API) restartStream(c *gin.Context) {
	api.lifecycle(c, api.streams.Restart)
}

// updateStatus is the administrative override; it never calls the engine
func (api *API) updateStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	status := models.StreamStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	st, err := api.streams.UpdateStatus(c.Request.Context(), c.Param("streamId"), status)
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, st)
}

// Viewer and metrics updates for an unknown stream id are accepted and ignored

func (api *API) incrementViewers(c *gin.Context) {
	if err := api.streams.IncrementViewerCount(c.Request.Context(), c.Param("streamId")); err != nil {
		api.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (api *API) decrementViewers(c *gin.Context) {
	if err := api.streams.DecrementViewerCount(c.Request.Context(), c.Param("streamId")); err != nil {
		api.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (api *API) updateMetrics(c *gin.Context) {
	var req stream.Metrics
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	if err := api.streams.UpdateMetrics(c.Request.Context(), c.Param("streamId"), req); err != nil {
		api.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (api *API) recordError(c *gin.Context) {
	var req struct {
		Message string `json:"message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, err.Error())
		return
	}

	st, err := api.streams.RecordError(c.Request.Context(), c.Param("streamId"), req.Message)
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, st)
}

func (api *API) clearError(c *gin.Context) {
	st, err := api.streams.ClearError(c.Request.Context(), c.Param("streamId"))
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, st)
}
