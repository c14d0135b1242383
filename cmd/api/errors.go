package main

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/therealutkarshpriyadarshi/vision/internal/stream"
)

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, stream.ErrNotFound), errors.Is(err, stream.ErrDeviceNotFound):
		return http.StatusNotFound
	case errors.Is(err, stream.ErrDuplicateStreamID),
		errors.Is(err, stream.ErrAlreadyActive),
		errors.Is(err, stream.ErrAlreadyInactive),
		errors.Is(err, stream.ErrStatusConflict):
		return http.StatusConflict
	case errors.Is(err, stream.ErrInvalidStream), errors.Is(err, stream.ErrInvalidStatus):
		return http.StatusBadRequest
	case errors.Is(err, stream.ErrActuatorTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, stream.ErrStartFailed), errors.Is(err, stream.ErrStopFailed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (api *API) respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		api.log.WithField("path", c.FullPath()).ErrorWithErr("Request failed", err)
		c.Error(err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": message})
}
