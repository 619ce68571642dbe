package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/pranavraj012/squatformanalysis/internal/adapters/storage"
	"github.com/pranavraj012/squatformanalysis/internal/core"
	"github.com/pranavraj012/squatformanalysis/internal/domain"
)

// statusFor maps an error kind onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrDeviceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrFileUnreadable),
		errors.Is(err, domain.ErrInvalidMode),
		errors.Is(err, domain.ErrExerciseTooLong),
		errors.Is(err, storage.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, domain.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrCanceled):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	ev := log.Warn()
	if status >= http.StatusInternalServerError {
		ev = log.Error()
	}
	ev.Err(err).Str("module", "adapters.http").Str("sid", c.GetString(clientTokenKey)).Str("path", c.FullPath()).Int("status", status).Msg("request failed")
	c.JSON(status, gin.H{"status": "error", "message": err.Error()})
}

func respondMessage(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"status": "error", "message": msg})
}
