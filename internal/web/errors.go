package web

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tgcalendar/internal/calendarkit"
	"github.com/tyemirov/tgcalendar/internal/store"
	"go.uber.org/zap"
)

const internalErrorCode = "calendar.internal_error"

type errorStatus struct {
	sentinel error
	status   int
}

// errorStatuses is ordered: the first matching sentinel decides the response.
var errorStatuses = []errorStatus{
	{sentinel: calendarkit.ErrUserNotFound, status: http.StatusNotFound},
	{sentinel: calendarkit.ErrEventNotFound, status: http.StatusNotFound},
	{sentinel: calendarkit.ErrNoCredentials, status: http.StatusUnauthorized},
	{sentinel: calendarkit.ErrReauthorizationRequired, status: http.StatusUnauthorized},
	{sentinel: calendarkit.ErrInvalidState, status: http.StatusBadRequest},
	{sentinel: calendarkit.ErrValidation, status: http.StatusBadRequest},
	{sentinel: store.ErrDuplicate, status: http.StatusConflict},
	{sentinel: calendarkit.ErrUpstreamTimeout, status: http.StatusRequestTimeout},
	{sentinel: calendarkit.ErrCredentialRefresh, status: http.StatusServiceUnavailable},
	{sentinel: calendarkit.ErrUpstream, status: http.StatusBadGateway},
}

// StatusFor maps a service error to its HTTP status and error code.
func StatusFor(err error) (int, string) {
	for _, candidate := range errorStatuses {
		if errors.Is(err, candidate.sentinel) {
			return candidate.status, candidate.sentinel.Error()
		}
	}
	return http.StatusInternalServerError, internalErrorCode
}

func respondError(contextGin *gin.Context, logger *zap.Logger, err error) {
	status, code := StatusFor(err)
	fields := []zap.Field{
		zap.String("code", code),
		zap.String("path", contextGin.FullPath()),
		zap.String("request_id", contextGin.GetString(requestIDKey)),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", fields...)
	} else {
		logger.Debug("request rejected", fields...)
	}
	contextGin.AbortWithStatusJSON(status, gin.H{"error": code})
}
