// Package httpserver contains HTTP handlers and middleware.
//
// It exposes the asynchronous submission, polling and streaming endpoints
// plus the synchronous custom-fitness endpoint, keeping a clear separation
// between HTTP concerns and the job pipeline.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kThendral/OptimizeHub-sub000/internal/domain"
)

// errorEnvelope is the uniform non-2xx payload:
// {"detail": {"error": ..., "error_type": ..., "message": ...}}.
type errorEnvelope struct {
	Detail errorDetail `json:"detail"`
}

type errorDetail struct {
	Error     string `json:"error"`
	ErrorType string `json:"error_type"`
	Message   string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorKind(w http.ResponseWriter, status int, kind domain.ErrorKind, msg string) {
	writeJSON(w, status, errorEnvelope{Detail: errorDetail{
		Error:     http.StatusText(status),
		ErrorType: string(kind),
		Message:   msg,
	}})
}

// writeError maps domain sentinels and job-error kinds onto HTTP statuses.
func writeError(w http.ResponseWriter, _ *http.Request, err error) {
	var je *domain.JobError
	if errors.As(err, &je) {
		writeErrorKind(w, statusForKind(je.Kind), je.Kind, je.Message)
		return
	}
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		writeErrorKind(w, http.StatusBadRequest, domain.KindValidation, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeErrorKind(w, http.StatusNotFound, domain.KindUnknownJob, err.Error())
	case errors.Is(err, domain.ErrConflict):
		writeErrorKind(w, http.StatusConflict, domain.KindValidation, err.Error())
	case errors.Is(err, domain.ErrQueueFull):
		// Over-capacity submissions are boundary rejections; the resource
		// kind is reserved for sandbox memory and CPU ceilings.
		writeErrorKind(w, http.StatusServiceUnavailable, domain.KindValidation, err.Error())
	default:
		writeErrorKind(w, http.StatusInternalServerError, domain.KindRuntime, err.Error())
	}
}

func statusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindUnknownJob:
		return http.StatusNotFound
	case domain.KindTimeout:
		return http.StatusGatewayTimeout
	case domain.KindResource:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
