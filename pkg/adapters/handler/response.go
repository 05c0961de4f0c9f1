package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/wadjakorntonsri/go-shortlink/pkg/core/domain"
	"github.com/wadjakorntonsri/go-shortlink/pkg/logger"
)

const msgInternal = "Something went wrong, please try again later"

// ErrorResponse is the JSON body of every API error.
type ErrorResponse struct {
	StatusCode  int                 `json:"statusCode"`
	Message     string              `json:"message"`
	Errors      []domain.FieldError `json:"errors,omitempty"`
	Description string              `json:"description,omitempty"`
}

func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation, domain.KindBadRequest:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case domain.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorResponse renders e without its cause; internal details stay in the log.
func errorResponse(e *domain.Error) ErrorResponse {
	status := statusFor(e.Kind)
	resp := ErrorResponse{
		StatusCode:  status,
		Message:     e.Message,
		Errors:      e.Fields,
		Description: e.Description,
	}
	if status >= http.StatusInternalServerError {
		resp.Message = e.Kind.String()
		resp.Description = msgInternal
		resp.Errors = nil
	}
	return resp
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := domain.AsError(err)
	resp := errorResponse(e)
	if resp.StatusCode >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed", zap.Error(err))
	}
	writeJSON(w, resp.StatusCode, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
