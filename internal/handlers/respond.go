package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/gitshopapp/checkout/internal/logging"
	"github.com/gitshopapp/checkout/internal/services"
)

const (
	maxRequestBodyBytes = 64 << 10

	codeUnauthorized = "UNAUTHORIZED"
	codeRateLimited  = "RATE_LIMITED"
	codeInternal     = "INTERNAL_ERROR"
)

type successEnvelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Success bool        `json:"success"`
	Error   errorDetail `json:"error"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.FromContext(r.Context(), nil).Error("failed to encode response", "error", err)
	}
}

func writeData(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeJSON(w, r, status, successEnvelope{Success: true, Data: data})
}

func writeErrorCode(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, r, status, errorEnvelope{Error: errorDetail{Code: code, Message: message}})
}

// writeError renders a service error. Unexpected errors are logged and
// reported as a generic 500.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := statusForError(err)
	if status >= http.StatusInternalServerError {
		h.loggerFromContext(r.Context()).Error("request failed", "error", err, "code", code)
	} else {
		h.loggerFromContext(r.Context()).Info("request rejected", "error", err, "code", code)
	}
	writeErrorCode(w, r, status, code, message)
}

func statusForError(err error) (int, string, string) {
	serviceErr, ok := services.AsError(err)
	if !ok {
		return http.StatusInternalServerError, codeInternal, "Internal server error"
	}

	status := http.StatusInternalServerError
	switch serviceErr.Kind {
	case services.KindValidation, services.KindProductInactive, services.KindInsufficientStock, services.KindInvalidState:
		status = http.StatusBadRequest
	case services.KindConflict:
		status = http.StatusBadRequest
		if serviceErr.Code == services.CodePaymentInProgress {
			status = http.StatusConflict
		}
	case services.KindNotFound:
		status = http.StatusNotFound
	case services.KindPaymentGateway:
		status = http.StatusBadGateway
	case services.KindSecurity:
		status = http.StatusUnauthorized
	case services.KindForbidden:
		status = http.StatusForbidden
	}

	message := serviceErr.Message
	if message == "" {
		message = http.StatusText(status)
	}
	return status, serviceErr.Code, message
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("request body exceeds %d bytes", maxErr.Limit)
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	raw := mux.Vars(r)[name]
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("invalid %s %q", name, raw)
	}
	return id, nil
}
