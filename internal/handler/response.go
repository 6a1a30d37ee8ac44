package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/service"
)

// OwnerHeader carries the id of the user a request acts for
const OwnerHeader = "X-User-ID"

// ErrorResponse represents the standard error response structure
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error code and message
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return nil
	}

	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Error("failed to encode JSON response", zap.Error(err))
		return err
	}

	return nil
}

// WriteError writes a structured JSON error response
func WriteError(w http.ResponseWriter, status int, code, message string) {
	_ = WriteJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// WriteAccepted writes a 202 Accepted response with the given data
func WriteAccepted(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusAccepted, data)
}

// WriteOK writes a 200 OK response with the given data
func WriteOK(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteValidationError writes a 400 Bad Request response with VALIDATION_ERROR code
func WriteValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", message)
}

// WriteNotFoundError writes a 404 Not Found response with RESOURCE_NOT_FOUND code
func WriteNotFoundError(w http.ResponseWriter, resource, id string) {
	message := fmt.Sprintf("%s with ID %s not found", resource, id)
	WriteError(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", message)
}

// WriteUnavailableError writes a 503 Service Unavailable response
func WriteUnavailableError(w http.ResponseWriter, dependency string) {
	WriteError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", dependency+" is unavailable, retry later")
}

// WriteInternalError writes a 500 Internal Server Error response with INTERNAL_ERROR code.
// Internal details are not exposed to the client.
func WriteInternalError(w http.ResponseWriter) {
	WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
}

// HandleServiceError maps service layer errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error) {
	var (
		notFound    *service.NotFoundError
		validation  *service.ValidationError
		unavailable *service.UnavailableError
	)

	switch {
	case errors.As(err, &notFound):
		WriteNotFoundError(w, notFound.Resource, notFound.ID)
	case errors.As(err, &validation):
		WriteValidationError(w, validation.Message)
	case errors.As(err, &unavailable):
		zap.L().Warn("dependency unavailable", zap.String("dependency", unavailable.Dependency), zap.Error(unavailable.Err))
		WriteUnavailableError(w, unavailable.Dependency)
	default:
		zap.L().Error("unhandled service error", zap.Error(err))
		WriteInternalError(w)
	}
}

// ownerID reads the acting user from the X-User-ID header and writes a 400
// response when it is missing or malformed
func ownerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := r.Header.Get(OwnerHeader)
	if raw == "" {
		WriteValidationError(w, "missing "+OwnerHeader+" header")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		WriteValidationError(w, "invalid "+OwnerHeader+" header")
		return uuid.Nil, false
	}
	return id, true
}

// decodeJSON decodes the request body into v and writes a 400 response on failure
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			WriteError(w, http.StatusBadRequest, "INVALID_JSON", "Request body is empty")
			return false
		}
		WriteError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON format")
		return false
	}
	return true
}
