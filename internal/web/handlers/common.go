package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/rollcall-io/rollcall/internal/attendance"
	"github.com/rollcall-io/rollcall/internal/database"
	"github.com/rollcall-io/rollcall/internal/embedding"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// maxUploadSize caps multipart photo uploads at 20 MB.
const maxUploadSize = 20 << 20

// validate checks request struct tags. A single instance caches struct
// metadata across requests.
var validate = validator.New()

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondStoreError maps service and storage errors onto HTTP statuses.
// Unknown errors become an opaque 500 so internals never leak to clients.
func respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound),
		errors.Is(err, attendance.ErrTaskNotFound),
		errors.Is(err, attendance.ErrGroupNotFound),
		errors.Is(err, attendance.ErrNoTargetGroups):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, database.ErrDuplicateRecord),
		errors.Is(err, attendance.ErrTaskClosed),
		errors.Is(err, database.ErrAllocationExhausted):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, attendance.ErrInvalidInput),
		errors.Is(err, embedding.ErrNoFaceDetected):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}

// respondValidationError reports the first failing field of a validated
// request struct.
func respondValidationError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		field := strings.ToLower(verrs[0].Field())
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid field: %s", field))
		return
	}
	respondError(w, http.StatusBadRequest, errInvalidRequestBody)
}

// decodeAndValidate parses a JSON request body into target and runs its
// validation tags. Responds with a 400 and returns false on failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return false
	}
	if err := validate.Struct(target); err != nil {
		respondValidationError(w, err)
		return false
	}
	return true
}

// readImageFile reads the named multipart file field into memory. Responds
// with a 400 and returns nil when the field is missing or unreadable.
func readImageFile(w http.ResponseWriter, r *http.Request, field string) []byte {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return nil
	}

	file, _, err := r.FormFile(field)
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("%s file is required", field))
		return nil
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("failed to read %s file", field))
		return nil
	}
	if len(data) == 0 {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("%s file is empty", field))
		return nil
	}
	return data
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
