package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/ternarybob/easel/internal/models"
)

var validate = validator.New()

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a standard success JSON response.
func WriteSuccess(w http.ResponseWriter, message string) error {
	return WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": message,
	})
}

// WriteError writes a standard error JSON response.
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]string{
		"status": "error",
		"error":  message,
	})
}

// WriteServiceError maps a service error to its HTTP status via the error
// kind and writes the standard error body with the kind alongside.
func WriteServiceError(w http.ResponseWriter, err error) error {
	kind := models.KindOf(err)
	return WriteJSON(w, kind.HTTPStatus(), map[string]string{
		"status": "error",
		"kind":   string(kind),
		"error":  err.Error(),
	})
}

// DecodeAndValidate decodes the request body into v and runs struct
// validation. Failures are reported as MissingParameter.
func DecodeAndValidate(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return models.WrapError(models.ErrMissingParameter, "invalid request body", err)
	}
	if err := validate.Struct(v); err != nil {
		return models.WrapError(models.ErrMissingParameter, "request validation failed", err)
	}
	return nil
}
