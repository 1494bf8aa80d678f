// Package httputil provides HTTP handler utilities for consistent error handling,
// JSON encoding/decoding, and request parsing.
package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/platinummonkey/passportd/pkg/apperr"
)

// ErrorResponse is the body of every error response. Error carries the
// machine-readable kind.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// Page is the envelope for paginated list responses
type Page[T any] struct {
	Items    []T `json:"items"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// NewPage builds a Page, never encoding a nil slice as null
func NewPage[T any](items []T, total int, p Pagination) Page[T] {
	if items == nil {
		items = []T{}
	}
	return Page[T]{Items: items, Total: total, Page: p.Page, PageSize: p.PageSize}
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteAppError maps err to its kind's status code and writes a structured body.
// Internal errors are reported without their cause.
func WriteAppError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	if kind == "" {
		kind = apperr.KindInternal
	}
	WriteErrorMessage(w, kind.HTTPStatus(), kind, apperr.MessageOf(err))
}

// WriteErrorMessage writes an error body with an explicit status and kind
func WriteErrorMessage(w http.ResponseWriter, status int, kind apperr.Kind, message string) {
	WriteJSON(w, status, ErrorResponse{Error: string(kind), Message: message})
}

// WriteDetailedError writes an error response with per-field details
func WriteDetailedError(w http.ResponseWriter, err error, details map[string]string) {
	kind := apperr.KindOf(err)
	WriteJSON(w, kind.HTTPStatus(), ErrorResponse{
		Error:   string(kind),
		Message: apperr.MessageOf(err),
		Details: details,
	})
}

// WriteBadRequest writes a validation error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, apperr.KindValidation, message)
}

// WriteUnauthorized writes an unauthenticated error (401)
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusUnauthorized, apperr.KindUnauthenticated, message)
}

// WriteForbidden writes an authorization-denied error (403)
func WriteForbidden(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusForbidden, apperr.KindAuthorizationDenied, message)
}

// WriteNotFoundError writes a not found error (404)
func WriteNotFoundError(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusNotFound, apperr.KindNotFound, message)
}

// WriteInternalError writes a 500 without exposing err
func WriteInternalError(w http.ResponseWriter) {
	WriteErrorMessage(w, http.StatusInternalServerError, apperr.KindInternal, "internal server error")
}

// WriteCreated writes a successful creation response (201 Created) with JSON data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
