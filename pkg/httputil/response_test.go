package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/passportd/pkg/apperr"
)

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	return body
}

func TestWriteJSON(t *testing.T) {
	rr := httptest.NewRecorder()
	require.NoError(t, WriteJSON(rr, http.StatusOK, map[string]string{"status": "published"}))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"published"}`, rr.Body.String())
}

func TestWriteAppError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantKind    string
		wantMessage string
	}{
		{
			name:        "not found",
			err:         apperr.NotFound("batch not found"),
			wantStatus:  http.StatusNotFound,
			wantKind:    "not_found",
			wantMessage: "batch not found",
		},
		{
			name:        "wrapped domain state",
			err:         fmt.Errorf("publish: %w", apperr.DomainState("no passports in batch")),
			wantStatus:  http.StatusBadRequest,
			wantKind:    "domain_state",
			wantMessage: "no passports in batch",
		},
		{
			name:        "denied",
			err:         apperr.Denied("only the owner can deactivate"),
			wantStatus:  http.StatusForbidden,
			wantKind:    "authorization_denied",
			wantMessage: "only the owner can deactivate",
		},
		{
			name:        "conflict",
			err:         apperr.Conflict("slug taken"),
			wantStatus:  http.StatusBadRequest,
			wantKind:    "conflict",
			wantMessage: "slug taken",
		},
		{
			name:        "plain error hides cause",
			err:         errors.New("pq: password authentication failed"),
			wantStatus:  http.StatusInternalServerError,
			wantKind:    "internal",
			wantMessage: "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			WriteAppError(rr, tt.err)

			assert.Equal(t, tt.wantStatus, rr.Code)
			body := decodeError(t, rr)
			assert.Equal(t, tt.wantKind, body.Error)
			assert.Equal(t, tt.wantMessage, body.Message)
		})
	}
}

func TestWriteDetailedError(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteDetailedError(rr, apperr.Validation("weak password"), map[string]string{"password": "needs a digit"})

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	body := decodeError(t, rr)
	assert.Equal(t, "needs a digit", body.Details["password"])
}

func TestWriteHelpers(t *testing.T) {
	tests := []struct {
		name       string
		write      func(w http.ResponseWriter)
		wantStatus int
		wantKind   string
	}{
		{"bad request", func(w http.ResponseWriter) { WriteBadRequest(w, "x") }, http.StatusBadRequest, "validation"},
		{"unauthorized", func(w http.ResponseWriter) { WriteUnauthorized(w, "x") }, http.StatusUnauthorized, "unauthenticated"},
		{"forbidden", func(w http.ResponseWriter) { WriteForbidden(w, "x") }, http.StatusForbidden, "authorization_denied"},
		{"not found", func(w http.ResponseWriter) { WriteNotFoundError(w, "x") }, http.StatusNotFound, "not_found"},
		{"internal", func(w http.ResponseWriter) { WriteInternalError(w) }, http.StatusInternalServerError, "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			tt.write(rr)
			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, tt.wantKind, decodeError(t, rr).Error)
		})
	}
}

func TestWriteSuccessVariants(t *testing.T) {
	rr := httptest.NewRecorder()
	require.NoError(t, WriteCreated(rr, map[string]string{"id": "1"}))
	assert.Equal(t, http.StatusCreated, rr.Code)

	rr = httptest.NewRecorder()
	WriteNoContent(rr)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Empty(t, rr.Body.String())
}

func TestNewPage(t *testing.T) {
	page := NewPage[string](nil, 0, Pagination{Page: 1, PageSize: 20})

	raw, err := json.Marshal(page)
	require.NoError(t, err)
	assert.JSONEq(t, `{"items":[],"total":0,"page":1,"page_size":20}`, string(raw))
}
