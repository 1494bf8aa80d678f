package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/platinummonkey/passportd/pkg/httputil"
	"github.com/platinummonkey/passportd/pkg/passport"
)

type statusRequest struct {
	Status string `json:"status"`
}

type addUserRequest struct {
	Email   string `json:"email"`
	IsAdmin bool   `json:"is_admin"`
}

type tokenRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type tokenResponse struct {
	Token       string `json:"token"`
	ID          string `json:"id"`
	TokenPrefix string `json:"token_prefix"`
	ExpiresAt   string `json:"expires_at,omitempty"`
}

type registerRequest struct {
	Password string `json:"password"`
}

// listOptions reads search, pagination and the allowed exact filters
func listOptions(r *http.Request, allowed ...string) (passport.ListOptions, httputil.Pagination, error) {
	page, err := httputil.ParsePagination(r)
	if err != nil {
		return passport.ListOptions{}, page, err
	}
	return passport.ListOptions{
		Search:  httputil.ParseQueryString(r, "search", ""),
		Filters: httputil.QueryFilters(r, allowed...),
		Limit:   page.PageSize,
		Offset:  page.Offset(),
	}, page, nil
}

// parseOptionalJSON decodes a body that may be empty
func parseOptionalJSON(r *http.Request, dest interface{}) error {
	if err := httputil.ParseJSON(r, dest); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
