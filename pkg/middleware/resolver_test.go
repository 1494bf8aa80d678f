package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/passportd/pkg/apperr"
	"github.com/platinummonkey/passportd/pkg/config"
	"github.com/platinummonkey/passportd/pkg/observability"
	"github.com/platinummonkey/passportd/pkg/orgs"
)

type mockDirectory struct {
	orgs map[string]*orgs.Organization
	err  error
}

func newMockDirectory(slugs ...string) *mockDirectory {
	d := &mockDirectory{orgs: make(map[string]*orgs.Organization)}
	for _, slug := range slugs {
		org := &orgs.Organization{ID: uuid.New(), Slug: slug, Name: slug, IsActive: true}
		d.orgs[orgs.BySlug(slug).Key()] = org
		d.orgs[orgs.ByID(org.ID).Key()] = org
	}
	return d
}

func (d *mockDirectory) Organization(ctx context.Context, sel orgs.Selector) (*orgs.Organization, error) {
	if d.err != nil {
		return nil, d.err
	}
	if org, ok := d.orgs[sel.Key()]; ok {
		return org, nil
	}
	return nil, apperr.NotFound("organization not found")
}

func (d *mockDirectory) Membership(ctx context.Context, orgID, userID uuid.UUID) (*orgs.Membership, error) {
	return nil, apperr.NotFound("membership not found")
}

func (d *mockDirectory) PlatformAdminOrganization(ctx context.Context) (*orgs.Organization, error) {
	return nil, apperr.ConfigurationFatal("no platform administrator organization is configured")
}

func (d *mockDirectory) CountActiveMembers(ctx context.Context, orgID uuid.UUID) (int, error) {
	return 0, nil
}

var testKeys = config.ResolverConfig{RouteKey: "organization", QueryKey: "organization", Header: "X-Organization-ID"}

// serve routes req through a router with the resolver installed and returns
// the tenant the handler saw
func serve(t *testing.T, res *Resolver, req *http.Request) orgs.Tenant {
	t.Helper()
	var seen orgs.Tenant
	router := mux.NewRouter()
	router.Use(res.Middleware)
	capture := func(w http.ResponseWriter, r *http.Request) {
		seen = TenantFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	}
	router.HandleFunc("/organizations/{organization}", capture)
	router.HandleFunc("/batches", capture)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, seen)
	return seen
}

func TestResolver_Precedence(t *testing.T) {
	dir := newMockDirectory("route-org", "query-org", "header-org")
	res := NewResolver(dir, testKeys, nil)

	tests := []struct {
		name     string
		path     string
		header   string
		wantSlug string
	}{
		{"route wins over query and header", "/organizations/route-org?organization=query-org", "header-org", "route-org"},
		{"query wins over header", "/batches?organization=query-org", "header-org", "query-org"},
		{"header alone", "/batches", "header-org", "header-org"},
		{"nothing present", "/batches", "", ""},
		{"no merging when first source misses", "/organizations/missing?organization=query-org", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("X-Organization-ID", tt.header)
			}
			tenant := serve(t, res, req)
			if tt.wantSlug == "" {
				assert.False(t, tenant.Exists())
				assert.Equal(t, orgs.Null, tenant)
				return
			}
			assert.True(t, tenant.Exists())
			assert.Equal(t, tt.wantSlug, tenant.Slug())
		})
	}
}

func TestResolver_ByID(t *testing.T) {
	dir := newMockDirectory("acme")
	org := dir.orgs[orgs.BySlug("acme").Key()]
	res := NewResolver(dir, testKeys, nil)

	req := httptest.NewRequest(http.MethodGet, "/batches", nil)
	req.Header.Set("X-Organization-ID", org.ID.String())
	tenant := serve(t, res, req)
	assert.Equal(t, org.ID, tenant.ID())
}

func TestResolver_BackendErrorYieldsNull(t *testing.T) {
	dir := newMockDirectory("acme")
	dir.err = errors.New("connection refused")
	res := NewResolver(dir, testKeys, nil)

	tenant := serve(t, res, httptest.NewRequest(http.MethodGet, "/organizations/acme", nil))
	assert.False(t, tenant.Exists())
}

func TestResolver_Identifier(t *testing.T) {
	res := NewResolver(newMockDirectory(), config.ResolverConfig{Header: "X-Org"}, nil)

	req := httptest.NewRequest(http.MethodGet, "/batches?organization=ignored", nil)
	req.Header.Set("X-Org", "from-header")
	assert.Equal(t, "from-header", res.Identifier(req))
}

func TestTenantFrom_Unresolved(t *testing.T) {
	assert.Equal(t, orgs.Null, TenantFrom(context.Background()))
	assert.Equal(t, orgs.Null, TenantFrom(WithTenant(context.Background(), nil)))
}

func TestWithTenant_SetsLogField(t *testing.T) {
	dir := newMockDirectory("acme")
	tenant := orgs.Bind(dir.orgs[orgs.BySlug("acme").Key()], dir)

	ctx := WithTenant(context.Background(), tenant)
	assert.Equal(t, "acme", observability.GetOrganization(ctx))
	assert.Equal(t, tenant, TenantFrom(ctx))
}
