package rbac

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/passportd/pkg/apperr"
	"github.com/platinummonkey/passportd/pkg/audit"
	"github.com/platinummonkey/passportd/pkg/auth"
	"github.com/platinummonkey/passportd/pkg/middleware"
	"github.com/platinummonkey/passportd/pkg/observability"
	"github.com/platinummonkey/passportd/pkg/orgs"
)

type mockDirectory struct {
	orgs        map[uuid.UUID]*orgs.Organization
	memberships map[[2]uuid.UUID]*orgs.Membership
	err         error
}

func (d *mockDirectory) Organization(ctx context.Context, sel orgs.Selector) (*orgs.Organization, error) {
	if d.err != nil {
		return nil, d.err
	}
	if org, ok := d.orgs[sel.ID]; ok {
		return org, nil
	}
	return nil, apperr.NotFound("organization not found")
}

func (d *mockDirectory) Membership(ctx context.Context, orgID, userID uuid.UUID) (*orgs.Membership, error) {
	if m, ok := d.memberships[[2]uuid.UUID{orgID, userID}]; ok {
		return m, nil
	}
	return nil, apperr.NotFound("membership not found")
}

func (d *mockDirectory) PlatformAdminOrganization(ctx context.Context) (*orgs.Organization, error) {
	return nil, apperr.ConfigurationFatal("no platform administrator organization is configured")
}

func (d *mockDirectory) CountActiveMembers(ctx context.Context, orgID uuid.UUID) (int, error) {
	return len(d.memberships), nil
}

type recordingAudit struct {
	events []*audit.AuditEvent
}

func (r *recordingAudit) Log(ctx context.Context, event *audit.AuditEvent) error {
	r.events = append(r.events, event)
	return nil
}

// fixture is one organization with an owner, an admin and a plain member, plus
// a second organization the caller does not belong to
type fixture struct {
	dir    *mockDirectory
	org    *orgs.Organization
	other  *orgs.Organization
	users  map[orgs.Role]uuid.UUID
	audit  *recordingAudit
	gate   *Gate
	metric *observability.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	org := &orgs.Organization{ID: uuid.New(), Slug: "acme", IsActive: true, OwnerMembershipID: uuid.New()}
	other := &orgs.Organization{ID: uuid.New(), Slug: "globex", IsActive: true, OwnerMembershipID: uuid.New()}
	users := map[orgs.Role]uuid.UUID{
		orgs.RoleOwner:  uuid.New(),
		orgs.RoleAdmin:  uuid.New(),
		orgs.RoleMember: uuid.New(),
		orgs.RoleNone:   uuid.New(),
	}
	dir := &mockDirectory{
		orgs: map[uuid.UUID]*orgs.Organization{org.ID: org, other.ID: other},
		memberships: map[[2]uuid.UUID]*orgs.Membership{
			{org.ID, users[orgs.RoleOwner]}:  {ID: org.OwnerMembershipID, OrganizationID: org.ID, UserID: users[orgs.RoleOwner], IsActive: true},
			{org.ID, users[orgs.RoleAdmin]}:  {ID: uuid.New(), OrganizationID: org.ID, UserID: users[orgs.RoleAdmin], IsActive: true, IsAdmin: true},
			{org.ID, users[orgs.RoleMember]}: {ID: uuid.New(), OrganizationID: org.ID, UserID: users[orgs.RoleMember], IsActive: true},
		},
	}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	return &fixture{
		dir:    dir,
		org:    org,
		other:  other,
		users:  users,
		audit:  &recordingAudit{},
		gate:   NewGate(dir, metrics, nil),
		metric: metrics,
	}
}

// ctx builds a request context for caller (nil for anonymous) against tenant
func (f *fixture) ctx(caller *uuid.UUID, tenant orgs.Tenant) context.Context {
	ctx := audit.WithLogger(context.Background(), f.audit)
	if caller != nil {
		ctx = middleware.WithIdentity(ctx, &auth.Identity{UserID: *caller})
	}
	return middleware.WithTenant(ctx, tenant)
}

func (f *fixture) user(role orgs.Role) *uuid.UUID {
	id := f.users[role]
	return &id
}

type batchLike struct {
	orgID *uuid.UUID
}

func (b batchLike) OwningOrganization() (uuid.UUID, bool) {
	if b.orgID == nil {
		return uuid.Nil, false
	}
	return *b.orgID, true
}

func (b batchLike) AuditResource() audit.Resource {
	return audit.Resource{Type: audit.ResourceTypeBatch, ID: "batch-1"}
}

func TestCheckRequest_Roles(t *testing.T) {
	f := newFixture(t)
	tenant := orgs.Bind(f.org, f.dir)

	tests := []struct {
		pred  Predicate
		allow map[orgs.Role]bool
	}{
		{Member, map[orgs.Role]bool{orgs.RoleOwner: true, orgs.RoleAdmin: true, orgs.RoleMember: true}},
		{Admin, map[orgs.Role]bool{orgs.RoleOwner: true, orgs.RoleAdmin: true}},
		{Owner, map[orgs.Role]bool{orgs.RoleOwner: true}},
		{InOrganization, map[orgs.Role]bool{orgs.RoleOwner: true, orgs.RoleAdmin: true, orgs.RoleMember: true, orgs.RoleNone: true}},
	}

	for _, tt := range tests {
		for _, role := range []orgs.Role{orgs.RoleOwner, orgs.RoleAdmin, orgs.RoleMember, orgs.RoleNone} {
			t.Run(tt.pred.Name+"/"+string(role), func(t *testing.T) {
				err := f.gate.CheckRequest(f.ctx(f.user(role), tenant), tt.pred)
				if tt.allow[role] {
					assert.NoError(t, err)
				} else {
					assert.Equal(t, apperr.KindAuthorizationDenied, apperr.KindOf(err))
					assert.Equal(t, tt.pred.Name+" required", apperr.MessageOf(err))
				}
			})
		}
	}
}

func TestCheckRequest_NullOrganizationDeniesEveryRole(t *testing.T) {
	f := newFixture(t)
	owner := f.user(orgs.RoleOwner)

	for _, pred := range []Predicate{InOrganization, Member, Admin, Owner, PlatformAdministrator} {
		err := f.gate.CheckRequest(f.ctx(owner, orgs.Null), pred)
		assert.Equal(t, apperr.KindAuthorizationDenied, apperr.KindOf(err), pred.Name)
	}
	assert.NoError(t, f.gate.CheckRequest(f.ctx(owner, orgs.Null), Authenticated))
	assert.Len(t, f.audit.events, 5)
	assert.Equal(t, audit.EventTypeAccessDenied, f.audit.events[0].EventType)
	assert.Equal(t, 5.0, testutil.ToFloat64(f.metric.AuthzDecisionsTotal.WithLabelValues(PhaseRequest, "denied")))
}

func TestCheckRequest_Unauthenticated(t *testing.T) {
	f := newFixture(t)
	err := f.gate.CheckRequest(f.ctx(nil, orgs.Bind(f.org, f.dir)))
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))
	assert.Empty(t, f.audit.events)
}

func TestCheckRequest_ShortCircuits(t *testing.T) {
	f := newFixture(t)
	evaluated := false
	spy := Predicate{Name: "spy", Allow: func(ctx context.Context, tenant orgs.Tenant, caller *auth.Identity) bool {
		evaluated = true
		return true
	}}

	err := f.gate.CheckRequest(f.ctx(f.user(orgs.RoleMember), orgs.Bind(f.org, f.dir)), Owner, spy)
	assert.Error(t, err)
	assert.False(t, evaluated)
}

func TestCheckRequest_PlatformAdministrator(t *testing.T) {
	f := newFixture(t)
	f.org.IsPlatformAdmin = true
	tenant := orgs.Bind(f.org, f.dir)

	assert.NoError(t, f.gate.CheckRequest(f.ctx(f.user(orgs.RoleMember), tenant), PlatformAdministrator))
	assert.Error(t, f.gate.CheckRequest(f.ctx(f.user(orgs.RoleNone), tenant), PlatformAdministrator))
}

func TestCheckObject(t *testing.T) {
	f := newFixture(t)
	tenant := orgs.Bind(f.org, f.dir)
	own := batchLike{orgID: &f.org.ID}
	foreign := batchLike{orgID: &f.other.ID}

	t.Run("member of owning organization", func(t *testing.T) {
		assert.NoError(t, f.gate.CheckObject(f.ctx(f.user(orgs.RoleMember), tenant), own))
	})

	t.Run("resolved from the resource when no organization was requested", func(t *testing.T) {
		assert.NoError(t, f.gate.CheckObject(f.ctx(f.user(orgs.RoleMember), orgs.Null), own))
		err := f.gate.CheckObject(f.ctx(f.user(orgs.RoleNone), orgs.Null), own)
		assert.Equal(t, apperr.KindAuthorizationDenied, apperr.KindOf(err))
	})

	t.Run("request-level pass does not imply object-level pass", func(t *testing.T) {
		ctx := f.ctx(f.user(orgs.RoleOwner), tenant)
		require.NoError(t, f.gate.CheckRequest(ctx, Member))
		err := f.gate.CheckObject(ctx, foreign)
		assert.Equal(t, "resource belongs to another organization", apperr.MessageOf(err))
	})

	t.Run("no organization fails closed", func(t *testing.T) {
		before := len(f.audit.events)
		err := f.gate.CheckObject(f.ctx(f.user(orgs.RoleOwner), tenant), batchLike{})
		assert.Equal(t, apperr.KindAuthorizationDenied, apperr.KindOf(err))
		require.Len(t, f.audit.events, before+1)
		assert.Equal(t, audit.ResourceTypeBatch, f.audit.events[before].ResourceType)
		assert.Equal(t, "batch-1", f.audit.events[before].ResourceID)

		assert.Error(t, f.gate.CheckObject(f.ctx(f.user(orgs.RoleOwner), tenant), nil))
	})

	t.Run("lookup error fails closed", func(t *testing.T) {
		f.dir.err = errors.New("connection refused")
		defer func() { f.dir.err = nil }()
		err := f.gate.CheckObject(f.ctx(f.user(orgs.RoleOwner), orgs.Null), own)
		assert.Equal(t, apperr.KindAuthorizationDenied, apperr.KindOf(err))
	})

	t.Run("anonymous", func(t *testing.T) {
		err := f.gate.CheckObject(f.ctx(nil, tenant), own)
		assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))
	})
}

func TestCheckObjectRole(t *testing.T) {
	f := newFixture(t)
	tenant := orgs.Bind(f.org, f.dir)
	own := batchLike{orgID: &f.org.ID}

	assert.NoError(t, f.gate.CheckObjectRole(f.ctx(f.user(orgs.RoleOwner), tenant), own, orgs.RoleAdmin))
	assert.NoError(t, f.gate.CheckObjectRole(f.ctx(f.user(orgs.RoleAdmin), tenant), own, orgs.RoleAdmin))
	err := f.gate.CheckObjectRole(f.ctx(f.user(orgs.RoleMember), tenant), own, orgs.RoleAdmin)
	assert.Equal(t, "admin role required", apperr.MessageOf(err))
}

func TestRequire(t *testing.T) {
	f := newFixture(t)
	tenant := orgs.Bind(f.org, f.dir)
	handler := f.gate.Require(InOrganization, Admin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		ctx    context.Context
		status int
	}{
		{"admin", f.ctx(f.user(orgs.RoleAdmin), tenant), http.StatusNoContent},
		{"member", f.ctx(f.user(orgs.RoleMember), tenant), http.StatusForbidden},
		{"no organization", f.ctx(f.user(orgs.RoleAdmin), orgs.Null), http.StatusForbidden},
		{"anonymous", f.ctx(nil, tenant), http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/organizations/acme/users", nil).WithContext(tt.ctx)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			assert.Equal(t, tt.status, rr.Code)
		})
	}
}
