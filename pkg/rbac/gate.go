package rbac

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/platinummonkey/passportd/pkg/apperr"
	"github.com/platinummonkey/passportd/pkg/audit"
	"github.com/platinummonkey/passportd/pkg/httputil"
	"github.com/platinummonkey/passportd/pkg/middleware"
	"github.com/platinummonkey/passportd/pkg/observability"
	"github.com/platinummonkey/passportd/pkg/orgs"
)

// Decision phases and outcomes, used as metric labels
const (
	PhaseRequest = "request"
	PhaseObject  = "object"

	outcomeAllowed         = "allowed"
	outcomeDenied          = "denied"
	outcomeUnauthenticated = "unauthenticated"
)

// Auditable resources describe themselves in access-denied audit events
type Auditable interface {
	AuditResource() audit.Resource
}

// Gate evaluates permissions in two phases: CheckRequest before the target is
// loaded, CheckObject after. Passing the first does not imply the second.
type Gate struct {
	dir     orgs.Directory
	metrics *observability.Metrics
	logger  *observability.Logger
}

// NewGate creates a gate that looks up resource organizations in dir
func NewGate(dir orgs.Directory, metrics *observability.Metrics, logger *observability.Logger) *Gate {
	return &Gate{
		dir:     dir,
		metrics: metrics,
		logger:  observability.OrDefault(logger).WithField("component", "rbac"),
	}
}

// CheckRequest requires an authenticated caller and every predicate to pass
// against the request's organization. The first failing predicate denies.
func (g *Gate) CheckRequest(ctx context.Context, preds ...Predicate) error {
	caller := middleware.IdentityFrom(ctx)
	if caller == nil {
		g.record(PhaseRequest, outcomeUnauthenticated)
		return apperr.Unauthenticated("authentication required")
	}

	tenant := middleware.TenantFrom(ctx)
	for _, pred := range preds {
		if pred.Allow(ctx, tenant, caller) {
			continue
		}
		reason := pred.Name + " required"
		g.deny(ctx, PhaseRequest, audit.Resource{Type: audit.ResourceTypeOrganization, ID: tenant.Slug(), OrganizationID: tenant.ID()}, reason)
		return apperr.Denied("%s", reason)
	}

	g.record(PhaseRequest, outcomeAllowed)
	return nil
}

// CheckObject requires the caller to be a member of the organization owning obj
func (g *Gate) CheckObject(ctx context.Context, obj HasOrganization) error {
	return g.CheckObjectRole(ctx, obj, orgs.RoleMember)
}

// CheckObjectRole requires the caller to hold at least min in the organization
// owning obj. A resource without an owner, or owned by an organization other
// than the resolved one, is denied.
func (g *Gate) CheckObjectRole(ctx context.Context, obj HasOrganization, min orgs.Role) error {
	caller := middleware.IdentityFrom(ctx)
	if caller == nil {
		g.record(PhaseObject, outcomeUnauthenticated)
		return apperr.Unauthenticated("authentication required")
	}

	resource := describe(obj)
	orgID, ok := uuid.Nil, false
	if obj != nil {
		orgID, ok = obj.OwningOrganization()
	}
	if !ok || orgID == uuid.Nil {
		g.deny(ctx, PhaseObject, resource, "resource has no organization")
		return apperr.Denied("resource has no organization")
	}
	resource.OrganizationID = orgID

	tenant := middleware.TenantFrom(ctx)
	if tenant.Exists() && tenant.ID() != orgID {
		g.deny(ctx, PhaseObject, resource, "resource belongs to another organization")
		return apperr.Denied("resource belongs to another organization")
	}
	if !tenant.Exists() {
		org, err := g.dir.Organization(ctx, orgs.ByID(orgID))
		if err != nil {
			g.logger.WithError(err).WithField("organization_id", orgID.String()).Debug("resource organization lookup failed")
			g.deny(ctx, PhaseObject, resource, "resource organization is unavailable")
			return apperr.Denied("resource organization is unavailable")
		}
		tenant = orgs.Bind(org, g.dir)
	}

	if !tenant.RoleOf(ctx, caller.UserID).AtLeast(min) {
		reason := string(min) + " role required"
		g.deny(ctx, PhaseObject, resource, reason)
		return apperr.Denied("%s", reason)
	}

	g.record(PhaseObject, outcomeAllowed)
	return nil
}

// Require wraps a handler with CheckRequest
func (g *Gate) Require(preds ...Predicate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := g.CheckRequest(r.Context(), preds...); err != nil {
				httputil.WriteAppError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (g *Gate) deny(ctx context.Context, phase string, resource audit.Resource, reason string) {
	g.record(phase, outcomeDenied)
	observability.FromContext(ctx).WithFields(map[string]interface{}{
		"phase":  phase,
		"reason": reason,
	}).Info("access denied")
	_ = audit.LogDenied(ctx, resource, reason)
}

func (g *Gate) record(phase, outcome string) {
	if g.metrics != nil {
		g.metrics.AuthzDecisionsTotal.WithLabelValues(phase, outcome).Inc()
	}
}

func describe(obj HasOrganization) audit.Resource {
	if a, ok := obj.(Auditable); ok {
		return a.AuditResource()
	}
	return audit.Resource{}
}
