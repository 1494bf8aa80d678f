package api

import (
	"net/http"

	"github.com/platinummonkey/passportd/pkg/apperr"
	"github.com/platinummonkey/passportd/pkg/audit"
	"github.com/platinummonkey/passportd/pkg/httputil"
	"github.com/platinummonkey/passportd/pkg/middleware"
	"github.com/platinummonkey/passportd/pkg/orgs"
	"github.com/platinummonkey/passportd/pkg/rbac"
)

// tenant returns the organization resolved from the route, writing 404 when
// the identifier does not name one
func (s *Server) tenant(w http.ResponseWriter, r *http.Request) (orgs.Tenant, bool) {
	tenant := middleware.TenantFrom(r.Context())
	if !tenant.Exists() {
		httputil.WriteNotFoundError(w, "organization not found")
		return nil, false
	}
	return tenant, true
}

// authorizedTenant resolves the route organization and runs the request phase
// of the gate against it
func (s *Server) authorizedTenant(w http.ResponseWriter, r *http.Request, preds ...rbac.Predicate) (orgs.Tenant, bool) {
	if err := s.gate.CheckRequest(r.Context(), rbac.Authenticated); err != nil {
		httputil.WriteAppError(w, err)
		return nil, false
	}
	tenant, ok := s.tenant(w, r)
	if !ok {
		return nil, false
	}
	if err := s.gate.CheckRequest(r.Context(), preds...); err != nil {
		httputil.WriteAppError(w, err)
		return nil, false
	}
	return tenant, true
}

// listOrganizations handles GET /organizations
func (s *Server) listOrganizations(w http.ResponseWriter, r *http.Request) {
	if err := s.gate.CheckRequest(r.Context(), rbac.Authenticated); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	list, err := s.orgs.UserOrganizations(r.Context(), callerID(r.Context()))
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	if list == nil {
		list = []*orgs.OrganizationWithRole{}
	}
	httputil.WriteSuccess(w, list)
}

// createOrganization handles POST /organizations
func (s *Server) createOrganization(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.gate.CheckRequest(ctx, rbac.Authenticated); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	var req orgs.CreateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	req.IsPlatformAdmin = false

	creator, err := s.caller(ctx)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	org, err := s.orgs.CreateOrganization(ctx, creator, req)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	_ = audit.LogSuccess(ctx, audit.EventTypeOrgCreate, orgResource(org), "organization created", map[string]interface{}{"slug": org.Slug})
	httputil.WriteCreated(w, org)
}

// checkSlug handles GET /organizations/check/{slug}
func (s *Server) checkSlug(w http.ResponseWriter, r *http.Request) {
	if err := s.gate.CheckRequest(r.Context(), rbac.Authenticated); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	slug, err := httputil.ParsePathString(r, "slug")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	check, err := s.orgs.CheckSlug(r.Context(), slug)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, check)
}

// getOrganization handles GET /organizations/{organization}
func (s *Server) getOrganization(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.authorizedTenant(w, r, rbac.Member)
	if !ok {
		return
	}
	httputil.WriteSuccess(w, tenant.Organization())
}

// updateOrganization handles PUT /organizations/{organization}. Fields absent
// from the body are left unchanged and unknown fields are ignored.
func (s *Server) updateOrganization(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.authorizedTenant(w, r, rbac.Owner)
	if !ok {
		return
	}
	var req orgs.UpdateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	org, err := s.orgs.UpdateOrganization(r.Context(), tenant.Organization(), req)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	_ = audit.LogSuccess(r.Context(), audit.EventTypeOrgUpdate, orgResource(org), "organization updated", nil)
	httputil.WriteSuccess(w, org)
}

// deleteOrganization handles DELETE /organizations/{organization}
func (s *Server) deleteOrganization(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.authorizedTenant(w, r, rbac.Owner)
	if !ok {
		return
	}
	org := tenant.Organization()
	if err := s.orgs.DeleteOrganization(r.Context(), org, callerID(r.Context())); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	_ = audit.LogSuccess(r.Context(), audit.EventTypeOrgDelete, orgResource(org), "organization deleted", nil)
	httputil.WriteNoContent(w)
}

// activateOrganization handles POST /organizations/{organization}/activate
func (s *Server) activateOrganization(w http.ResponseWriter, r *http.Request) {
	s.setOrganizationActive(w, r, true)
}

// deactivateOrganization handles POST /organizations/{organization}/deactivate
func (s *Server) deactivateOrganization(w http.ResponseWriter, r *http.Request) {
	s.setOrganizationActive(w, r, false)
}

func (s *Server) setOrganizationActive(w http.ResponseWriter, r *http.Request, active bool) {
	tenant, ok := s.authorizedTenant(w, r, rbac.Owner)
	if !ok {
		return
	}
	ctx := r.Context()

	var (
		org       *orgs.Organization
		err       error
		eventType = audit.EventTypeOrgActivate
	)
	if active {
		org, err = s.orgs.ActivateOrganization(ctx, tenant.Organization(), callerID(ctx))
	} else {
		eventType = audit.EventTypeOrgDeactivate
		org, err = s.orgs.DeactivateOrganization(ctx, tenant.Organization(), callerID(ctx))
	}
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	_ = audit.LogSuccess(ctx, eventType, orgResource(org), "organization active state changed", map[string]interface{}{"active": active})
	httputil.WriteSuccess(w, org)
}

// listOrganizationUsers handles GET /organizations/{organization}/users
func (s *Server) listOrganizationUsers(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.authorizedTenant(w, r, rbac.Member)
	if !ok {
		return
	}
	members, err := s.orgs.OrganizationUsers(r.Context(), tenant.Organization())
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	if members == nil {
		members = []*orgs.Membership{}
	}
	httputil.WriteSuccess(w, members)
}

// addOrganizationUser handles POST /organizations/{organization}/users. The
// membership is created once the invitation is accepted.
func (s *Server) addOrganizationUser(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.authorizedTenant(w, r, rbac.Admin)
	if !ok {
		return
	}
	ctx := r.Context()

	var req addUserRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Email, "email") {
		return
	}
	sender, err := s.caller(ctx)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	org := tenant.Organization()
	if err := s.orgs.AddOrganizationUser(ctx, org, req.Email, req.IsAdmin, sender); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	_ = audit.LogSuccess(ctx, audit.EventTypeMemberAdd, orgResource(org), "organization user invited", map[string]interface{}{
		"email":    req.Email,
		"is_admin": req.IsAdmin,
	})
	httputil.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"email":  req.Email,
		"status": "invited",
	})
}

// removeOrganizationUser handles DELETE /organizations/{organization}/users/{user_id}
func (s *Server) removeOrganizationUser(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.authorizedTenant(w, r, rbac.Admin)
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathUUIDOrError(w, r, "user_id")
	if !ok {
		return
	}

	org := tenant.Organization()
	removed, err := s.orgs.RemoveOrganizationUser(r.Context(), org, userID)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	if !removed {
		httputil.WriteAppError(w, apperr.NotFound("membership not found"))
		return
	}
	_ = audit.LogSuccess(r.Context(), audit.EventTypeMemberRemove, audit.Resource{
		Type:           audit.ResourceTypeMembership,
		ID:             userID.String(),
		OrganizationID: org.ID,
	}, "organization user removed", nil)
	httputil.WriteNoContent(w)
}
