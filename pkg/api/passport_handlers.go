package api

import (
	"net/http"

	"github.com/platinummonkey/passportd/pkg/audit"
	"github.com/platinummonkey/passportd/pkg/httputil"
	"github.com/platinummonkey/passportd/pkg/middleware"
	"github.com/platinummonkey/passportd/pkg/orgs"
	"github.com/platinummonkey/passportd/pkg/passport"
	"github.com/platinummonkey/passportd/pkg/rbac"
)

func (s *Server) loadPassport(w http.ResponseWriter, r *http.Request, min orgs.Role) (*passport.Passport, bool) {
	if err := s.gate.CheckRequest(r.Context(), rbac.Authenticated); err != nil {
		httputil.WriteAppError(w, err)
		return nil, false
	}
	id, ok := httputil.ParsePathUUIDOrError(w, r, "passport_id")
	if !ok {
		return nil, false
	}
	p, err := s.passports.GetPassport(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, err)
		return nil, false
	}
	if err := s.gate.CheckObjectRole(r.Context(), p, min); err != nil {
		httputil.WriteAppError(w, err)
		return nil, false
	}
	return p, true
}

// listPassports handles GET /passports. Results are limited to the resolved organization.
func (s *Server) listPassports(w http.ResponseWriter, r *http.Request) {
	if err := s.gate.CheckRequest(r.Context(), rbac.InOrganization, rbac.Member); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	opts, page, err := listOptions(r, "status", "gender", "code", "coupon_id", "batch")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	opts.Filters["organization"] = middleware.TenantFrom(r.Context()).ID().String()

	passports, total, err := s.passports.SearchPassports(r.Context(), opts)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, httputil.NewPage(passports, total, page))
}

// createPassport handles POST /passports. The caller must be a member of the
// organization owning the target batch.
func (s *Server) createPassport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.gate.CheckRequest(ctx, rbac.Authenticated); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	var req passport.CreatePassportRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	batch, err := s.passports.GetBatch(ctx, req.BatchID)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	if err := s.gate.CheckObject(ctx, batch); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	p, err := s.passports.CreatePassport(ctx, req)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	_ = audit.LogSuccess(ctx, audit.EventTypePassportCreate, p.AuditResource(), "passport created", map[string]interface{}{"code": p.Code})
	httputil.WriteCreated(w, p)
}

// getPassport handles GET /passports/{passport_id}
func (s *Server) getPassport(w http.ResponseWriter, r *http.Request) {
	p, ok := s.loadPassport(w, r, orgs.RoleMember)
	if !ok {
		return
	}
	httputil.WriteSuccess(w, p)
}

// updatePassport handles PUT /passports/{passport_id}
func (s *Server) updatePassport(w http.ResponseWriter, r *http.Request) {
	p, ok := s.loadPassport(w, r, orgs.RoleMember)
	if !ok {
		return
	}
	ctx := r.Context()

	var req passport.UpdatePassportRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.BatchID != nil && *req.BatchID != p.BatchID {
		target, err := s.passports.GetBatch(ctx, *req.BatchID)
		if err != nil {
			httputil.WriteAppError(w, err)
			return
		}
		if err := s.gate.CheckObject(ctx, target); err != nil {
			httputil.WriteAppError(w, err)
			return
		}
	}

	updated, err := s.passports.UpdatePassport(ctx, p.ID, req)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	_ = audit.LogSuccess(ctx, audit.EventTypePassportUpdate, updated.AuditResource(), "passport updated", nil)
	httputil.WriteSuccess(w, updated)
}

// deletePassport handles DELETE /passports/{passport_id}
func (s *Server) deletePassport(w http.ResponseWriter, r *http.Request) {
	p, ok := s.loadPassport(w, r, orgs.RoleAdmin)
	if !ok {
		return
	}
	if err := s.passports.DeletePassport(r.Context(), p.ID); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	_ = audit.LogSuccess(r.Context(), audit.EventTypePassportDelete, p.AuditResource(), "passport deleted", nil)
	httputil.WriteNoContent(w)
}

// patchPassportStatus handles PATCH /passports/{passport_id}/status
func (s *Server) patchPassportStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := s.loadPassport(w, r, orgs.RoleMember)
	if !ok {
		return
	}
	var req statusRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	updated, err := s.passports.PatchPassportStatus(r.Context(), p.ID, passport.Status(req.Status))
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	_ = audit.LogSuccess(r.Context(), audit.EventTypePassportUpdate, updated.AuditResource(), "passport status changed", map[string]interface{}{"status": req.Status})
	httputil.WriteSuccess(w, updated)
}

// publishPassport handles POST /passports/{passport_id}/publish
func (s *Server) publishPassport(w http.ResponseWriter, r *http.Request) {
	p, ok := s.loadPassport(w, r, orgs.RoleMember)
	if !ok {
		return
	}
	updated, err := s.passports.PublishPassport(r.Context(), p.ID)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	_ = audit.LogSuccess(r.Context(), audit.EventTypePassportPublish, updated.AuditResource(), "passport published", nil)
	httputil.WriteSuccess(w, updated)
}
