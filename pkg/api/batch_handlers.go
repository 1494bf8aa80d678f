package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/platinummonkey/passportd/pkg/apperr"
	"github.com/platinummonkey/passportd/pkg/audit"
	"github.com/platinummonkey/passportd/pkg/httputil"
	"github.com/platinummonkey/passportd/pkg/middleware"
	"github.com/platinummonkey/passportd/pkg/orgs"
	"github.com/platinummonkey/passportd/pkg/passport"
	"github.com/platinummonkey/passportd/pkg/rbac"
)

// loadBatch fetches the batch named by the route and runs the object phase of
// the gate on it
func (s *Server) loadBatch(w http.ResponseWriter, r *http.Request, min orgs.Role) (*passport.Batch, bool) {
	if err := s.gate.CheckRequest(r.Context(), rbac.Authenticated); err != nil {
		httputil.WriteAppError(w, err)
		return nil, false
	}
	id, ok := httputil.ParsePathUUIDOrError(w, r, "batch_id")
	if !ok {
		return nil, false
	}
	batch, err := s.passports.GetBatch(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, err)
		return nil, false
	}
	if err := s.gate.CheckObjectRole(r.Context(), batch, min); err != nil {
		httputil.WriteAppError(w, err)
		return nil, false
	}
	return batch, true
}

// listBatches handles GET /batches. Results are limited to the resolved organization.
func (s *Server) listBatches(w http.ResponseWriter, r *http.Request) {
	if err := s.gate.CheckRequest(r.Context(), rbac.InOrganization, rbac.Member); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	opts, page, err := listOptions(r, "status")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	opts.Filters["organization"] = middleware.TenantFrom(r.Context()).ID().String()

	batches, total, err := s.passports.SearchBatches(r.Context(), opts)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, httputil.NewPage(batches, total, page))
}

// createBatch handles POST /batches. The batch must target the resolved
// organization; an omitted organization defaults to it.
func (s *Server) createBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.gate.CheckRequest(ctx, rbac.InOrganization, rbac.Member); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	var req passport.CreateBatchRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.OrganizationID == uuid.Nil {
		req.OrganizationID = middleware.TenantFrom(ctx).ID()
	}
	if err := s.gate.CheckObject(ctx, organizationRef(req.OrganizationID)); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	batch, err := s.passports.CreateBatch(ctx, req)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	_ = audit.LogSuccess(ctx, audit.EventTypeBatchCreate, batch.AuditResource(), "batch created", nil)
	httputil.WriteCreated(w, batch)
}

// getBatch handles GET /batches/{batch_id}
func (s *Server) getBatch(w http.ResponseWriter, r *http.Request) {
	batch, ok := s.loadBatch(w, r, orgs.RoleMember)
	if !ok {
		return
	}
	httputil.WriteSuccess(w, batch)
}

// updateBatch handles PUT /batches/{batch_id}. Moving the batch requires
// membership in the target organization as well.
func (s *Server) updateBatch(w http.ResponseWriter, r *http.Request) {
	batch, ok := s.loadBatch(w, r, orgs.RoleMember)
	if !ok {
		return
	}
	ctx := r.Context()

	var req passport.UpdateBatchRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.OrganizationID != nil {
		if err := s.gate.CheckObject(ctx, organizationRef(*req.OrganizationID)); err != nil {
			httputil.WriteAppError(w, err)
			return
		}
	}

	updated, err := s.passports.UpdateBatch(ctx, batch.ID, req)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	_ = audit.LogSuccess(ctx, audit.EventTypeBatchUpdate, updated.AuditResource(), "batch updated", nil)
	httputil.WriteSuccess(w, updated)
}

// deleteBatch handles DELETE /batches/{batch_id}
func (s *Server) deleteBatch(w http.ResponseWriter, r *http.Request) {
	batch, ok := s.loadBatch(w, r, orgs.RoleAdmin)
	if !ok {
		return
	}
	if err := s.passports.DeleteBatch(r.Context(), batch.ID); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	_ = audit.LogSuccess(r.Context(), audit.EventTypeBatchDelete, batch.AuditResource(), "batch deleted", nil)
	httputil.WriteNoContent(w)
}

// patchBatchStatus handles PATCH /batches/{batch_id}/status
func (s *Server) patchBatchStatus(w http.ResponseWriter, r *http.Request) {
	batch, ok := s.loadBatch(w, r, orgs.RoleMember)
	if !ok {
		return
	}
	var req statusRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	updated, err := s.passports.PatchBatchStatus(r.Context(), batch.ID, passport.BatchStatus(req.Status))
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	_ = audit.LogSuccess(r.Context(), audit.EventTypeBatchUpdate, updated.AuditResource(), "batch status changed", map[string]interface{}{"status": req.Status})
	httputil.WriteSuccess(w, updated)
}

// publishBatch handles POST /batches/{batch_id}/publish?all=
func (s *Server) publishBatch(w http.ResponseWriter, r *http.Request) {
	batch, ok := s.loadBatch(w, r, orgs.RoleMember)
	if !ok {
		return
	}
	all, err := httputil.ParseQueryBool(r, "all", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	result, err := s.passports.PublishBatch(r.Context(), batch.ID, all)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	if !result.Published {
		httputil.WriteAppError(w, apperr.DomainState("no passports to publish in this batch"))
		return
	}
	_ = audit.LogSuccess(r.Context(), audit.EventTypeBatchPublish, batch.AuditResource(), "batch published", map[string]interface{}{
		"all":          all,
		"count":        result.Count,
		"batch_status": string(result.BatchStatus),
	})
	httputil.WriteSuccess(w, result)
}

// batchPassports handles GET /batches/{batch_id}/passports
func (s *Server) batchPassports(w http.ResponseWriter, r *http.Request) {
	batch, ok := s.loadBatch(w, r, orgs.RoleMember)
	if !ok {
		return
	}
	opts, page, err := listOptions(r, "status", "gender", "code")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	passports, total, err := s.passports.BatchPassports(r.Context(), batch.ID, opts)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, httputil.NewPage(passports, total, page))
}
