package api

import (
	"net/http"
	"time"

	"github.com/platinummonkey/passportd/pkg/audit"
	"github.com/platinummonkey/passportd/pkg/httputil"
	"github.com/platinummonkey/passportd/pkg/orgs"
	"github.com/platinummonkey/passportd/pkg/rbac"
	"github.com/platinummonkey/passportd/pkg/users"
)

// createToken handles POST /auth/tokens, exchanging credentials for an API token
func (s *Server) createToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req tokenRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Email, "email") || !httputil.RequireNonEmpty(w, req.Password, "password") {
		return
	}

	user, err := s.users.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	name := req.Name
	if name == "" {
		name = "api"
	}
	token, raw, err := s.tokens.CreateToken(ctx, user.ID, name, s.tokenTTL)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	_ = audit.LogSuccess(ctx, audit.EventTypeTokenCreate, audit.Resource{
		Type: audit.ResourceTypeToken,
		ID:   token.ID.String(),
	}, "api token issued", map[string]interface{}{"user_id": user.ID.String()})

	resp := tokenResponse{Token: raw, ID: token.ID.String(), TokenPrefix: token.TokenPrefix}
	if token.ExpiresAt != nil {
		resp.ExpiresAt = token.ExpiresAt.Format(time.RFC3339)
	}
	httputil.WriteCreated(w, resp)
}

// register handles POST /register/{user_id}/{token}. A body with a password
// activates a new account; an empty one accepts pending invitations for an
// account that is already active.
func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := httputil.ParsePathUUIDOrError(w, r, "user_id")
	if !ok {
		return
	}
	token, err := httputil.ParsePathString(r, "token")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	var req registerRequest
	if err := parseOptionalJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	var user *users.User
	if req.Password != "" {
		user, err = s.invites.Activate(ctx, userID, token, req.Password)
	} else {
		user, err = s.invites.Accept(ctx, userID, token)
	}
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	_ = audit.LogSuccess(ctx, audit.EventTypeInvitationActivate, audit.Resource{
		Type: audit.ResourceTypeUser,
		ID:   user.ID.String(),
	}, "invitation redeemed", nil)
	httputil.WriteSuccess(w, user)
}

// remindInvitation handles POST /invitations/{invitation_id}/remind
func (s *Server) remindInvitation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.gate.CheckRequest(ctx, rbac.Authenticated); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	id, ok := httputil.ParsePathUUIDOrError(w, r, "invitation_id")
	if !ok {
		return
	}
	inv, err := s.invites.Store().Get(ctx, id)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	if err := s.gate.CheckObjectRole(ctx, inv, orgs.RoleAdmin); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	inv, err = s.invites.Remind(ctx, inv.ID)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	_ = audit.LogSuccess(ctx, audit.EventTypeInvitationSend, inv.AuditResource(), "invitation reminder sent", nil)
	httputil.WriteSuccess(w, inv)
}
