package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/passportd/pkg/apperr"
	"github.com/platinummonkey/passportd/pkg/audit"
	"github.com/platinummonkey/passportd/pkg/auth"
	"github.com/platinummonkey/passportd/pkg/invites"
	"github.com/platinummonkey/passportd/pkg/middleware"
	"github.com/platinummonkey/passportd/pkg/observability"
	"github.com/platinummonkey/passportd/pkg/orgs"
	"github.com/platinummonkey/passportd/pkg/passport"
	"github.com/platinummonkey/passportd/pkg/rbac"
	"github.com/platinummonkey/passportd/pkg/users"
)

// DefaultTokenTTL is the lifetime of tokens issued by POST /auth/tokens
const DefaultTokenTTL = 30 * 24 * time.Hour

// Config wires the services behind the API
type Config struct {
	Orgs      *orgs.Service
	Directory orgs.Directory
	Passports *passport.Service
	Invites   *invites.Service
	Users     *users.Store
	Tokens    *auth.TokenManager
	Resolver  *middleware.Resolver
	// RouteKey is the route variable holding the organization identifier.
	// It must match the resolver's route key.
	RouteKey string
	// Throttle limits the credential endpoints; nil disables it
	Throttle *middleware.Throttle
	Audit    audit.Logger
	Metrics  *observability.Metrics
	Logger   *observability.Logger
	TokenTTL time.Duration
}

// Server serves the passportd HTTP API
type Server struct {
	router    *mux.Router
	orgs      *orgs.Service
	passports *passport.Service
	invites   *invites.Service
	users     *users.Store
	tokens    *auth.TokenManager
	gate      *rbac.Gate
	throttle  *middleware.Throttle
	routeKey  string
	tokenTTL  time.Duration
	logger    *observability.Logger
}

// NewServer creates the API server and registers every route
func NewServer(cfg Config) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		orgs:      cfg.Orgs,
		passports: cfg.Passports,
		invites:   cfg.Invites,
		users:     cfg.Users,
		tokens:    cfg.Tokens,
		gate:      rbac.NewGate(cfg.Directory, cfg.Metrics, cfg.Logger),
		throttle:  cfg.Throttle,
		routeKey:  cfg.RouteKey,
		tokenTTL:  cfg.TokenTTL,
		logger:    observability.OrDefault(cfg.Logger).WithField("component", "api"),
	}
	if s.routeKey == "" {
		s.routeKey = "organization"
	}
	if s.tokenTTL <= 0 {
		s.tokenTTL = DefaultTokenTTL
	}

	s.router.Use(audit.Middleware(cfg.Audit))
	s.router.Use(middleware.NewAuthMiddleware(cfg.Tokens, true).Handler)
	if cfg.Resolver != nil {
		s.router.Use(cfg.Resolver.Middleware)
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	org := fmt.Sprintf("/organizations/{%s}", s.routeKey)

	// Organization routes
	s.router.HandleFunc("/organizations", s.listOrganizations).Methods("GET")
	s.router.HandleFunc("/organizations", s.createOrganization).Methods("POST")
	s.router.HandleFunc("/organizations/check/{slug}", s.checkSlug).Methods("GET")
	s.router.HandleFunc(org, s.getOrganization).Methods("GET")
	s.router.HandleFunc(org, s.updateOrganization).Methods("PUT")
	s.router.HandleFunc(org, s.deleteOrganization).Methods("DELETE")
	s.router.HandleFunc(org+"/activate", s.activateOrganization).Methods("POST")
	s.router.HandleFunc(org+"/deactivate", s.deactivateOrganization).Methods("POST")

	// Membership routes
	s.router.HandleFunc(org+"/users", s.listOrganizationUsers).Methods("GET")
	s.router.HandleFunc(org+"/users", s.addOrganizationUser).Methods("POST")
	s.router.HandleFunc(org+"/users/{user_id}", s.removeOrganizationUser).Methods("DELETE")

	// Registration and credentials
	s.router.Handle("/auth/tokens", s.throttled(http.HandlerFunc(s.createToken))).Methods("POST")
	s.router.Handle("/register/{user_id}/{token}", s.throttled(http.HandlerFunc(s.register))).Methods("POST")
	s.router.HandleFunc("/invitations/{invitation_id}/remind", s.remindInvitation).Methods("POST")

	// Batch routes
	s.router.HandleFunc("/batches", s.listBatches).Methods("GET")
	s.router.HandleFunc("/batches", s.createBatch).Methods("POST")
	s.router.HandleFunc("/batches/{batch_id}", s.getBatch).Methods("GET")
	s.router.HandleFunc("/batches/{batch_id}", s.updateBatch).Methods("PUT")
	s.router.HandleFunc("/batches/{batch_id}", s.deleteBatch).Methods("DELETE")
	s.router.HandleFunc("/batches/{batch_id}/status", s.patchBatchStatus).Methods("PATCH")
	s.router.HandleFunc("/batches/{batch_id}/publish", s.publishBatch).Methods("POST")
	s.router.HandleFunc("/batches/{batch_id}/passports", s.batchPassports).Methods("GET")

	// Passport routes
	s.router.HandleFunc("/passports", s.listPassports).Methods("GET")
	s.router.HandleFunc("/passports", s.createPassport).Methods("POST")
	s.router.HandleFunc("/passports/{passport_id}", s.getPassport).Methods("GET")
	s.router.HandleFunc("/passports/{passport_id}", s.updatePassport).Methods("PUT")
	s.router.HandleFunc("/passports/{passport_id}", s.deletePassport).Methods("DELETE")
	s.router.HandleFunc("/passports/{passport_id}/status", s.patchPassportStatus).Methods("PATCH")
	s.router.HandleFunc("/passports/{passport_id}/publish", s.publishPassport).Methods("POST")
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router returns the underlying router
func (s *Server) Router() *mux.Router {
	return s.router
}

func (s *Server) throttled(h http.Handler) http.Handler {
	if s.throttle == nil {
		return h
	}
	return s.throttle.Handler(h)
}

// caller loads the account of the authenticated identity
func (s *Server) caller(ctx context.Context) (*users.User, error) {
	identity := middleware.IdentityFrom(ctx)
	if identity == nil {
		return nil, apperr.Unauthenticated("authentication required")
	}
	return s.users.Get(ctx, identity.UserID)
}

// callerID returns the authenticated user id; the gate has already rejected
// anonymous requests on every route that calls it
func callerID(ctx context.Context) uuid.UUID {
	if identity := middleware.IdentityFrom(ctx); identity != nil {
		return identity.UserID
	}
	return uuid.Nil
}

// organizationRef is the organization named in a request body, checked with
// the object phase of the gate like any loaded resource
type organizationRef uuid.UUID

func (o organizationRef) OwningOrganization() (uuid.UUID, bool) {
	return uuid.UUID(o), uuid.UUID(o) != uuid.Nil
}

func (o organizationRef) AuditResource() audit.Resource {
	return audit.Resource{Type: audit.ResourceTypeOrganization, ID: uuid.UUID(o).String(), OrganizationID: uuid.UUID(o)}
}

func orgResource(org *orgs.Organization) audit.Resource {
	return audit.Resource{Type: audit.ResourceTypeOrganization, ID: org.ID.String(), OrganizationID: org.ID}
}
