// Package api serves the passportd HTTP API.
//
// Every request passes through the audit, authentication and organization
// resolver middleware before reaching a handler. Handlers authorize in two
// steps with rbac.Gate: request-level predicates against the resolved
// organization, then an object-level check once the target is loaded.
//
// Organizations:
//
//	GET    /organizations
//	POST   /organizations
//	GET    /organizations/check/{slug}
//	GET    /organizations/{organization}
//	PUT    /organizations/{organization}
//	DELETE /organizations/{organization}
//	POST   /organizations/{organization}/activate
//	POST   /organizations/{organization}/deactivate
//	GET    /organizations/{organization}/users
//	POST   /organizations/{organization}/users
//	DELETE /organizations/{organization}/users/{user_id}
//
// Accounts:
//
//	POST /auth/tokens
//	POST /register/{user_id}/{token}
//	POST /invitations/{invitation_id}/remind
//
// Batches and passports:
//
//	GET|POST         /batches
//	GET|PUT|DELETE   /batches/{batch_id}
//	PATCH            /batches/{batch_id}/status
//	POST             /batches/{batch_id}/publish?all=
//	GET              /batches/{batch_id}/passports
//	GET|POST         /passports
//	GET|PUT|DELETE   /passports/{passport_id}
//	PATCH            /passports/{passport_id}/status
//	POST             /passports/{passport_id}/publish
//
// Collection routes outside /organizations read the organization from the
// organization query parameter or the X-Organization-ID header.
package api
