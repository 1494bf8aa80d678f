// Package invites implements the invitation and registration flow.
//
// Adding an unknown email to an organization creates an inactive account plus
// a pending invitation and sends an activation link of the form
//
//	https://<domain>/register/<user_id>/<token>
//
// Only the sha256 hash of the token is stored. Activating with a password that
// passes the PasswordPolicy marks the account active and converts every
// pending invitation of the user into a membership in one transaction.
// Existing accounts receive the same link and redeem it with Accept.
//
// Messages are handed to a Notifier in the background so a slow delivery
// backend never holds up the request that triggered it.
package invites
