// Package auth issues and validates passportd API tokens.
//
// Tokens have the form pp_<base64url(32 random bytes)>. Only the SHA256 hash is
// stored; the plaintext is returned once by CreateToken.
//
//	token, plaintext, err := manager.CreateToken(ctx, user.ID, "ci", 90*24*time.Hour)
//	identity, err := manager.Authenticate(ctx, plaintext)
//
// The middleware package turns bearer tokens into an Identity on the request context.
package auth
