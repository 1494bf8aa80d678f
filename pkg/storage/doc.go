// Package storage holds the configuration and query abstractions shared by the
// passportd stores.
//
// Every store (organizations, users, invitations, tokens, batches, passports) is a
// thin struct over a DBTX so it can run against the pool or inside a transaction
// opened by postgres.WithTx:
//
//	err := postgres.WithTx(ctx, db, func(tx *sql.Tx) error {
//		store := orgs.NewStore(tx)
//		return store.CreateOrganization(ctx, org)
//	})
//
// The postgres subpackage owns connection management, the redis client backing the
// organization cache, unique-violation detection and schema migrations.
package storage
