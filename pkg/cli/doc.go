// Package cli implements passportctl, the administration CLI for passportd.
//
// # Commands
//
// create-default-admin: create or update the superuser account and make sure a
// platform-admin organization exists with that user in it
//
//	passportctl create-default-admin \
//		--email admin@example.com \
//		--first-name Ada \
//		--last-name Admin
//	# password from --password or $ADMIN_PASSWORD; --force overwrites an existing account
//
// list-platform-admins: print the platform-admin organization and its members
//
//	passportctl list-platform-admins
//
// cleanup-invitations: delete expired invitations that were never accepted
//
//	passportctl cleanup-invitations
//
// # Configuration
//
// Commands read the same PASSPORTD_* environment variables and optional
// PASSPORTD_CONFIG_FILE as passportd; see pkg/config.
package cli
