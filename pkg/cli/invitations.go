package cli

import (
	"context"
	"database/sql"
	"flag"
	"fmt"

	"github.com/platinummonkey/passportd/pkg/invites"
)

func newCleanupInvitationsCommand(env *Environment) *Command {
	cmd := &Command{
		Name:        "cleanup-invitations",
		Description: "Delete expired invitations that were never accepted",
		Flags:       flag.NewFlagSet("cleanup-invitations", flag.ContinueOnError),
	}

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		return withDB(ctx, env, func(db *sql.DB) error {
			svc := invites.NewService(db, env.Invitations, invites.WithLogger(env.Logger))
			removed, err := svc.CleanupExpired(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(env.out(), "Removed %d expired invitations\n", removed)
			return nil
		})
	}
	return cmd
}
