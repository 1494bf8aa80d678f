package cli

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/platinummonkey/passportd/pkg/apperr"
	"github.com/platinummonkey/passportd/pkg/invites"
	"github.com/platinummonkey/passportd/pkg/orgs"
	"github.com/platinummonkey/passportd/pkg/users"
)

// DefaultPlatformOrganization names the organization create-default-admin creates
const DefaultPlatformOrganization = "Platform Administration"

func newCreateDefaultAdminCommand(env *Environment) *Command {
	cmd := &Command{
		Name:        "create-default-admin",
		Description: "Create or update the superuser and the platform-admin organization",
		Flags:       flag.NewFlagSet("create-default-admin", flag.ContinueOnError),
	}

	email := cmd.Flags.String("email", "", "Superuser email")
	password := cmd.Flags.String("password", "", "Superuser password (defaults to $ADMIN_PASSWORD)")
	firstName := cmd.Flags.String("first-name", "Admin", "First name")
	lastName := cmd.Flags.String("last-name", "", "Last name")
	orgName := cmd.Flags.String("organization", DefaultPlatformOrganization, "Name of the platform-admin organization, if one must be created")
	force := cmd.Flags.Bool("force", false, "Overwrite an existing account")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		opts := adminOptions{
			Email:        strings.TrimSpace(*email),
			Password:     *password,
			FirstName:    *firstName,
			LastName:     *lastName,
			Organization: *orgName,
			Force:        *force,
		}
		if opts.Password == "" {
			opts.Password = env.getenv("ADMIN_PASSWORD")
		}
		if opts.Email == "" {
			return fmt.Errorf("--email is required")
		}
		if opts.Password == "" {
			return fmt.Errorf("--password or ADMIN_PASSWORD is required")
		}
		if err := invites.DefaultPolicy.Check(opts.Password); err != nil {
			return err
		}

		return withDB(ctx, env, func(db *sql.DB) error {
			return createDefaultAdmin(ctx, env, db, opts)
		})
	}
	return cmd
}

type adminOptions struct {
	Email        string
	Password     string
	FirstName    string
	LastName     string
	Organization string
	Force        bool
}

func createDefaultAdmin(ctx context.Context, env *Environment, db *sql.DB, opts adminOptions) error {
	out := env.out()
	store := users.NewStore(db)
	hash, err := users.HashPassword(opts.Password)
	if err != nil {
		return err
	}

	user, err := store.GetByEmail(ctx, opts.Email)
	switch {
	case apperr.IsNotFound(err):
		user = &users.User{
			Email:        opts.Email,
			FirstName:    opts.FirstName,
			LastName:     opts.LastName,
			PasswordHash: hash,
			IsActive:     true,
			IsStaff:      true,
			IsSuperuser:  true,
		}
		if err := store.Create(ctx, user); err != nil {
			return err
		}
		fmt.Fprintf(out, "Created superuser %s\n", user.Email)
	case err != nil:
		return err
	case !opts.Force:
		return fmt.Errorf("user %s already exists, use --force to overwrite", user.Email)
	default:
		user.FirstName = opts.FirstName
		user.LastName = opts.LastName
		user.PasswordHash = hash
		user.IsActive = true
		user.IsStaff = true
		user.IsSuperuser = true
		if err := store.Update(ctx, user); err != nil {
			return err
		}
		fmt.Fprintf(out, "Updated superuser %s\n", user.Email)
	}

	svc := orgs.NewService(db, orgs.WithLogger(env.Logger))
	org, err := svc.PlatformAdminOrganization(ctx)
	if apperr.Is(err, apperr.KindConfigurationFatal) {
		org, err = svc.CreateOrganization(ctx, user, orgs.CreateRequest{
			Name:            opts.Organization,
			IsPlatformAdmin: true,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Created platform-admin organization %s (%s)\n", org.Name, org.Slug)
		return nil
	}
	if err != nil {
		return err
	}

	role, err := svc.RoleOf(ctx, org, user.ID)
	if err != nil {
		return err
	}
	if role == orgs.RoleNone {
		if err := svc.Store().UpsertMembership(ctx, org.ID, user.ID, true, time.Now().UTC()); err != nil {
			return err
		}
		fmt.Fprintf(out, "Added %s to platform-admin organization %s\n", user.Email, org.Slug)
	}
	return nil
}

func newListPlatformAdminsCommand(env *Environment) *Command {
	cmd := &Command{
		Name:        "list-platform-admins",
		Description: "List the members of the platform-admin organization",
		Flags:       flag.NewFlagSet("list-platform-admins", flag.ContinueOnError),
	}

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		return withDB(ctx, env, func(db *sql.DB) error {
			svc := orgs.NewService(db, orgs.WithLogger(env.Logger))
			org, err := svc.PlatformAdminOrganization(ctx)
			if err != nil {
				return err
			}
			members, err := svc.OrganizationUsers(ctx, org)
			if err != nil {
				return err
			}

			fmt.Fprintf(env.out(), "%s (%s)\n\n", org.Name, org.Slug)
			tw := tabwriter.NewWriter(env.out(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "EMAIL\tNAME\tROLE")
			for _, m := range members {
				name := strings.TrimSpace(m.FirstName + " " + m.LastName)
				fmt.Fprintf(tw, "%s\t%s\t%s\n", m.Email, name, m.Label)
			}
			return tw.Flush()
		})
	}
	return cmd
}
