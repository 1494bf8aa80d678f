package cli

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/platinummonkey/passportd/pkg/config"
	"github.com/platinummonkey/passportd/pkg/observability"
)

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(ctx context.Context, args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

// Environment is what commands run against
type Environment struct {
	// Open connects to the database. Commands call it after their flags parse,
	// and call the returned close func when done.
	Open func(ctx context.Context) (*sql.DB, func() error, error)
	// Invitations configures cleanup-invitations
	Invitations config.InvitationConfig
	Getenv      func(string) string
	Out         io.Writer
	Logger      *observability.Logger
}

func (e *Environment) getenv(key string) string {
	if e.Getenv == nil {
		return os.Getenv(key)
	}
	return e.Getenv(key)
}

func (e *Environment) out() io.Writer {
	if e.Out == nil {
		return os.Stdout
	}
	return e.Out
}

// NewRootCommand creates the root command
func NewRootCommand(env *Environment) *Command {
	root := &Command{
		Name:        "passportctl",
		Description: "passportctl - passportd administration CLI",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("passportctl", flag.ContinueOnError),
	}

	// Add subcommands
	root.Subcommands["create-default-admin"] = newCreateDefaultAdminCommand(env)
	root.Subcommands["list-platform-admins"] = newListPlatformAdminsCommand(env)
	root.Subcommands["cleanup-invitations"] = newCleanupInvitationsCommand(env)

	root.Flags.SetOutput(env.out())
	for _, cmd := range root.Subcommands {
		cmd.Flags.SetOutput(env.out())
	}
	return root
}

// Execute runs the command named by the process arguments
func (c *Command) Execute(ctx context.Context) error {
	return c.ExecuteArgs(ctx, os.Args[1:])
}

// ExecuteArgs runs the subcommand named by args[0]
func (c *Command) ExecuteArgs(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return c.usage()
	}

	// Check for help flag
	if args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		return c.usage()
	}

	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(ctx, args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage() error {
	w := c.Flags.Output()
	fmt.Fprintf(w, "Usage: %s <command> [args]\n\n", c.Name)
	fmt.Fprintf(w, "Commands:\n")

	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-22s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}

// withDB opens the database for the duration of fn
func withDB(ctx context.Context, env *Environment, fn func(db *sql.DB) error) error {
	if env.Open == nil {
		return fmt.Errorf("no database configured")
	}
	db, closeDB, err := env.Open(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if closeDB != nil {
			if err := closeDB(); err != nil {
				observability.OrDefault(env.Logger).WithError(err).Warn("failed to close database")
			}
		}
	}()
	return fn(db)
}
