package cli

import (
	"bytes"
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/passportd/pkg/storage/storagetest"
)

func testEnv(t *testing.T) (*Environment, *sql.DB, *bytes.Buffer) {
	t.Helper()
	db := storagetest.NewDB(t)
	var out bytes.Buffer
	env := &Environment{
		Open: func(ctx context.Context) (*sql.DB, func() error, error) {
			return db, nil, nil
		},
		Getenv: func(string) string { return "" },
		Out:    &out,
	}
	return env, db, &out
}

func TestNewRootCommand(t *testing.T) {
	env, _, _ := testEnv(t)
	root := NewRootCommand(env)

	assert.Equal(t, "passportctl", root.Name)
	assert.NotNil(t, root.Flags)

	expectedCommands := []string{
		"create-default-admin",
		"list-platform-admins",
		"cleanup-invitations",
	}
	for _, cmdName := range expectedCommands {
		assert.Contains(t, root.Subcommands, cmdName, "Expected subcommand %s to be registered", cmdName)
		assert.NotNil(t, root.Subcommands[cmdName].Run)
	}
	assert.Equal(t, len(expectedCommands), len(root.Subcommands))
}

func TestCommandUsage(t *testing.T) {
	env, _, out := testEnv(t)
	root := NewRootCommand(env)

	require.NoError(t, root.ExecuteArgs(context.Background(), nil))
	output := out.String()
	assert.Contains(t, output, "Usage: passportctl <command> [args]")
	assert.Contains(t, output, "cleanup-invitations")

	out.Reset()
	require.NoError(t, root.ExecuteArgs(context.Background(), []string{"--help"}))
	assert.Contains(t, out.String(), "list-platform-admins")
}

func TestExecuteUnknownCommand(t *testing.T) {
	env, _, _ := testEnv(t)
	err := NewRootCommand(env).ExecuteArgs(context.Background(), []string{"frobnicate"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command: frobnicate")
}

func TestWithDB_NoDatabase(t *testing.T) {
	err := withDB(context.Background(), &Environment{}, func(*sql.DB) error { return nil })
	require.Error(t, err)
}
