package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/platinummonkey/passportd/pkg/cli"
	"github.com/platinummonkey/passportd/pkg/config"
	"github.com/platinummonkey/passportd/pkg/observability"
	"github.com/platinummonkey/passportd/pkg/storage/postgres"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg.Observability.Level(), os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := cli.NewRootCommand(&cli.Environment{
		Open: func(ctx context.Context) (*sql.DB, func() error, error) {
			conns, err := postgres.NewConnectionManager(postgres.ConnectionConfigFrom(cfg.Storage), logger)
			if err != nil {
				return nil, nil, err
			}
			return conns.Primary(), conns.Close, nil
		},
		Invitations: cfg.Invitations,
		Out:         os.Stdout,
		Logger:      logger,
	})

	if err := rootCmd.Execute(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
