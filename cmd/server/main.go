// Package main runs the scribe server: the HTTP API, the task worker pool,
// the backup poller and the chat stream manager in one process.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/phrazzld/scribe/internal/config"
	"github.com/phrazzld/scribe/internal/platform/logger"
	"github.com/phrazzld/scribe/internal/platform/postgres"
	"github.com/phrazzld/scribe/internal/service/auth"
)

func main() {
	migrateOnly := flag.Bool("migrate", false, "apply database migrations and exit")
	issueToken := flag.String("issue-token", "", "print a bearer token for the given user ID and exit")
	admin := flag.Bool("admin", false, "with -issue-token, grant the admin role")
	flag.Parse()

	if err := run(*migrateOnly, *issueToken, *admin); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(migrateOnly bool, issueToken string, admin bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}
	log.Info("server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"llm_provider", cfg.LLM.Provider)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch {
	case issueToken != "":
		return printToken(ctx, cfg, issueToken, admin)
	case migrateOnly:
		db, err := postgres.Open(ctx, cfg.Database.URL)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		return postgres.Migrate(ctx, db, log)
	}

	infra, err := connectInfrastructure(ctx, cfg, log)
	if err != nil {
		return err
	}

	app, err := newApplication(cfg, log, infra)
	if err != nil {
		infra.close(log)
		return err
	}
	return app.Run(ctx)
}

// printToken writes a signed token for userID to stdout.
func printToken(ctx context.Context, cfg *config.Config, rawUserID string, admin bool) error {
	userID, err := uuid.Parse(rawUserID)
	if err != nil {
		return fmt.Errorf("invalid user ID %q: %w", rawUserID, err)
	}

	jwtService, err := auth.NewJWTService(cfg.Auth)
	if err != nil {
		return err
	}

	role := ""
	if admin {
		role = auth.RoleAdmin
	}
	token, err := jwtService.GenerateToken(ctx, userID, role)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(os.Stdout, token)
	return err
}
