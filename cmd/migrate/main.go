// Command migrate applies or inspects the goose database migrations.
//
//	migrate up           apply all pending migrations
//	migrate up-to N      apply up to version N
//	migrate down         roll back the last migration
//	migrate status       print applied and pending migrations
//	migrate version      print the current version
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/emergent-company/entitygraph/internal/config"
	"github.com/emergent-company/entitygraph/internal/migrate"
	"github.com/emergent-company/entitygraph/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: migrate <up|up-to N|down|status|version>")
		os.Exit(2)
	}

	cfg, err := config.NewConfig(logger.NewLogger())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log, err := migrate.NewZapLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(context.Background(), cfg, log, os.Args[1:]); err != nil {
		log.Fatal("migration command failed", zap.String("command", os.Args[1]), zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger, args []string) error {
	db, err := sql.Open("pgx", cfg.Database.DSN())
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	m := migrate.NewMigrator(db, log)
	switch args[0] {
	case "up":
		return m.Up(ctx)
	case "up-to":
		if len(args) < 2 {
			return fmt.Errorf("up-to needs a version")
		}
		v, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[1], err)
		}
		return m.UpTo(ctx, v)
	case "down":
		return m.Down(ctx)
	case "status":
		return m.Status(ctx)
	case "version":
		v, err := m.Version(ctx)
		if err != nil {
			return err
		}
		log.Info("current database version", zap.Int64("version", v))
		return nil
	}
	return fmt.Errorf("unknown command %q", args[0])
}
