package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"go.uber.org/fx"

	"github.com/emergent-company/entitygraph/internal/config"
	"github.com/emergent-company/entitygraph/pkg/logger"
)

var Module = fx.Module("database",
	fx.Provide(
		NewPgxPool,
		NewBunDB,
		fx.Annotate(
			func(db *bun.DB) bun.IDB { return db },
			fx.As(new(bun.IDB)),
		),
	),
)

const (
	applicationName    = "entitygraph"
	connectTimeout     = 10 * time.Second
	slowQueryThreshold = 3 * time.Second
)

// PoolConfig builds the pgx pool settings for the configured database.
// Connections report themselves as "entitygraph" in pg_stat_activity.
func PoolConfig(dbCfg config.DatabaseConfig) (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(dbCfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse pgx config: %w", err)
	}
	pc.MaxConns = int32(dbCfg.MaxOpenConns)
	pc.MinConns = int32(min(dbCfg.MaxIdleConns, dbCfg.MaxOpenConns))
	pc.MaxConnIdleTime = dbCfg.MaxIdleTime
	pc.ConnConfig.RuntimeParams["application_name"] = applicationName
	return pc, nil
}

// NewPgxPool opens the shared pool and fails startup when the database is unreachable.
func NewPgxPool(lc fx.Lifecycle, cfg *config.Config, log *slog.Logger) (*pgxpool.Pool, error) {
	log = log.With(logger.Scope("database"))

	pc, err := PoolConfig(cfg.Database)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database %s:%d: %w", cfg.Database.Host, cfg.Database.Port, err)
	}

	log.Info("database pool ready",
		slog.String("host", cfg.Database.Host),
		slog.String("database", cfg.Database.Database),
		slog.Int("max_conns", int(pc.MaxConns)),
	)

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})
	return pool, nil
}

// NewBunDB exposes the pool through bun. Closing is left to the pool.
func NewBunDB(pool *pgxpool.Pool, cfg *config.Config, log *slog.Logger) *bun.DB {
	db := bun.NewDB(stdlib.OpenDBFromPool(pool), pgdialect.New())
	db.AddQueryHook(&queryHook{
		log:     log.With(logger.Scope("bun")),
		verbose: cfg.Database.QueryDebug,
	})
	return db
}

// queryHook logs failed and slow statements, and every statement when verbose.
type queryHook struct {
	log     *slog.Logger
	verbose bool
}

func (h *queryHook) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h *queryHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	elapsed := time.Since(event.StartTime)
	switch {
	case event.Err != nil && !errors.Is(event.Err, sql.ErrNoRows):
		if h.verbose {
			h.log.ErrorContext(ctx, "query failed",
				slog.String("query", event.Query),
				slog.Duration("duration", elapsed),
				logger.Error(event.Err),
			)
		}
	case elapsed > slowQueryThreshold:
		h.log.WarnContext(ctx, "slow query",
			slog.String("operation", event.Operation()),
			slog.String("query", event.Query),
			slog.Duration("duration", elapsed),
		)
	case h.verbose:
		h.log.DebugContext(ctx, "query",
			slog.String("query", event.Query),
			slog.Duration("duration", elapsed),
		)
	}
}

// LockEntity takes a transaction-scoped advisory lock keyed by the given parts.
// Concurrent writers for the same key serialize until the holder commits or rolls back.
func LockEntity(ctx context.Context, tx bun.IDB, parts ...string) error {
	key := strings.Join(parts, ":")
	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext(?))", key); err != nil {
		return fmt.Errorf("advisory lock %s: %w", key, err)
	}
	return nil
}

// SafeTx makes Rollback a no-op after a successful Commit, so it can be
// deferred unconditionally. When db is itself a transaction (integration
// tests) BeginTx opens a savepoint, and rolling back a released savepoint
// would abort the outer transaction.
type SafeTx struct {
	bun.Tx
	committed bool
}

func BeginSafeTx(ctx context.Context, db bun.IDB) (*SafeTx, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &SafeTx{Tx: tx}, nil
}

func (tx *SafeTx) Commit() error {
	if tx.committed {
		return nil
	}
	err := tx.Tx.Commit()
	if err == nil {
		tx.committed = true
	}
	return err
}

func (tx *SafeTx) Rollback() error {
	if tx.committed {
		return nil
	}
	return tx.Tx.Rollback()
}
