package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/emergent-company/entitygraph/internal/config"
	"github.com/emergent-company/entitygraph/internal/migrate"
)

const templateDBName = "entitygraph_test_template"

var (
	templateOnce sync.Once
	templateErr  error
)

// TestDB holds test database resources
type TestDB struct {
	Config  *config.Config
	Pool    *pgxpool.Pool
	DB      *bun.DB
	Name    string
	cleanup func()

	tx    bun.Tx
	hasTx bool
}

// Close releases test database resources and drops the database
func (t *TestDB) Close() {
	if t.cleanup != nil {
		t.cleanup()
	}
}

// GetDB returns the active test transaction, or the base DB outside one.
func (t *TestDB) GetDB() bun.IDB {
	if t.hasTx {
		return t.tx
	}
	return t.DB
}

// BeginTestTx starts a transaction that GetDB returns until rollback.
func (t *TestDB) BeginTestTx(ctx context.Context) error {
	if t.hasTx {
		return fmt.Errorf("transaction already started")
	}
	tx, err := t.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	t.tx = tx
	t.hasTx = true
	return nil
}

// RollbackTestTx discards everything written since BeginTestTx.
func (t *TestDB) RollbackTestTx() error {
	if !t.hasTx {
		return nil
	}
	err := t.tx.Rollback()
	t.hasTx = false
	return err
}

// SetupTestDB creates an isolated database cloned from a migrated template.
// The template is built once per test binary by running the goose
// migrations; each call then costs a CREATE DATABASE ... TEMPLATE.
func SetupTestDB(ctx context.Context, suffix string) (*TestDB, error) {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	baseCfg, err := config.NewConfig(log)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	templateOnce.Do(func() {
		templateErr = ensureTemplateDB(ctx, baseCfg)
	})
	if templateErr != nil {
		return nil, fmt.Errorf("ensure template db: %w", templateErr)
	}

	name := fmt.Sprintf("entitygraph_test_%s_%d", suffix, time.Now().UnixNano())

	adminPool, err := createPool(ctx, baseCfg, "postgres")
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	_, err = adminPool.Exec(ctx, fmt.Sprintf("CREATE DATABASE %s TEMPLATE %s", name, templateDBName))
	adminPool.Close()
	if err != nil {
		return nil, fmt.Errorf("create test db from template: %w", err)
	}

	testCfg := *baseCfg
	testCfg.Database.Database = name

	pool, err := createPool(ctx, baseCfg, name)
	if err != nil {
		dropDB(ctx, baseCfg, name)
		return nil, fmt.Errorf("connect to test db: %w", err)
	}
	db := bun.NewDB(stdlib.OpenDBFromPool(pool), pgdialect.New())

	return &TestDB{
		Config: &testCfg,
		Pool:   pool,
		DB:     db,
		Name:   name,
		cleanup: func() {
			_ = db.Close()
			pool.Close()
			dropDB(context.Background(), baseCfg, name)
		},
	}, nil
}

func ensureTemplateDB(ctx context.Context, baseCfg *config.Config) error {
	adminPool, err := createPool(ctx, baseCfg, "postgres")
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer adminPool.Close()

	var exists bool
	err = adminPool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", templateDBName).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check template exists: %w", err)
	}
	if exists {
		return nil
	}

	if _, err := adminPool.Exec(ctx, fmt.Sprintf("CREATE DATABASE %s", templateDBName)); err != nil {
		return fmt.Errorf("create template db: %w", err)
	}

	pool, err := createPool(ctx, baseCfg, templateDBName)
	if err != nil {
		dropDB(ctx, baseCfg, templateDBName)
		return fmt.Errorf("connect to template db: %w", err)
	}
	sqldb := stdlib.OpenDBFromPool(pool)
	defer func() {
		_ = sqldb.Close()
		pool.Close()
	}()

	if err := migrate.RunWithDB(ctx, sqldb); err != nil {
		dropDB(ctx, baseCfg, templateDBName)
		return fmt.Errorf("migrate template db: %w", err)
	}
	return nil
}

func createPool(ctx context.Context, baseCfg *config.Config, database string) (*pgxpool.Pool, error) {
	dbCfg := baseCfg.Database
	dbCfg.Database = database
	poolConfig, err := pgxpool.ParseConfig(dbCfg.DSN())
	if err != nil {
		return nil, err
	}
	poolConfig.MaxConns = 5
	return pgxpool.NewWithConfig(ctx, poolConfig)
}

func dropDB(ctx context.Context, baseCfg *config.Config, name string) {
	pool, err := createPool(ctx, baseCfg, "postgres")
	if err != nil {
		return
	}
	defer pool.Close()

	_, _ = pool.Exec(ctx, `
		SELECT pg_terminate_backend(pid)
		FROM pg_stat_activity
		WHERE datname = $1 AND pid <> pg_backend_pid()`, name)
	_, _ = pool.Exec(ctx, fmt.Sprintf("DROP DATABASE IF EXISTS %s", name))
}

// DropTemplateDB forces the next run to rebuild the template from migrations.
func DropTemplateDB(ctx context.Context) error {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	baseCfg, err := config.NewConfig(log)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	dropDB(ctx, baseCfg, templateDBName)
	return nil
}
