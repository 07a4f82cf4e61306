// Command backfill-embeddings generates missing node and edge embeddings,
// e.g. after enabling a provider or changing EMBEDDING_MODEL.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/emergent-company/entitygraph/domain/audit"
	"github.com/emergent-company/entitygraph/domain/graph"
	"github.com/emergent-company/entitygraph/domain/semantic"
	"github.com/emergent-company/entitygraph/internal/config"
	"github.com/emergent-company/entitygraph/pkg/embeddings"
	"github.com/emergent-company/entitygraph/pkg/embeddings/genai"
	"github.com/emergent-company/entitygraph/pkg/logger"
)

type options struct {
	tenant    string
	batchSize int
	delay     time.Duration
	dryRun    bool
	force     bool
}

func main() {
	var opts options
	flag.StringVar(&opts.tenant, "tenant", "", "Restrict to one tenant UUID (default: every tenant with nodes)")
	flag.IntVar(&opts.batchSize, "batch-size", 100, "Entities per batch request")
	flag.DurationVar(&opts.delay, "delay", 100*time.Millisecond, "Pause between batches")
	flag.BoolVar(&opts.dryRun, "dry-run", false, "Count missing embeddings without generating")
	flag.BoolVar(&opts.force, "force", false, "Regenerate even when the content hash is unchanged")
	flag.Parse()

	_ = godotenv.Load()

	log := logger.NewLogger()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, log); err != nil {
		log.Error("backfill failed", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, log *slog.Logger) error {
	cfg, err := config.NewConfig(log)
	if err != nil {
		return err
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Database.DSN())))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	tenants, err := tenantsToProcess(ctx, db, opts.tenant)
	if err != nil {
		return err
	}
	if len(tenants) == 0 {
		log.Info("no tenants with graph data")
		return nil
	}

	if opts.dryRun {
		for _, t := range tenants {
			nodes, edges, err := countMissing(ctx, db, t, cfg.Embeddings.Model)
			if err != nil {
				return err
			}
			log.Info("missing embeddings",
				slog.String("tenant_id", t.String()),
				slog.Int("nodes", nodes),
				slog.Int("edges", edges))
		}
		return nil
	}

	embedder, err := newEmbedder(ctx, cfg, log)
	if err != nil {
		return err
	}

	recorder := audit.NewService(audit.NewRepository(db, log), log)
	records := semantic.NewRepository(db, log)
	svc := semantic.NewService(records, records, graph.NewRepository(db, log), embedder, recorder, cfg, log)

	for _, t := range tenants {
		if err := backfillTenant(ctx, db, svc, t, cfg.Embeddings.Model, opts, log); err != nil {
			return fmt.Errorf("tenant %s: %w", t, err)
		}
	}
	return nil
}

func newEmbedder(ctx context.Context, cfg *config.Config, log *slog.Logger) (*embeddings.Service, error) {
	ec := cfg.Embeddings
	if !ec.IsEnabled() {
		return nil, fmt.Errorf("no embedding configuration: set GCP_PROJECT_ID or GOOGLE_API_KEY")
	}

	gcfg := genai.Config{Model: ec.Model, Dimension: ec.Dimension}
	provider := genai.ProviderGemini
	if ec.UseVertexAI() {
		gcfg.Project = ec.GCPProjectID
		gcfg.Location = ec.VertexAILocation
		provider = genai.ProviderVertex
	} else {
		gcfg.APIKey = ec.GoogleAPIKey
	}

	client, err := genai.NewClient(ctx, gcfg, genai.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("create embeddings client: %w", err)
	}
	return embeddings.NewServiceWithClient(client, provider, ec.Model, ec.RequestsPerSecond, log), nil
}

func tenantsToProcess(ctx context.Context, db bun.IDB, only string) ([]uuid.UUID, error) {
	if only != "" {
		id, err := uuid.Parse(only)
		if err != nil {
			return nil, fmt.Errorf("invalid -tenant: %w", err)
		}
		return []uuid.UUID{id}, nil
	}

	var tenants []uuid.UUID
	err := db.NewSelect().
		TableExpr("kb.graph_nodes").
		ColumnExpr("DISTINCT tenant_id").
		Scan(ctx, &tenants)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	return tenants, nil
}

// missingQuery selects active entities of a kind without a current record
// for the configured model, in id order after a cursor.
const missingQuery = `
	SELECT x.id FROM %s AS x
	WHERE x.tenant_id = ? AND x.is_active AND x.id > ?
	  AND NOT EXISTS (
		SELECT 1 FROM kb.embedding_records r
		WHERE r.entity_kind = ? AND r.entity_id = x.id
		  AND r.is_current AND r.model_version = ?)
	ORDER BY x.id
	LIMIT ?`

func tableFor(kind semantic.EntityKind) string {
	if kind == semantic.KindEdge {
		return "kb.graph_edges"
	}
	return "kb.graph_nodes"
}

func nextMissing(ctx context.Context, db bun.IDB, kind semantic.EntityKind, tenantID, after uuid.UUID, model string, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := db.NewRaw(fmt.Sprintf(missingQuery, tableFor(kind)), tenantID, after, kind, model, limit).Scan(ctx, &ids)
	if err != nil {
		return nil, fmt.Errorf("select missing %ss: %w", kind, err)
	}
	return ids, nil
}

func countMissing(ctx context.Context, db bun.IDB, tenantID uuid.UUID, model string) (nodes, edges int, err error) {
	count := func(kind semantic.EntityKind) (int, error) {
		var n int
		err := db.NewRaw(fmt.Sprintf(`SELECT count(*) FROM (`+missingQuery+`) AS m`, tableFor(kind)),
			tenantID, uuid.Nil, kind, model, 1<<30).Scan(ctx, &n)
		return n, err
	}
	if nodes, err = count(semantic.KindNode); err != nil {
		return 0, 0, err
	}
	if edges, err = count(semantic.KindEdge); err != nil {
		return 0, 0, err
	}
	return nodes, edges, nil
}

func backfillTenant(ctx context.Context, db bun.IDB, svc *semantic.Service, tenantID uuid.UUID, model string, opts options, log *slog.Logger) error {
	log = log.With(slog.String("tenant_id", tenantID.String()))

	for _, kind := range []semantic.EntityKind{semantic.KindNode, semantic.KindEdge} {
		var generated, skipped, failed int
		cursor := uuid.Nil
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			ids, err := nextMissing(ctx, db, kind, tenantID, cursor, model, opts.batchSize)
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				break
			}
			cursor = ids[len(ids)-1]

			req := semantic.BatchRequest{Force: opts.force}
			if kind == semantic.KindNode {
				req.NodeIDs = ids
			} else {
				req.EdgeIDs = ids
			}
			res, err := svc.GenerateBatch(ctx, tenantID, nil, req)
			if err != nil {
				return err
			}
			generated += res.Generated
			skipped += res.Skipped
			failed += res.Failed
			for _, f := range res.Failures {
				log.Warn("embedding failed",
					slog.String("kind", string(kind)),
					slog.String("entity_id", f.EntityID.String()),
					slog.String("error", f.Error))
			}

			log.Info("progress",
				slog.String("kind", string(kind)),
				slog.Int("generated", generated),
				slog.Int("failed", failed))

			if opts.delay > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(opts.delay):
				}
			}
		}
		log.Info("backfill complete",
			slog.String("kind", string(kind)),
			slog.Int("generated", generated),
			slog.Int("skipped", skipped),
			slog.Int("failed", failed))
	}
	return nil
}
