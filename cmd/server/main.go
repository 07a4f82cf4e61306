// Package main provides the entry point for the entity graph API server
//
// @title Entity Graph API
// @version 0.1.0
// @description Multi-tenant entity graph with traversal, analytics, semantic search and snapshots
// @BasePath /
// @schemes http https
package main

import (
	"log/slog"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/emergent-company/entitygraph/domain/audit"
	"github.com/emergent-company/entitygraph/domain/graph"
	"github.com/emergent-company/entitygraph/domain/health"
	"github.com/emergent-company/entitygraph/domain/scheduler"
	"github.com/emergent-company/entitygraph/domain/semantic"
	"github.com/emergent-company/entitygraph/domain/snapshots"
	"github.com/emergent-company/entitygraph/domain/tracing"
	"github.com/emergent-company/entitygraph/internal/config"
	"github.com/emergent-company/entitygraph/internal/database"
	"github.com/emergent-company/entitygraph/internal/migrate"
	"github.com/emergent-company/entitygraph/internal/server"
	"github.com/emergent-company/entitygraph/internal/storage"
	"github.com/emergent-company/entitygraph/internal/version"
	"github.com/emergent-company/entitygraph/pkg/auth"
	"github.com/emergent-company/entitygraph/pkg/embeddings"
	"github.com/emergent-company/entitygraph/pkg/llm"
	"github.com/emergent-company/entitygraph/pkg/logger"
)

func main() {
	// .env fills unset variables; .env.local overrides everything
	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env.local")

	fx.New(
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log}
		}),

		// Infrastructure
		logger.Module,
		config.Module,
		database.Module,
		migrate.Module,
		tracing.Module,
		server.Module,
		storage.Module,
		auth.Module,

		// Providers
		embeddings.Module,
		llm.Module,

		// Domain
		audit.Module,
		graph.Module,
		semantic.Module,
		snapshots.Module,
		scheduler.Module,
		health.Module,

		fx.Invoke(func(log *slog.Logger) {
			log.Info("starting " + version.Info().String())
		}),
	).Run()
}
