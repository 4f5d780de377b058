// Package app assembles the whole service: configuration, database, genkit,
// the conversation pipeline, and their teardown order.
package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rupjae/jules/internal/config"
	"github.com/rupjae/jules/internal/knowledge"
	"github.com/rupjae/jules/internal/persist"
	"github.com/rupjae/jules/internal/pipeline"
	"github.com/rupjae/jules/internal/thread"
)

// shutdownTimeout bounds trace flushing on Close.
const shutdownTimeout = 5 * time.Second

// App holds the initialized service. Construct with Setup, release with
// Close.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	Pool     *pgxpool.Pool

	Knowledge   *knowledge.Store
	Threads     *thread.Store
	Coordinator *persist.Coordinator
	Pipeline    *pipeline.Pipeline
	Watcher     *config.Watcher

	dbCleanup    func()
	traceCleanup func(context.Context) error
}

// Close releases resources in reverse initialization order. Safe to call on
// a partially initialized App.
func (a *App) Close() error {
	var errs []error

	if a.traceCleanup != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.traceCleanup(ctx); err != nil {
			errs = append(errs, err)
		}
		cancel()
	}
	if a.dbCleanup != nil {
		a.dbCleanup()
	}

	return errors.Join(errs...)
}
