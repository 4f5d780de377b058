package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/spf13/viper"

	"github.com/rupjae/jules/internal/config"
	"github.com/rupjae/jules/internal/database"
	"github.com/rupjae/jules/internal/gate"
	"github.com/rupjae/jules/internal/generate"
	"github.com/rupjae/jules/internal/knowledge"
	"github.com/rupjae/jules/internal/observability"
	"github.com/rupjae/jules/internal/persist"
	"github.com/rupjae/jules/internal/pipeline"
	"github.com/rupjae/jules/internal/retrieval"
	"github.com/rupjae/jules/internal/thread"
)

// Setup initializes the service from a loaded configuration. v is the viper
// instance the config was loaded from; it drives tuning hot reload. On error
// everything already initialized is torn down.
func Setup(ctx context.Context, cfg *config.Config, v *viper.Viper, logger *slog.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	// Tracing first so genkit's TracerProvider has its processor before any
	// flow runs.
	traceCleanup, err := observability.Setup(ctx, observability.Config{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.ServiceName,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}
	a.traceCleanup = traceCleanup

	pool, dbCleanup, err := database.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.dbCleanup = dbCleanup
	a.Pool = pool

	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return nil, errors.New("initializing genkit")
	}
	a.Genkit = g

	embedder := googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found", cfg.EmbedderModel)
	}
	a.Embedder = embedder

	a.Watcher = config.NewWatcher(v, cfg.Tuning, logger)
	a.Knowledge = knowledge.New(knowledge.NewQuerier(pool), embedder, logger)
	a.Threads = thread.New(pool, cfg.Tuning.MaxContentLength, logger)
	a.Coordinator = persist.New(a.Threads, a.Knowledge, logger)

	summarizer := retrieval.NewModelSummarizer(g, cfg.DecisionModel)
	retriever := retrieval.New(a.Knowledge, summarizer, logger)
	generator := generate.New(g, generate.Config{
		Model:  cfg.GenerationModel,
		Logger: logger,
	})

	p, err := pipeline.New(pipeline.Config{
		Decider:         provideDecider(a.Watcher, g, cfg, logger),
		Retriever:       retriever,
		Generator:       generator,
		Coord:           a.Coordinator,
		History:         a.Threads,
		Params:          provideParams(a.Watcher),
		MaxPromptLength: cfg.Tuning.MaxPromptLength,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}
	a.Pipeline = p

	return a, nil
}

// provideDecider rebuilds the gate from the current tuning snapshot on every
// call, so trigger-term and threshold edits apply without a restart. Gate
// construction is two closures; rebuilding is cheaper than synchronizing.
func provideDecider(w *config.Watcher, g *genkit.Genkit, cfg *config.Config, logger *slog.Logger) pipeline.Decider {
	var classifier gate.Policy
	if cfg.Tuning.UseClassifier && cfg.DecisionModel != "" {
		classifier = gate.NewClassifierPolicy(g, cfg.DecisionModel, logger)
	}

	return deciderFunc(func(ctx context.Context, prompt string) bool {
		t := w.Tuning()
		gateCfg := gate.Config{TriggerTerms: t.TriggerTerms, LengthThreshold: t.LengthThreshold}
		if classifier != nil {
			return gate.New(gateCfg, logger, gate.WithPolicies(
				gate.NewTriggerPolicy(t.TriggerTerms),
				classifier,
				gate.NewLengthPolicy(t.LengthThreshold),
			)).Decide(ctx, prompt)
		}
		return gate.New(gateCfg, logger).Decide(ctx, prompt)
	})
}

// provideParams snapshots retrieval tuning per request.
func provideParams(w *config.Watcher) func() retrieval.Params {
	return func() retrieval.Params {
		t := w.Tuning()
		return retrieval.Params{
			TopK:       t.TopK,
			Oversample: t.Oversample,
			Lambda:     t.Lambda,
			TokenCap:   t.TokenCap,
		}
	}
}

type deciderFunc func(ctx context.Context, prompt string) bool

func (f deciderFunc) Decide(ctx context.Context, prompt string) bool {
	return f(ctx, prompt)
}
