package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/majordomo-ai/majordomo/internal/capability"
	"github.com/majordomo-ai/majordomo/internal/capability/memoryprov"
	"github.com/majordomo-ai/majordomo/internal/dispatch"
	"github.com/majordomo-ai/majordomo/internal/gateway"
	"github.com/majordomo-ai/majordomo/internal/governance"
	"github.com/majordomo-ai/majordomo/internal/observability"
	"github.com/majordomo-ai/majordomo/internal/oracle"
	"github.com/majordomo-ai/majordomo/internal/orchestrator"
	"github.com/majordomo-ai/majordomo/internal/planner"
	"github.com/majordomo-ai/majordomo/internal/store"
	"github.com/majordomo-ai/majordomo/pkg/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "majordomo:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	var st store.Store
	var pruner *store.Pruner
	switch cfg.Store.Backend {
	case "sqlite":
		db, err := store.NewSQLite(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("open workflow store: %w", err)
		}
		defer db.Close()
		st = db
		pruner = store.NewPruner(db, 5*time.Minute, logger)
	default:
		st = store.NewMemory()
	}
	logger.Info("workflow store ready", slog.String("backend", cfg.Store.Backend))

	registry := capability.NewRegistry()
	if err := memoryprov.RegisterAll(registry); err != nil {
		return fmt.Errorf("register providers: %w", err)
	}

	if cfg.Oracle.APIKey == "" {
		return fmt.Errorf("oracle API key is not set (MAJORDOMO_ORACLE_API_KEY)")
	}
	opts := []openai.Option{
		openai.WithToken(cfg.Oracle.APIKey),
		openai.WithModel(cfg.Oracle.Model),
	}
	if cfg.Oracle.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.Oracle.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return fmt.Errorf("initialize model: %w", err)
	}
	oracleOpts := []oracle.Option{}
	if cfg.Oracle.PromptDir != "" {
		prompts, err := oracle.LoadPrompts(cfg.Oracle.PromptDir)
		if err != nil {
			return fmt.Errorf("load prompts: %w", err)
		}
		oracleOpts = append(oracleOpts, oracle.WithPrompts(prompts))
	}
	brain := oracle.NewLLM(llm, cfg.Oracle.Timeout, oracleOpts...)

	classifier := planner.NewClassifier(brain)
	if cfg.Oracle.MinConfidence > 0 {
		classifier.MinConfidence = cfg.Oracle.MinConfidence
	}

	policy := governance.NewDefaultPolicyEngine()
	for _, op := range cfg.Policy.DeniedOperations {
		policy.DenyOperation(op)
	}
	for _, pattern := range cfg.Policy.DeniedPatterns {
		if err := policy.DenyParams(pattern); err != nil {
			return fmt.Errorf("invalid policy pattern %q: %w", pattern, err)
		}
	}
	dispatcher := dispatch.New(registry, dispatch.Config{
		CallTimeout: cfg.Dispatch.CallTimeout,
		MaxAttempts: cfg.Dispatch.MaxAttempts,
	}, logger).WithPolicy(policy)

	orch, err := orchestrator.New(orchestrator.Deps{
		Store:      st,
		Planner:    planner.NewPlanner(brain, registry),
		Analyzer:   planner.NewAnalyzer(brain),
		Classifier: classifier,
		Dispatcher: dispatcher,
		Logger:     logger,
	}, orchestrator.Config{
		MaxSteps:    cfg.Orchestrator.MaxSteps,
		WorkflowTTL: cfg.Orchestrator.WorkflowTTL,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if pruner != nil {
		go pruner.Start(ctx)
	}

	sessionID := uuid.NewString()
	console := gateway.NewConsole(orch, os.Stdin, os.Stdout, sessionID, "console", logger)
	logger.Info("console session started", slog.String("session_id", sessionID))

	if err := console.Start(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("shutting down")
	return nil
}
