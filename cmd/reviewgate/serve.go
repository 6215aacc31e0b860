package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"reviewgate/internal/attest"
	"reviewgate/internal/config"
	"reviewgate/internal/contract"
	"reviewgate/internal/decision"
	"reviewgate/internal/faults"
	"reviewgate/internal/hosting"
	"reviewgate/internal/idempotency"
	"reviewgate/internal/metrics"
	"reviewgate/internal/pipeline"
	"reviewgate/internal/review"
	"reviewgate/internal/semaphore"
	"reviewgate/internal/server"
	"reviewgate/internal/store"
)

// localHistoryBound caps the in-memory decision ring when no shared store
// backs the history.
const localHistoryBound = 1000

func runServe(cmd *cobra.Command, _ []string) error {
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// The boot validator refuses to serve under a drifted contract.
	active, err := contract.ValidateActive()
	if err != nil {
		var mismatch *contract.MismatchError
		if errors.As(err, &mismatch) {
			fmt.Fprintln(os.Stderr, mismatch.Error())
		}
		return fmt.Errorf("contract validation: %w", err)
	}
	logger.Info("contract validated",
		zap.String("version", active.Version),
		zap.String("hash", active.ContractHash))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fc, err := faults.NewController(cfg.Faults.Enabled, cfg.Faults.Triggers, logger)
	if err != nil {
		return fmt.Errorf("fault plan: %w", err)
	}
	if fc.Enabled() {
		logger.Warn("fault injection is enabled; do not run this configuration in production")
	}
	if cfg.Faults.PlanFile != "" {
		go func() {
			if err := fc.Watch(ctx, cfg.Faults.PlanFile, config.LoadFaultPlan); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("fault plan watcher stopped", zap.Error(err))
			}
		}()
	}

	// Shared-store singletons when Redis is configured, local otherwise.
	var (
		st           *store.Client
		guard        idempotency.Guard
		pipeSem      semaphore.Semaphore
		llmSem       semaphore.Semaphore
		history      decision.History
		storeHealthy func(context.Context) bool
	)
	if cfg.Redis.Enabled {
		st, err = store.Dial(cfg.Redis.URL, logger)
		if err != nil {
			return fmt.Errorf("shared store: %w", err)
		}
		defer st.Close()
		st.SetFaultHook(func(ctx context.Context) error {
			return fc.MaybeInject(ctx, faults.SharedStoreUnavailable)
		})
		guard = idempotency.NewSharedGuard(st, cfg.IdempotencyTTL(), logger)
		pipeSem = semaphore.NewShared(st, "reviewgate:permits:pipeline", cfg.Limits.PipelinePermits, fc, logger)
		llmSem = semaphore.NewShared(st, "reviewgate:permits:llm", cfg.Limits.LLMPermits, fc, logger)
		history = decision.NewSharedHistory(st, logger)
		storeHealthy = st.Healthy
		logger.Info("shared store connected", zap.String("url", cfg.Redis.URL))
	} else {
		guard = idempotency.NewLocalGuard(cfg.IdempotencyTTL(), cfg.Idempotency.MaxEntries)
		pipeSem = semaphore.NewLocal(cfg.Limits.PipelinePermits, fc, logger)
		llmSem = semaphore.NewLocal(cfg.Limits.LLMPermits, fc, logger)
		history = decision.NewLocalHistory(localHistoryBound)
		storeHealthy = func(context.Context) bool { return false }
	}

	provider, err := buildProvider(ctx, cfg)
	if err != nil {
		return err
	}
	logger.Info("model provider ready",
		zap.String("provider", provider.Name()),
		zap.String("model", cfg.LLM.Model))

	rest := hosting.NewRESTClient(cfg.HostingAPIBase, cfg.HostingToken, logger)
	m := metrics.New(fc, logger)

	pipe := pipeline.New(pipeline.Deps{
		Guard:        guard,
		PipelineSem:  pipeSem,
		LLMSem:       llmSem,
		Faults:       fc,
		Contract:     active,
		History:      history,
		Ledger:       attest.NewLedger(),
		Metrics:      m,
		Diff:         rest,
		Comments:     rest,
		Reviewer: review.NewGenerator(provider, llmSem, fc, logger,
			review.WithCallBounds(cfg.LLM.Timeout, cfg.LLM.MaxRetries)),
		StoreEnabled: cfg.Redis.Enabled,
		StoreHealthy: storeHealthy,
		MaxFiles:     cfg.Limits.MaxFiles,
		MaxChanges:   cfg.Limits.MaxChanges,
		Logger:       logger,
	})

	metricsDeps := func() metrics.Deps {
		healthy := false
		if cfg.Redis.Enabled {
			hctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			healthy = storeHealthy(hctx)
			cancel()
		}
		return metrics.Deps{
			Pipeline:     pipeSem,
			LLM:          llmSem,
			Guard:        guard,
			StoreEnabled: cfg.Redis.Enabled,
			StoreHealthy: healthy,
		}
	}

	srv, err := server.New(server.Options{
		Addr:          fmt.Sprintf(":%d", cfg.Port),
		WebhookSecret: cfg.WebhookSecret,
		Pipeline:      pipe,
		History:       history,
		Index:         attest.NewIndex(history),
		Metrics:       m,
		MetricsDeps:   metricsDeps,
		Logger:        logger,
		ReadTimeout:   cfg.Server.ReadTimeout,
		WriteTimeout:  cfg.Server.WriteTimeout,
		ShutdownGrace: cfg.Server.ShutdownGrace,
		MaxConns:      cfg.Server.MaxConns,
	})
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

func buildProvider(ctx context.Context, cfg *config.Config) (review.Provider, error) {
	switch cfg.LLM.Provider {
	case config.ProviderGemini:
		return review.NewGeminiProvider(ctx, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.MaxTokens)
	case config.ProviderAnthropic:
		return review.NewAnthropicProvider(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.MaxTokens)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}
