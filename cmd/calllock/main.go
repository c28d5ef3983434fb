// Command calllock is the main entry point for the dispatcher voice-agent
// conversation core. It loads configuration, wires the state machine, tool
// backend client, extraction/classification LLM providers, post-call
// webhook delivery, and the health/metrics HTTP server, then blocks until a
// shutdown signal arrives.
//
// calllock does not itself speak to a telephony network, STT/TTS engine, or
// VAD — those are external collaborators per spec.md §1. A surrounding
// pipeline framework is expected to call internal/dispatcher.Service.NewCall
// for each inbound call and drive pkg/callpipeline's Downstream/
// ContextAggregator boundary; this binary only stands up the deterministic
// core and its supporting HTTP surface (health, readiness, Prometheus
// metrics).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rbaset5/calllock-server-sub001/internal/config"
	"github.com/rbaset5/calllock-server-sub001/internal/dispatcher"
	"github.com/rbaset5/calllock-server-sub001/internal/extraction"
	"github.com/rbaset5/calllock-server-sub001/internal/fsm"
	"github.com/rbaset5/calllock-server-sub001/internal/frameproc"
	"github.com/rbaset5/calllock-server-sub001/internal/health"
	"github.com/rbaset5/calllock-server-sub001/internal/observe"
	"github.com/rbaset5/calllock-server-sub001/internal/postcall"
	"github.com/rbaset5/calllock-server-sub001/internal/postcall/pgstore"
	"github.com/rbaset5/calllock-server-sub001/internal/resilience"
	"github.com/rbaset5/calllock-server-sub001/internal/toolclient"
	"github.com/rbaset5/calllock-server-sub001/internal/webhook"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/rbaset5/calllock-server-sub001/pkg/provider/llm"
	"github.com/rbaset5/calllock-server-sub001/pkg/provider/llm/anyllm"
	"github.com/rbaset5/calllock-server-sub001/pkg/provider/llm/openai"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ───────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "calllock: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "calllock: %v\n", err)
		}
		return 1
	}

	// ── Logger ───────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("calllock starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ────────────────────────────────────────────────────
	shutdownObserve, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "calllock"})
	if err != nil {
		slog.Error("failed to initialise observability providers", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownObserve(shutdownCtx); err != nil {
			slog.Error("observability shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Provider registry (LLM roles only — telephony/STT/TTS/VAD are
	//    external collaborators and are not configured here) ──────────────
	reg := config.NewRegistry()
	reg.RegisterLLM("openai", newOpenAIProvider)
	for _, name := range []string{"anthropic", "gemini", "ollama", "deepseek", "mistral", "groq"} {
		reg.RegisterLLM(name, newAnyLLMProvider)
	}

	primary, err := reg.CreateLLM(cfg.Providers.Primary)
	if err != nil {
		slog.Error("failed to create primary LLM provider", "name", cfg.Providers.Primary.Name, "err", err)
		return 1
	}
	conversational := primary
	if cfg.Providers.Fallback.Name != "" {
		fallback, err := reg.CreateLLM(cfg.Providers.Fallback)
		if err != nil {
			slog.Error("failed to create fallback LLM provider", "name", cfg.Providers.Fallback.Name, "err", err)
			return 1
		}
		group := resilience.NewLLMFallback(primary, cfg.Providers.Primary.Name, resilience.FallbackConfig{
			CircuitBreaker: resilience.CircuitBreakerConfig{Name: "llm-conversational"},
		})
		group.AddFallback(cfg.Providers.Fallback.Name, fallback)
		conversational = group
		slog.Info("conversational LLM failover configured", "primary", cfg.Providers.Primary.Name, "fallback", cfg.Providers.Fallback.Name)
	}
	// conversational is not called by calllock itself: spec.md §4.3 keeps the
	// frame processor deterministic and pushes the actual turn-generation LLM
	// call into the external pipeline via pkg/callpipeline.Downstream.TriggerLLM.
	// It is constructed here anyway so the surrounding pipeline framework can
	// take it (with failover already wired) rather than building its own.
	_ = conversational

	extractionProvider := primary
	if cfg.Providers.Extraction.Name != "" {
		extractionProvider, err = reg.CreateLLM(cfg.Providers.Extraction)
		if err != nil {
			slog.Error("failed to create extraction LLM provider", "name", cfg.Providers.Extraction.Name, "err", err)
			return 1
		}
	}

	// ── Tool backend, extraction, classification, webhook delivery ───────
	tools := toolclient.New(cfg.ToolAPI.BaseURL, cfg.ToolAPI.AuthToken,
		toolclient.WithTimeout(cfg.ToolAPI.Timeout),
	)
	extractor := extraction.New(extractionProvider, logger)
	classifier := postcall.NewClassifier(extractionProvider)

	webhookClient := webhook.New(cfg.Webhook.BaseURL, cfg.Webhook.Secret,
		webhook.WithTimeout(cfg.Webhook.Timeout),
		webhook.WithRetries(cfg.Webhook.MaxRetries, 500*time.Millisecond, 5*time.Second),
		webhook.WithLogger(logger),
	)

	orchestratorOpts := []postcall.Option{postcall.WithMetrics(metrics)}
	var callStore *pgstore.Store
	if cfg.CallLog.PostgresDSN != "" {
		callStore, err = pgstore.NewStore(ctx, cfg.CallLog.PostgresDSN)
		if err != nil {
			slog.Error("failed to connect to durable call-log store", "err", err)
			return 1
		}
		defer callStore.Close()
		orchestratorOpts = append(orchestratorOpts, postcall.WithDurableStore(callStore))
	} else {
		slog.Warn("call_log.postgres_dsn not set — the idempotency gate will not survive a process restart")
	}
	orchestrator := postcall.New(webhookClient, classifier, logger, orchestratorOpts...)

	// ── State machine ─────────────────────────────────────────────────────
	loc, err := time.LoadLocation(cfg.Dispatch.Timezone)
	if err != nil {
		slog.Error("invalid dispatch.timezone", "timezone", cfg.Dispatch.Timezone, "err", err)
		return 1
	}
	machine := fsm.NewMachine(fsm.MachineConfig{
		ServiceAreaPrefixes: cfg.Dispatch.ServiceAreaPrefixes,
		Location:            loc,
	})

	timing := frameproc.Timing{
		MaxTurnCount:          cfg.Dispatch.MaxTurnsPerCall,
		MaxStateTurnCount:     cfg.Dispatch.MaxTurnsPerState,
		DebounceDelay:         cfg.Dispatch.BufferDebounce,
		MaxBufferAge:          cfg.Dispatch.BufferMax,
		OrdinaryGoodbyeDelay:  cfg.Dispatch.EndDelay,
		TerminalResponseDelay: cfg.Dispatch.TerminalEndDelay,
	}

	svc := dispatcher.New(dispatcher.Config{
		Machine:      machine,
		Tools:        tools,
		Extractor:    extractor,
		Orchestrator: orchestrator,
		Metrics:      metrics,
		Log:          logger,
		Timing:       timing,
	})
	_ = svc // handed to the surrounding pipeline framework, which calls NewCall per inbound call.

	// ── Health/readiness/metrics HTTP server ─────────────────────────────
	healthHandler := health.New(
		health.Checker{Name: "tool_backend", Check: toolBackendCheck(cfg.ToolAPI.BaseURL)},
		health.Checker{Name: "webhook_receiver", Check: webhookReceiverCheck(cfg.Webhook.BaseURL)},
	)
	mux := http.NewServeMux()
	healthHandler.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	server := &http.Server{Addr: cfg.Server.ListenAddr, Handler: observe.Middleware(metrics)(mux)}
	serverErrs := make(chan error, 1)
	go func() {
		slog.Info("health/metrics server listening", "addr", cfg.Server.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrs <- err
		}
	}()

	slog.Info("calllock ready — press Ctrl+C to shut down")

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping…")
	case err := <-serverErrs:
		slog.Error("health/metrics server error", "err", err)
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// newOpenAIProvider adapts openai.New to the config.Registry's
// func(ProviderEntry) (llm.Provider, error) factory shape.
func newOpenAIProvider(entry config.ProviderEntry) (llm.Provider, error) {
	var opts []openai.Option
	if entry.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(entry.BaseURL))
	}
	return openai.New(entry.APIKey, entry.Model, opts...)
}

// newAnyLLMProvider backs every non-openai provider name through
// pkg/provider/llm/anyllm, which wraps mozilla-ai/any-llm-go's unified
// multi-provider client. It is how the conversational LLM fallback
// (providers.llm_fallback) can point at a second vendor entirely — e.g.
// openai primary, anthropic fallback.
func newAnyLLMProvider(entry config.ProviderEntry) (llm.Provider, error) {
	var opts []anyllmlib.Option
	if entry.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
	}
	if entry.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
	}
	return anyllm.New(entry.Name, entry.Model, opts...)
}

// toolBackendCheck and webhookReceiverCheck are intentionally shallow:
// spec.md's tool-backend and webhook contracts have no dedicated health
// endpoint, so readiness only confirms a base URL was configured. A real
// network probe belongs to the surrounding deployment's synthetic checks,
// not this process's own /readyz.
func toolBackendCheck(baseURL string) func(context.Context) error {
	return func(ctx context.Context) error {
		if baseURL == "" {
			return fmt.Errorf("tool_backend.base_url is not configured")
		}
		return nil
	}
}

func webhookReceiverCheck(baseURL string) func(context.Context) error {
	return func(ctx context.Context) error {
		if baseURL == "" {
			return fmt.Errorf("webhook.base_url is not configured")
		}
		return nil
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
