// Command vocalis is the main entry point for the Vocalis voice
// conversation server.
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

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vocalis-ai/vocalis/internal/config"
	"github.com/vocalis-ai/vocalis/internal/health"
	"github.com/vocalis-ai/vocalis/internal/observe"
	"github.com/vocalis-ai/vocalis/internal/orchestrator"
	"github.com/vocalis-ai/vocalis/internal/resilience"
	"github.com/vocalis-ai/vocalis/internal/server"
	"github.com/vocalis-ai/vocalis/internal/session"
	"github.com/vocalis-ai/vocalis/internal/vad"
	"github.com/vocalis-ai/vocalis/pkg/memory"
	memorypg "github.com/vocalis-ai/vocalis/pkg/memory/postgres"
	"github.com/vocalis-ai/vocalis/pkg/provider/llm"
	"github.com/vocalis-ai/vocalis/pkg/provider/llm/anyllm"
	oaillm "github.com/vocalis-ai/vocalis/pkg/provider/llm/openai"
	"github.com/vocalis-ai/vocalis/pkg/provider/stt"
	"github.com/vocalis-ai/vocalis/pkg/provider/stt/deepgram"
)

const version = "0.3.0"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "vocalis: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "vocalis: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("vocalis starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "vocalis",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	sttProvider, err := buildSTT(cfg)
	if err != nil {
		slog.Error("failed to build stt provider", "err", err)
		return 1
	}
	llmProvider, err := buildLLM(cfg)
	if err != nil {
		slog.Error("failed to build llm provider", "err", err)
		return 1
	}

	// ── Exchange store ────────────────────────────────────────────────────────
	var store memory.ExchangeStore = memory.Discard{}
	var pgStore *memorypg.Store
	if dsn := cfg.Memory.PostgresDSN; dsn != "" {
		pgStore, err = memorypg.NewStore(ctx, dsn)
		if err != nil {
			slog.Error("failed to connect exchange store", "err", err)
			return 1
		}
		defer pgStore.Close()
		store = pgStore
		slog.Info("exchange store connected")
	}

	// ── Session registry ──────────────────────────────────────────────────────
	convCfg := conversationConfig(cfg)
	registry := session.NewRegistry(func(id string) (session.Conversation, error) {
		conv, err := orchestrator.NewConversation(id, sttProvider, llmProvider, convCfg,
			orchestrator.WithMemory(store),
			orchestrator.WithMetrics(metrics),
		)
		if err != nil {
			return nil, err
		}
		return conv, nil
	}, session.WithIdleTimeout(cfg.Orchestrator.IdleTimeout()))
	registry.StartSweeper(ctx, time.Minute)

	// ── HTTP routes ───────────────────────────────────────────────────────────
	mux := http.NewServeMux()

	server.New(registry,
		server.WithAudioFormat(cfg.Orchestrator.SampleRate, 1),
	).Register(mux)

	var checkers []health.Checker
	if pgStore != nil {
		checkers = append(checkers, health.Checker{Name: "database", Check: pgStore.Ping})
	}
	health.New(checkers...).Register(mux)

	mux.Handle("GET /metrics", promhttp.Handler())

	handler := observe.Middleware(metrics)(mux)

	// ── Serve ─────────────────────────────────────────────────────────────────
	addr := cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server ready — press Ctrl+C to shut down", "addr", addr)
		if tls := cfg.Server.TLS; tls != nil {
			errCh <- httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			errCh <- httpSrv.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("serve error", "err", err)
			return 1
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown error", "err", err)
	}
	registry.Close(shutdownCtx)

	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// buildSTT constructs the transcription chain. The primary always sits
// behind a circuit breaker, so a backend that is hard down stops being
// re-dialed on every session open; additional stt_fallbacks entries extend
// the chain.
func buildSTT(cfg *config.Config) (stt.Provider, error) {
	primary, err := buildSTTEntry(cfg.Providers.STT, cfg.Orchestrator)
	if err != nil {
		return nil, err
	}

	name := cfg.Providers.STT.Name
	if name == "" {
		name = "deepgram"
	}
	chain := resilience.NewSTTFallback(primary, name, resilience.FallbackConfig{})
	for _, fb := range cfg.Providers.STTFallbacks {
		p, err := buildSTTEntry(fb, cfg.Orchestrator)
		if err != nil {
			return nil, fmt.Errorf("stt fallback %q: %w", fb.Name, err)
		}
		chain.AddFallback(fb.Name, p)
	}
	return chain, nil
}

func buildSTTEntry(entry config.ProviderEntry, o config.OrchestratorConfig) (stt.Provider, error) {
	switch entry.Name {
	case "", "deepgram":
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithBaseURL(entry.BaseURL))
		}
		if lang := o.Language; lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if rate := o.SampleRate; rate > 0 {
			opts = append(opts, deepgram.WithSampleRate(rate))
		}
		return deepgram.New(entry.APIKey, opts...)
	default:
		return nil, fmt.Errorf("unknown stt provider %q", entry.Name)
	}
}

// buildLLM constructs the primary LLM provider and, when fallbacks are
// configured, wraps it in a circuit-breaking fallback chain.
func buildLLM(cfg *config.Config) (llm.Provider, error) {
	primary, err := buildLLMEntry(cfg.Providers.LLM)
	if err != nil {
		return nil, err
	}
	if len(cfg.Providers.LLMFallbacks) == 0 {
		return primary, nil
	}

	name := cfg.Providers.LLM.Name
	if name == "" {
		name = "openai"
	}
	chain := resilience.NewLLMFallback(primary, name, resilience.FallbackConfig{})
	for _, fb := range cfg.Providers.LLMFallbacks {
		p, err := buildLLMEntry(fb)
		if err != nil {
			return nil, fmt.Errorf("llm fallback %q: %w", fb.Name, err)
		}
		chain.AddFallback(fb.Name, p)
	}
	return chain, nil
}

func buildLLMEntry(entry config.ProviderEntry) (llm.Provider, error) {
	switch entry.Name {
	case "", "openai":
		// The native adapter reports token usage on streamed replies; the
		// any-llm backends do not.
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	case "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile":
		var opts []anyllmlib.Option
		if entry.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New(entry.Name, entry.Model, opts...)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", entry.Name)
	}
}

// conversationConfig maps the YAML schema onto the orchestrator's tuning.
func conversationConfig(cfg *config.Config) orchestrator.Config {
	o := cfg.Orchestrator
	return orchestrator.Config{
		STT: stt.StreamConfig{
			SampleRate: o.SampleRate,
			Channels:   1,
			Language:   o.Language,
		},
		SystemPrompt: o.SystemPrompt,
		Temperature:  o.Temperature,
		MaxTokens:    o.MaxTokens,
		VAD: vad.Config{
			BaseThreshold: o.BaseThreshold,
			ShortPause:    o.ShortPause(),
			TriggerPause:  o.TriggerPause(),
			WaitingPause:  o.WaitingPause(),
			Timeout:       o.Timeout(),
			HistorySize:   o.HistorySize,
		},
		MaxConfirmed: o.MaxConfirmed,
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
