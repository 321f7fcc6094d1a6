// Package main provides the CLI entry point for the Factotum agent bot.
//
// Factotum connects a Telegram chat to an LLM provider (Anthropic, OpenAI)
// and drives a tool-using reasoning loop per incoming request: web search,
// calculation, chat history recall, image analysis, page browsing, and
// voice replies.
//
// # Basic Usage
//
// Start the bot:
//
//	factotum serve --config factotum.yaml
//
// Print build information:
//
//	factotum version
//
// # Environment Variables
//
// The configuration file is expanded with the environment before parsing,
// so secrets are normally referenced as ${ANTHROPIC_API_KEY},
// ${TELEGRAM_BOT_TOKEN}, and so on rather than written inline.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/loopwork/factotum/internal/agent"
	"github.com/loopwork/factotum/internal/agent/providers"
	"github.com/loopwork/factotum/internal/channels/telegram"
	"github.com/loopwork/factotum/internal/config"
	"github.com/loopwork/factotum/internal/delivery"
	"github.com/loopwork/factotum/internal/observability"
	"github.com/loopwork/factotum/internal/service"
	"github.com/loopwork/factotum/internal/status"
	"github.com/loopwork/factotum/internal/storage"
	"github.com/loopwork/factotum/internal/tools/browser"
	"github.com/loopwork/factotum/internal/tools/calc"
	"github.com/loopwork/factotum/internal/tools/history"
	"github.com/loopwork/factotum/internal/tools/vision"
	"github.com/loopwork/factotum/internal/tools/voice"
	"github.com/loopwork/factotum/internal/tools/websearch"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"     // Semantic version (e.g., "v1.0.0")
	commit  = "none"    // Git commit SHA
	date    = "unknown" // Build timestamp
)

func main() {
	// Fallback logger for Cobra-level failures; serve installs the
	// configured logger once the config file is loaded.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "factotum",
		Short: "Factotum - Telegram agent bot",
		Long: `Factotum connects Telegram to an LLM provider with tool execution.

Supported LLM providers: Anthropic (Claude), OpenAI (GPT)
Available tools: Web Search, Calculator, Chat History, Image Analysis,
Browser, Voice Replies`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildVersionCmd(),
	)

	return rootCmd
}

// buildServeCmd creates the "serve" command that starts the bot.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Factotum bot",
		Long: `Start the bot with the configured channel, provider, and tools.

The server will:
1. Load configuration from the specified file
2. Open the transcript store
3. Initialize the LLM provider and tool registry
4. Connect to Telegram and begin handling messages
5. Serve Prometheus metrics when metrics.addr is set

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  factotum serve

  # Start with custom config
  factotum serve --config /etc/factotum/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "factotum.yaml",
		"Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")

	return cmd
}

// buildVersionCmd creates the "version" command.
func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("factotum %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if debug {
		cfg.Logging.Level = "debug"
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	slog.SetDefault(logger.Slog())
	metrics := observability.NewMetrics()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info(ctx, "starting factotum",
		"version", version,
		"commit", commit,
		"config", configPath,
		"provider", cfg.LLM.Provider,
		"storage", cfg.Storage.Driver,
	)

	transcripts, err := openStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to open transcript store: %w", err)
	}
	defer transcripts.Close()

	provider, err := buildProvider(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize provider: %w", err)
	}

	adapter, err := telegram.New(telegram.Config{
		Token:     cfg.Telegram.Token,
		RateLimit: cfg.Telegram.RateLimit,
		RateBurst: cfg.Telegram.RateBurst,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telegram: %w", err)
	}

	registry, closeTools, err := buildRegistry(cfg, provider, adapter, transcripts)
	if err != nil {
		return fmt.Errorf("failed to build tool registry: %w", err)
	}
	defer closeTools()

	deliverer := delivery.NewSplitter(delivery.Config{
		MaxChunkLength: cfg.Delivery.MaxChunkLength,
		MaxChunks:      cfg.Delivery.MaxChunks,
		BaseDelay:      cfg.Delivery.BaseDelay,
		MaxDelay:       cfg.Delivery.MaxDelay,
		BotName:        cfg.Delivery.BotName,
	}, adapter, transcripts, logger, metrics)

	orchestrator, err := agent.NewOrchestrator(agent.Config{
		MaxLoops:       cfg.Agent.MaxLoops,
		ReasonTimeout:  cfg.Agent.ReasonTimeout,
		ToolTimeout:    cfg.Agent.ToolTimeout,
		HistoryDepth:   cfg.Agent.HistoryDepth,
		DefaultModel:   cfg.LLM.Model,
		Personas:       cfg.Agent.Personas,
		DefaultPersona: cfg.Agent.DefaultPersona,
	}, provider, registry, agent.NewCancelRegistry(), deliverer, transcripts, logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to build orchestrator: %w", err)
	}

	svc := service.New(service.Config{
		HistoryDepth:   cfg.Agent.HistoryDepth,
		DefaultPersona: cfg.Agent.DefaultPersona,
	}, orchestrator, adapter, status.NewReporter(adapter, logger), transcripts, adapter, logger)

	if cfg.Metrics.Addr != "" {
		go serveMetrics(ctx, cfg.Metrics.Addr, logger)
	}

	if err := adapter.Start(ctx); err != nil {
		return fmt.Errorf("failed to start telegram adapter: %w", err)
	}

	logger.Info(ctx, "factotum started", "bot", cfg.Delivery.BotName)

	runErr := svc.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := adapter.Stop(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "telegram adapter shutdown failed", "error", err)
	}

	if runErr != nil && runErr != context.Canceled {
		return runErr
	}
	logger.Info(context.Background(), "factotum stopped gracefully")
	return nil
}

// openStorage opens the transcript backend named by the config.
func openStorage(cfg *config.Config) (storage.TranscriptStore, error) {
	switch cfg.Storage.Driver {
	case "memory":
		return storage.NewMemoryStore(0), nil
	default:
		return storage.NewSQLiteStore(cfg.Storage.Path)
	}
}

// buildProvider initializes the configured LLM provider.
func buildProvider(cfg *config.Config) (agent.LLMProvider, error) {
	switch cfg.LLM.Provider {
	case "openai":
		return providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:       cfg.LLM.APIKey,
			BaseURL:      cfg.LLM.BaseURL,
			DefaultModel: cfg.LLM.Model,
		})
	default:
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       cfg.LLM.APIKey,
			BaseURL:      cfg.LLM.BaseURL,
			DefaultModel: cfg.LLM.Model,
		})
	}
}

// buildRegistry registers the enabled tools. The returned closer shuts
// down tools that hold external resources.
func buildRegistry(cfg *config.Config, provider agent.LLMProvider, adapter *telegram.Adapter, transcripts storage.TranscriptStore) (*agent.Registry, func(), error) {
	registry := agent.NewRegistry()
	closers := []func(){}
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if err := registry.Register(calc.New()); err != nil {
		return nil, closeAll, err
	}
	if err := registry.Register(history.New(transcripts), agent.WithQuota(cfg.Tools.History.Quota)); err != nil {
		return nil, closeAll, err
	}
	if err := registry.Register(vision.New(provider, cfg.LLM.Model)); err != nil {
		return nil, closeAll, err
	}

	if cfg.Tools.WebSearch.Enabled {
		search := websearch.New(websearch.Config{
			Backend:     websearch.Backend(cfg.Tools.WebSearch.Provider),
			BraveAPIKey: cfg.Tools.WebSearch.APIKey,
			MaxResults:  cfg.Tools.WebSearch.MaxResults,
			CacheTTL:    cfg.Tools.WebSearch.CacheTTL,
		})
		if err := registry.Register(search, agent.WithQuota(cfg.Tools.WebSearch.Quota)); err != nil {
			return nil, closeAll, err
		}
	}

	if cfg.Tools.Browser.Enabled {
		browse := browser.New(browser.Config{
			Headless: cfg.Tools.Browser.Headless,
			Timeout:  cfg.Tools.Browser.Timeout,
		})
		closers = append(closers, func() { browse.Close() })
		if err := registry.Register(browse); err != nil {
			return nil, closeAll, err
		}
	}

	if cfg.Tools.Voice.Enabled {
		speak := voice.New(voice.Config{
			APIKey: cfg.Tools.Voice.APIKey,
			Model:  cfg.Tools.Voice.Model,
			Voice:  cfg.Tools.Voice.Voice,
		}, adapter, transcripts)
		if err := registry.Register(speak, agent.AsTerminal()); err != nil {
			return nil, closeAll, err
		}
	}

	return registry, closeAll, nil
}

// serveMetrics exposes /metrics until ctx is cancelled.
func serveMetrics(ctx context.Context, addr string, logger *observability.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info(ctx, "metrics endpoint listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error(ctx, "metrics endpoint failed", "error", err)
	}
}
