package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/unimem/unimem/internal/config"
	"github.com/unimem/unimem/internal/logger"
	"github.com/unimem/unimem/internal/observability"
	"github.com/unimem/unimem/internal/tracing"
	"github.com/unimem/unimem/pkg/agent"
	"github.com/unimem/unimem/pkg/embedding"
	"github.com/unimem/unimem/pkg/gateway"
	"github.com/unimem/unimem/pkg/memory"
	"github.com/unimem/unimem/pkg/store"
	"github.com/unimem/unimem/pkg/sweep"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the unimem server",
	Long: `Run the unimem server in the foreground.
Recovers the search index from durable storage, then serves the REST and
websocket API until interrupted.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	pidFile := getPIDFilePath()
	if isRunning(pidFile) {
		return fmt.Errorf("server is already running (PID file: %s)", pidFile)
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	validator, err := config.NewValidator()
	if err != nil {
		return fmt.Errorf("failed to create config validator: %w", err)
	}
	if errs := validator.ValidateConfig(cfg); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return fmt.Errorf("invalid configuration:\n  %s", strings.Join(msgs, "\n  "))
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    true,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()
	zl := log.GetZerolog()

	if err := tracing.InitOpenTelemetry("unimem"); err != nil {
		zl.Warn().Err(err).Msg("OpenTelemetry initialization failed, continuing without tracing")
	}

	auditPath := filepath.Join(cfg.DataDir, "audit.log")
	if err := observability.InitAuditLogger(auditPath); err != nil {
		zl.Warn().Err(err).Str("path", auditPath).Msg("Audit log file unavailable, auditing to stderr")
	}

	db, err := store.Open(cfg.Store.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer db.Close()

	embedder, err := embedding.NewOpenAIProvider(embedding.OpenAIConfig{
		APIKey:    cfg.Embedding.APIKey,
		BaseURL:   cfg.Embedding.BaseURL,
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Embedding.Dimension,
	})
	if err != nil {
		return fmt.Errorf("failed to create embedding provider: %w", err)
	}

	svc, err := memory.NewService(memory.Config{
		Metadata:    db.Metadata(),
		Vectors:     db.Vectors(),
		Embedder:    embedder,
		Logger:      zl,
		ChunkTokens: cfg.Chunking.MaxTokens,
	})
	if err != nil {
		return fmt.Errorf("failed to create memory service: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The index must be rebuilt before the API accepts traffic; a server
	// answering from an empty index would silently lose every memory.
	if err := svc.Recover(ctx); err != nil {
		return fmt.Errorf("index recovery failed: %w", err)
	}

	var runner *sweep.Runner
	if cfg.Sweep.Enabled {
		runner, err = sweep.NewRunner(cfg.Sweep.Schedule, svc.VerifyConsistency, zl)
		if err != nil {
			return err
		}
		runner.Start()
	}

	var chatAgent gateway.ChatAgent
	if cfg.Agent.Enabled {
		ag, err := agent.New(agent.Config{
			Provider:    agent.NewAnthropicProvider(cfg.Agent.APIKey),
			Memory:      svc,
			Logger:      zl,
			Model:       cfg.Agent.Model,
			MaxTokens:   cfg.Agent.MaxTokens,
			Temperature: cfg.Agent.Temperature,
		})
		if err != nil {
			return fmt.Errorf("failed to create chat agent: %w", err)
		}
		chatAgent = ag
	}

	srv, err := gateway.NewServer(gateway.Config{
		Host:      cfg.Server.Host,
		Port:      cfg.Server.Port,
		APIKey:    cfg.Server.APIKey,
		RateLimit: cfg.Server.RateLimit,
		Service:   svc,
		Agent:     chatAgent,
		Logger:    zl,
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}
	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start gateway: %w", err)
	}

	// Log level follows config file edits without a restart.
	watcher, err := config.NewWatcher(config.NewLoader(cfgFile), zl, func(next *config.Config) {
		applyLogLevel(zl, next.Logging.Level)
	})
	if err != nil {
		zl.Warn().Err(err).Msg("Config watcher unavailable, log level changes need a restart")
	} else {
		defer watcher.Stop()
	}

	if err := writePIDFile(pidFile); err != nil {
		zl.Warn().Err(err).Str("path", pidFile).Msg("Could not write PID file")
	} else {
		defer os.Remove(pidFile)
	}

	zl.Info().
		Str("addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)).
		Bool("agent", cfg.Agent.Enabled).
		Bool("sweep", cfg.Sweep.Enabled).
		Msg("Unimem server started")

	<-ctx.Done()
	zl.Info().Msg("Shutdown signal received")

	if err := srv.Stop(); err != nil {
		zl.Error().Err(err).Msg("Gateway shutdown failed")
	}
	if runner != nil {
		runner.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
		zl.Warn().Err(err).Msg("OpenTelemetry shutdown failed")
	}

	zl.Info().Msg("Unimem server stopped")
	return nil
}

func applyLogLevel(zl zerolog.Logger, level string) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		zl.Warn().Str("level", level).Msg("Ignoring invalid log level from reloaded config")
		return
	}
	zerolog.SetGlobalLevel(parsed)
	zl.Info().Str("level", level).Msg("Log level updated")
}
