package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"demoagent-server/internal/action"
	"demoagent-server/internal/api"
	"demoagent-server/internal/browser"
	"demoagent-server/internal/config"
	"demoagent-server/internal/conversation"
	"demoagent-server/internal/decision"
	"demoagent-server/internal/demo"
	"demoagent-server/internal/journal"
	"demoagent-server/internal/logging"
	mcpserver "demoagent-server/internal/mcp"
	"demoagent-server/internal/metrics"
	"demoagent-server/internal/orchestrator"
	"demoagent-server/internal/recorder"
)

const defaultConfigPath = "config.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to the demo agent config file")
	addr := flag.String("addr", "", "Optional HTTP listen address override (falls back to config)")
	ssePort := flag.Int("mcp-sse-port", 0, "Optional MCP SSE port override (falls back to config)")
	flag.Parse()

	// Before the logger exists, write to stderr as last resort.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("ignoring .env: %v", err)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}
	if *ssePort != 0 {
		cfg.MCP.Enable = true
		cfg.MCP.SSEPort = *ssePort
	}

	logCfg := logging.Config{Level: cfg.Server.LogLevel, Development: cfg.Server.Development}
	if cfg.Server.LogFile != "" {
		logCfg.OutputPaths = []string{cfg.Server.LogFile}
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		log.Printf("invalid logging config, using defaults: %v", err)
		logger = logging.NewDefault()
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited with error", zap.Error(err))
		os.Exit(1)
	}
}

// loadConfig reads path, falling back to defaults when the default file is absent.
func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil && path == defaultConfigPath && errors.Is(err, fs.ErrNotExist) {
		cfg = config.DefaultConfig()
		return cfg, cfg.Validate()
	}
	return cfg, err
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	logger.Info("starting server",
		zap.String("name", cfg.Server.Name),
		zap.String("version", cfg.Server.Version),
		zap.String("addr", cfg.HTTP.Addr),
	)

	factJournal, err := journal.New(cfg.Journal, logger.Named("journal"))
	if err != nil {
		return err
	}

	traces, err := recorder.New(cfg.Recorder, logger.Named("recorder"))
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := traces.Close(); closeErr != nil {
			logger.Warn("failed to close trace recorder", zap.Error(closeErr))
		}
	}()

	apiKey := cfg.Decision.APIKey()
	if apiKey == "" {
		logger.Warn("decision API key not set; interact will fail", zap.String("env", cfg.Decision.APIKeyEnv))
	}

	reg := metrics.New()
	sessions := browser.NewSessionManager(browser.NewRodLauncher(cfg.Browser, logger.Named("browser")), logger.Named("session"))
	executor := action.NewExecutor(
		action.Timeouts{
			Setup:      cfg.Browser.SetupTimeout(),
			Turn:       cfg.Browser.TurnTimeout(),
			Navigation: cfg.Browser.NavTimeout(),
			Idle:       cfg.Browser.NetworkIdleTimeout(),
		},
		action.WithURLSink(sessions),
		action.WithLogger(logger.Named("action")),
	)
	decider := decision.NewAnthropicService(decision.AnthropicConfig{
		APIKey:    apiKey,
		Model:     cfg.Decision.Model,
		MaxTokens: cfg.Decision.MaxTokens,
		Timeout:   cfg.Decision.GetTimeout(),
	}, logger.Named("decision"))

	orch := orchestrator.New(orchestrator.Options{
		Sessions:          sessions,
		Executor:          executor,
		Demos:             demo.NewLoader(cfg.Demos.Dir),
		Decider:           decider,
		State:             conversation.NewState(),
		Journal:           factJournal,
		Recorder:          traces,
		Metrics:           reg,
		Logger:            logger.Named("orchestrator"),
		DefaultTag:        cfg.Demos.DefaultTag,
		StartNavTimeout:   cfg.Browser.StartNavTimeout(),
		ScreenshotQuality: cfg.Browser.GetScreenshotQuality(),
	})
	defer func() {
		if err := orch.StopDemo(context.Background()); err != nil {
			logger.Warn("failed to stop demo", zap.Error(err))
		}
	}()

	handler := api.NewHandler(orch, api.Options{
		Journal:        factJournal,
		Metrics:        reg,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Logger:         logger.Named("http"),
	})

	srv := &http.Server{
		Addr:        cfg.HTTP.Addr,
		Handler:     handler.Router(),
		ReadTimeout: cfg.HTTP.GetReadTimeout(),
		// Decision calls and setup scripts can run long.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if cfg.MCP.Enable {
		mcpSrv, err := mcpserver.NewServer(cfg, orch, factJournal, logger.Named("mcp"))
		if err != nil {
			return err
		}
		go func() {
			var startErr error
			if cfg.MCP.SSEPort > 0 {
				startErr = mcpSrv.StartSSE(ctx, cfg.MCP.SSEPort)
			} else {
				logger.Info("starting mcp stdio server")
				startErr = mcpSrv.Start(ctx)
			}
			if startErr != nil && !errors.Is(startErr, context.Canceled) {
				errCh <- startErr
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	logger.Info("shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
