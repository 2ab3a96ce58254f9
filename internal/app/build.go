package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/antoniostano/streamchat/internal/archive"
	"github.com/antoniostano/streamchat/internal/chat"
	"github.com/antoniostano/streamchat/internal/config"
	"github.com/antoniostano/streamchat/internal/genclient"
	"github.com/antoniostano/streamchat/internal/httpapi"
	"github.com/antoniostano/streamchat/internal/logging"
	"github.com/antoniostano/streamchat/internal/observability"
	"github.com/antoniostano/streamchat/internal/session"
)

type BuildResult struct {
	Config       config.Config
	Logger       *slog.Logger
	API          *httpapi.Server
	Sessions     *session.Manager
	Orchestrator *chat.Orchestrator
	Archive      archive.Store
	Metrics      *observability.Metrics

	// Cleanup waits for running turns and releases the archive connection.
	Cleanup func() error
}

// Options tweaks Build for callers other than the server.
type Options struct {
	// LogOutput defaults to io.Discard when nil.
	LogOutput io.Writer
	// Registry receives the metrics; nil uses the default registry.
	Registry *prometheus.Registry
}

func Build(ctx context.Context, cfg config.Config, opts Options) (*BuildResult, error) {
	logOutput := opts.LogOutput
	if logOutput == nil {
		logOutput = io.Discard
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, logOutput)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace, opts.Registry)

	store, err := archive.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("archive store init failed: %w", err)
	}

	client, err := genclient.New(genclient.Config{
		Backend:              cfg.GenBackend,
		BaseURL:              cfg.GenAPIURL,
		APIKey:               cfg.GenAPIKey,
		RequestTimeout:       cfg.GenRequestTimeout,
		SuggestionsPerSecond: cfg.SuggestionsPerSecond,
		MockDelay:            cfg.GenMockDelay,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("generation client init failed: %w", err)
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	orchestrator := chat.NewOrchestrator(sessions, client, store, metrics, logger, chat.Options{
		RevealInterval:     cfg.RevealInterval,
		RevealCharsPerTick: cfg.RevealCharsPerTick,
		SuggestionsEnabled: cfg.SuggestionsEnabled,
		PreflightEnabled:   cfg.PreflightEnabled,
	})
	sessions.SetExpireHook(func(conv *session.Conversation) {
		orchestrator.Forget(conv.ID)
		metrics.ConversationEvents.WithLabelValues("expired").Inc()
		metrics.ActiveConversations.Set(float64(sessions.ActiveCount()))
		logger.Debug("conversation expired", "conversation_id", conv.ID)
	})

	api := httpapi.New(cfg, sessions, orchestrator, store, metrics, logger)

	logger.Info("streamchat configured",
		"generation_backend", cfg.GenBackend,
		"archive", cfg.DatabaseURL != "",
		"suggestions", cfg.SuggestionsEnabled,
		"preflight", cfg.PreflightEnabled,
	)

	cleanup := func() error {
		orchestrator.Wait()
		if err := store.Close(); err != nil {
			return fmt.Errorf("close archive: %w", err)
		}
		return nil
	}

	return &BuildResult{
		Config:       cfg,
		Logger:       logger,
		API:          api,
		Sessions:     sessions,
		Orchestrator: orchestrator,
		Archive:      store,
		Metrics:      metrics,
		Cleanup:      cleanup,
	}, nil
}
