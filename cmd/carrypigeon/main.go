package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CarryPigeon/carrypigeon-desktop/internal/chatapi"
	"github.com/CarryPigeon/carrypigeon-desktop/internal/config"
	"github.com/CarryPigeon/carrypigeon-desktop/internal/logging"
	"github.com/CarryPigeon/carrypigeon-desktop/internal/realtime"
	"github.com/CarryPigeon/carrypigeon-desktop/internal/registry"
	"github.com/CarryPigeon/carrypigeon-desktop/internal/session"
	"github.com/CarryPigeon/carrypigeon-desktop/internal/state"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// cachedTokenRefresher re-reads the token cache on refresh. The login
// flow (external to this daemon) writes fresh tokens into the cache;
// refresh picks them up and broadcasts the change.
type cachedTokenRefresher struct {
	cache *state.Store
}

func (r *cachedTokenRefresher) RefreshToken(_ context.Context, _, _ string) (string, error) {
	return r.cache.Token(), nil
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment)
	logger.Info("carrypigeon starting",
		slog.String("version", Version),
		slog.String("server", cfg.ServerSocket),
		slog.String("origin_scheme", cfg.OriginScheme),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appState, err := state.Load()
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer appState.Close()

	trust, err := registry.Open(cfg.TrustStorePath)
	if err != nil {
		return fmt.Errorf("opening trust store: %w", err)
	}

	sessions := session.NewStore(&cachedTokenRefresher{cache: appState}, appState, logger)

	token := cfg.SessionToken
	if token == "" {
		token = appState.Token()
	}

	sessions.SetActive(cfg.ServerSocket, token)

	client := chatapi.NewClient(nil, func() string {
		_, tok := sessions.Current()
		return tok
	})
	channels := chatapi.NewService(client)

	connState := realtime.NewConnState()

	pushSession := realtime.NewSessionManager(
		trust,
		appState,
		cfg.DeviceName,
		uuid.NewString(),
		logger,
	)

	polling := realtime.NewPollingController(
		channels,
		func() string {
			socket, _ := sessions.Current()
			return socket
		},
		time.Duration(cfg.PollIntervalMs)*time.Millisecond,
		logger,
	)

	retry := realtime.NewRetryController(client, connState, realtime.RetryOptions{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   time.Duration(cfg.RetryBaseDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.RetryMaxDelayMs) * time.Millisecond,
	}, logger)

	orchestrator := realtime.NewOrchestrator(realtime.OrchestratorConfig{
		Sessions:      sessions,
		Channels:      channels,
		Policies:      trust,
		PushEndpoints: client,
		Session:       pushSession,
		Polling:       polling,
		Retry:         retry,
		OnEvent: func(eventID string, _ []byte) {
			// The UI layer consumes events from here; the daemon only
			// records delivery.
			logger.Debug("event delivered", slog.String("event_id", eventID))
		},
		OriginScheme: cfg.OriginScheme,
		RefreshEvery: time.Duration(cfg.TokenRefreshMin) * time.Minute,
	}, logger)
	defer orchestrator.Shutdown()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// Trust policy changes flip transport selection, so a reload
		// re-runs readiness.
		return trust.Watch(gctx, logger, func() {
			orchestrator.EnsureReady(gctx)
		})
	})

	g.Go(func() error {
		if cfg.ServerSocket != "" {
			orchestrator.ConnectAndEnsureReady(gctx, cfg.ServerSocket)
		}

		<-gctx.Done()

		return gctx.Err()
	})

	err = g.Wait()
	if err != nil && ctx.Err() != nil {
		logger.Info("carrypigeon stopped")
		return nil
	}

	return err
}
