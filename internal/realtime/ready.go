package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// maxAuthRecoveries bounds the auth-error self-healing path. The
	// source of a rejected token is the auth layer; if three refreshed
	// tokens in a row are still rejected, re-running readiness cannot
	// help and the burst is dropped until the next external trigger.
	maxAuthRecoveries = 3
)

// socketBindings holds the long-lived listeners installed once per
// server socket: the token auto-refresh timer and the token-change
// listener that reauthenticates the push session.
type socketBindings struct {
	stopRefresh  func()
	stopListener func()
}

// Orchestrator is the top-level idempotent "make everything ready" entry
// point. It composes the session manager, polling controller, transport
// selector, and retry controller, plus the external channel/session
// collaborators.
type Orchestrator struct {
	sessions      SessionSource
	channels      ChannelService
	policies      PolicySource
	pushEndpoints PushEndpointSource
	session       *SessionManager
	polling       *PollingController
	retry         *RetryController
	dedupe        *DedupeRegistry
	onEvent       EventSink
	originScheme  string
	refreshEvery  time.Duration
	logger        *slog.Logger

	mu             sync.Mutex
	bindings       map[string]socketBindings
	authRecoveries map[string]int
}

// OrchestratorConfig wires an Orchestrator.
type OrchestratorConfig struct {
	Sessions SessionSource
	Channels ChannelService
	Policies PolicySource

	// PushEndpoints is optional; when nil the push transport always uses
	// the default wss endpoint derived from the socket key.
	PushEndpoints PushEndpointSource

	Session      *SessionManager
	Polling      *PollingController
	Retry        *RetryController
	OnEvent      EventSink
	OriginScheme string
	RefreshEvery time.Duration
}

// NewOrchestrator creates an Orchestrator from the given config.
func NewOrchestrator(cfg OrchestratorConfig, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		sessions:       cfg.Sessions,
		channels:       cfg.Channels,
		policies:       cfg.Policies,
		pushEndpoints:  cfg.PushEndpoints,
		session:        cfg.Session,
		polling:        cfg.Polling,
		retry:          cfg.Retry,
		dedupe:         NewDedupeRegistry(),
		onEvent:        cfg.OnEvent,
		originScheme:   cfg.OriginScheme,
		refreshEvery:   cfg.RefreshEvery,
		logger:         logger,
		bindings:       make(map[string]socketBindings),
		authRecoveries: make(map[string]int),
	}
}

// ConnectAndEnsureReady drives the initial connect with retry and then
// establishes readiness. Used at startup and for user-triggered reconnect.
func (o *Orchestrator) ConnectAndEnsureReady(ctx context.Context, socket string) {
	o.retry.ConnectWithRetry(ctx, socket)
	o.EnsureReady(ctx)
}

// EnsureReady makes the live event channel flow for the active server.
// Idempotent and reentrant: calling it twice in a row with an established
// session performs no duplicate connect and binds no duplicate listeners.
// It never returns an error; every step is best-effort or delegates to a
// component that owns its failure handling.
func (o *Orchestrator) EnsureReady(ctx context.Context) {
	socket, token := o.sessions.Current()
	if socket == "" || token == "" {
		o.logger.Debug("no active session, skipping readiness")
		return
	}

	o.bindSocketListeners(socket)
	o.refreshChannelSurface(ctx, socket)

	transport := ChooseTransport(o.policies.PolicyFor(socket), o.originScheme)
	o.logger.Debug("transport selected",
		slog.String("socket", socket),
		slog.String("transport", transport.String()),
	)

	if transport == TransportPolling {
		o.enterPolling(socket)
		return
	}

	o.enterPush(ctx, socket, token)
}

// Shutdown stops all per-socket bindings and tears down both transports.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	for socket, b := range o.bindings {
		b.stopRefresh()
		b.stopListener()
		delete(o.bindings, socket)
	}
	o.mu.Unlock()

	o.polling.Stop()
	o.session.Close()
}

// bindSocketListeners installs the token auto-refresh timer and the
// token-change listener for a socket, at most once.
func (o *Orchestrator) bindSocketListeners(socket string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.bindings[socket]; ok {
		return
	}

	refreshCtx, cancelRefresh := context.WithCancel(context.Background())

	go o.tokenRefreshLoop(refreshCtx, socket)

	stopListener := o.sessions.Subscribe(func(changedSocket, newToken string) {
		if changedSocket != socket {
			return
		}

		if err := o.session.ReauthIfConnectedFor(context.Background(), socket, newToken); err != nil {
			o.logger.Warn("reauth after token change failed",
				slog.String("socket", socket),
				slog.String("error", err.Error()),
			)
		}
	})

	o.bindings[socket] = socketBindings{
		stopRefresh:  cancelRefresh,
		stopListener: stopListener,
	}

	o.logger.Debug("socket listeners bound", slog.String("socket", socket))
}

func (o *Orchestrator) tokenRefreshLoop(ctx context.Context, socket string) {
	if o.refreshEvery <= 0 {
		return
	}

	ticker := time.NewTicker(o.refreshEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.sessions.Refresh(ctx); err != nil {
				o.logger.Warn("token auto-refresh failed",
					slog.String("socket", socket),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// refreshChannelSurface reloads the channel list and, when nothing is
// selected yet, selects a channel and loads its first page plus the
// member rail. Concurrent triggers collapse through the dedupe registry.
func (o *Orchestrator) refreshChannelSurface(ctx context.Context, socket string) {
	_, err := o.dedupe.Do(ctx, "channels:"+socket, func(ctx context.Context) (any, error) {
		return nil, o.channels.RefreshChannels(ctx, socket)
	})
	if err != nil {
		o.logger.Warn("channel list refresh failed",
			slog.String("socket", socket),
			slog.String("error", err.Error()),
		)

		return
	}

	if o.channels.SelectedChannel(socket) != "" {
		return
	}

	channelID, err := o.channels.SelectDefaultChannel(ctx, socket)
	if err != nil || channelID == "" {
		if err != nil {
			o.logger.Warn("selecting default channel failed",
				slog.String("socket", socket),
				slog.String("error", err.Error()),
			)
		}

		return
	}

	if _, err := o.dedupe.Do(ctx, "page:"+socket+":"+channelID, func(ctx context.Context) (any, error) {
		return nil, o.channels.LoadLatestPage(ctx, socket, channelID)
	}); err != nil {
		o.logger.Warn("loading first page failed",
			slog.String("channel", channelID),
			slog.String("error", err.Error()),
		)
	}

	// Member rail load must not block readiness.
	go func() {
		if err := o.channels.LoadMemberRail(context.Background(), socket, channelID); err != nil {
			o.logger.Debug("loading member rail failed",
				slog.String("channel", channelID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// enterPolling switches the socket to the polling transport, tearing down
// any push session first. Returning with polling already running for this
// socket is the steady state.
func (o *Orchestrator) enterPolling(socket string) {
	o.session.Close()

	if o.polling.IsRunningFor(socket) {
		return
	}

	o.polling.Stop()
	o.polling.Start(socket)
}

// enterPush switches the socket to the push transport, stopping any
// polling first. Auth errors mid-session close the push session and
// re-run readiness with a refreshed token, bounded by maxAuthRecoveries.
func (o *Orchestrator) enterPush(ctx context.Context, socket, token string) {
	o.polling.Stop()

	if o.session.IsConnectedFor(socket) {
		o.resetAuthRecoveries(socket)
		return
	}

	opts := ConnectOptions{
		OnResumeFailed: func(reason string) {
			o.catchUpAfterResumeFailure(socket, reason)
		},
		OnAuthError: func() {
			o.recoverFromAuthError(socket)
		},
	}

	if o.pushEndpoints != nil {
		override, err := o.pushEndpoints.PushEndpoint(ctx, socket)
		if err != nil {
			o.logger.Debug("push endpoint lookup failed, using default",
				slog.String("socket", socket),
				slog.String("error", err.Error()),
			)
		} else {
			opts.WsURLOverride = override
		}
	}

	// The recovery counter resets on delivered events, not on a successful
	// handshake: a server that accepts auth and then rejects the session
	// mid-stream would otherwise reset the counter on every reconnect and
	// the burst bound would never trip.
	sink := func(eventID string, data []byte) {
		o.resetAuthRecoveries(socket)

		if o.onEvent != nil {
			o.onEvent(eventID, data)
		}
	}

	if err := o.session.EnsureConnected(ctx, socket, token, sink, opts); err != nil {
		o.logger.Warn("push connect failed",
			slog.String("socket", socket),
			slog.String("error", err.Error()),
		)
	}
}

// catchUpAfterResumeFailure runs the compensating HTTP fetch when the
// server could not replay events from the resume cursor.
func (o *Orchestrator) catchUpAfterResumeFailure(socket, reason string) {
	o.logger.Warn("resume failed, running HTTP catch-up",
		slog.String("socket", socket),
		slog.String("reason", reason),
	)

	ctx := context.Background()

	if err := o.channels.RefreshChannels(ctx, socket); err != nil {
		o.logger.Warn("catch-up channel refresh failed", slog.String("error", err.Error()))
		return
	}

	if channelID := o.channels.SelectedChannel(socket); channelID != "" {
		if err := o.channels.LoadLatestPage(ctx, socket, channelID); err != nil {
			o.logger.Warn("catch-up page load failed",
				slog.String("channel", channelID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// recoverFromAuthError is the self-healing path for credential rotation:
// refresh the token and re-run readiness. The session manager already
// closed the session. Bounded so a token that keeps getting rejected
// cannot drive unbounded re-entry.
func (o *Orchestrator) recoverFromAuthError(socket string) {
	o.mu.Lock()
	o.authRecoveries[socket]++
	attempts := o.authRecoveries[socket]
	o.mu.Unlock()

	if attempts > maxAuthRecoveries {
		o.logger.Error("auth error recovery limit reached, giving up",
			slog.String("socket", socket),
			slog.Int("attempts", attempts-1),
		)

		return
	}

	ctx := context.Background()

	if err := o.sessions.Refresh(ctx); err != nil {
		o.logger.Warn("token refresh after auth error failed",
			slog.String("socket", socket),
			slog.String("error", err.Error()),
		)

		return
	}

	o.EnsureReady(ctx)
}

func (o *Orchestrator) resetAuthRecoveries(socket string) {
	o.mu.Lock()
	delete(o.authRecoveries, socket)
	o.mu.Unlock()
}
