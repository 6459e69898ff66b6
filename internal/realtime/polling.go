package realtime

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// PollingController is the timer-driven HTTP catch-up loop used when the
// push transport is unavailable. At most one polling session exists per
// client process; switching servers tears down the old session first.
type PollingController struct {
	channels ChannelService
	// activeSocket reports the globally active server socket so a tick
	// can abort silently if the user switched servers mid-cycle.
	activeSocket func() string
	interval     time.Duration
	logger       *slog.Logger

	mu        sync.Mutex
	socketKey string
	cancel    context.CancelFunc
	inFlight  bool
}

// NewPollingController creates a stopped controller. interval is truncated
// to whole milliseconds; non-positive intervals are rejected by Start.
func NewPollingController(
	channels ChannelService,
	activeSocket func() string,
	interval time.Duration,
	logger *slog.Logger,
) *PollingController {
	return &PollingController{
		channels:     channels,
		activeSocket: activeSocket,
		interval:     interval.Truncate(time.Millisecond),
		logger:       logger,
	}
}

// Start begins polling for the given server socket. A no-op when already
// running for the same key. When running for a different key, the old
// session is stopped before the new one starts.
func (p *PollingController) Start(key string) {
	key = strings.TrimSpace(key)
	if key == "" || p.interval <= 0 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil && p.socketKey == key {
		return
	}

	p.stopLocked()

	ctx, cancel := context.WithCancel(context.Background())
	p.socketKey = key
	p.cancel = cancel

	p.logger.Info("polling started",
		slog.String("socket", key),
		slog.Duration("interval", p.interval),
	)

	go p.loop(ctx, key)
}

// Stop tears down any running polling session. Idempotent and safe to
// call when not running.
func (p *PollingController) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *PollingController) stopLocked() {
	if p.cancel == nil {
		return
	}

	p.cancel()
	p.cancel = nil
	p.socketKey = ""
	p.inFlight = false
}

// IsRunningFor reports whether a polling session is active for the given
// (trimmed) socket key.
func (p *PollingController) IsRunningFor(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.cancel != nil && p.socketKey == strings.TrimSpace(key)
}

func (p *PollingController) loop(ctx context.Context, key string) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.beginTick(key) {
				continue
			}

			go p.tick(ctx, key)
		}
	}
}

// beginTick marks the in-flight flag. Returns false when a previous tick
// is still running (the tick is skipped, not queued) or the session has
// been retargeted.
func (p *PollingController) beginTick(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.inFlight || p.socketKey != key {
		return false
	}

	p.inFlight = true

	return true
}

func (p *PollingController) endTick() {
	p.mu.Lock()
	p.inFlight = false
	p.mu.Unlock()
}

// tick performs one catch-up cycle: refresh the channel list and, when a
// channel is selected, reload its most recent page. Every error is
// swallowed after clearing the in-flight flag; polling must never kill the
// timer loop, the next tick retries unconditionally.
func (p *PollingController) tick(ctx context.Context, key string) {
	defer p.endTick()

	// The user may have switched servers since this session started.
	if p.activeSocket() != key {
		return
	}

	if err := p.channels.RefreshChannels(ctx, key); err != nil {
		p.logger.Debug("polling channel refresh failed",
			slog.String("socket", key),
			slog.String("error", err.Error()),
		)

		return
	}

	channelID := p.channels.SelectedChannel(key)
	if channelID == "" {
		return
	}

	if err := p.channels.LoadLatestPage(ctx, key, channelID); err != nil {
		p.logger.Debug("polling page refresh failed",
			slog.String("socket", key),
			slog.String("channel", channelID),
			slog.String("error", err.Error()),
		)
	}
}
