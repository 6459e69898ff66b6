package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/CarryPigeon/carrypigeon-desktop/internal/errors"
)

const (
	// maxBackoffShift caps the exponent so the doubling stops growing
	// after 2^6 and the delay is governed by MaxDelay alone.
	maxBackoffShift = 6

	// maxJitter is the upper bound of the random addition on top of the
	// exponential delay.
	maxJitter = 250 * time.Millisecond
)

// RetryOptions tunes the connect-with-retry loop. Zero values take the
// defaults; floors are enforced by normalize.
type RetryOptions struct {
	MaxAttempts int           // default 20, floor 1
	BaseDelay   time.Duration // default 900ms, floor 200ms
	MaxDelay    time.Duration // default 30s, floor BaseDelay
}

func (o RetryOptions) normalize() RetryOptions {
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 20
	}

	if o.BaseDelay <= 0 {
		o.BaseDelay = 900 * time.Millisecond
	}

	if o.BaseDelay < 200*time.Millisecond {
		o.BaseDelay = 200 * time.Millisecond
	}

	if o.MaxDelay <= 0 {
		o.MaxDelay = 30 * time.Second
	}

	if o.MaxDelay < o.BaseDelay {
		o.MaxDelay = o.BaseDelay
	}

	return o
}

// backoffDelay computes the pre-jitter sleep before attempt n (1-based):
// min(MaxDelay, BaseDelay * 2^min(6, n-1)).
func (o RetryOptions) backoffDelay(attempt int) time.Duration {
	shift := attempt - 1
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}

	delay := o.BaseDelay << shift
	if delay > o.MaxDelay {
		delay = o.MaxDelay
	}

	return delay
}

// RetryController drives repeated connection attempts with exponential
// backoff and jitter. Each call supersedes any still-running one: a loop
// captures its generation at start and stops mutating state as soon as the
// live counter diverges. There is no forcible interruption of an in-flight
// handshake; cancellation is cooperative, checked after every suspension
// point, and additionally honors ctx.
type RetryController struct {
	handshaker Handshaker
	state      *ConnState
	opts       RetryOptions
	logger     *slog.Logger

	generation atomic.Uint64

	mu         sync.Mutex
	lastSocket string
}

// NewRetryController creates a controller writing into state.
func NewRetryController(
	handshaker Handshaker,
	state *ConnState,
	opts RetryOptions,
	logger *slog.Logger,
) *RetryController {
	return &RetryController{
		handshaker: handshaker,
		state:      state,
		opts:       opts.normalize(),
		logger:     logger,
	}
}

// ConnectWithRetry attempts to connect to socket, retrying with backoff
// until success, exhaustion, supersession, or ctx cancellation. It never
// returns an error: every outcome is recorded in the shared connection
// state.
func (r *RetryController) ConnectWithRetry(ctx context.Context, socket string) {
	socket = strings.TrimSpace(socket)
	if socket == "" {
		r.state.set(PhaseFailed, ReasonUnknown, apperrors.ErrMissingSocket.Error(), "")
		return
	}

	r.mu.Lock()
	r.lastSocket = socket
	r.mu.Unlock()

	gen := r.generation.Add(1)
	if r.superseded(gen) {
		// A newer call allocated its generation between ours and this
		// check; it owns the state from here on.
		return
	}

	r.state.set(PhaseConnecting, ReasonOK, "Connecting", socket)

	for attempt := 1; attempt <= r.opts.MaxAttempts; attempt++ {
		err := r.handshaker.Connect(ctx, socket)

		if r.superseded(gen) {
			return
		}

		if err == nil {
			r.state.set(PhaseConnected, ReasonOK, "", socket)
			r.logger.Info("connected",
				slog.String("socket", socket),
				slog.Int("attempt", attempt),
			)

			return
		}

		reason := ClassifyConnectError(err.Error())

		if attempt == r.opts.MaxAttempts {
			r.state.set(PhaseFailed, reason, err.Error(), socket)
			r.logger.Warn("connect attempts exhausted",
				slog.String("socket", socket),
				slog.Int("attempts", attempt),
				slog.String("reason", string(reason)),
			)

			return
		}

		delay := r.opts.backoffDelay(attempt) +
			time.Duration(rand.Int64N(int64(maxJitter))) //nolint:gosec // G404: math/rand is fine for backoff jitter, no security impact

		detail := fmt.Sprintf("Reconnecting (%d/%d)", attempt, r.opts.MaxAttempts)
		r.state.set(PhaseConnecting, reason, detail, socket)

		r.logger.Debug("connect attempt failed",
			slog.String("socket", socket),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()

			if !r.superseded(gen) {
				r.state.set(PhaseFailed, ReasonUnknown, ctx.Err().Error(), socket)
			}

			return
		case <-timer.C:
		}

		if r.superseded(gen) {
			return
		}
	}
}

// RetryLast replays the most recently attempted socket. When no socket was
// ever attempted it records a deterministic missing-socket failure rather
// than silently doing nothing.
func (r *RetryController) RetryLast(ctx context.Context) {
	r.mu.Lock()
	socket := r.lastSocket
	r.mu.Unlock()

	if socket == "" {
		socket = r.state.LastServerSocket()
	}

	if socket == "" {
		r.state.set(PhaseFailed, ReasonUnknown, apperrors.ErrMissingSocket.Error(), "")
		return
	}

	r.ConnectWithRetry(ctx, socket)
}

// superseded reports whether a newer ConnectWithRetry call has started.
// Older generations must stop mutating state and stop sleeping.
func (r *RetryController) superseded(gen uint64) bool {
	return r.generation.Load() != gen
}
