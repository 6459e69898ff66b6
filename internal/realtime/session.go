package realtime

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/tidwall/gjson"

	apperrors "github.com/CarryPigeon/carrypigeon-desktop/internal/errors"
)

// EventSink receives server-pushed events. data is the raw event payload.
type EventSink func(eventID string, data []byte)

// ConnectOptions carries the per-connect knobs and callbacks.
type ConnectOptions struct {
	// WsURLOverride is a server-advertised alternate push endpoint.
	// When empty the manager derives the URL from the socket key.
	WsURLOverride string

	// OnResumeFailed is invoked when the server could not replay events
	// from the resume cursor (e.g. it discarded its backlog). The caller
	// must run a compensating HTTP catch-up fetch; silent event loss is
	// a correctness bug.
	OnResumeFailed func(reason string)

	// OnAuthError is invoked when the server rejects the session's
	// credentials mid-session. The manager closes the session first;
	// the caller is expected to retry EnsureConnected with a fresh
	// token.
	OnAuthError func()
}

// TLSProvider builds the TLS client configuration for a server socket
// according to its trust policy.
type TLSProvider interface {
	TLSClientConfig(socket string) (*tls.Config, error)
}

// wsConn abstracts the WebSocket connection so SessionManager can be
// tested without a real server. *websocket.Conn satisfies this interface.
type wsConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// dialFunc opens a WebSocket connection. Injectable for tests.
type dialFunc func(ctx context.Context, url string, opts *websocket.DialOptions) (wsConn, error)

func defaultDial(ctx context.Context, url string, opts *websocket.DialOptions) (wsConn, error) {
	conn, _, err := websocket.Dial(ctx, url, opts) //nolint:bodyclose // websocket.Dial closes the response body internally
	return conn, err
}

// authFrame is the first frame sent after dialing. Cursor carries the last
// locally-persisted event id so the server can replay missed events.
type authFrame struct {
	Op       string `json:"op"`
	Token    string `json:"token"`
	Device   string `json:"device"`
	ClientID string `json:"client_id"`
	Cursor   string `json:"cursor,omitempty"`
}

type reauthFrame struct {
	Op    string `json:"op"`
	Token string `json:"token"`
}

// SessionManager owns the push-transport session for one server
// connection: connect, resume, reauthenticate, detect failure, close.
// At most one push session exists per client process.
type SessionManager struct {
	dial     dialFunc
	tlsProv  TLSProvider
	cursors  CursorStore
	device   string
	clientID string
	logger   *slog.Logger

	// connectMu serializes EnsureConnected end to end. Dial and handshake
	// happen outside mu (they block), so without this two concurrent
	// connects could both pass the connected check and install two live
	// sessions, the loser never torn down.
	connectMu sync.Mutex

	mu         sync.Mutex
	conn       wsConn
	socketKey  string
	connected  bool
	connCancel context.CancelFunc
}

// NewSessionManager creates a disconnected manager. clientID identifies
// this client instance to the server across reconnects.
func NewSessionManager(
	tlsProv TLSProvider,
	cursors CursorStore,
	device, clientID string,
	logger *slog.Logger,
) *SessionManager {
	return &SessionManager{
		dial:     defaultDial,
		tlsProv:  tlsProv,
		cursors:  cursors,
		device:   device,
		clientID: clientID,
		logger:   logger,
	}
}

// IsConnectedFor reports whether a live push session exists for the given
// socket key.
func (m *SessionManager) IsConnectedFor(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.connected && m.socketKey == strings.TrimSpace(key)
}

// Close tears down the push session. Idempotent, safe when not connected.
func (m *SessionManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked()
}

func (m *SessionManager) closeLocked() {
	if m.connCancel != nil {
		m.connCancel()
		m.connCancel = nil
	}

	if m.conn != nil {
		_ = m.conn.Close(websocket.StatusNormalClosure, "client closing")
		m.conn = nil
	}

	m.connected = false
	m.socketKey = ""
}

// EnsureConnected opens the push transport for the given socket key if it
// is not already connected there. It authenticates with token, sends the
// resume cursor, and attaches onEvent as the push-event sink. Concurrent
// calls are serialized; a call that finds the session already established
// for its key returns without dialing.
func (m *SessionManager) EnsureConnected(
	ctx context.Context,
	key, token string,
	onEvent EventSink,
	opts ConnectOptions,
) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("empty socket key")
	}

	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	m.mu.Lock()
	if m.connected && m.socketKey == key {
		m.mu.Unlock()
		return nil
	}

	// Entering a new session tears down any old one first.
	m.closeLocked()
	m.mu.Unlock()

	url := opts.WsURLOverride
	if url == "" {
		url = "wss://" + key + "/ws"
	}

	tlsCfg, err := m.tlsProv.TLSClientConfig(key)
	if err != nil {
		return fmt.Errorf("building tls config: %w", err)
	}

	m.logger.Debug("connecting push transport", slog.String("url", url))

	conn, err := m.dial(ctx, url, &websocket.DialOptions{
		HTTPClient: &http.Client{
			Transport: &http.Transport{TLSClientConfig: tlsCfg},
		},
	})
	if err != nil {
		return fmt.Errorf("dialing websocket: %w", err)
	}

	if err := m.handshake(ctx, conn, key, token); err != nil {
		return err
	}

	connCtx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	m.conn = conn
	m.socketKey = key
	m.connected = true
	m.connCancel = cancel
	m.mu.Unlock()

	go m.readLoop(connCtx, conn, key, onEvent, opts)

	return nil
}

// handshake sends the auth frame (with resume cursor) and waits for the
// server's verdict. Extracted from EnsureConnected so the auth logic can
// be tested with a mock wsConn.
func (m *SessionManager) handshake(ctx context.Context, conn wsConn, key, token string) error {
	cursor, err := m.cursors.Cursor(key)
	if err != nil {
		m.logger.Warn("reading resume cursor, connecting without resume",
			slog.String("socket", key),
			slog.String("error", err.Error()),
		)

		cursor = ""
	}

	frame := authFrame{
		Op:       "auth",
		Token:    token,
		Device:   m.device,
		ClientID: m.clientID,
		Cursor:   cursor,
	}

	if err := writeJSON(ctx, conn, frame); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "auth write failed")
		return fmt.Errorf("sending auth frame: %w", err)
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "auth read failed")
		return fmt.Errorf("reading auth response: %w", err)
	}

	res := gjson.GetBytes(data, "op").Str
	if res != "auth_ok" {
		msg := gjson.GetBytes(data, "msg").Str
		if msg == "" {
			msg = res
		}

		_ = conn.Close(websocket.StatusNormalClosure, "auth failed")

		return fmt.Errorf("%w: %s", apperrors.ErrInvalidToken, msg)
	}

	m.logger.Info("push session authenticated",
		slog.String("socket", key),
		slog.String("cursor", cursor),
	)

	return nil
}

// ReauthIfConnectedFor pushes a re-authentication frame using the new
// token without dropping the connection. A no-op when not connected for
// the given key. Triggered when the session-token store reports a token
// change for the active server.
func (m *SessionManager) ReauthIfConnectedFor(ctx context.Context, key, token string) error {
	m.mu.Lock()
	conn := m.conn
	match := m.connected && m.socketKey == strings.TrimSpace(key)
	m.mu.Unlock()

	if !match {
		return nil
	}

	if err := writeJSON(ctx, conn, reauthFrame{Op: "reauth", Token: token}); err != nil {
		return fmt.Errorf("sending reauth frame: %w", err)
	}

	m.logger.Debug("reauth frame sent", slog.String("socket", key))

	return nil
}

// readLoop consumes frames until the connection drops or the session is
// closed. It feeds events to the sink, advances the resume cursor, and
// dispatches the auth-error and resume-failure callbacks.
func (m *SessionManager) readLoop(
	ctx context.Context,
	conn wsConn,
	key string,
	onEvent EventSink,
	opts ConnectOptions,
) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			m.markDisconnected(conn)

			if ctx.Err() == nil {
				m.logger.Warn("push session read failed",
					slog.String("socket", key),
					slog.String("error", err.Error()),
				)
			}

			return
		}

		if typ != websocket.MessageText {
			m.logger.Debug("unexpected binary frame", slog.Int("bytes", len(data)))
			continue
		}

		switch gjson.GetBytes(data, "op").Str {
		case "event":
			m.handleEvent(key, data, onEvent)

		case "resume_failed":
			reason := gjson.GetBytes(data, "reason").Str
			m.logger.Warn("server could not resume from cursor",
				slog.String("socket", key),
				slog.String("reason", reason),
			)

			if opts.OnResumeFailed != nil {
				opts.OnResumeFailed(reason)
			}

		case "auth_error":
			m.logger.Warn("server rejected session credentials", slog.String("socket", key))
			m.Close()

			if opts.OnAuthError != nil {
				opts.OnAuthError()
			}

			return

		case "pong":
			// Heartbeat reply, nothing to do.

		default:
			m.logger.Debug("unexpected frame", slog.String("op", gjson.GetBytes(data, "op").Str))
		}
	}
}

func (m *SessionManager) handleEvent(key string, data []byte, onEvent EventSink) {
	eventID := gjson.GetBytes(data, "id").Str
	if eventID == "" {
		m.logger.Debug("event frame without id", slog.Int("bytes", len(data)))
		return
	}

	if err := m.cursors.SetCursor(key, eventID); err != nil {
		m.logger.Warn("persisting resume cursor",
			slog.String("event_id", eventID),
			slog.String("error", err.Error()),
		)
	}

	if onEvent != nil {
		onEvent(eventID, data)
	}
}

// markDisconnected flips the connected flag if conn is still the live
// connection. A stale read loop from a superseded connection must not
// clobber the state of its replacement.
func (m *SessionManager) markDisconnected(conn wsConn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == conn {
		m.connected = false
	}
}

func writeJSON(ctx context.Context, conn wsConn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshalling message: %w", err)
	}

	return conn.Write(ctx, websocket.MessageText, data)
}
