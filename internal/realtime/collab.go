package realtime

import "context"

// Collaborators owned by other layers of the client. The realtime core
// only calls through these interfaces; UI, storage, and auth provide the
// implementations.

// ChannelService exposes the channel/message surface the realtime core
// needs: list refresh, selection, and catch-up page loads.
type ChannelService interface {
	// RefreshChannels reloads the channel list for the given server.
	RefreshChannels(ctx context.Context, socket string) error

	// SelectedChannel returns the id of the currently selected channel
	// for the server, or "" when none is selected.
	SelectedChannel(socket string) string

	// SelectDefaultChannel picks an initial channel (first in the list)
	// and returns its id, or "" when the server has no channels.
	SelectDefaultChannel(ctx context.Context, socket string) (string, error)

	// LoadLatestPage fetches the most recent message page of a channel.
	LoadLatestPage(ctx context.Context, socket, channelID string) error

	// LoadMemberRail fetches the member list of a channel. Best-effort:
	// readiness does not block on it.
	LoadMemberRail(ctx context.Context, socket, channelID string) error
}

// SessionSource resolves the active server session and notifies about
// token changes. Token issuance itself lives elsewhere.
type SessionSource interface {
	// Current returns the active server socket and its session token.
	// Either may be empty when no session is established.
	Current() (socket, token string)

	// Refresh asks the auth layer for a fresh token for the active
	// server. Implementations persist and broadcast the new token.
	Refresh(ctx context.Context) error

	// Subscribe registers a callback invoked whenever the token for the
	// active server changes. The returned stopper removes the listener.
	Subscribe(fn func(socket, token string)) (stop func())
}

// PushEndpointSource resolves a server-advertised alternate push URL.
// An empty URL or an error means the default wss endpoint is used.
type PushEndpointSource interface {
	PushEndpoint(ctx context.Context, socket string) (string, error)
}

// PolicySource reads the mutable per-server trust policy.
type PolicySource interface {
	PolicyFor(socket string) TrustPolicy
}

// Handshaker performs the synchronous connect handshake against a server
// socket. It owns per-attempt timeouts; the retry controller only consumes
// its error surface.
type Handshaker interface {
	Connect(ctx context.Context, socket string) error
}

// CursorStore persists the resume cursor (last seen event id) per server.
type CursorStore interface {
	Cursor(socket string) (string, error)
	SetCursor(socket, eventID string) error
}
