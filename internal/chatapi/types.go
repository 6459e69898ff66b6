package chatapi

// ProtocolVersion is the wire protocol generation this client speaks.
// The handshake rejects servers on a different generation.
const ProtocolVersion = 2

// APIError is the error envelope servers use for failed requests.
type APIError struct {
	Error string `json:"error"`
}

// HandshakeRequest opens a server connection.
type HandshakeRequest struct {
	ProtocolVersion int `json:"protocol_version"`
}

// HandshakeResponse acknowledges a connection.
type HandshakeResponse struct {
	ProtocolVersion int    `json:"protocol_version"`
	ServerName      string `json:"server_name"`
}

// Channel is one chat channel on a server.
type Channel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ChannelListResponse is the /api/channels payload.
type ChannelListResponse struct {
	Channels []Channel `json:"channels"`
}

// Message is one chat message.
type Message struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	Author    string `json:"author"`
	Body      string `json:"body"`
	SentAt    int64  `json:"sent_at"`
}

// MessagePage is one page of messages, newest last.
type MessagePage struct {
	ChannelID string    `json:"channel_id"`
	Messages  []Message `json:"messages"`
}

// Member is one entry in a channel's member rail.
type Member struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Online bool   `json:"online"`
}

// MemberListResponse is the member rail payload.
type MemberListResponse struct {
	Members []Member `json:"members"`
}

// PushEndpointResponse advertises an alternate push-transport URL.
type PushEndpointResponse struct {
	URL string `json:"url"`
}
