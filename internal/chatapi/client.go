// Package chatapi talks to a CarryPigeon server's HTTP API. It backs the
// polling catch-up loop and the readiness refresh path; the push
// transport lives in internal/realtime.
package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "github.com/CarryPigeon/carrypigeon-desktop/internal/errors"
)

// TransientError wraps an error that is likely temporary and safe to retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or any error in its chain) is a
// TransientError, meaning the caller should retry after a backoff.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

const (
	// maxRedirects is the maximum number of HTTP redirects to follow
	// before giving up, matching the default net/http limit.
	maxRedirects = 10

	// httpClientTimeout is the timeout for the default HTTP client used
	// when no custom client is provided.
	httpClientTimeout = 30 * time.Second

	// maxAPIResponseBytes caps response body reads to prevent a
	// misbehaving server from consuming unbounded memory.
	maxAPIResponseBytes = 1024 * 1024
)

// Client talks to a chat server's REST API. The target server is chosen
// per call via its socket ("host:port").
type Client struct {
	httpClient *http.Client
	scheme     string
	token      func() string
}

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host. This prevents session tokens from
// leaking to third-party domains.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// NewClient creates an API client. token supplies the current session
// token for the Authorization header; it is consulted per request so
// rotation takes effect without rebuilding the client. If httpClient is
// nil, a client with a 30-second timeout and same-host redirect policy
// is created.
func NewClient(httpClient *http.Client, token func() string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:       httpClientTimeout,
			CheckRedirect: sameHostRedirectPolicy,
		}
	}

	if token == nil {
		token = func() string { return "" }
	}

	return &Client{
		httpClient: httpClient,
		scheme:     "https",
		token:      token,
	}
}

// sanitizeResponseBody truncates and sanitizes a response body for
// inclusion in error messages. Limits to 256 bytes and replaces
// non-printable characters to prevent log injection.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}

// do sends a JSON request to the given server and decodes the response
// into result.
func (c *Client) do(ctx context.Context, method, socket, endpoint string, body, result any) error {
	var reqBody io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshalling request body: %w", err)
		}

		reqBody = bytes.NewReader(payload)
	}

	url := c.scheme + "://" + socket + endpoint

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if tok := c.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network errors (timeouts, connection refused, DNS failures)
		// are transient by nature.
		return &TransientError{Err: fmt.Errorf("sending request to %s: %w", endpoint, err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))
	if err != nil {
		return fmt.Errorf("reading response from %s: %w", endpoint, err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr APIError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			err := fmt.Errorf("%w: %s (%d): %s", apperrors.ErrAPIRequest, endpoint, resp.StatusCode, apiErr.Error)
			if isTransientStatus(resp.StatusCode) {
				return &TransientError{Err: err}
			}

			return err
		}

		err := fmt.Errorf("%w: %s returned status %d: %s",
			apperrors.ErrAPIRequest, endpoint, resp.StatusCode, sanitizeResponseBody(respBody))
		if isTransientStatus(resp.StatusCode) {
			return &TransientError{Err: err}
		}

		return err
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("%w: decoding %s: %v", apperrors.ErrAPIResponse, endpoint, err)
		}
	}

	return nil
}

// isTransientStatus returns true for HTTP status codes that indicate a
// temporary server-side problem worth retrying.
func isTransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}

	return false
}

// Handshake performs the synchronous connect handshake against a server:
// it verifies reachability, protocol compatibility, and the session
// token. The retry controller drives this repeatedly with backoff.
func (c *Client) Handshake(ctx context.Context, socket string) error {
	req := HandshakeRequest{ProtocolVersion: ProtocolVersion}

	var resp HandshakeResponse
	if err := c.do(ctx, http.MethodPost, socket, "/api/handshake", req, &resp); err != nil {
		return fmt.Errorf("handshake with %s: %w", socket, err)
	}

	if resp.ProtocolVersion != ProtocolVersion {
		return fmt.Errorf("%w: version incompatible: server speaks protocol %d, client speaks %d",
			apperrors.ErrAPIResponse, resp.ProtocolVersion, ProtocolVersion)
	}

	return nil
}

// Connect implements the handshake collaborator interface consumed by
// the retry controller.
func (c *Client) Connect(ctx context.Context, socket string) error {
	return c.Handshake(ctx, socket)
}

// ListChannels returns the channel list of a server.
func (c *Client) ListChannels(ctx context.Context, socket string) ([]Channel, error) {
	var resp ChannelListResponse
	if err := c.do(ctx, http.MethodGet, socket, "/api/channels", nil, &resp); err != nil {
		return nil, fmt.Errorf("listing channels: %w", err)
	}

	return resp.Channels, nil
}

// LatestPage fetches the most recent message page of a channel.
func (c *Client) LatestPage(ctx context.Context, socket, channelID string) (*MessagePage, error) {
	endpoint := "/api/channels/" + channelID + "/messages/latest"

	var resp MessagePage
	if err := c.do(ctx, http.MethodGet, socket, endpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching latest page: %w", err)
	}

	return &resp, nil
}

// Members fetches the member rail of a channel.
func (c *Client) Members(ctx context.Context, socket, channelID string) ([]Member, error) {
	endpoint := "/api/channels/" + channelID + "/members"

	var resp MemberListResponse
	if err := c.do(ctx, http.MethodGet, socket, endpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching members: %w", err)
	}

	return resp.Members, nil
}

// PushEndpoint asks the server for its advertised push-transport URL, if
// any. An empty URL means the default wss://<socket>/ws endpoint.
func (c *Client) PushEndpoint(ctx context.Context, socket string) (string, error) {
	var resp PushEndpointResponse
	if err := c.do(ctx, http.MethodGet, socket, "/api/push-endpoint", nil, &resp); err != nil {
		return "", fmt.Errorf("fetching push endpoint: %w", err)
	}

	return strings.TrimSpace(resp.URL), nil
}
