package realtime

import "strings"

// ConnectionReason classifies why the last connect attempt ended the way it
// did. It drives UI affordances (e.g. "check your certificate" vs "server
// unreachable"), nothing else.
type ConnectionReason string

const (
	ReasonOK                 ConnectionReason = "ok"
	ReasonNetworkUnreachable ConnectionReason = "network_unreachable"
	ReasonHandshakeFailed    ConnectionReason = "handshake_failed"
	ReasonVersionMismatch    ConnectionReason = "version_incompatible"
	ReasonTLSVerifyFailed    ConnectionReason = "tls_verify_failed"
	ReasonTimeout            ConnectionReason = "timeout"
	ReasonUnknown            ConnectionReason = "unknown"
)

// Keyword tables for best-effort classification of raw connect errors.
// The handshake collaborator does not expose a structured error type, so
// classification lower-cases the message and matches substrings in priority
// order: timeout, TLS, version, network. Anything else with a message is a
// handshake failure.
var (
	timeoutKeywords = []string{
		"timeout", "timed out", "deadline exceeded",
	}
	tlsKeywords = []string{
		"tls", "certificate", "x509", "fingerprint",
	}
	versionKeywords = []string{
		"version", "incompatible", "unsupported protocol",
	}
	networkKeywords = []string{
		"connection refused", "no such host", "network is unreachable",
		"no route to host", "connection reset",
	}
)

// ClassifyConnectError maps a raw connect error message onto the reason
// taxonomy. A nil/empty message classifies as unknown.
func ClassifyConnectError(msg string) ConnectionReason {
	if msg == "" {
		return ReasonUnknown
	}

	lower := strings.ToLower(msg)

	if containsAny(lower, timeoutKeywords) {
		return ReasonTimeout
	}

	if containsAny(lower, tlsKeywords) {
		return ReasonTLSVerifyFailed
	}

	if containsAny(lower, versionKeywords) {
		return ReasonVersionMismatch
	}

	if containsAny(lower, networkKeywords) {
		return ReasonNetworkUnreachable
	}

	return ReasonHandshakeFailed
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}

	return false
}
