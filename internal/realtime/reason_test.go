package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyConnectError(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want ConnectionReason
	}{
		{"empty message", "", ReasonUnknown},
		{"timeout", "dial tcp: i/o timeout", ReasonTimeout},
		{"deadline", "context deadline exceeded", ReasonTimeout},
		{"tls", "tls: failed to verify certificate", ReasonTLSVerifyFailed},
		{"x509", "x509: certificate signed by unknown authority", ReasonTLSVerifyFailed},
		{"fingerprint", "certificate fingerprint mismatch: got abc", ReasonTLSVerifyFailed},
		{"version", "version incompatible: server speaks protocol 1", ReasonVersionMismatch},
		{"refused", "dial tcp 10.0.0.1:443: connection refused", ReasonNetworkUnreachable},
		{"dns", "lookup chat.example: no such host", ReasonNetworkUnreachable},
		{"generic", "server said no", ReasonHandshakeFailed},
		{"case insensitive", "TLS HANDSHAKE PROBLEM", ReasonTLSVerifyFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyConnectError(tt.msg))
		})
	}
}

// Timeout keywords outrank TLS keywords outrank version keywords outrank
// network keywords when a message matches several categories.
func TestClassifyConnectError_Priority(t *testing.T) {
	assert.Equal(t, ReasonTimeout, ClassifyConnectError("tls handshake timeout"))
	assert.Equal(t, ReasonTLSVerifyFailed, ClassifyConnectError("certificate has wrong version"))
	assert.Equal(t, ReasonVersionMismatch, ClassifyConnectError("incompatible peer, connection reset"))
}

func TestConnSnapshot_UIState(t *testing.T) {
	tests := []struct {
		phase ConnPhase
		want  UIState
	}{
		{PhaseConnected, UIConnected},
		{PhaseConnecting, UIReconnecting},
		{PhaseIdle, UIOffline},
		{PhaseFailed, UIOffline},
	}

	for _, tt := range tests {
		snap := ConnSnapshot{Phase: tt.phase}
		assert.Equal(t, tt.want, snap.UIState(), "phase=%s", tt.phase)
	}
}
