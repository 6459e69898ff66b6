package errors

import "errors"

// Session errors.
var (
	ErrNoSession    = errors.New("no active session")
	ErrInvalidToken = errors.New("invalid or expired token")
)

// Server registry errors.
var (
	ErrServerUnknown      = errors.New("server not present in trust store")
	ErrBadFingerprint     = errors.New("malformed certificate fingerprint")
	ErrFingerprintMissing = errors.New("trust_fingerprint policy requires a fingerprint")
)

// Transport errors.
var (
	ErrMissingSocket = errors.New("no server socket to retry")
	ErrAPIRequest    = errors.New("API request failed")
	ErrAPIResponse   = errors.New("unexpected API response")
)
