// Package registry holds the per-server TLS trust configuration. The
// trust store is a YAML file the user edits (or the settings UI writes);
// the registry hot-reloads it so transport selection always sees the
// current policy.
package registry

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"

	apperrors "github.com/CarryPigeon/carrypigeon-desktop/internal/errors"
	"github.com/CarryPigeon/carrypigeon-desktop/internal/realtime"
	"gopkg.in/yaml.v3"
)

// ServerTLSConfig is one server's certificate-trust mode.
type ServerTLSConfig struct {
	Policy      realtime.TrustPolicy `yaml:"tls_policy"`
	Fingerprint string               `yaml:"tls_fingerprint,omitempty"`
}

// trustStoreFile is the on-disk YAML shape.
type trustStoreFile struct {
	Servers map[string]ServerTLSConfig `yaml:"servers"`
}

// Registry is the in-memory view of the trust store, keyed by server
// socket ("host:port"). Read-only to the realtime core.
type Registry struct {
	path string

	mu      sync.RWMutex
	servers map[string]ServerTLSConfig
}

// Open loads the trust store at path. A missing file yields an empty
// registry (every server defaults to strict verification).
func Open(path string) (*Registry, error) {
	r := &Registry{path: path, servers: make(map[string]ServerTLSConfig)}

	if err := r.Reload(); err != nil {
		return nil, err
	}

	return r, nil
}

// Reload re-reads the trust store file. Called at open and by the
// watcher on file change.
func (r *Registry) Reload() error {
	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		r.mu.Lock()
		r.servers = make(map[string]ServerTLSConfig)
		r.mu.Unlock()

		return nil
	}

	if err != nil {
		return fmt.Errorf("reading trust store: %w", err)
	}

	var file trustStoreFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing trust store: %w", err)
	}

	servers := make(map[string]ServerTLSConfig, len(file.Servers))
	for socket, cfg := range file.Servers {
		if cfg.Policy == "" {
			cfg.Policy = realtime.TrustStrict
		}

		servers[strings.TrimSpace(socket)] = cfg
	}

	r.mu.Lock()
	r.servers = servers
	r.mu.Unlock()

	return nil
}

// PolicyFor returns the trust policy for a server socket. Unknown
// servers default to strict verification.
func (r *Registry) PolicyFor(socket string) realtime.TrustPolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, ok := r.servers[strings.TrimSpace(socket)]
	if !ok {
		return realtime.TrustStrict
	}

	return cfg.Policy
}

// Lookup returns the full TLS configuration for a server socket.
func (r *Registry) Lookup(socket string) (ServerTLSConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, ok := r.servers[strings.TrimSpace(socket)]
	if !ok {
		return ServerTLSConfig{}, apperrors.ErrServerUnknown
	}

	return cfg, nil
}

// TLSClientConfig builds the tls.Config for dialing a server under its
// trust policy. Unknown servers get default (strict) verification.
func (r *Registry) TLSClientConfig(socket string) (*tls.Config, error) {
	cfg, err := r.Lookup(socket)
	if err != nil {
		// Strict verification for servers not in the trust store.
		return &tls.Config{MinVersion: tls.VersionTLS12}, nil
	}

	switch cfg.Policy {
	case realtime.TrustStrict, "":
		return &tls.Config{MinVersion: tls.VersionTLS12}, nil

	case realtime.TrustInsecure:
		return &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: true, //nolint:gosec // G402: explicit user opt-in via the insecure trust policy
		}, nil

	case realtime.TrustFingerprint:
		want, err := normalizeFingerprint(cfg.Fingerprint)
		if err != nil {
			return nil, err
		}

		return &tls.Config{
			MinVersion: tls.VersionTLS12,
			// Chain verification is replaced by leaf pinning below.
			InsecureSkipVerify:    true, //nolint:gosec // G402: verification happens in VerifyPeerCertificate
			VerifyPeerCertificate: pinLeafFingerprint(want),
		}, nil

	default:
		return nil, fmt.Errorf("unknown trust policy %q for %s", cfg.Policy, socket)
	}
}

// normalizeFingerprint strips colons and lower-cases a SHA-256 hex
// fingerprint, validating its length.
func normalizeFingerprint(fp string) (string, error) {
	fp = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(fp), ":", ""))
	if fp == "" {
		return "", apperrors.ErrFingerprintMissing
	}

	if len(fp) != sha256.Size*2 {
		return "", fmt.Errorf("%w: %q", apperrors.ErrBadFingerprint, fp)
	}

	if _, err := hex.DecodeString(fp); err != nil {
		return "", fmt.Errorf("%w: %q", apperrors.ErrBadFingerprint, fp)
	}

	return fp, nil
}

// pinLeafFingerprint returns a VerifyPeerCertificate callback accepting
// only a leaf certificate whose SHA-256 digest matches want.
func pinLeafFingerprint(want string) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return fmt.Errorf("server presented no certificate")
		}

		sum := sha256.Sum256(rawCerts[0])
		got := hex.EncodeToString(sum[:])

		if got != want {
			return fmt.Errorf("certificate fingerprint mismatch: got %s", got)
		}

		return nil
	}
}
