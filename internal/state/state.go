package state

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/CarryPigeon/carrypigeon-desktop/internal/realtime"
	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory
	// (~/.carrypigeon/).
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	appBucket     = []byte("app")
	cursorsBucket = []byte("cursors")
	tokenKey      = []byte("token")
)

// Store wraps a bbolt database for all persistent client state: the
// cached session token and the per-server resume cursor.
type Store struct {
	db *bolt.DB
}

// Load opens the state database at ~/.carrypigeon/state.db, creating it
// if it does not exist.
func Load() (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("determining home directory: %w", err)
	}

	return LoadAt(filepath.Join(home, ".carrypigeon", "state.db"))
}

// LoadAt opens a state database at the given path, creating it if it does
// not exist. Useful for tests that need an isolated database.
func LoadAt(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(appBucket); err != nil {
			return err
		}

		_, err := tx.CreateBucketIfNotExists(cursorsBucket)

		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Token returns the cached session token, or empty string.
func (s *Store) Token() string {
	var token string

	_ = s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(appBucket).Get(tokenKey); v != nil {
			token = string(v)
		}

		return nil
	})

	return token
}

// SetToken persists the session token.
func (s *Store) SetToken(token string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(appBucket).Put(tokenKey, []byte(token))
	})
}

// Cursor returns the last persisted event id for a server socket, or
// empty string when no events were ever seen.
func (s *Store) Cursor(socket string) (string, error) {
	var cursor string

	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(cursorsBucket).Get([]byte(socket)); v != nil {
			cursor = string(v)
		}

		return nil
	})
	if err != nil {
		return "", fmt.Errorf("reading cursor: %w", err)
	}

	return cursor, nil
}

// SetCursor advances the resume cursor for a server socket. The cursor
// never moves backwards: an event id that orders at or before the stored
// one is ignored, so replayed or out-of-order events cannot regress the
// resume point.
func (s *Store) SetCursor(socket, eventID string) error {
	if eventID == "" {
		return nil
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(cursorsBucket)

		if v := b.Get([]byte(socket)); v != nil {
			if realtime.CompareEventIDs(eventID, string(v)) <= 0 {
				return nil
			}
		}

		return b.Put([]byte(socket), []byte(eventID))
	})
	if err != nil {
		return fmt.Errorf("writing cursor: %w", err)
	}

	return nil
}
