// Package store keeps the user credentials behind the login and register
// pages. Access goes through a fixed pool of sessions; the table can be
// persisted to a protobuf snapshot file.
package store

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// DefaultPoolSize is the number of sessions when Options.PoolSize is unset
const DefaultPoolSize = 12

// Options configures a CredentialStore
type Options struct {
	PoolSize int
	// SnapshotPath is loaded at open and rewritten after every
	// registration; empty keeps users in memory only
	SnapshotPath string
}

// CredentialStore verifies and registers users
type CredentialStore struct {
	users *UserTable
	pool  *SessionPool

	snapshotPath string
	saveMu       sync.Mutex

	log zerolog.Logger
}

// Open creates the store and loads the snapshot, if any
func Open(opts Options, log zerolog.Logger) (*CredentialStore, error) {
	if opts.PoolSize <= 0 {
		opts.PoolSize = DefaultPoolSize
	}

	users := NewUserTable()
	if opts.SnapshotPath != "" {
		if err := LoadSnapshot(opts.SnapshotPath, users); err != nil {
			return nil, err
		}
	}

	s := &CredentialStore{
		users:        users,
		pool:         NewSessionPool(opts.PoolSize, users),
		snapshotPath: opts.SnapshotPath,
		log:          log,
	}
	log.Info().Int("poolSize", opts.PoolSize).Int("users", users.Len()).Str("snapshot", opts.SnapshotPath).Msg("credential store ready")
	return s, nil
}

// Verify reports whether name exists with exactly this password
func (s *CredentialStore) Verify(ctx context.Context, name, password string) (bool, error) {
	if name == "" || password == "" {
		return false, nil
	}

	var ok bool
	err := s.pool.WithConn(ctx, func(sess *Session) error {
		stored, found := sess.Query(name)
		ok = found && stored == password
		return nil
	})
	if err != nil {
		return false, err
	}
	if !ok {
		s.log.Debug().Str("user", name).Msg("pwd error")
	}
	return ok, nil
}

// Register adds a new user; it returns false when the name is taken
func (s *CredentialStore) Register(ctx context.Context, name, password string) (bool, error) {
	if name == "" || password == "" {
		return false, nil
	}

	var added bool
	err := s.pool.WithConn(ctx, func(sess *Session) error {
		added = sess.Insert(name, password)
		return nil
	})
	if err != nil {
		return false, err
	}
	if !added {
		s.log.Debug().Str("user", name).Msg("user used")
		return false, nil
	}

	if err := s.save(); err != nil {
		// the user stays registered in memory
		s.log.Error().Err(err).Str("path", s.snapshotPath).Msg("save user snapshot failed")
	}
	return true, nil
}

func (s *CredentialStore) save() error {
	if s.snapshotPath == "" {
		return nil
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	return SaveSnapshot(s.snapshotPath, s.users)
}

// Pool returns the session pool
func (s *CredentialStore) Pool() *SessionPool {
	return s.pool
}

// Users returns the number of registered users
func (s *CredentialStore) Users() int {
	return s.users.Len()
}

// Close closes the session pool
func (s *CredentialStore) Close() error {
	s.pool.ClosePool()
	return nil
}
