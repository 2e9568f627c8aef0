package graph

import (
	"sync"

	"ariadne/internal/apperr"
	"ariadne/internal/logging"
)

// Manager owns the live Store behind a read-write lock so the shadow
// rebuilder can close, rename and reopen the database file while readers
// observe either the pre-swap or post-swap database in full, never a mix.
type Manager struct {
	mu    sync.RWMutex
	path  string
	store *Store
}

// NewManager opens the database at path and wraps it.
func NewManager(path string) (*Manager, error) {
	st, err := Open(path)
	if err != nil {
		return nil, err
	}
	return &Manager{path: path, store: st}, nil
}

// Path returns the configured database file path.
func (m *Manager) Path() string { return m.path }

// Acquire returns the live store and a release function. The read lock is
// held until release, excluding any swap for the duration of the caller's
// use.
func (m *Manager) Acquire() (*Store, func()) {
	m.mu.RLock()
	return m.store, m.mu.RUnlock
}

// SwapFiles closes the live store, invokes swap (which renames files on
// disk), then reopens the store at the same path. Only the shadow rebuilder
// calls this. If reopening after a failed swap succeeds the old database is
// served again; if it fails the error is Fatal.
func (m *Manager) SwapFiles(swap func(dbPath string) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.Close(); err != nil {
		return apperr.Wrap(apperr.KindUnavailable, err, "close store before swap")
	}

	swapErr := swap(m.path)

	st, openErr := Open(m.path)
	if openErr != nil {
		if swapErr != nil {
			return apperr.Wrap(apperr.KindFatal, openErr, "reopen after failed swap (swap error: %v)", swapErr)
		}
		return apperr.Wrap(apperr.KindFatal, openErr, "reopen after swap")
	}
	m.store = st

	if swapErr != nil {
		logging.Get(logging.CategoryStore).Errorw("swap failed, previous database restored", "error", swapErr)
		return swapErr
	}
	logging.Get(logging.CategoryStore).Infow("database swapped", "path", m.path)
	return nil
}

// Close closes the live store.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Close()
}
