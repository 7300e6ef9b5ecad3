// Package lock serializes merge attempts per branch, within a process and
// across processes sharing a state directory.
package lock

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// ErrAlreadyRunning means another merge attempt holds the branch.
var ErrAlreadyRunning = errors.New("merge already running for branch")

// Manager hands out per-branch locks.
type Manager struct {
	dir   string
	locks sync.Map // map[string]chan struct{}
}

// NewManager creates a Manager. Lock files live under dir; an empty dir
// means in-process locking only.
func NewManager(dir string) *Manager {
	return &Manager{dir: dir}
}

// Handle is a held branch lock.
type Handle struct {
	m      *Manager
	branch string
	file   *flock.Flock
	once   sync.Once
}

// Acquire takes the lock for branch without waiting.
func (m *Manager) Acquire(branch string) (*Handle, error) {
	if !m.tryAcquire(branch) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, branch)
	}
	h := &Handle{m: m, branch: branch}
	if m.dir == "" {
		return h, nil
	}

	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		m.release(branch)
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	fl := flock.New(m.Path(branch))
	locked, err := fl.TryLock()
	if err != nil {
		m.release(branch)
		return nil, fmt.Errorf("acquiring lock: %w", err)
	}
	if !locked {
		m.release(branch)
		return nil, fmt.Errorf("%w: %s (held by another process)", ErrAlreadyRunning, branch)
	}
	h.file = fl
	return h, nil
}

// Path returns the lock file path for branch.
func (m *Manager) Path(branch string) string {
	return filepath.Join(m.dir, url.PathEscape(branch)+".lock")
}

// Release drops the lock. Safe to call more than once.
func (h *Handle) Release() error {
	var err error
	h.once.Do(func() {
		if h.file != nil {
			err = h.file.Unlock()
		}
		h.m.release(h.branch)
	})
	return err
}

func (m *Manager) tryAcquire(branch string) bool {
	actual, _ := m.locks.LoadOrStore(branch, make(chan struct{}, 1))
	ch := actual.(chan struct{})
	select {
	case ch <- struct{}{}:
		return true
	default:
		return false
	}
}

func (m *Manager) release(branch string) {
	if actual, ok := m.locks.Load(branch); ok {
		select {
		case <-actual.(chan struct{}):
		default:
		}
	}
}
