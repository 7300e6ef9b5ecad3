package attempt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrNotFound means no attempt has the requested ID.
var ErrNotFound = errors.New("attempt not found")

// Store persists attempt contexts.
type Store interface {
	Save(ctx context.Context, c *Context) error
	Load(ctx context.Context, id string) (*Context, error)
	// List returns attempts newest first, optionally for one branch only.
	List(ctx context.Context, branch string) ([]*Context, error)
}

// FileStore keeps one JSON file per attempt under baseDir.
type FileStore struct {
	baseDir string
}

// NewFileStore creates a FileStore rooted at baseDir.
func NewFileStore(baseDir string) *FileStore {
	return &FileStore{baseDir: baseDir}
}

// DefaultFileStore returns a FileStore at ~/.mergegate/attempts.
func DefaultFileStore() (*FileStore, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".mergegate", "attempts")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &FileStore{baseDir: dir}, nil
}

// BaseDir returns the store's root directory.
func (s *FileStore) BaseDir() string {
	return s.baseDir
}

func (s *FileStore) attemptPath(id string) string {
	return filepath.Join(s.baseDir, id, "attempt.json")
}

func validID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
		return fmt.Errorf("invalid attempt id %q", id)
	}
	return nil
}

// Save writes c atomically.
func (s *FileStore) Save(_ context.Context, c *Context) error {
	if err := validID(c.ID); err != nil {
		return err
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	if err := WriteJSON(s.attemptPath(c.ID), c); err != nil {
		return fmt.Errorf("write attempt.json: %w", err)
	}
	return nil
}

// Load reads the attempt with the given ID.
func (s *FileStore) Load(_ context.Context, id string) (*Context, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	var c Context
	if err := ReadJSON(s.attemptPath(id), &c); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	return &c, nil
}

// List returns every readable attempt, newest first. Broken entries are skipped.
func (s *FileStore) List(ctx context.Context, branch string) ([]*Context, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", s.baseDir, err)
	}

	var out []*Context
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		c, err := s.Load(ctx, entry.Name())
		if err != nil {
			continue
		}
		if branch == "" || c.Branch == branch {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
