// Package authz answers "who is this external identifier?" for the router.
//
// A lookup miss is not an error: it means the sender is unregistered and
// should receive the registration reply instead of a backend dispatch.
package authz

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/tinyland-inc/wabridge/pkg/logger"
)

// Grant is the authorization record attached to a registered external
// identifier.
type Grant struct {
	// UserID is the internal user identity passed to the backend.
	UserID string `json:"user_id"`
	// ProjectContext scopes the backend session to a project.
	ProjectContext string `json:"project_context"`
}

// Lookup resolves an external identifier to its grant. ok is false on a
// registry miss; err is reserved for lookup infrastructure failures.
type Lookup interface {
	Lookup(externalID string) (Grant, bool, error)
}

// FileStore is a Lookup backed by a JSON registry file mapping external
// identifiers to grants:
//
//	{"15551234567": {"user_id": "u-arlo", "project_context": "Project X"}}
//
// The registry is read once at construction; Reload picks up edits.
type FileStore struct {
	path string

	mu     sync.RWMutex
	grants map[string]Grant
}

func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{path: path, grants: map[string]Grant{}}
	if err := fs.Reload(); err != nil {
		return nil, err
	}
	return fs, nil
}

// Reload re-reads the registry file. A missing file yields an empty registry
// rather than an error so a fresh install starts with no registered users.
func (fs *FileStore) Reload() error {
	data, err := os.ReadFile(fs.path)
	if os.IsNotExist(err) {
		fs.mu.Lock()
		fs.grants = map[string]Grant{}
		fs.mu.Unlock()
		logger.WarnCF("authz", "Registry file missing, starting empty", map[string]any{
			"path": fs.path,
		})
		return nil
	}
	if err != nil {
		return fmt.Errorf("read registry %s: %w", fs.path, err)
	}

	grants := map[string]Grant{}
	if err := json.Unmarshal(data, &grants); err != nil {
		return fmt.Errorf("parse registry %s: %w", fs.path, err)
	}

	fs.mu.Lock()
	fs.grants = grants
	fs.mu.Unlock()
	logger.InfoCF("authz", "Registry loaded", map[string]any{
		"path":  fs.path,
		"users": len(grants),
	})
	return nil
}

func (fs *FileStore) Lookup(externalID string) (Grant, bool, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	g, ok := fs.grants[externalID]
	return g, ok, nil
}

// Count reports the number of registered identifiers.
func (fs *FileStore) Count() int {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return len(fs.grants)
}

// StaticStore is an in-memory Lookup for tests and embedding.
type StaticStore map[string]Grant

func (s StaticStore) Lookup(externalID string) (Grant, bool, error) {
	g, ok := s[externalID]
	return g, ok, nil
}
