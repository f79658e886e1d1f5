// Package media stores fetched binary artifacts (login QR codes, message
// images, stickers) on disk and hands out numeric handles the host UI uses
// to reference them. Every fetch gets its own file: concurrent QR and media
// fetches must never overwrite each other.
package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/webchat-console/webchat/internal/logging"
	"github.com/webchat-console/webchat/internal/session"
)

// Store is the on-disk artifact registry
type Store struct {
	dir    string
	logger *logging.Logger

	mu         sync.Mutex
	nextHandle int
	paths      map[int]string
}

// NewStore creates a store rooted at dir, creating the directory if needed
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "webchat-media")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create media directory %s: %w", dir, err)
	}
	return &Store{
		dir:        dir,
		logger:     logging.GetMediaLogger(),
		nextHandle: 1,
		paths:      make(map[int]string),
	}, nil
}

// Dir returns the store's root directory
func (s *Store) Dir() string { return s.dir }

// SaveQRCode writes the login QR image under a per-login unique name and
// returns its path. QR codes are not registered: the host displays them by
// path and they are never referenced from message content.
func (s *Store) SaveQRCode(data []byte) (string, error) {
	path := filepath.Join(s.dir, fmt.Sprintf("qrcode-%d.jpg", session.TimestampMillis()))
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("failed to save qr code: %w", err)
	}
	s.logger.Debug("Saved login QR code", "path", path)
	return path, nil
}

// Add writes an artifact under a unique name derived from the handle and
// registers it, returning the handle and path.
func (s *Store) Add(name string, data []byte) (int, string, error) {
	s.mu.Lock()
	handle := s.nextHandle
	s.nextHandle++
	s.mu.Unlock()

	path := filepath.Join(s.dir, fmt.Sprintf("%d-%s", handle, sanitize(name)))
	if err := os.WriteFile(path, data, 0600); err != nil {
		return 0, "", fmt.Errorf("failed to save media artifact %s: %w", name, err)
	}

	s.mu.Lock()
	s.paths[handle] = path
	s.mu.Unlock()

	return handle, path, nil
}

// PathFor resolves a handle to the stored file path
func (s *Store) PathFor(handle int) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	path, ok := s.paths[handle]
	return path, ok
}

// sanitize strips path separators and other filesystem-hostile characters
// from server-supplied artifact names
func sanitize(name string) string {
	if name == "" {
		return "artifact"
	}
	r := strings.NewReplacer("/", "_", "\\", "_", "..", "_", ":", "_", " ", "_")
	return r.Replace(name)
}
