// Package settings persists client-side key-value state: the session
// token fields and the last-active locale and theme. The backing file
// is a flat JSON document read once at startup and rewritten field-wise
// on every mutation.
package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Well-known keys.
const (
	KeyAccessToken = "access_token"
	KeyTokenType   = "token_type"
	KeyExpiresAt   = "expires_at"
	KeyLocale      = "locale"
	KeyTheme       = "theme"
)

// Store is a file-backed JSON key-value store.
type Store struct {
	path string

	mu  sync.Mutex
	raw []byte
}

// Open loads the store at path, creating an empty document when the
// file does not exist yet.
func Open(path string) (*Store, error) {
	s := &Store{path: path, raw: []byte("{}")}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("settings: read %s: %w", path, err)
	}
	if len(data) > 0 && gjson.ValidBytes(data) {
		s.raw = data
	}
	return s, nil
}

// GetString returns the string value for key, or "" when absent.
func (s *Store) GetString(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gjson.GetBytes(s.raw, key).String()
}

// GetInt returns the integer value for key, or 0 when absent.
func (s *Store) GetInt(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gjson.GetBytes(s.raw, key).Int()
}

// Set writes a single key and persists the document.
func (s *Store) Set(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := sjson.SetBytes(s.raw, key, value)
	if err != nil {
		return fmt.Errorf("settings: set %s: %w", key, err)
	}
	s.raw = raw
	return s.persistLocked()
}

// Delete removes a key and persists the document. Deleting an absent
// key is a no-op.
func (s *Store) Delete(keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		raw, err := sjson.DeleteBytes(s.raw, key)
		if err != nil {
			return fmt.Errorf("settings: delete %s: %w", key, err)
		}
		s.raw = raw
	}
	return s.persistLocked()
}

func (s *Store) persistLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("settings: create dir: %w", err)
	}
	if err := os.WriteFile(s.path, s.raw, 0o600); err != nil {
		return fmt.Errorf("settings: write %s: %w", s.path, err)
	}
	return nil
}
