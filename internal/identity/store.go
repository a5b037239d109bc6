// Package identity keeps small secrets, such as the paired sensor name, in an
// encrypted key-value file.
package identity

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Store is a durable string key-value store. Get returns "" and a nil error
// when the key is absent.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
}

// FileStore persists a YAML map sealed with XChaCha20-Poly1305. The master
// secret comes from a KeySource and is created on first write.
type FileStore struct {
	path string
	keys KeySource

	mu     sync.Mutex
	master []byte
}

// NewFileStore returns a store backed by path, with its master secret held
// by keys. Neither needs to exist yet.
func NewFileStore(path string, keys KeySource) *FileStore {
	return &FileStore{path: path, keys: keys}
}

// KeyPathFor returns the conventional key file next to an identity file.
func KeyPathFor(path string) string {
	return filepath.Join(filepath.Dir(path), "identity.key")
}

func (s *FileStore) Get(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return "", err
	}
	return values[key], nil
}

func (s *FileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return err
	}
	values[key] = value
	return s.save(values)
}

// Delete removes key. Removing a missing key is not an error.
func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)
	return s.save(values)
}

func (s *FileStore) load() (map[string]string, error) {
	values := make(map[string]string)
	sealed, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return values, nil
	}
	if err != nil {
		return nil, fmt.Errorf("identity: read %s: %w", s.path, err)
	}

	master, err := s.masterKey(false)
	if err != nil {
		return nil, err
	}
	plain, err := Open(master, sealed)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(plain, &values); err != nil {
		return nil, fmt.Errorf("identity: decode: %w", err)
	}
	return values, nil
}

func (s *FileStore) save(values map[string]string) error {
	plain, err := yaml.Marshal(values)
	if err != nil {
		return fmt.Errorf("identity: encode: %w", err)
	}
	master, err := s.masterKey(true)
	if err != nil {
		return err
	}
	sealed, err := Seal(master, plain)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("identity: create dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, sealed, 0o600); err != nil {
		return fmt.Errorf("identity: write: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("identity: replace %s: %w", s.path, err)
	}
	return nil
}

// masterKey loads the cached secret, reading or (if create) generating it.
func (s *FileStore) masterKey(create bool) ([]byte, error) {
	if s.master != nil {
		return s.master, nil
	}
	key, err := s.keys.Load()
	switch {
	case err == nil:
		if len(key) != MasterKeySize {
			return nil, fmt.Errorf("identity: master key has %d bytes, want %d", len(key), MasterKeySize)
		}
	case errors.Is(err, ErrNoKey) && create:
		key, err = NewMasterKey()
		if err != nil {
			return nil, err
		}
		if err := s.keys.Store(key); err != nil {
			return nil, err
		}
	case errors.Is(err, ErrNoKey):
		return nil, fmt.Errorf("%w: master key missing", ErrCorrupt)
	default:
		return nil, err
	}
	s.master = key
	return key, nil
}

var _ Store = (*FileStore)(nil)
