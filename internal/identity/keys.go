package identity

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/zalando/go-keyring"
)

// ErrNoKey is returned by KeySource.Load when no master key exists yet.
var ErrNoKey = errors.New("identity: no master key")

// KeySource holds the master secret that seals the identity file.
type KeySource interface {
	// Load returns the stored key or ErrNoKey.
	Load() ([]byte, error)
	// Store saves a newly generated key.
	Store(key []byte) error
}

// KeyringKey keeps the master key in the OS credential store (macOS
// Keychain, Secret Service, Windows Credential Manager), so a copy of the
// data directory alone cannot unseal the identity file.
type KeyringKey struct {
	Service string
	User    string
}

func (k KeyringKey) Load() ([]byte, error) {
	enc, err := keyring.Get(k.Service, k.User)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, ErrNoKey
	}
	if err != nil {
		return nil, fmt.Errorf("identity: keyring read: %w", err)
	}
	key, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return nil, fmt.Errorf("identity: keyring entry: %w", err)
	}
	return key, nil
}

func (k KeyringKey) Store(key []byte) error {
	if err := keyring.Set(k.Service, k.User, base64.StdEncoding.EncodeToString(key)); err != nil {
		return fmt.Errorf("identity: keyring write: %w", err)
	}
	slog.Info("[IDENTITY] created master key in keyring", "service", k.Service)
	return nil
}

// FileKey keeps the master key in a 0600 file. Anyone who can read the
// data directory can read the key, so this only keeps the paired name out
// of casual view. It exists for hosts without a credential store.
type FileKey struct {
	Path string
}

func (k FileKey) Load() ([]byte, error) {
	key, err := os.ReadFile(k.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoKey
	}
	if err != nil {
		return nil, fmt.Errorf("identity: read key file: %w", err)
	}
	return key, nil
}

func (k FileKey) Store(key []byte) error {
	if err := os.MkdirAll(filepath.Dir(k.Path), 0o700); err != nil {
		return fmt.Errorf("identity: create key dir: %w", err)
	}
	if err := os.WriteFile(k.Path, key, 0o600); err != nil {
		return fmt.Errorf("identity: write key file: %w", err)
	}
	slog.Info("[IDENTITY] created master key", "path", k.Path)
	return nil
}

var (
	_ KeySource = KeyringKey{}
	_ KeySource = FileKey{}
)
