package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// MasterKeySize is the length of the random secret kept in the key file.
const MasterKeySize = 32

const hkdfInfo = "questlog identity v1"

// ErrCorrupt is returned when a sealed file fails authentication.
var ErrCorrupt = errors.New("identity: sealed data corrupt or key mismatch")

// NewMasterKey returns a fresh random master secret.
func NewMasterKey() ([]byte, error) {
	key := make([]byte, MasterKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("identity: random master key: %w", err)
	}
	return key, nil
}

// DeriveKey uses HKDF-SHA256 to derive the 32-byte file key from the master
// secret. The salt is stored alongside each sealed blob.
func DeriveKey(master, salt []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, master, salt, []byte(hkdfInfo))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("identity: HKDF: %w", err)
	}
	return key, nil
}

// Seal encrypts plaintext under master. Layout: salt(16) || nonce(24) ||
// ciphertext+tag.
func Seal(master, plaintext []byte) ([]byte, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("identity: random salt: %w", err)
	}
	key, err := DeriveKey(master, salt)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("identity: new cipher: %w", err)
	}

	out := make([]byte, 0, len(salt)+aead.NonceSize()+len(plaintext)+aead.Overhead())
	out = append(out, salt...)
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("identity: random nonce: %w", err)
	}
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, salt), nil
}

// Open reverses Seal.
func Open(master, sealed []byte) ([]byte, error) {
	const saltLen = 16
	if len(sealed) < saltLen+chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return nil, fmt.Errorf("%w: %d bytes is too short", ErrCorrupt, len(sealed))
	}
	salt := sealed[:saltLen]
	key, err := DeriveKey(master, salt)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("identity: new cipher: %w", err)
	}
	nonce := sealed[saltLen : saltLen+aead.NonceSize()]
	plaintext, err := aead.Open(nil, nonce, sealed[saltLen+aead.NonceSize():], salt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return plaintext, nil
}
