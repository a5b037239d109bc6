package identity

import (
	"bytes"
	"errors"
	"testing"
)

func TestDeriveKey(t *testing.T) {
	master := make([]byte, MasterKeySize)
	master[0] = 0x42
	salt := []byte("0123456789abcdef")

	key, err := DeriveKey(master, salt)
	if err != nil {
		t.Fatalf("DeriveKey() error = %v", err)
	}
	if len(key) != 32 {
		t.Errorf("key length = %d, want 32", len(key))
	}

	again, _ := DeriveKey(master, salt)
	if !bytes.Equal(key, again) {
		t.Error("DeriveKey() is not deterministic")
	}
	other, _ := DeriveKey(master, []byte("fedcba9876543210"))
	if bytes.Equal(key, other) {
		t.Error("different salts produced the same key")
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	master, err := NewMasterKey()
	if err != nil {
		t.Fatalf("NewMasterKey() error = %v", err)
	}
	plaintext := []byte("pairedSensorName: quest_100\n")

	sealed, err := Seal(master, plaintext)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if bytes.Contains(sealed, []byte("quest_100")) {
		t.Error("sealed output contains the plaintext")
	}

	got, err := Open(master, sealed)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("Open() = %q, want %q", got, plaintext)
	}
}

func TestSealUsesFreshNonce(t *testing.T) {
	master, _ := NewMasterKey()
	a, _ := Seal(master, []byte("same"))
	b, _ := Seal(master, []byte("same"))
	if bytes.Equal(a, b) {
		t.Error("two seals of the same plaintext are identical")
	}
}

func TestOpenRejects(t *testing.T) {
	master, _ := NewMasterKey()
	sealed, _ := Seal(master, []byte("payload"))

	wrongKey, _ := NewMasterKey()
	tampered := append([]byte(nil), sealed...)
	tampered[len(tampered)-1] ^= 0xff

	tests := []struct {
		name   string
		master []byte
		data   []byte
	}{
		{"wrong key", wrongKey, sealed},
		{"tampered tag", master, tampered},
		{"truncated", master, sealed[:20]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(tt.master, tt.data)
			if !errors.Is(err, ErrCorrupt) {
				t.Errorf("Open() error = %v, want ErrCorrupt", err)
			}
		})
	}
}
