package identity

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.bin")
	return NewFileStore(path, FileKey{Path: KeyPathFor(path)}), dir
}

func TestFileStoreMissingKey(t *testing.T) {
	s, dir := newTestStore(t)
	got, err := s.Get("pairedSensorName")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "" {
		t.Errorf("Get() = %q, want empty", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "identity.key")); !os.IsNotExist(err) {
		t.Error("reading an empty store should not create a key file")
	}
}

func TestFileStoreSetGetPersists(t *testing.T) {
	s, dir := newTestStore(t)
	if err := s.Set("pairedSensorName", "quest_100"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := s.Set("pairedSensorName", "quest_200"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	reopened := NewFileStore(filepath.Join(dir, "identity.bin"), FileKey{Path: filepath.Join(dir, "identity.key")})
	got, err := reopened.Get("pairedSensorName")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "quest_200" {
		t.Errorf("Get() = %q, want %q", got, "quest_200")
	}

	raw, err := os.ReadFile(filepath.Join(dir, "identity.bin"))
	if err != nil {
		t.Fatalf("read identity file: %v", err)
	}
	if bytes.Contains(raw, []byte("quest_200")) {
		t.Error("identity file stores the name in plaintext")
	}
}

func TestFileStoreKeyFileMode(t *testing.T) {
	s, dir := newTestStore(t)
	if err := s.Set("k", "v"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	for _, name := range []string{"identity.key", "identity.bin"} {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("stat %s: %v", name, err)
		}
		if perm := info.Mode().Perm(); perm != 0o600 {
			t.Errorf("%s mode = %o, want 600", name, perm)
		}
	}
}

func TestFileStoreDelete(t *testing.T) {
	s, _ := newTestStore(t)
	_ = s.Set("a", "1")
	_ = s.Set("b", "2")
	if err := s.Delete("a"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := s.Delete("missing"); err != nil {
		t.Fatalf("Delete(missing) error = %v", err)
	}
	if got, _ := s.Get("a"); got != "" {
		t.Errorf("Get(a) = %q after delete, want empty", got)
	}
	if got, _ := s.Get("b"); got != "2" {
		t.Errorf("Get(b) = %q, want %q", got, "2")
	}
}

func TestFileStoreWrongKeyFile(t *testing.T) {
	s, dir := newTestStore(t)
	if err := s.Set("k", "v"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	other, _ := NewMasterKey()
	if err := os.WriteFile(filepath.Join(dir, "identity.key"), other, 0o600); err != nil {
		t.Fatalf("overwrite key: %v", err)
	}

	fresh := NewFileStore(filepath.Join(dir, "identity.bin"), FileKey{Path: filepath.Join(dir, "identity.key")})
	if _, err := fresh.Get("k"); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Get() error = %v, want ErrCorrupt", err)
	}
}

func TestFileStoreShortKeyFile(t *testing.T) {
	s, dir := newTestStore(t)
	_ = s.Set("k", "v")
	if err := os.WriteFile(filepath.Join(dir, "identity.key"), []byte("short"), 0o600); err != nil {
		t.Fatalf("overwrite key: %v", err)
	}
	fresh := NewFileStore(filepath.Join(dir, "identity.bin"), FileKey{Path: filepath.Join(dir, "identity.key")})
	if _, err := fresh.Get("k"); err == nil {
		t.Error("Get() with a short key file should fail")
	}
}
