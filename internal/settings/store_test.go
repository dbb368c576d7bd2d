package settings

import (
	"path/filepath"
	"testing"
)

func TestSetGetDelete(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err = s.Set(KeyLocale, "zh-CN"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err = s.Set(KeyExpiresAt, int64(1700000000)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := s.GetString(KeyLocale); got != "zh-CN" {
		t.Fatalf("GetString = %q", got)
	}
	if got := s.GetInt(KeyExpiresAt); got != 1700000000 {
		t.Fatalf("GetInt = %d", got)
	}

	if err = s.Delete(KeyLocale); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got := s.GetString(KeyLocale); got != "" {
		t.Fatalf("deleted key still present: %q", got)
	}
}

func TestReopenReadsPersistedState(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "settings.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err = s.Set(KeyAccessToken, "tok-123"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got := reopened.GetString(KeyAccessToken); got != "tok-123" {
		t.Fatalf("GetString after reopen = %q", got)
	}
}

func TestOpenMissingFile(t *testing.T) {
	t.Parallel()

	s, err := Open(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := s.GetString(KeyTheme); got != "" {
		t.Fatalf("empty store returned %q", got)
	}
}
