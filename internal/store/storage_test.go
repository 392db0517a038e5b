package store

import (
	"context"
	"path/filepath"
	"testing"

	"splicestore/pkg/domain"
)

func testConfig() Config {
	return Config{
		Descriptor: domain.StoreDescriptor{Name: "sv", Version: 1, Party: "alice::ns", Participant: "p1"},
		Migration:  1,
		Filter:     domain.NewContractFilter().Register("pkg:Splice:Amulet", domain.TemplateHandler{}),
	}
}

func TestOpenDriverAt(t *testing.T) {
	s, err := OpenDriverAt(StorageMemory, "", testConfig())
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	defer s.Close()
	if s.Descriptor().Name != "sv" {
		t.Fatalf("descriptor = %+v", s.Descriptor())
	}

	path := filepath.Join(t.TempDir(), "store.db")
	s2, err := OpenDriverAt(StorageSQLite, path, testConfig())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer s2.Close()
	if wm, err := s2.Watermark(context.Background()); err != nil || wm != nil {
		t.Fatalf("fresh sqlite watermark = %v err=%v", wm, err)
	}

	if _, err := OpenDriverAt(StorageDriver("bogus"), "", testConfig()); err == nil {
		t.Fatalf("unknown driver accepted")
	}
}

func TestOpenSelectsDriverFromEnv(t *testing.T) {
	t.Setenv("SPLICESTORE_STORAGE_DRIVER", "memory")
	s, err := Open(testConfig())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	t.Setenv("SPLICESTORE_STORAGE_DRIVER", "sqlite")
	t.Setenv("SPLICESTORE_SQLITE_PATH", filepath.Join(t.TempDir(), "store.db"))
	s2, err := Open(testConfig())
	if err != nil {
		t.Fatalf("open sqlite from env: %v", err)
	}
	defer s2.Close()
}
