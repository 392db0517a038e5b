package blob

import (
	"context"
	"testing"
)

func TestOpenSelectsDriverFromEnv(t *testing.T) {
	ctx := context.Background()

	t.Setenv("SPLICESTORE_BLOB_DRIVER", "memory")
	s, err := Open(ctx)
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	if s.Driver() != DriverMemory {
		t.Fatalf("driver = %s, want memory", s.Driver())
	}

	t.Setenv("SPLICESTORE_BLOB_DRIVER", "fs")
	t.Setenv("SPLICESTORE_BLOB_FS_ROOT", t.TempDir())
	s, err = Open(ctx)
	if err != nil {
		t.Fatalf("open fs: %v", err)
	}
	if s.Driver() != DriverFilesystem {
		t.Fatalf("driver = %s, want fs", s.Driver())
	}

	t.Setenv("SPLICESTORE_BLOB_DRIVER", "bogus")
	if _, err := Open(ctx); err == nil {
		t.Fatalf("unknown driver accepted")
	}
}
