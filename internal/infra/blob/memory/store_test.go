package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"splicestore/internal/blob/core"
)

func TestMemoryStoreSemantics(t *testing.T) {
	s := New()
	ctx := context.Background()

	info, err := s.Put(ctx, "dars/a.dar", bytes.NewBufferString("dar-bytes"), core.PutOptions{ContentType: "application/octet-stream"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != int64(len("dar-bytes")) || info.ETag == "" {
		t.Fatalf("put info = %+v", info)
	}
	if _, err := s.Put(ctx, "dars/a.dar", bytes.NewBufferString("other"), core.PutOptions{}); err == nil {
		t.Fatalf("overwrite must fail")
	}

	got, body, err := s.Get(ctx, "dars/a.dar")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	raw, _ := io.ReadAll(body)
	body.Close()
	if string(raw) != "dar-bytes" || got.ContentType != "application/octet-stream" {
		t.Fatalf("get = %q / %+v", raw, got)
	}

	if _, err := s.Head(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("head missing = %v, want ErrNotFound", err)
	}

	existed, err := s.Delete(ctx, "dars/a.dar")
	if err != nil || !existed {
		t.Fatalf("delete = %v err=%v", existed, err)
	}
	if _, _, err := s.Get(ctx, "dars/a.dar"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("get after delete = %v, want ErrNotFound", err)
	}
}

func TestMemoryListOrdered(t *testing.T) {
	s := New()
	ctx := context.Background()
	for _, key := range []string{"b", "a", "prefix/c"} {
		if _, err := s.Put(ctx, key, bytes.NewBufferString(key), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	infos, err := s.List(ctx, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 3 || infos[0].Key != "a" || infos[1].Key != "b" || infos[2].Key != "prefix/c" {
		t.Fatalf("list = %+v, want sorted keys", infos)
	}
	infos, err = s.List(ctx, "prefix/")
	if err != nil || len(infos) != 1 {
		t.Fatalf("prefix list = %+v err=%v", infos, err)
	}
}
