// Package fs implements a filesystem blob store. Blob bytes live under a
// directory root with a JSON metadata sidecar per blob.
package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"splicestore/internal/blob/core"
)

const metaSuffix = ".meta.json"

// Store writes blobs beneath a root directory.
type Store struct {
	root string
}

// New creates the root directory if needed and returns a store over it.
func New(root string) (*Store, error) {
	if root == "" {
		root = "blobdata"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve blob root: %w", err)
	}
	return &Store{root: abs}, nil
}

// Driver implements core.Store.
func (s *Store) Driver() core.Driver { return core.DriverFilesystem }

// Root returns the absolute directory blobs are stored under.
func (s *Store) Root() string { return s.root }

// path maps a key to a file below the root, rejecting traversal outside it.
func (s *Store) path(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("blob key required")
	}
	cleaned := filepath.Clean(filepath.FromSlash(key))
	if cleaned == "." || strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return filepath.Join(s.root, cleaned), nil
}

// Put implements core.Store. The body is staged to a temp file and renamed
// into place so readers never observe a partial blob.
func (s *Store) Put(_ context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	dst, err := s.path(key)
	if err != nil {
		return core.Info{}, err
	}
	if _, err := os.Stat(dst); err == nil {
		return core.Info{}, fmt.Errorf("blob %s already exists", key)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return core.Info{}, fmt.Errorf("create blob dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".put-*")
	if err != nil {
		return core.Info{}, fmt.Errorf("stage blob: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hash), r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return core.Info{}, fmt.Errorf("write blob: %w", err)
	}

	info := core.Info{
		Key:          key,
		Size:         size,
		ContentType:  opts.ContentType,
		ETag:         hex.EncodeToString(hash.Sum(nil)),
		Metadata:     opts.Metadata,
		LastModified: time.Now().UTC(),
	}
	meta, err := json.Marshal(info)
	if err != nil {
		return core.Info{}, fmt.Errorf("encode blob metadata: %w", err)
	}
	if err := os.WriteFile(dst+metaSuffix, meta, 0o644); err != nil {
		return core.Info{}, fmt.Errorf("write blob metadata: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(dst + metaSuffix)
		return core.Info{}, fmt.Errorf("finalize blob: %w", err)
	}
	return info, nil
}

// Get implements core.Store.
func (s *Store) Get(ctx context.Context, key string) (core.Info, io.ReadCloser, error) {
	info, err := s.Head(ctx, key)
	if err != nil {
		return core.Info{}, nil, err
	}
	p, err := s.path(key)
	if err != nil {
		return core.Info{}, nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return core.Info{}, nil, fmt.Errorf("open blob %s: %w", key, err)
	}
	return info, f, nil
}

// Head implements core.Store.
func (s *Store) Head(_ context.Context, key string) (core.Info, error) {
	p, err := s.path(key)
	if err != nil {
		return core.Info{}, err
	}
	raw, err := os.ReadFile(p + metaSuffix)
	if os.IsNotExist(err) {
		return core.Info{}, fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
	}
	if err != nil {
		return core.Info{}, fmt.Errorf("read blob metadata: %w", err)
	}
	var info core.Info
	if err := json.Unmarshal(raw, &info); err != nil {
		return core.Info{}, fmt.Errorf("decode blob metadata: %w", err)
	}
	return info, nil
}

// Delete implements core.Store.
func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	p, err := s.path(key)
	if err != nil {
		return false, err
	}
	err = os.Remove(p)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("delete blob %s: %w", key, err)
	}
	os.Remove(p + metaSuffix)
	return true, nil
}

// List implements core.Store.
func (s *Store) List(_ context.Context, prefix string) ([]core.Info, error) {
	var infos []core.Info
	err := filepath.WalkDir(s.root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, metaSuffix) {
			return nil
		}
		rel, err := filepath.Rel(s.root, strings.TrimSuffix(p, metaSuffix))
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		raw, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		var info core.Info
		if err := json.Unmarshal(raw, &info); err != nil {
			return fmt.Errorf("decode blob metadata %s: %w", key, err)
		}
		infos = append(infos, info)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}
