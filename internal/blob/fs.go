package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var _ Store = (*FilesystemStore)(nil)

const metaSuffix = ".meta.json"

// FilesystemStore keeps each object as a payload file plus a JSON metadata
// sidecar under a root directory.
type FilesystemStore struct {
	root  string
	nowFn func() time.Time
}

// NewFilesystemStore creates the root directory if needed.
func NewFilesystemStore(root string) (*FilesystemStore, error) {
	if root == "" {
		return nil, fmt.Errorf("blob: filesystem root is required")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("blob: create root: %w", err)
	}
	return &FilesystemStore{root: root, nowFn: time.Now}, nil
}

func (s *FilesystemStore) Driver() Driver { return DriverFilesystem }

// objectPath maps a key to a path under root, rejecting escapes.
func (s *FilesystemStore) objectPath(key string) (string, error) {
	if key == "" || strings.Contains(key, "..") {
		return "", fmt.Errorf("blob: invalid key %q", key)
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

func (s *FilesystemStore) Put(_ context.Context, key string, r io.Reader, opts PutOptions) (Info, error) {
	path, err := s.objectPath(key)
	if err != nil {
		return Info{}, err
	}
	if _, err := os.Stat(path); err == nil {
		return Info{}, ErrExists
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return Info{}, fmt.Errorf("blob: create dirs: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return Info{}, ErrExists
		}
		return Info{}, fmt.Errorf("blob: create payload: %w", err)
	}
	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(f, hasher), r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return Info{}, fmt.Errorf("blob: write payload: %w", err)
	}
	info := Info{
		Key:          key,
		Size:         size,
		ContentType:  opts.ContentType,
		ETag:         hex.EncodeToString(hasher.Sum(nil)),
		Metadata:     cloneMetadata(opts.Metadata),
		LastModified: s.nowFn().UTC(),
	}
	meta, err := json.Marshal(info)
	if err != nil {
		_ = os.Remove(path)
		return Info{}, fmt.Errorf("blob: encode metadata: %w", err)
	}
	if err := os.WriteFile(path+metaSuffix, meta, 0o640); err != nil {
		_ = os.Remove(path)
		return Info{}, fmt.Errorf("blob: write metadata: %w", err)
	}
	return info, nil
}

func (s *FilesystemStore) Get(ctx context.Context, key string) (io.ReadCloser, Info, error) {
	info, err := s.Head(ctx, key)
	if err != nil {
		return nil, Info{}, err
	}
	path, err := s.objectPath(key)
	if err != nil {
		return nil, Info{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, Info{}, ErrNotFound
		}
		return nil, Info{}, fmt.Errorf("blob: open payload: %w", err)
	}
	return f, info, nil
}

func (s *FilesystemStore) Head(_ context.Context, key string) (Info, error) {
	path, err := s.objectPath(key)
	if err != nil {
		return Info{}, err
	}
	meta, err := os.ReadFile(path + metaSuffix)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Info{}, ErrNotFound
		}
		return Info{}, fmt.Errorf("blob: read metadata: %w", err)
	}
	var info Info
	if err := json.Unmarshal(meta, &info); err != nil {
		return Info{}, fmt.Errorf("blob: decode metadata: %w", err)
	}
	return info, nil
}

func (s *FilesystemStore) Delete(_ context.Context, key string) error {
	path, err := s.objectPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("blob: remove payload: %w", err)
	}
	_ = os.Remove(path + metaSuffix)
	return nil
}

func (s *FilesystemStore) List(ctx context.Context, prefix string) ([]Info, error) {
	var out []Info
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, metaSuffix) {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := s.Head(ctx, key)
		if err != nil {
			return err
		}
		out = append(out, info)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
