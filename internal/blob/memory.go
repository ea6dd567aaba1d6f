package blob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

type memoryObject struct {
	data []byte
	info Info
}

// MemoryStore keeps objects in process memory. Intended for tests and
// ephemeral deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	nowFn   func() time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: map[string]memoryObject{}, nowFn: time.Now}
}

func (s *MemoryStore) Driver() Driver { return DriverMemory }

func (s *MemoryStore) Put(_ context.Context, key string, r io.Reader, opts PutOptions) (Info, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Info{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; ok {
		return Info{}, ErrExists
	}
	sum := sha256.Sum256(data)
	info := Info{
		Key:          key,
		Size:         int64(len(data)),
		ContentType:  opts.ContentType,
		ETag:         hex.EncodeToString(sum[:]),
		Metadata:     cloneMetadata(opts.Metadata),
		LastModified: s.nowFn().UTC(),
	}
	s.objects[key] = memoryObject{data: append([]byte(nil), data...), info: info}
	return info, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (io.ReadCloser, Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, Info{}, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), obj.info, nil
}

func (s *MemoryStore) Head(_ context.Context, key string) (Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return Info{}, ErrNotFound
	}
	return obj.info, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		return ErrNotFound
	}
	delete(s.objects, key)
	return nil
}

func (s *MemoryStore) List(_ context.Context, prefix string) ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Info
	for key, obj := range s.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, obj.info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func cloneMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
