// Package blob stores file payloads attached to instances behind a small
// driver-agnostic interface with filesystem, in-memory, and S3 backends.
package blob

import (
	"context"
	"errors"
	"io"
	"time"
)

// Driver identifies a blob backend.
type Driver string

// Supported drivers.
const (
	DriverFilesystem Driver = "fs"
	DriverMemory     Driver = "memory"
	DriverS3         Driver = "s3"
)

// ErrNotFound is returned when a key has no stored object.
var ErrNotFound = errors.New("blob: object not found")

// ErrExists is returned when Put targets a key that already holds an object.
// Objects are create-only; attachments never overwrite.
var ErrExists = errors.New("blob: object already exists")

// PutOptions carries optional metadata stored alongside the payload.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// Info describes a stored object.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
}

// Store is the payload storage contract. Keys are slash-separated paths.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	Get(ctx context.Context, key string) (io.ReadCloser, Info, error)
	Head(ctx context.Context, key string) (Info, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]Info, error)
	Driver() Driver
}
