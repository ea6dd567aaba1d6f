package blob

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Environment variables consumed by Open.
const (
	EnvDriver      = "TAPCORE_BLOB_DRIVER"
	EnvFSRoot      = "TAPCORE_BLOB_FS_ROOT"
	EnvS3Bucket    = "TAPCORE_BLOB_S3_BUCKET"
	EnvS3Region    = "TAPCORE_BLOB_S3_REGION"
	EnvS3Endpoint  = "TAPCORE_BLOB_S3_ENDPOINT"
	EnvS3PathStyle = "TAPCORE_BLOB_S3_PATH_STYLE"
)

// Open builds a Store from environment configuration. The default driver is
// the filesystem rooted at ./blobdata.
func Open(ctx context.Context) (Store, error) {
	driver := Driver(strings.ToLower(strings.TrimSpace(os.Getenv(EnvDriver))))
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverMemory:
		return NewMemoryStore(), nil
	case DriverFilesystem:
		root := os.Getenv(EnvFSRoot)
		if root == "" {
			root = "blobdata"
		}
		return NewFilesystemStore(root)
	case DriverS3:
		pathStyle, _ := strconv.ParseBool(os.Getenv(EnvS3PathStyle))
		return NewS3Store(ctx, S3Config{
			Bucket:          os.Getenv(EnvS3Bucket),
			Region:          os.Getenv(EnvS3Region),
			Endpoint:        os.Getenv(EnvS3Endpoint),
			PathStyle:       pathStyle,
			AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
			SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
		})
	default:
		return nil, fmt.Errorf("blob: unknown driver %q", driver)
	}
}
