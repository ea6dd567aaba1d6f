package core

import (
	"fmt"
	"os"
	"strings"

	"tapcore/internal/infra/persistence/memory"
	"tapcore/internal/infra/persistence/postgres"
	"tapcore/internal/infra/persistence/sqlite"
	"tapcore/pkg/domain"
)

// Environment variables consumed by OpenPersistentStore.
const (
	EnvStorageDriver = "TAPCORE_STORAGE_DRIVER"
	EnvSQLitePath    = "TAPCORE_SQLITE_PATH"
	EnvPostgresDSN   = "TAPCORE_POSTGRES_DSN"
)

// OpenPersistentStore builds a store from environment configuration. The
// default driver is sqlite, keeping single-node deployments durable without
// any setup.
func OpenPersistentStore() (domain.Store, error) {
	driver := strings.ToLower(strings.TrimSpace(os.Getenv(EnvStorageDriver)))
	if driver == "" {
		driver = "sqlite"
	}
	switch driver {
	case "memory":
		return memory.NewStore(), nil
	case "sqlite":
		return sqlite.NewStore(os.Getenv(EnvSQLitePath))
	case "postgres":
		return postgres.NewStore(os.Getenv(EnvPostgresDSN))
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
