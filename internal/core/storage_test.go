package core

import (
	"path/filepath"
	"testing"
)

func TestOpenPersistentStoreDrivers(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		t.Setenv(EnvStorageDriver, "memory")
		store, err := OpenPersistentStore()
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if store == nil {
			t.Fatal("nil store")
		}
	})

	t.Run("sqlite", func(t *testing.T) {
		t.Setenv(EnvStorageDriver, "sqlite")
		t.Setenv(EnvSQLitePath, filepath.Join(t.TempDir(), "tapcore.db"))
		store, err := OpenPersistentStore()
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if store == nil {
			t.Fatal("nil store")
		}
	})

	t.Run("unknown driver", func(t *testing.T) {
		t.Setenv(EnvStorageDriver, "etcd")
		if _, err := OpenPersistentStore(); err == nil {
			t.Fatal("expected unknown driver error")
		}
	})
}
