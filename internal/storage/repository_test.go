package storage

import (
	"context"
	"path/filepath"
	"testing"

	"thebox/internal/kv"
	"thebox/internal/kv/kvtest"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStoreContract(t *testing.T) {
	kvtest.Run(t, func(t *testing.T) kv.Store { return newTestStore(t) })
}

func TestKeysEscapesLikeWildcards(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, k := range []string{"thebox_data_a", "theboxXdata_b", "thebox%data"} {
		if err := s.Put(ctx, k, []byte("{}")); err != nil {
			t.Fatal(err)
		}
	}
	keys, err := s.Keys(ctx, "thebox_data")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0] != "thebox_data_a" {
		t.Fatalf("expected literal prefix match, got %v", keys)
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "twice.db")
	first, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := first.Put(context.Background(), "k", []byte("v")); err != nil {
		t.Fatal(err)
	}
	first.Close()

	second, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()
	got, err := second.Get(context.Background(), "k")
	if err != nil || string(got) != "v" {
		t.Fatalf("expected value to survive reopen, got %q (%v)", got, err)
	}
}

func TestSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "version.db")
	version, err := migrateUp(path)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if version != 2 {
		t.Fatalf("expected schema version 2, got %d", version)
	}
}
