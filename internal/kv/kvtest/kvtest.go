// Package kvtest holds behaviour tests shared by every kv.Store implementation.
package kvtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"thebox/internal/kv"
)

// Run exercises the kv.Store contract against a fresh store from newStore.
func Run(t *testing.T, newStore func(t *testing.T) kv.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing key", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Get(ctx, "nope"); !errors.Is(err, kv.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("put get overwrite", func(t *testing.T) {
		s := newStore(t)
		if err := s.Put(ctx, "thebox_data_a_b_com", []byte(`{"v":1}`)); err != nil {
			t.Fatalf("put: %v", err)
		}
		if err := s.Put(ctx, "thebox_data_a_b_com", []byte(`{"v":2}`)); err != nil {
			t.Fatalf("overwrite: %v", err)
		}
		got, err := s.Get(ctx, "thebox_data_a_b_com")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if string(got) != `{"v":2}` {
			t.Fatalf("expected latest value, got %s", got)
		}
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		s := newStore(t)
		_ = s.Put(ctx, "accessToken", []byte(`"t"`))
		if err := s.Delete(ctx, "accessToken"); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if err := s.Delete(ctx, "accessToken"); err != nil {
			t.Fatalf("second delete: %v", err)
		}
		if _, err := s.Get(ctx, "accessToken"); !errors.Is(err, kv.ErrNotFound) {
			t.Fatalf("expected ErrNotFound after delete, got %v", err)
		}
	})

	t.Run("keys by prefix", func(t *testing.T) {
		s := newStore(t)
		for _, k := range []string{"user:b", "user:a", "ledger:a", "accessToken"} {
			if err := s.Put(ctx, k, []byte("{}")); err != nil {
				t.Fatalf("put %s: %v", k, err)
			}
		}
		keys, err := s.Keys(ctx, "user:")
		if err != nil {
			t.Fatalf("keys: %v", err)
		}
		if len(keys) != 2 || keys[0] != "user:a" || keys[1] != "user:b" {
			t.Fatalf("unexpected keys %v", keys)
		}
	})

	t.Run("json helpers", func(t *testing.T) {
		s := newStore(t)
		type doc struct{ Items []string }
		if err := kv.PutJSON(ctx, s, "doc", doc{Items: []string{"x"}}); err != nil {
			t.Fatalf("put json: %v", err)
		}
		var out doc
		if err := kv.GetJSON(ctx, s, "doc", &out); err != nil {
			t.Fatalf("get json: %v", err)
		}
		if len(out.Items) != 1 || out.Items[0] != "x" {
			t.Fatalf("unexpected doc %+v", out)
		}
	})

	t.Run("concurrent writers", func(t *testing.T) {
		s := newStore(t)
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if err := s.Put(ctx, "shared", []byte(fmt.Sprintf(`{"n":%d}`, i))); err != nil {
					t.Errorf("put: %v", err)
				}
			}(i)
		}
		wg.Wait()
		if _, err := s.Get(ctx, "shared"); err != nil {
			t.Fatalf("get after concurrent writes: %v", err)
		}
	})
}
