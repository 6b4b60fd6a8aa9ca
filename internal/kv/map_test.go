package kv

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func TestPrefixEnd(t *testing.T) {
	tests := []struct {
		prefix []byte
		want   []byte
	}{
		{[]byte{0x01}, []byte{0x02}},
		{[]byte{0x01, 0xff}, []byte{0x02}},
		{[]byte{0xff, 0xff}, nil},
		{[]byte{0x03, 0x00, 0x10}, []byte{0x03, 0x00, 0x11}},
	}
	for _, tt := range tests {
		if got := PrefixEnd(tt.prefix); !bytes.Equal(got, tt.want) {
			t.Fatalf("PrefixEnd(%x) = %x, want %x", tt.prefix, got, tt.want)
		}
	}
}

func TestMemoryStore_RegionsDoNotAlias(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	first, err := store.Open(ctx, 1)
	if err != nil {
		t.Fatalf("open region 1: %v", err)
	}
	second, err := store.Open(ctx, 2)
	if err != nil {
		t.Fatalf("open region 2: %v", err)
	}
	if _, err := store.Open(ctx, 1); !errors.Is(err, ErrRegionInUse) {
		t.Fatalf("expected region reuse to fail, got %v", err)
	}

	if err := first.Insert(ctx, []byte("k"), []byte("one")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, found, _ := second.Get(ctx, []byte("k")); found {
		t.Fatal("expected key to be invisible in another region")
	}
}

func TestMemoryMap(t *testing.T) {
	m, err := NewMemoryStore().Open(context.Background(), 1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	runMapContract(t, m)
}

func TestPostgresMap(t *testing.T) {
	dsn := os.Getenv("KV_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("KV_TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer pool.Close()

	store := NewPostgresStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("schema: %v", err)
	}
	m, err := store.Open(ctx, 9999)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := m.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	defer m.Clear(context.Background())

	runMapContract(t, m)
}

func runMapContract(t *testing.T, m Map) {
	t.Helper()
	ctx := context.Background()

	keys := [][]byte{{0x02, 0x01}, {0x01, 0x05}, {0x01, 0x01}, {0x03}, {0x01, 0xff}}
	for i, key := range keys {
		if err := m.Insert(ctx, key, []byte{byte(i)}); err != nil {
			t.Fatalf("insert %x: %v", key, err)
		}
	}

	t.Run("get and overwrite", func(t *testing.T) {
		if err := m.Insert(ctx, []byte{0x03}, []byte("new")); err != nil {
			t.Fatalf("overwrite: %v", err)
		}
		value, found, err := m.Get(ctx, []byte{0x03})
		if err != nil || !found || string(value) != "new" {
			t.Fatalf("expected overwritten value, got %q found=%v err=%v", value, found, err)
		}
		if _, found, _ := m.Get(ctx, []byte{0x09}); found {
			t.Fatal("expected missing key")
		}
	})

	t.Run("range is ordered and half open", func(t *testing.T) {
		entries, err := m.Range(ctx, []byte{0x01}, []byte{0x02})
		if err != nil {
			t.Fatalf("range: %v", err)
		}
		want := [][]byte{{0x01, 0x01}, {0x01, 0x05}, {0x01, 0xff}}
		if len(entries) != len(want) {
			t.Fatalf("expected %d entries, got %d", len(want), len(entries))
		}
		for i, entry := range entries {
			if !bytes.Equal(entry.Key, want[i]) {
				t.Fatalf("entry %d: expected %x, got %x", i, want[i], entry.Key)
			}
		}

		all, err := m.Range(ctx, nil, nil)
		if err != nil || len(all) != len(keys) {
			t.Fatalf("expected full scan of %d, got %d (err=%v)", len(keys), len(all), err)
		}
	})

	t.Run("last", func(t *testing.T) {
		entry, found, err := m.Last(ctx)
		if err != nil || !found || !bytes.Equal(entry.Key, []byte{0x03}) {
			t.Fatalf("expected last key 03, got %x found=%v err=%v", entry.Key, found, err)
		}

		lo, hi := PrefixRange([]byte{0x01})
		entry, found, err = m.LastInRange(ctx, lo, hi)
		if err != nil || !found || !bytes.Equal(entry.Key, []byte{0x01, 0xff}) {
			t.Fatalf("expected last prefixed key 01ff, got %x found=%v err=%v", entry.Key, found, err)
		}

		_, found, err = m.LastInRange(ctx, []byte{0x04}, nil)
		if err != nil || found {
			t.Fatalf("expected empty range, found=%v err=%v", found, err)
		}
	})

	t.Run("remove", func(t *testing.T) {
		value, found, err := m.Remove(ctx, []byte{0x02, 0x01})
		if err != nil || !found || !bytes.Equal(value, []byte{0}) {
			t.Fatalf("expected removed value 00, got %x found=%v err=%v", value, found, err)
		}
		if _, found, _ := m.Remove(ctx, []byte{0x02, 0x01}); found {
			t.Fatal("expected second remove to find nothing")
		}
	})

	t.Run("clear", func(t *testing.T) {
		if err := m.Clear(ctx); err != nil {
			t.Fatalf("clear: %v", err)
		}
		if _, found, _ := m.Last(ctx); found {
			t.Fatal("expected empty map after clear")
		}
	})
}
