/**
 * @description
 * Durable ordered map. Every ledger table is one Map, addressed by a stable Region id,
 * with binary keys compared byte-wise. This is the only storage primitive the ledgers
 * use.
 *
 * @notes
 * - There are no transactions spanning several maps. Callers serialise multi-map writes
 *   themselves (see the ledgers in internal/store).
 * - Range bounds are [lo, hi). A nil bound is open.
 */

package kv

import (
	"context"
	"errors"
	"fmt"
)

// Region identifies one logical table. Ids are persisted and must never be reused.
type Region uint16

var ErrRegionInUse = errors.New("kv region already opened")

type Entry struct {
	Key   []byte
	Value []byte
}

type Map interface {
	Get(ctx context.Context, key []byte) ([]byte, bool, error)
	// Insert stores value under key, replacing any previous value.
	Insert(ctx context.Context, key, value []byte) error
	// Remove deletes key and returns the value it held.
	Remove(ctx context.Context, key []byte) ([]byte, bool, error)
	Range(ctx context.Context, lo, hi []byte) ([]Entry, error)
	Last(ctx context.Context) (Entry, bool, error)
	LastInRange(ctx context.Context, lo, hi []byte) (Entry, bool, error)
	Clear(ctx context.Context) error
}

// Store hands out one Map per region.
type Store interface {
	Open(ctx context.Context, region Region) (Map, error)
}

// PrefixEnd returns the smallest key greater than every key starting with prefix, or
// nil when no such key exists.
func PrefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// PrefixRange returns the [lo, hi) bounds covering every key starting with prefix.
func PrefixRange(prefix []byte) ([]byte, []byte) {
	return append([]byte(nil), prefix...), PrefixEnd(prefix)
}

type regionRegistry map[Region]struct{}

func (r regionRegistry) claim(region Region) error {
	if _, taken := r[region]; taken {
		return fmt.Errorf("%w: %d", ErrRegionInUse, region)
	}
	r[region] = struct{}{}
	return nil
}
