/**
 * @description
 * KV-backed AssetLedger. Primary records live in RegionAssets keyed by id; the state and
 * kind indexes are keyed by (discriminant, id) and the display order by a 4-byte ordinal.
 *
 * @notes
 * - Every mutation runs under the ledger mutex. Writes add new index entries before the
 *   record and drop stale ones after it, and readers skip entries that no longer match.
 * - The display order holds enabled assets only. Enabling appends after the highest
 *   ordinal; disabling or deleting scans the order and drops the entry.
 */

package store

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ilbertt/ic-fortune-wheel/internal/domain"
	"github.com/ilbertt/ic-fortune-wheel/internal/kv"
)

type KVAssetLedger struct {
	mu      sync.RWMutex
	assets  kv.Map
	byState kv.Map
	byKind  kv.Map
	order   kv.Map
	now     func() time.Time
}

// NewKVAssetLedger opens the asset regions of store.
func NewKVAssetLedger(ctx context.Context, store kv.Store) (*KVAssetLedger, error) {
	maps, err := openRegions(ctx, store, RegionAssets, RegionAssetStateIndex, RegionAssetKindIndex, RegionPrizeOrder)
	if err != nil {
		return nil, err
	}
	return &KVAssetLedger{
		assets:  maps[0],
		byState: maps[1],
		byKind:  maps[2],
		order:   maps[3],
		now:     time.Now,
	}, nil
}

func openRegions(ctx context.Context, store kv.Store, regions ...kv.Region) ([]kv.Map, error) {
	maps := make([]kv.Map, 0, len(regions))
	for _, region := range regions {
		m, err := store.Open(ctx, region)
		if err != nil {
			return nil, fmt.Errorf("open region %d: %w", region, err)
		}
		maps = append(maps, m)
	}
	return maps, nil
}

func (l *KVAssetLedger) Get(ctx context.Context, id uuid.UUID) (*domain.Asset, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.getLocked(ctx, id)
}

func (l *KVAssetLedger) getLocked(ctx context.Context, id uuid.UUID) (*domain.Asset, error) {
	data, found, err := l.assets.Get(ctx, idKey(id))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domain.NotFound("Wheel asset %s not found", id)
	}
	return decodeAsset(id, data)
}

func (l *KVAssetLedger) Create(ctx context.Context, asset domain.Asset) (*domain.Asset, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if asset.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, domain.Internal("generate asset id: %v", err)
		}
		asset.ID = id
	}
	if _, found, err := l.assets.Get(ctx, idKey(asset.ID)); err != nil {
		return nil, err
	} else if found {
		return nil, domain.Conflict("Wheel asset %s already exists", asset.ID)
	}

	now := l.now()
	if asset.CreatedAt.IsZero() {
		asset.CreatedAt = now
	}
	asset.UpdatedAt = asset.CreatedAt
	if err := l.writeLocked(ctx, nil, &asset); err != nil {
		return nil, err
	}
	return &asset, nil
}

func (l *KVAssetLedger) Update(ctx context.Context, id uuid.UUID, asset domain.Asset) (*domain.Asset, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	old, err := l.getLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	asset.ID = id
	asset.CreatedAt = old.CreatedAt
	asset.UpdatedAt = l.now()
	if err := l.writeLocked(ctx, old, &asset); err != nil {
		return nil, err
	}
	return &asset, nil
}

// Modify runs fn under the write lock. fn must not block on external calls.
func (l *KVAssetLedger) Modify(ctx context.Context, id uuid.UUID, fn func(*domain.Asset) error) (*domain.Asset, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	old, err := l.getLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := decodeCopy(old)
	if err != nil {
		return nil, err
	}
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = id
	next.CreatedAt = old.CreatedAt
	next.UpdatedAt = l.now()
	if err := l.writeLocked(ctx, old, next); err != nil {
		return nil, err
	}
	return next, nil
}

// decodeCopy returns a deep copy of asset so fn cannot alias the old index state.
func decodeCopy(asset *domain.Asset) (*domain.Asset, error) {
	data, err := encodeAsset(asset)
	if err != nil {
		return nil, err
	}
	return decodeAsset(asset.ID, data)
}

// writeLocked persists next and moves its index entries from old (nil on create).
func (l *KVAssetLedger) writeLocked(ctx context.Context, old, next *domain.Asset) error {
	data, err := encodeAsset(next)
	if err != nil {
		return domain.Internal("%v", err)
	}

	moves := []indexMove{
		{index: l.byState, nextKey: discriminantKey(byte(next.State), next.ID)},
		{index: l.byKind, nextKey: discriminantKey(byte(next.Kind.Tag), next.ID)},
	}
	if old != nil {
		moves[0].oldKey = discriminantKey(byte(old.State), old.ID)
		moves[1].oldKey = discriminantKey(byte(old.Kind.Tag), old.ID)
	}
	if err := applyIndexMoves(ctx, moves, func() error {
		return l.assets.Insert(ctx, idKey(next.ID), data)
	}); err != nil {
		return err
	}

	wasEnabled := old != nil && old.IsEnabled()
	switch {
	case !wasEnabled && next.IsEnabled():
		return l.appendOrderLocked(ctx, next.ID)
	case wasEnabled && !next.IsEnabled():
		return l.removeOrderLocked(ctx, next.ID)
	}
	return nil
}

func (l *KVAssetLedger) Delete(ctx context.Context, id uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	old, err := l.getLocked(ctx, id)
	if err != nil {
		return err
	}
	if err := l.removeOrderLocked(ctx, id); err != nil {
		return err
	}
	if _, _, err := l.assets.Remove(ctx, idKey(id)); err != nil {
		return err
	}
	if _, _, err := l.byState.Remove(ctx, discriminantKey(byte(old.State), id)); err != nil {
		return err
	}
	_, _, err = l.byKind.Remove(ctx, discriminantKey(byte(old.Kind.Tag), id))
	return err
}

func (l *KVAssetLedger) ListByState(ctx context.Context, state domain.AssetState) ([]domain.Asset, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.listIndexLocked(ctx, l.byState, byte(state), func(a *domain.Asset) bool { return a.State == state })
}

func (l *KVAssetLedger) ListByKind(ctx context.Context, kind domain.AssetKindTag) ([]domain.Asset, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.listIndexLocked(ctx, l.byKind, byte(kind), func(a *domain.Asset) bool { return a.Kind.Tag == kind })
}

// listIndexLocked skips entries whose record is gone or fails keep.
func (l *KVAssetLedger) listIndexLocked(ctx context.Context, index kv.Map, tag byte, keep func(*domain.Asset) bool) ([]domain.Asset, error) {
	lo, hi := discriminantRange(tag)
	entries, err := index.Range(ctx, lo, hi)
	if err != nil {
		return nil, err
	}
	assets := make([]domain.Asset, 0, len(entries))
	for _, entry := range entries {
		_, id, err := decodeDiscriminantKey(entry.Key)
		if err != nil {
			return nil, domain.Internal("asset index: %v", err)
		}
		data, found, err := l.assets.Get(ctx, idKey(id))
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		asset, err := decodeAsset(id, data)
		if err != nil {
			return nil, domain.Internal("%v", err)
		}
		if !keep(asset) {
			continue
		}
		assets = append(assets, *asset)
	}
	return assets, nil
}

func (l *KVAssetLedger) ListAll(ctx context.Context) ([]domain.Asset, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries, err := l.assets.Range(ctx, nil, nil)
	if err != nil {
		return nil, err
	}
	assets := make([]domain.Asset, 0, len(entries))
	for _, entry := range entries {
		id, err := decodeIDKey(entry.Key)
		if err != nil {
			return nil, domain.Internal("asset key: %v", err)
		}
		asset, err := decodeAsset(id, entry.Value)
		if err != nil {
			return nil, domain.Internal("%v", err)
		}
		assets = append(assets, *asset)
	}
	return assets, nil
}

func (l *KVAssetLedger) DisplayOrder(ctx context.Context) ([]uuid.UUID, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries, err := l.order.Range(ctx, nil, nil)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(entries))
	for _, entry := range entries {
		id, err := decodeIDKey(entry.Value)
		if err != nil {
			return nil, domain.Internal("prize order entry: %v", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (l *KVAssetLedger) SetDisplayOrder(ctx context.Context, ids []uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	current, err := l.listIndexLocked(ctx, l.byState, byte(domain.AssetStateEnabled), (*domain.Asset).IsEnabled)
	if err != nil {
		return err
	}
	enabled := make(map[uuid.UUID]bool, len(current))
	for _, asset := range current {
		enabled[asset.ID] = false
	}

	if len(ids) != len(enabled) {
		return domain.InvalidArgument("Prize order must contain exactly the %d enabled assets, got %d", len(enabled), len(ids))
	}
	for _, id := range ids {
		seen, ok := enabled[id]
		if !ok {
			return domain.InvalidArgument("Wheel asset %s is not enabled", id)
		}
		if seen {
			return domain.InvalidArgument("Wheel asset %s appears more than once", id)
		}
		enabled[id] = true
	}

	if err := l.order.Clear(ctx); err != nil {
		return err
	}
	for i, id := range ids {
		if err := l.order.Insert(ctx, ordinalKey(uint32(i)), idKey(id)); err != nil {
			return err
		}
	}
	return nil
}

func (l *KVAssetLedger) appendOrderLocked(ctx context.Context, id uuid.UUID) error {
	next := uint32(0)
	last, found, err := l.order.Last(ctx)
	if err != nil {
		return err
	}
	if found {
		ordinal, err := decodeOrdinalKey(last.Key)
		if err != nil {
			return domain.Internal("prize order key: %v", err)
		}
		next = ordinal + 1
	}
	return l.order.Insert(ctx, ordinalKey(next), idKey(id))
}

func (l *KVAssetLedger) removeOrderLocked(ctx context.Context, id uuid.UUID) error {
	entries, err := l.order.Range(ctx, nil, nil)
	if err != nil {
		return err
	}
	target := idKey(id)
	for _, entry := range entries {
		if bytes.Equal(entry.Value, target) {
			_, _, err := l.order.Remove(ctx, entry.Key)
			return err
		}
	}
	return nil
}
