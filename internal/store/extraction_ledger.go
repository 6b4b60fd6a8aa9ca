package store

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/ilbertt/ic-fortune-wheel/internal/domain"
	"github.com/ilbertt/ic-fortune-wheel/internal/kv"
)

// KVExtractionLedger is the KV-backed ExtractionLedger. Ids are UUIDv7, so the last entry
// of any index range is the most recent extraction in it.
type KVExtractionLedger struct {
	mu          sync.RWMutex
	extractions kv.Map
	byState     kv.Map
	byAsset     kv.Map
	byUser      kv.Map
	byClaimant  kv.Map
}

func NewKVExtractionLedger(ctx context.Context, store kv.Store) (*KVExtractionLedger, error) {
	maps, err := openRegions(ctx, store,
		RegionExtractions,
		RegionExtractionStateIndex,
		RegionExtractionAssetIndex,
		RegionExtractionUserIndex,
		RegionExtractionClaimantIndex,
	)
	if err != nil {
		return nil, err
	}
	return &KVExtractionLedger{
		extractions: maps[0],
		byState:     maps[1],
		byAsset:     maps[2],
		byUser:      maps[3],
		byClaimant:  maps[4],
	}, nil
}

func (l *KVExtractionLedger) Get(ctx context.Context, id uuid.UUID) (*domain.Extraction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.getLocked(ctx, id)
}

func (l *KVExtractionLedger) getLocked(ctx context.Context, id uuid.UUID) (*domain.Extraction, error) {
	data, found, err := l.extractions.Get(ctx, idKey(id))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domain.NotFound("Extraction %s not found", id)
	}
	return decodeExtraction(id, data)
}

func (l *KVExtractionLedger) Create(ctx context.Context, extraction domain.Extraction) (*domain.Extraction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if extraction.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, domain.Internal("generate extraction id: %v", err)
		}
		extraction.ID = id
	}
	if _, found, err := l.extractions.Get(ctx, idKey(extraction.ID)); err != nil {
		return nil, err
	} else if found {
		return nil, domain.Conflict("Extraction %s already exists", extraction.ID)
	}
	if err := l.writeLocked(ctx, nil, &extraction); err != nil {
		return nil, err
	}
	return &extraction, nil
}

func (l *KVExtractionLedger) Update(ctx context.Context, id uuid.UUID, extraction domain.Extraction) (*domain.Extraction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	old, err := l.getLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	extraction.ID = id
	if err := l.writeLocked(ctx, old, &extraction); err != nil {
		return nil, err
	}
	return &extraction, nil
}

type extractionIndexKeys struct {
	state    []byte
	asset    []byte
	user     []byte
	claimant []byte
}

func indexKeysFor(extraction *domain.Extraction) (extractionIndexKeys, error) {
	claimant, err := claimantKey(extraction.ClaimantPrincipal, extraction.ID)
	if err != nil {
		return extractionIndexKeys{}, domain.InvalidArgument("Invalid claimant principal: %v", err)
	}
	keys := extractionIndexKeys{
		state:    discriminantKey(byte(extraction.State), extraction.ID),
		user:     pairKey(extraction.IssuedByUserID, extraction.ID),
		claimant: claimant,
	}
	if extraction.AwardedAssetID != nil {
		keys.asset = pairKey(*extraction.AwardedAssetID, extraction.ID)
	}
	return keys, nil
}

// writeLocked stores next and moves its index entries from old (nil on create).
func (l *KVExtractionLedger) writeLocked(ctx context.Context, old, next *domain.Extraction) error {
	data, err := encodeExtraction(next)
	if err != nil {
		return domain.Internal("%v", err)
	}
	nextKeys, err := indexKeysFor(next)
	if err != nil {
		return err
	}
	var oldKeys extractionIndexKeys
	if old != nil {
		if oldKeys, err = indexKeysFor(old); err != nil {
			return err
		}
	}

	moves := []indexMove{
		{index: l.byClaimant, oldKey: oldKeys.claimant, nextKey: nextKeys.claimant},
		{index: l.byUser, oldKey: oldKeys.user, nextKey: nextKeys.user},
		{index: l.byState, oldKey: oldKeys.state, nextKey: nextKeys.state},
		{index: l.byAsset, oldKey: oldKeys.asset, nextKey: nextKeys.asset},
	}
	return applyIndexMoves(ctx, moves, func() error {
		return l.extractions.Insert(ctx, idKey(next.ID), data)
	})
}

// lookupLocked is getLocked for index readers: a missing record reports found=false.
func (l *KVExtractionLedger) lookupLocked(ctx context.Context, id uuid.UUID) (*domain.Extraction, bool, error) {
	data, found, err := l.extractions.Get(ctx, idKey(id))
	if err != nil || !found {
		return nil, false, err
	}
	extraction, err := decodeExtraction(id, data)
	if err != nil {
		return nil, false, domain.Internal("%v", err)
	}
	return extraction, true, nil
}

func (l *KVExtractionLedger) GetByClaimant(ctx context.Context, principal string) (*domain.Extraction, error) {
	prefix, err := claimantPrefix(principal)
	if err != nil {
		return nil, domain.InvalidArgument("Invalid claimant principal: %v", err)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	lo, hi := kv.PrefixRange(prefix)
	entries, err := l.byClaimant.Range(ctx, lo, hi)
	if err != nil {
		return nil, err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		_, id, err := decodeClaimantKey(entries[i].Key)
		if err != nil {
			return nil, domain.Internal("claimant index: %v", err)
		}
		extraction, found, err := l.lookupLocked(ctx, id)
		if err != nil {
			return nil, err
		}
		if found {
			return extraction, nil
		}
	}
	return nil, domain.NotFound("No extraction found for principal %s", principal)
}

func (l *KVExtractionLedger) GetLast(ctx context.Context, state *domain.ExtractionState) (*domain.Extraction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if state == nil {
		entry, found, err := l.extractions.Last(ctx)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, domain.NotFound("No extraction found")
		}
		id, err := decodeIDKey(entry.Key)
		if err != nil {
			return nil, domain.Internal("extraction key: %v", err)
		}
		return decodeExtraction(id, entry.Value)
	}

	lo, hi := discriminantRange(byte(*state))
	entries, err := l.byState.Range(ctx, lo, hi)
	if err != nil {
		return nil, err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		_, id, err := decodeDiscriminantKey(entries[i].Key)
		if err != nil {
			return nil, domain.Internal("extraction state index: %v", err)
		}
		extraction, found, err := l.lookupLocked(ctx, id)
		if err != nil {
			return nil, err
		}
		if found && extraction.State == *state {
			return extraction, nil
		}
	}
	return nil, domain.NotFound("No %s extraction found", state.String())
}

func (l *KVExtractionLedger) ListAll(ctx context.Context) ([]domain.Extraction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries, err := l.extractions.Range(ctx, nil, nil)
	if err != nil {
		return nil, err
	}
	extractions := make([]domain.Extraction, 0, len(entries))
	for _, entry := range entries {
		id, err := decodeIDKey(entry.Key)
		if err != nil {
			return nil, domain.Internal("extraction key: %v", err)
		}
		extraction, err := decodeExtraction(id, entry.Value)
		if err != nil {
			return nil, domain.Internal("%v", err)
		}
		extractions = append(extractions, *extraction)
	}
	return extractions, nil
}

func (l *KVExtractionLedger) ListByState(ctx context.Context, state domain.ExtractionState) ([]domain.Extraction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	lo, hi := discriminantRange(byte(state))
	entries, err := l.byState.Range(ctx, lo, hi)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(entries))
	for _, entry := range entries {
		_, id, err := decodeDiscriminantKey(entry.Key)
		if err != nil {
			return nil, domain.Internal("extraction state index: %v", err)
		}
		ids = append(ids, id)
	}
	return l.loadLocked(ctx, ids, func(e *domain.Extraction) bool { return e.State == state })
}

func (l *KVExtractionLedger) ListByAsset(ctx context.Context, assetID uuid.UUID) ([]domain.Extraction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.listPairIndexLocked(ctx, l.byAsset, assetID, func(e *domain.Extraction) bool {
		return e.AwardedAssetID != nil && *e.AwardedAssetID == assetID
	})
}

func (l *KVExtractionLedger) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Extraction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.listPairIndexLocked(ctx, l.byUser, userID, func(e *domain.Extraction) bool {
		return e.IssuedByUserID == userID
	})
}

func (l *KVExtractionLedger) listPairIndexLocked(ctx context.Context, index kv.Map, owner uuid.UUID, keep func(*domain.Extraction) bool) ([]domain.Extraction, error) {
	lo, hi := pairRange(owner)
	entries, err := index.Range(ctx, lo, hi)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(entries))
	for _, entry := range entries {
		_, id, err := decodePairKey(entry.Key)
		if err != nil {
			return nil, domain.Internal("extraction index: %v", err)
		}
		ids = append(ids, id)
	}
	return l.loadLocked(ctx, ids, keep)
}

// loadLocked resolves index entries, skipping ids whose record is gone or no longer
// matches the index.
func (l *KVExtractionLedger) loadLocked(ctx context.Context, ids []uuid.UUID, keep func(*domain.Extraction) bool) ([]domain.Extraction, error) {
	extractions := make([]domain.Extraction, 0, len(ids))
	for _, id := range ids {
		extraction, found, err := l.lookupLocked(ctx, id)
		if err != nil {
			return nil, err
		}
		if !found || !keep(extraction) {
			continue
		}
		extractions = append(extractions, *extraction)
	}
	return extractions, nil
}
