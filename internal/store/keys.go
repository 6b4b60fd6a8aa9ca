package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	"github.com/ilbertt/ic-fortune-wheel/internal/kv"
)

// Region ids of the ledger tables. They are persisted: never renumber or reuse one.
const (
	RegionAssets                  kv.Region = 2
	RegionAssetStateIndex         kv.Region = 3
	RegionAssetKindIndex          kv.Region = 4
	RegionPrizeOrder              kv.Region = 5
	RegionExtractions             kv.Region = 7
	RegionExtractionStateIndex    kv.Region = 8
	RegionExtractionAssetIndex    kv.Region = 9
	RegionExtractionUserIndex     kv.Region = 10
	RegionExtractionClaimantIndex kv.Region = 11
)

const (
	idKeyLength           = 16
	discriminantKeyLength = 1 + idKeyLength
	pairKeyLength         = 2 * idKeyLength
	ordinalKeyLength      = 4
	maxPrincipalLength    = 255
)

func idKey(id uuid.UUID) []byte {
	key := make([]byte, idKeyLength)
	copy(key, id[:])
	return key
}

func decodeIDKey(key []byte) (uuid.UUID, error) {
	if len(key) != idKeyLength {
		return uuid.Nil, fmt.Errorf("id key has %d bytes, want %d", len(key), idKeyLength)
	}
	return uuid.FromBytes(key)
}

// discriminantKey is (tag, id). All ids for one tag form a contiguous range.
func discriminantKey(tag byte, id uuid.UUID) []byte {
	key := make([]byte, discriminantKeyLength)
	key[0] = tag
	copy(key[1:], id[:])
	return key
}

func decodeDiscriminantKey(key []byte) (byte, uuid.UUID, error) {
	if len(key) != discriminantKeyLength {
		return 0, uuid.Nil, fmt.Errorf("discriminant key has %d bytes, want %d", len(key), discriminantKeyLength)
	}
	id, err := uuid.FromBytes(key[1:])
	return key[0], id, err
}

func discriminantRange(tag byte) ([]byte, []byte) {
	return kv.PrefixRange([]byte{tag})
}

// pairKey is (owner, id), used by the asset and user indexes of extractions.
func pairKey(owner, id uuid.UUID) []byte {
	key := make([]byte, pairKeyLength)
	copy(key, owner[:])
	copy(key[idKeyLength:], id[:])
	return key
}

func decodePairKey(key []byte) (uuid.UUID, uuid.UUID, error) {
	if len(key) != pairKeyLength {
		return uuid.Nil, uuid.Nil, fmt.Errorf("pair key has %d bytes, want %d", len(key), pairKeyLength)
	}
	owner, err := uuid.FromBytes(key[:idKeyLength])
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	id, err := uuid.FromBytes(key[idKeyLength:])
	return owner, id, err
}

func pairRange(owner uuid.UUID) ([]byte, []byte) {
	return kv.PrefixRange(owner[:])
}

func ordinalKey(ordinal uint32) []byte {
	key := make([]byte, ordinalKeyLength)
	binary.BigEndian.PutUint32(key, ordinal)
	return key
}

func decodeOrdinalKey(key []byte) (uint32, error) {
	if len(key) != ordinalKeyLength {
		return 0, fmt.Errorf("ordinal key has %d bytes, want %d", len(key), ordinalKeyLength)
	}
	return binary.BigEndian.Uint32(key), nil
}

// claimantPrefix is the length-prefixed principal. The length byte keeps one principal
// from being a key prefix of another.
func claimantPrefix(principal string) ([]byte, error) {
	if len(principal) > maxPrincipalLength {
		return nil, fmt.Errorf("principal has %d bytes, max %d", len(principal), maxPrincipalLength)
	}
	prefix := make([]byte, 0, 1+len(principal))
	prefix = append(prefix, byte(len(principal)))
	return append(prefix, principal...), nil
}

func claimantKey(principal string, id uuid.UUID) ([]byte, error) {
	prefix, err := claimantPrefix(principal)
	if err != nil {
		return nil, err
	}
	return append(prefix, id[:]...), nil
}

func decodeClaimantKey(key []byte) (string, uuid.UUID, error) {
	if len(key) < 1 {
		return "", uuid.Nil, fmt.Errorf("claimant key is empty")
	}
	size := int(key[0])
	if len(key) != 1+size+idKeyLength {
		return "", uuid.Nil, fmt.Errorf("claimant key has %d bytes, want %d", len(key), 1+size+idKeyLength)
	}
	id, err := uuid.FromBytes(key[1+size:])
	return string(key[1 : 1+size]), id, err
}

// indexMove moves one secondary index entry from oldKey to nextKey. A nil key means the
// entry is absent on that side.
type indexMove struct {
	index   kv.Map
	oldKey  []byte
	nextKey []byte
}

// applyIndexMoves inserts the new index entries, runs writePrimary, then drops the stale
// entries. Entries present on both sides are never touched, so a failure part way leaves
// surplus entries at worst.
func applyIndexMoves(ctx context.Context, moves []indexMove, writePrimary func() error) error {
	for _, move := range moves {
		if move.nextKey == nil || bytes.Equal(move.oldKey, move.nextKey) {
			continue
		}
		if err := move.index.Insert(ctx, move.nextKey, nil); err != nil {
			return err
		}
	}
	if err := writePrimary(); err != nil {
		return err
	}
	for _, move := range moves {
		if move.oldKey == nil || bytes.Equal(move.oldKey, move.nextKey) {
			continue
		}
		if _, _, err := move.index.Remove(ctx, move.oldKey); err != nil {
			return err
		}
	}
	return nil
}
