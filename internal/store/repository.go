/**
 * @description
 * Storage contracts consumed by the wheel service. The ledgers are backed by the durable
 * ordered map in internal/kv; user profiles live in PostgreSQL or in the profile service.
 *
 * @dependencies
 * - github.com/google/uuid: record ids.
 * - internal/domain: the models stored here.
 */

package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/ilbertt/ic-fortune-wheel/internal/domain"
)

// AssetLedger owns Asset records and keeps the state, kind and display-order indexes in
// step with them. Missing records are reported as domain.ErrNotFound.
type AssetLedger interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Asset, error)
	// Create assigns a time-ordered id when asset.ID is nil.
	Create(ctx context.Context, asset domain.Asset) (*domain.Asset, error)
	Update(ctx context.Context, id uuid.UUID, asset domain.Asset) (*domain.Asset, error)
	// Modify reads the asset, applies fn and writes the result as one step. The asset is
	// left untouched when fn fails.
	Modify(ctx context.Context, id uuid.UUID, fn func(*domain.Asset) error) (*domain.Asset, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListByState(ctx context.Context, state domain.AssetState) ([]domain.Asset, error)
	ListByKind(ctx context.Context, kind domain.AssetKindTag) ([]domain.Asset, error)
	ListAll(ctx context.Context) ([]domain.Asset, error)
	DisplayOrder(ctx context.Context) ([]uuid.UUID, error)
	// SetDisplayOrder replaces the order. ids must be exactly the enabled assets.
	SetDisplayOrder(ctx context.Context, ids []uuid.UUID) error
}

// ExtractionLedger owns Extraction records and their state, asset, user and claimant
// indexes.
type ExtractionLedger interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Extraction, error)
	Create(ctx context.Context, extraction domain.Extraction) (*domain.Extraction, error)
	Update(ctx context.Context, id uuid.UUID, extraction domain.Extraction) (*domain.Extraction, error)
	// GetByClaimant returns the most recent extraction for principal.
	GetByClaimant(ctx context.Context, principal string) (*domain.Extraction, error)
	// GetLast returns the most recent extraction, restricted to state when it is not nil.
	GetLast(ctx context.Context, state *domain.ExtractionState) (*domain.Extraction, error)
	ListAll(ctx context.Context) ([]domain.Extraction, error)
	ListByState(ctx context.Context, state domain.ExtractionState) ([]domain.Extraction, error)
	ListByAsset(ctx context.Context, assetID uuid.UUID) ([]domain.Extraction, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Extraction, error)
}

// UserRepository resolves operator profiles by their principal.
type UserRepository interface {
	FindUserByPrincipal(ctx context.Context, principal string) (*domain.UserProfile, error)
}
