/**
 * @description
 * Request and response DTOs for the wheel API. Service code works on Asset and
 * Extraction; these types only exist at the edges.
 *
 * @notes
 * - USD amounts travel as decimal strings ("1.5") to avoid float rounding.
 * - Token amounts are ledger base units encoded as decimal strings, since they can
 *   exceed 64 bits.
 */

package domain

import (
	"math/big"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreateAssetTypeConfig describes the kind of a new asset. Only the fields for Type are read.
type CreateAssetTypeConfig struct {
	Type               AssetKindTag     `json:"type"`
	LedgerConfig       *LedgerConfig    `json:"ledger_config,omitempty"`
	ExchangeRateSymbol *string          `json:"exchange_rate_symbol,omitempty"`
	PrizeUSDAmount     *decimal.Decimal `json:"prize_usd_amount,omitempty"`
	ArticleType        *string          `json:"article_type,omitempty"`
	ComponentAssetIDs  []uuid.UUID      `json:"wheel_asset_ids,omitempty"`
}

type CreateAssetRequest struct {
	Name           string                `json:"name"`
	TypeConfig     CreateAssetTypeConfig `json:"asset_type_config"`
	TotalAmount    uint32                `json:"total_amount"`
	State          *AssetState           `json:"state,omitempty"`
	WheelImagePath *string               `json:"wheel_image_path,omitempty"`
	ModalImagePath *string               `json:"modal_image_path,omitempty"`
	UISettings     *UISettings           `json:"wheel_ui_settings,omitempty"`
}

// UpdateAssetRequest is a partial update; nil fields are left unchanged. Kind-specific
// fields are rejected when they do not match the asset's kind.
type UpdateAssetRequest struct {
	Name               *string          `json:"name,omitempty"`
	TotalAmount        *uint32          `json:"total_amount,omitempty"`
	State              *AssetState      `json:"state,omitempty"`
	WheelImagePath     *string          `json:"wheel_image_path,omitempty"`
	ModalImagePath     *string          `json:"modal_image_path,omitempty"`
	UISettings         *UISettings      `json:"wheel_ui_settings,omitempty"`
	PrizeUSDAmount     *decimal.Decimal `json:"prize_usd_amount,omitempty"`
	ExchangeRateSymbol *string          `json:"exchange_rate_symbol,omitempty"`
	LedgerConfig       *LedgerConfig    `json:"ledger_config,omitempty"`
	ArticleType        *string          `json:"article_type,omitempty"`
	ComponentAssetIDs  []uuid.UUID      `json:"wheel_asset_ids,omitempty"`
}

type UpdatePrizesOrderRequest struct {
	AssetIDs []uuid.UUID `json:"wheel_asset_ids"`
}

type CreateExtractionRequest struct {
	ClaimantPrincipal string `json:"extract_for_principal"`
}

type TransferTokenRequest struct {
	LedgerID string `json:"ledger_id"`
	To       string `json:"to"`
	Amount   string `json:"amount"`
}

// ParseAmount parses the base-unit amount of the transfer.
func (r TransferTokenRequest) ParseAmount() (*big.Int, error) {
	amount, ok := new(big.Int).SetString(r.Amount, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, InvalidArgument("Amount must be a positive integer, got %q", r.Amount)
	}
	return amount, nil
}

type TransferTokenResponse struct {
	BlockIndex string `json:"block_index"`
}

// AssetView is an asset with its derived availability.
type AssetView struct {
	Asset
	AvailableAmount uint32 `json:"available_amount"`
}

func NewAssetView(asset Asset) AssetView {
	return AssetView{Asset: asset, AvailableAmount: asset.AvailableQuantity()}
}

// WheelPrize is the public projection of an enabled asset, in display order.
type WheelPrize struct {
	AssetID        uuid.UUID        `json:"wheel_asset_id"`
	Name           string           `json:"name"`
	WheelImagePath *string          `json:"wheel_image_path,omitempty"`
	ModalImagePath *string          `json:"modal_image_path,omitempty"`
	UISettings     UISettings       `json:"wheel_ui_settings"`
	PrizeUSDAmount *decimal.Decimal `json:"prize_usd_amount,omitempty"`
}

// NewWheelPrize projects asset. Token prizes without a modal image reuse the wheel image.
func NewWheelPrize(asset Asset) WheelPrize {
	modalImage := asset.ModalImagePath
	if modalImage == nil && asset.IsToken() {
		modalImage = asset.WheelImagePath
	}
	return WheelPrize{
		AssetID:        asset.ID,
		Name:           asset.Name,
		WheelImagePath: asset.WheelImagePath,
		ModalImagePath: modalImage,
		UISettings:     asset.UISettings,
		PrizeUSDAmount: asset.PrizeUSDAmount(),
	}
}

// ExtractionSweepResponse summarizes one stale extraction sweep.
type ExtractionSweepResponse struct {
	Processed int `json:"processed"`
	Swept     int `json:"swept"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}
