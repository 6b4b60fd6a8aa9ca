package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ExtractionEvent is published after an extraction reaches a terminal state.
type ExtractionEvent struct {
	EventID           string           `json:"event_id"`
	EventType         string           `json:"event_type"`
	ExtractionID      uuid.UUID        `json:"extraction_id"`
	ClaimantPrincipal string           `json:"extracted_for_principal"`
	IssuedByUserID    uuid.UUID        `json:"extracted_by_user_id"`
	State             ExtractionState  `json:"state"`
	AwardedAssetID    *uuid.UUID       `json:"wheel_asset_id,omitempty"`
	AwardedUSDAmount  *decimal.Decimal `json:"prize_usd_amount,omitempty"`
	Failure           *FailureReason   `json:"error,omitempty"`
	OccurredAt        time.Time        `json:"occurred_at"`
}

func NewExtractionEvent(extraction Extraction) ExtractionEvent {
	return ExtractionEvent{
		EventID:           uuid.NewString(),
		EventType:         "wheel.extraction." + extraction.State.String(),
		ExtractionID:      extraction.ID,
		ClaimantPrincipal: extraction.ClaimantPrincipal,
		IssuedByUserID:    extraction.IssuedByUserID,
		State:             extraction.State,
		AwardedAssetID:    extraction.AwardedAssetID,
		AwardedUSDAmount:  extraction.AwardedUSDAmount,
		Failure:           extraction.Failure,
		OccurredAt:        extraction.UpdatedAt,
	}
}

// TokenRefreshRequestedEvent asks the service to refresh token prices and balances.
// An empty AssetID means every token asset.
type TokenRefreshRequestedEvent struct {
	EventID     string     `json:"event_id"`
	AssetID     *uuid.UUID `json:"wheel_asset_id,omitempty"`
	RequestedAt time.Time  `json:"requested_at"`
}
