package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AnonymousPrincipal is the textual form of the unauthenticated caller identity.
const AnonymousPrincipal = "2vxsx-fae"

func IsAnonymousPrincipal(principal string) bool {
	trimmed := strings.TrimSpace(principal)
	return trimmed == "" || trimmed == AnonymousPrincipal
}

// ExtractionState values are persisted as index discriminants.
type ExtractionState uint8

const (
	ExtractionStateProcessing ExtractionState = 1
	ExtractionStateCompleted  ExtractionState = 2
	ExtractionStateFailed     ExtractionState = 3
)

func (s ExtractionState) String() string {
	switch s {
	case ExtractionStateProcessing:
		return "processing"
	case ExtractionStateCompleted:
		return "completed"
	case ExtractionStateFailed:
		return "failed"
	default:
		return fmt.Sprintf("extraction_state(%d)", uint8(s))
	}
}

func (s ExtractionState) Valid() bool {
	return s >= ExtractionStateProcessing && s <= ExtractionStateFailed
}

func (s ExtractionState) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid extraction state %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *ExtractionState) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "processing":
		*s = ExtractionStateProcessing
	case "completed":
		*s = ExtractionStateCompleted
	case "failed":
		*s = ExtractionStateFailed
	default:
		return InvalidArgument("invalid extraction state %q", string(text))
	}
	return nil
}

// FailureReason is the persisted form of the error that ended an extraction.
type FailureReason struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewFailureReason(err error) FailureReason {
	return FailureReason{Code: ErrorCode(err), Message: ErrorMessage(err)}
}

// Extraction is one claim attempt for one claimant principal.
type Extraction struct {
	ID                uuid.UUID        `json:"id"`
	ClaimantPrincipal string           `json:"extracted_for_principal"`
	IssuedByUserID    uuid.UUID        `json:"extracted_by_user_id"`
	State             ExtractionState  `json:"state"`
	AwardedAssetID    *uuid.UUID       `json:"wheel_asset_id,omitempty"`
	AwardedUSDAmount  *decimal.Decimal `json:"prize_usd_amount,omitempty"`
	Failure           *FailureReason   `json:"error,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

func NewProcessingExtraction(claimant string, issuedBy uuid.UUID, now time.Time) Extraction {
	return Extraction{
		ClaimantPrincipal: strings.TrimSpace(claimant),
		IssuedByUserID:    issuedBy,
		State:             ExtractionStateProcessing,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Complete moves a processing extraction to its terminal success state.
func (e *Extraction) Complete(assetID uuid.UUID, usdAmount *decimal.Decimal, now time.Time) error {
	if e.State != ExtractionStateProcessing {
		return Internal("extraction %s cannot complete from state %s", e.ID, e.State)
	}
	awarded := assetID
	e.State = ExtractionStateCompleted
	e.AwardedAssetID = &awarded
	e.AwardedUSDAmount = usdAmount
	e.Failure = nil
	e.UpdatedAt = now
	return nil
}

// Fail moves a processing extraction to Failed. assetID is set when an asset had
// already been drawn.
func (e *Extraction) Fail(reason FailureReason, assetID *uuid.UUID, now time.Time) error {
	if e.State != ExtractionStateProcessing {
		return Internal("extraction %s cannot fail from state %s", e.ID, e.State)
	}
	e.State = ExtractionStateFailed
	e.AwardedAssetID = assetID
	e.AwardedUSDAmount = nil
	e.Failure = &reason
	e.UpdatedAt = now
	return nil
}

// CheckClaimAllowed returns nil when a new extraction may start for the claimant of e,
// e being the claimant's most recent extraction.
func (e *Extraction) CheckClaimAllowed(now time.Time, cooldown time.Duration) error {
	if e.State != ExtractionStateFailed {
		return Conflict("This principal has already been extracted")
	}
	retryAt := e.UpdatedAt.Add(cooldown)
	if now.Before(retryAt) {
		return TooSoon("Last extraction for this principal failed, retry after %s", retryAt.UTC().Format(time.RFC3339))
	}
	return nil
}
