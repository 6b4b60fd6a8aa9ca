/**
 * @description
 * Versioned binary encoding of ledger records. A record is one version byte followed by
 * the CBOR body of that version's record struct. Decoding falls back to the previous
 * version and upgrades it in memory, so old rows stay readable without a migration pass.
 *
 * @dependencies
 * - github.com/ugorji/go/codec: CBOR encoder and decoder.
 * - github.com/shopspring/decimal: USD amounts are persisted as decimal strings.
 *
 * @notes
 * - Asset v1 predates the modal image and UI settings; upgrading applies the default
 *   background color.
 * - Extraction v1 kept the awarded asset inside the Completed variant and a bare error
 *   string inside Failed. v2 moves the asset id to the top level, optional in every state.
 */

package store

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/ilbertt/ic-fortune-wheel/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/ugorji/go/codec"
)

const (
	assetVersionV1      byte = 1
	assetVersionV2      byte = 2
	extractionVersionV1 byte = 1
	extractionVersionV2 byte = 2

	legacyFailureCode = "INTERNAL"
)

var errEmptyRecord = errors.New("empty record")

var cborHandle = newCborHandle()

func newCborHandle() *codec.CborHandle {
	h := &codec.CborHandle{}
	h.Canonical = true
	h.ErrorIfNoField = true
	return h
}

func encodeVersioned(version byte, record interface{}) ([]byte, error) {
	out := []byte{version}
	body := make([]byte, 0, 128)
	if err := codec.NewEncoderBytes(&body, cborHandle).Encode(record); err != nil {
		return nil, err
	}
	return append(out, body...), nil
}

func decodeBody(data []byte, record interface{}) error {
	return codec.NewDecoderBytes(data, cborHandle).Decode(record)
}

type tokenPriceRecord struct {
	USDPrice      string `codec:"usd_price"`
	LastFetchedAt int64  `codec:"last_fetched_at"`
}

type tokenBalanceRecord struct {
	Balance       []byte `codec:"balance"`
	LastFetchedAt int64  `codec:"last_fetched_at"`
}

type tokenRecord struct {
	LedgerID           string              `codec:"ledger_id"`
	Decimals           uint8               `codec:"decimals"`
	ExchangeRateSymbol string              `codec:"exchange_rate_symbol"`
	USDPrice           *tokenPriceRecord   `codec:"usd_price"`
	Balance            *tokenBalanceRecord `codec:"balance"`
	PrizeUSDAmount     string              `codec:"prize_usd_amount"`
}

type gadgetRecord struct {
	ArticleType *string `codec:"article_type"`
}

type jackpotRecord struct {
	ComponentAssetIDs [][]byte `codec:"wheel_asset_ids"`
}

type assetKindRecord struct {
	Tag     uint8          `codec:"tag"`
	Token   *tokenRecord   `codec:"token"`
	Gadget  *gadgetRecord  `codec:"gadget"`
	Jackpot *jackpotRecord `codec:"jackpot"`
}

type assetRecordV1 struct {
	Name           string          `codec:"name"`
	Kind           assetKindRecord `codec:"asset_type"`
	TotalAmount    uint32          `codec:"total_amount"`
	UsedAmount     uint32          `codec:"used_amount"`
	State          uint8           `codec:"state"`
	WheelImagePath *string         `codec:"wheel_image_path"`
	CreatedAt      int64           `codec:"created_at"`
	UpdatedAt      int64           `codec:"updated_at"`
}

type assetRecordV2 struct {
	Name               string          `codec:"name"`
	Kind               assetKindRecord `codec:"asset_type"`
	TotalAmount        uint32          `codec:"total_amount"`
	UsedAmount         uint32          `codec:"used_amount"`
	State              uint8           `codec:"state"`
	WheelImagePath     *string         `codec:"wheel_image_path"`
	ModalImagePath     *string         `codec:"modal_image_path"`
	BackgroundColorHex string          `codec:"background_color_hex"`
	CreatedAt          int64           `codec:"created_at"`
	UpdatedAt          int64           `codec:"updated_at"`
}

func encodeAsset(asset *domain.Asset) ([]byte, error) {
	kind, err := newAssetKindRecord(asset.Kind)
	if err != nil {
		return nil, err
	}
	record := assetRecordV2{
		Name:               asset.Name,
		Kind:               kind,
		TotalAmount:        asset.TotalAmount,
		UsedAmount:         asset.UsedAmount,
		State:              uint8(asset.State),
		WheelImagePath:     asset.WheelImagePath,
		ModalImagePath:     asset.ModalImagePath,
		BackgroundColorHex: asset.UISettings.BackgroundColorHex,
		CreatedAt:          toNanos(asset.CreatedAt),
		UpdatedAt:          toNanos(asset.UpdatedAt),
	}
	data, err := encodeVersioned(assetVersionV2, &record)
	if err != nil {
		return nil, fmt.Errorf("encode asset %s: %w", asset.ID, err)
	}
	return data, nil
}

func decodeAsset(id uuid.UUID, data []byte) (*domain.Asset, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("decode asset %s: %w", id, errEmptyRecord)
	}
	version, body := data[0], data[1:]

	var current assetRecordV2
	currentErr := fmt.Errorf("unknown asset record version %d", version)
	if version == assetVersionV2 {
		if currentErr = decodeBody(body, &current); currentErr == nil {
			return current.toDomain(id)
		}
	}

	var previous assetRecordV1
	if err := decodeBody(body, &previous); err != nil {
		return nil, fmt.Errorf("decode asset %s: %v; as v1: %w", id, currentErr, err)
	}
	return previous.upgrade().toDomain(id)
}

func (r assetRecordV1) upgrade() assetRecordV2 {
	return assetRecordV2{
		Name:               r.Name,
		Kind:               r.Kind,
		TotalAmount:        r.TotalAmount,
		UsedAmount:         r.UsedAmount,
		State:              r.State,
		WheelImagePath:     r.WheelImagePath,
		BackgroundColorHex: domain.DefaultBackgroundColorHex,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

func (r assetRecordV2) toDomain(id uuid.UUID) (*domain.Asset, error) {
	kind, err := r.Kind.toDomain()
	if err != nil {
		return nil, fmt.Errorf("decode asset %s: %w", id, err)
	}
	color := r.BackgroundColorHex
	if color == "" {
		color = domain.DefaultBackgroundColorHex
	}
	return &domain.Asset{
		ID:             id,
		Name:           r.Name,
		Kind:           kind,
		TotalAmount:    r.TotalAmount,
		UsedAmount:     r.UsedAmount,
		State:          domain.AssetState(r.State),
		WheelImagePath: r.WheelImagePath,
		ModalImagePath: r.ModalImagePath,
		UISettings:     domain.UISettings{BackgroundColorHex: color},
		CreatedAt:      fromNanos(r.CreatedAt),
		UpdatedAt:      fromNanos(r.UpdatedAt),
	}, nil
}

func newAssetKindRecord(kind domain.AssetKind) (assetKindRecord, error) {
	record := assetKindRecord{Tag: uint8(kind.Tag)}
	switch kind.Tag {
	case domain.AssetKindToken:
		if kind.Token == nil {
			return record, fmt.Errorf("token asset without token details")
		}
		token := kind.Token
		record.Token = &tokenRecord{
			LedgerID:           token.Ledger.LedgerID,
			Decimals:           token.Ledger.Decimals,
			ExchangeRateSymbol: token.ExchangeRateSymbol,
			PrizeUSDAmount:     token.PrizeUSDAmount.String(),
		}
		if token.USDPrice != nil {
			record.Token.USDPrice = &tokenPriceRecord{
				USDPrice:      token.USDPrice.USDPrice.String(),
				LastFetchedAt: toNanos(token.USDPrice.LastFetchedAt),
			}
		}
		if token.Balance != nil && token.Balance.Balance != nil {
			if token.Balance.Balance.Sign() < 0 {
				return record, fmt.Errorf("negative token balance")
			}
			record.Token.Balance = &tokenBalanceRecord{
				Balance:       token.Balance.Balance.Bytes(),
				LastFetchedAt: toNanos(token.Balance.LastFetchedAt),
			}
		}
	case domain.AssetKindGadget:
		record.Gadget = &gadgetRecord{}
		if kind.Gadget != nil {
			record.Gadget.ArticleType = kind.Gadget.ArticleType
		}
	case domain.AssetKindJackpot:
		record.Jackpot = &jackpotRecord{}
		if kind.Jackpot != nil {
			for _, id := range kind.Jackpot.ComponentAssetIDs {
				record.Jackpot.ComponentAssetIDs = append(record.Jackpot.ComponentAssetIDs, idKey(id))
			}
		}
	default:
		return record, fmt.Errorf("unknown asset kind %d", kind.Tag)
	}
	return record, nil
}

func (r assetKindRecord) toDomain() (domain.AssetKind, error) {
	switch domain.AssetKindTag(r.Tag) {
	case domain.AssetKindToken:
		if r.Token == nil {
			return domain.AssetKind{}, fmt.Errorf("token asset without token details")
		}
		prize, err := decimal.NewFromString(r.Token.PrizeUSDAmount)
		if err != nil {
			return domain.AssetKind{}, fmt.Errorf("prize usd amount: %w", err)
		}
		details := domain.TokenDetails{
			Ledger:             domain.LedgerConfig{LedgerID: r.Token.LedgerID, Decimals: r.Token.Decimals},
			ExchangeRateSymbol: r.Token.ExchangeRateSymbol,
			PrizeUSDAmount:     prize,
		}
		if r.Token.USDPrice != nil {
			price, err := decimal.NewFromString(r.Token.USDPrice.USDPrice)
			if err != nil {
				return domain.AssetKind{}, fmt.Errorf("usd price: %w", err)
			}
			details.USDPrice = &domain.TokenPrice{USDPrice: price, LastFetchedAt: fromNanos(r.Token.USDPrice.LastFetchedAt)}
		}
		if r.Token.Balance != nil {
			details.Balance = &domain.TokenBalance{
				Balance:       new(big.Int).SetBytes(r.Token.Balance.Balance),
				LastFetchedAt: fromNanos(r.Token.Balance.LastFetchedAt),
			}
		}
		return domain.TokenKind(details), nil
	case domain.AssetKindGadget:
		var articleType *string
		if r.Gadget != nil {
			articleType = r.Gadget.ArticleType
		}
		return domain.GadgetKind(articleType), nil
	case domain.AssetKindJackpot:
		var ids []uuid.UUID
		if r.Jackpot != nil {
			for _, raw := range r.Jackpot.ComponentAssetIDs {
				id, err := decodeIDKey(raw)
				if err != nil {
					return domain.AssetKind{}, fmt.Errorf("jackpot component: %w", err)
				}
				ids = append(ids, id)
			}
		}
		return domain.JackpotKind(ids), nil
	default:
		return domain.AssetKind{}, fmt.Errorf("unknown asset kind %d", r.Tag)
	}
}

type failureRecord struct {
	Code    string `codec:"code"`
	Message string `codec:"message"`
}

type extractionRecordV2 struct {
	ClaimantPrincipal string         `codec:"extracted_for_principal"`
	IssuedByUserID    []byte         `codec:"extracted_by_user_id"`
	State             uint8          `codec:"state"`
	AwardedAssetID    []byte         `codec:"wheel_asset_id"`
	AwardedUSDAmount  *string        `codec:"prize_usd_amount"`
	Failure           *failureRecord `codec:"error"`
	CreatedAt         int64          `codec:"created_at"`
	UpdatedAt         int64          `codec:"updated_at"`
}

type completedRecordV1 struct {
	AssetID        []byte  `codec:"wheel_asset_id"`
	PrizeUSDAmount *string `codec:"prize_usd_amount"`
}

type failedRecordV1 struct {
	Error string `codec:"error"`
}

type extractionRecordV1 struct {
	ClaimantPrincipal string             `codec:"extracted_for_principal"`
	IssuedByUserID    []byte             `codec:"extracted_by_user_id"`
	State             uint8              `codec:"state"`
	Completed         *completedRecordV1 `codec:"completed"`
	Failed            *failedRecordV1    `codec:"failed"`
	CreatedAt         int64              `codec:"created_at"`
	UpdatedAt         int64              `codec:"updated_at"`
}

func encodeExtraction(extraction *domain.Extraction) ([]byte, error) {
	record := extractionRecordV2{
		ClaimantPrincipal: extraction.ClaimantPrincipal,
		IssuedByUserID:    idKey(extraction.IssuedByUserID),
		State:             uint8(extraction.State),
		CreatedAt:         toNanos(extraction.CreatedAt),
		UpdatedAt:         toNanos(extraction.UpdatedAt),
	}
	if extraction.AwardedAssetID != nil {
		record.AwardedAssetID = idKey(*extraction.AwardedAssetID)
	}
	if extraction.AwardedUSDAmount != nil {
		amount := extraction.AwardedUSDAmount.String()
		record.AwardedUSDAmount = &amount
	}
	if extraction.Failure != nil {
		record.Failure = &failureRecord{Code: extraction.Failure.Code, Message: extraction.Failure.Message}
	}
	data, err := encodeVersioned(extractionVersionV2, &record)
	if err != nil {
		return nil, fmt.Errorf("encode extraction %s: %w", extraction.ID, err)
	}
	return data, nil
}

func decodeExtraction(id uuid.UUID, data []byte) (*domain.Extraction, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("decode extraction %s: %w", id, errEmptyRecord)
	}
	version, body := data[0], data[1:]

	var current extractionRecordV2
	currentErr := fmt.Errorf("unknown extraction record version %d", version)
	if version == extractionVersionV2 {
		if currentErr = decodeBody(body, &current); currentErr == nil {
			return current.toDomain(id)
		}
	}

	var previous extractionRecordV1
	if err := decodeBody(body, &previous); err != nil {
		return nil, fmt.Errorf("decode extraction %s: %v; as v1: %w", id, currentErr, err)
	}
	return previous.upgrade().toDomain(id)
}

func (r extractionRecordV1) upgrade() extractionRecordV2 {
	upgraded := extractionRecordV2{
		ClaimantPrincipal: r.ClaimantPrincipal,
		IssuedByUserID:    r.IssuedByUserID,
		State:             r.State,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
	if r.Completed != nil {
		upgraded.AwardedAssetID = r.Completed.AssetID
		upgraded.AwardedUSDAmount = r.Completed.PrizeUSDAmount
	}
	if r.Failed != nil {
		upgraded.Failure = &failureRecord{Code: legacyFailureCode, Message: r.Failed.Error}
	}
	return upgraded
}

func (r extractionRecordV2) toDomain(id uuid.UUID) (*domain.Extraction, error) {
	issuedBy, err := decodeIDKey(r.IssuedByUserID)
	if err != nil {
		return nil, fmt.Errorf("decode extraction %s issuer: %w", id, err)
	}
	extraction := &domain.Extraction{
		ID:                id,
		ClaimantPrincipal: r.ClaimantPrincipal,
		IssuedByUserID:    issuedBy,
		State:             domain.ExtractionState(r.State),
		CreatedAt:         fromNanos(r.CreatedAt),
		UpdatedAt:         fromNanos(r.UpdatedAt),
	}
	if !extraction.State.Valid() {
		return nil, fmt.Errorf("decode extraction %s: invalid state %d", id, r.State)
	}
	if len(r.AwardedAssetID) > 0 {
		assetID, err := decodeIDKey(r.AwardedAssetID)
		if err != nil {
			return nil, fmt.Errorf("decode extraction %s asset: %w", id, err)
		}
		extraction.AwardedAssetID = &assetID
	}
	if r.AwardedUSDAmount != nil {
		amount, err := decimal.NewFromString(*r.AwardedUSDAmount)
		if err != nil {
			return nil, fmt.Errorf("decode extraction %s usd amount: %w", id, err)
		}
		extraction.AwardedUSDAmount = &amount
	}
	if r.Failure != nil {
		extraction.Failure = &domain.FailureReason{Code: r.Failure.Code, Message: r.Failure.Message}
	}
	return extraction, nil
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(nanos int64) time.Time {
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos).UTC()
}
