package store

import (
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ilbertt/ic-fortune-wheel/internal/domain"
	"github.com/shopspring/decimal"
)

func ptrString(value string) *string {
	return &value
}

func sampleTokenAsset() domain.Asset {
	now := time.Unix(1_700_000_000, 123).UTC()
	return domain.Asset{
		ID:   uuid.Must(uuid.NewV7()),
		Name: "ICP",
		Kind: domain.TokenKind(domain.TokenDetails{
			Ledger:             domain.LedgerConfig{LedgerID: "ryjl3-tyaaa-aaaaa-aaaba-cai", Decimals: 8},
			ExchangeRateSymbol: "ICP",
			USDPrice:           &domain.TokenPrice{USDPrice: decimal.RequireFromString("9.87"), LastFetchedAt: now},
			Balance:            &domain.TokenBalance{Balance: new(big.Int).Lsh(big.NewInt(1), 100), LastFetchedAt: now},
			PrizeUSDAmount:     decimal.RequireFromString("1.5"),
		}),
		TotalAmount:    10,
		UsedAmount:     3,
		State:          domain.AssetStateEnabled,
		WheelImagePath: ptrString("/images/icp.png"),
		UISettings:     domain.UISettings{BackgroundColorHex: "#112233"},
		CreatedAt:      now,
		UpdatedAt:      now.Add(time.Minute),
	}
}

func TestAssetCodec_RoundTrip(t *testing.T) {
	jackpotIDs := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	gadget := sampleTokenAsset()
	gadget.Kind = domain.GadgetKind(ptrString("t-shirt"))
	gadget.ModalImagePath = ptrString("/images/modal.png")
	jackpot := sampleTokenAsset()
	jackpot.Kind = domain.JackpotKind(jackpotIDs)
	jackpot.State = domain.AssetStateDisabled

	for _, asset := range []domain.Asset{sampleTokenAsset(), gadget, jackpot} {
		t.Run(asset.Kind.Tag.String(), func(t *testing.T) {
			data, err := encodeAsset(&asset)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			if data[0] != assetVersionV2 {
				t.Fatalf("expected version byte %d, got %d", assetVersionV2, data[0])
			}
			decoded, err := decodeAsset(asset.ID, data)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			assertAssetsEqual(t, asset, *decoded)
		})
	}
}

func assertAssetsEqual(t *testing.T, want, got domain.Asset) {
	t.Helper()
	if got.ID != want.ID || got.Name != want.Name || got.TotalAmount != want.TotalAmount ||
		got.UsedAmount != want.UsedAmount || got.State != want.State || got.Kind.Tag != want.Kind.Tag {
		t.Fatalf("asset mismatch:\nwant %+v\n got %+v", want, got)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) || !got.UpdatedAt.Equal(want.UpdatedAt) {
		t.Fatalf("timestamps mismatch: want %v/%v got %v/%v", want.CreatedAt, want.UpdatedAt, got.CreatedAt, got.UpdatedAt)
	}
	if got.UISettings != want.UISettings {
		t.Fatalf("ui settings mismatch: want %+v got %+v", want.UISettings, got.UISettings)
	}
	if !equalStringPtr(got.WheelImagePath, want.WheelImagePath) || !equalStringPtr(got.ModalImagePath, want.ModalImagePath) {
		t.Fatal("image paths mismatch")
	}

	switch want.Kind.Tag {
	case domain.AssetKindToken:
		w, g := want.Kind.Token, got.Kind.Token
		if g.Ledger != w.Ledger || g.ExchangeRateSymbol != w.ExchangeRateSymbol || !g.PrizeUSDAmount.Equal(w.PrizeUSDAmount) {
			t.Fatalf("token details mismatch: want %+v got %+v", w, g)
		}
		if !g.USDPrice.USDPrice.Equal(w.USDPrice.USDPrice) || !g.USDPrice.LastFetchedAt.Equal(w.USDPrice.LastFetchedAt) {
			t.Fatal("token price mismatch")
		}
		if g.Balance.Balance.Cmp(w.Balance.Balance) != 0 {
			t.Fatalf("balance mismatch: want %s got %s", w.Balance.Balance, g.Balance.Balance)
		}
	case domain.AssetKindGadget:
		if !equalStringPtr(got.Kind.Gadget.ArticleType, want.Kind.Gadget.ArticleType) {
			t.Fatal("article type mismatch")
		}
	case domain.AssetKindJackpot:
		w, g := want.Kind.Jackpot.ComponentAssetIDs, got.Kind.Jackpot.ComponentAssetIDs
		if len(w) != len(g) {
			t.Fatalf("expected %d components, got %d", len(w), len(g))
		}
		for i := range w {
			if w[i] != g[i] {
				t.Fatalf("component %d mismatch", i)
			}
		}
	}
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func TestAssetCodec_UpgradesV1(t *testing.T) {
	asset := sampleTokenAsset()
	kind, err := newAssetKindRecord(asset.Kind)
	if err != nil {
		t.Fatalf("kind record: %v", err)
	}
	legacy := assetRecordV1{
		Name:           asset.Name,
		Kind:           kind,
		TotalAmount:    asset.TotalAmount,
		UsedAmount:     asset.UsedAmount,
		State:          uint8(asset.State),
		WheelImagePath: asset.WheelImagePath,
		CreatedAt:      asset.CreatedAt.UnixNano(),
		UpdatedAt:      asset.UpdatedAt.UnixNano(),
	}
	data, err := encodeVersioned(assetVersionV1, &legacy)
	if err != nil {
		t.Fatalf("encode v1: %v", err)
	}

	decoded, err := decodeAsset(asset.ID, data)
	if err != nil {
		t.Fatalf("decode v1: %v", err)
	}
	asset.UISettings = domain.DefaultUISettings()
	assertAssetsEqual(t, asset, *decoded)
}

func TestAssetCodec_RejectsGarbage(t *testing.T) {
	if _, err := decodeAsset(uuid.New(), nil); err == nil {
		t.Fatal("expected empty record to fail")
	}
	if _, err := decodeAsset(uuid.New(), []byte{assetVersionV2, 0x78, 0x10}); err == nil {
		t.Fatal("expected corrupt record to fail")
	}
}

func TestExtractionCodec_RoundTrip(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	assetID := uuid.New()
	usd := decimal.RequireFromString("2.25")

	completed := domain.Extraction{
		ID:                uuid.Must(uuid.NewV7()),
		ClaimantPrincipal: "rrkah-fqaaa-aaaaa-aaaaq-cai",
		IssuedByUserID:    uuid.New(),
		State:             domain.ExtractionStateCompleted,
		AwardedAssetID:    &assetID,
		AwardedUSDAmount:  &usd,
		CreatedAt:         now,
		UpdatedAt:         now.Add(time.Second),
	}
	failed := completed
	failed.State = domain.ExtractionStateFailed
	failed.AwardedUSDAmount = nil
	failed.Failure = &domain.FailureReason{Code: "EXTERNAL", Message: "ledger rejected transfer"}
	processing := completed
	processing.State = domain.ExtractionStateProcessing
	processing.AwardedAssetID = nil
	processing.AwardedUSDAmount = nil

	for _, extraction := range []domain.Extraction{completed, failed, processing} {
		t.Run(extraction.State.String(), func(t *testing.T) {
			data, err := encodeExtraction(&extraction)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			decoded, err := decodeExtraction(extraction.ID, data)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			assertExtractionsEqual(t, extraction, *decoded)
		})
	}
}

func assertExtractionsEqual(t *testing.T, want, got domain.Extraction) {
	t.Helper()
	if got.ID != want.ID || got.ClaimantPrincipal != want.ClaimantPrincipal ||
		got.IssuedByUserID != want.IssuedByUserID || got.State != want.State {
		t.Fatalf("extraction mismatch:\nwant %+v\n got %+v", want, got)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) || !got.UpdatedAt.Equal(want.UpdatedAt) {
		t.Fatal("timestamps mismatch")
	}
	if (got.AwardedAssetID == nil) != (want.AwardedAssetID == nil) ||
		(want.AwardedAssetID != nil && *got.AwardedAssetID != *want.AwardedAssetID) {
		t.Fatalf("awarded asset mismatch: want %v got %v", want.AwardedAssetID, got.AwardedAssetID)
	}
	if (got.AwardedUSDAmount == nil) != (want.AwardedUSDAmount == nil) ||
		(want.AwardedUSDAmount != nil && !got.AwardedUSDAmount.Equal(*want.AwardedUSDAmount)) {
		t.Fatal("usd amount mismatch")
	}
	if (got.Failure == nil) != (want.Failure == nil) || (want.Failure != nil && *got.Failure != *want.Failure) {
		t.Fatalf("failure mismatch: want %+v got %+v", want.Failure, got.Failure)
	}
}

func TestExtractionCodec_UpgradesV1(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	id := uuid.Must(uuid.NewV7())
	issuer := uuid.New()
	assetID := uuid.New()
	usd := "1"

	tests := []struct {
		name   string
		legacy extractionRecordV1
		want   domain.Extraction
	}{
		{
			name: "completed",
			legacy: extractionRecordV1{
				ClaimantPrincipal: "p1",
				IssuedByUserID:    idKey(issuer),
				State:             uint8(domain.ExtractionStateCompleted),
				Completed:         &completedRecordV1{AssetID: idKey(assetID), PrizeUSDAmount: &usd},
				CreatedAt:         now.UnixNano(),
				UpdatedAt:         now.UnixNano(),
			},
			want: domain.Extraction{
				ID:                id,
				ClaimantPrincipal: "p1",
				IssuedByUserID:    issuer,
				State:             domain.ExtractionStateCompleted,
				AwardedAssetID:    &assetID,
				AwardedUSDAmount:  func() *decimal.Decimal { d := decimal.NewFromInt(1); return &d }(),
				CreatedAt:         now,
				UpdatedAt:         now,
			},
		},
		{
			name: "failed",
			legacy: extractionRecordV1{
				ClaimantPrincipal: "p2",
				IssuedByUserID:    idKey(issuer),
				State:             uint8(domain.ExtractionStateFailed),
				Failed:            &failedRecordV1{Error: "transfer failed"},
				CreatedAt:         now.UnixNano(),
				UpdatedAt:         now.UnixNano(),
			},
			want: domain.Extraction{
				ID:                id,
				ClaimantPrincipal: "p2",
				IssuedByUserID:    issuer,
				State:             domain.ExtractionStateFailed,
				Failure:           &domain.FailureReason{Code: legacyFailureCode, Message: "transfer failed"},
				CreatedAt:         now,
				UpdatedAt:         now,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := encodeVersioned(extractionVersionV1, &tt.legacy)
			if err != nil {
				t.Fatalf("encode v1: %v", err)
			}
			decoded, err := decodeExtraction(id, data)
			if err != nil {
				t.Fatalf("decode v1: %v", err)
			}
			assertExtractionsEqual(t, tt.want, *decoded)
		})
	}
}
