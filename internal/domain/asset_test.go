package domain

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func tokenAsset(balance int64, decimals uint8, price string, prize string, total, used uint32) Asset {
	now := time.Now()
	details := TokenDetails{
		Ledger:         LedgerConfig{LedgerID: "ryjl3-tyaaa-aaaaa-aaaba-cai", Decimals: decimals},
		PrizeUSDAmount: decimal.RequireFromString(prize),
		Balance:        &TokenBalance{Balance: big.NewInt(balance), LastFetchedAt: now},
	}
	if price != "" {
		details.USDPrice = &TokenPrice{USDPrice: decimal.RequireFromString(price), LastFetchedAt: now}
	}
	return Asset{
		Name:        "token",
		Kind:        TokenKind(details),
		TotalAmount: total,
		UsedAmount:  used,
		State:       AssetStateEnabled,
		UISettings:  DefaultUISettings(),
	}
}

func TestTokenDetails_AvailableDraws(t *testing.T) {
	tests := []struct {
		name     string
		balance  int64
		decimals uint8
		price    string
		prize    string
		want     uint32
	}{
		{"one token below two dollars", 100_000_000, 8, "1.9", "1.0", 1},
		{"one token at two and a half dollars", 100_000_000, 8, "2.5", "1.0", 2},
		{"a tenth of a token", 10_000_000, 8, "1.0", "1.0", 0},
		{"ten tokens with ten dollar prize", 1_000_000_000, 8, "10.1", "10", 10},
		{"half dollar prize", 100_000_000, 8, "1.3", "0.5", 2},
		{"six decimals", 200_000_000, 6, "1", "1", 200},
		{"two dollar price", 100_000_000, 8, "2.0", "1.0", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			asset := tokenAsset(tt.balance, tt.decimals, tt.price, tt.prize, 1000, 0)
			if got := asset.Kind.Token.AvailableDraws(); got != tt.want {
				t.Fatalf("expected %d draws, got %d", tt.want, got)
			}
		})
	}
}

func TestTokenDetails_AvailableDrawsWithoutPriceOrBalance(t *testing.T) {
	asset := tokenAsset(100_000_000, 8, "", "1", 10, 0)
	if got := asset.Kind.Token.AvailableDraws(); got != 0 {
		t.Fatalf("expected 0 draws without price, got %d", got)
	}

	asset = tokenAsset(100_000_000, 8, "1", "1", 10, 0)
	asset.Kind.Token.Balance = nil
	if got := asset.Kind.Token.AvailableDraws(); got != 0 {
		t.Fatalf("expected 0 draws without balance, got %d", got)
	}
}

func TestAsset_AvailableQuantity(t *testing.T) {
	tests := []struct {
		name        string
		draws       int64
		total, used uint32
		want        uint32
	}{
		{"draws below remaining", 1, 10, 0, 1},
		{"no total", 100, 0, 0, 0},
		{"remaining below draws", 10, 20, 11, 9},
		{"draws equal cap", 10, 20, 9, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// one base unit per draw at price 1 and prize 1 with zero decimals
			asset := tokenAsset(tt.draws, 0, "1", "1", tt.total, tt.used)
			got := asset.AvailableQuantity()
			if got != tt.want {
				t.Fatalf("expected available %d, got %d", tt.want, got)
			}
			if got > tt.total-tt.used {
				t.Fatalf("available %d exceeds remaining %d", got, tt.total-tt.used)
			}
		})
	}
}

func TestAsset_AvailableQuantityForGadgetAndJackpot(t *testing.T) {
	gadget := Asset{Kind: GadgetKind(nil), TotalAmount: 5, UsedAmount: 2}
	if got := gadget.AvailableQuantity(); got != 3 {
		t.Fatalf("expected gadget availability 3, got %d", got)
	}

	jackpot := Asset{Kind: JackpotKind([]uuid.UUID{uuid.New(), uuid.New()}), TotalAmount: 1, UsedAmount: 1}
	if got := jackpot.AvailableQuantity(); got != 0 {
		t.Fatalf("expected jackpot availability 0, got %d", got)
	}
}

func TestAsset_UseOne(t *testing.T) {
	asset := Asset{Kind: GadgetKind(nil), TotalAmount: 1}
	if err := asset.UseOne(); err != nil {
		t.Fatalf("expected first use to succeed, got %v", err)
	}
	if asset.UsedAmount != 1 {
		t.Fatalf("expected used amount 1, got %d", asset.UsedAmount)
	}

	err := asset.UseOne()
	if !errors.Is(err, ErrOutOfStock) {
		t.Fatalf("expected out of stock, got %v", err)
	}
	if asset.UsedAmount != 1 {
		t.Fatalf("expected used amount to stay 1, got %d", asset.UsedAmount)
	}
}

func TestTokenDetails_PrizeTokenAmount(t *testing.T) {
	asset := tokenAsset(0, 8, "2.0", "1.0", 1, 0)
	amount, err := asset.Kind.Token.PrizeTokenAmount()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if amount.Cmp(big.NewInt(50_000_000)) != 0 {
		t.Fatalf("expected 50000000 base units, got %s", amount)
	}

	asset = tokenAsset(0, 8, "3", "1", 1, 0)
	amount, err = asset.Kind.Token.PrizeTokenAmount()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if amount.Cmp(big.NewInt(33_333_333)) != 0 {
		t.Fatalf("expected floor to 33333333, got %s", amount)
	}

	asset = tokenAsset(0, 8, "", "1", 1, 0)
	if _, err := asset.Kind.Token.PrizeTokenAmount(); !errors.Is(err, ErrInternal) {
		t.Fatalf("expected internal error without price, got %v", err)
	}
}

func TestAsset_Validate(t *testing.T) {
	valid := tokenAsset(0, 8, "1", "1", 1, 0)
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid token asset, got %v", err)
	}

	a, b := uuid.New(), uuid.New()
	tests := []struct {
		name   string
		mutate func(*Asset)
	}{
		{"empty name", func(a *Asset) { a.Name = "  " }},
		{"used above total", func(a *Asset) { a.UsedAmount = 2 }},
		{"bad color", func(a *Asset) { a.UISettings.BackgroundColorHex = "blue" }},
		{"zero prize", func(a *Asset) { a.Kind.Token.PrizeUSDAmount = decimal.Zero }},
		{"prize too large", func(a *Asset) { a.Kind.Token.PrizeUSDAmount = decimal.NewFromInt(1_000_001) }},
		{"missing ledger", func(a *Asset) { a.Kind.Token.Ledger.LedgerID = "" }},
		{"jackpot with one component", func(asset *Asset) { asset.Kind = JackpotKind([]uuid.UUID{a}) }},
		{"jackpot with duplicates", func(asset *Asset) { asset.Kind = JackpotKind([]uuid.UUID{a, b, a}) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			asset := tokenAsset(0, 8, "1", "1", 1, 0)
			tt.mutate(&asset)
			if err := asset.Validate(); !errors.Is(err, ErrInvalidArgument) {
				t.Fatalf("expected invalid argument, got %v", err)
			}
		})
	}
}

func TestDefaultTokenAssets(t *testing.T) {
	assets := DefaultTokenAssets(time.Now())
	if len(assets) != 4 {
		t.Fatalf("expected 4 default assets, got %d", len(assets))
	}
	for _, asset := range assets {
		if err := asset.Validate(); err != nil {
			t.Fatalf("default asset %s invalid: %v", asset.Name, err)
		}
	}
	usdc := assets[3]
	if usdc.Kind.Token.ShouldFetchUSDPrice() {
		t.Fatal("expected ckUSDC to skip price fetching")
	}
	if usdc.Kind.Token.USDPrice == nil || !usdc.Kind.Token.USDPrice.USDPrice.Equal(decimal.NewFromInt(1)) {
		t.Fatal("expected ckUSDC default price of 1")
	}
}
