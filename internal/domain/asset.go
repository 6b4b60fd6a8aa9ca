/**
 * @description
 * Wheel asset models. An asset is one prize slot on the wheel: a fungible token paid out
 * through a ledger, a physical gadget, or a jackpot made of several token assets.
 *
 * @dependencies
 * - github.com/shopspring/decimal: exact USD and token arithmetic.
 * - github.com/google/uuid: time-ordered asset ids.
 */

package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	DefaultBackgroundColorHex = "#29ABE2"
	MaxAssetNameLength        = 100
	MaxTokenDecimals          = 36
	MinJackpotComponents      = 2
	MaxJackpotComponents      = 4
)

var (
	maxPrizeUSDAmount = decimal.NewFromInt(1_000_000)
	maxUint32Decimal  = decimal.NewFromInt(math.MaxUint32)
	hexColorPattern   = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)
)

// AssetState is the lifecycle state of an asset. Values are persisted as index discriminants.
type AssetState uint8

const (
	AssetStateEnabled  AssetState = 1
	AssetStateDisabled AssetState = 2
)

func (s AssetState) String() string {
	switch s {
	case AssetStateEnabled:
		return "enabled"
	case AssetStateDisabled:
		return "disabled"
	default:
		return fmt.Sprintf("asset_state(%d)", uint8(s))
	}
}

func (s AssetState) Valid() bool {
	return s == AssetStateEnabled || s == AssetStateDisabled
}

func (s AssetState) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid asset state %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *AssetState) UnmarshalText(text []byte) error {
	parsed, err := ParseAssetState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseAssetState parses "enabled" or "disabled".
func ParseAssetState(value string) (AssetState, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "enabled":
		return AssetStateEnabled, nil
	case "disabled":
		return AssetStateDisabled, nil
	default:
		return 0, InvalidArgument("invalid asset state %q", value)
	}
}

// AssetKindTag identifies the variant held by an AssetKind.
type AssetKindTag uint8

const (
	AssetKindToken   AssetKindTag = 1
	AssetKindGadget  AssetKindTag = 2
	AssetKindJackpot AssetKindTag = 3
)

func (t AssetKindTag) String() string {
	switch t {
	case AssetKindToken:
		return "token"
	case AssetKindGadget:
		return "gadget"
	case AssetKindJackpot:
		return "jackpot"
	default:
		return fmt.Sprintf("asset_kind(%d)", uint8(t))
	}
}

func (t AssetKindTag) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *AssetKindTag) UnmarshalText(text []byte) error {
	parsed, err := ParseAssetKindTag(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func ParseAssetKindTag(value string) (AssetKindTag, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "token":
		return AssetKindToken, nil
	case "gadget":
		return AssetKindGadget, nil
	case "jackpot":
		return AssetKindJackpot, nil
	default:
		return 0, InvalidArgument("invalid asset type %q", value)
	}
}

// LedgerConfig points a token asset at the ledger that holds its balance.
type LedgerConfig struct {
	LedgerID string `json:"ledger_id"`
	Decimals uint8  `json:"decimals"`
}

// TokenPrice is the last fetched USD price of one whole token.
type TokenPrice struct {
	USDPrice      decimal.Decimal `json:"usd_price"`
	LastFetchedAt time.Time       `json:"last_fetched_at"`
}

// DefaultTokenPrice is used for tokens without an exchange symbol (stable coins).
func DefaultTokenPrice(now time.Time) *TokenPrice {
	return &TokenPrice{USDPrice: decimal.NewFromInt(1), LastFetchedAt: now}
}

// NewTokenPriceFromRate converts an exchange rate with the given number of decimals.
func NewTokenPriceFromRate(rate uint64, decimals uint32, now time.Time) *TokenPrice {
	value := decimal.NewFromBigInt(new(big.Int).SetUint64(rate), -int32(decimals))
	return &TokenPrice{USDPrice: value, LastFetchedAt: now}
}

// TokenBalance is the last fetched ledger balance, in base units.
type TokenBalance struct {
	Balance       *big.Int  `json:"balance"`
	LastFetchedAt time.Time `json:"last_fetched_at"`
}

type TokenDetails struct {
	Ledger             LedgerConfig    `json:"ledger_config"`
	ExchangeRateSymbol string          `json:"exchange_rate_symbol,omitempty"`
	USDPrice           *TokenPrice     `json:"usd_price,omitempty"`
	Balance            *TokenBalance   `json:"balance,omitempty"`
	PrizeUSDAmount     decimal.Decimal `json:"prize_usd_amount"`
}

// ShouldFetchUSDPrice reports whether the price comes from the exchange-rate service.
func (t *TokenDetails) ShouldFetchUSDPrice() bool {
	return strings.TrimSpace(t.ExchangeRateSymbol) != ""
}

// AvailableDraws is floor(balance / 10^decimals * price / prize), or 0 when price or
// balance are unknown.
func (t *TokenDetails) AvailableDraws() uint32 {
	if t.USDPrice == nil || t.Balance == nil || t.Balance.Balance == nil {
		return 0
	}
	if !t.PrizeUSDAmount.IsPositive() {
		return 0
	}

	tokenBalance := decimal.NewFromBigInt(t.Balance.Balance, -int32(t.Ledger.Decimals))
	usdValue := tokenBalance.Mul(t.USDPrice.USDPrice)
	draws, _ := usdValue.QuoRem(t.PrizeUSDAmount, 0)
	if draws.Sign() <= 0 {
		return 0
	}
	if draws.GreaterThan(maxUint32Decimal) {
		return math.MaxUint32
	}
	return uint32(draws.IntPart())
}

// PrizeTokenAmount is floor(prize / price * 10^decimals) in ledger base units.
func (t *TokenDetails) PrizeTokenAmount() (*big.Int, error) {
	if t.USDPrice == nil || !t.USDPrice.USDPrice.IsPositive() {
		return nil, Internal("usd price is not available for ledger %s", t.Ledger.LedgerID)
	}
	scaled := t.PrizeUSDAmount.Shift(int32(t.Ledger.Decimals))
	amount, _ := scaled.QuoRem(t.USDPrice.USDPrice, 0)
	return amount.BigInt(), nil
}

type GadgetDetails struct {
	ArticleType *string `json:"article_type,omitempty"`
}

type JackpotDetails struct {
	ComponentAssetIDs []uuid.UUID `json:"wheel_asset_ids"`
}

// AssetKind is a closed variant: exactly the field matching Tag is set.
type AssetKind struct {
	Tag     AssetKindTag
	Token   *TokenDetails
	Gadget  *GadgetDetails
	Jackpot *JackpotDetails
}

func TokenKind(details TokenDetails) AssetKind {
	return AssetKind{Tag: AssetKindToken, Token: &details}
}

func GadgetKind(articleType *string) AssetKind {
	return AssetKind{Tag: AssetKindGadget, Gadget: &GadgetDetails{ArticleType: articleType}}
}

func JackpotKind(componentIDs []uuid.UUID) AssetKind {
	return AssetKind{Tag: AssetKindJackpot, Jackpot: &JackpotDetails{ComponentAssetIDs: componentIDs}}
}

func (k AssetKind) MarshalJSON() ([]byte, error) {
	switch k.Tag {
	case AssetKindToken:
		details := k.Token
		if details == nil {
			details = &TokenDetails{}
		}
		return json.Marshal(struct {
			Type AssetKindTag `json:"type"`
			*TokenDetails
			AvailableDrawsCount uint32 `json:"available_draws_count"`
		}{k.Tag, details, details.AvailableDraws()})
	case AssetKindGadget:
		details := k.Gadget
		if details == nil {
			details = &GadgetDetails{}
		}
		return json.Marshal(struct {
			Type AssetKindTag `json:"type"`
			*GadgetDetails
		}{k.Tag, details})
	case AssetKindJackpot:
		details := k.Jackpot
		if details == nil {
			details = &JackpotDetails{}
		}
		return json.Marshal(struct {
			Type AssetKindTag `json:"type"`
			*JackpotDetails
		}{k.Tag, details})
	default:
		return nil, fmt.Errorf("cannot marshal %s", k.Tag)
	}
}

type UISettings struct {
	BackgroundColorHex string `json:"background_color_hex"`
}

func DefaultUISettings() UISettings {
	return UISettings{BackgroundColorHex: DefaultBackgroundColorHex}
}

// Asset is one prize slot on the wheel.
type Asset struct {
	ID             uuid.UUID  `json:"id"`
	Name           string     `json:"name"`
	Kind           AssetKind  `json:"asset_type"`
	TotalAmount    uint32     `json:"total_amount"`
	UsedAmount     uint32     `json:"used_amount"`
	State          AssetState `json:"state"`
	WheelImagePath *string    `json:"wheel_image_path,omitempty"`
	ModalImagePath *string    `json:"modal_image_path,omitempty"`
	UISettings     UISettings `json:"wheel_ui_settings"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (a *Asset) IsToken() bool {
	return a.Kind.Tag == AssetKindToken
}

func (a *Asset) IsEnabled() bool {
	return a.State == AssetStateEnabled
}

// AvailableQuantity is total minus used, further capped by the draws the current
// balance can cover for token assets.
func (a *Asset) AvailableQuantity() uint32 {
	var remaining uint32
	if a.TotalAmount > a.UsedAmount {
		remaining = a.TotalAmount - a.UsedAmount
	}
	if a.Kind.Tag != AssetKindToken {
		return remaining
	}

	var draws uint32
	if a.Kind.Token != nil {
		draws = a.Kind.Token.AvailableDraws()
	}
	if draws < remaining {
		return draws
	}
	return remaining
}

// UseOne consumes one unit of the asset.
func (a *Asset) UseOne() error {
	if a.AvailableQuantity() == 0 {
		return OutOfStock("Asset available quantity is 0")
	}
	a.UsedAmount++
	return nil
}

// PrizeUSDAmount is set for token assets only; jackpots are priced from their components.
func (a *Asset) PrizeUSDAmount() *decimal.Decimal {
	if a.Kind.Tag != AssetKindToken || a.Kind.Token == nil {
		return nil
	}
	amount := a.Kind.Token.PrizeUSDAmount
	return &amount
}

// Validate checks the field bounds of a single asset. Cross-asset rules (jackpot
// components must exist and be tokens) are checked by the service.
func (a *Asset) Validate() error {
	name := strings.TrimSpace(a.Name)
	nameLength := utf8.RuneCountInString(name)
	if nameLength == 0 {
		return InvalidArgument("Name cannot be empty")
	}
	if nameLength > MaxAssetNameLength {
		return InvalidArgument("Name cannot be longer than %d characters", MaxAssetNameLength)
	}
	if a.UsedAmount > a.TotalAmount {
		return InvalidArgument("Total amount (%d) cannot be lower than used amount (%d)", a.TotalAmount, a.UsedAmount)
	}
	if !a.State.Valid() {
		return InvalidArgument("Invalid asset state %d", uint8(a.State))
	}
	if !hexColorPattern.MatchString(a.UISettings.BackgroundColorHex) {
		return InvalidArgument("Invalid background color %q", a.UISettings.BackgroundColorHex)
	}

	switch a.Kind.Tag {
	case AssetKindToken:
		return validateTokenDetails(a.Kind.Token)
	case AssetKindGadget:
		if a.Kind.Gadget == nil {
			a.Kind.Gadget = &GadgetDetails{}
		}
		return nil
	case AssetKindJackpot:
		if a.Kind.Jackpot == nil {
			return InvalidArgument("Jackpot components are required")
		}
		return ValidateJackpotComponents(a.ID, a.Kind.Jackpot.ComponentAssetIDs)
	default:
		return InvalidArgument("Invalid asset type %d", uint8(a.Kind.Tag))
	}
}

func validateTokenDetails(token *TokenDetails) error {
	if token == nil {
		return InvalidArgument("Token details are required")
	}
	if strings.TrimSpace(token.Ledger.LedgerID) == "" {
		return InvalidArgument("Ledger id cannot be empty")
	}
	if token.Ledger.Decimals > MaxTokenDecimals {
		return InvalidArgument("Token decimals cannot exceed %d", MaxTokenDecimals)
	}
	if err := ValidatePrizeUSDAmount(token.PrizeUSDAmount); err != nil {
		return err
	}
	if token.USDPrice != nil && !token.USDPrice.USDPrice.IsPositive() {
		return InvalidArgument("Token USD price must be greater than 0")
	}
	return nil
}

func ValidatePrizeUSDAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return InvalidArgument("Prize USD amount must be greater than 0")
	}
	if amount.GreaterThan(maxPrizeUSDAmount) {
		return InvalidArgument("Prize USD amount cannot exceed %s", maxPrizeUSDAmount.String())
	}
	return nil
}

// ValidateJackpotComponents checks count and uniqueness. A jackpot cannot contain itself.
func ValidateJackpotComponents(jackpotID uuid.UUID, ids []uuid.UUID) error {
	if len(ids) < MinJackpotComponents || len(ids) > MaxJackpotComponents {
		return InvalidArgument("Jackpot must have between %d and %d components, got %d", MinJackpotComponents, MaxJackpotComponents, len(ids))
	}
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if id == uuid.Nil || id == jackpotID {
			return InvalidArgument("Invalid jackpot component %s", id)
		}
		if _, dup := seen[id]; dup {
			return InvalidArgument("Duplicate jackpot component %s", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// DefaultTokenAssets is the seed set created by the default-assets operation.
func DefaultTokenAssets(now time.Time) []Asset {
	seed := []struct {
		name     string
		ledgerID string
		decimals uint8
		symbol   string
	}{
		{"ICP", "ryjl3-tyaaa-aaaaa-aaaba-cai", 8, "ICP"},
		{"ckBTC", "mxzaz-hqaaa-aaaar-qaada-cai", 8, "BTC"},
		{"ckETH", "ss2fx-dyaaa-aaaar-qacoq-cai", 18, "ETH"},
		{"ckUSDC", "xevnm-gaaaa-aaaar-qafnq-cai", 6, ""},
	}

	assets := make([]Asset, 0, len(seed))
	for _, item := range seed {
		details := TokenDetails{
			Ledger:             LedgerConfig{LedgerID: item.ledgerID, Decimals: item.decimals},
			ExchangeRateSymbol: item.symbol,
			PrizeUSDAmount:     decimal.NewFromInt(1),
		}
		if !details.ShouldFetchUSDPrice() {
			details.USDPrice = DefaultTokenPrice(now)
		}
		assets = append(assets, Asset{
			Name:       item.name,
			Kind:       TokenKind(details),
			State:      AssetStateEnabled,
			UISettings: DefaultUISettings(),
		})
	}
	return assets
}
