package app

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ilbertt/ic-fortune-wheel/internal/domain"
)

// CreateAsset validates and stores a new asset. Token assets are refreshed before
// returning so their availability is known right away.
func (s *Service) CreateAsset(ctx context.Context, caller string, req domain.CreateAssetRequest) (*domain.AssetView, error) {
	if _, err := s.access.AssertAdmin(ctx, caller); err != nil {
		return nil, err
	}

	asset, err := s.newAsset(req)
	if err != nil {
		return nil, err
	}
	if asset.Kind.Tag == domain.AssetKindJackpot {
		if err := s.validateJackpotComponents(ctx, uuid.Nil, asset.Kind.Jackpot.ComponentAssetIDs); err != nil {
			return nil, err
		}
	}
	if err := asset.Validate(); err != nil {
		return nil, err
	}

	created, err := s.assets.Create(ctx, *asset)
	if err != nil {
		return nil, err
	}
	log.Printf("level=info component=assets msg=\"asset created\" asset_id=%s kind=%s name=%q", created.ID, created.Kind.Tag, created.Name)

	if created.IsToken() && s.refresher != nil {
		if err := s.refresher.RefreshAsset(ctx, created.ID); err != nil {
			log.Printf("level=warn component=assets msg=\"initial token refresh failed\" asset_id=%s err=%v", created.ID, err)
		} else if refreshed, err := s.assets.Get(ctx, created.ID); err == nil {
			created = refreshed
		}
	}

	view := domain.NewAssetView(*created)
	return &view, nil
}

func (s *Service) newAsset(req domain.CreateAssetRequest) (*domain.Asset, error) {
	asset := &domain.Asset{
		Name:           strings.TrimSpace(req.Name),
		TotalAmount:    req.TotalAmount,
		State:          domain.AssetStateEnabled,
		WheelImagePath: req.WheelImagePath,
		ModalImagePath: req.ModalImagePath,
		UISettings:     domain.DefaultUISettings(),
	}
	if req.State != nil {
		asset.State = *req.State
	}
	if req.UISettings != nil {
		asset.UISettings = *req.UISettings
	}

	config := req.TypeConfig
	switch config.Type {
	case domain.AssetKindToken:
		if config.LedgerConfig == nil {
			return nil, domain.InvalidArgument("Ledger config is required for token assets")
		}
		if config.PrizeUSDAmount == nil {
			return nil, domain.InvalidArgument("Prize USD amount is required for token assets")
		}
		details := domain.TokenDetails{
			Ledger:         *config.LedgerConfig,
			PrizeUSDAmount: *config.PrizeUSDAmount,
		}
		if config.ExchangeRateSymbol != nil {
			details.ExchangeRateSymbol = strings.TrimSpace(*config.ExchangeRateSymbol)
		}
		if !details.ShouldFetchUSDPrice() {
			details.USDPrice = domain.DefaultTokenPrice(s.now())
		}
		asset.Kind = domain.TokenKind(details)
	case domain.AssetKindGadget:
		asset.Kind = domain.GadgetKind(config.ArticleType)
	case domain.AssetKindJackpot:
		asset.Kind = domain.JackpotKind(config.ComponentAssetIDs)
	default:
		return nil, domain.InvalidArgument("Invalid asset type %d", uint8(config.Type))
	}
	return asset, nil
}

// validateJackpotComponents checks that every component exists and is a token asset.
func (s *Service) validateJackpotComponents(ctx context.Context, jackpotID uuid.UUID, ids []uuid.UUID) error {
	if err := domain.ValidateJackpotComponents(jackpotID, ids); err != nil {
		return err
	}
	for _, id := range ids {
		component, err := s.assets.Get(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.InvalidArgument("Jackpot component %s does not exist", id)
			}
			return err
		}
		if !component.IsToken() {
			return domain.InvalidArgument("Jackpot component %s is not a token asset", id)
		}
	}
	return nil
}

// UpdateAsset applies the non-nil fields of req.
func (s *Service) UpdateAsset(ctx context.Context, caller string, id uuid.UUID, req domain.UpdateAssetRequest) (*domain.AssetView, error) {
	if _, err := s.access.AssertAdmin(ctx, caller); err != nil {
		return nil, err
	}

	// Components are checked outside Modify, which holds the ledger lock.
	if req.ComponentAssetIDs != nil {
		if err := s.validateJackpotComponents(ctx, id, req.ComponentAssetIDs); err != nil {
			return nil, err
		}
	}

	var refreshToken bool
	now := s.now()
	updated, err := s.assets.Modify(ctx, id, func(asset *domain.Asset) error {
		var err error
		refreshToken, err = applyAssetUpdate(asset, req, now)
		if err != nil {
			return err
		}
		return asset.Validate()
	})
	if err != nil {
		return nil, err
	}
	log.Printf("level=info component=assets msg=\"asset updated\" asset_id=%s state=%s", updated.ID, updated.State)

	if refreshToken && s.refresher != nil {
		s.refresher.Trigger(&updated.ID)
	}
	view := domain.NewAssetView(*updated)
	return &view, nil
}

// applyAssetUpdate reports whether the token's price or balance source changed.
func applyAssetUpdate(asset *domain.Asset, req domain.UpdateAssetRequest, now time.Time) (bool, error) {
	if req.Name != nil {
		asset.Name = strings.TrimSpace(*req.Name)
	}
	if req.TotalAmount != nil {
		asset.TotalAmount = *req.TotalAmount
	}
	if req.State != nil {
		asset.State = *req.State
	}
	if req.WheelImagePath != nil {
		asset.WheelImagePath = req.WheelImagePath
	}
	if req.ModalImagePath != nil {
		asset.ModalImagePath = req.ModalImagePath
	}
	if req.UISettings != nil {
		asset.UISettings = *req.UISettings
	}

	tokenFields := req.PrizeUSDAmount != nil || req.ExchangeRateSymbol != nil || req.LedgerConfig != nil
	if tokenFields && !asset.IsToken() {
		return false, domain.InvalidArgument("Token fields cannot be set on a %s asset", asset.Kind.Tag)
	}
	if req.ArticleType != nil && asset.Kind.Tag != domain.AssetKindGadget {
		return false, domain.InvalidArgument("Article type cannot be set on a %s asset", asset.Kind.Tag)
	}
	if req.ComponentAssetIDs != nil && asset.Kind.Tag != domain.AssetKindJackpot {
		return false, domain.InvalidArgument("Jackpot components cannot be set on a %s asset", asset.Kind.Tag)
	}

	var refresh bool
	switch asset.Kind.Tag {
	case domain.AssetKindToken:
		token := asset.Kind.Token
		if req.PrizeUSDAmount != nil {
			token.PrizeUSDAmount = *req.PrizeUSDAmount
		}
		if req.LedgerConfig != nil && *req.LedgerConfig != token.Ledger {
			token.Ledger = *req.LedgerConfig
			token.Balance = nil
			refresh = true
		}
		if req.ExchangeRateSymbol != nil {
			symbol := strings.TrimSpace(*req.ExchangeRateSymbol)
			if symbol != token.ExchangeRateSymbol {
				token.ExchangeRateSymbol = symbol
				token.USDPrice = nil
				if !token.ShouldFetchUSDPrice() {
					token.USDPrice = domain.DefaultTokenPrice(now)
				}
				refresh = true
			}
		}
	case domain.AssetKindGadget:
		if req.ArticleType != nil {
			articleType := strings.TrimSpace(*req.ArticleType)
			asset.Kind.Gadget = &domain.GadgetDetails{ArticleType: &articleType}
		}
	case domain.AssetKindJackpot:
		if req.ComponentAssetIDs != nil {
			asset.Kind.Jackpot = &domain.JackpotDetails{ComponentAssetIDs: req.ComponentAssetIDs}
		}
	}
	return refresh, nil
}

// DeleteAsset removes a disabled gadget or jackpot. Token assets keep their record so
// the ledger balance stays accounted for.
func (s *Service) DeleteAsset(ctx context.Context, caller string, id uuid.UUID) error {
	if _, err := s.access.AssertAdmin(ctx, caller); err != nil {
		return err
	}
	asset, err := s.assets.Get(ctx, id)
	if err != nil {
		return err
	}
	if asset.IsToken() {
		return domain.InvalidArgument("Token assets cannot be deleted, disable them instead")
	}
	if asset.IsEnabled() {
		return domain.InvalidArgument("Asset %s must be disabled before it can be deleted", id)
	}
	if err := s.assets.Delete(ctx, id); err != nil {
		return err
	}
	log.Printf("level=info component=assets msg=\"asset deleted\" asset_id=%s", id)
	return nil
}

// ListAssets lists assets, optionally by state. Only enabled assets are public.
func (s *Service) ListAssets(ctx context.Context, caller string, state *domain.AssetState) ([]domain.AssetView, error) {
	if state == nil || *state != domain.AssetStateEnabled {
		if _, err := s.access.AssertAdminOrScanner(ctx, caller); err != nil {
			return nil, err
		}
	}

	var (
		assets []domain.Asset
		err    error
	)
	if state != nil {
		assets, err = s.assets.ListByState(ctx, *state)
	} else {
		assets, err = s.assets.ListAll(ctx)
	}
	if err != nil {
		return nil, err
	}
	return assetViews(assets), nil
}

// ListAssetsByKind lists the assets of one kind.
func (s *Service) ListAssetsByKind(ctx context.Context, caller string, kind domain.AssetKindTag) ([]domain.AssetView, error) {
	if _, err := s.access.AssertAdminOrScanner(ctx, caller); err != nil {
		return nil, err
	}
	assets, err := s.assets.ListByKind(ctx, kind)
	if err != nil {
		return nil, err
	}
	return assetViews(assets), nil
}

func assetViews(assets []domain.Asset) []domain.AssetView {
	views := make([]domain.AssetView, 0, len(assets))
	for _, asset := range assets {
		views = append(views, domain.NewAssetView(asset))
	}
	return views
}

func (s *Service) GetAsset(ctx context.Context, caller string, id uuid.UUID) (*domain.AssetView, error) {
	if _, err := s.access.AssertAdminOrScanner(ctx, caller); err != nil {
		return nil, err
	}
	asset, err := s.assets.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	view := domain.NewAssetView(*asset)
	return &view, nil
}

// SetDefaultAssets seeds the default token assets into an empty ledger.
func (s *Service) SetDefaultAssets(ctx context.Context, caller string) ([]domain.AssetView, error) {
	if _, err := s.access.AssertAdmin(ctx, caller); err != nil {
		return nil, err
	}

	s.seedMu.Lock()
	defer s.seedMu.Unlock()

	existing, err := s.assets.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, domain.Conflict("Default assets can only be set on an empty wheel")
	}

	defaults := domain.DefaultTokenAssets(s.now())
	views := make([]domain.AssetView, 0, len(defaults))
	for _, asset := range defaults {
		created, err := s.assets.Create(ctx, asset)
		if err != nil {
			return nil, err
		}
		views = append(views, domain.NewAssetView(*created))
	}
	log.Printf("level=info component=assets msg=\"default assets created\" count=%d", len(views))

	if s.refresher != nil {
		s.refresher.Trigger(nil)
	}
	return views, nil
}

// ListWheelPrizes returns the enabled assets in display order.
func (s *Service) ListWheelPrizes(ctx context.Context) ([]domain.WheelPrize, error) {
	order, err := s.assets.DisplayOrder(ctx)
	if err != nil {
		return nil, err
	}
	prizes := make([]domain.WheelPrize, 0, len(order))
	for _, id := range order {
		asset, err := s.assets.Get(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				log.Printf("level=warn component=assets msg=\"display order references missing asset\" asset_id=%s", id)
				continue
			}
			return nil, err
		}
		if !asset.IsEnabled() {
			continue
		}
		prizes = append(prizes, domain.NewWheelPrize(*asset))
	}
	return prizes, nil
}

func (s *Service) UpdatePrizesOrder(ctx context.Context, caller string, req domain.UpdatePrizesOrderRequest) error {
	if _, err := s.access.AssertAdminOrScanner(ctx, caller); err != nil {
		return err
	}
	return s.assets.SetDisplayOrder(ctx, req.AssetIDs)
}

// RefreshTokens refreshes every token asset and waits for the fetches to finish.
func (s *Service) RefreshTokens(ctx context.Context, caller string) error {
	if _, err := s.access.AssertAdmin(ctx, caller); err != nil {
		return err
	}
	if s.refresher == nil {
		return domain.Internal("token refresher is not configured")
	}
	return s.refresher.RefreshAll(ctx)
}
