/**
 * @description
 * Core business logic of the wheel service. The `Service` struct runs the extraction
 * state machine and the asset management use cases, coordinating the asset and
 * extraction ledgers, the ledger payment API and the message broker.
 *
 * Key features:
 * - One active claim per claimant: the Processing record is written under claimMu before
 *   any external call is made.
 * - Uniform random draw over the enabled assets that still have stock.
 * - Every error after the Processing record exists is persisted as a Failed record.
 * - Terminal transitions are published to RabbitMQ, best effort.
 *
 * @dependencies
 * - github.com/google/uuid: record ids.
 * - github.com/shopspring/decimal: USD amounts.
 * - internal/domain, internal/store: domain models and ledgers.
 * - pkg/ledgerclient, pkg/priceclient, pkg/rabbitmq: external collaborators.
 */

package app

import (
	"context"
	"errors"
	"log"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ilbertt/ic-fortune-wheel/internal/domain"
	"github.com/ilbertt/ic-fortune-wheel/internal/store"
	"github.com/ilbertt/ic-fortune-wheel/pkg/ledgerclient"
	"github.com/ilbertt/ic-fortune-wheel/pkg/priceclient"
	"github.com/ilbertt/ic-fortune-wheel/pkg/rabbitmq"
	"github.com/shopspring/decimal"
)

const (
	DefaultExtractionCooldown = 10 * time.Minute
)

// PaymentGateway transfers tokens out of the service account.
type PaymentGateway interface {
	Transfer(ctx context.Context, ledgerID, to string, amount *big.Int, memo []byte) (*ledgerclient.TransferResponse, error)
}

// BalanceFetcher reads ledger balances.
type BalanceFetcher interface {
	BalanceOf(ctx context.Context, ledgerID, owner string) (*big.Int, error)
}

// PriceFetcher reads USD exchange rates.
type PriceFetcher interface {
	GetRate(ctx context.Context, symbol string) (*priceclient.Rate, error)
}

// ClaimRateLimiter reserves extraction quota for an issuing user.
type ClaimRateLimiter interface {
	ReserveClaim(ctx context.Context, issuer uuid.UUID, limit int) (ClaimQuota, error)
}

// Service provides the wheel business logic.
type Service struct {
	assets      store.AssetLedger
	extractions store.ExtractionLedger
	access      *AccessControl
	payments    PaymentGateway
	random      RandomSource
	events      rabbitmq.Publisher

	refresher        *TokenRefresher
	limiter          ClaimRateLimiter
	claimsPerMinute  int
	cooldown         time.Duration
	servicePrincipal string
	now              func() time.Time

	// claimMu serializes the claimant check with the creation of the Processing record,
	// and every terminal transition.
	claimMu sync.Mutex
	seedMu  sync.Mutex
}

func NewService(
	assets store.AssetLedger,
	extractions store.ExtractionLedger,
	access *AccessControl,
	payments PaymentGateway,
	random RandomSource,
	events rabbitmq.Publisher,
) *Service {
	if random == nil {
		random = CryptoRandom{}
	}
	return &Service{
		assets:      assets,
		extractions: extractions,
		access:      access,
		payments:    payments,
		random:      random,
		events:      events,
		cooldown:    DefaultExtractionCooldown,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) SetCooldown(cooldown time.Duration) {
	if cooldown < 0 {
		cooldown = 0
	}
	s.cooldown = cooldown
}

func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Service) SetRefresher(refresher *TokenRefresher) {
	s.refresher = refresher
}

// SetClaimRateLimiter throttles extraction requests per issuing user. A nil limiter or
// a non-positive limit disables throttling.
func (s *Service) SetClaimRateLimiter(limiter ClaimRateLimiter, perMinute int) {
	s.limiter = limiter
	s.claimsPerMinute = perMinute
}

// SetServicePrincipal sets the principal that owns the prize funds. It cannot be a claimant.
func (s *Service) SetServicePrincipal(principal string) {
	s.servicePrincipal = strings.TrimSpace(principal)
}

// ServicePrincipal is the owner of the prize funds.
func (s *Service) ServicePrincipal() string {
	return s.servicePrincipal
}

// CreateExtraction draws a prize for the claimant in req on behalf of caller.
func (s *Service) CreateExtraction(ctx context.Context, caller string, req domain.CreateExtractionRequest) (*domain.Extraction, error) {
	issuer, err := s.access.AssertAdminOrScanner(ctx, caller)
	if err != nil {
		return nil, err
	}

	claimant := strings.TrimSpace(req.ClaimantPrincipal)
	if domain.IsAnonymousPrincipal(claimant) {
		return nil, domain.InvalidArgument("Cannot extract for anonymous principal")
	}
	if s.servicePrincipal != "" && claimant == s.servicePrincipal {
		return nil, domain.InvalidArgument("Cannot extract for the wheel principal")
	}

	if err := s.consumeClaimQuota(ctx, issuer); err != nil {
		return nil, err
	}

	extraction, err := s.startExtraction(ctx, claimant, issuer.ID)
	if err != nil {
		return nil, err
	}
	log.Printf("level=info component=extraction msg=\"extraction started\" extraction_id=%s claimant=%s issued_by=%s", extraction.ID, claimant, issuer.ID)

	// From here on every outcome must be persisted, even if the caller goes away.
	persistCtx := context.WithoutCancel(ctx)

	outcome, err := s.runExtraction(ctx, extraction)
	if err != nil {
		return nil, s.failExtraction(persistCtx, extraction.ID, err, outcome.assetID)
	}

	completed, err := s.transition(persistCtx, extraction.ID, func(e *domain.Extraction) error {
		return e.Complete(*outcome.assetID, outcome.usdAmount, s.now())
	})
	if err != nil {
		log.Printf("level=error component=extraction msg=\"failed to persist completed extraction\" extraction_id=%s asset_id=%s err=%v", extraction.ID, outcome.assetID, err)
		return nil, err
	}
	log.Printf("level=info component=extraction msg=\"extraction completed\" extraction_id=%s asset_id=%s", completed.ID, outcome.assetID)
	s.publishExtraction(persistCtx, completed)
	return completed, nil
}

func (s *Service) consumeClaimQuota(ctx context.Context, issuer *domain.UserProfile) error {
	if s.limiter == nil || s.claimsPerMinute <= 0 {
		return nil
	}
	quota, err := s.limiter.ReserveClaim(ctx, issuer.ID, s.claimsPerMinute)
	if err != nil {
		log.Printf("level=warn component=extraction msg=\"claim quota unavailable; allowing request\" user_id=%s err=%v", issuer.ID, err)
		return nil
	}
	if quota.Exceeded() {
		log.Printf("level=info component=extraction msg=\"claim quota exceeded\" user_id=%s used=%d limit=%d", issuer.ID, quota.Used, quota.Limit)
		return domain.RateLimited("Too many extraction requests, retry after %d seconds", quota.RetryAfter(s.now()))
	}
	return nil
}

// startExtraction checks the claimant's history and writes the Processing record as one
// step with respect to every other claim.
func (s *Service) startExtraction(ctx context.Context, claimant string, issuedBy uuid.UUID) (*domain.Extraction, error) {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	now := s.now()
	last, err := s.extractions.GetByClaimant(ctx, claimant)
	switch {
	case err == nil:
		if err := last.CheckClaimAllowed(now, s.cooldown); err != nil {
			return nil, err
		}
	case errors.Is(err, domain.ErrNotFound):
	default:
		return nil, err
	}

	return s.extractions.Create(ctx, domain.NewProcessingExtraction(claimant, issuedBy, now))
}

type extractionOutcome struct {
	assetID   *uuid.UUID
	usdAmount *decimal.Decimal
}

// runExtraction draws and pays a prize. On error, outcome.assetID is the drawn asset,
// if any.
func (s *Service) runExtraction(ctx context.Context, extraction *domain.Extraction) (extractionOutcome, error) {
	var outcome extractionOutcome

	enabled, err := s.assets.ListByState(ctx, domain.AssetStateEnabled)
	if err != nil {
		return outcome, err
	}
	candidates := make([]domain.Asset, 0, len(enabled))
	for _, asset := range enabled {
		if asset.AvailableQuantity() > 0 {
			candidates = append(candidates, asset)
		}
	}
	if len(candidates) == 0 {
		return outcome, domain.OutOfStock("No assets available")
	}

	index, err := drawIndex(s.random, len(candidates))
	if err != nil {
		return outcome, err
	}
	selected := candidates[index]
	selectedID := selected.ID
	outcome.assetID = &selectedID

	switch selected.Kind.Tag {
	case domain.AssetKindToken:
		outcome.usdAmount, err = s.payToken(ctx, extraction, &selected)
	case domain.AssetKindJackpot:
		outcome.usdAmount, err = s.payJackpot(ctx, extraction, &selected)
	case domain.AssetKindGadget:
		err = s.useAsset(ctx, selected.ID, nil)
	default:
		err = domain.Internal("unknown asset kind %s", selected.Kind.Tag)
	}
	return outcome, err
}

func (s *Service) payToken(ctx context.Context, extraction *domain.Extraction, asset *domain.Asset) (*decimal.Decimal, error) {
	amount, err := asset.Kind.Token.PrizeTokenAmount()
	if err != nil {
		return nil, err
	}
	if err := s.transferPrize(ctx, extraction, asset, amount); err != nil {
		return nil, err
	}
	if err := s.useAsset(ctx, asset.ID, amount); err != nil {
		log.Printf("level=error component=extraction msg=\"prize paid but asset not updated\" extraction_id=%s asset_id=%s amount=%s err=%v", extraction.ID, asset.ID, amount, err)
		return nil, err
	}
	return asset.PrizeUSDAmount(), nil
}

// payJackpot checks every component before paying any of them, then pays them in order.
func (s *Service) payJackpot(ctx context.Context, extraction *domain.Extraction, jackpot *domain.Asset) (*decimal.Decimal, error) {
	if jackpot.Kind.Jackpot == nil {
		return nil, domain.Internal("jackpot %s has no components", jackpot.ID)
	}

	type payout struct {
		asset  *domain.Asset
		amount *big.Int
	}
	payouts := make([]payout, 0, len(jackpot.Kind.Jackpot.ComponentAssetIDs))
	total := decimal.Zero
	for _, componentID := range jackpot.Kind.Jackpot.ComponentAssetIDs {
		component, err := s.assets.Get(ctx, componentID)
		if err != nil {
			return nil, err
		}
		if !component.IsToken() {
			return nil, domain.Internal("jackpot component %s is not a token", componentID)
		}
		amount, err := component.Kind.Token.PrizeTokenAmount()
		if err != nil {
			return nil, err
		}
		if component.AvailableQuantity() == 0 {
			return nil, domain.OutOfStock("Jackpot component %s is out of stock", componentID)
		}
		payouts = append(payouts, payout{asset: component, amount: amount})
		total = total.Add(component.Kind.Token.PrizeUSDAmount)
	}

	paid := make([]string, 0, len(payouts))
	for _, p := range payouts {
		if err := s.transferPrize(ctx, extraction, p.asset, p.amount); err != nil {
			if len(paid) > 0 {
				log.Printf("level=error component=extraction msg=\"jackpot partially paid\" extraction_id=%s jackpot_id=%s paid=%s err=%v", extraction.ID, jackpot.ID, strings.Join(paid, ","), err)
				return nil, domain.External("%s (already paid components: %s)", domain.ErrorMessage(err), strings.Join(paid, ", "))
			}
			return nil, err
		}
		paid = append(paid, p.asset.ID.String())
	}

	if err := s.useAsset(ctx, jackpot.ID, nil); err != nil {
		log.Printf("level=error component=extraction msg=\"jackpot paid but asset not updated\" extraction_id=%s jackpot_id=%s err=%v", extraction.ID, jackpot.ID, err)
		return nil, err
	}
	for _, p := range payouts {
		if err := s.useAsset(ctx, p.asset.ID, p.amount); err != nil {
			log.Printf("level=error component=extraction msg=\"jackpot component paid but asset not updated\" extraction_id=%s asset_id=%s err=%v", extraction.ID, p.asset.ID, err)
			return nil, err
		}
	}
	return &total, nil
}

func (s *Service) transferPrize(ctx context.Context, extraction *domain.Extraction, asset *domain.Asset, amount *big.Int) error {
	if s.payments == nil {
		return domain.Internal("payment gateway is not configured")
	}
	ledgerID := asset.Kind.Token.Ledger.LedgerID
	resp, err := s.payments.Transfer(ctx, ledgerID, extraction.ClaimantPrincipal, amount, extraction.ID[:])
	if err != nil {
		log.Printf("level=warn component=extraction msg=\"prize transfer failed\" extraction_id=%s asset_id=%s ledger_id=%s err=%v", extraction.ID, asset.ID, ledgerID, err)
		return domain.External("Transfer of %s on ledger %s failed: %v", amount, ledgerID, err)
	}
	log.Printf("level=info component=extraction msg=\"prize transferred\" extraction_id=%s asset_id=%s ledger_id=%s amount=%s block_index=%s", extraction.ID, asset.ID, ledgerID, amount, resp.BlockIndex)
	return nil
}

// useAsset consumes one unit of the freshly read asset. For tokens the cached balance
// is lowered by paid until the refresher reads the ledger again.
func (s *Service) useAsset(ctx context.Context, id uuid.UUID, paid *big.Int) error {
	_, err := s.assets.Modify(ctx, id, func(asset *domain.Asset) error {
		if err := asset.UseOne(); err != nil {
			return err
		}
		if paid != nil && asset.IsToken() && asset.Kind.Token.Balance != nil && asset.Kind.Token.Balance.Balance != nil {
			remaining := new(big.Int).Sub(asset.Kind.Token.Balance.Balance, paid)
			if remaining.Sign() < 0 {
				remaining.SetInt64(0)
			}
			asset.Kind.Token.Balance.Balance = remaining
		}
		return nil
	})
	if err != nil {
		return err
	}
	if paid != nil && s.refresher != nil {
		s.refresher.Trigger(&id)
	}
	return nil
}

// failExtraction records cause on the extraction and returns cause.
func (s *Service) failExtraction(ctx context.Context, id uuid.UUID, cause error, assetID *uuid.UUID) error {
	failed, err := s.transition(ctx, id, func(e *domain.Extraction) error {
		return e.Fail(domain.NewFailureReason(cause), assetID, s.now())
	})
	if err != nil {
		log.Printf("level=error component=extraction msg=\"failed to persist failed extraction\" extraction_id=%s cause=%q err=%v", id, domain.ErrorMessage(cause), err)
		return cause
	}
	log.Printf("level=warn component=extraction msg=\"extraction failed\" extraction_id=%s code=%s err=%q", id, failed.Failure.Code, failed.Failure.Message)
	s.publishExtraction(ctx, failed)
	return cause
}

// transition applies fn to the stored extraction and persists it.
func (s *Service) transition(ctx context.Context, id uuid.UUID, fn func(*domain.Extraction) error) (*domain.Extraction, error) {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	extraction, err := s.extractions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(extraction); err != nil {
		return nil, err
	}
	return s.extractions.Update(ctx, id, *extraction)
}

func (s *Service) publishExtraction(ctx context.Context, extraction *domain.Extraction) {
	if s.events == nil {
		return
	}
	event := domain.NewExtractionEvent(*extraction)
	if err := s.events.Publish(ctx, event.EventType, event); err != nil {
		log.Printf("level=warn component=extraction msg=\"event publish failed\" extraction_id=%s event_type=%s err=%v", extraction.ID, event.EventType, err)
	}
}

func (s *Service) GetExtraction(ctx context.Context, caller string, id uuid.UUID) (*domain.Extraction, error) {
	if _, err := s.access.AssertAdminOrScanner(ctx, caller); err != nil {
		return nil, err
	}
	return s.extractions.Get(ctx, id)
}

// ListExtractions returns extractions oldest first, optionally filtered by state.
func (s *Service) ListExtractions(ctx context.Context, caller string, state *domain.ExtractionState) ([]domain.Extraction, error) {
	if _, err := s.access.AssertAdminOrScanner(ctx, caller); err != nil {
		return nil, err
	}
	if state != nil {
		return s.extractions.ListByState(ctx, *state)
	}
	return s.extractions.ListAll(ctx)
}

// ListUserExtractions returns the extractions issued by userID.
func (s *Service) ListUserExtractions(ctx context.Context, caller string, userID uuid.UUID) ([]domain.Extraction, error) {
	if _, err := s.access.AssertAdminOrScanner(ctx, caller); err != nil {
		return nil, err
	}
	return s.extractions.ListByUser(ctx, userID)
}

// ListAssetExtractions returns the extractions that drew assetID.
func (s *Service) ListAssetExtractions(ctx context.Context, caller string, assetID uuid.UUID) ([]domain.Extraction, error) {
	if _, err := s.access.AssertAdminOrScanner(ctx, caller); err != nil {
		return nil, err
	}
	return s.extractions.ListByAsset(ctx, assetID)
}

// GetLastExtraction returns the most recent completed extraction. It is public so the
// wheel can animate towards the prize.
func (s *Service) GetLastExtraction(ctx context.Context) (*domain.Extraction, error) {
	completed := domain.ExtractionStateCompleted
	return s.extractions.GetLast(ctx, &completed)
}

// TransferToken moves funds out of the service account. The memo is the admin's user id.
func (s *Service) TransferToken(ctx context.Context, caller string, req domain.TransferTokenRequest) (*domain.TransferTokenResponse, error) {
	user, err := s.access.AssertAdmin(ctx, caller)
	if err != nil {
		return nil, err
	}
	amount, err := req.ParseAmount()
	if err != nil {
		return nil, err
	}
	ledgerID := strings.TrimSpace(req.LedgerID)
	to := strings.TrimSpace(req.To)
	if ledgerID == "" {
		return nil, domain.InvalidArgument("Ledger id cannot be empty")
	}
	if domain.IsAnonymousPrincipal(to) {
		return nil, domain.InvalidArgument("Invalid destination principal")
	}
	if s.payments == nil {
		return nil, domain.Internal("payment gateway is not configured")
	}

	resp, err := s.payments.Transfer(ctx, ledgerID, to, amount, user.ID[:])
	if err != nil {
		log.Printf("level=warn component=assets msg=\"manual transfer failed\" ledger_id=%s to=%s user_id=%s err=%v", ledgerID, to, user.ID, err)
		return nil, domain.External("Transfer failed: %v", err)
	}
	log.Printf("level=info component=assets msg=\"manual transfer sent\" ledger_id=%s to=%s amount=%s user_id=%s block_index=%s", ledgerID, to, amount, user.ID, resp.BlockIndex)

	if s.refresher != nil {
		s.refresher.Trigger(nil)
	}
	return &domain.TransferTokenResponse{BlockIndex: resp.BlockIndex}, nil
}
