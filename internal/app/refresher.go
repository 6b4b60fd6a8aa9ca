/**
 * @description
 * Background refresh of token prices and balances. Each token asset gets an independent
 * balance fetch and, when it has an exchange symbol, a price fetch. Results are written
 * back field by field on a fresh read of the asset.
 *
 * @dependencies
 * - github.com/sourcegraph/conc: bounded fetch pool and tracked fire-and-forget triggers.
 *
 * @notes
 * - Fetch errors are logged and dropped; the next scheduled run retries.
 * - Triggered refreshes still running at shutdown are cancelled and not resumed.
 */

package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ilbertt/ic-fortune-wheel/internal/domain"
	"github.com/ilbertt/ic-fortune-wheel/internal/store"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/pool"
)

const (
	defaultRefreshConcurrency = 4
	triggeredRefreshTimeout   = 2 * time.Minute
)

type TokenRefresher struct {
	assets      store.AssetLedger
	balances    BalanceFetcher
	prices      PriceFetcher
	owner       string
	logger      *slog.Logger
	concurrency int
	now         func() time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	stopped bool
	tasks   conc.WaitGroup
}

// NewTokenRefresher reads balances of owner, the principal holding the prize funds.
func NewTokenRefresher(assets store.AssetLedger, balances BalanceFetcher, prices PriceFetcher, owner string, concurrency int, logger *slog.Logger) *TokenRefresher {
	if concurrency <= 0 {
		concurrency = defaultRefreshConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &TokenRefresher{
		assets:      assets,
		balances:    balances,
		prices:      prices,
		owner:       owner,
		logger:      logger,
		concurrency: concurrency,
		now:         func() time.Time { return time.Now().UTC() },
		ctx:         ctx,
		cancel:      cancel,
	}
}

// RefreshAll refreshes every token asset and waits for all fetches.
func (r *TokenRefresher) RefreshAll(ctx context.Context) error {
	tokens, err := r.assets.ListByKind(ctx, domain.AssetKindToken)
	if err != nil {
		return err
	}
	p := pool.New().WithMaxGoroutines(r.concurrency)
	for _, asset := range tokens {
		r.schedule(ctx, p, asset)
	}
	p.Wait()
	r.logger.Info("token refresh finished", "assets", len(tokens))
	return nil
}

// RefreshAsset refreshes one token asset and waits for its fetches.
func (r *TokenRefresher) RefreshAsset(ctx context.Context, id uuid.UUID) error {
	asset, err := r.assets.Get(ctx, id)
	if err != nil {
		return err
	}
	if !asset.IsToken() {
		return domain.InvalidArgument("Asset %s is not a token asset", id)
	}
	p := pool.New().WithMaxGoroutines(r.concurrency)
	r.schedule(ctx, p, *asset)
	p.Wait()
	return nil
}

func (r *TokenRefresher) schedule(ctx context.Context, p *pool.Pool, asset domain.Asset) {
	id := asset.ID
	token := *asset.Kind.Token
	p.Go(func() {
		r.refreshBalance(ctx, id, token.Ledger.LedgerID)
	})
	if token.ShouldFetchUSDPrice() {
		p.Go(func() {
			r.refreshPrice(ctx, id, token.ExchangeRateSymbol)
		})
	}
}

// Trigger starts a refresh in the background. A nil id refreshes every token asset.
func (r *TokenRefresher) Trigger(id *uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}

	var target *uuid.UUID
	if id != nil {
		copied := *id
		target = &copied
	}
	r.tasks.Go(func() {
		ctx, cancel := context.WithTimeout(r.ctx, triggeredRefreshTimeout)
		defer cancel()

		var err error
		if target != nil {
			err = r.RefreshAsset(ctx, *target)
		} else {
			err = r.RefreshAll(ctx)
		}
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			r.logger.Warn("triggered token refresh failed", "asset_id", target, "error", err)
		}
	})
}

// Stop cancels in-flight triggered refreshes and waits for them to return.
func (r *TokenRefresher) Stop() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()

	r.cancel()
	r.tasks.Wait()
}

func (r *TokenRefresher) refreshBalance(ctx context.Context, id uuid.UUID, ledgerID string) {
	if r.balances == nil {
		return
	}
	balance, err := r.balances.BalanceOf(ctx, ledgerID, r.owner)
	if err != nil {
		r.logger.Warn("failed to fetch token balance", "asset_id", id, "ledger_id", ledgerID, "error", err)
		return
	}
	fetched := &domain.TokenBalance{Balance: balance, LastFetchedAt: r.now()}
	r.writeBack(ctx, id, "balance", func(token *domain.TokenDetails) bool {
		// The ledger may have been repointed while the fetch was in flight.
		if token.Ledger.LedgerID != ledgerID {
			return false
		}
		token.Balance = fetched
		return true
	})
}

func (r *TokenRefresher) refreshPrice(ctx context.Context, id uuid.UUID, symbol string) {
	if r.prices == nil {
		return
	}
	rate, err := r.prices.GetRate(ctx, symbol)
	if err != nil {
		r.logger.Warn("failed to fetch token price", "asset_id", id, "symbol", symbol, "error", err)
		return
	}
	price := domain.NewTokenPriceFromRate(rate.Rate, rate.Decimals, r.now())
	if !price.USDPrice.IsPositive() {
		r.logger.Warn("ignoring non-positive token price", "asset_id", id, "symbol", symbol)
		return
	}
	r.writeBack(ctx, id, "price", func(token *domain.TokenDetails) bool {
		if token.ExchangeRateSymbol != symbol {
			return false
		}
		token.USDPrice = price
		return true
	})
}

var errRefreshStale = errors.New("token changed during refresh")

// writeBack applies set on a fresh read of the asset. Deleted assets are skipped.
func (r *TokenRefresher) writeBack(ctx context.Context, id uuid.UUID, field string, set func(*domain.TokenDetails) bool) {
	_, err := r.assets.Modify(ctx, id, func(asset *domain.Asset) error {
		if !asset.IsToken() || asset.Kind.Token == nil || !set(asset.Kind.Token) {
			return errRefreshStale
		}
		return nil
	})
	switch {
	case err == nil:
		r.logger.Debug("token data refreshed", "asset_id", id, "field", field)
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, errRefreshStale):
	default:
		r.logger.Error("failed to store refreshed token data", "asset_id", id, "field", field, "error", err)
	}
}
