package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ilbertt/ic-fortune-wheel/internal/domain"
	"github.com/ilbertt/ic-fortune-wheel/internal/kv"
)

func newTestLedgers(t *testing.T) (*KVAssetLedger, *KVExtractionLedger) {
	t.Helper()
	ctx := context.Background()
	store := kv.NewMemoryStore()
	assets, err := NewKVAssetLedger(ctx, store)
	if err != nil {
		t.Fatalf("asset ledger: %v", err)
	}
	extractions, err := NewKVExtractionLedger(ctx, store)
	if err != nil {
		t.Fatalf("extraction ledger: %v", err)
	}
	return assets, extractions
}

func gadgetAsset(name string, state domain.AssetState) domain.Asset {
	return domain.Asset{
		Name:        name,
		Kind:        domain.GadgetKind(nil),
		TotalAmount: 1,
		State:       state,
		UISettings:  domain.DefaultUISettings(),
	}
}

func assetIDs(assets []domain.Asset) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(assets))
	for _, asset := range assets {
		ids = append(ids, asset.ID)
	}
	return ids
}

func equalIDs(a, b []uuid.UUID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestKVAssetLedger_IndexesFollowUpdates(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedgers(t)

	gadget, err := ledger.Create(ctx, gadgetAsset("hoodie", domain.AssetStateEnabled))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if gadget.ID == uuid.Nil || gadget.ID.Version() != 7 {
		t.Fatalf("expected a v7 id, got %s", gadget.ID)
	}
	token, err := ledger.Create(ctx, sampleTokenAsset())
	if err != nil {
		t.Fatalf("create token: %v", err)
	}

	enabled, err := ledger.ListByState(ctx, domain.AssetStateEnabled)
	if err != nil || len(enabled) != 2 {
		t.Fatalf("expected 2 enabled assets, got %d err=%v", len(enabled), err)
	}

	gadget.State = domain.AssetStateDisabled
	if _, err := ledger.Update(ctx, gadget.ID, *gadget); err != nil {
		t.Fatalf("update: %v", err)
	}

	enabled, _ = ledger.ListByState(ctx, domain.AssetStateEnabled)
	if !equalIDs(assetIDs(enabled), []uuid.UUID{token.ID}) {
		t.Fatalf("expected only the token to stay enabled, got %v", assetIDs(enabled))
	}
	disabled, _ := ledger.ListByState(ctx, domain.AssetStateDisabled)
	if !equalIDs(assetIDs(disabled), []uuid.UUID{gadget.ID}) {
		t.Fatalf("expected the gadget to be disabled, got %v", assetIDs(disabled))
	}

	gadgets, _ := ledger.ListByKind(ctx, domain.AssetKindGadget)
	tokens, _ := ledger.ListByKind(ctx, domain.AssetKindToken)
	if len(gadgets) != 1 || len(tokens) != 1 {
		t.Fatalf("expected one asset per kind, got %d gadgets and %d tokens", len(gadgets), len(tokens))
	}

	order, _ := ledger.DisplayOrder(ctx)
	if !equalIDs(order, []uuid.UUID{token.ID}) {
		t.Fatalf("expected display order to drop the disabled gadget, got %v", order)
	}

	if err := ledger.Delete(ctx, gadget.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := ledger.Get(ctx, gadget.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected deleted asset to be missing, got %v", err)
	}
	disabled, _ = ledger.ListByState(ctx, domain.AssetStateDisabled)
	gadgets, _ = ledger.ListByKind(ctx, domain.AssetKindGadget)
	if len(disabled) != 0 || len(gadgets) != 0 {
		t.Fatal("expected delete to clear index entries")
	}
}

func TestKVAssetLedger_DisplayOrder(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedgers(t)

	a, _ := ledger.Create(ctx, gadgetAsset("a", domain.AssetStateEnabled))
	b, _ := ledger.Create(ctx, gadgetAsset("b", domain.AssetStateEnabled))
	c, _ := ledger.Create(ctx, gadgetAsset("c", domain.AssetStateDisabled))

	order, _ := ledger.DisplayOrder(ctx)
	if !equalIDs(order, []uuid.UUID{a.ID, b.ID}) {
		t.Fatalf("expected creation order, got %v", order)
	}

	if err := ledger.SetDisplayOrder(ctx, []uuid.UUID{b.ID, a.ID}); err != nil {
		t.Fatalf("set order: %v", err)
	}

	c.State = domain.AssetStateEnabled
	if _, err := ledger.Update(ctx, c.ID, *c); err != nil {
		t.Fatalf("enable: %v", err)
	}
	order, _ = ledger.DisplayOrder(ctx)
	if !equalIDs(order, []uuid.UUID{b.ID, a.ID, c.ID}) {
		t.Fatalf("expected newly enabled asset to be appended, got %v", order)
	}

	invalid := [][]uuid.UUID{
		{a.ID, b.ID},
		{a.ID, b.ID, b.ID},
		{a.ID, b.ID, uuid.New()},
	}
	for _, ids := range invalid {
		if err := ledger.SetDisplayOrder(ctx, ids); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("expected invalid argument for %v, got %v", ids, err)
		}
	}
	order, _ = ledger.DisplayOrder(ctx)
	if !equalIDs(order, []uuid.UUID{b.ID, a.ID, c.ID}) {
		t.Fatalf("expected rejected orders to leave the order unchanged, got %v", order)
	}
}

func TestKVAssetLedger_Modify(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedgers(t)
	asset, _ := ledger.Create(ctx, gadgetAsset("sticker", domain.AssetStateEnabled))

	updated, err := ledger.Modify(ctx, asset.ID, func(a *domain.Asset) error { return a.UseOne() })
	if err != nil {
		t.Fatalf("modify: %v", err)
	}
	if updated.UsedAmount != 1 {
		t.Fatalf("expected used amount 1, got %d", updated.UsedAmount)
	}

	_, err = ledger.Modify(ctx, asset.ID, func(a *domain.Asset) error { return a.UseOne() })
	if !errors.Is(err, domain.ErrOutOfStock) {
		t.Fatalf("expected out of stock, got %v", err)
	}
	stored, _ := ledger.Get(ctx, asset.ID)
	if stored.UsedAmount != 1 {
		t.Fatalf("expected failed modify to leave used amount at 1, got %d", stored.UsedAmount)
	}

	if _, err := ledger.Modify(ctx, uuid.New(), func(*domain.Asset) error { return nil }); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestKVExtractionLedger_Indexes(t *testing.T) {
	ctx := context.Background()
	_, ledger := newTestLedgers(t)
	now := time.Now()
	issuer := uuid.New()

	first, err := ledger.Create(ctx, domain.NewProcessingExtraction("claimant-a", issuer, now))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := first.Fail(domain.NewFailureReason(domain.External("ledger down")), nil, now); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if _, err := ledger.Update(ctx, first.ID, *first); err != nil {
		t.Fatalf("update: %v", err)
	}

	second, _ := ledger.Create(ctx, domain.NewProcessingExtraction("claimant-a", issuer, now))
	assetID := uuid.New()
	if err := second.Complete(assetID, nil, now); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := ledger.Update(ctx, second.ID, *second); err != nil {
		t.Fatalf("update: %v", err)
	}
	other, _ := ledger.Create(ctx, domain.NewProcessingExtraction("claimant-b", uuid.New(), now))

	latest, err := ledger.GetByClaimant(ctx, "claimant-a")
	if err != nil || latest.ID != second.ID {
		t.Fatalf("expected most recent extraction for claimant-a, got %v err=%v", latest, err)
	}
	if _, err := ledger.GetByClaimant(ctx, "claimant-c"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for unknown claimant, got %v", err)
	}

	processing, _ := ledger.ListByState(ctx, domain.ExtractionStateProcessing)
	if len(processing) != 1 || processing[0].ID != other.ID {
		t.Fatalf("expected only claimant-b processing, got %d", len(processing))
	}
	failed, _ := ledger.ListByState(ctx, domain.ExtractionStateFailed)
	if len(failed) != 1 || failed[0].ID != first.ID {
		t.Fatalf("expected one failed extraction, got %d", len(failed))
	}

	byAsset, _ := ledger.ListByAsset(ctx, assetID)
	if len(byAsset) != 1 || byAsset[0].ID != second.ID {
		t.Fatalf("expected asset index to hold the completed extraction, got %d", len(byAsset))
	}
	byUser, _ := ledger.ListByUser(ctx, issuer)
	if len(byUser) != 2 {
		t.Fatalf("expected two extractions for issuer, got %d", len(byUser))
	}

	completedState := domain.ExtractionStateCompleted
	last, err := ledger.GetLast(ctx, &completedState)
	if err != nil || last.ID != second.ID {
		t.Fatalf("expected last completed extraction, got %v err=%v", last, err)
	}
	last, err = ledger.GetLast(ctx, nil)
	if err != nil || last.ID != other.ID {
		t.Fatalf("expected most recent extraction overall, got %v err=%v", last, err)
	}

	all, _ := ledger.ListAll(ctx)
	if len(all) != 3 {
		t.Fatalf("expected 3 extractions, got %d", len(all))
	}
}

// flakyStore hands out a flakyMap for one region so tests can fail index writes.
type flakyStore struct {
	kv.Store
	region kv.Region
	flaky  *flakyMap
}

func (s *flakyStore) Open(ctx context.Context, region kv.Region) (kv.Map, error) {
	m, err := s.Store.Open(ctx, region)
	if err != nil || region != s.region {
		return m, err
	}
	s.flaky = &flakyMap{Map: m}
	return s.flaky, nil
}

type flakyMap struct {
	kv.Map
	insertErr error
	removeErr error
}

func (m *flakyMap) Insert(ctx context.Context, key, value []byte) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	return m.Map.Insert(ctx, key, value)
}

func (m *flakyMap) Remove(ctx context.Context, key []byte) ([]byte, bool, error) {
	if m.removeErr != nil {
		return nil, false, m.removeErr
	}
	return m.Map.Remove(ctx, key)
}

func TestKVExtractionLedger_FailedUpdateKeepsClaimantEntry(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: kv.NewMemoryStore(), region: RegionExtractionStateIndex}
	ledger, err := NewKVExtractionLedger(ctx, store)
	if err != nil {
		t.Fatalf("extraction ledger: %v", err)
	}
	now := time.Now()
	issuer := uuid.New()

	created, err := ledger.Create(ctx, domain.NewProcessingExtraction("claimant-a", issuer, now))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	store.flaky.insertErr = errors.New("state index unavailable")
	next := *created
	if err := next.Complete(uuid.New(), nil, now); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := ledger.Update(ctx, created.ID, next); err == nil {
		t.Fatal("expected update to fail")
	}

	found, err := ledger.GetByClaimant(ctx, "claimant-a")
	if err != nil || found.ID != created.ID {
		t.Fatalf("expected claimant entry to survive a failed update, got %v err=%v", found, err)
	}
	if found.State != domain.ExtractionStateProcessing {
		t.Fatalf("expected record untouched, got state %s", found.State)
	}
	byUser, _ := ledger.ListByUser(ctx, issuer)
	if len(byUser) != 1 {
		t.Fatalf("expected user entry to survive, got %d", len(byUser))
	}

	store.flaky.insertErr = nil
	if _, err := ledger.Update(ctx, created.ID, next); err != nil {
		t.Fatalf("retry update: %v", err)
	}
	found, err = ledger.GetByClaimant(ctx, "claimant-a")
	if err != nil || found.State != domain.ExtractionStateCompleted {
		t.Fatalf("expected completed extraction after retry, got %v err=%v", found, err)
	}
}

func TestKVExtractionLedger_StaleStateEntriesAreSkipped(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: kv.NewMemoryStore(), region: RegionExtractionStateIndex}
	ledger, err := NewKVExtractionLedger(ctx, store)
	if err != nil {
		t.Fatalf("extraction ledger: %v", err)
	}
	now := time.Now()

	created, err := ledger.Create(ctx, domain.NewProcessingExtraction("claimant-a", uuid.New(), now))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	store.flaky.removeErr = errors.New("state index unavailable")
	next := *created
	if err := next.Fail(domain.NewFailureReason(domain.External("ledger down")), nil, now); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if _, err := ledger.Update(ctx, created.ID, next); err == nil {
		t.Fatal("expected update to report the failed index cleanup")
	}

	processing, err := ledger.ListByState(ctx, domain.ExtractionStateProcessing)
	if err != nil || len(processing) != 0 {
		t.Fatalf("expected stale processing entry to be skipped, got %d err=%v", len(processing), err)
	}
	processingState := domain.ExtractionStateProcessing
	if _, err := ledger.GetLast(ctx, &processingState); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected no processing extraction, got %v", err)
	}
	failed, _ := ledger.ListByState(ctx, domain.ExtractionStateFailed)
	if len(failed) != 1 || failed[0].ID != created.ID {
		t.Fatalf("expected the failed extraction, got %d", len(failed))
	}
	found, err := ledger.GetByClaimant(ctx, "claimant-a")
	if err != nil || found.State != domain.ExtractionStateFailed {
		t.Fatalf("expected failed extraction for claimant, got %v err=%v", found, err)
	}
}

func TestKVAssetLedger_FailedUpdateKeepsIndexes(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: kv.NewMemoryStore(), region: RegionAssetStateIndex}
	ledger, err := NewKVAssetLedger(ctx, store)
	if err != nil {
		t.Fatalf("asset ledger: %v", err)
	}

	gadget, err := ledger.Create(ctx, gadgetAsset("hoodie", domain.AssetStateEnabled))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	store.flaky.insertErr = errors.New("state index unavailable")
	disabled := *gadget
	disabled.State = domain.AssetStateDisabled
	if _, err := ledger.Update(ctx, gadget.ID, disabled); err == nil {
		t.Fatal("expected update to fail")
	}
	enabled, _ := ledger.ListByState(ctx, domain.AssetStateEnabled)
	if len(enabled) != 1 || enabled[0].ID != gadget.ID {
		t.Fatalf("expected asset to stay enabled and indexed, got %d", len(enabled))
	}
	gadgets, _ := ledger.ListByKind(ctx, domain.AssetKindGadget)
	if len(gadgets) != 1 {
		t.Fatalf("expected kind entry to survive, got %d", len(gadgets))
	}

	store.flaky.insertErr = nil
	store.flaky.removeErr = errors.New("state index unavailable")
	if _, err := ledger.Update(ctx, gadget.ID, disabled); err == nil {
		t.Fatal("expected update to report the failed index cleanup")
	}
	enabled, _ = ledger.ListByState(ctx, domain.AssetStateEnabled)
	if len(enabled) != 0 {
		t.Fatalf("expected stale enabled entry to be skipped, got %d", len(enabled))
	}
	if err := ledger.SetDisplayOrder(ctx, nil); err != nil {
		t.Fatalf("expected empty order to match enabled assets, got %v", err)
	}
}
