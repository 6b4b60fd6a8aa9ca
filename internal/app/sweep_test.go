package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ilbertt/ic-fortune-wheel/internal/domain"
)

func TestSweepStaleExtractions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := env.clock.Now()
	issuer := uuid.New()

	stale, err := env.extractions.Create(ctx, domain.NewProcessingExtraction("claimant-stale", issuer, now.Add(-time.Hour)))
	if err != nil {
		t.Fatalf("create stale: %v", err)
	}
	fresh, err := env.extractions.Create(ctx, domain.NewProcessingExtraction("claimant-fresh", issuer, now.Add(-time.Minute)))
	if err != nil {
		t.Fatalf("create fresh: %v", err)
	}

	result, err := env.service.SweepStaleExtractions(ctx, 30*time.Minute)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.Processed != 1 || result.Swept != 1 || result.Errors != 0 {
		t.Fatalf("unexpected sweep result %+v", result)
	}

	got, err := env.extractions.Get(ctx, stale.ID)
	if err != nil {
		t.Fatalf("get stale: %v", err)
	}
	if got.State != domain.ExtractionStateFailed || got.Failure.Code != interruptedFailureCode || got.AwardedAssetID != nil {
		t.Fatalf("expected interrupted failure, got %+v", got)
	}

	got, err = env.extractions.Get(ctx, fresh.ID)
	if err != nil {
		t.Fatalf("get fresh: %v", err)
	}
	if got.State != domain.ExtractionStateProcessing {
		t.Fatalf("expected recent extraction to be left alone, got %s", got.State)
	}

	// The claimant of the swept record can retry once the cooldown has passed.
	env.createAsset(t, gadget("Sticker", 1))
	env.clock.Advance(DefaultExtractionCooldown)
	if _, err := env.extract("claimant-stale"); err != nil {
		t.Fatalf("expected retry after sweep and cooldown: %v", err)
	}
}
