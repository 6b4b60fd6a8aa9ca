package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ilbertt/ic-fortune-wheel/internal/domain"
)

const (
	DefaultStaleExtractionAge = 30 * time.Minute
	interruptedFailureCode    = "INTERRUPTED"
	maxSweepBatch             = 500
)

// SweepStaleExtractions fails Processing extractions created more than maxAge ago. Such
// a record means the process stopped mid-flight; whether the prize was paid is unknown,
// so no asset is recorded.
func (s *Service) SweepStaleExtractions(ctx context.Context, maxAge time.Duration) (*domain.ExtractionSweepResponse, error) {
	if maxAge <= 0 {
		maxAge = DefaultStaleExtractionAge
	}
	processing, err := s.extractions.ListByState(ctx, domain.ExtractionStateProcessing)
	if err != nil {
		return nil, fmt.Errorf("failed to list processing extractions: %w", err)
	}

	cutoff := s.now().Add(-maxAge)
	result := &domain.ExtractionSweepResponse{}
	for _, candidate := range processing {
		if result.Processed >= maxSweepBatch {
			break
		}
		if !candidate.CreatedAt.Before(cutoff) {
			continue
		}
		result.Processed++

		reason := domain.FailureReason{
			Code:    interruptedFailureCode,
			Message: fmt.Sprintf("Extraction was interrupted; still processing after %s", maxAge),
		}
		failed, err := s.transition(ctx, candidate.ID, func(e *domain.Extraction) error {
			if e.State != domain.ExtractionStateProcessing {
				return errAlreadyTerminal
			}
			return e.Fail(reason, nil, s.now())
		})
		if err != nil {
			if errors.Is(err, errAlreadyTerminal) {
				result.Skipped++
				continue
			}
			result.Errors++
			log.Printf("level=error component=extraction flow=stale_extraction_sweep msg=\"failed to mark extraction interrupted\" extraction_id=%s err=%v", candidate.ID, err)
			continue
		}

		result.Swept++
		log.Printf("level=warn component=extraction flow=stale_extraction_sweep msg=\"extraction marked interrupted\" extraction_id=%s claimant=%s created_at=%s", failed.ID, failed.ClaimantPrincipal, failed.CreatedAt.Format(time.RFC3339))
		s.publishExtraction(ctx, failed)
	}
	return result, nil
}

var errAlreadyTerminal = errors.New("extraction already reached a terminal state")
