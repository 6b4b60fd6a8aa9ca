package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/ilbertt/ic-fortune-wheel/internal/domain"
)

// TokenRefreshRequestedRoutingKey is the event that asks for a token data refresh.
const TokenRefreshRequestedRoutingKey = "wheel.tokens.refresh_requested"

const refreshConsumerTimeout = 2 * time.Minute

// TokenRefreshConsumer handles refresh requests published by other services.
type TokenRefreshConsumer struct {
	refresher *TokenRefresher
}

func NewTokenRefreshConsumer(refresher *TokenRefresher) *TokenRefreshConsumer {
	return &TokenRefreshConsumer{refresher: refresher}
}

// HandleMessage returns false to requeue the request.
func (c *TokenRefreshConsumer) HandleMessage(body []byte) bool {
	var event domain.TokenRefreshRequestedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=warn component=rabbitmq_consumer msg=\"invalid refresh request payload; dropping\" err=%v", err)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), refreshConsumerTimeout)
	defer cancel()

	if err := c.processEvent(ctx, event); err != nil {
		log.Printf("level=warn component=rabbitmq_consumer msg=\"refresh request failed\" event_id=%s err=%v", event.EventID, err)
		return false
	}
	return true
}

func (c *TokenRefreshConsumer) processEvent(ctx context.Context, event domain.TokenRefreshRequestedEvent) error {
	if event.AssetID == nil {
		return c.refresher.RefreshAll(ctx)
	}
	err := c.refresher.RefreshAsset(ctx, *event.AssetID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrInvalidArgument):
		log.Printf("level=info component=rabbitmq_consumer msg=\"refresh request for unknown or non-token asset; acknowledging\" event_id=%s asset_id=%s", event.EventID, event.AssetID)
		return nil
	default:
		return err
	}
}
