package app

import (
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ilbertt/ic-fortune-wheel/internal/domain"
)

func TestTokenRefreshConsumer_HandleMessage(t *testing.T) {
	env := newTestEnv(t)
	coin := token("ICP", domain.AssetStateEnabled)
	coin.Kind.Token.ExchangeRateSymbol = ""
	icp := env.createAsset(t, coin)

	balances := &balanceStub{balances: map[string]*big.Int{"ledger-icp": big.NewInt(7)}}
	refresher := NewTokenRefresher(env.assets, balances, &priceStub{}, wheelPrincipal, 1, quietLogger())
	defer refresher.Stop()
	consumer := NewTokenRefreshConsumer(refresher)

	mustJSON := func(v interface{}) []byte {
		body, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		return body
	}
	unknown := uuid.New()

	tests := []struct {
		name string
		body []byte
	}{
		{name: "invalid payload is dropped", body: []byte("{")},
		{name: "unknown asset is acknowledged", body: mustJSON(domain.TokenRefreshRequestedEvent{EventID: "e1", AssetID: &unknown, RequestedAt: time.Now()})},
		{name: "single asset", body: mustJSON(domain.TokenRefreshRequestedEvent{EventID: "e2", AssetID: &icp.ID, RequestedAt: time.Now()})},
		{name: "every asset", body: mustJSON(domain.TokenRefreshRequestedEvent{EventID: "e3", RequestedAt: time.Now()})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !consumer.HandleMessage(tt.body) {
				t.Fatalf("expected message to be acknowledged")
			}
		})
	}

	if got := env.getAsset(t, icp.ID); got.Kind.Token.Balance.Balance.Cmp(big.NewInt(7)) != 0 {
		t.Fatalf("expected refreshed balance 7, got %s", got.Kind.Token.Balance.Balance)
	}
}
