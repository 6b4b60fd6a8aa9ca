package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestClaimQuota(t *testing.T) {
	resetAt := time.Date(2024, 5, 1, 12, 1, 0, 0, time.UTC)
	tests := []struct {
		name           string
		quota          ClaimQuota
		now            time.Time
		wantExceeded   bool
		wantRetryAfter int
	}{
		{name: "under limit", quota: ClaimQuota{Used: 1, Limit: 3, ResetAt: resetAt}, now: resetAt.Add(-time.Minute), wantRetryAfter: 60},
		{name: "at limit", quota: ClaimQuota{Used: 3, Limit: 3, ResetAt: resetAt}, now: resetAt.Add(-1500 * time.Millisecond), wantRetryAfter: 2},
		{name: "over limit", quota: ClaimQuota{Used: 4, Limit: 3, ResetAt: resetAt}, now: resetAt.Add(-10 * time.Millisecond), wantExceeded: true, wantRetryAfter: 1},
		{name: "window already over", quota: ClaimQuota{Used: 9, Limit: 3, ResetAt: resetAt}, now: resetAt.Add(time.Second), wantExceeded: true, wantRetryAfter: 1},
		{name: "no limit", quota: ClaimQuota{Used: 9}, now: resetAt, wantRetryAfter: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.quota.Exceeded(); got != tt.wantExceeded {
				t.Fatalf("expected exceeded=%v, got %v", tt.wantExceeded, got)
			}
			if got := tt.quota.RetryAfter(tt.now); got != tt.wantRetryAfter {
				t.Fatalf("expected retry after %d, got %d", tt.wantRetryAfter, got)
			}
		})
	}
}

func TestClaimWindowStart(t *testing.T) {
	berlin := time.FixedZone("CEST", 2*60*60)
	now := time.Date(2024, 5, 1, 14, 7, 42, 500, berlin)
	start := claimWindowStart(now)
	if !start.Equal(time.Date(2024, 5, 1, 12, 7, 0, 0, time.UTC)) {
		t.Fatalf("expected window to start on the minute, got %s", start)
	}
	if !claimWindowStart(start.Add(59 * time.Second)).Equal(start) {
		t.Fatal("expected the same window within the minute")
	}
}

func TestRedisClaimQuotas_CounterKey(t *testing.T) {
	quotas := NewRedisClaimQuotas(nil, " wheel:quota: ")
	issuer := uuid.MustParse("0190a5b2-7c1e-7d3a-8b4f-1a2b3c4d5e6f")
	start := time.Unix(1714564020, 0)

	want := "wheel:quota:claims:0190a5b2-7c1e-7d3a-8b4f-1a2b3c4d5e6f:1714564020"
	if got := quotas.counterKey(issuer, start); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if got := NewRedisClaimQuotas(nil, "").prefix; got != "wheel:rate_limit" {
		t.Fatalf("expected default prefix, got %q", got)
	}
}

func TestRedisClaimQuotas_WithoutClient(t *testing.T) {
	quota, err := NewRedisClaimQuotas(nil, "").ReserveClaim(context.Background(), uuid.New(), 5)
	if err != nil || quota.Used != 0 || quota.Exceeded() {
		t.Fatalf("expected an empty quota without a client, got %+v err=%v", quota, err)
	}
}
