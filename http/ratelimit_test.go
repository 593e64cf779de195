package http

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiterHostRates(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{DataAPIRPS: 5, SheetsRPS: 2})

	tests := []struct {
		host string
		want float64
	}{
		{HostYouTube, 5},
		{HostGoogleAPIs, 5},
		{HostSheets, 2},
		{"oauth2.googleapis.com", 0},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			if got := rl.RPS(tt.host); got != tt.want {
				t.Errorf("RPS(%s) = %v, want %v", tt.host, got, tt.want)
			}
		})
	}
}

func TestRateLimiterUnlimitedHostDoesNotWait(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 50; i++ {
		if err := rl.Wait(ctx, "oauth2.googleapis.com"); err != nil {
			t.Fatal(err)
		}
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("unlimited host should not be throttled")
	}
}

func TestRateLimiterContextCanceled(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{SheetsRPS: 0.1})
	ctx, cancel := context.WithCancel(context.Background())

	if err := rl.Wait(ctx, HostSheets); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	cancel()
	if err := rl.Wait(ctx, HostSheets); err == nil {
		t.Error("expected error after cancel")
	}
}

func TestRecordRateLimitErrorBackoff(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{DataAPIRPS: 8, EnableDynamicBackoff: true})
	rl.Wait(context.Background(), HostYouTube)

	if d := rl.RecordRateLimitError(HostYouTube, 0); d != InitialBackoff {
		t.Errorf("first backoff = %v, want %v", d, InitialBackoff)
	}
	if d := rl.RecordRateLimitError(HostYouTube, 0); d != 2*InitialBackoff {
		t.Errorf("second backoff = %v", d)
	}
	if got := rl.RPS(HostYouTube); got != 4 {
		t.Errorf("reduced RPS = %v, want 4", got)
	}
	if d := rl.RecordRateLimitError(HostYouTube, 10*time.Second); d != 10*time.Second {
		t.Errorf("Retry-After should win, got %v", d)
	}
	if got := rl.RPS(HostYouTube); got != 2 {
		t.Errorf("min RPS = %v, want 2", got)
	}
}

func TestRecordSuccessRestoresAfterCooldown(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{DataAPIRPS: 8, EnableDynamicBackoff: true})
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.RecordRateLimitError(HostYouTube, 0)
	if rl.Backoff(HostYouTube) == nil {
		t.Fatal("expected backoff state")
	}

	now = now.Add(BackoffCooldownPeriod + time.Second)
	rl.RecordSuccess(HostYouTube)
	if rl.Backoff(HostYouTube) != nil {
		t.Error("backoff should clear after cooldown")
	}
	if got := rl.RPS(HostYouTube); got != 8 {
		t.Errorf("RPS = %v, want 8", got)
	}
}

func TestWaitForBackoffElapsed(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{EnableDynamicBackoff: true})
	now := time.Now()
	rl.now = func() time.Time { return now }
	rl.RecordRateLimitError(HostSheets, 0)

	now = now.Add(2 * InitialBackoff)
	start := time.Now()
	if err := rl.WaitForBackoff(context.Background(), HostSheets); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("elapsed backoff should not wait")
	}
}

func TestDynamicBackoffDisabled(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{})
	if d := rl.RecordRateLimitError(HostSheets, 3*time.Second); d != 3*time.Second {
		t.Errorf("got %v", d)
	}
	if rl.Backoff(HostSheets) != nil {
		t.Error("no state expected when disabled")
	}
}
