package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DEFAULT_EXCHANGE_RATE", "")
	t.Setenv("DEFAULT_WARRANTY_MONTHS", "")
	t.Setenv("RATE_CACHE_TTL_SECONDS", "")

	cfg := Load()
	if cfg.DefaultExchangeRate != 4100 {
		t.Fatalf("expected default rate 4100, got %v", cfg.DefaultExchangeRate)
	}
	if cfg.DefaultWarrantyMonths != 12 {
		t.Fatalf("expected default warranty 12 months, got %d", cfg.DefaultWarrantyMonths)
	}
	if cfg.RateCacheTTLSeconds != 300 {
		t.Fatalf("expected rate cache ttl 300, got %d", cfg.RateCacheTTLSeconds)
	}
}

func TestLoadRejectsAbsurdRate(t *testing.T) {
	t.Setenv("DEFAULT_EXCHANGE_RATE", "50")

	cfg := Load()
	if cfg.DefaultExchangeRate != 4100 {
		t.Fatalf("expected out-of-range rate to fall back to 4100, got %v", cfg.DefaultExchangeRate)
	}
}

func TestKHQRConfigured(t *testing.T) {
	t.Setenv("BAKONG_EMAIL", "shop@example.com")
	t.Setenv("BAKONG_TOKEN", "")

	if Load().KHQRConfigured() {
		t.Fatalf("expected KHQR unconfigured without token")
	}

	t.Setenv("BAKONG_TOKEN", "tok")
	if !Load().KHQRConfigured() {
		t.Fatalf("expected KHQR configured with email and token")
	}
}
