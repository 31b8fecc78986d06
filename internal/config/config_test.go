package config

import (
	"testing"
	"time"
)

func TestLoad_EmbeddedDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("http.addr = %q", cfg.HTTP.Addr)
	}
	if cfg.Scheduler.TickInterval != 30*time.Second {
		t.Errorf("scheduler.tick_interval = %v", cfg.Scheduler.TickInterval)
	}
	if cfg.Scheduler.Send.MaxAttempts != 3 {
		t.Errorf("scheduler.send.max_attempts = %d", cfg.Scheduler.Send.MaxAttempts)
	}
	if len(cfg.Scheduler.Send.BackoffMs) != 2 || cfg.Scheduler.Send.BackoffMs[0] != 2000 {
		t.Errorf("scheduler.send.backoff_ms = %v", cfg.Scheduler.Send.BackoffMs)
	}
	if cfg.Webhook.TimeoutMs != 10000 || cfg.Webhook.MaxAttempts != 3 {
		t.Errorf("webhook defaults = %+v", cfg.Webhook)
	}
	if len(cfg.Providers) == 0 {
		t.Fatal("expected at least one default provider")
	}
	if cfg.Providers[0].Breaker.FailThreshold != 3 {
		t.Errorf("provider breaker = %+v", cfg.Providers[0].Breaker)
	}
	if len(cfg.Kafka.Brokers) == 0 {
		t.Error("kafka brokers missing")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("CAMPD_HTTP.ADDR", ":9999")
	t.Setenv("CAMPD_RATE_LIMIT.RPS", "99")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Addr != ":9999" {
		t.Errorf("env override not applied: http.addr = %q", cfg.HTTP.Addr)
	}
	if cfg.RateLimit.RPS != 99 {
		t.Errorf("env override not applied: rate_limit.rps = %d", cfg.RateLimit.RPS)
	}
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/config.yaml")
	if err != nil {
		t.Fatalf("Load with missing file must still succeed: %v", err)
	}
	if cfg.HTTP.Addr == "" {
		t.Error("defaults not applied")
	}
}
