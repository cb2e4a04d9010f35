package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{
		"PORT", "DATABASE_URL", "REDIS_URL", "REDIS_CACHE_TTL", "LOG_LEVEL",
		"CORS_ORIGINS", "ROUND_DURATION", "SNIPE_THRESHOLD", "SNIPE_EXTENSION",
		"RESET_DURATION", "UNSOLD_POLICY", "ALLOW_SELF_RAISE", "MIN_PARTICIPANTS",
		"SHUFFLE_TEAMS",
	} {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.RoundDuration != 2*time.Minute {
		t.Errorf("RoundDuration = %v, want 2m", cfg.RoundDuration)
	}
	if cfg.ResetDuration != 5*time.Minute {
		t.Errorf("ResetDuration = %v, want 5m", cfg.ResetDuration)
	}
	if cfg.SnipeThreshold != 30*time.Second || cfg.SnipeExtension != 30*time.Second {
		t.Errorf("snipe = %v/%v, want 30s/30s", cfg.SnipeThreshold, cfg.SnipeExtension)
	}
	if cfg.UnsoldPolicy != UnsoldDrop {
		t.Errorf("UnsoldPolicy = %q, want drop", cfg.UnsoldPolicy)
	}
	if cfg.AllowSelfRaise {
		t.Error("AllowSelfRaise should default to false")
	}
	if !cfg.ShuffleTeams {
		t.Error("ShuffleTeams should default to true")
	}
	if cfg.MinParticipants != 4 {
		t.Errorf("MinParticipants = %d, want 4", cfg.MinParticipants)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want info", cfg.LogLevel)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "*" {
		t.Errorf("CORSOrigins = %v, want [*]", cfg.CORSOrigins)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ROUND_DURATION", "45s")
	t.Setenv("UNSOLD_POLICY", "REQUEUE_ONCE")
	t.Setenv("ALLOW_SELF_RAISE", "true")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9090 {
		t.Errorf("Port = %d", cfg.Port)
	}
	if cfg.RoundDuration != 45*time.Second {
		t.Errorf("RoundDuration = %v", cfg.RoundDuration)
	}
	if cfg.UnsoldPolicy != UnsoldRequeueOnce {
		t.Errorf("UnsoldPolicy = %q", cfg.UnsoldPolicy)
	}
	if !cfg.AllowSelfRaise {
		t.Error("AllowSelfRaise should be true")
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v", cfg.LogLevel)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"PORT", "abc"},
		{"PORT", "70000"},
		{"ROUND_DURATION", "soon"},
		{"ROUND_DURATION", "0s"},
		{"SNIPE_THRESHOLD", "-1s"},
		{"UNSOLD_POLICY", "auction_off"},
		{"ALLOW_SELF_RAISE", "maybe"},
		{"MIN_PARTICIPANTS", "0"},
		{"LOG_LEVEL", "loud"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%q", tt.key, tt.value)
			}
		})
	}
}
