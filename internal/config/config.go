// Package config loads the auction engine's settings from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// UnsoldPolicy decides what happens to a team whose round closes with no bid.
type UnsoldPolicy string

const (
	// UnsoldDrop removes the team from the auction for good.
	UnsoldDrop UnsoldPolicy = "drop"
	// UnsoldRequeueOnce puts the team back at the end of the queue the first
	// time it goes unsold and drops it the second time.
	UnsoldRequeueOnce UnsoldPolicy = "requeue_once"
)

// Config holds every runtime setting.
type Config struct {
	Port          int
	DatabaseURL   string
	RedisURL      string
	RedisCacheTTL time.Duration
	LogLevel      slog.Level
	CORSOrigins   []string

	RoundDuration   time.Duration
	SnipeThreshold  time.Duration
	SnipeExtension  time.Duration
	ResetDuration   time.Duration
	UnsoldPolicy    UnsoldPolicy
	AllowSelfRaise  bool
	MinParticipants int
	ShuffleTeams    bool
}

// Load reads configuration from environment variables. A .env file in the
// working directory is loaded first if present.
func Load() (*Config, error) {
	// Missing .env is fine outside local development.
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
	}

	var err error
	if cfg.Port, err = intVar("PORT", 8080); err != nil {
		return nil, err
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("PORT must be between 1 and 65535, got %d", cfg.Port)
	}
	if cfg.RedisCacheTTL, err = durationVar("REDIS_CACHE_TTL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.LogLevel, err = levelVar("LOG_LEVEL", slog.LevelInfo); err != nil {
		return nil, err
	}
	cfg.CORSOrigins = listVar("CORS_ORIGINS", []string{"*"})

	if cfg.RoundDuration, err = durationVar("ROUND_DURATION", 2*time.Minute); err != nil {
		return nil, err
	}
	if cfg.SnipeThreshold, err = durationVar("SNIPE_THRESHOLD", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.SnipeExtension, err = durationVar("SNIPE_EXTENSION", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.ResetDuration, err = durationVar("RESET_DURATION", 5*time.Minute); err != nil {
		return nil, err
	}

	cfg.UnsoldPolicy = UnsoldPolicy(strings.ToLower(envOr("UNSOLD_POLICY", string(UnsoldDrop))))
	if !cfg.UnsoldPolicy.Valid() {
		return nil, fmt.Errorf("UNSOLD_POLICY must be %q or %q, got %q", UnsoldDrop, UnsoldRequeueOnce, cfg.UnsoldPolicy)
	}

	if cfg.AllowSelfRaise, err = boolVar("ALLOW_SELF_RAISE", false); err != nil {
		return nil, err
	}
	if cfg.ShuffleTeams, err = boolVar("SHUFFLE_TEAMS", true); err != nil {
		return nil, err
	}
	if cfg.MinParticipants, err = intVar("MIN_PARTICIPANTS", 4); err != nil {
		return nil, err
	}
	if cfg.MinParticipants < 1 {
		return nil, fmt.Errorf("MIN_PARTICIPANTS must be positive, got %d", cfg.MinParticipants)
	}

	if cfg.RoundDuration <= 0 || cfg.ResetDuration <= 0 {
		return nil, fmt.Errorf("ROUND_DURATION and RESET_DURATION must be positive")
	}
	if cfg.SnipeThreshold < 0 || cfg.SnipeExtension < 0 {
		return nil, fmt.Errorf("SNIPE_THRESHOLD and SNIPE_EXTENSION must not be negative")
	}

	return cfg, nil
}

// Valid reports whether p is a known policy.
func (p UnsoldPolicy) Valid() bool {
	return p == UnsoldDrop || p == UnsoldRequeueOnce
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func intVar(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
	return n, nil
}

func boolVar(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
	return b, nil
}

func durationVar(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
	return d, nil
}

func levelVar(key string, fallback slog.Level) (slog.Level, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
	return lvl, nil
}

func listVar(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
