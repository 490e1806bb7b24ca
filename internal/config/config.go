package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr            string
	DBPath          string
	JWTSecret       string
	TokenTTL        time.Duration
	ChallengeTTL    time.Duration
	ChallengeOrigin string
	RateLimits      RateLimits
	Version         string
}

type RateLimits struct {
	ChallengePerMinute int
	VerifyPerMinute    int
}

func Load() Config {
	addr := envString("ARKAUTH_ADDR", "")
	if addr == "" {
		if port := os.Getenv("PORT"); port != "" {
			addr = ":" + port
		} else {
			addr = ":8080"
		}
	}
	cfg := Config{
		Addr:            addr,
		DBPath:          envString("ARKAUTH_DB", "arkauth.db"),
		JWTSecret:       envString("ARKAUTH_JWT_SECRET", "dev-jwt-secret"),
		TokenTTL:        envDuration("ARKAUTH_TOKEN_TTL", 7*24*time.Hour),
		ChallengeTTL:    envDuration("ARKAUTH_CHALLENGE_TTL", 5*time.Minute),
		ChallengeOrigin: envString("ARKAUTH_CHALLENGE_ORIGIN", "https://api.local"),
		RateLimits: RateLimits{
			ChallengePerMinute: envInt("ARKAUTH_RL_CHALLENGE_PER_MIN", 30),
			VerifyPerMinute:    envInt("ARKAUTH_RL_VERIFY_PER_MIN", 60),
		},
		Version: "0.1.0",
	}

	return cfg
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
