// Package config resolves runtime configuration from the environment.
// A .env file in the working directory is loaded first when present, so
// local development does not need exported variables.
package config

import (
	"time"

	"github.com/joho/godotenv"

	"github.com/coinflow-io/coinflow/pkg/utils"
)

// Config carries every tunable the pipeline reads at startup.
type Config struct {
	// StorePath is the sqlite database file. ":memory:" is accepted for tests.
	StorePath string

	// APIBaseURL is the upstream market data provider.
	APIBaseURL string

	// RateLimitDelay is the unconditional pacing delay before every upstream
	// request.
	RateLimitDelay time.Duration

	// MaxRetries bounds client-side retries on transient failures.
	MaxRetries int

	// ArtifactDir is where report and chart artifacts are written.
	ArtifactDir string

	// Addr is the listen address of the job invocation surface.
	Addr string
}

// Load reads the configuration from the environment, applying defaults.
func Load() *Config {
	// Ignore a missing .env; exported variables still apply.
	_ = godotenv.Load()

	return &Config{
		StorePath:      utils.Env("STORE_PATH", "data/coinflow.db"),
		APIBaseURL:     utils.Env("API_BASE_URL", "https://api.coingecko.com/api/v3"),
		RateLimitDelay: utils.EnvDuration("RATE_LIMIT_DELAY", 2*time.Second),
		MaxRetries:     utils.EnvInt("MAX_RETRIES", 3),
		ArtifactDir:    utils.Env("ARTIFACT_DIR", "data/artifacts"),
		Addr:           utils.Env("ADDR", ":3010"),
	}
}
