package models

import "time"

// RotationPolicy governs how often the proxy bound to a session pool changes.
// Immutable per run.
type RotationPolicy string

const (
	RotationRecommended  RotationPolicy = "RECOMMENDED"
	RotationPerRequest   RotationPolicy = "PER_REQUEST"
	RotationUntilFailure RotationPolicy = "UNTIL_FAILURE"
)

// RetryPolicy is constant for the run and drives the backoff schedule.
type RetryPolicy struct {
	MaxAttempts       int           `json:"max_attempts" toml:"max_attempts" validate:"min=1"`
	BaseBackoff       time.Duration `json:"base_backoff" toml:"base_backoff"`
	BackoffMultiplier float64       `json:"backoff_multiplier" toml:"backoff_multiplier"`
	MaxBackoff        time.Duration `json:"max_backoff" toml:"max_backoff"`
	JitterRatio       float64       `json:"jitter_ratio" toml:"jitter_ratio"`
}
