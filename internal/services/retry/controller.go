package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/venator/internal/models"
)

// Decision is the controller's verdict on a failed attempt.
type Decision struct {
	Kind        models.FailureKind
	Retry       bool
	Delay       time.Duration
	RotateProxy bool // rate limiting is IP-scoped, so it demands a new proxy
}

// Controller classifies failures and drives retry, backoff, and rotation
// decisions. The policy is constant for the run.
type Controller struct {
	policy models.RetryPolicy
	logger arbor.ILogger
}

// NewController creates a retry controller for the run's policy.
func NewController(policy models.RetryPolicy, logger arbor.ILogger) *Controller {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}
	if policy.BaseBackoff <= 0 {
		policy.BaseBackoff = time.Second
	}
	if policy.BackoffMultiplier < 1 {
		policy.BackoffMultiplier = 2.0
	}
	if policy.MaxBackoff <= 0 {
		policy.MaxBackoff = 30 * time.Second
	}

	return &Controller{
		policy: policy,
		logger: logger,
	}
}

// Policy returns the active retry policy.
func (c *Controller) Policy() models.RetryPolicy {
	return c.policy
}

// Classify maps an error to its failure kind.
func (c *Controller) Classify(err error) models.FailureKind {
	if err == nil {
		return models.FailureTransient
	}

	var rateErr *models.RateLimitError
	if errors.As(err, &rateErr) {
		return models.FailureRateLimited
	}

	var authErr *models.AuthError
	if errors.As(err, &authErr) {
		return models.FailureFatal
	}

	if errors.Is(err, models.ErrPoolExhausted) {
		// Nothing left to rotate to; retrying cannot help this task.
		return models.FailureFatal
	}

	var proxyErr *models.ProxyConnectionError
	if errors.As(err, &proxyErr) {
		return models.FailureTransient
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return models.FailureTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return models.FailureTransient
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return models.FailureTransient
	}

	// Unrecognized errors get one more chance rather than a silent terminal
	// failure.
	return models.FailureTransient
}

// Backoff calculates the delay before the given attempt is retried, with
// exponential growth, a hard cap, and proportional jitter. attempt is
// zero-based: the delay after the first failure is Backoff(0).
func (c *Controller) Backoff(attempt int) time.Duration {
	backoff := float64(c.policy.BaseBackoff) * math.Pow(c.policy.BackoffMultiplier, float64(attempt))
	if backoff > float64(c.policy.MaxBackoff) {
		backoff = float64(c.policy.MaxBackoff)
	}

	if c.policy.JitterRatio > 0 {
		jitter := backoff * c.policy.JitterRatio * (rand.Float64()*2 - 1)
		backoff += jitter
	}

	if backoff < 0 {
		backoff = float64(c.policy.BaseBackoff)
	}

	return time.Duration(backoff)
}

// Decide produces the retry decision for a failed attempt. attempt is the
// zero-based index of the attempt that just failed; once the policy's
// MaxAttempts is reached the task is terminal and the run moves on.
func (c *Controller) Decide(attempt int, err error) Decision {
	kind := c.Classify(err)

	if kind == models.FailureFatal {
		c.logger.Debug().
			Int("attempt", attempt+1).
			Err(err).
			Msg("Fatal failure, not retrying")
		return Decision{Kind: kind}
	}

	if attempt+1 >= c.policy.MaxAttempts {
		c.logger.Warn().
			Int("max_attempts", c.policy.MaxAttempts).
			Err(err).
			Msg("All retry attempts exhausted")
		return Decision{Kind: kind}
	}

	delay := c.Backoff(attempt)
	c.logger.Debug().
		Int("attempt", attempt+1).
		Str("kind", string(kind)).
		Dur("backoff", delay).
		Err(err).
		Msg("Retrying after backoff")

	return Decision{
		Kind:        kind,
		Retry:       true,
		Delay:       delay,
		RotateProxy: kind == models.FailureRateLimited,
	}
}
