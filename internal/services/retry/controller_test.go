package retry

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/venator/internal/models"
)

func testPolicy() models.RetryPolicy {
	return models.RetryPolicy{
		MaxAttempts:       4,
		BaseBackoff:       100 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxBackoff:        time.Second,
		JitterRatio:       0,
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	c := NewController(testPolicy(), arbor.NewLogger())

	tests := []struct {
		name string
		err  error
		want models.FailureKind
	}{
		{"rate limit", &models.RateLimitError{ProxyID: "proxy_1", StatusCode: 429}, models.FailureRateLimited},
		{"auth rejected", models.NewAuthError(models.AuthCredentialsRejected, errors.New("bad password")), models.FailureFatal},
		{"invalid cookie", models.NewAuthError(models.AuthInvalidCookie, nil), models.FailureFatal},
		{"pool exhausted", models.ErrPoolExhausted, models.FailureFatal},
		{"wrapped pool exhausted", errors.Join(errors.New("acquire"), models.ErrPoolExhausted), models.FailureFatal},
		{"proxy connection", &models.ProxyConnectionError{ProxyID: "proxy_1", Err: errors.New("reset")}, models.FailureTransient},
		{"deadline", context.DeadlineExceeded, models.FailureTransient},
		{"net timeout", net.Error(timeoutErr{}), models.FailureTransient},
		{"unknown", errors.New("something odd"), models.FailureTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.err))
		})
	}
}

func TestBackoff_ExponentialSequence(t *testing.T) {
	c := NewController(testPolicy(), arbor.NewLogger())

	assert.Equal(t, 100*time.Millisecond, c.Backoff(0))
	assert.Equal(t, 200*time.Millisecond, c.Backoff(1))
	assert.Equal(t, 400*time.Millisecond, c.Backoff(2))
	assert.Equal(t, 800*time.Millisecond, c.Backoff(3))
	assert.Equal(t, time.Second, c.Backoff(4), "backoff must cap at max")
	assert.Equal(t, time.Second, c.Backoff(10))
}

func TestBackoff_JitterStaysInBand(t *testing.T) {
	policy := testPolicy()
	policy.JitterRatio = 0.25
	c := NewController(policy, arbor.NewLogger())

	for i := 0; i < 200; i++ {
		d := c.Backoff(1)
		assert.GreaterOrEqual(t, d, 150*time.Millisecond)
		assert.LessOrEqual(t, d, 250*time.Millisecond)
	}
}

func TestDecide_RetriesTransientUntilExhausted(t *testing.T) {
	c := NewController(testPolicy(), arbor.NewLogger())
	cause := &models.ProxyConnectionError{ProxyID: "proxy_1", Err: errors.New("reset")}

	for attempt := 0; attempt < 3; attempt++ {
		d := c.Decide(attempt, cause)
		assert.True(t, d.Retry, "attempt %d should retry", attempt)
		assert.False(t, d.RotateProxy)
		assert.Greater(t, d.Delay, time.Duration(0))
	}

	final := c.Decide(3, cause)
	assert.False(t, final.Retry, "max attempts reached")
	assert.Equal(t, models.FailureTransient, final.Kind)
}

func TestDecide_FatalNeverRetries(t *testing.T) {
	c := NewController(testPolicy(), arbor.NewLogger())

	d := c.Decide(0, models.NewAuthError(models.AuthChallengeRequired, nil))
	assert.False(t, d.Retry)
	assert.Equal(t, models.FailureFatal, d.Kind)
}

func TestDecide_RateLimitForcesRotation(t *testing.T) {
	c := NewController(testPolicy(), arbor.NewLogger())

	d := c.Decide(0, &models.RateLimitError{ProxyID: "proxy_1", StatusCode: 429})
	assert.True(t, d.Retry)
	assert.True(t, d.RotateProxy)
	assert.Equal(t, models.FailureRateLimited, d.Kind)
}

func TestNewController_DefaultsApplied(t *testing.T) {
	c := NewController(models.RetryPolicy{}, arbor.NewLogger())

	assert.Equal(t, 3, c.Policy().MaxAttempts)
	assert.Equal(t, time.Second, c.Policy().BaseBackoff)
	assert.Equal(t, 30*time.Second, c.Policy().MaxBackoff)
}
