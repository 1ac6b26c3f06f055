package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/venator/internal/models"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "venator.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNewDefaultConfig(t *testing.T) {
	config := NewDefaultConfig()

	assert.Equal(t, "development", config.Environment)
	assert.Equal(t, 0.3, config.ProxyPool.HealthAlpha)
	assert.Equal(t, 3, config.ProxyPool.QuarantineThreshold)
	assert.Equal(t, 5*time.Minute, config.ProxyPool.QuarantineCooldown)
	assert.Equal(t, models.RotationRecommended, config.Rotation.Policy)
	assert.Equal(t, 3, config.Retry.MaxAttempts)
	assert.Equal(t, 0.25, config.Retry.JitterRatio)
	assert.Equal(t, 3, config.Workers.Concurrency)
}

func TestLoadFromFiles_FileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
[rotation]
policy = "UNTIL_FAILURE"

[retry]
max_attempts = 5

[auth]
mode = "COOKIE"
cookie = "abcdefghijklmnopqrstuvwxyz"

[proxy]
proxy_urls = ["http://proxy.example:8080"]
`)

	config, err := LoadFromFiles(path)
	require.NoError(t, err)

	assert.Equal(t, models.RotationUntilFailure, config.Rotation.Policy)
	assert.Equal(t, 5, config.Retry.MaxAttempts)
	assert.Equal(t, "development", config.Environment, "unset keys keep defaults")
}

func TestLoadFromFiles_LaterFileWins(t *testing.T) {
	first := writeConfigFile(t, `
[rotation]
policy = "PER_REQUEST"

[auth]
cookie = "abcdefghijklmnopqrstuvwxyz"
`)
	second := writeConfigFile(t, `
[rotation]
policy = "UNTIL_FAILURE"
`)

	config, err := LoadFromFiles(first, second)
	require.NoError(t, err)
	assert.Equal(t, models.RotationUntilFailure, config.Rotation.Policy)
}

func TestLoadFromFiles_EnvOverridesFile(t *testing.T) {
	t.Setenv("VENATOR_ROTATION_POLICY", "PER_REQUEST")
	t.Setenv("VENATOR_AUTH_COOKIE", "abcdefghijklmnopqrstuvwxyz")

	path := writeConfigFile(t, `
[rotation]
policy = "UNTIL_FAILURE"
`)

	config, err := LoadFromFiles(path)
	require.NoError(t, err)
	assert.Equal(t, models.RotationPerRequest, config.Rotation.Policy)
	assert.Equal(t, "abcdefghijklmnopqrstuvwxyz", config.Auth.Cookie)
}

func TestLoadFromFiles_MissingFile(t *testing.T) {
	_, err := LoadFromFiles("/nonexistent/venator.toml")
	assert.Error(t, err)
}

func TestValidate_RejectsBadRotationPolicy(t *testing.T) {
	config := NewDefaultConfig()
	config.Auth.Cookie = "abcdefghijklmnopqrstuvwxyz"
	config.Rotation.Policy = "SOMETIMES"

	assert.Error(t, config.Validate())
}

func TestValidate_RejectsBadProxyURL(t *testing.T) {
	config := NewDefaultConfig()
	config.Auth.Cookie = "abcdefghijklmnopqrstuvwxyz"
	config.Proxy.ProxyURLs = []string{"ftp://nope.example"}

	assert.Error(t, config.Validate())
}

func TestValidate_RequiresAuthMaterial(t *testing.T) {
	config := NewDefaultConfig()
	assert.Error(t, config.Validate(), "cookie mode with no cookie and no credentials is unusable")

	config.Auth.Cookie = "abcdefghijklmnopqrstuvwxyz"
	assert.NoError(t, config.Validate())
}

func TestFailureRetention(t *testing.T) {
	config := NewDefaultConfig()
	assert.Equal(t, 24*time.Hour, config.FailureRetention())

	config.Sweeper.FailureRetention = "72h"
	assert.Equal(t, 72*time.Hour, config.FailureRetention())

	config.Sweeper.FailureRetention = "garbage"
	assert.Equal(t, 24*time.Hour, config.FailureRetention(), "unparseable retention falls back")
}
