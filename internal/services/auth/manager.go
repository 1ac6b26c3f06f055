package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/venator/internal/interfaces"
	"github.com/ternarybob/venator/internal/models"
	"github.com/ternarybob/venator/internal/services/proxypool"
)

const (
	// sessionCookieName is the site's authentication cookie.
	sessionCookieName   = "li_at"
	sessionCookieDomain = ".linkedin.com"

	minCookieLength = 20
)

// Manager performs login flows and session validation through the browser
// layer. It implements sessions.Authenticator; the session store calls it at
// most once per pool at a time.
type Manager struct {
	browser interfaces.BrowserAutomation
	pool    *proxypool.Pool
	logger  arbor.ILogger
	nowFn   func() time.Time
}

// NewManager creates an authentication manager over the browser driver and
// proxy pool.
func NewManager(browser interfaces.BrowserAutomation, pool *proxypool.Pool, logger arbor.ILogger) *Manager {
	return &Manager{
		browser: browser,
		pool:    pool,
		logger:  logger,
		nowFn:   time.Now,
	}
}

// Authenticate establishes a logged-in session for the pool using the
// supplied material. Cookie mode validates the pre-obtained cookie with a
// single probe request; credential mode drives the full login flow in the
// browser. Both run through a pool proxy so the login origin matches the
// scraping origin.
func (m *Manager) Authenticate(ctx context.Context, poolName string, spec models.AuthSpec) (*models.Session, error) {
	proxy, err := m.pool.Acquire(nil)
	if err != nil {
		return nil, fmt.Errorf("no proxy available for authentication: %w", err)
	}

	var cookies []*network.Cookie
	switch spec.Mode {
	case models.AuthModeCookie:
		cookies, err = m.authenticateWithCookie(ctx, proxy, spec.Cookie)
	case models.AuthModeCredentials:
		cookies, err = m.authenticateWithCredentials(ctx, proxy, spec)
	default:
		m.pool.Release(proxy.ID, models.OutcomeSuccess)
		return nil, fmt.Errorf("unknown auth mode: %s", spec.Mode)
	}

	if err != nil {
		m.pool.Release(proxy.ID, releaseOutcome(err))
		m.logger.Warn().
			Str("pool", poolName).
			Str("mode", string(spec.Mode)).
			Str("proxy", proxy.ID).
			Err(err).
			Msg("Authentication failed")
		return nil, err
	}

	m.pool.Release(proxy.ID, models.OutcomeSuccess)

	now := m.nowFn()
	session := &models.Session{
		PoolName:   poolName,
		CookieJar:  cookies,
		AuthMode:   spec.Mode,
		CreatedAt:  now,
		LastUsedAt: now,
	}

	m.logger.Info().
		Str("pool", poolName).
		Str("mode", string(spec.Mode)).
		Int("cookies", len(cookies)).
		Msg("Session authenticated")

	return session, nil
}

// authenticateWithCookie builds a jar around the supplied session cookie and
// confirms the site accepts it with one probe request. A rejected or
// malformed cookie is fatal for the pool.
func (m *Manager) authenticateWithCookie(ctx context.Context, proxy *models.Proxy, cookie string) ([]*network.Cookie, error) {
	cookie = strings.TrimSpace(cookie)
	if err := validateCookieValue(cookie); err != nil {
		return nil, models.NewAuthError(models.AuthInvalidCookie, err)
	}

	jar := []*network.Cookie{
		{
			Name:     sessionCookieName,
			Value:    cookie,
			Domain:   sessionCookieDomain,
			Path:     "/",
			HTTPOnly: true,
			Secure:   true,
		},
	}

	if err := m.browser.Probe(ctx, proxy, jar); err != nil {
		var authErr *models.AuthError
		if errors.As(err, &authErr) {
			return nil, err
		}
		var proxyErr *models.ProxyConnectionError
		if errors.As(err, &proxyErr) {
			return nil, err
		}
		return nil, models.NewAuthError(models.AuthInvalidCookie, err)
	}

	return jar, nil
}

// authenticateWithCredentials drives the email and password login through
// the browser. The browser layer reports challenge pages and rejected
// credentials as AuthErrors; those pass through untouched so the caller can
// distinguish them from transient transport failures.
func (m *Manager) authenticateWithCredentials(ctx context.Context, proxy *models.Proxy, spec models.AuthSpec) ([]*network.Cookie, error) {
	if spec.Email == "" || spec.Password == "" {
		return nil, models.NewAuthError(models.AuthCredentialsRejected,
			errors.New("email and password are both required for credential auth"))
	}

	cookies, err := m.browser.Authenticate(ctx, proxy, spec)
	if err != nil {
		return nil, err
	}

	if !containsSessionCookie(cookies) {
		return nil, models.NewAuthError(models.AuthCredentialsRejected,
			errors.New("login completed without a session cookie"))
	}

	return cookies, nil
}

func validateCookieValue(cookie string) error {
	if cookie == "" {
		return errors.New("cookie is empty")
	}
	if len(cookie) < minCookieLength {
		return fmt.Errorf("cookie too short: %d characters", len(cookie))
	}
	if strings.ContainsAny(cookie, " \t\r\n;") {
		return errors.New("cookie contains invalid characters")
	}
	return nil
}

func containsSessionCookie(cookies []*network.Cookie) bool {
	for _, c := range cookies {
		if c.Name == sessionCookieName && c.Value != "" {
			return true
		}
	}
	return false
}

// releaseOutcome maps an authentication error to the proxy health outcome.
// Auth rejections are not the proxy's fault; only transport failures count
// against it.
func releaseOutcome(err error) models.ProxyOutcome {
	var proxyErr *models.ProxyConnectionError
	if errors.As(err, &proxyErr) {
		return models.OutcomeTransientFailure
	}
	var authErr *models.AuthError
	if errors.As(err, &authErr) {
		return models.OutcomeSuccess
	}
	return models.OutcomeTransientFailure
}
