package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/venator/internal/common"
	"github.com/ternarybob/venator/internal/models"
)

const (
	loginURL = "https://www.linkedin.com/login"
	probeURL = "https://www.linkedin.com/feed/"
)

// stealthScript masks the automation fingerprints Chrome exposes before any
// page script runs.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', {get: () => undefined});
Object.defineProperty(navigator, 'plugins', {get: () => [1, 2, 3, 4, 5]});
Object.defineProperty(navigator, 'languages', {get: () => ['en-US', 'en']});
window.chrome = window.chrome || {runtime: {}};
`

// defaultUserAgents is rotated across browser instances when the config does
// not supply its own list.
var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

// Driver renders pages and performs login flows with chromedp. Each call
// gets its own allocator so the proxy can differ per request; browser reuse
// across proxies would leak the previous exit IP.
type Driver struct {
	cfg    common.BrowserConfig
	logger arbor.ILogger

	mu      sync.Mutex
	uaIndex int
}

// NewDriver creates a chromedp driver with the given configuration.
func NewDriver(cfg common.BrowserConfig, logger arbor.ILogger) *Driver {
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = 60 * time.Second
	}
	if cfg.LoginTimeout <= 0 {
		cfg.LoginTimeout = 90 * time.Second
	}
	if cfg.RenderWaitTime <= 0 {
		cfg.RenderWaitTime = 3 * time.Second
	}
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = defaultUserAgents
	}

	return &Driver{
		cfg:    cfg,
		logger: logger,
	}
}

// nextUserAgent rotates through the configured user agents round-robin.
func (d *Driver) nextUserAgent() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	ua := d.cfg.UserAgents[d.uaIndex%len(d.cfg.UserAgents)]
	d.uaIndex++
	return ua
}

// newBrowserContext builds an allocator and browser context routed through
// the given proxy. The returned cleanup must be called when the page work is
// done.
func (d *Driver) newBrowserContext(ctx context.Context, proxy *models.Proxy) (context.Context, func(), error) {
	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", d.cfg.Headless),
		chromedp.Flag("disable-gpu", d.cfg.DisableGPU),
		chromedp.Flag("no-sandbox", d.cfg.NoSandbox),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("window-size", "1920,1080"),
		chromedp.UserAgent(d.nextUserAgent()),
	)
	if proxy != nil {
		// chromedp takes host:port only; gateway auth is IP-allowlisted.
		opts = append(opts, chromedp.ProxyServer(proxyServerAddress(proxy.URL)))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	cleanup := func() {
		browserCancel()
		allocCancel()
	}

	if err := chromedp.Run(browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
		return err
	})); err != nil {
		cleanup()
		return nil, nil, wrapNavigationError(proxy, fmt.Errorf("browser startup: %w", err))
	}

	return browserCtx, cleanup, nil
}

// Authenticate drives the email and password login flow and returns the
// resulting cookie jar. Challenge pages and rejected credentials come back
// as AuthErrors so the caller can tell them apart from transport failures.
func (d *Driver) Authenticate(ctx context.Context, proxy *models.Proxy, spec models.AuthSpec) ([]*network.Cookie, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.LoginTimeout)
	defer cancel()

	browserCtx, cleanup, err := d.newBrowserContext(ctx, proxy)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	var currentURL string
	err = chromedp.Run(browserCtx,
		chromedp.Navigate(loginURL),
		chromedp.WaitVisible(`#username`, chromedp.ByID),
		chromedp.SendKeys(`#username`, spec.Email, chromedp.ByID),
		chromedp.SendKeys(`#password`, spec.Password, chromedp.ByID),
		chromedp.Click(`button[type="submit"]`, chromedp.ByQuery),
		chromedp.Sleep(d.cfg.RenderWaitTime),
		chromedp.Location(&currentURL),
	)
	if err != nil {
		return nil, wrapNavigationError(proxy, err)
	}

	switch {
	case strings.Contains(currentURL, "/checkpoint/") || strings.Contains(currentURL, "challenge"):
		return nil, models.NewAuthError(models.AuthChallengeRequired,
			fmt.Errorf("login landed on challenge page: %s", currentURL))
	case strings.Contains(currentURL, "/login"):
		return nil, models.NewAuthError(models.AuthCredentialsRejected,
			errors.New("login page rejected the credentials"))
	}

	var cookies []*network.Cookie
	err = chromedp.Run(browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = storage.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, wrapNavigationError(proxy, err)
	}

	d.logger.Debug().
		Str("proxy", proxy.ID).
		Int("cookies", len(cookies)).
		Msg("Login flow captured cookie jar")

	return cookies, nil
}

// Probe performs one lightweight request with the cookie jar attached. A
// redirect back to the login page means the site does not accept the jar.
func (d *Driver) Probe(ctx context.Context, proxy *models.Proxy, cookies []*network.Cookie) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.PageTimeout)
	defer cancel()

	browserCtx, cleanup, err := d.newBrowserContext(ctx, proxy)
	if err != nil {
		return err
	}
	defer cleanup()

	var currentURL string
	err = chromedp.Run(browserCtx,
		setCookiesAction(cookies),
		chromedp.Navigate(probeURL),
		chromedp.Sleep(d.cfg.RenderWaitTime),
		chromedp.Location(&currentURL),
	)
	if err != nil {
		return wrapNavigationError(proxy, err)
	}

	if isLoggedOutURL(currentURL) {
		return models.NewAuthError(models.AuthInvalidCookie,
			fmt.Errorf("probe redirected to %s", currentURL))
	}

	return nil
}

// FetchPage renders the target URL with the session's cookies attached and
// returns the document HTML. Rate limit responses and session logouts are
// reported as their typed errors so retry classification stays accurate.
func (d *Driver) FetchPage(ctx context.Context, proxy *models.Proxy, session *models.Session, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.PageTimeout)
	defer cancel()

	browserCtx, cleanup, err := d.newBrowserContext(ctx, proxy)
	if err != nil {
		return "", err
	}
	defer cleanup()

	// Watch the main document response for rate limit status codes. The
	// listener fires on the CDP event goroutine, so the status is atomic.
	var statusCode atomic.Int64
	chromedp.ListenTarget(browserCtx, func(ev interface{}) {
		recordDocumentStatus(&statusCode, ev)
	})

	var html, currentURL string
	err = chromedp.Run(browserCtx,
		network.Enable(),
		setCookiesAction(session.CookieJar),
		chromedp.Navigate(url),
		chromedp.Sleep(d.cfg.RenderWaitTime),
		chromedp.Location(&currentURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", wrapNavigationError(proxy, err)
	}

	if code := statusCode.Load(); code == 429 || code == 999 {
		return "", &models.RateLimitError{ProxyID: proxy.ID, StatusCode: int(code)}
	}
	if isLoggedOutURL(currentURL) {
		return "", fmt.Errorf("target redirected to %s: %w", currentURL, models.ErrSessionExpired)
	}

	d.logger.Debug().
		Str("proxy", proxy.ID).
		Str("url", url).
		Int("bytes", len(html)).
		Msg("Page fetched")

	return html, nil
}

// Close releases driver resources. Browser contexts are per call, so there
// is nothing long-lived to tear down.
func (d *Driver) Close() error {
	return nil
}

// recordDocumentStatus stores the status of the first main-document response
// seen on the event stream. Later documents (redirect chains settle on the
// first) and subresource responses are ignored.
func recordDocumentStatus(code *atomic.Int64, ev interface{}) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		if resp.Type == network.ResourceTypeDocument {
			code.CompareAndSwap(0, resp.Response.Status)
		}
	}
}

// setCookiesAction installs the jar into the browser before navigation.
func setCookiesAction(cookies []*network.Cookie) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range cookies {
			err := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(c.Path).
				WithHTTPOnly(c.HTTPOnly).
				WithSecure(c.Secure).
				Do(ctx)
			if err != nil {
				return fmt.Errorf("set cookie %s: %w", c.Name, err)
			}
		}
		return nil
	})
}

// proxyServerAddress strips the scheme prefix credentials cannot ride along
// with; Chrome expects scheme://host:port at most.
func proxyServerAddress(proxyURL string) string {
	if at := strings.LastIndex(proxyURL, "@"); at >= 0 {
		if scheme := strings.Index(proxyURL, "://"); scheme >= 0 {
			return proxyURL[:scheme+3] + proxyURL[at+1:]
		}
		return proxyURL[at+1:]
	}
	return proxyURL
}

func isLoggedOutURL(url string) bool {
	return strings.Contains(url, "/login") ||
		strings.Contains(url, "/authwall") ||
		strings.Contains(url, "/uas/login")
}

// wrapNavigationError types proxy transport failures so the retry layer can
// classify them; other navigation errors pass through unchanged.
func wrapNavigationError(proxy *models.Proxy, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "ERR_PROXY_CONNECTION_FAILED") ||
		strings.Contains(msg, "ERR_TUNNEL_CONNECTION_FAILED") ||
		strings.Contains(msg, "ERR_CONNECTION_RESET") ||
		strings.Contains(msg, "ERR_CONNECTION_TIMED_OUT") ||
		strings.Contains(msg, "ERR_SOCKS_CONNECTION_FAILED") {
		id := ""
		if proxy != nil {
			id = proxy.ID
		}
		return &models.ProxyConnectionError{ProxyID: id, Err: err}
	}
	return err
}
