package interfaces

import (
	"context"

	"github.com/chromedp/cdproto/network"
	"github.com/ternarybob/venator/internal/models"
)

// BrowserAutomation is the driver that renders pages and performs login
// flows. Both calls are fallible, possibly slow, network-bound operations;
// the orchestration core treats them as such and never assumes success.
type BrowserAutomation interface {
	// Authenticate drives a login through the browser, routed via the given
	// proxy, and returns the resulting cookie jar.
	Authenticate(ctx context.Context, proxy *models.Proxy, spec models.AuthSpec) ([]*network.Cookie, error)

	// Probe performs a single lightweight request with the cookie jar
	// attached to confirm the session is still accepted by the site.
	Probe(ctx context.Context, proxy *models.Proxy, cookies []*network.Cookie) error

	// FetchPage renders the target URL with the session's cookies attached
	// and returns the raw page content.
	FetchPage(ctx context.Context, proxy *models.Proxy, session *models.Session, url string) (string, error)

	Close() error
}
