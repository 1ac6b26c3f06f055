package models

import (
	"fmt"
	"net/url"
	"time"
)

// ProxyGroup identifies the class of egress a proxy belongs to
type ProxyGroup string

const (
	ProxyGroupResidential ProxyGroup = "RESIDENTIAL"
	ProxyGroupDatacenter  ProxyGroup = "DATACENTER"
)

// ProxyOutcome is reported back to the pool when a lease is released
type ProxyOutcome string

const (
	OutcomeSuccess          ProxyOutcome = "SUCCESS"
	OutcomeTransientFailure ProxyOutcome = "TRANSIENT_FAILURE"
	OutcomeFatalFailure     ProxyOutcome = "FATAL_FAILURE"
)

// Value returns the health-score contribution of an outcome, used by the
// pool's exponential moving average.
func (o ProxyOutcome) Value() float64 {
	switch o {
	case OutcomeSuccess:
		return 1.0
	case OutcomeTransientFailure:
		return 0.3
	default:
		return 0.0
	}
}

// Proxy represents a single egress endpoint with its health metadata.
// Owned exclusively by the proxy pool; callers only ever see copies.
type Proxy struct {
	ID                  string     `json:"id"`
	URL                 string     `json:"url"`
	Group               ProxyGroup `json:"group"`
	Country             string     `json:"country,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	HealthScore         float64    `json:"health_score"`
	LastUsedAt          time.Time  `json:"last_used_at"`
	QuarantinedUntil    time.Time  `json:"quarantined_until,omitempty"`
}

// Quarantined reports whether the proxy is excluded from acquisition at the
// given instant.
func (p *Proxy) Quarantined(now time.Time) bool {
	return !p.QuarantinedUntil.IsZero() && now.Before(p.QuarantinedUntil)
}

// ValidateProxyURL checks that a configured proxy URL is parseable and uses a
// supported scheme.
func ValidateProxyURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid proxy url %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http", "https", "socks5":
	default:
		return fmt.Errorf("unsupported proxy scheme %q in %q", u.Scheme, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("proxy url %q has no host", raw)
	}
	return nil
}

// ProxyConfiguration mirrors the input configuration consumed by the pool.
// Either a static list of proxy URLs or a managed group/country selection.
type ProxyConfiguration struct {
	UseManagedProxy bool         `json:"use_managed_proxy" toml:"use_managed_proxy"`
	ProxyGroups     []ProxyGroup `json:"proxy_groups" toml:"proxy_groups"`
	Country         string       `json:"country" toml:"country"`
	ProxyURLs       []string     `json:"proxy_urls" toml:"proxy_urls"`
}
