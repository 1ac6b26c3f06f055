package models

import (
	"time"

	"github.com/chromedp/cdproto/network"
)

// AuthMode records how a session was established
type AuthMode string

const (
	AuthModeCookie      AuthMode = "COOKIE"
	AuthModeCredentials AuthMode = "CREDENTIALS"
)

// SessionTTL is the inactivity expiry window. A session whose LastUsedAt is
// older than this must never be handed out again.
const SessionTTL = 24 * time.Hour

// Session is an authenticated browsing state bound to a named session pool.
// The cookie jar is the serialized browser cookie set captured after login.
type Session struct {
	PoolName     string            `json:"pool_name"`
	CookieJar    []*network.Cookie `json:"cookie_jar"`
	AuthMode     AuthMode          `json:"auth_mode"`
	BoundProxyID string            `json:"bound_proxy_id,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	LastUsedAt   time.Time         `json:"last_used_at"`
}

// ExpiresAt derives the expiry instant from the last use. Kept as a method so
// the invariant expiresAt = lastUsedAt + TTL cannot drift.
func (s *Session) ExpiresAt() time.Time {
	return s.LastUsedAt.Add(SessionTTL)
}

// Expired reports whether the session may no longer be reused.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt())
}

// Touch refreshes the inactivity window after a successful use.
func (s *Session) Touch(now time.Time) {
	s.LastUsedAt = now
}

// SessionRecord is the durable form of a session pool entry, persisted in the
// key-value store keyed by pool name. A missing or corrupt record is treated
// as "no session", never as a fatal error.
type SessionRecord struct {
	PoolName     string            `json:"pool_name" badgerhold:"key"`
	CookieJar    []*network.Cookie `json:"cookie_jar"`
	BoundProxyID string            `json:"bound_proxy_id,omitempty"`
	AuthMode     AuthMode          `json:"auth_mode"`
	CreatedAt    time.Time         `json:"created_at"`
	LastUsedAt   time.Time         `json:"last_used_at"`
}

// ToSession rehydrates the in-memory session from its persisted record.
func (r *SessionRecord) ToSession() *Session {
	return &Session{
		PoolName:     r.PoolName,
		CookieJar:    r.CookieJar,
		AuthMode:     r.AuthMode,
		BoundProxyID: r.BoundProxyID,
		CreatedAt:    r.CreatedAt,
		LastUsedAt:   r.LastUsedAt,
	}
}

// ToRecord converts a session to its durable form.
func (s *Session) ToRecord() *SessionRecord {
	return &SessionRecord{
		PoolName:     s.PoolName,
		CookieJar:    s.CookieJar,
		BoundProxyID: s.BoundProxyID,
		AuthMode:     s.AuthMode,
		CreatedAt:    s.CreatedAt,
		LastUsedAt:   s.LastUsedAt,
	}
}

// AuthSpec is the caller-supplied authentication material: either a
// pre-obtained site cookie or email+password credentials.
type AuthSpec struct {
	Mode     AuthMode `json:"mode" toml:"mode"`
	Cookie   string   `json:"cookie,omitempty" toml:"cookie"`
	Email    string   `json:"email,omitempty" toml:"email"`
	Password string   `json:"password,omitempty" toml:"password"`
}
