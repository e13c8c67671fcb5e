// Package session persists per-target cookie sessions to disk. The
// session file is the only durable state in the system; everything else
// is rebuilt from the vendor's responses on each call.
package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
)

// Data is the on-disk session document. Authenticated is only meaningful
// together with a non-empty cookie set; an expired-but-present cookie set
// is still reported as authenticated because there is no expiry
// detection, only downstream auth failures.
type Data struct {
	Cookies       map[string]string `json:"cookies"`
	UserEmail     string            `json:"user_email,omitempty"`
	Authenticated bool              `json:"is_authenticated"`
}

type Manager struct {
	path string
	data Data
}

type Option func(*Manager)

// WithZone derives the Sklavenitis delivery-zone cookie from a hub id.
// The cookie is injected into every session regardless of login state
// because the site keys product availability on it.
func WithZone(hubID int) Option {
	return func(m *Manager) {
		zone, err := json.Marshal(map[string]int{"ShippingType": 1, "HubID": hubID})
		if err != nil {
			return
		}
		if m.data.Cookies == nil {
			m.data.Cookies = map[string]string{}
		}
		m.data.Cookies["Zone"] = string(zone)
	}
}

// WithCookies injects raw cookie values, typically sourced from
// environment variables when automated login is blocked and an operator
// has copied cookies out of a real browser. Injection marks the session
// authenticated; whether the cookies actually work only shows up on the
// first authenticated call.
func WithCookies(cookies map[string]string) Option {
	return func(m *Manager) {
		if len(cookies) == 0 {
			return
		}
		if m.data.Cookies == nil {
			m.data.Cookies = map[string]string{}
		}
		for name, value := range cookies {
			m.data.Cookies[name] = value
		}
		m.data.Authenticated = true
	}
}

// NewManager loads the session file at path. A missing or corrupt file
// yields an empty session, never an error: a scraper that cannot read
// yesterday's cookies should start fresh, not crash.
func NewManager(path string, opts ...Option) *Manager {
	m := &Manager{path: path}
	m.load()
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DefaultPath returns ~/.{target}_session.json, falling back to the
// working directory when the home dir is unknown.
func DefaultPath(target string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Sprintf(".%s_session.json", target)
	}
	return filepath.Join(home, fmt.Sprintf(".%s_session.json", target))
}

func (m *Manager) load() {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("could not read session file", "path", m.path, "err", err)
		}
		m.data = Data{Cookies: map[string]string{}}
		return
	}

	var data Data
	err = json.Unmarshal(raw, &data)
	if err == nil && (len(data.Cookies) > 0 || data.Authenticated || data.UserEmail != "") {
		if data.Cookies == nil {
			data.Cookies = map[string]string{}
		}
		m.data = data
		return
	}

	// Legacy format: a bare {name: value} cookie map. Unmarshaling it
	// into Data succeeds but leaves every field empty, so both the error
	// path and the empty-document path land here.
	var legacy map[string]string
	if err2 := json.Unmarshal(raw, &legacy); err2 == nil && len(legacy) > 0 {
		m.data = Data{Cookies: legacy, Authenticated: true}
		slog.Info("migrated legacy cookie file", "path", m.path)
		m.persist()
		return
	}

	if err != nil {
		slog.Warn("corrupt session file, starting fresh", "path", m.path, "err", err)
	}
	m.data = Data{Cookies: map[string]string{}}
}

// Save replaces the session with the given cookie set, marks it
// authenticated and persists it.
func (m *Manager) Save(cookies map[string]string, userEmail string) {
	merged := make(map[string]string, len(cookies))
	for name, value := range cookies {
		merged[name] = value
	}
	m.data = Data{
		Cookies:       merged,
		UserEmail:     userEmail,
		Authenticated: true,
	}
	m.persist()
}

// Merge folds Set-Cookie results from a transport call into the session
// without touching the authenticated flag, and persists when anything
// changed. Duplicate names keep the last value.
func (m *Manager) Merge(cookies []*http.Cookie) {
	changed := false
	for _, c := range cookies {
		if c == nil || c.Name == "" {
			continue
		}
		if m.data.Cookies[c.Name] != c.Value {
			m.data.Cookies[c.Name] = c.Value
			changed = true
		}
	}
	if changed {
		m.persist()
	}
}

// Clear resets the in-memory session and removes the backing file. It is
// idempotent: clearing an already-empty session is a no-op.
func (m *Manager) Clear() {
	m.data = Data{Cookies: map[string]string{}}
	err := os.Remove(m.path)
	if err != nil && !os.IsNotExist(err) {
		slog.Warn("could not delete session file", "path", m.path, "err", err)
	}
}

// IsAuthenticated reports whether the session carries credentials worth
// sending: the flag alone is not enough, the cookie set must be
// non-empty.
func (m *Manager) IsAuthenticated() bool {
	return m.data.Authenticated && len(m.data.Cookies) > 0
}

// Cookies returns a copy of the session cookie set.
func (m *Manager) Cookies() map[string]string {
	out := make(map[string]string, len(m.data.Cookies))
	for name, value := range m.data.Cookies {
		out[name] = value
	}
	return out
}

// HTTPCookies renders the session as http.Cookie values for seeding a
// cookie jar or a headless browser.
func (m *Manager) HTTPCookies() []*http.Cookie {
	out := make([]*http.Cookie, 0, len(m.data.Cookies))
	for name, value := range m.data.Cookies {
		out = append(out, &http.Cookie{Name: name, Value: value, Path: "/"})
	}
	return out
}

func (m *Manager) Email() string {
	return m.data.UserEmail
}

func (m *Manager) Path() string {
	return m.path
}

// persist writes the session file with owner-only permissions. Failures
// are logged and swallowed: losing persistence degrades to a re-login on
// next start, which beats failing the operation that just succeeded
// remotely.
func (m *Manager) persist() {
	raw, err := json.Marshal(m.data)
	if err != nil {
		slog.Error("could not encode session", "path", m.path, "err", err)
		return
	}
	if err := os.WriteFile(m.path, raw, 0o600); err != nil {
		slog.Error("could not write session file", "path", m.path, "err", err)
		return
	}
	// WriteFile only applies the mode on create; tighten pre-existing files.
	if err := os.Chmod(m.path, 0o600); err != nil {
		slog.Warn("could not chmod session file", "path", m.path, "err", err)
	}
}
