package portal

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"sync"
)

// stbUserAgent and stbDeviceClass identify the emulated box. The portal
// fingerprints both; changing either breaks acceptance on strict portals.
const (
	stbUserAgent   = "Mozilla/5.0 (QtEmbedded; U; Linux; C) AppleWebKit/533.3 (KHTML, like Gecko) MAG250 stbapp ver: 2 rev: 250 Safari/533.3"
	stbDeviceClass = "Model: MAG250; Link: WiFi"
)

// Session is the transport state for one authenticated device against one
// portal. It is treated as immutable once handed out: renewal builds a whole
// new Session and swaps it through a Handle, so concurrent readers see either
// the fully-old or fully-new token/header/cookie set, never a mix.
type Session struct {
	BaseURL   string
	Variant   Variant
	Token     string
	Headers   map[string]string // negotiated request headers, incl. Authorization once Token is set
	Cookies   map[string]string // synthesized identity cookies (mac, stb_lang, timezone)
	Validated bool              // true only after a successful profile check
}

// newSession builds the pre-handshake session: emulated STB headers plus the
// identity cookie set, no token yet.
func (c *Client) newSession() *Session {
	s := &Session{
		BaseURL: c.BaseURL,
		Variant: c.Variant,
		Headers: map[string]string{
			"User-Agent":      stbUserAgent,
			"X-User-Agent":    stbDeviceClass,
			"Accept":          "*/*",
			"Connection":      "Keep-Alive",
			"Accept-Encoding": "gzip",
			"Referer":         c.BaseURL + c.Variant.ClientPath(),
		},
		Cookies: map[string]string{
			"mac":      c.Address,
			"stb_lang": "en",
			"timezone": "GMT",
		},
	}
	return s
}

// withToken returns a copy of s carrying the token and the derived
// Authorization header. The receiver is not modified.
func (s *Session) withToken(token string) *Session {
	out := &Session{
		BaseURL:   s.BaseURL,
		Variant:   s.Variant,
		Token:     token,
		Headers:   make(map[string]string, len(s.Headers)+1),
		Cookies:   make(map[string]string, len(s.Cookies)),
		Validated: false,
	}
	for k, v := range s.Headers {
		out.Headers[k] = v
	}
	for k, v := range s.Cookies {
		out.Cookies[k] = v
	}
	out.Headers["Authorization"] = "Bearer " + token
	return out
}

// cookieHeader serializes the identity cookie set. Values are URL-escaped the
// way a real box sends them (the MAC's colons in particular).
func (s *Session) cookieHeader() string {
	keys := make([]string, 0, len(s.Cookies))
	for k := range s.Cookies {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+url.QueryEscape(s.Cookies[k]))
	}
	return strings.Join(parts, "; ")
}

// toRecord converts the session to its durable layout.
func (c *Client) toRecord(s *Session) Record {
	return Record{
		PortalName:    c.PortalName(),
		BaseURL:       s.BaseURL,
		DeviceAddress: c.Address,
		Token:         s.Token,
		CookieString:  s.cookieHeader(),
		HeaderList:    sortedHeaderList(s.Headers),
		Variant:       s.Variant,
	}
}

// sessionFromRecord rebuilds a session from a persisted record. It is not
// marked validated: a reloaded session must still pass the profile check.
func (c *Client) sessionFromRecord(rec Record) *Session {
	s := c.newSession()
	if rec.Token == "" {
		return s
	}
	return s.withToken(rec.Token)
}

// Handle is the synchronized get-or-refresh accessor for the one live session
// per (portal, device) pair. Concurrent renewal attempts are coalesced: the
// second caller blocks on the mutex, then finds a fresh session and skips its
// own handshake.
type Handle struct {
	client *Client

	mu  sync.Mutex
	cur *Session
}

// NewHandle wraps an already-negotiated session.
func NewHandle(client *Client, s *Session) *Handle {
	return &Handle{client: client, cur: s}
}

// Current returns the live session value. Callers capture it and use it for
// the duration of one operation; a renewal in between leaves their copy
// intact (it just stops working, and the retry picks up the new one).
func (h *Handle) Current() *Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cur
}

// Renew replaces the session after stale was observed failing. If another
// caller already renewed (current differs from stale), the fresh session is
// returned without a duplicate handshake.
func (h *Handle) Renew(ctx context.Context, stale *Session) (*Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cur != stale && h.cur != nil && h.cur.Validated {
		return h.cur, nil
	}
	s, err := h.client.Negotiate(ctx)
	if err != nil {
		return nil, err
	}
	h.cur = s
	return s, nil
}
