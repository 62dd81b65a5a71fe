// Package safeurl validates and sanitizes URLs received from the portal.
// Portal responses are untrusted input; a playback command could smuggle a
// file:// or other non-HTTP scheme into a client-facing redirect.
package safeurl

import "net/url"

// IsHTTPOrHTTPS returns true if u is a valid absolute URL with scheme http or
// https. Anything else must not be handed to clients as a redirect target.
func IsHTTPOrHTTPS(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	s := parsed.Scheme
	return s == "http" || s == "https"
}

// Redact masks credential-bearing query parameters so playback URLs can be
// logged without leaking per-session tokens.
func Redact(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return u
	}
	q := parsed.Query()
	changed := false
	for _, key := range []string{"token", "sig", "signature", "key", "play_token"} {
		if q.Has(key) {
			q.Set(key, "REDACTED")
			changed = true
		}
	}
	if !changed {
		return u
	}
	parsed.RawQuery = q.Encode()
	return parsed.String()
}
