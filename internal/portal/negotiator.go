package portal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/portalgate/portal-gate/internal/metrics"
)

// Handshake issues the unauthenticated token request. On success the returned
// session carries the bearer token and derived Authorization header, and the
// record is persisted keyed by the portal's domain. Missing token, non-2xx or
// malformed JSON all yield a HandshakeError.
func (c *Client) Handshake(ctx context.Context) (*Session, error) {
	metrics.HandshakesTotal.Inc()
	s := c.newSession()

	params := url.Values{}
	params.Set("type", "stb")
	params.Set("action", "handshake")
	params.Set("token", "")
	body, err := c.do(ctx, c.Timeouts.Handshake, http.MethodPost, s, params)
	if err != nil {
		metrics.HandshakeFailuresTotal.Inc()
		return nil, &HandshakeError{Portal: c.PortalName(), Err: err}
	}

	var env struct {
		Js struct {
			Token string `json:"token"`
		} `json:"js"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		metrics.HandshakeFailuresTotal.Inc()
		return nil, &HandshakeError{Portal: c.PortalName(), Err: fmt.Errorf("decode handshake response: %w", err)}
	}
	if env.Js.Token == "" {
		metrics.HandshakeFailuresTotal.Inc()
		return nil, &HandshakeError{Portal: c.PortalName(), Err: errors.New("no token in handshake response")}
	}

	s = s.withToken(env.Js.Token)
	if c.Store != nil {
		if err := c.Store.Save(c.toRecord(s)); err != nil {
			log.Printf("Session persist failed for %s: %v", c.PortalName(), err)
		}
	}
	return s, nil
}

// ValidateProfile issues the get_profile check carrying the device fingerprint.
// The portal does not use clean status codes here: success is the presence of
// the "js" marker in the body.
func (c *Client) ValidateProfile(ctx context.Context, s *Session) bool {
	params := url.Values{}
	params.Set("type", "stb")
	params.Set("action", "get_profile")
	params.Set("hd", "1")
	params.Set("sn", c.Identity.SerialNumber)
	params.Set("stb_type", "MAG250")
	params.Set("device_id", c.Identity.DeviceID)
	params.Set("device_id2", c.Identity.DeviceID2)
	params.Set("signature", c.Identity.Signature)
	body, err := c.do(ctx, c.Timeouts.Profile, http.MethodGet, s, params)
	if err != nil {
		return false
	}
	return strings.Contains(string(body), `"js"`)
}

// Negotiate runs handshake + profile validation with exactly one automatic
// retransition: a validation failure clears persisted state and re-handshakes
// once, then surfaces SessionError. The retry is bounded; a persistently
// rejecting portal must not loop.
func (c *Client) Negotiate(ctx context.Context) (*Session, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		s, err := c.Handshake(ctx)
		if err != nil {
			return nil, err
		}
		if c.ValidateProfile(ctx, s) {
			s.Validated = true
			return s, nil
		}
		lastErr = errors.New("profile validation rejected device identity")
		c.discardPersisted()
		log.Printf("Profile validation failed for %s (attempt %d/2)", c.PortalName(), attempt+1)
	}
	return nil, &SessionError{Portal: c.PortalName(), Err: lastErr}
}

// LoadOrNegotiate reuses a persisted session when its device address and
// variant match, re-validating the profile before trusting it. Anything else
// falls through to a fresh negotiation.
func (c *Client) LoadOrNegotiate(ctx context.Context) (*Session, error) {
	if c.Store != nil {
		rec, ok, err := c.Store.Load(c.PortalName())
		if err != nil {
			log.Printf("Session load failed for %s: %v", c.PortalName(), err)
		}
		if ok && rec.DeviceAddress == c.Address && rec.Variant == c.Variant && rec.Token != "" {
			s := c.sessionFromRecord(rec)
			if c.ValidateProfile(ctx, s) {
				s.Validated = true
				log.Printf("Reusing persisted session for %s", c.PortalName())
				return s, nil
			}
			c.discardPersisted()
		}
	}
	return c.Negotiate(ctx)
}

func (c *Client) discardPersisted() {
	if c.Store == nil {
		return
	}
	if err := c.Store.Delete(c.PortalName()); err != nil {
		log.Printf("Session discard failed for %s: %v", c.PortalName(), err)
	}
}
