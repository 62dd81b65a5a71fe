package portal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/portalgate/portal-gate/internal/metrics"
	"github.com/portalgate/portal-gate/internal/safeurl"
)

// staticURLMarker prefixes play commands that already embed a direct stream
// URL and need no create_link round-trip.
const staticURLMarker = "ffmpeg "

// StaticURL returns the embedded stream URL when cmd carries the static-URL
// marker, or "" when the command needs resolution.
func StaticURL(cmd string) string {
	cmd = strings.TrimSpace(cmd)
	if strings.HasPrefix(cmd, staticURLMarker) {
		return strings.TrimSpace(strings.TrimPrefix(cmd, staticURLMarker))
	}
	return ""
}

// Resolve exchanges a channel's play command for a time-limited playback URL.
// Commands carrying the static-URL marker return immediately with no network
// call. Otherwise create_link is attempted up to ResolveAttempts times with
// ResolveDelay between attempts; transport errors, bad status, bad JSON and a
// blank cmd field all count as failed attempts. Exhaustion yields ResolveError,
// which the caller treats as a possible session expiry.
//
// Resolve only reads the session's header and cookie sets, so concurrent
// callers sharing one session are safe.
func (c *Client) Resolve(ctx context.Context, s *Session, ch Channel) (string, error) {
	if direct := StaticURL(ch.Cmd); direct != "" {
		if !safeurl.IsHTTPOrHTTPS(direct) {
			return "", &ResolveError{ChannelID: ch.ID, Err: fmt.Errorf("static command carries non-HTTP target %q", direct)}
		}
		return direct, nil
	}

	attempts := c.ResolveAttempts
	if attempts <= 0 {
		attempts = 3
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", &ResolveError{ChannelID: ch.ID, Attempts: attempt, Err: ctx.Err()}
			case <-time.After(c.ResolveDelay):
			}
		}
		if err := c.waitLimiter(ctx); err != nil {
			return "", &ResolveError{ChannelID: ch.ID, Attempts: attempt, Err: err}
		}
		metrics.ResolveAttemptsTotal.Inc()
		link, err := c.createLink(ctx, s, ch.Cmd)
		if err == nil {
			return link, nil
		}
		lastErr = err
	}
	metrics.ResolveFailuresTotal.Inc()
	return "", &ResolveError{ChannelID: ch.ID, Attempts: attempts, Err: lastErr}
}

// createLink performs one create_link round-trip. The response nests the real
// URL behind the same static-URL marker the catalog uses.
func (c *Client) createLink(ctx context.Context, s *Session, cmd string) (string, error) {
	params := url.Values{}
	params.Set("type", "itv")
	params.Set("action", "create_link")
	params.Set("cmd", cmd)
	body, err := c.do(ctx, c.Timeouts.Link, http.MethodGet, s, params)
	if err != nil {
		return "", err
	}
	var env struct {
		Js struct {
			Cmd string `json:"cmd"`
		} `json:"js"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return "", fmt.Errorf("decode create_link response: %w", err)
	}
	issued := strings.TrimSpace(env.Js.Cmd)
	if issued == "" {
		return "", errors.New("create_link returned blank cmd")
	}
	if direct := StaticURL(issued); direct != "" {
		issued = direct
	}
	if !safeurl.IsHTTPOrHTTPS(issued) {
		return "", fmt.Errorf("create_link returned non-HTTP target %q", issued)
	}
	return issued, nil
}
