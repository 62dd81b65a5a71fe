// Package portal implements the Ministra/Stalker STB control protocol: the
// handshake/profile authentication state machine, session persistence and
// renewal, catalog retrieval and per-channel link resolution. The wire contract
// is proprietary and replayed exactly: header set, signed query parameters and
// response envelopes all match what a real MAG box sends.
package portal

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/portalgate/portal-gate/internal/identity"
	"golang.org/x/time/rate"
)

// Variant selects between the two known portal URL-path conventions.
type Variant string

const (
	// VariantStalkerPortal is the /stalker_portal/... convention.
	VariantStalkerPortal Variant = "stalker_portal"
	// VariantPortal is the /c/... convention (portal.php at the root).
	VariantPortal Variant = "portal"
)

// EndpointPath returns the API endpoint path for the variant.
func (v Variant) EndpointPath() string {
	if v == VariantPortal {
		return "/portal.php"
	}
	return "/stalker_portal/server/load.php"
}

// ClientPath returns the emulated client page path, used as the Referer.
func (v Variant) ClientPath() string {
	if v == VariantPortal {
		return "/c/"
	}
	return "/stalker_portal/c/"
}

// ParseVariant maps a config string to a Variant. Empty defaults to
// VariantStalkerPortal.
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "stalker_portal", "stalker":
		return VariantStalkerPortal, nil
	case "portal", "c":
		return VariantPortal, nil
	}
	return "", fmt.Errorf("unknown portal variant %q (use stalker_portal or portal)", s)
}

// Timeouts are per-endpoint request deadlines. The portal is slow and
// unreliable; no call may block indefinitely.
type Timeouts struct {
	Handshake time.Duration
	Profile   time.Duration
	Catalog   time.Duration
	Link      time.Duration
}

// DefaultTimeouts matches observed portal behavior: catalog dumps are big and
// slow, link creation is small and fast.
var DefaultTimeouts = Timeouts{
	Handshake: 10 * time.Second,
	Profile:   10 * time.Second,
	Catalog:   20 * time.Second,
	Link:      8 * time.Second,
}

// Store persists one session record per portal so a process restart can skip
// the handshake. Implemented by sessionstore.
type Store interface {
	Save(rec Record) error
	Load(portalName string) (Record, bool, error)
	Delete(portalName string) error
}

// Record is the durable session layout, one per portal identity.
type Record struct {
	PortalName    string
	BaseURL       string
	DeviceAddress string
	Token         string
	CookieString  string
	HeaderList    []string // "Key: Value" lines
	Variant       Variant
}

// Client talks to one portal as one device. Safe for concurrent use: it never
// mutates a Session in place (renewal builds a fresh one, see Handle).
type Client struct {
	BaseURL  string
	Variant  Variant
	Address  string // device MAC-form address
	Identity identity.Identity
	HTTP     *http.Client
	Store    Store         // optional; nil disables persistence
	Timeouts Timeouts
	Limiter  *rate.Limiter // optional; paces create_link calls

	// Resolve retry policy. Empirical tuning constants, not protocol
	// requirements. Defaulted in New.
	ResolveAttempts int
	ResolveDelay    time.Duration
}

// New returns a Client with defaulted retry policy and timeouts.
func New(baseURL string, variant Variant, address string, httpClient *http.Client) *Client {
	return &Client{
		BaseURL:         strings.TrimSuffix(baseURL, "/"),
		Variant:         variant,
		Address:         address,
		Identity:        identity.Derive(address),
		HTTP:            httpClient,
		Timeouts:        DefaultTimeouts,
		ResolveAttempts: 3,
		ResolveDelay:    time.Second,
	}
}

// PortalName derives the persistence key from the portal's domain.
func (c *Client) PortalName() string {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Hostname() == "" {
		return c.BaseURL
	}
	return u.Hostname()
}

// endpointURL builds the full API URL with params. JsHttpRequest is appended
// last; every portal call carries it.
func (c *Client) endpointURL(params url.Values) string {
	params.Set("JsHttpRequest", "1-xml")
	return c.BaseURL + c.Variant.EndpointPath() + "?" + params.Encode()
}

// request builds an HTTP request carrying the session's negotiated headers and
// cookie set. Headers and cookies are kept as structured maps on the Session;
// this is the single place they are serialized onto the wire.
func (c *Client) request(ctx context.Context, method string, s *Session, params url.Values) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpointURL(params), nil)
	if err != nil {
		return nil, err
	}
	for k, v := range s.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Cookie", s.cookieHeader())
	return req, nil
}

// do sends the request with the given per-call deadline and returns the
// decoded body. Non-2xx is an error; the body is decompressed when the portal
// answers with gzip or brotli (explicit Accept-Encoding disables Go's
// automatic gzip handling).
func (c *Client) do(ctx context.Context, timeout time.Duration, method string, s *Session, params url.Values) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := c.request(ctx, method, s, params)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := decodeBody(resp)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s %s: HTTP %d", method, params.Get("action"), resp.StatusCode)
	}
	return body, nil
}

func decodeBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip body: %w", err)
		}
		defer gz.Close()
		reader = gz
	case "br":
		reader = brotli.NewReader(resp.Body)
	}
	return io.ReadAll(reader)
}

// waitLimiter blocks on the client's rate limiter when one is configured.
func (c *Client) waitLimiter(ctx context.Context) error {
	if c.Limiter == nil {
		return nil
	}
	return c.Limiter.Wait(ctx)
}

// sortedHeaderList renders a Session's header map as "Key: Value" lines in a
// stable order, for the persisted record.
func sortedHeaderList(headers map[string]string) []string {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+": "+headers[k])
	}
	return out
}
