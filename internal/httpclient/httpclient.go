// Package httpclient builds the shared HTTP client used for all portal calls.
// One client (and so one cookie jar and one keep-alive connection pool) exists
// per portal; per-endpoint deadlines are applied through request contexts.
package httpclient

import (
	"net/http"
	"net/http/cookiejar"
	"time"

	"golang.org/x/net/publicsuffix"
)

const (
	DefaultIdleConnTimeout = 90 * time.Second
	MaxIdleConnsPerHost    = 8
)

// NewPortalClient returns a client with a fresh cookie jar for portal-issued
// cookies (PHPSESSID and friends). The jar uses the public suffix list so a
// portal cannot set cookies for an unrelated domain. No client-level timeout:
// every request carries its own context deadline.
func NewPortalClient() (*http.Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	return &http.Client{
		Jar: jar,
		Transport: &http.Transport{
			MaxIdleConns:        32,
			MaxIdleConnsPerHost: MaxIdleConnsPerHost,
			IdleConnTimeout:     DefaultIdleConnTimeout,
		},
	}, nil
}
