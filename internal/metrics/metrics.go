// Package metrics holds the process-wide Prometheus collectors. The gateway
// exposes them on /metrics; the portal client and batch resolver update them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HandshakesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portalgate_handshakes_total",
		Help: "Portal handshake attempts.",
	})
	HandshakeFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portalgate_handshake_failures_total",
		Help: "Portal handshakes that failed (no token, bad status, bad JSON).",
	})
	RenewalsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portalgate_session_renewals_total",
		Help: "Session renewals triggered by expiry detection.",
	})
	CatalogFetchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portalgate_catalog_fetches_total",
		Help: "Channel catalog fetches.",
	})
	ResolveAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portalgate_resolve_attempts_total",
		Help: "create_link attempts, including retries.",
	})
	ResolveFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portalgate_resolve_failures_total",
		Help: "Channel resolutions that exhausted all attempts.",
	})
	GatewayRedirectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portalgate_gateway_redirects_total",
		Help: "Successful /getlink redirects served.",
	})
)
