// Package batch fans link resolution out over a bounded worker pool for
// catalog-wide (offline) playlist generation.
package batch

import (
	"context"
	"log"
	"sync"

	"github.com/portalgate/portal-gate/internal/portal"
)

// DefaultConcurrency balances throughput against the portal's own rate limits.
// Empirical, not a protocol requirement.
const DefaultConcurrency = 6

// Result pairs a channel with its resolved playback URL. URL is "" when
// resolution failed; Err carries the reason.
type Result struct {
	Channel portal.Channel
	URL     string
	Err     error
}

// ResolveAll resolves every channel through the worker pool. One channel's
// failure never aborts the batch. The output always has exactly one entry per
// input channel, but completion order is arbitrary, so consumers must
// associate by Channel identity, not position.
func ResolveAll(ctx context.Context, c *portal.Client, s *portal.Session, channels []portal.Channel, concurrency int) []Result {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	results := make([]Result, len(channels))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for i := range channels {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[i] = Result{Channel: channels[i], Err: ctx.Err()}
				return
			}
			defer func() { <-sem }()
			url, err := c.Resolve(ctx, s, channels[i])
			if err != nil {
				log.Printf("resolve %s (%s): FAIL %v", channels[i].ID, channels[i].Name, err)
				results[i] = Result{Channel: channels[i], Err: err}
				return
			}
			log.Printf("resolve %s (%s): ok", channels[i].ID, channels[i].Name)
			results[i] = Result{Channel: channels[i], URL: url}
		}(i)
	}
	wg.Wait()
	return results
}
