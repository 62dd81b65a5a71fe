// Command portal-gate: Ministra/Stalker STB emulator that turns a portal
// subscription into a redistributable M3U playlist.
//
//	playlist  Offline mode: negotiate, fetch catalog, batch-resolve every
//	          channel and write a static playlist file.
//	serve     Online mode: negotiate, fetch catalog, serve the redirect
//	          gateway (/playlist.m3u + /getlink/<id>).
//	run       serve plus periodic catalog refresh and SIGHUP reload.
//	probe     Handshake + profile check against the configured portal.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/portalgate/portal-gate/internal/batch"
	"github.com/portalgate/portal-gate/internal/config"
	"github.com/portalgate/portal-gate/internal/gateway"
	"github.com/portalgate/portal-gate/internal/httpclient"
	"github.com/portalgate/portal-gate/internal/playlist"
	"github.com/portalgate/portal-gate/internal/portal"
	"github.com/portalgate/portal-gate/internal/sessionstore"
)

// newClient wires a portal client from config: shared HTTP client with cookie
// jar, session store, per-endpoint timeouts and optional call pacing.
func newClient(cfg *config.Config) (*portal.Client, *sessionstore.Store, error) {
	if cfg.PortalURL == "" {
		return nil, nil, fmt.Errorf("set PORTAL_GATE_PORTAL_URL in .env")
	}
	if cfg.DeviceAddress == "" {
		return nil, nil, fmt.Errorf("set PORTAL_GATE_DEVICE_ADDRESS in .env")
	}
	variant, err := portal.ParseVariant(cfg.PortalVariant)
	if err != nil {
		return nil, nil, err
	}
	httpc, err := httpclient.NewPortalClient()
	if err != nil {
		return nil, nil, err
	}
	store, err := sessionstore.Open(cfg.SessionDBPath)
	if err != nil {
		return nil, nil, err
	}

	c := portal.New(cfg.PortalURL, variant, cfg.DeviceAddress, httpc)
	c.Store = store
	c.ResolveAttempts = cfg.ResolveAttempts
	c.ResolveDelay = cfg.ResolveDelay
	c.Timeouts = portal.Timeouts{
		Handshake: cfg.HandshakeTimeout,
		Profile:   cfg.ProfileTimeout,
		Catalog:   cfg.CatalogTimeout,
		Link:      cfg.LinkTimeout,
	}
	if cfg.PortalRate > 0 {
		c.Limiter = rate.NewLimiter(rate.Limit(cfg.PortalRate), 1)
	}
	return c, store, nil
}

func negotiate(ctx context.Context, c *portal.Client) (*portal.Handle, error) {
	log.Printf("Negotiating session with %s (device %s) ...", c.PortalName(), c.Address)
	s, err := c.LoadOrNegotiate(ctx)
	if err != nil {
		return nil, err
	}
	log.Printf("Session ready for %s", c.PortalName())
	return portal.NewHandle(c, s), nil
}

// buildPlaylist is offline mode: resolve the whole catalog through the worker
// pool and write a static playlist of the successes.
func buildPlaylist(ctx context.Context, cfg *config.Config, c *portal.Client, h *portal.Handle) error {
	genres, channels, err := c.FetchCatalog(ctx, h)
	if err != nil {
		return err
	}
	log.Printf("Catalog: %d channels, %d genres", len(channels), len(genres))

	results := batch.ResolveAll(ctx, c, h.Current(), channels, cfg.Concurrency)
	resolved := make(map[string]string, len(results))
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			continue
		}
		resolved[r.Channel.ID] = r.URL
	}

	entries := playlist.BuildEntries(channels, playlist.GenreMap(genres), func(ch portal.Channel) (string, bool) {
		url, ok := resolved[ch.ID]
		return url, ok
	})
	data := playlist.Render(entries)
	if err := playlist.Save(cfg.PlaylistPath, data); err != nil {
		return err
	}
	log.Printf("Playlist saved to %s: %d entries (%d channels failed resolution)",
		cfg.PlaylistPath, len(entries), failed)
	return nil
}

func serveGateway(ctx context.Context, cfg *config.Config, c *portal.Client, h *portal.Handle, refresh time.Duration) error {
	genres, channels, err := c.FetchCatalog(ctx, h)
	if err != nil {
		return err
	}
	log.Printf("Catalog: %d channels, %d genres", len(channels), len(genres))

	srv := &gateway.Server{
		Addr:    cfg.ListenAddr,
		BaseURL: cfg.BaseURL,
		Client:  c,
		Handle:  h,
	}
	srv.UpdateCatalog(genres, channels)

	// Background refresh: scheduled ticker plus SIGHUP, same path as startup.
	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	defer signal.Stop(sigHUP)

	var tickerC <-chan time.Time
	if refresh > 0 {
		ticker := time.NewTicker(refresh)
		defer ticker.Stop()
		tickerC = ticker.C
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-tickerC:
				log.Print("Refreshing catalog (scheduled) ...")
			case <-sigHUP:
				log.Print("SIGHUP received, refreshing catalog")
			}
			genres, channels, err := c.FetchCatalog(ctx, h)
			if err != nil {
				log.Printf("Scheduled refresh failed: %v", err)
				continue
			}
			srv.UpdateCatalog(genres, channels)
			log.Printf("Catalog refreshed: %d channels", len(channels))
		}
	}()

	return srv.Run(ctx)
}

func main() {
	_ = config.LoadEnvFile(".env")
	log.SetFlags(log.LstdFlags)
	log.SetPrefix("[portal-gate] ")

	playlistCmd := flag.NewFlagSet("playlist", flag.ExitOnError)
	playlistOut := playlistCmd.String("out", "", "Playlist output path (default: PORTAL_GATE_PLAYLIST)")

	serveCmd := flag.NewFlagSet("serve", flag.ExitOnError)
	serveAddr := serveCmd.String("addr", "", "Listen address (default: PORTAL_GATE_ADDR)")
	serveBaseURL := serveCmd.String("base-url", "", "External base URL for redirect entries (default: PORTAL_GATE_BASE_URL)")

	runCmd := flag.NewFlagSet("run", flag.ExitOnError)
	runAddr := runCmd.String("addr", "", "Listen address (default: PORTAL_GATE_ADDR)")
	runBaseURL := runCmd.String("base-url", "", "External base URL for redirect entries (default: PORTAL_GATE_BASE_URL)")
	runRefresh := runCmd.Duration("refresh", 0, "Refresh catalog interval (e.g. 6h). 0 = PORTAL_GATE_REFRESH or startup only")

	probeCmd := flag.NewFlagSet("probe", flag.ExitOnError)
	probeTimeout := probeCmd.Duration("timeout", 30*time.Second, "Total probe timeout")

	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <playlist|serve|run|probe> [flags]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  playlist  Resolve the whole catalog and write a static M3U\n")
		fmt.Fprintf(os.Stderr, "  serve     Serve the redirect gateway\n")
		fmt.Fprintf(os.Stderr, "  run       serve + periodic catalog refresh / SIGHUP reload\n")
		fmt.Fprintf(os.Stderr, "  probe     Handshake + profile check, report status\n")
		os.Exit(1)
	}

	cfg := config.Load()

	switch os.Args[1] {
	case "playlist":
		_ = playlistCmd.Parse(os.Args[2:])
		if *playlistOut != "" {
			cfg.PlaylistPath = *playlistOut
		}
		c, store, err := newClient(cfg)
		if err != nil {
			log.Printf("Setup failed: %v", err)
			os.Exit(1)
		}
		defer store.Close()
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		h, err := negotiate(ctx, c)
		if err != nil {
			log.Printf("Negotiation failed: %v", err)
			os.Exit(1)
		}
		if err := buildPlaylist(ctx, cfg, c, h); err != nil {
			log.Printf("Playlist build failed: %v", err)
			os.Exit(1)
		}

	case "serve", "run":
		args := os.Args[2:]
		refresh := cfg.RefreshInterval
		if os.Args[1] == "serve" {
			_ = serveCmd.Parse(args)
			if *serveAddr != "" {
				cfg.ListenAddr = *serveAddr
			}
			if *serveBaseURL != "" {
				cfg.BaseURL = *serveBaseURL
			}
			refresh = 0
		} else {
			_ = runCmd.Parse(args)
			if *runAddr != "" {
				cfg.ListenAddr = *runAddr
			}
			if *runBaseURL != "" {
				cfg.BaseURL = *runBaseURL
			}
			if *runRefresh > 0 {
				refresh = *runRefresh
			}
		}
		c, store, err := newClient(cfg)
		if err != nil {
			log.Printf("Setup failed: %v", err)
			os.Exit(1)
		}
		defer store.Close()
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		h, err := negotiate(ctx, c)
		if err != nil {
			log.Printf("Negotiation failed: %v", err)
			os.Exit(1)
		}
		if err := serveGateway(ctx, cfg, c, h, refresh); err != nil {
			log.Printf("Gateway failed: %v", err)
			os.Exit(1)
		}

	case "probe":
		_ = probeCmd.Parse(os.Args[2:])
		c, store, err := newClient(cfg)
		if err != nil {
			log.Printf("Setup failed: %v", err)
			os.Exit(1)
		}
		defer store.Close()
		ctx, cancel := context.WithTimeout(context.Background(), *probeTimeout)
		defer cancel()
		log.Printf("Probing %s (variant %s) ...", c.PortalName(), c.Variant)
		s, err := c.Handshake(ctx)
		if err != nil {
			log.Printf("Handshake: FAIL %v", err)
			os.Exit(1)
		}
		log.Print("Handshake: ok (token issued)")
		if c.ValidateProfile(ctx, s) {
			log.Print("Profile: ok (device identity accepted)")
		} else {
			log.Print("Profile: FAIL (identity rejected)")
			os.Exit(1)
		}

	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n", os.Args[1])
		os.Exit(1)
	}
}
