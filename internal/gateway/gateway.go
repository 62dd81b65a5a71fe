// Package gateway runs the redirect gateway: it serves the online-mode
// playlist and exchanges /getlink/<id> requests for portal-issued playback
// URLs at request time, so redistributed playlists never go stale.
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/portalgate/portal-gate/internal/metrics"
	"github.com/portalgate/portal-gate/internal/playlist"
	"github.com/portalgate/portal-gate/internal/portal"
	"github.com/portalgate/portal-gate/internal/safeurl"
)

// Server serves /playlist.m3u, /getlink/<id>, /healthz and /metrics.
// UpdateCatalog can refresh the channel set without a restart.
type Server struct {
	Addr    string
	BaseURL string // external base URL used in playlist redirect entries
	Client  *portal.Client
	Handle  *portal.Handle

	mu       sync.RWMutex
	byID     map[string]portal.Channel
	channels []portal.Channel
	genres   map[string]string
	refresh  time.Time
}

// UpdateCatalog replaces the served channel set and genre map.
func (s *Server) UpdateCatalog(genres []portal.Genre, channels []portal.Channel) {
	byID := make(map[string]portal.Channel, len(channels))
	for _, ch := range channels {
		byID[ch.ID] = ch
	}
	s.mu.Lock()
	s.byID = byID
	s.channels = channels
	s.genres = playlist.GenreMap(genres)
	s.refresh = time.Now()
	s.mu.Unlock()
}

// Run blocks until ctx is cancelled or the listener fails. Shutdown waits
// briefly for in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	addr := s.Addr
	if addr == "" {
		addr = ":8080"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/playlist.m3u", s.servePlaylist)
	mux.HandleFunc("/getlink/", s.serveGetLink)
	mux.HandleFunc("/healthz", s.serveHealth)
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: logRequests(mux)}

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("Gateway listening on %s (BaseURL %s)", addr, s.BaseURL)
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		log.Print("Shutting down gateway ...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Gateway shutdown: %v", err)
		}
		<-serverErr
		return nil
	}
}

func (s *Server) servePlaylist(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	channels := s.channels
	genres := s.genres
	s.mu.RUnlock()

	base := s.BaseURL
	if base == "" {
		base = "http://" + r.Host
	}
	entries := playlist.BuildEntries(channels, genres, func(ch portal.Channel) (string, bool) {
		return playlist.GatewayURL(base, ch.ID), true
	})
	w.Header().Set("Content-Type", "audio/x-mpegurl; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(playlist.Render(entries))
}

// serveGetLink resolves one channel and answers with a redirect. A resolve
// failure is treated as possible session expiry: one coalesced renewal, one
// retry, then a 500. The request context is passed through so a disconnected
// client cancels only its own resolve.
func (s *Server) serveGetLink(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/getlink/")
	s.mu.RLock()
	ch, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		writeJSONError(w, http.StatusNotFound, "unknown channel "+id)
		return
	}

	ctx := r.Context()
	sess := s.Handle.Current()
	url, err := s.Client.Resolve(ctx, sess, ch)
	if err != nil {
		metrics.RenewalsTotal.Inc()
		log.Printf("Resolve %s failed (%v); renewing session", ch.ID, err)
		sess, err = s.Handle.Renew(ctx, sess)
		if err == nil {
			url, err = s.Client.Resolve(ctx, sess, ch)
		}
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "resolution failed: "+err.Error())
			return
		}
	}
	metrics.GatewayRedirectsTotal.Inc()
	log.Printf("Redirecting %s to %s", ch.ID, safeurl.Redact(url))
	http.Redirect(w, r, url, http.StatusFound)
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	count := len(s.channels)
	lastRefresh := s.refresh
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if count == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"loading"}`))
		return
	}
	body, _ := json.Marshal(map[string]any{
		"status":       "ok",
		"channels":     count,
		"last_refresh": lastRefresh.Format(time.RFC3339),
	})
	w.Write(body)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body, _ := json.Marshal(map[string]string{"error": msg})
	w.Write(body)
}

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *loggingResponseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *loggingResponseWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += n
	return n, err
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w}
		next.ServeHTTP(lw, r)
		status := lw.status
		if status == 0 {
			status = http.StatusOK
		}
		log.Printf(
			"http: %s %s status=%d bytes=%d dur=%s remote=%s",
			r.Method, r.URL.Path, status, lw.bytes, time.Since(start).Round(time.Millisecond), r.RemoteAddr,
		)
	})
}
