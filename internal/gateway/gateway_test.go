package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/portalgate/portal-gate/internal/portal"
)

// fakeBackend is the upstream portal: handshake, get_profile and create_link,
// with a switchable create_link failure mode to drive the renew-and-retry path.
type fakeBackend struct {
	mu         sync.Mutex
	counts     map[string]int
	failLinksN int // fail the first N create_link calls
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	action := r.URL.Query().Get("action")
	f.mu.Lock()
	f.counts[action]++
	n := f.counts[action]
	f.mu.Unlock()

	switch action {
	case "handshake":
		w.Write([]byte(`{"js":{"token":"T2"}}`))
	case "get_profile":
		w.Write([]byte(`{"js":{}}`))
	case "create_link":
		if n <= f.failLinksN {
			http.Error(w, "expired", http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, `{"js":{"cmd":"ffmpeg http://cdn.example.com%s"}}`,
			strings.TrimPrefix(r.URL.Query().Get("cmd"), "auto "))
	default:
		http.Error(w, "unknown action", http.StatusBadRequest)
	}
}

func (f *fakeBackend) count(action string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[action]
}

func newTestServer(t *testing.T, backend *fakeBackend) (*Server, *fakeBackend) {
	t.Helper()
	if backend == nil {
		backend = &fakeBackend{}
	}
	backend.counts = make(map[string]int)
	upstream := httptest.NewServer(backend)
	t.Cleanup(upstream.Close)

	c := portal.New(upstream.URL, portal.VariantStalkerPortal, "00:1A:79:00:13:DA", upstream.Client())
	c.ResolveAttempts = 1
	srv := &Server{
		BaseURL: "http://gate.example.com",
		Client:  c,
		Handle:  portal.NewHandle(c, &portal.Session{Validated: true}),
	}
	srv.UpdateCatalog(
		[]portal.Genre{{ID: "1", Title: "News"}},
		[]portal.Channel{
			{ID: "7", Name: "News One", Cmd: "auto /ch/7", GenreID: "1"},
			{ID: "8", Name: "Static Two", Cmd: "ffmpeg http://cdn.example.com/static/8"},
		},
	)
	return srv, backend
}

func TestServePlaylist_redirectEntries(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	w := httptest.NewRecorder()
	srv.servePlaylist(w, httptest.NewRequest(http.MethodGet, "/playlist.m3u", nil))

	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "mpegurl") {
		t.Errorf("Content-Type = %q", ct)
	}
	body := w.Body.String()
	if !strings.HasPrefix(body, "#EXTM3U\n") {
		t.Errorf("missing header:\n%s", body)
	}
	if !strings.Contains(body, "http://gate.example.com/getlink/7") {
		t.Errorf("missing gateway URL for channel 7:\n%s", body)
	}
	if !strings.Contains(body, `group-title="News"`) {
		t.Errorf("missing genre group:\n%s", body)
	}
}

func TestServePlaylist_hostFallbackWithoutBaseURL(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	srv.BaseURL = ""

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/playlist.m3u", nil)
	req.Host = "gate.local:8080"
	srv.servePlaylist(w, req)

	if !strings.Contains(w.Body.String(), "http://gate.local:8080/getlink/7") {
		t.Errorf("expected request-host fallback:\n%s", w.Body.String())
	}
}

func TestServeGetLink_redirects(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	w := httptest.NewRecorder()
	srv.serveGetLink(w, httptest.NewRequest(http.MethodGet, "/getlink/7", nil))

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "http://cdn.example.com/ch/7" {
		t.Errorf("Location = %q", loc)
	}
}

func TestServeGetLink_unknownChannel(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	w := httptest.NewRecorder()
	srv.serveGetLink(w, httptest.NewRequest(http.MethodGet, "/getlink/999", nil))

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if body["error"] == "" {
		t.Error("expected error message in body")
	}
}

func TestServeGetLink_renewsOnceThenRetries(t *testing.T) {
	srv, backend := newTestServer(t, &fakeBackend{failLinksN: 1})

	w := httptest.NewRecorder()
	srv.serveGetLink(w, httptest.NewRequest(http.MethodGet, "/getlink/7", nil))

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302 after renewal retry", w.Code)
	}
	if backend.count("handshake") != 1 {
		t.Errorf("handshakes = %d, want 1 (one renewal)", backend.count("handshake"))
	}
	if backend.count("create_link") != 2 {
		t.Errorf("create_link calls = %d, want 2", backend.count("create_link"))
	}
	if cur := srv.Handle.Current(); cur.Token != "T2" {
		t.Errorf("handle token = %q, want renewed T2", cur.Token)
	}
}

func TestServeGetLink_persistentFailureIs500(t *testing.T) {
	srv, backend := newTestServer(t, &fakeBackend{failLinksN: 1 << 20})

	w := httptest.NewRecorder()
	srv.serveGetLink(w, httptest.NewRequest(http.MethodGet, "/getlink/7", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	// Exactly one renewal and one retry, never a loop.
	if backend.count("handshake") != 1 {
		t.Errorf("handshakes = %d, want 1", backend.count("handshake"))
	}
	if backend.count("create_link") != 2 {
		t.Errorf("create_link calls = %d, want 2", backend.count("create_link"))
	}
}

func TestServeGetLink_staticCommandNeedsNoUpstream(t *testing.T) {
	srv, backend := newTestServer(t, nil)

	w := httptest.NewRecorder()
	srv.serveGetLink(w, httptest.NewRequest(http.MethodGet, "/getlink/8", nil))

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "http://cdn.example.com/static/8" {
		t.Errorf("Location = %q", loc)
	}
	if backend.count("create_link") != 0 {
		t.Errorf("create_link calls = %d, want 0 for static command", backend.count("create_link"))
	}
}

func TestServeHealth(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	w := httptest.NewRecorder()
	srv.serveHealth(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if body["status"] != "ok" || body["channels"] != float64(2) {
		t.Errorf("body = %v", body)
	}

	// Before the first catalog load the gateway reports unavailable.
	empty := &Server{}
	empty.UpdateCatalog(nil, nil)
	w = httptest.NewRecorder()
	empty.serveHealth(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 with empty catalog", w.Code)
	}
}

func TestUpdateCatalog_swapsChannelSet(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	srv.UpdateCatalog(nil, []portal.Channel{{ID: "42", Name: "Only", Cmd: "ffmpeg http://cdn/42"}})

	w := httptest.NewRecorder()
	srv.serveGetLink(w, httptest.NewRequest(http.MethodGet, "/getlink/7", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("old channel still routed after catalog swap (status %d)", w.Code)
	}

	w = httptest.NewRecorder()
	srv.serveGetLink(w, httptest.NewRequest(http.MethodGet, "/getlink/42", nil))
	if w.Code != http.StatusFound {
		t.Errorf("new channel not routed (status %d)", w.Code)
	}
}
