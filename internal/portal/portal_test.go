package portal

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// fakePortal emulates the portal API for tests: handshake, get_profile,
// get_all_channels, get_genres and create_link, each with a per-action
// request counter and overridable behavior.
type fakePortal struct {
	mu     sync.Mutex
	counts map[string]int

	token          string
	rejectProfile  bool     // reject every profile check
	rejectProfileN int      // reject only the first N profile checks
	channelsBodies []string // consumed in order by get_all_channels; last repeats
	createLink     func(n int) (int, string)
}

func newFakePortal() *fakePortal {
	return &fakePortal{
		counts: make(map[string]int),
		token:  "T1",
	}
}

func (f *fakePortal) count(action string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[action]
}

func (f *fakePortal) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	action := r.URL.Query().Get("action")
	f.mu.Lock()
	f.counts[action]++
	n := f.counts[action]
	f.mu.Unlock()

	switch action {
	case "handshake":
		fmt.Fprintf(w, `{"js":{"token":"%s"}}`, f.token)
	case "get_profile":
		if f.rejectProfile || n <= f.rejectProfileN {
			w.Write([]byte(`Authorization failed.`))
			return
		}
		w.Write([]byte(`{"js":{"id":1}}`))
	case "get_genres":
		w.Write([]byte(`{"js":[{"id":"1","title":"News"},{"id":2,"title":"Sports"}]}`))
	case "get_all_channels":
		body := `{"js":{"data":[]}}`
		if len(f.channelsBodies) > 0 {
			i := n - 1
			if i >= len(f.channelsBodies) {
				i = len(f.channelsBodies) - 1
			}
			body = f.channelsBodies[i]
		}
		w.Write([]byte(body))
	case "create_link":
		if f.createLink != nil {
			status, body := f.createLink(n)
			w.WriteHeader(status)
			w.Write([]byte(body))
			return
		}
		w.Write([]byte(`{"js":{"cmd":"ffmpeg http://cdn.example.com/stream"}}`))
	default:
		http.Error(w, "unknown action", http.StatusBadRequest)
	}
}

// memStore is an in-memory Store for tests.
type memStore struct {
	mu      sync.Mutex
	recs    map[string]Record
	saves   int
	deletes int
}

func newMemStore() *memStore {
	return &memStore{recs: make(map[string]Record)}
}

func (m *memStore) Save(rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[rec.PortalName] = rec
	m.saves++
	return nil
}

func (m *memStore) Load(name string) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[name]
	return rec, ok, nil
}

func (m *memStore) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recs, name)
	m.deletes++
	return nil
}

const testAddress = "00:1A:79:00:13:DA"

func newTestClient(t *testing.T, f *fakePortal) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	c := New(srv.URL, VariantStalkerPortal, testAddress, srv.Client())
	c.ResolveDelay = time.Millisecond
	return c, srv
}
