package portal

import (
	"context"
	"errors"
	"testing"
)

const oneChannelBody = `{"js":{"data":[
	{"id":7,"name":" News One ","cmd":"auto /ch/7","logo":"http://p/logo7.png","tv_genre_id":"1"},
	{"id":"8","name":"Sports Two","cmd":"ffmpeg http://cdn/8","logo":"","tv_genre_id":2}
]}}`

func TestFetchChannels_decodesMixedIDTypes(t *testing.T) {
	f := newFakePortal()
	f.channelsBodies = []string{oneChannelBody}
	c, _ := newTestClient(t, f)

	channels, err := c.FetchChannels(context.Background(), c.newSession())
	if err != nil {
		t.Fatalf("FetchChannels: %v", err)
	}
	if len(channels) != 2 {
		t.Fatalf("got %d channels, want 2", len(channels))
	}
	if channels[0].ID != "7" || channels[0].Name != "News One" || channels[0].GenreID != "1" {
		t.Errorf("channel[0] = %+v", channels[0])
	}
	if channels[1].ID != "8" || channels[1].GenreID != "2" {
		t.Errorf("channel[1] = %+v", channels[1])
	}
}

func TestFetchGenres_decodesMixedIDTypes(t *testing.T) {
	f := newFakePortal()
	c, _ := newTestClient(t, f)

	genres := c.FetchGenres(context.Background(), c.newSession())
	if len(genres) != 2 {
		t.Fatalf("got %d genres, want 2", len(genres))
	}
	if genres[0].ID != "1" || genres[0].Title != "News" {
		t.Errorf("genres[0] = %+v", genres[0])
	}
	if genres[1].ID != "2" || genres[1].Title != "Sports" {
		t.Errorf("genres[1] = %+v", genres[1])
	}
}

func TestLooksExpired(t *testing.T) {
	if LooksExpired([]Channel{{ID: "1"}}, nil) {
		t.Error("non-empty list with nil error must not look expired")
	}
	if !LooksExpired(nil, nil) {
		t.Error("empty list must look expired")
	}
	if !LooksExpired([]Channel{{ID: "1"}}, errors.New("boom")) {
		t.Error("any error must look expired")
	}
}

func TestFetchCatalog_renewsOnceOnEmptyList(t *testing.T) {
	f := newFakePortal()
	f.channelsBodies = []string{`{"js":{"data":[]}}`, oneChannelBody}
	c, _ := newTestClient(t, f)

	h := NewHandle(c, c.newSession())
	genres, channels, err := c.FetchCatalog(context.Background(), h)
	if err != nil {
		t.Fatalf("FetchCatalog: %v", err)
	}
	if len(channels) != 2 {
		t.Errorf("got %d channels after renewal, want 2", len(channels))
	}
	if len(genres) != 2 {
		t.Errorf("got %d genres, want 2", len(genres))
	}
	// The empty first fetch forces exactly one renewal handshake.
	if f.count("handshake") != 1 {
		t.Errorf("handshakes = %d, want 1", f.count("handshake"))
	}
	if f.count("get_all_channels") != 2 {
		t.Errorf("catalog fetches = %d, want 2", f.count("get_all_channels"))
	}
	if cur := h.Current(); cur == nil || cur.Token != "T1" || !cur.Validated {
		t.Error("handle must now hold the renewed, validated session")
	}
}

func TestFetchCatalog_secondEmptyFetchIsCatalogError(t *testing.T) {
	f := newFakePortal()
	c, _ := newTestClient(t, f)

	h := NewHandle(c, c.newSession())
	_, _, err := c.FetchCatalog(context.Background(), h)
	var ce *CatalogError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want CatalogError", err)
	}
	if f.count("get_all_channels") != 2 {
		t.Errorf("catalog fetches = %d, want 2 (one renewal, no loop)", f.count("get_all_channels"))
	}
}

func TestAsString(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{"42", "42"},
		{float64(42), "42"},
		{nil, ""},
		{true, ""},
	}
	for _, tc := range cases {
		if got := asString(tc.in); got != tc.want {
			t.Errorf("asString(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
