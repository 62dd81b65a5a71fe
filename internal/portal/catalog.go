package portal

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/portalgate/portal-gate/internal/metrics"
)

// Genre is one portal genre (channel group).
type Genre struct {
	ID    string
	Title string
}

// Channel is one live channel from the portal catalog. Cmd is the opaque play
// command; it may embed a direct URL (static-URL marker) or need create_link.
type Channel struct {
	ID      string
	Name    string
	Cmd     string
	Logo    string
	GenreID string
}

// FetchGenres retrieves the genre list. Decode failures are non-fatal: callers
// proceed with an empty genre map and unmatched channels land in "Other".
func (c *Client) FetchGenres(ctx context.Context, s *Session) []Genre {
	params := url.Values{}
	params.Set("type", "itv")
	params.Set("action", "get_genres")
	body, err := c.do(ctx, c.Timeouts.Catalog, http.MethodGet, s, params)
	if err != nil {
		log.Printf("Genre fetch failed: %v", err)
		return nil
	}
	var env struct {
		Js []struct {
			ID    any    `json:"id"`
			Title string `json:"title"`
		} `json:"js"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		log.Printf("Genre decode failed: %v", err)
		return nil
	}
	genres := make([]Genre, 0, len(env.Js))
	for _, g := range env.Js {
		id := asString(g.ID)
		if id == "" {
			continue
		}
		genres = append(genres, Genre{ID: id, Title: strings.TrimSpace(g.Title)})
	}
	return genres
}

// FetchChannels retrieves the full catalog through an authenticated session.
// An empty or undecodable result is returned as an empty slice; callers run it
// through LooksExpired to decide on renewal.
func (c *Client) FetchChannels(ctx context.Context, s *Session) ([]Channel, error) {
	metrics.CatalogFetchesTotal.Inc()
	params := url.Values{}
	params.Set("type", "itv")
	params.Set("action", "get_all_channels")
	body, err := c.do(ctx, c.Timeouts.Catalog, http.MethodGet, s, params)
	if err != nil {
		return nil, err
	}
	var env struct {
		Js struct {
			Data []struct {
				ID      any    `json:"id"`
				Name    string `json:"name"`
				Cmd     string `json:"cmd"`
				Logo    string `json:"logo"`
				GenreID any    `json:"tv_genre_id"`
			} `json:"data"`
		} `json:"js"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	channels := make([]Channel, 0, len(env.Js.Data))
	for _, ch := range env.Js.Data {
		id := asString(ch.ID)
		if id == "" {
			continue
		}
		channels = append(channels, Channel{
			ID:      id,
			Name:    strings.TrimSpace(ch.Name),
			Cmd:     ch.Cmd,
			Logo:    ch.Logo,
			GenreID: asString(ch.GenreID),
		})
	}
	return channels, nil
}

// LooksExpired is the expiry heuristic: the portal signals a dead token by
// handing back an empty or undecodable catalog rather than a clean status.
// Kept as one named predicate so it can be tightened without touching call
// sites.
func LooksExpired(channels []Channel, err error) bool {
	return err != nil || len(channels) == 0
}

// FetchCatalog fetches genres + channels through the handle, renewing the
// session once when the channel list looks expired. A second empty fetch is a
// CatalogError.
func (c *Client) FetchCatalog(ctx context.Context, h *Handle) ([]Genre, []Channel, error) {
	s := h.Current()
	channels, err := c.FetchChannels(ctx, s)
	if LooksExpired(channels, err) {
		metrics.RenewalsTotal.Inc()
		log.Printf("Catalog looks expired (%d channels, err=%v); renewing session", len(channels), err)
		s, err = h.Renew(ctx, s)
		if err != nil {
			return nil, nil, &CatalogError{Portal: c.PortalName(), Err: err}
		}
		channels, err = c.FetchChannels(ctx, s)
		if LooksExpired(channels, err) {
			if err == nil {
				err = errors.New("portal returned zero channels twice")
			}
			return nil, nil, &CatalogError{Portal: c.PortalName(), Err: err}
		}
	}
	genres := c.FetchGenres(ctx, s)
	return genres, channels, nil
}

// asString renders a JSON id that may arrive as number or string.
func asString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatInt(int64(x), 10)
	}
	return ""
}
