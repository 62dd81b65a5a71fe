// Package playlist renders the extended-M3U playlist and writes it to disk.
package playlist

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/portalgate/portal-gate/internal/portal"
)

// DefaultGroup is the group-title for channels whose genre id has no match.
const DefaultGroup = "Other"

// Entry is one playlist line pair.
type Entry struct {
	Name  string
	Group string
	Logo  string
	URL   string
}

// GenreMap indexes genre titles by id.
func GenreMap(genres []portal.Genre) map[string]string {
	m := make(map[string]string, len(genres))
	for _, g := range genres {
		m[g.ID] = g.Title
	}
	return m
}

// BuildEntries produces one entry per channel for which urlFor yields a URL.
// Channels without one are skipped (failed offline resolution). Genre and logo
// metadata come from the channel record itself, so results resolved out of
// order still line up.
func BuildEntries(channels []portal.Channel, genreTitles map[string]string, urlFor func(portal.Channel) (string, bool)) []Entry {
	entries := make([]Entry, 0, len(channels))
	for _, ch := range channels {
		url, ok := urlFor(ch)
		if !ok || url == "" {
			continue
		}
		group := genreTitles[ch.GenreID]
		if group == "" {
			group = DefaultGroup
		}
		entries = append(entries, Entry{
			Name:  ch.Name,
			Group: group,
			Logo:  ch.Logo,
			URL:   url,
		})
	}
	return entries
}

// GatewayURL returns the online-mode redirect URL for a channel.
func GatewayURL(baseURL, channelID string) string {
	return strings.TrimSuffix(baseURL, "/") + "/getlink/" + channelID
}

// Render produces the playlist text: the #EXTM3U header, then a two-line
// record per entry.
func Render(entries []Entry) []byte {
	var b bytes.Buffer
	b.WriteString("#EXTM3U\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "#EXTINF:-1 group-title=\"%s\" tvg-logo=\"%s\",%s\n",
			escapeAttr(e.Group), escapeAttr(e.Logo), e.Name)
		b.WriteString(e.URL)
		b.WriteByte('\n')
	}
	return b.Bytes()
}

// escapeAttr keeps attribute values from breaking out of their quotes.
func escapeAttr(s string) string {
	return strings.ReplaceAll(s, `"`, "'")
}

// Save writes the playlist atomically (temp file then rename) so a reader
// never sees a partial file.
func Save(path string, data []byte) error {
	dir := filepath.Dir(filepath.Clean(path))
	tmp, err := os.CreateTemp(dir, ".playlist-*.m3u.tmp")
	if err != nil {
		return fmt.Errorf("playlist save: create temp: %w", err)
	}
	tmpName := tmp.Name()
	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if writeErr != nil || closeErr != nil {
		os.Remove(tmpName)
		if writeErr != nil {
			return fmt.Errorf("playlist save: write: %w", writeErr)
		}
		return fmt.Errorf("playlist save: close: %w", closeErr)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("playlist save: rename: %w", err)
	}
	return nil
}
