// Package sessionstore persists portal session records across process
// restarts, one record per portal identity, in a small SQLite database.
package sessionstore

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/portalgate/portal-gate/internal/portal"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	portal         TEXT PRIMARY KEY,
	base_url       TEXT NOT NULL,
	device_address TEXT NOT NULL,
	token          TEXT NOT NULL,
	cookie_string  TEXT NOT NULL,
	header_list    TEXT NOT NULL,
	variant        TEXT NOT NULL,
	updated_at     INTEGER NOT NULL
);`

// Store implements portal.Store over SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (and creates if needed) the session database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("session db path is empty")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init session db: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Save upserts the record for its portal.
func (s *Store) Save(rec portal.Record) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (portal, base_url, device_address, token, cookie_string, header_list, variant, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(portal) DO UPDATE SET
			base_url = excluded.base_url,
			device_address = excluded.device_address,
			token = excluded.token,
			cookie_string = excluded.cookie_string,
			header_list = excluded.header_list,
			variant = excluded.variant,
			updated_at = excluded.updated_at`,
		rec.PortalName, rec.BaseURL, rec.DeviceAddress, rec.Token,
		rec.CookieString, strings.Join(rec.HeaderList, "\n"), string(rec.Variant),
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("save session %s: %w", rec.PortalName, err)
	}
	return nil
}

// Load returns the record for portalName; ok is false when none exists.
func (s *Store) Load(portalName string) (portal.Record, bool, error) {
	var rec portal.Record
	var headerList, variant string
	err := s.db.QueryRow(`
		SELECT portal, base_url, device_address, token, cookie_string, header_list, variant
		FROM sessions WHERE portal = ?`, portalName).
		Scan(&rec.PortalName, &rec.BaseURL, &rec.DeviceAddress, &rec.Token,
			&rec.CookieString, &headerList, &variant)
	if err == sql.ErrNoRows {
		return portal.Record{}, false, nil
	}
	if err != nil {
		return portal.Record{}, false, fmt.Errorf("load session %s: %w", portalName, err)
	}
	if headerList != "" {
		rec.HeaderList = strings.Split(headerList, "\n")
	}
	rec.Variant = portal.Variant(variant)
	return rec, true, nil
}

// Delete removes the record for portalName. Missing records are not an error.
func (s *Store) Delete(portalName string) error {
	if _, err := s.db.Exec(`DELETE FROM sessions WHERE portal = ?`, portalName); err != nil {
		return fmt.Errorf("delete session %s: %w", portalName, err)
	}
	return nil
}
