package cache

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/conduit-ai/conduit/internal/provider"
)

const createEntriesTable = `
CREATE TABLE IF NOT EXISTS cache_entries (
	fingerprint TEXT NOT NULL PRIMARY KEY,
	response BLOB NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	ttl_seconds INTEGER NOT NULL
);
`

// slowTier is the durable tier: one sqlite table keyed by request
// fingerprint, entries valid until their TTL runs out.
type slowTier struct {
	db  *sql.DB
	ttl time.Duration
}

func newSlowTier(dbPath string, ttl time.Duration) (*slowTier, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure cache db: %w", err)
	}
	if _, err := db.Exec(createEntriesTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}
	return &slowTier{db: db, ttl: ttl}, nil
}

// get returns the cached response, or nil when absent or expired.
func (s *slowTier) get(fp string) (*provider.Response, error) {
	var blob []byte
	var createdAt time.Time
	var ttlSeconds int64

	err := s.db.QueryRow(
		`SELECT response, created_at, ttl_seconds FROM cache_entries WHERE fingerprint = ?`,
		fp,
	).Scan(&blob, &createdAt, &ttlSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}

	if time.Since(createdAt) > time.Duration(ttlSeconds)*time.Second {
		return nil, nil
	}

	var resp provider.Response
	if err := json.Unmarshal(blob, &resp); err != nil {
		return nil, fmt.Errorf("cache decode: %w", err)
	}
	return &resp, nil
}

func (s *slowTier) put(fp string, resp provider.Response) error {
	return s.putAt(fp, resp, time.Now().UTC())
}

// putAt inserts with an explicit creation time.
func (s *slowTier) putAt(fp string, resp provider.Response, createdAt time.Time) error {
	blob, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO cache_entries (fingerprint, response, created_at, ttl_seconds)
		 VALUES (?, ?, ?, ?)`,
		fp, blob, createdAt, int64(s.ttl.Seconds()),
	)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// sweepExpired deletes rows past their TTL and reports how many went.
func (s *slowTier) sweepExpired() (int64, error) {
	res, err := s.db.Exec(
		`DELETE FROM cache_entries WHERE (julianday('now') - julianday(created_at)) * 86400 > ttl_seconds`,
	)
	if err != nil {
		return 0, fmt.Errorf("cache sweep: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *slowTier) count() (int64, error) {
	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM cache_entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("cache stats: %w", err)
	}
	return n, nil
}

func (s *slowTier) clear() error {
	if _, err := s.db.Exec(`DELETE FROM cache_entries`); err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	return nil
}

func (s *slowTier) close() error { return s.db.Close() }
