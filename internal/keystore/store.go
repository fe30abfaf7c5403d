package keystore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound indicates no stored key matches the given prefix.
var ErrNotFound = errors.New("keystore: key not found")

// ErrAmbiguous indicates a prefix matches more than one stored key.
var ErrAmbiguous = errors.New("keystore: prefix matches multiple keys")

// ApiKey is a stored API key with its access metadata. A nil AllowedIPs or
// AllowedCommands slice means unrestricted.
type ApiKey struct {
	Secret          string
	Name            string
	Created         time.Time
	LastUsed        *time.Time
	AllowedIPs      []string
	AllowedCommands []string
}

// Store is the durable API key table, backed by a single sqlite file.
type Store struct {
	db   *sql.DB
	path string
}

const schema = `
CREATE TABLE IF NOT EXISTS api_keys (
	secret           TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	created_at       TEXT NOT NULL,
	last_used_at     TEXT,
	allowed_ips      TEXT,
	allowed_commands TEXT
);
`

// Open initialises the key store at the given path, creating the file and
// schema on first use.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("keystore: ensure dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("keystore: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("keystore: init schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert persists a new key. The secret must be unique.
func (s *Store) Insert(key ApiKey) error {
	ips, err := encodeList(key.AllowedIPs)
	if err != nil {
		return fmt.Errorf("keystore: insert: %w", err)
	}
	cmds, err := encodeList(key.AllowedCommands)
	if err != nil {
		return fmt.Errorf("keystore: insert: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO api_keys (secret, name, created_at, last_used_at, allowed_ips, allowed_commands)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		key.Secret, key.Name, key.Created.UTC().Format(time.RFC3339Nano),
		encodeTime(key.LastUsed), ips, cmds,
	)
	if err != nil {
		return fmt.Errorf("keystore: insert %s: %w", key.Name, err)
	}
	return nil
}

// All returns every stored key, oldest first.
func (s *Store) All() ([]ApiKey, error) {
	rows, err := s.db.Query(
		`SELECT secret, name, created_at, last_used_at, allowed_ips, allowed_commands
		 FROM api_keys ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("keystore: list: %w", err)
	}
	defer rows.Close()

	var keys []ApiKey
	for rows.Next() {
		var (
			key           ApiKey
			created       string
			lastUsed, ips sql.NullString
			cmds          sql.NullString
		)
		if err := rows.Scan(&key.Secret, &key.Name, &created, &lastUsed, &ips, &cmds); err != nil {
			return nil, fmt.Errorf("keystore: scan: %w", err)
		}
		key.Created, err = time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, fmt.Errorf("keystore: parse created_at: %w", err)
		}
		if key.LastUsed, err = decodeTime(lastUsed); err != nil {
			return nil, fmt.Errorf("keystore: parse last_used_at: %w", err)
		}
		if key.AllowedIPs, err = decodeList(ips); err != nil {
			return nil, fmt.Errorf("keystore: parse allowed_ips: %w", err)
		}
		if key.AllowedCommands, err = decodeList(cmds); err != nil {
			return nil, fmt.Errorf("keystore: parse allowed_commands: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// DeleteByPrefix removes the single key whose secret starts with prefix.
// A prefix matching no key returns ErrNotFound; matching more than one
// returns ErrAmbiguous and deletes nothing.
func (s *Store) DeleteByPrefix(prefix string) (ApiKey, error) {
	if prefix == "" {
		return ApiKey{}, ErrNotFound
	}

	rows, err := s.db.Query(
		`SELECT secret, name FROM api_keys WHERE secret LIKE ? ESCAPE '\' LIMIT 2`,
		likePrefix(prefix))
	if err != nil {
		return ApiKey{}, fmt.Errorf("keystore: revoke lookup: %w", err)
	}
	defer rows.Close()

	var matches []ApiKey
	for rows.Next() {
		var key ApiKey
		if err := rows.Scan(&key.Secret, &key.Name); err != nil {
			return ApiKey{}, fmt.Errorf("keystore: revoke scan: %w", err)
		}
		matches = append(matches, key)
	}
	if err := rows.Err(); err != nil {
		return ApiKey{}, fmt.Errorf("keystore: revoke lookup: %w", err)
	}

	switch len(matches) {
	case 0:
		return ApiKey{}, ErrNotFound
	case 1:
	default:
		return ApiKey{}, ErrAmbiguous
	}

	if _, err := s.db.Exec(`DELETE FROM api_keys WHERE secret = ?`, matches[0].Secret); err != nil {
		return ApiKey{}, fmt.Errorf("keystore: revoke delete: %w", err)
	}
	return matches[0], nil
}

// UpdateLastUsed writes a coalesced last-used timestamp for one key. Missing
// secrets are ignored (the key may have been revoked since the mark).
func (s *Store) UpdateLastUsed(secret string, t time.Time) error {
	_, err := s.db.Exec(
		`UPDATE api_keys SET last_used_at = ? WHERE secret = ?`,
		t.UTC().Format(time.RFC3339Nano), secret)
	if err != nil {
		return fmt.Errorf("keystore: update last used: %w", err)
	}
	return nil
}

// Count returns the number of stored keys.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM api_keys`).Scan(&n); err != nil {
		return 0, fmt.Errorf("keystore: count: %w", err)
	}
	return n, nil
}

func encodeList(list []string) (any, error) {
	if list == nil {
		return nil, nil
	}
	data, err := json.Marshal(list)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func decodeList(v sql.NullString) ([]string, error) {
	if !v.Valid {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(v.String), &list); err != nil {
		return nil, err
	}
	return list, nil
}

func encodeTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// likePrefix escapes LIKE metacharacters so the prefix matches literally.
func likePrefix(prefix string) string {
	escaped := make([]byte, 0, len(prefix)+4)
	for i := 0; i < len(prefix); i++ {
		switch c := prefix[i]; c {
		case '%', '_', '\\':
			escaped = append(escaped, '\\', c)
		default:
			escaped = append(escaped, c)
		}
	}
	return string(escaped) + "%"
}
