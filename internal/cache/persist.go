package cache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const persistSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key        TEXT PRIMARY KEY,
	namespace  TEXT NOT NULL,
	payload    BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	ttl_ns     INTEGER NOT NULL,
	deps       TEXT NOT NULL
);`

// Decoder turns a persisted payload back into the concrete value type
// of its namespace. Registering one decoder per namespace keeps
// deserialization type-safe instead of round-tripping through untyped
// maps.
type Decoder func(data []byte) (any, error)

// JSONDecoder builds a Decoder for a concrete type V.
func JSONDecoder[V any]() Decoder {
	return func(data []byte) (any, error) {
		var v V
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

// Persister snapshots cache entries into a local SQLite file. All
// persistence is best effort: failures are logged and degrade to
// cache-disabled behavior for that operation, never surfaced to the
// engine's callers.
type Persister struct {
	db       *sql.DB
	logger   *slog.Logger
	decoders map[string]Decoder
}

// NewPersister opens (or creates) the snapshot database at path.
func NewPersister(path string, logger *slog.Logger) (*Persister, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open cache snapshot db: %w", err)
	}
	if _, err := db.Exec(persistSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create cache snapshot schema: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Persister{
		db:       db,
		logger:   logger.With(slog.String("component", "cache.persist")),
		decoders: make(map[string]Decoder),
	}, nil
}

// RegisterDecoder binds a namespace (the key prefix up to the first
// ':') to the decoder used when restoring its entries.
func (p *Persister) RegisterDecoder(namespace string, dec Decoder) {
	p.decoders[namespace] = dec
}

// Save writes the store's live entries to the snapshot database,
// replacing the previous snapshot. Only namespaces with a registered
// decoder are written: an entry we cannot restore faithfully must not
// be persisted at all, or a later Load would serve it truncated.
func (p *Persister) Save(s *Store) error {
	s.mu.Lock()
	type row struct {
		key       string
		namespace string
		payload   []byte
		createdAt int64
		ttl       int64
		deps      string
	}
	now := s.now()
	rows := make([]row, 0, len(s.entries))
	for key, e := range s.entries {
		if e.expired(now) {
			continue
		}
		if _, ok := p.decoders[keyNamespace(key)]; !ok {
			continue
		}
		payload, err := json.Marshal(e.value)
		if err != nil {
			continue
		}
		rows = append(rows, row{
			key:       key,
			namespace: keyNamespace(key),
			payload:   payload,
			createdAt: e.createdAt.UnixNano(),
			ttl:       int64(e.ttl),
			deps:      strings.Join(e.deps, ","),
		})
	}
	s.mu.Unlock()

	tx, err := p.db.Begin()
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM cache_entries`); err != nil {
		tx.Rollback()
		return fmt.Errorf("clear previous snapshot: %w", err)
	}
	for _, r := range rows {
		if _, err := tx.Exec(`
			INSERT INTO cache_entries (key, namespace, payload, created_at, ttl_ns, deps)
			VALUES (?, ?, ?, ?, ?, ?)`,
			r.key, r.namespace, r.payload, r.createdAt, r.ttl, r.deps,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert snapshot row: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}

	p.logger.Info("cache snapshot saved", slog.Int("entries", len(rows)))
	return nil
}

// Load restores entries into the store. Entries whose namespace has no
// registered decoder, or whose TTL already elapsed, are skipped.
func (p *Persister) Load(s *Store) error {
	rows, err := p.db.Query(`SELECT key, namespace, payload, created_at, ttl_ns, deps FROM cache_entries`)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	defer rows.Close()

	restored, skipped := 0, 0
	now := s.now()
	for rows.Next() {
		var (
			key, namespace, deps string
			payload              []byte
			createdAt, ttl       int64
		)
		if err := rows.Scan(&key, &namespace, &payload, &createdAt, &ttl, &deps); err != nil {
			return fmt.Errorf("scan snapshot row: %w", err)
		}

		dec, ok := p.decoders[namespace]
		if !ok {
			skipped++
			continue
		}
		created := time.Unix(0, createdAt)
		remaining := time.Duration(ttl) - now.Sub(created)
		if remaining <= 0 {
			skipped++
			continue
		}
		value, err := dec(payload)
		if err != nil {
			p.logger.Warn("undecodable snapshot entry dropped",
				slog.String("key", key),
				slog.String("error", err.Error()))
			skipped++
			continue
		}

		var depTags []string
		if deps != "" {
			depTags = strings.Split(deps, ",")
		}
		s.Set(key, value, SetOptions{TTL: remaining, DependencyTags: depTags})
		restored++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate snapshot rows: %w", err)
	}

	p.logger.Info("cache snapshot loaded",
		slog.Int("restored", restored),
		slog.Int("skipped", skipped))
	return nil
}

// Close closes the snapshot database.
func (p *Persister) Close() error {
	return p.db.Close()
}

func keyNamespace(key string) string {
	if i := strings.Index(key, ":"); i > 0 {
		return key[:i]
	}
	return key
}
