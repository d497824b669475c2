package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

const busyTimeoutMs = 5000

// ErrUnknownIndex is returned by Query for an index name that was never
// declared with CreateIndex.
var ErrUnknownIndex = errors.New("unknown index")

// Entry is one row yielded by Query: the record key, its value under the
// scanned index, and (when requested) the decoded attribute map.
type Entry struct {
	Key        string
	IndexValue int64
	Value      map[string]any
}

// Store is a persistent key→record map with named secondary integer
// indexes, backed by a single SQLite file. Records are JSON attribute
// maps; each declared index orders records by one integer attribute.
//
// The write path (Put, Delete, CreateIndex) is transactional per call.
// Reads may run concurrently with writes: the database is opened in WAL
// mode so Query cursors never block the single writer.
type Store struct {
	db  *sql.DB
	log *slog.Logger

	mu      sync.RWMutex
	indexes map[string]struct{}

	getStmt   *sql.Stmt
	countStmt *sql.Stmt
}

// Open opens (creating if necessary) the store at path.
// Index declarations from a previous run are restored.
func Open(path string, log *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("store: path is required")
	}
	if strings.ContainsAny(path, "?#") {
		return nil, errors.New("store: path cannot contain '?' or '#' characters")
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d", path, busyTimeoutMs)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply pragmas: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	s := &Store{
		db:      db,
		log:     log,
		indexes: make(map[string]struct{}),
	}
	if err := s.loadIndexes(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// applyPragmas configures SQLite for a single-writer, many-reader workload.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeoutMs),
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("exec %q: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) prepareStatements() error {
	type stmtDef struct {
		dest **sql.Stmt
		sql  string
	}
	stmts := []stmtDef{
		{&s.getStmt, "SELECT value FROM indicators WHERE key = ?"},
		{&s.countStmt, "SELECT COUNT(*) FROM indicators"},
	}
	for _, def := range stmts {
		stmt, err := s.db.Prepare(def.sql)
		if err != nil {
			return fmt.Errorf("store: prepare statement: %w", err)
		}
		*def.dest = stmt
	}
	return nil
}

// loadIndexes restores declared index names from a previous run.
func (s *Store) loadIndexes() error {
	rows, err := s.db.Query("SELECT name FROM indexes")
	if err != nil {
		return fmt.Errorf("store: load indexes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("store: load indexes: %w", err)
		}
		s.indexes[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("store: load indexes: %w", err)
	}
	return nil
}

// CreateIndex declares a secondary index over the named integer attribute.
// It is idempotent; a new declaration over a non-empty store backfills
// entries for every existing record that carries the attribute.
func (s *Store) CreateIndex(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.indexes[name]; ok {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: create index: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("INSERT OR IGNORE INTO indexes (name) VALUES (?)", name); err != nil {
		return fmt.Errorf("store: create index: %w", err)
	}
	if err := backfillIndex(tx, name); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: create index: %w", err)
	}

	s.indexes[name] = struct{}{}
	if s.log != nil {
		s.log.Debug("declared index", "index", name)
	}
	return nil
}

// backfillIndex inserts index entries for existing records carrying the
// indexed attribute.
func backfillIndex(tx *sql.Tx, name string) error {
	rows, err := tx.Query("SELECT key, value FROM indicators")
	if err != nil {
		return fmt.Errorf("store: backfill index: %w", err)
	}

	type pending struct {
		key  string
		ival int64
	}
	var entries []pending
	for rows.Next() {
		var key string
		var raw []byte
		if err := rows.Scan(&key, &raw); err != nil {
			rows.Close()
			return fmt.Errorf("store: backfill index: %w", err)
		}
		var value map[string]any
		if err := json.Unmarshal(raw, &value); err != nil {
			rows.Close()
			return fmt.Errorf("store: backfill index: decode %q: %w", key, err)
		}
		if ival, ok := indexValue(value, name); ok {
			entries = append(entries, pending{key: key, ival: ival})
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("store: backfill index: %w", err)
	}
	rows.Close()

	for _, e := range entries {
		_, err := tx.Exec(
			"INSERT OR REPLACE INTO index_entries (idx, key, ival) VALUES (?, ?, ?)",
			name, e.key, e.ival)
		if err != nil {
			return fmt.Errorf("store: backfill index: %w", err)
		}
	}
	return nil
}

// Put stores or replaces the record for key and refreshes its entries in
// every declared index, atomically.
func (s *Store) Put(key string, value map[string]any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: encode %q: %w", key, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: put %q: %w", key, err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO indicators (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, string(raw))
	if err != nil {
		return fmt.Errorf("store: put %q: %w", key, err)
	}

	if _, err := tx.Exec("DELETE FROM index_entries WHERE key = ?", key); err != nil {
		return fmt.Errorf("store: put %q: %w", key, err)
	}
	for name := range s.indexes {
		ival, ok := indexValue(value, name)
		if !ok {
			continue
		}
		_, err := tx.Exec(
			"INSERT INTO index_entries (idx, key, ival) VALUES (?, ?, ?)",
			name, key, ival)
		if err != nil {
			return fmt.Errorf("store: put %q: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: put %q: %w", key, err)
	}
	return nil
}

// Get returns the record for key and whether it exists.
func (s *Store) Get(key string) (map[string]any, bool, error) {
	var raw []byte
	err := s.getStmt.QueryRow(key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: get %q: %w", key, err)
	}
	var value map[string]any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, false, fmt.Errorf("store: decode %q: %w", key, err)
	}
	return value, true, nil
}

// Delete removes the record for key and its index entries.
// Deleting an absent key is a no-op.
func (s *Store) Delete(key string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: delete %q: %w", key, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM indicators WHERE key = ?", key); err != nil {
		return fmt.Errorf("store: delete %q: %w", key, err)
	}
	if _, err := tx.Exec("DELETE FROM index_entries WHERE key = ?", key); err != nil {
		return fmt.Errorf("store: delete %q: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: delete %q: %w", key, err)
	}
	return nil
}

// Count returns the number of records held.
func (s *Store) Count() (int64, error) {
	var n int64
	if err := s.countStmt.QueryRow().Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count: %w", err)
	}
	return n, nil
}

// Query returns a lazy cursor over the half-open range [from, to) of the
// named index, ordered ascending by (index value, key). A nil bound is
// unbounded on that side. With includeValue the full attribute map is
// decoded into each Entry.
//
// The returned sequence opens a fresh cursor each time it is ranged over,
// so one Query value can be iterated more than once. The cursor is closed
// when iteration completes or the consumer breaks out of the loop.
func (s *Store) Query(index string, from, to *int64, includeValue bool) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		s.mu.RLock()
		_, ok := s.indexes[index]
		s.mu.RUnlock()
		if !ok {
			yield(Entry{}, fmt.Errorf("store: %w: %q", ErrUnknownIndex, index))
			return
		}

		query, args := buildRangeQuery(index, from, to, includeValue)
		rows, err := s.db.Query(query, args...)
		if err != nil {
			yield(Entry{}, fmt.Errorf("store: range query: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var e Entry
			if includeValue {
				var raw []byte
				if err := rows.Scan(&e.IndexValue, &e.Key, &raw); err != nil {
					yield(Entry{}, fmt.Errorf("store: scan row: %w", err))
					return
				}
				if err := json.Unmarshal(raw, &e.Value); err != nil {
					yield(Entry{}, fmt.Errorf("store: decode %q: %w", e.Key, err))
					return
				}
			} else {
				if err := rows.Scan(&e.IndexValue, &e.Key); err != nil {
					yield(Entry{}, fmt.Errorf("store: scan row: %w", err))
					return
				}
			}
			if !yield(e, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(Entry{}, fmt.Errorf("store: iterate rows: %w", err))
		}
	}
}

// buildRangeQuery assembles the SQL and args for one Query call.
func buildRangeQuery(index string, from, to *int64, includeValue bool) (string, []any) {
	var b strings.Builder
	args := []any{index}

	if includeValue {
		b.WriteString(`SELECT e.ival, e.key, i.value
			FROM index_entries e JOIN indicators i ON i.key = e.key
			WHERE e.idx = ?`)
	} else {
		b.WriteString("SELECT e.ival, e.key FROM index_entries e WHERE e.idx = ?")
	}
	if from != nil {
		b.WriteString(" AND e.ival >= ?")
		args = append(args, *from)
	}
	if to != nil {
		b.WriteString(" AND e.ival < ?")
		args = append(args, *to)
	}
	b.WriteString(" ORDER BY e.ival, e.key")
	return b.String(), args
}

// Close releases prepared statements and closes the database.
func (s *Store) Close() error {
	for _, stmt := range []*sql.Stmt{s.getStmt, s.countStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return s.db.Close()
}

// indexValue extracts an integer attribute from a record, tolerating the
// numeric types a JSON round-trip produces.
func indexValue(value map[string]any, name string) (int64, bool) {
	switch v := value[name].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	case json.Number:
		i, err := v.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}
