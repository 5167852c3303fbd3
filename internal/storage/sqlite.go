package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const defaultLogLimit = 100

// timeLayout is fixed-width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store wraps a SQLite database holding user profiles and the adaptation log.
type Store struct {
	db *sql.DB
}

// pragmas are applied once per Open. The busy timeout covers the CLI and
// server touching the same file.
var pragmas = []string{
	"PRAGMA busy_timeout = 5000",
	"PRAGMA journal_mode = WAL",
	"PRAGMA foreign_keys = ON",
}

// Open opens or creates sif.db in dataDir and applies pending migrations.
// ":memory:" opens a private in-memory database.
func Open(dataDir string) (*Store, error) {
	dsn := ":memory:"
	if dataDir != dsn {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "sif.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection: an in-memory database lives on its connection, and
	// serialized writers never see "database is locked".
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	if err := s.db.Ping(); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	if err := s.migrate(); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping() error {
	return s.db.Ping()
}

// migrate applies embedded migrations/NNN_name.sql files in version order,
// each in its own transaction together with its schema_version row.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	applied, err := s.AppliedMigrations()
	if err != nil {
		return err
	}
	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)

	for _, name := range names {
		version, err := parseMigrationVersion(path.Base(name))
		if err != nil {
			return err
		}
		if slices.Contains(applied, version) {
			continue
		}
		script, err := migrationsFS.ReadFile(name)
		if err != nil {
			return err
		}
		if err := s.apply(version, string(script)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) apply(version int, script string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("migration %d: %w", version, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(script); err != nil {
		return fmt.Errorf("applying migration %d: %w", version, err)
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("recording migration %d: %w", version, err)
	}
	return tx.Commit()
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Profiles ---

// GetProfileDoc returns the stored JSON document for userID, or ErrNotFound.
func (s *Store) GetProfileDoc(userID string) ([]byte, error) {
	var doc string
	err := s.db.QueryRow("SELECT doc FROM profiles WHERE user_id = ?", userID).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(doc), nil
}

// PutProfileDoc inserts or replaces the document for userID.
func (s *Store) PutProfileDoc(userID string, doc []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO profiles (user_id, doc, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at`,
		userID, string(doc), time.Now().UTC().Format(timeLayout),
	)
	return err
}

// ListProfileDocs returns every stored profile ordered by user ID.
func (s *Store) ListProfileDocs() ([]ProfileDoc, error) {
	rows, err := s.db.Query("SELECT user_id, doc, updated_at FROM profiles ORDER BY user_id ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []ProfileDoc
	for rows.Next() {
		var d ProfileDoc
		var doc, updatedAt string
		if err := rows.Scan(&d.UserID, &doc, &updatedAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, updatedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		d.Doc = []byte(doc)
		d.UpdatedAt = t
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// DeleteProfile removes the profile for userID. Returns ErrNotFound when
// there is nothing to delete.
func (s *Store) DeleteProfile(userID string) error {
	res, err := s.db.Exec("DELETE FROM profiles WHERE user_id = ?", userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Adaptation log ---

// AppendLog inserts one log record. Records are never updated.
func (s *Store) AppendLog(r LogRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO adaptation_log (id, created_at, user_id, classification, persisted, entry_json)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.CreatedAt.UTC().Format(timeLayout), r.UserID, r.Classification,
		boolToInt(r.Persisted), r.EntryJSON,
	)
	return err
}

// ListLog returns the most recent log records, newest first.
func (s *Store) ListLog(f LogFilter) ([]LogRecord, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultLogLimit
	}

	var (
		where []string
		args  []any
	)
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Classification != "" {
		where = append(where, "classification = ?")
		args = append(args, f.Classification)
	}

	q := "SELECT id, created_at, user_id, classification, persisted, entry_json FROM adaptation_log"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LogRecord
	for rows.Next() {
		var r LogRecord
		var createdAt string
		var persisted int
		if err := rows.Scan(&r.ID, &createdAt, &r.UserID, &r.Classification, &persisted, &r.EntryJSON); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		r.CreatedAt = t
		r.Persisted = persisted != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountLogByClassification returns how many log records carry each classification.
func (s *Store) CountLogByClassification() (map[string]int, error) {
	rows, err := s.db.Query("SELECT classification, COUNT(*) FROM adaptation_log GROUP BY classification")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var c string
		var n int
		if err := rows.Scan(&c, &n); err != nil {
			return nil, err
		}
		counts[c] = n
	}
	return counts, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
