// Package sqlite provides durable dux persistence backed by a single SQLite
// database: an action journal and a snapshot store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	dux "github.com/duxlab/dux"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements dux.Journal and dux.SnapshotStore using SQLite.
// One database holds both the action journal and the latest snapshot per
// store ID, so a single file captures everything Restore needs.
type SQLiteStore struct {
	db          *sql.DB
	cfg         *config
	logger      Logger
	metricsHook MetricsHook

	// Prepared statements
	appendStmt         *sql.Stmt
	loadStmt           *sql.Stmt
	loadFromStmt       *sql.Stmt
	seqStmt            *sql.Stmt
	saveSnapshotStmt   *sql.Stmt
	loadSnapshotStmt   *sql.Stmt
	deleteSnapshotStmt *sql.Stmt
}

// Ensure SQLiteStore implements the required interfaces
var _ dux.Journal = (*SQLiteStore)(nil)
var _ dux.SnapshotStore = (*SQLiteStore)(nil)

// dbOpener is used to open database connections, injectable for testing
var dbOpener = sql.Open

// New creates a new SQLiteStore with the given path and options.
//
// Note: When WithAutoMigrate is enabled (the default), migrations run with
// context.Background() and are not cancellable. This ensures migrations
// complete fully to avoid leaving the database in an inconsistent state.
func New(path string, opts ...Option) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite: path is required")
	}

	// Validate path to prevent URI parameter injection
	if path != ":memory:" && (strings.Contains(path, "?") || strings.Contains(path, "#")) {
		return nil, errors.New("sqlite: path cannot contain '?' or '#' characters")
	}

	cfg := defaultConfig()
	cfg.path = path
	for _, opt := range opts {
		opt(cfg)
	}

	// Build connection string with pragmas
	var dsn string
	if cfg.path == ":memory:" {
		// Use shared cache mode for in-memory databases to allow multiple connections
		dsn = "file::memory:?mode=memory&cache=shared"
	} else {
		dsn = fmt.Sprintf("file:%s?_busy_timeout=%d", cfg.path, cfg.busyTimeout.Milliseconds())
	}

	db, err := dbOpener("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}

	// Apply pragmas for performance
	// Errors here indicate filesystem issues (read-only, permissions)
	if err := applyPragmas(db, cfg); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply pragmas: %w", err)
	}

	// Run migrations if enabled
	if cfg.autoMigrate {
		if err := migrate(context.Background(), db); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: migrate: %w", err)
		}
	}

	return newFromDB(db, cfg)
}

// newFromDB creates a SQLiteStore from an existing database connection
func newFromDB(db *sql.DB, cfg *config) (*SQLiteStore, error) {
	store := &SQLiteStore{
		db:          db,
		cfg:         cfg,
		logger:      cfg.logger,
		metricsHook: cfg.metricsHook,
	}

	if err := store.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: prepare statements: %w", err)
	}

	return store, nil
}

// applyPragmas configures SQLite for optimal performance
func applyPragmas(db *sql.DB, cfg *config) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.busyTimeout.Milliseconds()),
		"PRAGMA temp_store = MEMORY",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("exec %q: %w", pragma, err)
		}
	}

	return nil
}

// prepareStatements prepares all SQL statements
func (s *SQLiteStore) prepareStatements() error {
	type stmtDef struct {
		dest **sql.Stmt
		sql  string
	}

	stmts := []stmtDef{
		{&s.appendStmt, "INSERT INTO journal (seq, action_type, action, timestamp) VALUES (?, ?, ?, ?)"},
		{&s.loadStmt, "SELECT seq, action_type, action, timestamp FROM journal WHERE seq >= ? AND seq <= ? ORDER BY seq"},
		{&s.loadFromStmt, "SELECT seq, action_type, action, timestamp FROM journal WHERE seq >= ? ORDER BY seq"},
		{&s.seqStmt, "SELECT COALESCE(MAX(seq), 0) FROM journal"},
		{&s.saveSnapshotStmt, `INSERT INTO snapshots (store_id, version, state, timestamp)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(store_id) DO UPDATE SET version = excluded.version, state = excluded.state, timestamp = excluded.timestamp`},
		{&s.loadSnapshotStmt, "SELECT version, state, timestamp FROM snapshots WHERE store_id = ?"},
		{&s.deleteSnapshotStmt, "DELETE FROM snapshots WHERE store_id = ?"},
	}

	for _, def := range stmts {
		stmt, err := s.db.Prepare(def.sql)
		if err != nil {
			return fmt.Errorf("prepare statement: %w", err)
		}
		*def.dest = stmt
	}

	return nil
}

// Append implements dux.Journal.
func (s *SQLiteStore) Append(ctx context.Context, entry *dux.Entry) error {
	start := time.Now()

	_, err := s.appendStmt.ExecContext(ctx, entry.Seq, entry.ActionType, []byte(entry.Action), entry.Timestamp)
	if err != nil {
		if s.metricsHook != nil {
			s.metricsHook.OnAppend(time.Since(start), err)
		}
		return fmt.Errorf("sqlite: append entry: %w", err)
	}

	if s.metricsHook != nil {
		s.metricsHook.OnAppend(time.Since(start), nil)
	}

	if s.logger != nil {
		s.logger.Debug("appended entry", "seq", entry.Seq, "action_type", entry.ActionType)
	}

	return nil
}

// rowScanner abstracts sql.Rows for testing
type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// Load implements dux.Journal. A to of -1 means no upper bound.
func (s *SQLiteStore) Load(ctx context.Context, from, to int64) ([]*dux.Entry, error) {
	start := time.Now()
	var entries []*dux.Entry
	var err error

	defer func() {
		if s.metricsHook != nil {
			s.metricsHook.OnLoad(time.Since(start), len(entries), err)
		}
	}()

	var rows *sql.Rows
	if to == -1 {
		rows, err = s.loadFromStmt.QueryContext(ctx, from)
	} else {
		rows, err = s.loadStmt.QueryContext(ctx, from, to)
	}

	if err != nil {
		return nil, fmt.Errorf("sqlite: load entries: %w", err)
	}

	entries, err = s.scanEntries(rows)
	if err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.Debug("loaded entries", "from", from, "to", to, "count", len(entries))
	}

	return entries, nil
}

// scanEntries scans rows into entries - extracted for testability
func (s *SQLiteStore) scanEntries(rows rowScanner) ([]*dux.Entry, error) {
	defer rows.Close()

	var entries []*dux.Entry
	for rows.Next() {
		entry := &dux.Entry{}
		var action []byte
		if err := rows.Scan(&entry.Seq, &entry.ActionType, &action, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("sqlite: scan entry: %w", err)
		}
		entry.Action = action
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate entries: %w", err)
	}

	return entries, nil
}

// Seq implements dux.Journal.
func (s *SQLiteStore) Seq(ctx context.Context) (int64, error) {
	start := time.Now()

	var seq int64
	err := s.seqStmt.QueryRowContext(ctx).Scan(&seq)
	if err != nil {
		if s.metricsHook != nil {
			s.metricsHook.OnSeq(time.Since(start), err)
		}
		return 0, fmt.Errorf("sqlite: journal seq: %w", err)
	}

	if s.metricsHook != nil {
		s.metricsHook.OnSeq(time.Since(start), nil)
	}

	return seq, nil
}

// Save implements dux.SnapshotStore. Only the latest snapshot per store ID
// is retained.
func (s *SQLiteStore) Save(ctx context.Context, snapshot *dux.Snapshot) error {
	start := time.Now()

	if snapshot == nil {
		return errors.New("sqlite: snapshot cannot be nil")
	}
	if snapshot.StoreID == "" {
		return errors.New("sqlite: snapshot store ID is required")
	}

	_, err := s.saveSnapshotStmt.ExecContext(ctx, snapshot.StoreID, snapshot.Version, []byte(snapshot.State), snapshot.Timestamp)
	if err != nil {
		if s.metricsHook != nil {
			s.metricsHook.OnSaveSnapshot(time.Since(start), err)
		}
		return fmt.Errorf("sqlite: save snapshot: %w", err)
	}

	if s.metricsHook != nil {
		s.metricsHook.OnSaveSnapshot(time.Since(start), nil)
	}

	if s.logger != nil {
		s.logger.Debug("saved snapshot", "store_id", snapshot.StoreID, "version", snapshot.Version)
	}

	return nil
}

// Latest implements dux.SnapshotStore.
func (s *SQLiteStore) Latest(ctx context.Context, storeID string) (*dux.Snapshot, error) {
	start := time.Now()

	if storeID == "" {
		return nil, errors.New("sqlite: store ID is required")
	}

	snapshot := &dux.Snapshot{StoreID: storeID}
	var state []byte
	err := s.loadSnapshotStmt.QueryRowContext(ctx, storeID).Scan(&snapshot.Version, &state, &snapshot.Timestamp)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if s.metricsHook != nil {
				s.metricsHook.OnLoadSnapshot(time.Since(start), nil)
			}
			return nil, fmt.Errorf("store %s: %w", storeID, dux.ErrNoSnapshot)
		}
		if s.metricsHook != nil {
			s.metricsHook.OnLoadSnapshot(time.Since(start), err)
		}
		return nil, fmt.Errorf("sqlite: load snapshot: %w", err)
	}
	snapshot.State = state

	if s.metricsHook != nil {
		s.metricsHook.OnLoadSnapshot(time.Since(start), nil)
	}

	return snapshot, nil
}

// Delete implements dux.SnapshotStore.
func (s *SQLiteStore) Delete(ctx context.Context, storeID string) error {
	start := time.Now()

	if storeID == "" {
		return errors.New("sqlite: store ID is required")
	}

	_, err := s.deleteSnapshotStmt.ExecContext(ctx, storeID)
	if err != nil {
		if s.metricsHook != nil {
			s.metricsHook.OnDeleteSnapshot(time.Since(start), err)
		}
		return fmt.Errorf("sqlite: delete snapshot: %w", err)
	}

	if s.metricsHook != nil {
		s.metricsHook.OnDeleteSnapshot(time.Since(start), nil)
	}

	return nil
}

// Close closes the database connection and releases resources.
// Prepared statement close errors are ignored as they cannot fail in practice
// with SQLite (the driver handles cleanup when the connection closes).
func (s *SQLiteStore) Close() error {
	// Close prepared statements - errors ignored as db.Close() handles cleanup
	stmts := []*sql.Stmt{
		s.appendStmt,
		s.loadStmt,
		s.loadFromStmt,
		s.seqStmt,
		s.saveSnapshotStmt,
		s.loadSnapshotStmt,
		s.deleteSnapshotStmt,
	}
	for _, stmt := range stmts {
		if stmt != nil {
			stmt.Close()
		}
	}

	if s.logger != nil {
		s.logger.Info("closing sqlite store")
	}

	return s.db.Close()
}
