package stores

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/iotistic/supervisor/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Ensure SQLiteStore satisfies the engine's persistence contract.
var _ engine.StateStore = (*SQLiteStore)(nil)
var _ Store = (*SQLiteStore)(nil)

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	return &SQLiteStore{
		path: cfg.Path,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	// Open database with SQLite-specific connection parameters
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// The engine serializes passes, so a small pool suffices. A single
	// writer also sidesteps SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Verify connection
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	// Create migration source from embedded FS
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	// Create database driver
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	// Create migration instance
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	// Run migrations
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Load retrieves the snapshot for a kind. It returns (nil, nil) when no
// snapshot has ever been saved, and an error when the stored row fails to
// decode or its hash does not match; the engine treats both failure modes
// as an empty prior state.
func (s *SQLiteStore) Load(ctx context.Context, kind engine.Kind) (*engine.Snapshot, error) {
	query := `
		SELECT state, state_hash, pass_id, saved_at
		FROM snapshots
		WHERE kind = ?
	`

	var stateJSON, storedHash, passID string
	var savedAt time.Time
	err := s.db.QueryRowContext(ctx, query, string(kind)).Scan(&stateJSON, &storedHash, &passID, &savedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, engine.NewLoadError("failed to read snapshot row", err).WithKind(kind)
	}

	if hashState(stateJSON) != storedHash {
		return nil, engine.NewLoadError("snapshot hash mismatch, stored state is corrupt", nil).WithKind(kind)
	}

	var state engine.State
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return nil, engine.NewLoadError("failed to decode snapshot state", err).WithKind(kind)
	}

	return &engine.Snapshot{
		Kind:    kind,
		State:   state,
		PassID:  passID,
		SavedAt: savedAt,
	}, nil
}

// Save overwrites the snapshot row for the snapshot's kind.
func (s *SQLiteStore) Save(ctx context.Context, snap *engine.Snapshot) error {
	if snap == nil {
		return engine.NewPersistenceError("nil snapshot", nil)
	}
	if err := snap.Kind.Validate(); err != nil {
		return engine.NewPersistenceError("snapshot has invalid kind", err)
	}

	stateJSON, err := json.Marshal(snap.State)
	if err != nil {
		return engine.NewPersistenceError("failed to encode snapshot state", err).WithKind(snap.Kind)
	}

	query := `
		INSERT INTO snapshots (kind, state, state_hash, pass_id, saved_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(kind) DO UPDATE SET
			state = excluded.state,
			state_hash = excluded.state_hash,
			pass_id = excluded.pass_id,
			saved_at = excluded.saved_at,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, query,
		string(snap.Kind),
		string(stateJSON),
		hashState(string(stateJSON)),
		snap.PassID,
		snap.SavedAt.UTC(),
		now,
	)
	if err != nil {
		return engine.NewPersistenceError("failed to write snapshot", err).WithKind(snap.Kind)
	}

	return nil
}

// RecordPass appends a pass outcome to the history table.
func (s *SQLiteStore) RecordPass(ctx context.Context, kind engine.Kind, result *engine.Result) error {
	if result == nil {
		return engine.NewPersistenceError("nil pass result", nil)
	}

	var errorsJSON *string
	if len(result.Errors) > 0 {
		raw, err := json.Marshal(result.Errors)
		if err != nil {
			return engine.NewPersistenceError("failed to encode step errors", err).WithKind(kind)
		}
		str := string(raw)
		errorsJSON = &str
	}

	query := `
		INSERT INTO pass_history (pass_id, kind, success, added, updated, removed, errors, duration_ms, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		result.PassID,
		string(kind),
		result.Success,
		result.Added,
		result.Updated,
		result.Removed,
		errorsJSON,
		result.Duration.Milliseconds(),
		result.Timestamp.UTC(),
	)
	if err != nil {
		return engine.NewPersistenceError("failed to record pass", err).WithKind(kind)
	}

	return nil
}

// ListPasses returns the most recent pass records for a kind, newest first.
func (s *SQLiteStore) ListPasses(ctx context.Context, kind engine.Kind, limit int) ([]*PassRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, pass_id, kind, success, added, updated, removed, errors, duration_ms, completed_at
		FROM pass_history
		WHERE kind = ?
		ORDER BY completed_at DESC, id DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, string(kind), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list passes: %w", err)
	}
	defer rows.Close()

	records := []*PassRecord{}
	for rows.Next() {
		rec := &PassRecord{}
		var kindStr string
		var errorsJSON sql.NullString
		var durationMs int64
		err := rows.Scan(
			&rec.ID,
			&rec.PassID,
			&kindStr,
			&rec.Success,
			&rec.Added,
			&rec.Updated,
			&rec.Removed,
			&errorsJSON,
			&durationMs,
			&rec.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pass record: %w", err)
		}
		rec.Kind = engine.Kind(kindStr)
		if errorsJSON.Valid {
			rec.Errors = errorsJSON.String
		}
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pass records: %w", err)
	}

	return records, nil
}

// PrunePasses keeps the newest `keep` records per kind and removes the rest.
func (s *SQLiteStore) PrunePasses(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		keep = 100
	}

	query := `
		DELETE FROM pass_history
		WHERE id NOT IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (PARTITION BY kind ORDER BY completed_at DESC, id DESC) AS rn
				FROM pass_history
			)
			WHERE rn <= ?
		)
	`

	result, err := s.db.ExecContext(ctx, query, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune pass history: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return deleted, nil
}

// HealthCheck verifies database connectivity
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// hashState returns the hex SHA256 of the serialized state, used to detect
// torn or corrupted snapshot rows at load time.
func hashState(stateJSON string) string {
	sum := sha256.Sum256([]byte(stateJSON))
	return hex.EncodeToString(sum[:])
}
