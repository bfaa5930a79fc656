// Package store persists registered sources and their lifecycle state.
//
// The store is the authoritative record of every source; the sync queue
// and the HTTP API both go through it. Lifecycle updates are validated
// against the status state machine so an illegal transition can never
// be persisted.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	// Pure-Go sqlite driver registered as "sqlite"
	_ "modernc.org/sqlite"

	"github.com/codelens/sourcereg/pkg/models"
)

var (
	// ErrNotFound is returned when the requested source does not exist
	ErrNotFound = errors.New("source not found")

	// ErrInvalidTransition is returned when a status update violates the lifecycle state machine
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Store defines the persistence operations for registered sources
type Store interface {
	// List returns all registered sources
	List(ctx context.Context) ([]*models.Source, error)

	// Get returns a single source by id
	Get(ctx context.Context, id string) (*models.Source, error)

	// Create persists a new source; the caller assigns the id
	Create(ctx context.Context, src *models.Source) error

	// Update replaces the origin, access, and user ids of an existing source.
	// Lifecycle fields are not touched; use SetStatus for those.
	Update(ctx context.Context, src *models.Source) error

	// Delete removes a source entirely
	Delete(ctx context.Context, id string) error

	// SetStatus transitions a source to the given lifecycle state,
	// enforcing the state machine. errMsg must be non-empty exactly when
	// status is error; syncedAt is recorded only on a ready transition.
	SetStatus(ctx context.Context, id string, status models.Status, errMsg string, syncedAt *time.Time) (*models.Source, error)

	// Close releases the underlying database
	Close() error
}

const schema = `
CREATE TABLE IF NOT EXISTS sources (
	id             TEXT PRIMARY KEY,
	origin         TEXT NOT NULL,
	status         TEXT NOT NULL,
	error_message  TEXT NOT NULL DEFAULT '',
	last_synced_at TEXT,
	access         TEXT NOT NULL,
	user_ids       TEXT NOT NULL DEFAULT '[]',
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL
);
`

// sqlStore implements Store on top of database/sql with the sqlite driver
type sqlStore struct {
	db *sql.DB
}

// Open opens (and migrates) a sqlite-backed store at the given DSN.
// Use ":memory:" for an ephemeral store.
func Open(dsn string) (Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// sqlite handles a single writer; a second connection against a
	// ":memory:" DSN would also see a different database entirely.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &sqlStore{db: db}, nil
}

// Close releases the underlying database
func (s *sqlStore) Close() error {
	return s.db.Close()
}

// List returns all registered sources ordered by creation time
func (s *sqlStore) List(ctx context.Context) ([]*models.Source, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, origin, status, error_message, last_synced_at, access, user_ids
		 FROM sources ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sources: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			slog.Warn("Failed to close rows", "error", cerr)
		}
	}()

	var out []*models.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sources: %w", err)
	}
	return out, nil
}

// Get returns a single source by id
func (s *sqlStore) Get(ctx context.Context, id string) (*models.Source, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, origin, status, error_message, last_synced_at, access, user_ids
		 FROM sources WHERE id = ?`, id)

	src, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return src, nil
}

// Create persists a new source
func (s *sqlStore) Create(ctx context.Context, src *models.Source) error {
	if err := src.Validate(); err != nil {
		return err
	}

	originJSON, err := json.Marshal(src.Origin)
	if err != nil {
		return fmt.Errorf("failed to encode origin: %w", err)
	}
	userIDsJSON, err := json.Marshal(userIDsOrEmpty(src.UserIDs))
	if err != nil {
		return fmt.Errorf("failed to encode user ids: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sources (id, origin, status, error_message, last_synced_at, access, user_ids, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		src.ID, string(originJSON), string(src.Status), src.ErrorMessage,
		formatTime(src.LastSyncedAt), string(src.Access), string(userIDsJSON), now, now)
	if err != nil {
		return fmt.Errorf("failed to insert source: %w", err)
	}
	return nil
}

// Update replaces the origin, access, and user ids of an existing source
func (s *sqlStore) Update(ctx context.Context, src *models.Source) error {
	if err := src.Origin.Validate(); err != nil {
		return fmt.Errorf("invalid origin: %w", err)
	}
	if !src.Access.Valid() {
		return fmt.Errorf("invalid access tier: %q", src.Access)
	}

	originJSON, err := json.Marshal(src.Origin)
	if err != nil {
		return fmt.Errorf("failed to encode origin: %w", err)
	}
	userIDsJSON, err := json.Marshal(userIDsOrEmpty(src.UserIDs))
	if err != nil {
		return fmt.Errorf("failed to encode user ids: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE sources SET origin = ?, access = ?, user_ids = ?, updated_at = ? WHERE id = ?`,
		string(originJSON), string(src.Access), string(userIDsJSON),
		time.Now().UTC().Format(time.RFC3339Nano), src.ID)
	if err != nil {
		return fmt.Errorf("failed to update source: %w", err)
	}
	return requireRowAffected(res)
}

// Delete removes a source entirely
func (s *sqlStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete source: %w", err)
	}
	return requireRowAffected(res)
}

// SetStatus transitions a source to the given lifecycle state
func (s *sqlStore) SetStatus(
	ctx context.Context,
	id string,
	status models.Status,
	errMsg string,
	syncedAt *time.Time,
) (*models.Source, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("invalid status: %q", status)
	}
	if (status == models.StatusError) != (errMsg != "") {
		return nil, fmt.Errorf("error message must be set exactly when status is %q", models.StatusError)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var current models.Status
	err = tx.QueryRowContext(ctx, `SELECT status FROM sources WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read current status: %w", err)
	}

	if !current.CanTransition(status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
	}

	query := `UPDATE sources SET status = ?, error_message = ?, updated_at = ?`
	args := []any{string(status), errMsg, time.Now().UTC().Format(time.RFC3339Nano)}
	if status == models.StatusReady && syncedAt != nil {
		query += `, last_synced_at = ?`
		args = append(args, formatTime(syncedAt))
	}
	query += ` WHERE id = ?`
	args = append(args, id)

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("failed to update status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit status update: %w", err)
	}

	return s.Get(ctx, id)
}

// scanner covers both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanSource(row scanner) (*models.Source, error) {
	var (
		src          models.Source
		originJSON   string
		lastSyncedAt sql.NullString
		userIDsJSON  string
	)
	err := row.Scan(&src.ID, &originJSON, &src.Status, &src.ErrorMessage, &lastSyncedAt, &src.Access, &userIDsJSON)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(originJSON), &src.Origin); err != nil {
		return nil, fmt.Errorf("failed to decode origin for source %s: %w", src.ID, err)
	}
	if err := json.Unmarshal([]byte(userIDsJSON), &src.UserIDs); err != nil {
		return nil, fmt.Errorf("failed to decode user ids for source %s: %w", src.ID, err)
	}
	if lastSyncedAt.Valid {
		ts, err := time.Parse(time.RFC3339Nano, lastSyncedAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse last_synced_at for source %s: %w", src.ID, err)
		}
		src.LastSyncedAt = &ts
	}
	return &src, nil
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func userIDsOrEmpty(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func requireRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
