package entry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/remoterelay-bridge/internal/bridges/remoterelay"
)

// DefaultCommandHistory is how many command records are kept per entry.
const DefaultCommandHistory = 50

// Repository defines entry persistence.
type Repository interface {
	// Create inserts a new entry, generating an id when empty.
	// Returns ErrEntryExists if the id or device id is taken.
	Create(ctx context.Context, e *Entry) error

	// GetByID returns ErrEntryNotFound if the entry does not exist.
	GetByID(ctx context.Context, id string) (*Entry, error)

	// GetByDeviceID returns ErrEntryNotFound if no entry is bound to deviceID.
	GetByDeviceID(ctx context.Context, deviceID string) (*Entry, error)

	// List returns all entries ordered by title.
	List(ctx context.Context) ([]Entry, error)

	// UpdateConfig replaces the persisted config of an entry.
	UpdateConfig(ctx context.Context, id string, cfg remoterelay.PersistedConfig) error

	// UpdateTitle renames an entry.
	UpdateTitle(ctx context.Context, id, title string) error

	// Delete removes an entry and its command history.
	Delete(ctx context.Context, id string) error

	// RecentCommands returns the newest command records first.
	RecentCommands(ctx context.Context, entryID string, limit int) ([]CommandRecord, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db      *sql.DB
	now     func() time.Time
	history int
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now, history: DefaultCommandHistory}
}

const selectEntry = `SELECT id, title, data, created_at, updated_at FROM entries`

// Create inserts a new entry.
func (r *SQLiteRepository) Create(ctx context.Context, e *Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.Title = strings.TrimSpace(e.Title)

	data, err := json.Marshal(e.Config)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}

	now := r.now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO entries (id, device_id, title, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Config.DeviceID, e.Title, string(data),
		e.CreatedAt.Format(time.RFC3339), e.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrEntryExists
		}
		return fmt.Errorf("inserting entry: %w", err)
	}
	return nil
}

// GetByID retrieves an entry by id.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Entry, error) {
	return r.getOne(ctx, selectEntry+` WHERE id = ?`, id)
}

// GetByDeviceID retrieves the entry bound to deviceID.
func (r *SQLiteRepository) GetByDeviceID(ctx context.Context, deviceID string) (*Entry, error) {
	return r.getOne(ctx, selectEntry+` WHERE device_id = ?`, deviceID)
}

// List retrieves all entries.
func (r *SQLiteRepository) List(ctx context.Context) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, selectEntry+` ORDER BY title, id`)
	if err != nil {
		return nil, fmt.Errorf("querying entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entries: %w", err)
	}
	return entries, nil
}

// UpdateConfig replaces the stored config. The device_id column follows
// cfg.DeviceID.
func (r *SQLiteRepository) UpdateConfig(ctx context.Context, id string, cfg remoterelay.PersistedConfig) error {
	if strings.TrimSpace(cfg.DeviceID) == "" {
		return invalid("device id is required")
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE entries SET device_id = ?, data = ?, updated_at = ? WHERE id = ?`,
		cfg.DeviceID, string(data), r.now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrEntryExists
		}
		return fmt.Errorf("updating entry config: %w", err)
	}
	return requireRow(result)
}

// UpdateTitle renames an entry.
func (r *SQLiteRepository) UpdateTitle(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" || len(title) > maxTitleLength {
		return invalid("title must be 1-100 characters")
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE entries SET title = ?, updated_at = ? WHERE id = ?`,
		title, r.now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("updating entry title: %w", err)
	}
	return requireRow(result)
}

// Delete removes an entry by id.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM entries WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting entry: %w", err)
	}
	return requireRow(result)
}

// LookupDevice implements remoterelay.EntryLookup.
func (r *SQLiteRepository) LookupDevice(ctx context.Context, deviceID string) (*remoterelay.ConfiguredEntry, error) {
	e, err := r.GetByDeviceID(ctx, deviceID)
	if errors.Is(err, ErrEntryNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &remoterelay.ConfiguredEntry{EntryID: e.ID, Config: e.Config}, nil
}

// SaveConfig implements remoterelay.ConfigStore.
func (r *SQLiteRepository) SaveConfig(ctx context.Context, entryID string, cfg remoterelay.PersistedConfig) error {
	return r.UpdateConfig(ctx, entryID, cfg)
}

// LogCommand implements remoterelay.CommandLog. Only the newest records per
// entry are kept.
func (r *SQLiteRepository) LogCommand(ctx context.Context, entryID, command string, repeats int, sendErr error) error {
	var errText string
	if sendErr != nil {
		errText = sendErr.Error()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning command log: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO command_log (entry_id, command, repeats, ok, error, sent_at) VALUES (?, ?, ?, ?, ?, ?)`,
		entryID, command, repeats, boolToInt(sendErr == nil), errText,
		r.now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("inserting command log: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM command_log WHERE entry_id = ? AND id NOT IN (
			SELECT id FROM command_log WHERE entry_id = ? ORDER BY id DESC LIMIT ?)`,
		entryID, entryID, r.history,
	); err != nil {
		return fmt.Errorf("trimming command log: %w", err)
	}
	return tx.Commit()
}

// RecentCommands returns up to limit records, newest first.
func (r *SQLiteRepository) RecentCommands(ctx context.Context, entryID string, limit int) ([]CommandRecord, error) {
	if limit <= 0 || limit > r.history {
		limit = r.history
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, entry_id, command, repeats, ok, error, sent_at
		FROM command_log WHERE entry_id = ? ORDER BY id DESC LIMIT ?`,
		entryID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying command log: %w", err)
	}
	defer rows.Close()

	records := []CommandRecord{}
	for rows.Next() {
		var rec CommandRecord
		var ok int
		var sentAt string
		if err := rows.Scan(&rec.ID, &rec.EntryID, &rec.Command, &rec.Repeats, &ok, &rec.Error, &sentAt); err != nil {
			return nil, fmt.Errorf("scanning command log: %w", err)
		}
		rec.OK = ok == 1
		rec.SentAt, _ = time.Parse(time.RFC3339Nano, sentAt) //nolint:errcheck // written by LogCommand
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command log: %w", err)
	}
	return records, nil
}

func (r *SQLiteRepository) getOne(ctx context.Context, query string, arg string) (*Entry, error) {
	e, err := scanEntry(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("querying entry: %w", err)
	}
	return e, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(scanner rowScanner) (*Entry, error) {
	var e Entry
	var data, createdAt, updatedAt string
	if err := scanner.Scan(&e.ID, &e.Title, &data, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(data), &e.Config); err != nil {
		return nil, fmt.Errorf("unmarshalling config of %s: %w", e.ID, err)
	}

	var err error
	if e.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if e.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &e, nil
}

func requireRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidEntry, msg)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}
