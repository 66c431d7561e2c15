package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"cycaxworker/internal/config"
)

const entryColumns = "id, job_id, correlation_id, name, state, failed_stage, engine, parts, downloaded, uploaded, completed, scene_path, error_kind, error_message, started_at, finished_at"

// Store manages the build ledger backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open connects to the ledger in the configured state directory.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.HistoryPath())
}

// OpenPath connects to (or creates) the ledger at dbPath.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record appends a build entry and returns its id.
func (s *Store) Record(ctx context.Context, entry Entry) (int64, error) {
	if strings.TrimSpace(entry.JobID) == "" {
		return 0, errors.New("history entry requires a job id")
	}
	if entry.State == "" {
		return 0, errors.New("history entry requires a state")
	}
	finished := entry.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	started := entry.StartedAt
	if started.IsZero() {
		started = finished
	}

	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO builds (
            job_id, correlation_id, name, state, failed_stage, engine,
            parts, downloaded, uploaded, completed, scene_path,
            error_kind, error_message, started_at, finished_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.JobID,
		nullableString(entry.CorrelationID),
		nullableString(entry.Name),
		entry.State,
		nullableString(entry.FailedStage),
		nullableString(entry.Engine),
		entry.Parts,
		entry.Downloaded,
		entry.Uploaded,
		boolToInt(entry.Completed),
		nullableString(entry.ScenePath),
		nullableString(entry.ErrorKind),
		nullableString(entry.ErrorMessage),
		formatTime(started),
		formatTime(finished),
	)
	if err != nil {
		return 0, fmt.Errorf("insert build: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// Get fetches an entry by id. A missing entry returns nil without error.
func (s *Store) Get(ctx context.Context, id int64) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM builds WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get build: %w", err)
	}
	return entry, nil
}

// List returns entries newest first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]*Entry, error) {
	var (
		clauses []string
		args    []any
	)
	if opts.JobID != "" {
		clauses = append(clauses, "job_id = ?")
		args = append(args, opts.JobID)
	}
	if opts.State != "" {
		clauses = append(clauses, "state = ?")
		args = append(args, opts.State)
	}
	query := `SELECT ` + entryColumns + ` FROM builds`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY finished_at DESC, id DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list builds: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Latest returns the most recent entry for a job, or nil when it has none.
func (s *Store) Latest(ctx context.Context, jobID string) (*Entry, error) {
	entries, err := s.List(ctx, ListOptions{JobID: jobID, Limit: 1})
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return entries[0], nil
}

// Stats summarizes every recorded build.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var (
		stats Stats
		last  sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1),
                COALESCE(SUM(CASE WHEN state = ? THEN 1 ELSE 0 END), 0),
                COALESCE(SUM(CASE WHEN state = ? THEN 1 ELSE 0 END), 0),
                MAX(finished_at)
         FROM builds`,
		StateDone, StateFailed,
	).Scan(&stats.Total, &stats.Succeeded, &stats.Failed, &last)
	if err != nil {
		return Stats{}, fmt.Errorf("build stats: %w", err)
	}
	if last.Valid {
		stats.LastFinished = parseTime(last.String)
	}
	return stats, nil
}

// Prune deletes entries that finished before cutoff and returns how many
// were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM builds WHERE finished_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune builds: %w", err)
	}
	return res.RowsAffected()
}

func scanEntry(scanner interface{ Scan(dest ...any) error }) (*Entry, error) {
	var (
		entry         Entry
		correlationID sql.NullString
		name          sql.NullString
		failedStage   sql.NullString
		engine        sql.NullString
		completed     int64
		scenePath     sql.NullString
		errorKind     sql.NullString
		errorMessage  sql.NullString
		startedRaw    string
		finishedRaw   string
	)
	if err := scanner.Scan(
		&entry.ID,
		&entry.JobID,
		&correlationID,
		&name,
		&entry.State,
		&failedStage,
		&engine,
		&entry.Parts,
		&entry.Downloaded,
		&entry.Uploaded,
		&completed,
		&scenePath,
		&errorKind,
		&errorMessage,
		&startedRaw,
		&finishedRaw,
	); err != nil {
		return nil, err
	}
	entry.CorrelationID = correlationID.String
	entry.Name = name.String
	entry.FailedStage = failedStage.String
	entry.Engine = engine.String
	entry.Completed = completed != 0
	entry.ScenePath = scenePath.String
	entry.ErrorKind = errorKind.String
	entry.ErrorMessage = errorMessage.String
	entry.StartedAt = parseTime(startedRaw)
	entry.FinishedAt = parseTime(finishedRaw)
	return &entry, nil
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

// Timestamps are stored as fixed-width UTC strings so they sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
