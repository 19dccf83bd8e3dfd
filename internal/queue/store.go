package queue

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// HistoryEntry is one row of the persisted job history.
type HistoryEntry struct {
	ID         string
	URL        string
	Title      string
	Quality    string
	Range      string
	GroupID    sql.NullString
	ProfileID  sql.NullString
	Status     string
	ExitCode   sql.NullInt64
	Error      sql.NullString
	CreatedAt  string
	UpdatedAt  string
	FinishedAt sql.NullString
}

// Store wraps DB access for job history and events. The live registry,
// not this table, decides what is running.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func (s *Store) CreateJob(ctx context.Context, e HistoryEntry) error {
	now := nowString()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO jobs (id, url, title, quality, time_range, group_id, profile_id, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, e.ID, e.URL, e.Title, e.Quality, e.Range, e.GroupID, e.ProfileID, StatusDownloading, now, now)
	return err
}

// MarkFinished stores the terminal status. A negative exitCode is stored
// as NULL.
func (s *Store) MarkFinished(ctx context.Context, id, status string, exitCode int, errMsg string) error {
	now := nowString()
	var code any
	if exitCode >= 0 {
		code = exitCode
	}
	var msg any
	if errMsg != "" {
		msg = errMsg
	}
	_, err := s.db.ExecContext(ctx, `
UPDATE jobs SET status = ?, exit_code = ?, error = ?, updated_at = ?, finished_at = ? WHERE id = ?
`, status, code, msg, now, now, id)
	return err
}

// MarkInterrupted flags rows left in downloading by a previous process
// that died before finishing them.
func (s *Store) MarkInterrupted(ctx context.Context) (int64, error) {
	now := nowString()
	res, err := s.db.ExecContext(ctx, `
UPDATE jobs SET status = ?, error = 'interrupted', updated_at = ?, finished_at = ? WHERE status = ?
`, StatusError, now, now, StatusDownloading)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const historyColumns = `id, url, title, quality, time_range, group_id, profile_id, status, exit_code, error, created_at, updated_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHistory(row rowScanner) (HistoryEntry, error) {
	var e HistoryEntry
	var title, quality, rng sql.NullString
	err := row.Scan(&e.ID, &e.URL, &title, &quality, &rng, &e.GroupID, &e.ProfileID,
		&e.Status, &e.ExitCode, &e.Error, &e.CreatedAt, &e.UpdatedAt, &e.FinishedAt)
	e.Title = title.String
	e.Quality = quality.String
	e.Range = rng.String
	return e, err
}

func (s *Store) GetJob(ctx context.Context, id string) (*HistoryEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+historyColumns+` FROM jobs WHERE id = ?`, id)
	e, err := scanHistory(row)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListJobs returns history rows newest first, optionally filtered by
// status. limit <= 0 means no limit.
func (s *Store) ListJobs(ctx context.Context, status string, limit int) ([]HistoryEntry, error) {
	query := `SELECT ` + historyColumns + ` FROM jobs`
	args := []any{}
	where := []string{}
	if status != "" {
		where = append(where, "status = ?")
		args = append(args, status)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []HistoryEntry{}
	for rows.Next() {
		e, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) AddEvent(ctx context.Context, jobID, level, msg string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO job_events (job_id, level, message, created_at) VALUES (?, ?, ?, ?)
`, jobID, level, msg, nowString())
	return err
}

func (s *Store) ListEvents(ctx context.Context, jobID string, limit int) ([]string, error) {
	query := `SELECT created_at || ' ' || level || ' ' || message FROM job_events WHERE job_id = ? ORDER BY id DESC`
	args := []any{jobID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, err
		}
		out = append(out, line)
	}
	return out, rows.Err()
}

// ClearFinished drops every terminal row and its events.
func (s *Store) ClearFinished(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `
DELETE FROM job_events WHERE job_id IN (SELECT id FROM jobs WHERE status != ?)
`, StatusDownloading); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE status != ?`, StatusDownloading); err != nil {
		return err
	}
	return tx.Commit()
}

// HistoryView is the API/CLI shape of a history row.
type HistoryView struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	Title      string `json:"title"`
	Quality    string `json:"quality"`
	Range      string `json:"range"`
	GroupID    string `json:"group_id,omitempty"`
	ProfileID  string `json:"profile_id,omitempty"`
	Status     string `json:"status"`
	ExitCode   *int64 `json:"exit_code,omitempty"`
	Error      string `json:"error,omitempty"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
	FinishedAt string `json:"finished_at,omitempty"`
}

func toHistoryView(e HistoryEntry) HistoryView {
	v := HistoryView{
		ID:        e.ID,
		URL:       e.URL,
		Title:     e.Title,
		Quality:   e.Quality,
		Range:     e.Range,
		Status:    e.Status,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
	if e.GroupID.Valid {
		v.GroupID = e.GroupID.String
	}
	if e.ProfileID.Valid {
		v.ProfileID = e.ProfileID.String
	}
	if e.ExitCode.Valid {
		code := e.ExitCode.Int64
		v.ExitCode = &code
	}
	if e.Error.Valid {
		v.Error = e.Error.String
	}
	if e.FinishedAt.Valid {
		v.FinishedAt = e.FinishedAt.String
	}
	return v
}
