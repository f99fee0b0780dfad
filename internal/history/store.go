// Package history records launched runs in a local SQLite database.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mmr-tortoise/svbrdf-run/internal/model"
)

// MinPrefix is the shortest run ID prefix Get accepts.
const MinPrefix = 4

// timeLayout is fixed-width so that text comparison orders timestamps.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	profile      TEXT NOT NULL,
	mode         TEXT NOT NULL,
	backend      TEXT NOT NULL,
	args         TEXT NOT NULL,
	container_id TEXT NOT NULL DEFAULT '',
	git_commit   TEXT NOT NULL DEFAULT '',
	git_dirty    INTEGER NOT NULL DEFAULT 0,
	status       TEXT NOT NULL,
	exit_code    INTEGER NOT NULL DEFAULT 0,
	started_at   TEXT NOT NULL,
	finished_at  TEXT NOT NULL DEFAULT '',
	summary      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_runs_profile ON runs(profile);
`

const columns = `id, profile, mode, backend, args, container_id, git_commit, git_dirty,
	status, exit_code, started_at, finished_at, summary`

var prefixRe = regexp.MustCompile(`^[0-9a-f-]+$`)

// Store is the run history.
type Store struct {
	db   *sql.DB
	path string
}

// NewID returns a fresh run ID.
func NewID() string {
	return uuid.NewString()
}

// Open opens the database at path, creating it and its schema if needed.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}
	// One writer at a time; sqlite serialises anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// BusyTimeout is how long a write waits for another svbrdf-run process
// holding the database lock.
const BusyTimeout = 5 * time.Second

// dsn adds the connection pragmas to path.
func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", BusyTimeout.Milliseconds()))
	return path + "?" + q.Encode()
}

// Path returns the database file.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert stores a new run. An empty ID is filled in with NewID.
func (s *Store) Insert(ctx context.Context, r *model.RunRecord) error {
	if r.ID == "" {
		r.ID = NewID()
	}
	if r.Status == "" {
		r.Status = model.StatusRunning
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}

	args, err := json.Marshal(r.Args)
	if err != nil {
		return fmt.Errorf("encode args: %w", err)
	}
	summary, err := encodeSummary(r.Summary)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (`+columns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Profile, string(r.Mode), string(r.Backend), string(args),
		r.ContainerID, r.GitCommit, boolInt(r.GitDirty),
		string(r.Status), r.ExitCode, formatTime(r.StartedAt), formatTime(r.FinishedAt), summary,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", r.ID, err)
	}
	return nil
}

// Completion is the final state of a run.
type Completion struct {
	Status      model.RunStatus
	ExitCode    int
	ContainerID string
	FinishedAt  time.Time
	Summary     *model.Summary
}

// Finish records the outcome of run id.
func (s *Store) Finish(ctx context.Context, id string, c Completion) error {
	if !c.Status.IsFinal() {
		return fmt.Errorf("finish run %s: status %q is not final", id, c.Status)
	}
	if c.FinishedAt.IsZero() {
		c.FinishedAt = time.Now()
	}
	summary, err := encodeSummary(c.Summary)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, exit_code = ?, finished_at = ?, summary = ?,
			container_id = CASE WHEN ? = '' THEN container_id ELSE ? END
		WHERE id = ?`,
		string(c.Status), c.ExitCode, formatTime(c.FinishedAt), summary,
		c.ContainerID, c.ContainerID, id,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.NewCLIError(model.ExitRunNotFound, fmt.Sprintf("run %s not found", id))
	}
	return nil
}

// Get returns the run whose ID starts with prefix.
func (s *Store) Get(ctx context.Context, prefix string) (*model.RunRecord, error) {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if len(prefix) < MinPrefix || !prefixRe.MatchString(prefix) {
		return nil, model.NewCLIError(model.ExitGeneralError,
			fmt.Sprintf("run id %q must be at least %d hex characters", prefix, MinPrefix))
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+columns+` FROM runs WHERE id LIKE ? ORDER BY id LIMIT 2`, prefix+"%")
	if err != nil {
		return nil, fmt.Errorf("query run %s: %w", prefix, err)
	}
	records, err := scanAll(rows)
	if err != nil {
		return nil, err
	}

	switch len(records) {
	case 0:
		return nil, model.NewCLIError(model.ExitRunNotFound, fmt.Sprintf("run %s not found", prefix))
	case 1:
		return records[0], nil
	default:
		return nil, model.NewCLIError(model.ExitGeneralError,
			fmt.Sprintf("run id prefix %q is ambiguous; use more characters", prefix))
	}
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	Profile string
	Status  model.RunStatus
	Limit   int
}

// List returns runs matching f, newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]*model.RunRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.Profile != "" {
		where = append(where, "profile = ?")
		args = append(args, f.Profile)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}

	query := `SELECT ` + columns + ` FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return scanAll(rows)
}

// Prune deletes finished runs that started before cutoff and returns how
// many were removed. Running entries are kept.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE started_at < ? AND status != ?`,
		formatTime(cutoff), string(model.StatusRunning))
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return res.RowsAffected()
}

func scanAll(rows *sql.Rows) ([]*model.RunRecord, error) {
	defer rows.Close()

	var out []*model.RunRecord
	for rows.Next() {
		var (
			r                   model.RunRecord
			mode, backend, stat string
			args, summary       string
			started, finished   string
			dirty               int
		)
		if err := rows.Scan(&r.ID, &r.Profile, &mode, &backend, &args, &r.ContainerID,
			&r.GitCommit, &dirty, &stat, &r.ExitCode, &started, &finished, &summary); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Mode = model.RunMode(mode)
		r.Backend = model.Backend(backend)
		r.Status = model.RunStatus(stat)
		r.GitDirty = dirty != 0

		if err := json.Unmarshal([]byte(args), &r.Args); err != nil {
			return nil, fmt.Errorf("decode args of run %s: %w", r.ID, err)
		}
		if summary != "" {
			r.Summary = &model.Summary{}
			if err := json.Unmarshal([]byte(summary), r.Summary); err != nil {
				return nil, fmt.Errorf("decode summary of run %s: %w", r.ID, err)
			}
		}

		var err error
		if r.StartedAt, err = parseTime(started); err != nil {
			return nil, fmt.Errorf("run %s: %w", r.ID, err)
		}
		if r.FinishedAt, err = parseTime(finished); err != nil {
			return nil, fmt.Errorf("run %s: %w", r.ID, err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func encodeSummary(s *model.Summary) (string, error) {
	if s == nil {
		return "", nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode summary: %w", err)
	}
	return string(b), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, errors.Join(fmt.Errorf("invalid timestamp %q", s), err)
	}
	return t, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
