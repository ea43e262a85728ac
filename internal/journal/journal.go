// Package journal keeps a per-workspace history of stage runs in SQLite.
package journal

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"xmt/internal/engine"
	"xmt/internal/logging"
)

// Dir and File locate the journal inside a workspace. The dot directory
// keeps it out of profile globs.
const (
	Dir  = ".xmt"
	File = "journal.db"
)

// Entry is one recorded profile outcome.
type Entry struct {
	ID        int64
	RunID     string
	Stage     string
	Profile   string
	Started   time.Time
	Duration  time.Duration
	Inputs    int
	Results   int
	Flushes   int
	TimedOut  int
	Malformed int
	Error     string
}

// Failed reports whether the profile run ended in a fatal error.
func (e Entry) Failed() bool { return e.Error != "" }

// Store manages one workspace's journal database.
type Store struct {
	db     *sqlx.DB
	dbPath string
	mu     sync.Mutex
	logger *zap.Logger
}

// Path returns the journal location for a workspace.
func Path(workspace string) string {
	return filepath.Join(workspace, Dir, File)
}

// Open creates or opens the journal of the workspace at dir. The workspace
// itself must exist.
func Open(dir string, logger *zap.Logger) (*Store, error) {
	logger = logging.For(logger, logging.CategoryJournal)
	timer := logging.StartTimer(logger, "journal.Open")
	defer timer.StopWithThreshold(time.Second)

	dbPath := Path(dir)
	if err := os.Mkdir(filepath.Dir(dbPath), 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", dbPath)
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// parallel profiles share one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logger.Debug("failed to set journal_mode=WAL", zap.Error(err))
	}

	s := &Store{db: db, dbPath: dbPath, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	logger.Debug("journal opened", zap.String("path", dbPath))
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		profile TEXT NOT NULL,
		started_ms INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		inputs INTEGER NOT NULL DEFAULT 0,
		results INTEGER NOT NULL DEFAULT 0,
		flushes INTEGER NOT NULL DEFAULT 0,
		timed_out INTEGER NOT NULL DEFAULT 0,
		malformed INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_runs_run_id ON runs(run_id);
	CREATE INDEX IF NOT EXISTS idx_runs_profile ON runs(profile);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_ms);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append stores an entry and returns its id.
func (s *Store) Append(ctx context.Context, e Entry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO runs (run_id, stage, profile, started_ms, duration_ms,
			inputs, results, flushes, timed_out, malformed, error)
		VALUES (:run_id, :stage, :profile, :started_ms, :duration_ms,
			:inputs, :results, :flushes, :timed_out, :malformed, :error)
	`, toRecord(e))
	if err != nil {
		return 0, fmt.Errorf("failed to record run: %w", err)
	}
	return res.LastInsertId()
}

// Query filters Entries.
type Query struct {
	// Profile restricts entries to one profile path when set.
	Profile string

	// Limit caps the number of entries; 0 means no limit.
	Limit int
}

// Entries returns recorded entries, newest first.
func (s *Store) Entries(ctx context.Context, q Query) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		SELECT id, run_id, stage, profile, started_ms, duration_ms,
			inputs, results, flushes, timed_out, malformed, error
		FROM runs`
	var args []any
	if q.Profile != "" {
		query += " WHERE profile = ?"
		args = append(args, q.Profile)
	}
	query += " ORDER BY started_ms DESC, id DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	var records []record
	if err := s.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	entries := make([]Entry, len(records))
	for i, r := range records {
		entries[i] = r.entry()
	}
	return entries, nil
}

// record is the column layout of the runs table.
type record struct {
	ID         int64  `db:"id"`
	RunID      string `db:"run_id"`
	Stage      string `db:"stage"`
	Profile    string `db:"profile"`
	StartedMs  int64  `db:"started_ms"`
	DurationMs int64  `db:"duration_ms"`
	Inputs     int    `db:"inputs"`
	Results    int    `db:"results"`
	Flushes    int    `db:"flushes"`
	TimedOut   int    `db:"timed_out"`
	Malformed  int    `db:"malformed"`
	Error      string `db:"error"`
}

func toRecord(e Entry) record {
	return record{
		RunID:      e.RunID,
		Stage:      e.Stage,
		Profile:    e.Profile,
		StartedMs:  e.Started.UnixMilli(),
		DurationMs: e.Duration.Milliseconds(),
		Inputs:     e.Inputs,
		Results:    e.Results,
		Flushes:    e.Flushes,
		TimedOut:   e.TimedOut,
		Malformed:  e.Malformed,
		Error:      e.Error,
	}
}

func (r record) entry() Entry {
	return Entry{
		ID:        r.ID,
		RunID:     r.RunID,
		Stage:     r.Stage,
		Profile:   r.Profile,
		Started:   time.UnixMilli(r.StartedMs),
		Duration:  time.Duration(r.DurationMs) * time.Millisecond,
		Inputs:    r.Inputs,
		Results:   r.Results,
		Flushes:   r.Flushes,
		TimedOut:  r.TimedOut,
		Malformed: r.Malformed,
		Error:     r.Error,
	}
}

// EntryFor converts an engine outcome.
func EntryFor(rec engine.Record) Entry {
	e := Entry{
		RunID:   rec.RunID,
		Stage:   rec.Stage,
		Profile: rec.Profile,
		Started: rec.Started,
	}
	if s := rec.Summary; s != nil {
		e.Duration = s.Duration
		e.Inputs = s.Inputs
		e.Results = s.Results
		e.Flushes = s.Flushes
		e.TimedOut = s.TimedOut
		e.Malformed = s.Malformed
	}
	if rec.Err != nil {
		e.Duration = time.Since(rec.Started)
		e.Error = rec.Err.Error()
	}
	return e
}

// Recorder implements engine.Recorder, writing each outcome to the journal
// of the workspace that holds the profile. Journals are opened on first use.
type Recorder struct {
	logger *zap.Logger

	mu     sync.Mutex
	stores map[string]*Store
}

// NewRecorder creates a Recorder.
func NewRecorder(logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{logger: logger, stores: make(map[string]*Store)}
}

// Record appends rec to its workspace journal. Profiles whose workspace
// directory does not exist are not recorded.
func (r *Recorder) Record(ctx context.Context, rec engine.Record) error {
	workspace := filepath.Dir(rec.Profile)
	if info, err := os.Stat(workspace); err != nil || !info.IsDir() {
		r.logger.Debug("not recording outside a workspace", zap.String("profile", rec.Profile))
		return nil
	}
	s, err := r.store(workspace)
	if err != nil {
		return err
	}
	_, err = s.Append(ctx, EntryFor(rec))
	return err
}

func (r *Recorder) store(workspace string) (*Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stores[workspace]; ok {
		return s, nil
	}
	s, err := Open(workspace, r.logger)
	if err != nil {
		return nil, err
	}
	r.stores[workspace] = s
	return s, nil
}

// Close closes every journal opened by the recorder.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for dir, s := range r.stores {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.stores, dir)
	}
	return firstErr
}
