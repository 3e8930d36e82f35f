// Package db persists analysis runs, their measurements and dispatched feed
// commands in sqlite.
package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/tankwatch/internal/decision"
	"github.com/banshee-data/tankwatch/internal/feeder"
	"github.com/banshee-data/tankwatch/internal/monitoring"
)

var logf = monitoring.Tagged("db")

//go:embed migrations/*.sql
var migrationFiles embed.FS

// ErrRunNotFound is returned when no run matches the requested ID.
var ErrRunNotFound = errors.New("run not found")

// DefaultListLimit bounds list queries when the caller passes no limit.
const DefaultListLimit = 100

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
	"PRAGMA foreign_keys=ON",
}

type DB struct {
	*sql.DB
}

// MigrationsFS returns the embedded migration files rooted at their directory.
func MigrationsFS() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		// the directory is embedded at build time
		panic(err)
	}
	return sub
}

// OpenDB opens the database and applies pragmas without touching the schema.
func OpenDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// sqlite serialises writers; one connection avoids SQLITE_BUSY under WAL.
	sqlDB.SetMaxOpenConns(1)
	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", p, err)
		}
	}
	return &DB{sqlDB}, nil
}

// NewDB opens the database and migrates it to the latest schema.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(MigrationsFS()); err != nil {
		db.Close()
		return nil, err
	}
	version, _, err := db.MigrateVersion(MigrationsFS())
	if err == nil {
		logf("opened %s at schema version %d", path, version)
	}
	return db, nil
}

// RecordRun stores a run summary and its measurements in one transaction.
func (db *DB) RecordRun(ctx context.Context, s decision.Summary, records []decision.Record) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (
			run_id, mode, num_fish, min_length_cm, max_length_cm, avg_length_cm,
			harvest_status, feeding_turns, feeding_duration_ms, feeding_gap_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.RunID, string(s.Mode), s.NumFish, s.MinLengthCm, s.MaxLengthCm, s.AvgLengthCm,
		string(s.HarvestStatus), s.FeedingTurns, s.FeedingDurationMs, s.FeedingGapMs,
		s.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", s.RunID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO measurements (run_id, frame, fish_id, confidence, length_px, length_cm)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, s.RunID, int64(r.Frame), int64(r.FishID), r.Confidence, r.LengthPx, r.LengthCm); err != nil {
			return fmt.Errorf("insert measurement for run %s: %w", s.RunID, err)
		}
	}
	return tx.Commit()
}

const runColumns = `run_id, mode, num_fish, min_length_cm, max_length_cm, avg_length_cm,
	harvest_status, feeding_turns, feeding_duration_ms, feeding_gap_ms, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (decision.Summary, error) {
	var (
		s       decision.Summary
		mode    string
		status  string
		created int64
	)
	err := row.Scan(&s.RunID, &mode, &s.NumFish, &s.MinLengthCm, &s.MaxLengthCm, &s.AvgLengthCm,
		&status, &s.FeedingTurns, &s.FeedingDurationMs, &s.FeedingGapMs, &created)
	if err != nil {
		return s, err
	}
	s.Mode = decision.Mode(mode)
	s.HarvestStatus = decision.HarvestStatus(status)
	s.CreatedAt = time.Unix(0, created).UTC()
	return s, nil
}

// Run returns the stored summary for runID.
func (db *DB) Run(ctx context.Context, runID string) (decision.Summary, error) {
	s, err := scanRun(db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return s, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return s, err
}

// LatestRun returns the most recently created run.
func (db *DB) LatestRun(ctx context.Context) (decision.Summary, error) {
	s, err := scanRun(db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, rowid DESC LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrRunNotFound
	}
	return s, err
}

// ListRuns returns up to limit runs, newest first.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]decision.Summary, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []decision.Summary{}
	for rows.Next() {
		s, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, s)
	}
	return runs, rows.Err()
}

// RunMeasurements returns the records of runID ordered by frame then fish.
func (db *DB) RunMeasurements(ctx context.Context, runID string) ([]decision.Record, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT frame, fish_id, confidence, length_px, length_cm
		FROM measurements WHERE run_id = ?
		ORDER BY frame, fish_id, rowid`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []decision.Record{}
	for rows.Next() {
		var (
			r             decision.Record
			frame, fishID int64
		)
		if err := rows.Scan(&frame, &fishID, &r.Confidence, &r.LengthPx, &r.LengthCm); err != nil {
			return nil, err
		}
		r.RunID = runID
		r.Frame = uint64(frame)
		r.FishID = uint64(fishID)
		records = append(records, r)
	}
	return records, rows.Err()
}

// FeedCommandRow is one audited feed dispatch.
type FeedCommandRow struct {
	ID               int64          `json:"id"`
	Command          feeder.Command `json:"command"`
	CommandPublished bool           `json:"command_published"`
	StatusPublished  bool           `json:"status_published"`
	Errors           []string       `json:"errors,omitempty"`
}

// RecordFeedCommand stores a dispatched command and its delivery outcome.
func (db *DB) RecordFeedCommand(ctx context.Context, cmd feeder.Command, res feeder.Result) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO feed_commands (
			run_id, source, turns, turn_duration_ms, gap_ms, num_fish, avg_length_cm,
			harvest_status, command_published, status_published, errors, issued_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cmd.RunID, string(cmd.Source), cmd.Turns, cmd.TurnDurationMs, cmd.GapMs, cmd.NumFish,
		cmd.AvgLengthCm, string(cmd.HarvestStatus), res.CommandPublished, res.StatusPublished,
		strings.Join(res.Errors, "\n"), cmd.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert feed command for run %s: %w", cmd.RunID, err)
	}
	return nil
}

// FeedCommands returns up to limit audited commands, newest first.
func (db *DB) FeedCommands(ctx context.Context, limit int) ([]FeedCommandRow, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := db.QueryContext(ctx, `
		SELECT command_id, run_id, source, turns, turn_duration_ms, gap_ms, num_fish,
			avg_length_cm, harvest_status, command_published, status_published, errors, issued_at
		FROM feed_commands ORDER BY issued_at DESC, command_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []FeedCommandRow{}
	for rows.Next() {
		var (
			row            FeedCommandRow
			source, status string
			errs           string
			issued         int64
		)
		c := &row.Command
		if err := rows.Scan(&row.ID, &c.RunID, &source, &c.Turns, &c.TurnDurationMs, &c.GapMs,
			&c.NumFish, &c.AvgLengthCm, &status, &row.CommandPublished, &row.StatusPublished,
			&errs, &issued); err != nil {
			return nil, err
		}
		c.Action = feeder.ActionFeed
		c.Source = feeder.Source(source)
		c.HarvestStatus = decision.HarvestStatus(status)
		c.Timestamp = time.Unix(0, issued).UTC()
		if errs != "" {
			row.Errors = strings.Split(errs, "\n")
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
