package db

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tankwatch/internal/decision"
	"github.com/banshee-data/tankwatch/internal/feeder"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testSummary(id string, at time.Time) decision.Summary {
	return decision.Summary{
		RunID:             id,
		Mode:              decision.ModeImage,
		NumFish:           2,
		MinLengthCm:       11.5,
		MaxLengthCm:       13.25,
		AvgLengthCm:       12.38,
		HarvestStatus:     decision.StatusApproaching,
		FeedingTurns:      1,
		FeedingDurationMs: 1000,
		FeedingGapMs:      2000,
		CreatedAt:         at,
	}
}

func TestNewDB_AppliesMigrations(t *testing.T) {
	db := newTestDB(t)

	version, dirty, err := db.MigrateVersion(MigrationsFS())
	require.NoError(t, err)
	latest, err := LatestMigrationVersion(MigrationsFS())
	require.NoError(t, err)
	assert.Equal(t, latest, version)
	assert.False(t, dirty)

	var journalMode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)
}

func TestRecordRun_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	at := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	s := testSummary("20250314-092653-000", at)
	records := []decision.Record{
		{RunID: s.RunID, FishID: 2, Confidence: 0.8, LengthPx: 170.5, LengthCm: 13.25},
		{RunID: s.RunID, FishID: 1, Confidence: 0.9, LengthPx: 148.2, LengthCm: 11.5},
	}

	require.NoError(t, db.RecordRun(ctx, s, records))

	got, err := db.Run(ctx, s.RunID)
	require.NoError(t, err)
	if diff := cmp.Diff(s, got); diff != "" {
		t.Errorf("Run mismatch (-want +got):\n%s", diff)
	}

	ms, err := db.RunMeasurements(ctx, s.RunID)
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, uint64(1), ms[0].FishID)
	assert.Equal(t, uint64(2), ms[1].FishID)
	assert.Equal(t, s.RunID, ms[0].RunID)
}

func TestRecordRun_DuplicateIDRollsBack(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	s := testSummary("dup", time.Now())
	require.NoError(t, db.RecordRun(ctx, s, nil))

	err := db.RecordRun(ctx, s, []decision.Record{{RunID: "dup", FishID: 9}})
	require.Error(t, err)

	ms, err := db.RunMeasurements(ctx, "dup")
	require.NoError(t, err)
	assert.Empty(t, ms)
}

func TestRun_NotFound(t *testing.T) {
	db := newTestDB(t)
	_, err := db.Run(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)

	_, err = db.LatestRun(context.Background())
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestListRuns_NewestFirst(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, db.RecordRun(ctx, testSummary(id, base.Add(time.Duration(i)*time.Minute)), nil))
	}

	runs, err := db.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].RunID)
	assert.Equal(t, "b", runs[1].RunID)

	latest, err := db.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c", latest.RunID)
}

func TestFeedCommands_Audit(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	at := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	cmd := feeder.NewCommand(testSummary("r1", at), feeder.SourceManual, at)

	require.NoError(t, db.RecordFeedCommand(ctx, cmd, feeder.Result{
		Command:          &cmd,
		CommandPublished: true,
		Errors:           []string{"status: broker gone"},
	}))
	cmd2 := cmd
	cmd2.RunID = "r2"
	cmd2.Timestamp = at.Add(time.Second)
	require.NoError(t, db.RecordFeedCommand(ctx, cmd2, feeder.Result{CommandPublished: true, StatusPublished: true}))

	rows, err := db.FeedCommands(ctx, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "r2", rows[0].Command.RunID)
	assert.True(t, rows[0].StatusPublished)
	assert.Nil(t, rows[0].Errors)

	if diff := cmp.Diff(cmd, rows[1].Command); diff != "" {
		t.Errorf("command mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, rows[1].CommandPublished)
	assert.False(t, rows[1].StatusPublished)
	assert.Equal(t, []string{"status: broker gone"}, rows[1].Errors)
}

func TestDB_ImplementsRecorder(t *testing.T) {
	var _ feeder.Recorder = (*DB)(nil)
}

func TestMigrateDownAndUp(t *testing.T) {
	db := newTestDB(t)
	fsys := MigrationsFS()

	require.NoError(t, db.MigrateDown(fsys))
	st, err := db.GetMigrationStatus(fsys)
	require.NoError(t, err)
	assert.True(t, st.Pending())

	require.NoError(t, db.MigrateUp(fsys))
	st, err = db.GetMigrationStatus(fsys)
	require.NoError(t, err)
	assert.False(t, st.Pending())
}

func TestRunMigrateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.db")
	var out bytes.Buffer

	require.NoError(t, RunMigrateCommand([]string{"up"}, path, &out))
	assert.Contains(t, out.String(), "All migrations applied")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"status"}, path, &out))
	assert.Contains(t, out.String(), "Dirty: false")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"version", "1"}, path, &out))
	assert.Contains(t, out.String(), "version 1")

	assert.Error(t, RunMigrateCommand(nil, path, &out))
	assert.Error(t, RunMigrateCommand([]string{"bogus"}, path, &out))
	assert.Error(t, RunMigrateCommand([]string{"force", "x"}, path, &out))
}

func TestAdminRoutes_Backup(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.RecordRun(context.Background(), testSummary("b1", time.Now()), nil))

	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/gzip", rec.Header().Get("Content-Type"))

	zr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	raw, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(raw, []byte("SQLite format 3")))
}
