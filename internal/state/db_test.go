package state

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ShayCichocki/cascade/pkg/models"
)

// setupTestDB opens and migrates a history database in a temp dir.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "cascade.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func columns(t *testing.T, db *DB, table string) map[string]bool {
	t.Helper()
	rows, err := db.Query("SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		t.Fatalf("table_info(%s): %v", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan column: %v", err)
		}
		cols[name] = true
	}
	return cols
}

func countResults(t *testing.T, db *DB, runID string) int {
	t.Helper()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM results WHERE run_id = ?", runID).Scan(&n); err != nil {
		t.Fatalf("count results: %v", err)
	}
	return n
}

func TestOpen_CreatesHistoryFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state", "cascade.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("history file not created: %v", err)
	}
}

func TestOpen_FileInPlaceOfDirectory(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}
	if _, err := Open(filepath.Join(blocker, "cascade.db")); err == nil {
		t.Error("Open should fail when the parent directory is a file")
	}
}

func TestOpen_PragmasOnEveryConnection(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	// Hold two connections at once so the pool has to open a second one.
	first, err := db.conn.Conn(ctx)
	if err != nil {
		t.Fatalf("first conn: %v", err)
	}
	defer first.Close()
	second, err := db.conn.Conn(ctx)
	if err != nil {
		t.Fatalf("second conn: %v", err)
	}
	defer second.Close()

	for i, c := range []*sql.Conn{first, second} {
		var fk int
		if err := c.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk); err != nil {
			t.Fatalf("conn %d foreign_keys: %v", i, err)
		}
		if fk != 1 {
			t.Errorf("conn %d foreign_keys = %d, want 1", i, fk)
		}
		var mode string
		if err := c.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
			t.Fatalf("conn %d journal_mode: %v", i, err)
		}
		if mode != "wal" {
			t.Errorf("conn %d journal_mode = %q, want wal", i, mode)
		}
	}
}

func TestMigrate_LatestSchema(t *testing.T) {
	db := setupTestDB(t)

	var version int
	if err := db.QueryRow("SELECT MAX(version) FROM schema_version").Scan(&version); err != nil {
		t.Fatalf("read schema version: %v", err)
	}
	if version != 4 {
		t.Errorf("schema version = %d, want 4", version)
	}

	runCols := columns(t, db, "runs")
	for _, c := range []string{"id", "task", "status", "report", "results_file", "input_tokens", "output_tokens", "cost_usd"} {
		if !runCols[c] {
			t.Errorf("runs is missing column %s", c)
		}
	}
	resultCols := columns(t, db, "results")
	for _, c := range []string{"run_id", "seq", "parent_seq", "path", "task_id", "record"} {
		if !resultCols[c] {
			t.Errorf("results is missing column %s", c)
		}
	}
}

func TestMigrate_RerunKeepsHistory(t *testing.T) {
	db := setupTestDB(t)

	run := &Run{ID: "r", Task: "t", StartedAt: time.Now()}
	if err := db.CreateRun(run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}

	var applied int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&applied); err != nil {
		t.Fatalf("count versions: %v", err)
	}
	if applied != 4 {
		t.Errorf("%d versions recorded, want 4", applied)
	}
	if got, err := db.GetRun("r"); err != nil || got == nil {
		t.Errorf("run lost after re-migrating: %v", err)
	}
}

// A database written before parent_seq existed links children by path only.
func TestMigrate_LinksExistingResultsBySeq(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cascade.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	setup := []string{
		`CREATE TABLE schema_version (version INTEGER PRIMARY KEY, applied_at DATETIME DEFAULT CURRENT_TIMESTAMP)`,
		migrationV1Runs,
		migrationV2Results,
		migrationV3Usage,
		`INSERT INTO schema_version (version) VALUES (1), (2), (3)`,
		`INSERT INTO runs (id, task, status, started_at) VALUES ('old', 't', 'completed', '2024-01-01T00:00:00Z')`,
		`INSERT INTO results (run_id, seq, path, parent_path, task_id, status, record) VALUES
			('old', 0, '1', '', '1', 'completed', '{"task_id":"1","status":"completed","description":"root","dependsOn":[],"result":"r"}'),
			('old', 1, '1/a', '1', 'a', 'completed', '{"task_id":"a","status":"completed","description":"child","dependsOn":[],"result":"c"}')`,
	}
	for _, q := range setup {
		if _, err := db.Exec(q); err != nil {
			t.Fatalf("setup %q: %v", q, err)
		}
	}

	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	got, err := db.GetResults("old")
	if err != nil {
		t.Fatalf("GetResults failed: %v", err)
	}
	if len(got) != 1 || len(got[0].Children) != 1 || got[0].Children[0].TaskID != "a" {
		t.Errorf("results = %+v, want 1 with child a", got)
	}
}

func TestResults_DeletedWithRun(t *testing.T) {
	db := setupTestDB(t)

	run := &Run{ID: "r", Task: "t", StartedAt: time.Now()}
	if err := db.CreateRun(run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	if err := db.FinishRun(run, sampleRecords()); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}
	if n := countResults(t, db, "r"); n != 4 {
		t.Fatalf("stored %d result rows, want 4", n)
	}

	if _, err := db.Exec("DELETE FROM runs WHERE id = ?", "r"); err != nil {
		t.Fatalf("delete run: %v", err)
	}
	if n := countResults(t, db, "r"); n != 0 {
		t.Errorf("%d result rows left after deleting the run", n)
	}
}

func TestResults_RequireKnownRun(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.Exec(`INSERT INTO results (run_id, seq, path, task_id, status, record)
		VALUES ('ghost', 0, '1', '1', 'completed', '{}')`)
	if err == nil {
		t.Error("inserting results for an unknown run should fail")
	}
}

func TestFinishRun_RollsBackOnUnknownRun(t *testing.T) {
	db := setupTestDB(t)

	err := db.FinishRun(&Run{ID: "ghost", Status: RunCompleted}, []models.ResultRecord{
		{TaskID: "1", Status: models.TaskStatusCompleted, DependsOn: []string{}},
	})
	if err == nil {
		t.Fatal("FinishRun should fail for a run that was never created")
	}
	if n := countResults(t, db, "ghost"); n != 0 {
		t.Errorf("%d result rows written by a failed FinishRun", n)
	}
}

func TestTransaction_ErrorDiscardsWrites(t *testing.T) {
	db := setupTestDB(t)
	errStop := errors.New("stop")

	err := db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO runs (id, task, started_at) VALUES ('r', 't', ?)`, formatTime(time.Now())); err != nil {
			return err
		}
		return errStop
	})
	if !errors.Is(err, errStop) {
		t.Fatalf("Transaction error = %v, want %v", err, errStop)
	}
	if got, _ := db.GetRun("r"); got != nil {
		t.Error("run written inside a failed transaction")
	}
}

func TestParseNullableTime(t *testing.T) {
	stamp := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
	tests := []struct {
		name string
		in   sql.NullString
		want *time.Time
	}{
		{"null", sql.NullString{}, nil},
		{"garbage", sql.NullString{String: "yesterday", Valid: true}, nil},
		{"stored time", sql.NullString{String: formatTime(stamp), Valid: true}, &stamp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseNullableTime(tt.in)
			switch {
			case tt.want == nil && got != nil:
				t.Errorf("parseNullableTime(%v) = %v, want nil", tt.in, got)
			case tt.want != nil && (got == nil || !got.Equal(*tt.want)):
				t.Errorf("parseNullableTime(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
