package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ShayCichocki/cascade/pkg/models"
)

// RunStatus represents the outcome of a run.
type RunStatus string

const (
	// RunRunning marks a run that has not finished, or whose process died.
	RunRunning RunStatus = "running"
	// RunCompleted marks a run where every root task completed.
	RunCompleted RunStatus = "completed"
	// RunPartial marks a run that stopped with tasks failed or never run.
	RunPartial RunStatus = "partial"
	// RunCancelled marks a run stopped by the user.
	RunCancelled RunStatus = "cancelled"
	// RunFailed marks a run that could not plan its root graph.
	RunFailed RunStatus = "failed"
)

// Run is one invocation of the engine.
type Run struct {
	ID          string              `json:"id"`
	Task        string              `json:"task"`
	Status      RunStatus           `json:"status"`
	StartedAt   time.Time           `json:"started_at"`
	FinishedAt  *time.Time          `json:"finished_at,omitempty"`
	Counts      models.StatusCounts `json:"counts"`
	Report      json.RawMessage     `json:"report,omitempty"`
	ResultsFile string              `json:"results_file,omitempty"`

	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// CreateRun records the start of a run.
func (db *DB) CreateRun(r *Run) error {
	if r.Status == "" {
		r.Status = RunRunning
	}
	_, err := db.Exec(`
		INSERT INTO runs (id, task, status, started_at)
		VALUES (?, ?, ?, ?)
	`, r.ID, r.Task, string(r.Status), formatTime(r.StartedAt))
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// FinishRun stores the final state of a run together with its result tree,
// replacing any results stored before.
func (db *DB) FinishRun(r *Run, records []models.ResultRecord) error {
	if r.FinishedAt == nil {
		now := time.Now()
		r.FinishedAt = &now
	}

	return db.Transaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			UPDATE runs SET status = ?, finished_at = ?, total = ?, completed = ?, failed = ?,
				report = ?, results_file = ?, input_tokens = ?, output_tokens = ?, cost_usd = ?
			WHERE id = ?
		`, string(r.Status), formatTime(*r.FinishedAt), r.Counts.Total, r.Counts.Completed, r.Counts.Failed,
			nullString(string(r.Report)), nullString(r.ResultsFile), r.InputTokens, r.OutputTokens, r.CostUSD, r.ID)
		if err != nil {
			return fmt.Errorf("finish run: %w", err)
		}

		if _, err := tx.Exec(`DELETE FROM results WHERE run_id = ?`, r.ID); err != nil {
			return fmt.Errorf("clear results: %w", err)
		}

		stmt, err := tx.Prepare(`
			INSERT INTO results (run_id, seq, parent_seq, path, parent_path, task_id, status, record)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("prepare results: %w", err)
		}
		defer stmt.Close()

		seq := 0
		var insert func(parentSeq int, parentPath []string, recs []models.ResultRecord) error
		insert = func(parentSeq int, parentPath []string, recs []models.ResultRecord) error {
			for _, rec := range recs {
				children := rec.Children
				// Children are stored as their own rows; the record keeps only
				// whether the node recursed.
				if children != nil {
					rec.Children = []models.ResultRecord{}
				}
				data, err := json.Marshal(rec)
				if err != nil {
					return fmt.Errorf("encode result %s: %w", rec.TaskID, err)
				}
				path := append(append([]string(nil), parentPath...), rec.TaskID)
				own := seq
				seq++
				if _, err := stmt.Exec(r.ID, own, parentSeq, strings.Join(path, "/"), strings.Join(parentPath, "/"),
					rec.TaskID, string(rec.Status), string(data)); err != nil {
					return fmt.Errorf("insert result %s: %w", rec.TaskID, err)
				}
				if err := insert(own, path, children); err != nil {
					return err
				}
			}
			return nil
		}
		return insert(-1, nil, records)
	})
}

// GetRun retrieves a run by ID. Returns nil if it does not exist.
func (db *DB) GetRun(id string) (*Run, error) {
	row := db.QueryRow(`
		SELECT id, task, status, started_at, finished_at, total, completed, failed,
			report, results_file, input_tokens, output_tokens, cost_usd
		FROM runs WHERE id = ?
	`, id)

	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns the most recent runs first. A limit of zero or less returns all runs.
func (db *DB) ListRuns(limit int) ([]Run, error) {
	query := `
		SELECT id, task, status, started_at, finished_at, total, completed, failed,
			report, results_file, input_tokens, output_tokens, cost_usd
		FROM runs ORDER BY started_at DESC, id DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// GetResults rebuilds the result tree stored for a run.
func (db *DB) GetResults(runID string) ([]models.ResultRecord, error) {
	rows, err := db.Query(`
		SELECT seq, parent_seq, record FROM results WHERE run_id = ? ORDER BY seq
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("get results: %w", err)
	}
	defer rows.Close()

	type entry struct {
		record   models.ResultRecord
		children []int
	}
	entries := make(map[int]*entry)
	var roots []int

	for rows.Next() {
		var seq, parent int
		var data string
		if err := rows.Scan(&seq, &parent, &data); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		e := &entry{}
		if err := json.Unmarshal([]byte(data), &e.record); err != nil {
			return nil, fmt.Errorf("decode result %d: %w", seq, err)
		}
		entries[seq] = e
		if p, ok := entries[parent]; ok && parent >= 0 {
			p.children = append(p.children, seq)
		} else {
			roots = append(roots, seq)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var build func(seqs []int) []models.ResultRecord
	build = func(seqs []int) []models.ResultRecord {
		out := make([]models.ResultRecord, 0, len(seqs))
		for _, s := range seqs {
			e := entries[s]
			rec := e.record
			if len(e.children) > 0 {
				rec.Children = build(e.children)
			}
			out = append(out, rec)
		}
		return out
	}
	return build(roots), nil
}

// DeleteRun deletes a run. Its results go with it through the foreign key.
func (db *DB) DeleteRun(id string) error {
	if _, err := db.Exec(`DELETE FROM runs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	return nil
}

// PurgeOldRuns deletes runs, and their results, started before now minus olderThan.
// Returns the number of runs deleted.
func (db *DB) PurgeOldRuns(olderThan time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-olderThan))

	result, err := db.Exec(`DELETE FROM runs WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge old runs: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(s rowScanner) (*Run, error) {
	var r Run
	var startedAt string
	var finishedAt, report, resultsFile sql.NullString
	err := s.Scan(&r.ID, &r.Task, &r.Status, &startedAt, &finishedAt,
		&r.Counts.Total, &r.Counts.Completed, &r.Counts.Failed,
		&report, &resultsFile, &r.InputTokens, &r.OutputTokens, &r.CostUSD)
	if err != nil {
		return nil, err
	}

	r.StartedAt, _ = parseTime(startedAt)
	r.FinishedAt = parseNullableTime(finishedAt)
	if report.Valid {
		r.Report = json.RawMessage(report.String)
	}
	r.ResultsFile = resultsFile.String
	return &r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
