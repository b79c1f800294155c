// Package output writes run results to disk and to the console.
package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ShayCichocki/cascade/pkg/models"
)

// ResultsFileName returns the results file name for a run finished at t.
func ResultsFileName(t time.Time) string {
	return fmt.Sprintf("task_results_%s.json", t.Format("20060102_150405"))
}

// EncodeResults renders records as indented JSON. An empty run encodes as [].
func EncodeResults(records []models.ResultRecord) ([]byte, error) {
	if records == nil {
		records = []models.ResultRecord{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return nil, fmt.Errorf("encode results: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteResultsFile writes records to task_results_{YYYYMMDD_HHMMSS}.json in
// dir and returns the file path.
func WriteResultsFile(dir string, records []models.ResultRecord, now time.Time) (string, error) {
	data, err := EncodeResults(records)
	if err != nil {
		return "", err
	}

	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	path := filepath.Join(dir, ResultsFileName(now))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write results: %w", err)
	}
	return path, nil
}
