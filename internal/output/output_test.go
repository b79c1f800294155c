package output

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"github.com/ShayCichocki/cascade/internal/orchestrator"
	"github.com/ShayCichocki/cascade/pkg/models"
)

func TestResultsFileName(t *testing.T) {
	ts := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	if got, want := ResultsFileName(ts), "task_results_20240309_140507.json"; got != want {
		t.Errorf("ResultsFileName() = %q, want %q", got, want)
	}
}

func TestEncodeResultsEmpty(t *testing.T) {
	data, err := EncodeResults(nil)
	if err != nil {
		t.Fatalf("EncodeResults() error = %v", err)
	}
	if strings.TrimSpace(string(data)) != "[]" {
		t.Errorf("EncodeResults(nil) = %q, want []", data)
	}
}

func TestWriteResultsFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	records := []models.ResultRecord{
		{TaskID: "1", Status: models.TaskStatusCompleted, Description: "数据 <collect>", DependsOn: []string{}, Result: "ok"},
		{TaskID: "2", Status: models.TaskStatusFailed, Description: "write", DependsOn: []string{"1"}, Error: "boom"},
	}

	path, err := WriteResultsFile(dir, records, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	if err != nil {
		t.Fatalf("WriteResultsFile() error = %v", err)
	}
	if filepath.Base(path) != "task_results_20240102_030405.json" {
		t.Errorf("path = %q", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read results: %v", err)
	}
	if !strings.Contains(string(data), "数据 <collect>") {
		t.Errorf("non-ASCII and HTML characters should be written as-is:\n%s", data)
	}
	if !strings.Contains(string(data), "\n  {") {
		t.Errorf("results should be indented by two spaces:\n%s", data)
	}

	var decoded []map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("results are not valid JSON: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("decoded %d records, want 2", len(decoded))
	}
	if _, ok := decoded[0]["error"]; ok {
		t.Error("completed record should omit error")
	}
	if deps, ok := decoded[0]["dependsOn"].([]any); !ok || len(deps) != 0 {
		t.Errorf("dependsOn = %v, want []", decoded[0]["dependsOn"])
	}
}

func TestSummaryPrint(t *testing.T) {
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = false })

	s := Summary{
		Records: []models.ResultRecord{
			{
				TaskID: "1", Status: models.TaskStatusCompleted, Description: "research",
				Children: []models.ResultRecord{
					{TaskID: "s1", Status: models.TaskStatusCompleted, Description: "collect", RoleName: "Analyst", Degraded: true, Warnings: []string{"task_result exhausted"}},
				},
			},
			{TaskID: "2", Status: models.TaskStatusFailed, Description: "write", Error: "role 'Writer' not found"},
		},
		Report: orchestrator.Report{
			Deadlock:  true,
			Remaining: []string{"3"},
			Dangling:  map[string][]string{"3": {"9"}},
		},
		Usage:       &Usage{InputTokens: 10, OutputTokens: 20, Calls: 2, CostUSD: 0.5},
		ResultsFile: "task_results_x.json",
	}

	var buf bytes.Buffer
	s.Print(&buf)
	out := buf.String()

	for _, want := range []string{
		"✓ 1 research",
		"! 1/s1 collect [Analyst]",
		"task_result exhausted",
		"✗ 2 write",
		"role 'Writer' not found",
		"Tasks: 3 total, 2 completed, 1 failed",
		"root graph stopped early; not run: 3",
		"3 depends on unknown 9",
		"Tokens: 10 in, 20 out over 2 calls",
		"Results written to task_results_x.json",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("a  b\nc", 10); got != "a b c" {
		t.Errorf("truncate() = %q", got)
	}
	if got := truncate(strings.Repeat("x", 20), 10); got != "xxxxxxx..." {
		t.Errorf("truncate() = %q", got)
	}
}
