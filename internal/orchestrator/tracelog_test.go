package orchestrator

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ShayCichocki/cascade/pkg/models"
)

func fixedTraceLog(buf *bytes.Buffer) *TraceLog {
	l := NewTraceLog(buf)
	l.clock = func() time.Time { return time.Date(2024, 5, 1, 10, 4, 5, 123e6, time.UTC) }
	return l
}

func TestTraceLog_TagsDepthAndPath(t *testing.T) {
	tests := []struct {
		name  string
		depth int
		path  []string
		want  string
	}{
		{"root graph", 0, nil, "10:04:05.123 d0 root scheduler: dispatch 1\n"},
		{"nested graph", 2, []string{"1", "s2"}, "10:04:05.123 d2 1>s2 scheduler: dispatch 1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			fixedTraceLog(&buf).at(tt.depth, tt.path).printf("scheduler", "dispatch %s", "1")
			if buf.String() != tt.want {
				t.Errorf("line = %q, want %q", buf.String(), tt.want)
			}
		})
	}
}

func TestTraceLog_NilDiscards(t *testing.T) {
	var l *TraceLog
	l.at(0, nil).printf("scheduler", "dropped")
	if err := l.Close(); err != nil {
		t.Errorf("Close on nil log = %v", err)
	}
}

func TestTraceLog_SchedulerDecisions(t *testing.T) {
	var buf bytes.Buffer
	g := mustGraph(t, node("a"), node("b", "a"))
	s := NewScheduler(g, func(_ context.Context, n models.TaskNode, _ []models.ResultRecord) models.ResultRecord {
		return completed(n, "")
	}, WithDepth(1), WithPath([]string{"7"}), WithSchedulerTrace(fixedTraceLog(&buf)))
	s.RunAll(context.Background())

	out := buf.String()
	for _, want := range []string{
		"d1 7 scheduler: dispatch a deps=[]",
		"d1 7 scheduler: a completed",
		"d1 7 scheduler: dispatch b deps=[a]",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("trace missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "a completed") > strings.Index(out, "dispatch b") {
		t.Errorf("b dispatched before a completed:\n%s", out)
	}
}

func TestTraceLogForDir(t *testing.T) {
	dir := t.TempDir()
	l, err := TraceLogForDir(dir)
	if err != nil {
		t.Fatalf("TraceLogForDir failed: %v", err)
	}
	l.at(0, nil).printf("engine", "hello")
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, TraceLogPath))
	if err != nil {
		t.Fatalf("read trace: %v", err)
	}
	if !strings.HasPrefix(string(data), "=== cascade run ") || !strings.Contains(string(data), "d0 root engine: hello") {
		t.Errorf("trace file = %q", data)
	}
}
