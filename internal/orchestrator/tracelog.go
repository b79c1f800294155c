package orchestrator

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// TraceLogPath is where TraceLogForDir writes, relative to the project.
const TraceLogPath = ".cascade/logs/cascade-debug.log"

// TraceLog records scheduling decisions, one line each, tagged with the depth
// and position of the graph that made them:
//
//	10:04:05.123 d1 2 scheduler: dispatch s1 deps=[]
//
// The root graph is shown as "root", nested graphs by the IDs of their
// enclosing nodes joined with ">". A nil *TraceLog discards everything.
type TraceLog struct {
	mu     sync.Mutex
	out    io.Writer
	closer io.Closer
	clock  func() time.Time
}

// NewTraceLog writes trace lines to w.
func NewTraceLog(w io.Writer) *TraceLog {
	return &TraceLog{out: w, clock: time.Now}
}

// OpenTraceLog appends trace lines to the file at path, creating it and its
// directory if needed.
func OpenTraceLog(path string) (*TraceLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	l := NewTraceLog(f)
	l.closer = f
	fmt.Fprintf(f, "=== cascade run %s ===\n", l.clock().Format(time.RFC3339))
	return l, nil
}

// TraceLogForDir opens TraceLogPath under dir.
func TraceLogForDir(dir string) (*TraceLog, error) {
	return OpenTraceLog(filepath.Join(dir, TraceLogPath))
}

// Close closes the underlying file, if the log owns one.
func (l *TraceLog) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closer.Close()
}

// at returns a tracer for the graph at depth below path.
func (l *TraceLog) at(depth int, path []string) tracer {
	where := "root"
	if len(path) > 0 {
		where = strings.Join(path, ">")
	}
	return tracer{log: l, prefix: fmt.Sprintf("d%d %s", depth, where)}
}

func (l *TraceLog) write(prefix, component, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.out, "%s %s %s: %s\n", l.clock().Format("15:04:05.000"), prefix, component, msg)
}

// tracer writes lines for one graph.
type tracer struct {
	log    *TraceLog
	prefix string
}

func (t tracer) printf(component, format string, args ...any) {
	if t.log == nil {
		return
	}
	t.log.write(t.prefix, component, fmt.Sprintf(format, args...))
}
