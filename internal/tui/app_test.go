package tui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ShayCichocki/cascade/internal/orchestrator"
	"github.com/ShayCichocki/cascade/pkg/models"
)

func send(a *App, msgs ...tea.Msg) {
	for _, m := range msgs {
		a.Update(m)
	}
}

func started(id string, path ...string) EventMsg {
	return EventMsg{Event: orchestrator.Event{
		Type: orchestrator.EventTaskStarted, TaskID: id, Description: "task " + id,
		Path: path, Depth: len(path),
	}}
}

func TestRowsFollowEvents(t *testing.T) {
	a := New(nil)

	send(a,
		started("1"),
		started("2"),
		started("s1", "1"),
		EventMsg{Event: orchestrator.Event{Type: orchestrator.EventTaskCompleted, TaskID: "s1", Path: []string{"1"}, Depth: 1, Degraded: true}},
		EventMsg{Event: orchestrator.Event{Type: orchestrator.EventTaskFailed, TaskID: "2", Error: errors.New("boom")}},
	)

	var keys []string
	for _, r := range a.rows {
		keys = append(keys, r.key)
	}
	// Nested rows sit directly under their parent.
	if got, want := strings.Join(keys, ","), "1,1/s1,2"; got != want {
		t.Fatalf("row order = %s, want %s", got, want)
	}

	if r := a.index["1/s1"]; r.status != models.TaskStatusCompleted || !r.degraded || r.depth != 1 {
		t.Errorf("1/s1 row = %+v", r)
	}
	if r := a.index["2"]; r.status != models.TaskStatusFailed || r.err != "boom" {
		t.Errorf("2 row = %+v", r)
	}
	if r := a.index["1"]; r.status != models.TaskStatusInProgress {
		t.Errorf("1 row status = %s, want in_progress", r.status)
	}
}

func TestSecondNestedRowKeepsGrouping(t *testing.T) {
	a := New(nil)
	send(a, started("1"), started("2"), started("s1", "1"), started("s2", "1"), started("x", "2"))

	var keys []string
	for _, r := range a.rows {
		keys = append(keys, r.key)
	}
	if got, want := strings.Join(keys, ","), "1,1/s1,1/s2,2,2/x"; got != want {
		t.Errorf("row order = %s, want %s", got, want)
	}
}

func TestRootCountsOnlyFromDepthZero(t *testing.T) {
	a := New(nil)
	send(a,
		EventMsg{Event: orchestrator.Event{Type: orchestrator.EventGraphDone, Depth: 1, Path: []string{"1"}, Counts: models.StatusCounts{Total: 9}}},
		EventMsg{Event: orchestrator.Event{Type: orchestrator.EventTaskStarted, TaskID: "1", Counts: models.StatusCounts{Total: 2, InProgress: 1, Pending: 1}}},
	)
	if a.root.Total != 2 || a.root.InProgress != 1 {
		t.Errorf("root counts = %+v", a.root)
	}
}

func TestQuitCancelsUnfinishedRun(t *testing.T) {
	cancelled := false
	a := New(func() { cancelled = true })

	_, cmd := a.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("q should return a quit command")
	}
	if !cancelled {
		t.Error("quitting before the run finished should cancel it")
	}
	if a.View() != "Goodbye!\n" {
		t.Errorf("View() after quit = %q", a.View())
	}
}

func TestQuitAfterDoneDoesNotCancel(t *testing.T) {
	cancelled := false
	a := New(func() { cancelled = true })

	send(a, RunDoneMsg{Success: true, Message: "3 tasks completed"})
	if !a.Done() {
		t.Fatal("Done() = false after RunDoneMsg")
	}
	if !strings.Contains(a.View(), "3 tasks completed") {
		t.Error("footer should show the final message")
	}

	a.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if cancelled {
		t.Error("quitting a finished run should not cancel")
	}
}

func TestToggleLogs(t *testing.T) {
	a := New(nil)
	send(a, EventMsg{Event: orchestrator.Event{Type: orchestrator.EventDeadlock, Message: "remaining tasks: [3]"}})

	if !strings.Contains(a.View(), "remaining tasks: [3]") {
		t.Error("log pane should show the deadlock message")
	}
	send(a, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("l")})
	if strings.Contains(a.View(), "remaining tasks: [3]") {
		t.Error("log pane should be hidden after l")
	}
}

func TestLogsAreBounded(t *testing.T) {
	a := New(nil)
	for i := 0; i < maxLogs+50; i++ {
		send(a, started("t"))
	}
	if len(a.logs) != maxLogs {
		t.Errorf("len(logs) = %d, want %d", len(a.logs), maxLogs)
	}
}

func TestUsageMsg(t *testing.T) {
	a := New(nil)
	send(a, UsageMsg{InputTokens: 12, OutputTokens: 34, CostUSD: 0.01})
	if !strings.Contains(a.View(), "12 in / 34 out") {
		t.Errorf("stats should show token usage:\n%s", a.View())
	}
}

func TestRenderProgressBar(t *testing.T) {
	s := NewStatsView()
	bar := s.renderProgressBar(1, 2)
	if strings.Count(bar, "█") != 10 || strings.Count(bar, "░") != 10 {
		t.Errorf("renderProgressBar(1, 2) = %q", bar)
	}
	if bar := s.renderProgressBar(0, 0); strings.Count(bar, "░") != 20 {
		t.Errorf("renderProgressBar(0, 0) = %q", bar)
	}
}
