package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/ShayCichocki/cascade/internal/orchestrator"
	"github.com/ShayCichocki/cascade/pkg/models"
)

// maxLogs bounds the log pane.
const maxLogs = 200

// EventMsg wraps an orchestrator event for the TUI.
type EventMsg struct {
	Event orchestrator.Event
}

// RunDoneMsg signals that the run has finished.
type RunDoneMsg struct {
	Success bool
	Message string
}

// UsageMsg updates the token counters.
type UsageMsg struct {
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
}

// LogEntry represents a log message displayed in the log pane.
type LogEntry struct {
	Timestamp time.Time
	Level     string
	Message   string
}

// row is one node of the run.
type row struct {
	key         string
	depth       int
	description string
	status      models.TaskStatus
	degraded    bool
	err         string
	// expanded is set once the node has produced its own sub-graph.
	expanded bool
}

// App is the main bubbletea model for the cascade TUI.
type App struct {
	rows  []*row
	index map[string]*row
	logs  []LogEntry

	// root holds the latest counts of the root graph.
	root  models.StatusCounts
	stats *StatsView

	spinner  spinner.Model
	showLogs bool
	width    int
	height   int

	// cancel stops the run when the user quits before it finishes.
	cancel   func()
	quitting bool

	done        bool
	success     bool
	doneMessage string
}

// New creates a new App. cancel may be nil.
func New(cancel func()) *App {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.running

	return &App{
		index:    make(map[string]*row),
		stats:    NewStatsView(),
		spinner:  s,
		showLogs: true,
		cancel:   cancel,
	}
}

// NewProgram creates a new Bubbletea program that can be used to run the TUI.
// The returned program can receive messages via Send().
func NewProgram(cancel func()) (*tea.Program, *App) {
	app := New(cancel)
	p := tea.NewProgram(app, tea.WithAltScreen())
	return p, app
}

// Forward sends every event to the program until the channel closes.
func Forward(p *tea.Program, events <-chan orchestrator.Event) {
	for e := range events {
		p.Send(EventMsg{Event: e})
	}
}

// Init implements tea.Model.
func (a *App) Init() tea.Cmd {
	return a.spinner.Tick
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			a.quitting = true
			if !a.done && a.cancel != nil {
				a.cancel()
			}
			return a, tea.Quit
		case "l":
			a.showLogs = !a.showLogs
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.stats.SetWidth(msg.Width)

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case EventMsg:
		a.handleEvent(msg.Event)

	case UsageMsg:
		a.stats.SetUsage(msg.InputTokens, msg.OutputTokens, msg.CostUSD)

	case RunDoneMsg:
		a.done = true
		a.success = msg.Success
		a.doneMessage = msg.Message
		a.addLog(time.Now(), "INFO", msg.Message)
	}

	return a, nil
}

// handleEvent processes an orchestrator event and updates state.
func (a *App) handleEvent(e orchestrator.Event) {
	if e.Depth == 0 && e.Counts.Total > 0 {
		a.root = e.Counts
		a.stats.SetCounts(e.Counts)
	}

	switch e.Type {
	case orchestrator.EventTaskStarted:
		r := a.findOrCreateRow(e)
		r.status = models.TaskStatusInProgress
		a.addLog(e.Timestamp, "INFO", fmt.Sprintf("started %s", e.Key()))

	case orchestrator.EventTaskCompleted:
		r := a.findOrCreateRow(e)
		r.status = models.TaskStatusCompleted
		r.degraded = e.Degraded
		level := "INFO"
		if e.Degraded {
			level = "WARN"
		}
		a.addLog(e.Timestamp, level, fmt.Sprintf("completed %s", e.Key()))

	case orchestrator.EventTaskFailed:
		r := a.findOrCreateRow(e)
		r.status = models.TaskStatusFailed
		if e.Error != nil {
			r.err = e.Error.Error()
		}
		a.addLog(e.Timestamp, "ERROR", fmt.Sprintf("failed %s: %s", e.Key(), r.err))

	case orchestrator.EventGraphExpanded:
		if r, ok := a.index[e.Key()]; ok {
			r.expanded = true
		}
		a.addLog(e.Timestamp, "INFO", fmt.Sprintf("%s: %s", e.Key(), e.Message))

	case orchestrator.EventDeadlock:
		a.addLog(e.Timestamp, "WARN", e.Message)

	case orchestrator.EventGraphDone:
		if e.Message != "" {
			a.addLog(e.Timestamp, "INFO", e.Message)
		}
	}
}

// findOrCreateRow finds the row for the event's node or inserts one after
// its parent's subtree.
func (a *App) findOrCreateRow(e orchestrator.Event) *row {
	key := e.Key()
	if r, ok := a.index[key]; ok {
		return r
	}

	r := &row{
		key:         key,
		depth:       len(e.Path),
		description: e.Description,
		status:      models.TaskStatusPending,
	}
	a.index[key] = r

	pos := len(a.rows)
	if len(e.Path) > 0 {
		parent := strings.Join(e.Path, "/")
		for i, existing := range a.rows {
			if existing.key == parent || strings.HasPrefix(existing.key, parent+"/") {
				pos = i + 1
			}
		}
	}
	a.rows = append(a.rows, nil)
	copy(a.rows[pos+1:], a.rows[pos:])
	a.rows[pos] = r
	return r
}

func (a *App) addLog(ts time.Time, level, message string) {
	if ts.IsZero() {
		ts = time.Now()
	}
	a.logs = append(a.logs, LogEntry{Timestamp: ts, Level: level, Message: message})
	if len(a.logs) > maxLogs {
		a.logs = a.logs[len(a.logs)-maxLogs:]
	}
}

// View implements tea.Model.
func (a *App) View() string {
	if a.quitting {
		return "Goodbye!\n"
	}

	sections := []string{
		a.viewHeader(),
		a.stats.View(),
		a.viewTasks(),
	}
	if a.showLogs {
		sections = append(sections, a.viewLogs())
	}
	sections = append(sections, a.viewFooter())
	return strings.Join(sections, "\n\n")
}

func (a *App) viewHeader() string {
	return styles.title.Render("cascade")
}

// viewTasks renders one line per node, nested nodes indented under their parent.
func (a *App) viewTasks() string {
	if len(a.rows) == 0 {
		return styles.faint.Render("Planning...")
	}

	var b strings.Builder
	for _, r := range a.visibleRows() {
		indent := strings.Repeat("  ", r.depth)
		var mark string
		switch r.status {
		case models.TaskStatusInProgress:
			mark = a.spinner.View()
		case models.TaskStatusCompleted:
			if r.degraded {
				mark = styles.warning.Render("!")
			} else {
				mark = styles.success.Render("✓")
			}
		case models.TaskStatusFailed:
			mark = styles.failure.Render("✗")
		default:
			mark = styles.faint.Render("·")
		}
		line := fmt.Sprintf("%s%s %s %s", indent, mark, styles.id.Render(r.key), truncate(r.description, a.descWidth(r.depth)))
		b.WriteString(line)
		b.WriteString("\n")
		if r.err != "" {
			b.WriteString(indent + "    " + styles.failure.Render(truncate(r.err, a.descWidth(r.depth))) + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// visibleRows trims finished rows from the top when the list is taller than
// the terminal allows.
func (a *App) visibleRows() []*row {
	limit := a.height - 20
	if a.height == 0 || limit < 5 {
		limit = len(a.rows)
	}
	if len(a.rows) <= limit {
		return a.rows
	}
	return a.rows[len(a.rows)-limit:]
}

func (a *App) descWidth(depth int) int {
	if a.width == 0 {
		return 80
	}
	w := a.width - 2*depth - 16
	if w < 20 {
		w = 20
	}
	return w
}

// viewLogs renders the most recent log entries.
func (a *App) viewLogs() string {
	if len(a.logs) == 0 {
		return styles.faint.Render("No log entries")
	}

	start := 0
	if len(a.logs) > 8 {
		start = len(a.logs) - 8
	}

	var lines []string
	for _, entry := range a.logs[start:] {
		ts := entry.Timestamp.Format("15:04:05")
		style := styles.faint
		switch entry.Level {
		case "WARN":
			style = styles.warning
		case "ERROR":
			style = styles.failure
		}
		lines = append(lines, style.Render(fmt.Sprintf("  %s [%s] %s", ts, entry.Level, entry.Message)))
	}
	return strings.Join(lines, "\n")
}

// viewFooter renders the footer with help text.
func (a *App) viewFooter() string {
	if a.done {
		if a.success {
			return styles.success.Render(fmt.Sprintf("✓ %s", a.doneMessage)) + " | Press q to exit"
		}
		return styles.failure.Render(fmt.Sprintf("✗ %s", a.doneMessage)) + " | Press q to exit"
	}
	return styles.faint.Render("l toggles logs | q stops the run and quits")
}

// Done reports whether the run has finished.
func (a *App) Done() bool {
	return a.done
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}
