package orchestrator

import (
	"strings"
	"time"

	"github.com/ShayCichocki/cascade/pkg/models"
)

// EventType represents the type of scheduler event.
type EventType string

const (
	// EventTaskStarted indicates a node was dispatched to a worker.
	EventTaskStarted EventType = "task_started"
	// EventTaskCompleted indicates a node completed.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates a node failed.
	EventTaskFailed EventType = "task_failed"
	// EventGraphExpanded indicates a node produced its nested graph.
	EventGraphExpanded EventType = "graph_expanded"
	// EventDeadlock indicates a graph stopped with unsatisfiable dependencies.
	EventDeadlock EventType = "deadlock"
	// EventGraphDone indicates a graph finished running.
	EventGraphDone EventType = "graph_done"
)

// Event represents something that happened while running a graph.
// These events are used to update the TUI and track progress.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// TaskID is the ID of the related node, if applicable.
	TaskID string
	// Description is the related node's description, if applicable.
	Description string
	// Path holds the IDs of the enclosing nodes, outermost first.
	// It is empty for the root graph.
	Path []string
	// Depth is the level of the graph the event belongs to.
	Depth int
	// Message provides additional context about the event.
	Message string
	// Error contains error details for failure events.
	Error error
	// Degraded is set on completions that used an empty generation result.
	Degraded bool
	// Counts is the graph's status at the time of the event.
	Counts models.StatusCounts
	// Timestamp is when the event occurred.
	Timestamp time.Time
}

// Key returns a stable identifier for the node across the whole run.
func (e Event) Key() string {
	return pathKey(e.Path, e.TaskID)
}

func pathKey(path []string, id string) string {
	if len(path) == 0 {
		return id
	}
	return strings.Join(path, "/") + "/" + id
}
