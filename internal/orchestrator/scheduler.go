package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/ShayCichocki/cascade/internal/graph"
	"github.com/ShayCichocki/cascade/internal/observability"
	"github.com/ShayCichocki/cascade/pkg/models"
)

// DefaultRootWorkers bounds the root graph's worker pool.
const DefaultRootWorkers = 5

// DefaultNestedWorkers bounds each nested graph's worker pool.
const DefaultNestedWorkers = 3

// TaskFunc performs the work of one node. deps holds the records of the
// node's dependencies in dependsOn order. The returned record must be
// terminal; anything else is recorded as failed.
type TaskFunc func(ctx context.Context, node models.TaskNode, deps []models.ResultRecord) models.ResultRecord

// Report describes how a graph run ended.
type Report struct {
	// Depth and Path identify the graph within the run.
	Depth int      `json:"depth"`
	Path  []string `json:"path,omitempty"`
	// Counts is the final status of the graph.
	Counts models.StatusCounts `json:"counts"`
	// Deadlock is set when unsatisfiable dependencies stopped the run.
	Deadlock bool `json:"deadlock,omitempty"`
	// Cancelled is set when the context ended the run early.
	Cancelled bool `json:"cancelled,omitempty"`
	// Remaining lists nodes that never reached a terminal status.
	Remaining []string `json:"remaining,omitempty"`
	// Cycle is set on deadlock when the graph contains a dependency cycle.
	Cycle bool `json:"cycle,omitempty"`
	// Dangling maps nodes to dependency IDs that are not in the graph.
	Dangling map[string][]string `json:"dangling,omitempty"`
}

// Complete reports whether every node reached a terminal status.
func (r Report) Complete() bool {
	return len(r.Remaining) == 0
}

// completion is sent by a worker when its node finishes.
type completion struct {
	id     string
	record models.ResultRecord
}

// Scheduler runs one graph. It is the only owner of the graph's run state;
// other components see that state through Status and the values RunAll
// returns.
type Scheduler struct {
	graph      *graph.TaskGraph
	run        TaskFunc
	maxWorkers int
	depth      int
	path       []string
	events     *EventEmitter
	metrics    *observability.Metrics
	traceLog   *TraceLog
	trace      tracer

	// mu protects the run state below.
	mu         sync.Mutex
	completed  graph.IDSet
	failed     graph.IDSet
	inProgress graph.IDSet
	results    map[string]models.ResultRecord
	// order holds IDs in completion order.
	order   []string
	started bool
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithWorkers bounds concurrent nodes. Values below 1 are treated as 1.
func WithWorkers(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n < 1 {
			n = 1
		}
		s.maxWorkers = n
	}
}

// WithDepth sets the graph depth reported in events and metrics.
func WithDepth(depth int) SchedulerOption {
	return func(s *Scheduler) { s.depth = depth }
}

// WithPath sets the IDs of the enclosing nodes, outermost first.
func WithPath(path []string) SchedulerOption {
	return func(s *Scheduler) { s.path = append([]string(nil), path...) }
}

// WithSchedulerEvents sends dispatch and completion events to e.
func WithSchedulerEvents(e *EventEmitter) SchedulerOption {
	return func(s *Scheduler) { s.events = e }
}

// WithSchedulerMetrics records dispatch and completion counts.
func WithSchedulerMetrics(m *observability.Metrics) SchedulerOption {
	return func(s *Scheduler) { s.metrics = m }
}

// WithSchedulerTrace records dispatch decisions in l.
func WithSchedulerTrace(l *TraceLog) SchedulerOption {
	return func(s *Scheduler) { s.traceLog = l }
}

// NewScheduler creates a scheduler for g that runs each node with run.
func NewScheduler(g *graph.TaskGraph, run TaskFunc, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		graph:      g,
		run:        run,
		maxWorkers: DefaultRootWorkers,
		completed:  graph.NewIDSet(),
		failed:     graph.NewIDSet(),
		inProgress: graph.NewIDSet(),
		results:    make(map[string]models.ResultRecord, g.Len()),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.trace = s.traceLog.at(s.depth, s.path)
	return s
}

// Status returns a snapshot of the run state. It is safe to call at any time.
func (s *Scheduler) Status() models.StatusCounts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Scheduler) statusLocked() models.StatusCounts {
	total := s.graph.Len()
	return models.StatusCounts{
		Total:      total,
		Completed:  len(s.completed),
		Failed:     len(s.failed),
		InProgress: len(s.inProgress),
		Pending:    total - len(s.completed) - len(s.failed) - len(s.inProgress),
	}
}

// RunAll executes the graph and returns the records in completion order.
//
// A node is dispatched only once all of its dependencies have completed. The
// ready set is recomputed after every completion, and at most maxWorkers
// nodes run at once. When nothing is running, nothing is ready and nodes
// remain, the graph is deadlocked: RunAll stops and returns the partial
// results with Report.Deadlock set. Once ctx is done no new node is
// dispatched; running nodes are waited for.
//
// Node failures never escape RunAll; they are failed records.
// A Scheduler runs once; later calls return the first run's results.
func (s *Scheduler) RunAll(ctx context.Context) ([]models.ResultRecord, Report) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return s.finalize(false, false)
	}
	s.started = true
	s.mu.Unlock()

	total := s.graph.Len()
	depthLabel := strconv.Itoa(s.depth)
	p := pool.New().WithMaxGoroutines(s.maxWorkers)
	// Each node completes at most once, so workers never block on send.
	done := make(chan completion, total)

	var deadlock, cancelled bool
	for {
		s.mu.Lock()
		if len(s.completed)+len(s.failed) >= total {
			s.mu.Unlock()
			break
		}

		stopping := ctx.Err() != nil
		var dispatch []models.TaskNode
		var depRecords [][]models.ResultRecord
		if !stopping {
			ready := graph.Ready(s.graph, s.completed, s.failed, s.inProgress)
			availableSlots := s.maxWorkers - len(s.inProgress)
			if availableSlots < len(ready) {
				s.trace.printf("scheduler", "ready=%d available slots=%d", len(ready), availableSlots)
				if availableSlots < 0 {
					availableSlots = 0
				}
				ready = ready[:availableSlots]
			}
			for _, id := range ready {
				node, err := s.graph.Node(id)
				if err != nil {
					// Ready only returns IDs from the graph.
					continue
				}
				s.inProgress.Add(id)
				dispatch = append(dispatch, node)
				depRecords = append(depRecords, s.depRecordsLocked(node))
			}
		}
		outstanding := len(s.inProgress)
		counts := s.statusLocked()
		s.mu.Unlock()

		for i, node := range dispatch {
			node, deps := node, depRecords[i]
			s.trace.printf("scheduler", "dispatch %s deps=%v", node.ID, node.DependsOn)
			s.metrics.Dispatched(depthLabel)
			s.events.Emit(Event{
				Type:        EventTaskStarted,
				TaskID:      node.ID,
				Description: node.Description,
				Path:        s.path,
				Depth:       s.depth,
				Counts:      counts,
			})
			p.Go(func() {
				done <- completion{id: node.ID, record: s.execute(ctx, node, deps)}
			})
		}

		if outstanding == 0 {
			if stopping {
				cancelled = true
				log.Printf("[scheduler] depth %d: cancelled with %d tasks not run: %v", s.depth, total-counts.Completed-counts.Failed, ctx.Err())
			} else {
				deadlock = true
			}
			break
		}

		// Wait for at least one node; the loop then recomputes the ready set.
		select {
		case c := <-done:
			s.finish(c, depthLabel)
		case <-ctx.Done():
			// Stop dispatching; keep draining running nodes.
			c := <-done
			s.finish(c, depthLabel)
		}
	}

	p.Wait()
	return s.finalize(deadlock, cancelled)
}

// depRecordsLocked returns the frozen records of node's dependencies, once
// per ID, in dependsOn order.
func (s *Scheduler) depRecordsLocked(node models.TaskNode) []models.ResultRecord {
	deps := make([]models.ResultRecord, 0, len(node.DependsOn))
	seen := make(graph.IDSet, len(node.DependsOn))
	for _, depID := range node.DependsOn {
		if seen.Has(depID) {
			continue
		}
		seen.Add(depID)
		if r, ok := s.results[depID]; ok {
			deps = append(deps, r)
		}
	}
	return deps
}

// execute runs one node and converts every failure, including panics, into a
// failed record.
func (s *Scheduler) execute(ctx context.Context, node models.TaskNode, deps []models.ResultRecord) (rec models.ResultRecord) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[scheduler] task %s panicked: %v", node.ID, r)
			rec = models.NewFailedRecord(node, fmt.Errorf("panic: %v", r))
		}
	}()

	if s.run == nil {
		return models.NewFailedRecord(node, fmt.Errorf("no task function configured"))
	}
	rec = s.run(ctx, node, deps)

	rec.TaskID = node.ID
	rec.Description = node.Description
	rec.DependsOn = models.CopyIDs(node.DependsOn)
	if !rec.Status.Terminal() {
		msg := fmt.Sprintf("task finished with non-terminal status %q", rec.Status)
		if rec.Error != "" {
			msg = rec.Error
		}
		rec.Status = models.TaskStatusFailed
		rec.Error = msg
	}
	return rec
}

// finish records a completion. It is the only place nodes leave inProgress.
func (s *Scheduler) finish(c completion, depthLabel string) {
	s.mu.Lock()
	s.inProgress.Remove(c.id)
	s.results[c.id] = c.record
	s.order = append(s.order, c.id)
	if c.record.Status == models.TaskStatusCompleted {
		s.completed.Add(c.id)
	} else {
		s.failed.Add(c.id)
	}
	counts := s.statusLocked()
	s.mu.Unlock()

	s.trace.printf("scheduler", "%s %s (completed=%d failed=%d running=%d pending=%d)",
		c.id, c.record.Status, counts.Completed, counts.Failed, counts.InProgress, counts.Pending)
	s.metrics.Finished(depthLabel, string(c.record.Status))

	event := Event{
		TaskID:      c.id,
		Description: c.record.Description,
		Path:        s.path,
		Depth:       s.depth,
		Degraded:    c.record.Degraded,
		Counts:      counts,
	}
	if c.record.Status == models.TaskStatusCompleted {
		event.Type = EventTaskCompleted
		log.Printf("[scheduler] Task %s: %s - Completed", c.id, c.record.Description)
	} else {
		event.Type = EventTaskFailed
		event.Error = errors.New(c.record.Error)
		event.Message = c.record.Error
		log.Printf("[scheduler] Task %s: %s - Failed: %s", c.id, c.record.Description, c.record.Error)
	}
	s.events.Emit(event)
}

// finalize builds the results and report after the loop exits.
func (s *Scheduler) finalize(deadlock, cancelled bool) ([]models.ResultRecord, Report) {
	s.mu.Lock()
	records := make([]models.ResultRecord, 0, len(s.order))
	for _, id := range s.order {
		records = append(records, s.results[id])
	}
	report := Report{
		Depth:     s.depth,
		Path:      append([]string(nil), s.path...),
		Counts:    s.statusLocked(),
		Deadlock:  deadlock,
		Cancelled: cancelled,
	}
	for _, id := range s.graph.IDs() {
		if !s.completed.Has(id) && !s.failed.Has(id) {
			report.Remaining = append(report.Remaining, id)
		}
	}
	s.mu.Unlock()

	if deadlock {
		report.Cycle = s.graph.HasCycle()
		if dangling := s.graph.DanglingDependencies(); len(dangling) > 0 {
			report.Dangling = dangling
		}
		s.trace.printf("scheduler", "deadlock remaining=%v cycle=%t", report.Remaining, report.Cycle)
		s.metrics.Deadlock(strconv.Itoa(s.depth))
		log.Printf("[scheduler] WARNING: possible deadlock at depth %d. Remaining tasks: %v (cycle=%t, dangling=%v)",
			s.depth, report.Remaining, report.Cycle, report.Dangling)
		s.events.Emit(Event{
			Type:    EventDeadlock,
			Path:    s.path,
			Depth:   s.depth,
			Message: fmt.Sprintf("remaining tasks: %v", report.Remaining),
			Counts:  report.Counts,
		})
	}

	s.events.Emit(Event{
		Type:   EventGraphDone,
		Path:   s.path,
		Depth:  s.depth,
		Counts: report.Counts,
	})
	return records, report
}
