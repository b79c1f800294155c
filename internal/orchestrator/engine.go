package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ShayCichocki/cascade/internal/agent"
	"github.com/ShayCichocki/cascade/internal/graph"
	"github.com/ShayCichocki/cascade/internal/observability"
	"github.com/ShayCichocki/cascade/pkg/models"
)

// RoleSource produces the roles a task needs.
type RoleSource interface {
	Roles(ctx context.Context, task string) ([]models.RoleDefinition, error)
}

// RootSplitter splits the user's task into the root graph.
type RootSplitter interface {
	Split(ctx context.Context, task string) ([]models.TaskNode, error)
}

// RoleSplitter splits a task into steps assigned to the given roles.
type RoleSplitter interface {
	SplitWithRoles(ctx context.Context, task string, roleNames []string) ([]models.TaskNode, error)
}

// Synthesizer folds a sub-graph's output into one answer.
type Synthesizer interface {
	Reduce(ctx context.Context, mainTask, upstream, leaves string) (string, error)
}

// DeliverableSource describes the expected output of a task.
type DeliverableSource interface {
	Deliverable(ctx context.Context, task, role string) (string, error)
}

// Generator executes a task in the voice of a role.
type Generator interface {
	Generate(ctx context.Context, persona, previous, task, deliverable string) (string, error)
}

// Capabilities are the generation steps the engine drives. Each returns its
// zero value and an error wrapping agent.ErrExhausted when it gives up.
type Capabilities struct {
	Roles        RoleSource
	Root         RootSplitter
	Splitter     RoleSplitter
	Reducer      Synthesizer
	Deliverables DeliverableSource
	Generator    Generator
}

// Engine runs a task tree. Nodes above the depth limit are expanded into a
// nested graph and reduced; nodes at the limit are executed by their role.
// Run must not be called concurrently on the same Engine.
type Engine struct {
	caps Capabilities
	opts engineOptions

	mu      sync.Mutex
	reports []Report
}

// NewEngine creates an engine.
func NewEngine(caps Capabilities, opts ...Option) *Engine {
	o := defaultEngineOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Engine{caps: caps, opts: o}
}

// MaxDepth returns the configured depth limit.
func (e *Engine) MaxDepth() int {
	return e.opts.maxDepth
}

// frame is the position of a graph in the tree.
type frame struct {
	depth int
	// path holds the IDs of the enclosing nodes.
	path []string
	// inherited holds the dependency records of the enclosing nodes,
	// outermost first.
	inherited []models.ResultRecord
	roles     *RoleBook
}

func (f frame) child(id string, deps []models.ResultRecord, roles *RoleBook) frame {
	inherited := make([]models.ResultRecord, 0, len(f.inherited)+len(deps))
	inherited = append(append(inherited, f.inherited...), deps...)
	return frame{
		depth:     f.depth + 1,
		path:      append(append([]string(nil), f.path...), id),
		inherited: inherited,
		roles:     roles,
	}
}

// PlanRoot builds the root graph for task. With a depth limit of 0 the root
// nodes are executed by role, so roles are generated first and the split
// assigns them; otherwise the plain split is used and roles is nil.
func (e *Engine) PlanRoot(ctx context.Context, task string) (*graph.TaskGraph, *RoleBook, error) {
	var (
		nodes []models.TaskNode
		book  *RoleBook
		err   error
	)
	if e.opts.maxDepth == 0 {
		if e.caps.Roles == nil || e.caps.Splitter == nil {
			return nil, nil, errors.New("role generation and splitting are required at depth 0")
		}
		roles, rerr := e.caps.Roles.Roles(ctx, task)
		if rerr != nil {
			return nil, nil, fmt.Errorf("generate roles: %w", rerr)
		}
		book = NewRoleBook(roles, e.opts.fuzzyRoles)
		nodes, err = e.caps.Splitter.SplitWithRoles(ctx, task, book.Names())
	} else {
		if e.caps.Root == nil {
			return nil, nil, errors.New("no root splitter configured")
		}
		nodes, err = e.caps.Root.Split(ctx, task)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("split task: %w", err)
	}
	if len(nodes) == 0 {
		return nil, nil, errors.New("decomposition produced no tasks")
	}

	g, err := graph.New(nodes)
	if err != nil {
		return nil, nil, fmt.Errorf("build root graph: %w", err)
	}
	log.Printf("[engine] root graph has %d tasks", g.Len())
	return g, book, nil
}

// Run executes the root graph. roles is used by nodes executed at depth 0
// and may be nil otherwise. Results are in completion order.
func (e *Engine) Run(ctx context.Context, g *graph.TaskGraph, roles *RoleBook) ([]models.ResultRecord, Report) {
	e.mu.Lock()
	e.reports = nil
	e.mu.Unlock()
	return e.runGraph(ctx, g, frame{roles: roles})
}

// Reports returns the report of every graph run by the last Run, in the
// order the graphs finished. The root graph's report is last.
func (e *Engine) Reports() []Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Report(nil), e.reports...)
}

// Incomplete returns the reports of graphs that stopped early.
func (e *Engine) Incomplete() []Report {
	var out []Report
	for _, r := range e.Reports() {
		if !r.Complete() {
			out = append(out, r)
		}
	}
	return out
}

func (e *Engine) runGraph(ctx context.Context, g *graph.TaskGraph, f frame) ([]models.ResultRecord, Report) {
	workers := e.opts.nestedWorkers
	if f.depth == 0 {
		workers = e.opts.rootWorkers
	}

	s := NewScheduler(g, func(ctx context.Context, node models.TaskNode, deps []models.ResultRecord) models.ResultRecord {
		return e.executeNode(ctx, node, deps, f)
	},
		WithWorkers(workers),
		WithDepth(f.depth),
		WithPath(f.path),
		WithSchedulerEvents(e.opts.events),
		WithSchedulerMetrics(e.opts.metrics),
		WithSchedulerTrace(e.opts.trace),
	)
	records, report := s.RunAll(ctx)

	e.mu.Lock()
	e.reports = append(e.reports, report)
	e.mu.Unlock()
	return records, report
}

func (e *Engine) executeNode(ctx context.Context, node models.TaskNode, deps []models.ResultRecord, f frame) models.ResultRecord {
	ctx, span := observability.StartSpan(ctx, "task.run",
		attribute.String("task.id", node.ID),
		attribute.String("task.path", pathKey(f.path, node.ID)),
		attribute.Int("task.depth", f.depth),
	)

	previous := FormatEnclosingContext(f.inherited) + FormatDependencyContext(deps)

	var rec models.ResultRecord
	if f.depth >= e.opts.maxDepth {
		rec = e.executeWithRole(ctx, node, previous, f)
	} else {
		rec = e.expand(ctx, node, deps, previous, f)
	}

	var spanErr error
	if rec.Status == models.TaskStatusFailed {
		spanErr = errors.New(rec.Error)
	}
	span.SetAttributes(attribute.Bool("task.degraded", rec.Degraded))
	observability.EndSpan(span, spanErr)
	return rec
}

// outcome collects soft failures for one node.
type outcome struct {
	strict   bool
	degraded bool
	warnings []string
	err      error
}

// accept reports whether the node may continue after a capability returned
// err. Exhaustion is tolerated unless strict; any other error is fatal.
func (o *outcome) accept(capability string, err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, agent.ErrExhausted) && !o.strict {
		o.degraded = true
		o.warnings = append(o.warnings, fmt.Sprintf("%s: generation gave up, using empty result", capability))
		log.Printf("[engine] %s exhausted, continuing with empty result: %v", capability, err)
		return true
	}
	o.err = fmt.Errorf("%s: %w", capability, err)
	return false
}

func (o *outcome) apply(rec *models.ResultRecord) {
	rec.Degraded = o.degraded
	if len(o.warnings) > 0 {
		rec.Warnings = append(rec.Warnings, o.warnings...)
	}
}

// expand runs the recursive body of a node: roles, split, nested graph,
// leaf selection and reduction.
func (e *Engine) expand(ctx context.Context, node models.TaskNode, deps []models.ResultRecord, previous string, f frame) models.ResultRecord {
	out := &outcome{strict: e.opts.strict}

	if e.caps.Roles == nil || e.caps.Splitter == nil || e.caps.Reducer == nil {
		return models.NewFailedRecord(node, errors.New("expansion capabilities not configured"))
	}

	roles, err := e.caps.Roles.Roles(ctx, node.Description)
	if !out.accept("roles", err) {
		return models.NewFailedRecord(node, out.err)
	}
	book := NewRoleBook(roles, e.opts.fuzzyRoles)

	nodes, err := e.caps.Splitter.SplitWithRoles(ctx, node.Description, book.Names())
	if !out.accept("split", err) {
		return models.NewFailedRecord(node, out.err)
	}
	sub, err := graph.New(nodes)
	if err != nil {
		return models.NewFailedRecord(node, fmt.Errorf("build sub-graph: %w", err))
	}

	e.opts.events.Emit(Event{
		Type:        EventGraphExpanded,
		TaskID:      node.ID,
		Description: node.Description,
		Path:        f.path,
		Depth:       f.depth,
		Message:     fmt.Sprintf("%d roles, %d sub-tasks", book.Len(), sub.Len()),
	})
	e.opts.trace.at(f.depth, f.path).printf("engine", "%s expanded into %d sub-tasks with roles %v", node.ID, sub.Len(), book.Names())

	children, report := e.runGraph(ctx, sub, f.child(node.ID, deps, book))
	if report.Cancelled {
		rec := models.NewFailedRecord(node, fmt.Errorf("cancelled: %w", context.Cause(ctx)))
		rec.Children = children
		return rec
	}
	if report.Deadlock {
		out.warnings = append(out.warnings, fmt.Sprintf("sub-graph stopped early; tasks not run: %s", strings.Join(report.Remaining, ", ")))
	}

	leaves := FindLeaves(children)
	result, err := e.caps.Reducer.Reduce(ctx, node.Description, previous, FormatLeaves(leaves))
	if !out.accept("reduce", err) {
		rec := models.NewFailedRecord(node, out.err)
		rec.Children = children
		return rec
	}

	rec := models.ResultRecord{
		TaskID:      node.ID,
		Status:      models.TaskStatusCompleted,
		Description: node.Description,
		DependsOn:   models.CopyIDs(node.DependsOn),
		Result:      result,
		Children:    children,
	}
	out.apply(&rec)
	return rec
}

// executeWithRole runs a node at the depth limit using its assigned role.
func (e *Engine) executeWithRole(ctx context.Context, node models.TaskNode, previous string, f frame) models.ResultRecord {
	out := &outcome{strict: e.opts.strict}

	role, err := f.roles.Lookup(node.AssignedRole)
	if err != nil {
		log.Printf("[engine] task %s: %v", pathKey(f.path, node.ID), err)
		return models.NewFailedRecord(node, err)
	}
	if role.LookupKey() != models.RoleKey(node.AssignedRole) && !strings.EqualFold(strings.TrimSpace(role.RoleName), strings.TrimSpace(node.AssignedRole)) {
		e.opts.trace.at(f.depth, f.path).printf("roles", "%s: fuzzy match %q -> %q", node.ID, node.AssignedRole, role.RoleName)
	}
	if e.caps.Deliverables == nil || e.caps.Generator == nil {
		return models.NewFailedRecord(node, errors.New("execution capabilities not configured"))
	}

	deliverable, err := e.caps.Deliverables.Deliverable(ctx, node.Description, role.RoleName)
	if !out.accept("task_result", err) {
		return models.NewFailedRecord(node, out.err)
	}

	result, err := e.caps.Generator.Generate(ctx, role.PromptText, previous, node.Description, deliverable)
	if !out.accept("execute", err) {
		return models.NewFailedRecord(node, out.err)
	}

	rec := models.ResultRecord{
		TaskID:           node.ID,
		Status:           models.TaskStatusCompleted,
		Description:      node.Description,
		DependsOn:        models.CopyIDs(node.DependsOn),
		Result:           result,
		RoleName:         role.RoleName,
		RoleSystemPrompt: role.PromptText,
		TaskResultFormat: deliverable,
	}
	out.apply(&rec)
	return rec
}
