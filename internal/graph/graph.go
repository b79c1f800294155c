// Package graph provides the per-level task graph and the ready-set calculation.
package graph

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ShayCichocki/cascade/pkg/models"
)

var (
	// ErrCycleDetected indicates a circular dependency was found in the task graph.
	ErrCycleDetected = errors.New("circular dependency detected")
	// ErrNodeNotFound is returned when an ID is not part of the graph.
	ErrNodeNotFound = errors.New("task not found")
	// ErrDuplicateID is returned when two nodes share an ID.
	ErrDuplicateID = errors.New("duplicate task id")
)

// TaskGraph is one decomposition level: a set of nodes and their dependency
// edges. It is immutable after construction and safe for concurrent reads.
//
// Edges are not validated. A cycle or a reference to an ID outside the graph
// shows up at run time as a deadlock.
type TaskGraph struct {
	// order preserves the insertion order of node IDs.
	order []string
	// nodes maps task ID to the node itself.
	nodes map[string]models.TaskNode
}

// New builds a graph from nodes. Nodes are copied, so later changes to the
// input slice are not observed.
func New(nodes []models.TaskNode) (*TaskGraph, error) {
	g := &TaskGraph{
		order: make([]string, 0, len(nodes)),
		nodes: make(map[string]models.TaskNode, len(nodes)),
	}
	for _, n := range nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("task %q has an empty id", n.Description)
		}
		if _, exists := g.nodes[n.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, n.ID)
		}
		n.DependsOn = models.CopyIDs(n.DependsOn)
		g.nodes[n.ID] = n
		g.order = append(g.order, n.ID)
	}
	return g, nil
}

// Len returns the number of nodes in the graph.
func (g *TaskGraph) Len() int {
	if g == nil {
		return 0
	}
	return len(g.order)
}

// IDs returns node IDs in insertion order.
func (g *TaskGraph) IDs() []string {
	if g == nil {
		return nil
	}
	return append([]string(nil), g.order...)
}

// Node returns the node with the given ID.
// A missing ID fails only this lookup.
func (g *TaskGraph) Node(id string) (models.TaskNode, error) {
	if g != nil {
		if n, ok := g.nodes[id]; ok {
			n.DependsOn = models.CopyIDs(n.DependsOn)
			return n, nil
		}
	}
	return models.TaskNode{}, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
}

// Nodes returns copies of all nodes in insertion order.
func (g *TaskGraph) Nodes() []models.TaskNode {
	out := make([]models.TaskNode, 0, g.Len())
	for _, id := range g.IDs() {
		n, _ := g.Node(id)
		out = append(out, n)
	}
	return out
}

// Dependents returns the IDs of nodes that depend on the given node.
func (g *TaskGraph) Dependents(id string) []string {
	var dependents []string
	for _, nid := range g.IDs() {
		for _, dep := range g.nodes[nid].DependsOn {
			if dep == id {
				dependents = append(dependents, nid)
				break
			}
		}
	}
	return dependents
}

// DanglingDependencies maps node IDs to the dependency IDs that are not part
// of the graph. Such nodes can never become ready.
func (g *TaskGraph) DanglingDependencies() map[string][]string {
	out := make(map[string][]string)
	for _, id := range g.IDs() {
		for _, dep := range g.nodes[id].DependsOn {
			if _, ok := g.nodes[dep]; !ok {
				out[id] = append(out[id], dep)
			}
		}
	}
	return out
}

// HasCycle returns true if the graph contains a circular dependency.
// Uses depth-first search with coloring to detect back edges.
// The scheduler does not call this; it is a diagnostic for deadlock reports.
func (g *TaskGraph) HasCycle() bool {
	// Color states: 0 = white (unvisited), 1 = gray (in progress), 2 = black (done).
	colors := make(map[string]int, g.Len())

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1
		for _, depID := range g.nodes[id].DependsOn {
			if _, ok := g.nodes[depID]; !ok {
				continue
			}
			switch colors[depID] {
			case 1:
				return true
			case 0:
				if visit(depID) {
					return true
				}
			}
		}
		colors[id] = 2
		return false
	}

	for _, id := range g.IDs() {
		if colors[id] == 0 && visit(id) {
			return true
		}
	}
	return false
}

// TopologicalSort returns IDs so that every dependency precedes its
// dependents. Dependencies outside the graph are ignored.
func (g *TaskGraph) TopologicalSort() ([]string, error) {
	if g.HasCycle() {
		return nil, ErrCycleDetected
	}

	visited := make(map[string]bool, g.Len())
	result := make([]string, 0, g.Len())

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, depID := range g.nodes[id].DependsOn {
			if _, ok := g.nodes[depID]; ok {
				visit(depID)
			}
		}
		result = append(result, id)
	}

	for _, id := range g.IDs() {
		visit(id)
	}
	return result, nil
}

// IDSet is a set of task IDs.
type IDSet map[string]struct{}

// NewIDSet returns a set holding ids.
func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports whether id is in the set.
func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Add inserts id.
func (s IDSet) Add(id string) { s[id] = struct{}{} }

// Remove deletes id.
func (s IDSet) Remove(id string) { delete(s, id) }

// Sorted returns the members in lexical order.
func (s IDSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Ready returns, in graph order, every node that is not completed, failed or
// in progress and whose dependencies are all completed.
//
// A node with a failed dependency is never ready, and nothing here retries it.
// Failure therefore blocks every transitive dependent without an explicit
// skipped status.
//
// Ready does not modify its arguments.
func Ready(g *TaskGraph, completed, failed, inProgress IDSet) []string {
	var ready []string
	for _, id := range g.IDs() {
		if completed.Has(id) || failed.Has(id) || inProgress.Has(id) {
			continue
		}
		depsMet := true
		for _, dep := range g.nodes[id].DependsOn {
			if !completed.Has(dep) {
				depsMet = false
				break
			}
		}
		if depsMet {
			ready = append(ready, id)
		}
	}
	return ready
}
