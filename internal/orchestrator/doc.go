// Package orchestrator runs task graphs.
//
// A Scheduler executes one graph level with a bounded worker pool,
// dispatching a node as soon as all of its dependencies have completed and
// recomputing the ready set after every single completion. The Engine
// supplies the work each node performs: nodes above the depth limit are
// expanded into a nested graph (roles, split, nested Scheduler, leaf
// selection, reduction) and nodes at the limit are executed by their
// assigned role.
//
// Example usage:
//
//	engine := orchestrator.NewEngine(caps, orchestrator.WithMaxDepth(1))
//	g, _ := graph.New(nodes)
//	records, report := engine.Run(ctx, g, nil)
package orchestrator
