package orchestrator

import (
	"github.com/ShayCichocki/cascade/internal/observability"
)

// DefaultMaxDepth is the number of expansion levels above role execution.
const DefaultMaxDepth = 1

// Option configures an Engine. Use With* functions to create Options.
type Option func(*engineOptions)

// engineOptions holds all optional configuration.
type engineOptions struct {
	rootWorkers   int
	nestedWorkers int
	maxDepth      int
	strict        bool
	fuzzyRoles    bool
	events        *EventEmitter
	metrics       *observability.Metrics
	trace         *TraceLog
}

func defaultEngineOptions() engineOptions {
	return engineOptions{
		rootWorkers:   DefaultRootWorkers,
		nestedWorkers: DefaultNestedWorkers,
		maxDepth:      DefaultMaxDepth,
	}
}

// WithRootWorkers bounds concurrent nodes in the root graph.
func WithRootWorkers(n int) Option {
	return func(o *engineOptions) { o.rootWorkers = n }
}

// WithNestedWorkers bounds concurrent nodes in each nested graph.
func WithNestedWorkers(n int) Option {
	return func(o *engineOptions) { o.nestedWorkers = n }
}

// WithMaxDepth sets the depth at which nodes are executed by their role
// instead of being expanded. Negative values are treated as 0.
func WithMaxDepth(d int) Option {
	return func(o *engineOptions) {
		if d < 0 {
			d = 0
		}
		o.maxDepth = d
	}
}

// WithStrict turns exhausted generation into node failure.
func WithStrict(b bool) Option {
	return func(o *engineOptions) { o.strict = b }
}

// WithFuzzyRoles enables substring role matching.
func WithFuzzyRoles(b bool) Option {
	return func(o *engineOptions) { o.fuzzyRoles = b }
}

// WithEvents sets the emitter that receives events from every graph.
func WithEvents(e *EventEmitter) Option {
	return func(o *engineOptions) { o.events = e }
}

// WithMetrics sets the Prometheus instruments.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *engineOptions) { o.metrics = m }
}

// WithTraceLog records scheduling decisions of every graph in l.
func WithTraceLog(l *TraceLog) Option {
	return func(o *engineOptions) { o.trace = l }
}
