package agent

import (
	"context"
	"fmt"
)

// CapabilityDeliverable names the deliverable-spec capability in logs.
const CapabilityDeliverable = "task_result"

// DeliverableWriter asks the backend what a role should hand back for a task.
type DeliverableWriter struct {
	retrier *Retrier
	system  string
}

// NewDeliverableWriter creates a writer using system as its instructions.
func NewDeliverableWriter(r *Retrier, system string) *DeliverableWriter {
	return &DeliverableWriter{retrier: r, system: system}
}

// Deliverable returns the expected output spec for task when done by role.
// On exhaustion it returns an empty string together with the error.
func (w *DeliverableWriter) Deliverable(ctx context.Context, task, role string) (string, error) {
	return w.retrier.Complete(ctx, CompletionRequest{
		Capability: CapabilityDeliverable,
		System:     w.system,
		User:       fmt.Sprintf("task: %s \nrole=%s", task, role),
	})
}
