// Package reduce folds the results of a sub-graph and its upstream context
// into a single answer for the parent task.
package reduce

import (
	"context"
	"strings"

	"github.com/ShayCichocki/cascade/internal/agent"
)

// Capability names the reducer in logs and metrics.
const Capability = "reduce"

// SystemPrompt is the fixed synthesis instruction.
const SystemPrompt = `# Role
You are an AI assistant specialized in information analysis, integration, and synthesis.

# Context
You will receive the following information:
1.  **Main Task:** The primary objective to be achieved.
2.  **Prerequisite Task Result:** Information or results from tasks completed *before* the main task, providing necessary background or context.
3.  **Sub-task Execution Results:** A collection of results from individual steps taken to fulfill the main task.

# Core Objective
Your goal is to:
1.  **Thoroughly Understand** the requirements of the **Main Task**.
2.  **Analyze** all provided information – the **Prerequisite Task Result** and all **Sub-task Execution Results** – evaluating their relevance, accuracy, and contribution to the Main Task.
3.  **Integrate** key findings and essential data points from *all* these sources.
4.  **Synthesize** this integrated information into a **single, coherent, and comprehensive** final output that **directly addresses and fulfills** the original **Main Task**.

# Processing Guidelines (Internal Thought Process)
*   **Clarify Goal:** What is the core requirement of the Main Task? What is the expected final deliverable?
*   **Analyze Inputs:** What crucial background does the Prerequisite Task Result provide? What specific information does each Sub-task Result contribute? How do these pieces relate (e.g., sequence, cause-effect, supporting details)? Are there overlaps, gaps, or inconsistencies?
*   **Plan Synthesis:** How should the final output be structured for clarity and logical flow? What are the key points to highlight? How can overlapping information be merged effectively?
*   **Generate Output:** Draft the final synthesized text. Focus on clear articulation, summarization, and refinement. **Do not simply copy and paste** raw results; restructure and rephrase as needed for a unified narrative.

# Input Format
You will receive information structured as follows:

` + "```" + `text
# Main Task
[Insert the clear and specific main task description here]

## Prerequisite Task Result
[Insert the result or information from the prerequisite task here]

## Sub-task Execution Results
[Insert the collected results from the executed sub-tasks here. This might be a list, paragraphs, or structured data.]`

const promptTemplate = `
# Main Task
[maintask]
## Prerequisite Task Result
[subtask]
## Sub-task Execution Results
[result]
`

// BuildPrompt renders the user message. upstream fills the prerequisite
// section and leaves fills the sub-task results section.
func BuildPrompt(mainTask, upstream, leaves string) string {
	return strings.NewReplacer(
		"[maintask]", mainTask,
		"[subtask]", upstream,
		"[result]", leaves,
	).Replace(promptTemplate)
}

// Reducer synthesizes one answer from a task, its upstream context and its
// sub-task results. It holds no state between calls.
type Reducer struct {
	retrier *agent.Retrier
}

// New creates a reducer.
func New(r *agent.Retrier) *Reducer {
	return &Reducer{retrier: r}
}

// Reduce returns the synthesized answer for mainTask.
// On exhaustion it returns an empty string together with the error.
func (r *Reducer) Reduce(ctx context.Context, mainTask, upstream, leaves string) (string, error) {
	return r.retrier.Complete(ctx, agent.CompletionRequest{
		Capability: Capability,
		System:     SystemPrompt,
		User:       BuildPrompt(mainTask, upstream, leaves),
	})
}
