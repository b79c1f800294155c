package agent

import (
	"context"
	"strings"
)

// CapabilityExecute names the role execution capability in logs.
const CapabilityExecute = "execute"

const contextPromptTemplate = `**CONTEXT FROM PREVIOUS TASKS:**
{PREVIOUS_TASK_RESULTS}
---
**CURRENT TASK:**
{TASK}
---
**REQUIRED OUTPUT FORMAT & CONTENT:**
{FINAL_PRODUCT_DESCRIPTION}
---
**INSTRUCTION:**
Based *only* on the information provided above ('CONTEXT FROM PREVIOUS TASKS' and 'CURRENT TASK'), generate the final output. Your response must *strictly and exclusively* match the description under 'REQUIRED OUTPUT FORMAT & CONTENT'. Do not include *any* other text, headings, explanations, greetings, or apologies before or after the required output. Your entire response should be *only* the final product itself.
`

const standalonePromptTemplate = `**CURRENT TASK:**
{TASK}
---
**REQUIRED OUTPUT FORMAT & CONTENT:**
{FINAL_PRODUCT_DESCRIPTION}
---
**INSTRUCTION:**
Based *only* on the 'CURRENT TASK', generate the final output. Your response must *strictly and exclusively* match the description under 'REQUIRED OUTPUT FORMAT & CONTENT'. Do not include *any* other text, headings, explanations, greetings, or apologies before or after the required output. Your entire response should be *only* the final product itself.`

// BuildTaskPrompt renders the user message for a role execution. The
// previous-task section is left out entirely when there is no context.
func BuildTaskPrompt(previous, task, deliverable string) string {
	if previous == "" {
		return strings.NewReplacer(
			"{TASK}", task,
			"{FINAL_PRODUCT_DESCRIPTION}", deliverable,
		).Replace(standalonePromptTemplate)
	}
	return strings.NewReplacer(
		"{PREVIOUS_TASK_RESULTS}", previous,
		"{TASK}", task,
		"{FINAL_PRODUCT_DESCRIPTION}", deliverable,
	).Replace(contextPromptTemplate)
}

// TextGenerator executes a task in the voice of a role.
type TextGenerator struct {
	retrier *Retrier
}

// NewTextGenerator creates a generator.
func NewTextGenerator(r *Retrier) *TextGenerator {
	return &TextGenerator{retrier: r}
}

// Generate runs task with persona as the system prompt. previous is the
// formatted dependency context, possibly empty.
// On exhaustion it returns an empty string together with the error.
func (g *TextGenerator) Generate(ctx context.Context, persona, previous, task, deliverable string) (string, error) {
	return g.retrier.Complete(ctx, CompletionRequest{
		Capability: CapabilityExecute,
		System:     persona,
		User:       BuildTaskPrompt(previous, task, deliverable),
	})
}
