package models

import "strings"

// TaskStatus represents the current state of a task node.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not been dispatched.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusInProgress indicates the task is running in a worker slot.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusCompleted indicates the task finished and its result is usable by dependents.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed. Dependents stay blocked.
	TaskStatusFailed TaskStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true for statuses that are never left once reached.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// TaskNode is a single unit of work inside one decomposition level.
// The runtime status of a node is owned by the scheduler running its graph,
// so the node itself is never mutated after it is created.
type TaskNode struct {
	// ID is unique within its graph.
	ID string `json:"id" yaml:"id"`
	// Description is the natural-language task.
	Description string `json:"description" yaml:"description"`
	// DependsOn lists IDs in the same graph that must complete first.
	DependsOn []string `json:"dependsOn" yaml:"dependsOn"`
	// AssignedRole names the role that executes this node, if any.
	AssignedRole string `json:"role_name,omitempty" yaml:"role_name,omitempty"`
}

// RoleDefinition is an execution persona.
type RoleDefinition struct {
	// Key is the stable lookup key, derived from RoleName when not set.
	Key string `json:"key,omitempty" yaml:"key,omitempty"`
	// RoleName is the display name the decomposer assigns to nodes.
	RoleName string `json:"role_name" yaml:"role_name"`
	// PromptText is the system persona used when the role executes a task.
	PromptText string `json:"prompt_text" yaml:"prompt_text"`
}

// LookupKey returns the role's key, deriving it from the name if unset.
func (r RoleDefinition) LookupKey() string {
	if r.Key != "" {
		return r.Key
	}
	return RoleKey(r.RoleName)
}

// RoleKey converts a role name into its stable key: lowercase letters and
// digits separated by single dashes.
//
//	RoleKey("Go  API Designer!") == "go-api-designer"
func RoleKey(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r > 127:
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = false
			b.WriteRune(r)
		default:
			dash = true
		}
	}
	return b.String()
}
