package models

import (
	"bytes"
	"encoding/json"
)

// ResultRecord is produced exactly once per node, at its terminal transition,
// and is never modified afterwards. Field names are part of the output format.
type ResultRecord struct {
	TaskID      string     `json:"task_id"`
	Status      TaskStatus `json:"status"`
	Description string     `json:"description"`
	DependsOn   []string   `json:"dependsOn"`
	Result      string     `json:"result"`
	Error       string     `json:"error,omitempty"`

	// Leaf executions record the role that produced the result.
	RoleName         string `json:"role_name,omitempty"`
	RoleSystemPrompt string `json:"role_sys_prompt,omitempty"`
	TaskResultFormat string `json:"task_result_format,omitempty"`

	// Children holds the nested results of nodes that recursed into a sub-graph.
	// It is nil for leaf executions and non-nil, possibly empty, for nodes that
	// recursed; MarshalJSON keeps that difference in the output.
	Children []ResultRecord `json:"children,omitempty"`

	// Degraded is set when a generation capability gave up and an empty value
	// was used in its place. Warnings describes that and any sub-graph that
	// stopped early.
	Degraded bool     `json:"degraded,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// MarshalJSON writes children whenever the node recursed, as [] for an empty
// sub-graph, and leaves the key out for leaf executions.
func (r ResultRecord) MarshalJSON() ([]byte, error) {
	type plain ResultRecord
	out := struct {
		plain
		Children *[]ResultRecord `json:"children,omitempty"`
	}{plain: plain(r)}
	if r.Children != nil {
		out.Children = &r.Children
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(out); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Succeeded reports whether the record is completed.
func (r ResultRecord) Succeeded() bool {
	return r.Status == TaskStatusCompleted
}

// NewFailedRecord builds a failed record for a node.
func NewFailedRecord(node TaskNode, err error) ResultRecord {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return ResultRecord{
		TaskID:      node.ID,
		Status:      TaskStatusFailed,
		Description: node.Description,
		DependsOn:   CopyIDs(node.DependsOn),
		Error:       msg,
	}
}

// CopyIDs returns a non-nil copy of ids, so that records always serialize
// dependsOn as an array.
func CopyIDs(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// Walk visits every record depth-first, parents before children.
// path holds the task IDs from the root down to, and including, the record.
func Walk(records []ResultRecord, fn func(path []string, r ResultRecord)) {
	walk(nil, records, fn)
}

func walk(prefix []string, records []ResultRecord, fn func(path []string, r ResultRecord)) {
	for _, r := range records {
		path := append(append([]string(nil), prefix...), r.TaskID)
		fn(path, r)
		if len(r.Children) > 0 {
			walk(path, r.Children, fn)
		}
	}
}

// StatusCounts is a point-in-time snapshot of a scheduler.
type StatusCounts struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	InProgress int `json:"in_progress"`
	Pending    int `json:"pending"`
}

// CountRecords tallies completed and failed records across a whole result tree.
func CountRecords(records []ResultRecord) StatusCounts {
	var c StatusCounts
	Walk(records, func(_ []string, r ResultRecord) {
		c.Total++
		switch r.Status {
		case TaskStatusCompleted:
			c.Completed++
		case TaskStatusFailed:
			c.Failed++
		}
	})
	return c
}
