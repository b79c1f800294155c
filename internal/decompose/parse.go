package decompose

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/ShayCichocki/cascade/pkg/models"
)

// ErrNoJSONArray is returned when a response holds no JSON array.
var ErrNoJSONArray = errors.New("no valid JSON array found in response")

// extractArray returns the slice of response from the first '[' to the last ']'.
func extractArray(response string) ([]byte, error) {
	start := strings.Index(response, "[")
	end := strings.LastIndex(response, "]")
	if start == -1 || end == -1 || end <= start {
		preview := response
		if len(preview) > 500 {
			preview = preview[:500] + "... (truncated)"
		}
		return nil, fmt.Errorf("%w (got %d chars): %q", ErrNoJSONArray, len(response), preview)
	}
	return []byte(response[start : end+1]), nil
}

// flexID accepts both JSON strings and numbers.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("task id must be a string or number: %s", data)
	}
	*f = flexID(n.String())
	return nil
}

type rawTask struct {
	ID          flexID   `json:"id"`
	Description string   `json:"description"`
	RoleName    string   `json:"role_name"`
	DependsOn   []flexID `json:"dependsOn"`
}

type rawRole struct {
	RoleName   string `json:"role_name"`
	PromptText string `json:"prompt_text"`
}

// ParseTasks parses a split response into task nodes. Nodes without an id
// get their 1-based position. Duplicate ids and empty lists are errors so
// that the response is retried.
//
// Dependencies are kept as given. References to unknown ids are not an
// error here; they surface when the graph runs.
func ParseTasks(response string) ([]models.TaskNode, error) {
	data, err := extractArray(response)
	if err != nil {
		return nil, err
	}

	var raw []rawTask
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal JSON: %w", err)
	}
	if len(raw) == 0 {
		return nil, errors.New("empty task list returned")
	}

	seen := make(map[string]bool, len(raw))
	nodes := make([]models.TaskNode, 0, len(raw))
	for i, rt := range raw {
		id := string(rt.ID)
		if id == "" {
			id = strconv.Itoa(i + 1)
		}
		if seen[id] {
			return nil, fmt.Errorf("duplicate task id %q", id)
		}
		seen[id] = true

		desc := strings.TrimSpace(rt.Description)
		if desc == "" {
			return nil, fmt.Errorf("task %q has no description", id)
		}

		deps := make([]string, 0, len(rt.DependsOn))
		for _, d := range rt.DependsOn {
			if d != "" {
				deps = append(deps, string(d))
			}
		}

		nodes = append(nodes, models.TaskNode{
			ID:           id,
			Description:  desc,
			DependsOn:    deps,
			AssignedRole: strings.TrimSpace(rt.RoleName),
		})
	}
	return nodes, nil
}

// ParseRoles parses a role generation response. Every role gets a stable key
// derived from its name. Roles whose key repeats an earlier one are dropped.
func ParseRoles(response string) ([]models.RoleDefinition, error) {
	data, err := extractArray(response)
	if err != nil {
		return nil, err
	}

	var raw []rawRole
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal JSON: %w", err)
	}

	roles := make([]models.RoleDefinition, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for i, rr := range raw {
		name := strings.TrimSpace(rr.RoleName)
		if name == "" {
			return nil, fmt.Errorf("role %d has no role_name", i+1)
		}
		key := models.RoleKey(name)
		if key == "" {
			return nil, fmt.Errorf("role name %q has no usable characters", name)
		}
		if seen[key] {
			log.Printf("[decompose] dropping duplicate role %q", name)
			continue
		}
		seen[key] = true
		roles = append(roles, models.RoleDefinition{
			Key:        key,
			RoleName:   name,
			PromptText: rr.PromptText,
		})
	}
	return roles, nil
}

// ValidateNoCycles checks that there are no circular dependencies among nodes.
// Dependencies on ids outside the list are ignored.
func ValidateNoCycles(nodes []models.TaskNode) error {
	byID := make(map[string]models.TaskNode, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	state := make(map[string]int) // 0=unvisited, 1=visiting, 2=visited

	var visit func(id string, path []string) error
	visit = func(id string, path []string) error {
		if state[id] == 2 {
			return nil
		}
		if state[id] == 1 {
			cycleStart := 0
			for i, p := range path {
				if p == id {
					cycleStart = i
					break
				}
			}
			cycle := append(path[cycleStart:], id)
			return fmt.Errorf("circular dependency detected: %s", strings.Join(cycle, " -> "))
		}

		state[id] = 1
		if n, ok := byID[id]; ok {
			for _, depID := range n.DependsOn {
				if _, known := byID[depID]; !known {
					continue
				}
				if err := visit(depID, append(path, id)); err != nil {
					return err
				}
			}
		}
		state[id] = 2
		return nil
	}

	for _, n := range nodes {
		if state[n.ID] == 0 {
			if err := visit(n.ID, nil); err != nil {
				return err
			}
		}
	}
	return nil
}
