// Package planfile loads predefined plans: a root task graph and the roles
// that execute it, written as YAML.
//
//	task: Write a market report
//	roles:
//	  - role_name: Analyst
//	    prompt_text: You analyse markets.
//	tasks:
//	  - id: "1"
//	    description: Collect data
//	    role_name: Analyst
//	  - id: "2"
//	    description: Summarize
//	    dependsOn: ["1"]
package planfile

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/cascade/internal/graph"
	"github.com/ShayCichocki/cascade/pkg/models"
)

// ErrEmptyPlan is returned for a plan without tasks.
var ErrEmptyPlan = errors.New("plan has no tasks")

// Plan is a decoded plan file.
type Plan struct {
	// Task is the overall goal. Optional when the CLI supplies it.
	Task  string                  `yaml:"task"`
	Roles []models.RoleDefinition `yaml:"roles"`
	Tasks []models.TaskNode       `yaml:"tasks"`
}

// Load reads and validates a plan file.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan %s: %w", path, err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("plan %s: %w", path, err)
	}
	return p, nil
}

// Parse decodes and validates plan YAML. Unknown fields are rejected.
func Parse(data []byte) (*Plan, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var p Plan
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks task IDs, descriptions and roles, and normalizes role keys
// and dependency lists. Dependencies on unknown IDs and cycles are left to
// the scheduler, which reports them as a deadlock.
func (p *Plan) Validate() error {
	if len(p.Tasks) == 0 {
		return ErrEmptyPlan
	}

	for i := range p.Roles {
		r := &p.Roles[i]
		r.RoleName = strings.TrimSpace(r.RoleName)
		if r.RoleName == "" {
			return fmt.Errorf("role %d: role_name is required", i+1)
		}
		if r.Key == "" {
			r.Key = models.RoleKey(r.RoleName)
		}
	}

	for i := range p.Tasks {
		t := &p.Tasks[i]
		t.ID = strings.TrimSpace(t.ID)
		if t.ID == "" {
			return fmt.Errorf("task %d: id is required", i+1)
		}
		if strings.TrimSpace(t.Description) == "" {
			return fmt.Errorf("task %s: description is required", t.ID)
		}
		if t.DependsOn == nil {
			t.DependsOn = []string{}
		}
	}
	return nil
}

// Graph builds the root task graph.
func (p *Plan) Graph() (*graph.TaskGraph, error) {
	return graph.New(p.Tasks)
}

// Write encodes a plan to path, so that a generated decomposition can be
// reviewed and rerun.
func Write(path string, p *Plan) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write plan %s: %w", path, err)
	}
	return nil
}
