// Package decompose produces role lists and task graphs from natural-language
// task descriptions.
package decompose

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/ShayCichocki/cascade/internal/agent"
	"github.com/ShayCichocki/cascade/pkg/models"
)

// Capability names used in logs and metrics.
const (
	CapabilityRoles  = "roles"
	CapabilitySplit  = "split"
	CapabilityAssign = "assign"
)

// RoleGenerator asks the backend for the roles a task needs.
type RoleGenerator struct {
	retrier *agent.Retrier
	system  string
}

// NewRoleGenerator creates a generator using system as its instructions.
func NewRoleGenerator(r *agent.Retrier, system string) *RoleGenerator {
	return &RoleGenerator{retrier: r, system: system}
}

// Roles returns the roles for task. A response that does not parse counts as
// a failed attempt. On exhaustion it returns an empty list with the error.
func (g *RoleGenerator) Roles(ctx context.Context, task string) ([]models.RoleDefinition, error) {
	var roles []models.RoleDefinition
	_, err := g.retrier.CompleteWith(ctx, agent.CompletionRequest{
		Capability: CapabilityRoles,
		System:     g.system,
		User:       task,
	}, func(text string) error {
		parsed, err := ParseRoles(text)
		if err != nil {
			return err
		}
		roles = parsed
		return nil
	})
	if err != nil {
		return []models.RoleDefinition{}, err
	}
	return roles, nil
}

// Decomposer splits task descriptions into task nodes.
type Decomposer struct {
	retrier      *agent.Retrier
	splitSystem  string
	assignSystem string
}

// New creates a decomposer. splitSystem drives the root split and
// assignSystem drives the role-aware split.
func New(r *agent.Retrier, splitSystem, assignSystem string) *Decomposer {
	return &Decomposer{
		retrier:      r,
		splitSystem:  splitSystem,
		assignSystem: assignSystem,
	}
}

// Split breaks the user's top-level task into the root graph's nodes.
func (d *Decomposer) Split(ctx context.Context, task string) ([]models.TaskNode, error) {
	return d.split(ctx, agent.CompletionRequest{
		Capability: CapabilitySplit,
		System:     d.splitSystem,
		User:       task,
	})
}

// SplitWithRoles breaks task into steps, each assigned to one of roleNames.
func (d *Decomposer) SplitWithRoles(ctx context.Context, task string, roleNames []string) ([]models.TaskNode, error) {
	return d.split(ctx, agent.CompletionRequest{
		Capability: CapabilityAssign,
		System:     d.assignSystem,
		User:       fmt.Sprintf("taks: %s\nrole: %s", task, strings.Join(roleNames, ",")),
	})
}

func (d *Decomposer) split(ctx context.Context, req agent.CompletionRequest) ([]models.TaskNode, error) {
	var nodes []models.TaskNode
	_, err := d.retrier.CompleteWith(ctx, req, func(text string) error {
		parsed, err := ParseTasks(text)
		if err != nil {
			return err
		}
		nodes = parsed
		return nil
	})
	if err != nil {
		return []models.TaskNode{}, err
	}

	// Cycles are left in place; the scheduler reports them as a deadlock.
	if cycleErr := ValidateNoCycles(nodes); cycleErr != nil {
		log.Printf("[decompose] %s: %v", req.Capability, cycleErr)
	}
	return nodes, nil
}
