package main

import (
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/ShayCichocki/cascade/internal/agent"
	"github.com/ShayCichocki/cascade/internal/api"
	"github.com/ShayCichocki/cascade/internal/config"
	"github.com/ShayCichocki/cascade/internal/decompose"
	"github.com/ShayCichocki/cascade/internal/observability"
	"github.com/ShayCichocki/cascade/internal/orchestrator"
	"github.com/ShayCichocki/cascade/internal/prompts"
	"github.com/ShayCichocki/cascade/internal/reduce"
)

// newBackend creates the Anthropic client described by cfg.
func newBackend(cfg *config.Config) (*api.Client, error) {
	key, _, err := config.ResolveAPIKey(cfg)
	if err != nil {
		return nil, err
	}

	client, err := api.NewClient(api.ClientConfig{
		Model:         anthropic.Model(cfg.Anthropic.Model),
		APIKey:        key,
		MaxTokens:     cfg.Anthropic.MaxTokens,
		UseAWSBedrock: cfg.Bedrock.Enabled,
		AWSRegion:     cfg.Bedrock.Region,
		AWSProfile:    cfg.Bedrock.Profile,
	})
	if err != nil {
		return nil, fmt.Errorf("create API client: %w", err)
	}
	return client, nil
}

// newCapabilities wires every generation step to one shared retrier, so the
// in-flight ceiling holds across all levels of the run.
func newCapabilities(c agent.Completer, set prompts.Set, cfg *config.Config, metrics *observability.Metrics) orchestrator.Capabilities {
	r := agent.NewRetrier(c,
		agent.WithMaxAttempts(cfg.Generation.MaxAttempts),
		agent.WithCallTimeout(cfg.Timeouts.Generation),
		agent.WithCeiling(int64(cfg.Workers.MaxInFlight)),
		agent.WithMetrics(metrics),
	)

	splitter := decompose.New(r, set.Get(prompts.TaskSplit), set.Get(prompts.TaskJx))
	return orchestrator.Capabilities{
		Roles:        decompose.NewRoleGenerator(r, set.Get(prompts.RoleSystem)),
		Root:         splitter,
		Splitter:     splitter,
		Reducer:      reduce.New(r),
		Deliverables: agent.NewDeliverableWriter(r, set.Get(prompts.TaskResult)),
		Generator:    agent.NewTextGenerator(r),
	}
}
