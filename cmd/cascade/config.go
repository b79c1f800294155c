package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/cascade/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify cascade configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/cascade/config.yaml
Project-specific overrides can be placed in .cascade.yaml`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
			return nil
		case 1:
			value, err := getConfigValue(cfg, args[0])
			if err != nil {
				return err
			}
			fmt.Println(value)
			return nil
		default:
			if err := setConfigValue(cfg, args[0], args[1]); err != nil {
				return err
			}
			if err := config.Save(cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Printf("Set %s = %s\n", args[0], args[1])
			return nil
		}
	},
}

// displayAllConfig prints all configuration values, sorted by key.
func displayAllConfig(cfg *config.Config) {
	key, source, _ := config.ResolveAPIKey(cfg)
	fmt.Printf("anthropic.api_key: %s (%s)\n", config.MaskAPIKey(key), source)

	settings := cfg.Settings()
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%s: %v\n", k, settings[k])
	}

	if p := config.GetProjectConfigPath(); p != "" {
		fmt.Printf("\nproject config: %s\n", p)
	}
	fmt.Printf("user config: %s\n", config.GetUserConfigPath())
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	key = strings.ToLower(key)
	if key == "anthropic.api_key" {
		k, _, _ := config.ResolveAPIKey(cfg)
		return config.MaskAPIKey(k), nil
	}
	value, ok := cfg.Settings()[key]
	if !ok {
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
	return fmt.Sprint(value), nil
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	key = strings.ToLower(key)

	setInt := func(dst *int) error {
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s must be an integer: %w", key, err)
		}
		*dst = n
		return nil
	}
	setBool := func(dst *bool) error {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s must be true or false: %w", key, err)
		}
		*dst = b
		return nil
	}

	var err error
	switch key {
	case "anthropic.api_key":
		return fmt.Errorf("the API key is not stored by 'config'; set ANTHROPIC_API_KEY instead")
	case "anthropic.model":
		cfg.Anthropic.Model = value
	case "anthropic.max_tokens":
		n, perr := strconv.ParseInt(value, 10, 64)
		if perr != nil {
			return fmt.Errorf("%s must be an integer: %w", key, perr)
		}
		cfg.Anthropic.MaxTokens = n
	case "bedrock.enabled":
		err = setBool(&cfg.Bedrock.Enabled)
	case "bedrock.region":
		cfg.Bedrock.Region = value
	case "bedrock.profile":
		cfg.Bedrock.Profile = value
	case "workers.root":
		err = setInt(&cfg.Workers.Root)
	case "workers.nested":
		err = setInt(&cfg.Workers.Nested)
	case "workers.max_in_flight":
		err = setInt(&cfg.Workers.MaxInFlight)
	case "recursion.max_depth":
		err = setInt(&cfg.Recursion.MaxDepth)
	case "generation.max_attempts":
		err = setInt(&cfg.Generation.MaxAttempts)
	case "generation.strict":
		err = setBool(&cfg.Generation.Strict)
	case "roles.fuzzy_match":
		err = setBool(&cfg.Roles.FuzzyMatch)
	case "timeouts.generation":
		d, perr := time.ParseDuration(value)
		if perr != nil {
			return fmt.Errorf("%s must be a duration: %w", key, perr)
		}
		cfg.Timeouts.Generation = d
	case "prompts.dir":
		cfg.Prompts.Dir = value
	case "output.dir":
		cfg.Output.Dir = value
	case "state.path":
		cfg.State.Path = value
	case "metrics.addr":
		cfg.Metrics.Addr = value
	case "tracing.file":
		cfg.Tracing.File = value
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	if err != nil {
		return err
	}
	return cfg.Validate()
}
