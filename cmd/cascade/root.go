package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/cascade/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "cascade",
	Short: "Recursive task decomposition and parallel execution",
	Long: `Cascade splits a task into a dependency graph, runs every task as soon as
its prerequisites are done, and recursively decomposes each task into
sub-tasks executed by generated roles. The results of each sub-graph are
reduced back into one answer for the task that produced it.

Configuration is read from ~/.config/cascade/config.yaml, a project
.cascade.yaml and CASCADE_* environment variables.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads the file given with --config, or the layered defaults.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromPath(configPath)
	}
	return config.Load()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: layered user and project config)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
