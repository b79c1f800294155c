package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/cascade/internal/orchestrator"
	"github.com/ShayCichocki/cascade/internal/output"
	"github.com/ShayCichocki/cascade/internal/state"
)

var showJSON bool

var showCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the results of a run",
	Long: `Show the result tree of a recorded run. The run ID may be abbreviated
to any unique prefix, as printed by 'cascade status'.`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

func init() {
	showCmd.Flags().BoolVar(&showJSON, "json", false, "Print the results as JSON")
}

func runShow(cmd *cobra.Command, args []string) error {
	db, err := openExistingHistory()
	if err != nil {
		return err
	}
	if db == nil {
		return fmt.Errorf("no runs recorded")
	}
	defer db.Close()

	run, err := findRun(db, args[0])
	if err != nil {
		return err
	}

	records, err := db.GetResults(run.ID)
	if err != nil {
		return err
	}

	if showJSON {
		data, err := output.EncodeResults(records)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	}

	fmt.Printf("Run %s (%s)\n", run.ID, colorStatus(run.Status))
	fmt.Printf("Task: %s\n", run.Task)

	root, nested := splitReports(run.Report)
	output.Summary{
		Records:     records,
		Report:      root,
		Nested:      nested,
		Usage:       &output.Usage{InputTokens: run.InputTokens, OutputTokens: run.OutputTokens, CostUSD: run.CostUSD},
		ResultsFile: run.ResultsFile,
	}.Print(os.Stdout)
	return nil
}

// findRun resolves an exact ID or a unique ID prefix.
func findRun(db state.RunStore, id string) (*state.Run, error) {
	run, err := db.GetRun(id)
	if err != nil {
		return nil, err
	}
	if run != nil {
		return run, nil
	}

	runs, err := db.ListRuns(0)
	if err != nil {
		return nil, err
	}
	var matches []state.Run
	for _, r := range runs {
		if strings.HasPrefix(r.ID, id) {
			matches = append(matches, r)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("run %q not found", id)
	case 1:
		return &matches[0], nil
	default:
		return nil, fmt.Errorf("run ID %q is ambiguous (%d matches)", id, len(matches))
	}
}

// splitReports decodes stored reports into the root report and the
// incomplete nested ones.
func splitReports(data json.RawMessage) (orchestrator.Report, []orchestrator.Report) {
	var reports []orchestrator.Report
	if len(data) == 0 || json.Unmarshal(data, &reports) != nil || len(reports) == 0 {
		return orchestrator.Report{}, nil
	}

	var root orchestrator.Report
	var nested []orchestrator.Report
	for _, r := range reports {
		switch {
		case r.Depth == 0:
			root = r
		case !r.Complete():
			nested = append(nested, r)
		}
	}
	return root, nested
}
