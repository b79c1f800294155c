package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/cascade/internal/state"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List recent runs",
	Long: `List the most recent runs from the run history.

Shows each run's ID, status, start time, task counts and estimated cost.
Use 'cascade show <run-id>' for the full result tree of a run.`,
	RunE: runStatusCmd,
}

func init() {
	statusCmd.Flags().IntVarP(&statusLimit, "limit", "n", 10, "Number of runs to list (0 for all)")
}

// openExistingHistory opens the run history without creating it.
func openExistingHistory() (*state.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	dbPath := cfg.StatePath()
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, nil
	}

	db, err := state.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Ensure schema is up to date
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

func runStatusCmd(cmd *cobra.Command, args []string) error {
	db, err := openExistingHistory()
	if err != nil {
		return err
	}
	if db == nil {
		fmt.Println("No runs recorded. Run 'cascade run <task>' to start.")
		return nil
	}
	defer db.Close()

	runs, err := db.ListRuns(statusLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded. Run 'cascade run <task>' to start.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tSTARTED\tDURATION\tTASKS\tCOST\tTASK")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t$%.4f\t%s\n",
			shortID(r.ID),
			colorStatus(r.Status),
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			formatDuration(r),
			r.Counts.Completed, r.Counts.Total,
			r.CostUSD,
			truncateTask(r.Task, 50))
	}
	return w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func colorStatus(s state.RunStatus) string {
	switch s {
	case state.RunCompleted:
		return color.GreenString(string(s))
	case state.RunPartial, state.RunCancelled:
		return color.YellowString(string(s))
	case state.RunFailed:
		return color.RedString(string(s))
	default:
		return color.CyanString(string(s))
	}
}

func formatDuration(r state.Run) string {
	if r.FinishedAt == nil {
		return "-"
	}
	return r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
}

func truncateTask(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}
