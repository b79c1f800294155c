package output

import (
	"fmt"
	"io"
	"log"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/ShayCichocki/cascade/internal/orchestrator"
	"github.com/ShayCichocki/cascade/pkg/models"
)

// Usage is the token accounting shown at the end of a run.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	Calls        int
	CostUSD      float64
}

// LogRecords logs one line per root record.
func LogRecords(records []models.ResultRecord) {
	for _, r := range records {
		if r.Succeeded() {
			log.Printf("Task %s: %s - Completed", r.TaskID, r.Description)
		} else {
			log.Printf("Task %s: %s - Failed: %s", r.TaskID, r.Description, r.Error)
		}
	}
}

// Summary prints the result tree, stop reasons, and usage to w.
type Summary struct {
	Records []models.ResultRecord
	// Report is the root scheduler report.
	Report orchestrator.Report
	// Nested lists reports of sub-graphs that did not finish.
	Nested      []orchestrator.Report
	Usage       *Usage
	ResultsFile string
}

func okMark() string { return color.GreenString("✓") }
func failMark() string { return color.RedString("✗") }
func warnMark() string { return color.YellowString("!") }

// Print writes the summary.
func (s Summary) Print(w io.Writer) {
	bold := color.New(color.Bold)

	fmt.Fprintln(w)
	bold.Fprintln(w, "Results")
	models.Walk(s.Records, func(path []string, r models.ResultRecord) {
		indent := strings.Repeat("  ", len(path))
		mark := okMark()
		switch {
		case !r.Succeeded():
			mark = failMark()
		case r.Degraded:
			mark = warnMark()
		}
		line := fmt.Sprintf("%s%s %s %s", indent, mark, strings.Join(path, "/"), truncate(r.Description, 70))
		if r.RoleName != "" {
			line += color.New(color.Faint).Sprintf(" [%s]", r.RoleName)
		}
		fmt.Fprintln(w, line)
		if r.Error != "" {
			fmt.Fprintf(w, "%s    %s\n", indent, color.RedString(r.Error))
		}
		for _, warning := range r.Warnings {
			fmt.Fprintf(w, "%s    %s\n", indent, color.YellowString(warning))
		}
	})

	counts := models.CountRecords(s.Records)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Tasks: %d total, %s, %s\n",
		counts.Total,
		color.GreenString("%d completed", counts.Completed),
		color.RedString("%d failed", counts.Failed))

	s.printReport(w, s.Report, true)
	for _, r := range s.Nested {
		s.printReport(w, r, false)
	}

	if s.Usage != nil {
		fmt.Fprintf(w, "Tokens: %d in, %d out over %d calls (est. $%.4f)\n",
			s.Usage.InputTokens, s.Usage.OutputTokens, s.Usage.Calls, s.Usage.CostUSD)
	}
	if s.ResultsFile != "" {
		fmt.Fprintf(w, "Results written to %s\n", s.ResultsFile)
	}
}

func (s Summary) printReport(w io.Writer, r orchestrator.Report, root bool) {
	where := "root graph"
	if !root {
		where = "sub-graph of " + strings.Join(r.Path, "/")
	}
	switch {
	case r.Cancelled:
		fmt.Fprintf(w, "%s %s cancelled; not run: %s\n", warnMark(), where, joinOrNone(r.Remaining))
	case r.Deadlock:
		fmt.Fprintf(w, "%s %s stopped early; not run: %s\n", warnMark(), where, joinOrNone(r.Remaining))
		if r.Cycle {
			fmt.Fprintln(w, "    dependency cycle detected")
		}
		ids := make([]string, 0, len(r.Dangling))
		for id := range r.Dangling {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Fprintf(w, "    %s depends on unknown %s\n", id, strings.Join(r.Dangling[id], ", "))
		}
	}
}

func joinOrNone(ids []string) string {
	if len(ids) == 0 {
		return "none"
	}
	return strings.Join(ids, ", ")
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}
