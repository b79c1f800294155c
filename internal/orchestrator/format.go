package orchestrator

import (
	"fmt"
	"strings"

	"github.com/ShayCichocki/cascade/pkg/models"
)

// FormatDependencyContext renders dependency results as markdown, in the
// order given. It returns an empty string when there are no dependencies.
func FormatDependencyContext(deps []models.ResultRecord) string {
	return formatResults("## Previous Task Results\n\n", deps)
}

// FormatEnclosingContext renders the dependency results of enclosing nodes,
// which a nested node sees as background, under their own heading.
func FormatEnclosingContext(deps []models.ResultRecord) string {
	return formatResults("## Enclosing Task Results\n\n", deps)
}

func formatResults(heading string, deps []models.ResultRecord) string {
	if len(deps) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(heading)
	for _, d := range deps {
		fmt.Fprintf(&b, "### Task %s: %s\n\n", d.TaskID, d.Description)
		fmt.Fprintf(&b, "%s\n\n", d.Result)
		b.WriteString("---\n\n")
	}
	return b.String()
}

// FormatLeaves renders the trailing results of a sub-graph for the reducer.
func FormatLeaves(leaves []models.ResultRecord) string {
	var b strings.Builder
	for _, l := range leaves {
		fmt.Fprintf(&b, "### task: %s \nresult:\n%s \n\n", l.Description, l.Result)
	}
	return b.String()
}

// FindLeaves returns, in input order, the records whose ID no record depends
// on. These are the sub-graph's terminal outputs.
func FindLeaves(records []models.ResultRecord) []models.ResultRecord {
	dependedUpon := make(map[string]bool)
	for _, r := range records {
		for _, dep := range r.DependsOn {
			dependedUpon[dep] = true
		}
	}

	leaves := make([]models.ResultRecord, 0, len(records))
	for _, r := range records {
		if !dependedUpon[r.TaskID] {
			leaves = append(leaves, r)
		}
	}
	return leaves
}
