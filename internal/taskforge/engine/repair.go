package engine

import (
	"fmt"
	"strings"

	"github.com/danshapiro/taskforge/internal/taskforge/issue"
)

const maxRepairIssues = 50

// warningConstraints narrow the next attempt once a task is in the warning tier.
var warningConstraints = []string{
	"Fix only failing validators.",
	"Do NOT refactor unrelated code.",
	"Do NOT add new features.",
}

// BuildRepairNotes itemizes the issues of a failed iteration for the next
// backend call.
func BuildRepairNotes(issues []issue.Issue, warning bool) string {
	var b strings.Builder
	b.WriteString("The previous attempt failed. Fix these issues:\n")
	for i, is := range issues {
		if i == maxRepairIssues {
			fmt.Fprintf(&b, "... and %d more\n", len(issues)-maxRepairIssues)
			break
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, strings.TrimSpace(is.String()))
	}
	if warning {
		b.WriteString("\nConstraints:\n")
		for _, c := range warningConstraints {
			b.WriteString("- ")
			b.WriteString(c)
			b.WriteString("\n")
		}
	}
	return b.String()
}
