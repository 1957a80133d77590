package backend

import (
	"fmt"
	"strings"

	"github.com/danshapiro/taskforge/internal/taskforge/spec"
)

// BuildPrompt renders the instruction text handed to an agent CLI.
func BuildPrompt(in Input) string {
	t := in.Task
	var b strings.Builder
	fmt.Fprintf(&b, "Task %s: %s\n", t.ID, t.DisplayName())
	fmt.Fprintf(&b, "Iteration: %d\n", in.Iteration)
	if in.Tier != "" {
		fmt.Fprintf(&b, "Budget tier: %s\n", in.Tier)
	}
	if g := strings.TrimSpace(t.Goal); g != "" {
		b.WriteString("\n## Goal\n")
		b.WriteString(g)
		b.WriteString("\n")
	}
	writeContract(&b, t.FilesContract)
	if t.Sprint != nil {
		c := spec.ConstraintsFor(t.Intent())
		b.WriteString("\n## Sprint\n")
		if t.Size() != "" {
			fmt.Fprintf(&b, "- size: %s\n", t.Size())
		}
		if t.Intent() != "" {
			fmt.Fprintf(&b, "- intent: %s\n", t.Intent())
		}
		if !c.RefactorAllowed {
			b.WriteString("- do not refactor code outside the change the goal requires\n")
		}
	}
	if s := strings.TrimSpace(in.ContextPack); s != "" {
		b.WriteString("\n## Context\n")
		b.WriteString(s)
		b.WriteString("\n")
	}
	if s := strings.TrimSpace(in.RepairNotes); s != "" {
		b.WriteString("\n## Repair notes\n")
		b.WriteString(s)
		b.WriteString("\n")
	}
	b.WriteString("\nEdit files in the current directory only. Do not commit.\n")
	return b.String()
}

func writeContract(b *strings.Builder, c *spec.FileContract) {
	if c == nil {
		return
	}
	b.WriteString("\n## File contract\n")
	if len(c.Allowed) > 0 {
		fmt.Fprintf(b, "- allowed: %s\n", strings.Join(c.Allowed, ", "))
	}
	if len(c.Forbidden) > 0 {
		fmt.Fprintf(b, "- forbidden: %s\n", strings.Join(c.Forbidden, ", "))
	}
	if !c.NewFilesAllowed() {
		b.WriteString("- new files are not allowed\n")
	}
}
