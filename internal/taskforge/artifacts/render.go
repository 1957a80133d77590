package artifacts

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/danshapiro/taskforge/internal/taskforge/issue"
	"github.com/danshapiro/taskforge/internal/taskforge/ledger"
)

// Failure describes why a task stopped.
type Failure struct {
	TaskID    string
	Status    ledger.TaskStatus
	Reason    string
	Iteration int
	Issues    []issue.Issue
}

const maxFailureIssues = 50

func RenderStatus(run *ledger.Run, tasks []ledger.TaskRow, recent []ledger.Event) string {
	var b strings.Builder
	b.WriteString("# Status\n\n")
	fmt.Fprintf(&b, "- Run: `%s`\n", run.ID)
	fmt.Fprintf(&b, "- Status: **%s**\n", run.Status)
	fmt.Fprintf(&b, "- Backend: %s\n", run.BackendID)
	fmt.Fprintf(&b, "- Workspace: %s\n", run.WorkspaceMode)
	fmt.Fprintf(&b, "- Started: %s\n", fmtTime(run.StartedAt))
	if !run.FinishedAt.IsZero() {
		fmt.Fprintf(&b, "- Finished: %s (exit %d)\n", fmtTime(run.FinishedAt), run.ExitCode)
	}
	if run.Reason != "" {
		fmt.Fprintf(&b, "- Reason: %s\n", run.Reason)
	}

	counts := map[ledger.TaskStatus]int{}
	var active *ledger.TaskRow
	for i := range tasks {
		counts[tasks[i].Status]++
		if tasks[i].Status == ledger.TaskRunning {
			active = &tasks[i]
		}
	}
	fmt.Fprintf(&b, "- Tasks: %d done, %d pending, %d blocked, %d error\n",
		counts[ledger.TaskDone], counts[ledger.TaskPending]+counts[ledger.TaskRunning], counts[ledger.TaskBlocked], counts[ledger.TaskError])
	if active != nil {
		fmt.Fprintf(&b, "- Active: `%s` %s (iteration %d)\n", active.TaskID, active.Phase, active.Iteration)
	}

	if len(recent) > 0 {
		b.WriteString("\n## Recent events\n\n")
		for _, ev := range recent {
			task := ""
			if ev.TaskID != "" {
				task = " `" + ev.TaskID + "`"
			}
			fmt.Fprintf(&b, "- %s %s%s: %s\n", ev.TS.Format("15:04:05"), ev.Kind, task, oneLine(ev.Message))
		}
	}
	return b.String()
}

func RenderTasks(tasks []ledger.TaskRow) string {
	var b strings.Builder
	b.WriteString("# Tasks\n\n")
	b.WriteString("| Task | Status | Phase | Iteration | Last error |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, t := range tasks {
		fmt.Fprintf(&b, "| %s | %s | %s | %d | %s |\n", t.TaskID, t.Status, t.Phase, t.Iteration, cell(t.LastError))
	}
	return b.String()
}

func RenderBudget(spend ledger.SpendReport) string {
	var b strings.Builder
	b.WriteString("# Budget\n\n")
	writeSpend(&b, spend)
	return b.String()
}

func writeSpend(b *strings.Builder, spend ledger.SpendReport) {
	fmt.Fprintf(b, "Total: $%.4f, %d tokens, %s, %d iterations\n",
		spend.Total.USD, spend.Total.Tokens, msDuration(spend.Total.WallTimeMS), spend.Total.Iterations)
	spendTable(b, "Task", spend.Tasks, spend.ByTask)
	spendTable(b, "Backend", spend.Backends, spend.ByBackend)
	spendTable(b, "Phase", spend.Phases, spend.ByPhase)
}

func spendTable[K ~string](b *strings.Builder, title string, keys []K, by map[K]ledger.Spend) {
	if len(keys) == 0 {
		return
	}
	fmt.Fprintf(b, "\n| %s | USD | Tokens | Wall time | Iterations |\n", title)
	b.WriteString("|---|---|---|---|---|\n")
	for _, k := range keys {
		u := by[k]
		fmt.Fprintf(b, "| %s | %.4f | %d | %s | %d |\n", k, u.USD, u.Tokens, msDuration(u.WallTimeMS), u.Iterations)
	}
}

// RenderReport is the one-file summary of a run: outcome, tasks, spend and
// the ledger events given.
func RenderReport(run *ledger.Run, tasks []ledger.TaskRow, spend ledger.SpendReport, events []ledger.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Run report `%s`\n\n", run.ID)
	fmt.Fprintf(&b, "- Status: **%s**\n", run.Status)
	fmt.Fprintf(&b, "- Backend: %s\n", run.BackendID)
	fmt.Fprintf(&b, "- Workspace: %s\n", run.WorkspaceMode)
	fmt.Fprintf(&b, "- Started: %s\n", fmtTime(run.StartedAt))
	if !run.FinishedAt.IsZero() {
		fmt.Fprintf(&b, "- Finished: %s (exit %d)\n", fmtTime(run.FinishedAt), run.ExitCode)
	}
	if run.Reason != "" {
		fmt.Fprintf(&b, "- Reason: %s\n", oneLine(run.Reason))
	}

	b.WriteString("\n## Tasks\n\n")
	b.WriteString("| Task | Status | Phase | Iteration | Last error |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, t := range tasks {
		fmt.Fprintf(&b, "| %s | %s | %s | %d | %s |\n", t.TaskID, t.Status, t.Phase, t.Iteration, cell(t.LastError))
	}

	b.WriteString("\n## Spend\n\n")
	writeSpend(&b, spend)

	if len(events) > 0 {
		b.WriteString("\n## Ledger\n\n")
		for _, ev := range events {
			task := ""
			if ev.TaskID != "" {
				task = " `" + ev.TaskID + "`"
			}
			fmt.Fprintf(&b, "- %s %s%s: %s\n", fmtTime(ev.TS), ev.Kind, task, oneLine(ev.Message))
		}
	}
	return b.String()
}

func RenderFailure(f Failure) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Task %s: %s\n\n", f.TaskID, f.Status)
	fmt.Fprintf(&b, "- Reason: %s\n", f.Reason)
	fmt.Fprintf(&b, "- Iteration: %d\n", f.Iteration)
	if len(f.Issues) == 0 {
		return b.String()
	}
	b.WriteString("\n## Last issues\n\n")
	for i, is := range f.Issues {
		if i == maxFailureIssues {
			fmt.Fprintf(&b, "- ... %d more\n", len(f.Issues)-maxFailureIssues)
			break
		}
		fmt.Fprintf(&b, "- %s\n", oneLine(is.String()))
	}
	return b.String()
}

func fmtTime(t ledger.Timestamp) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func msDuration(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).Round(time.Millisecond).String()
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 300 {
		n := 300
		for n > 0 && !utf8.RuneStart(s[n]) {
			n--
		}
		s = s[:n] + "..."
	}
	return s
}

func cell(s string) string {
	return strings.ReplaceAll(oneLine(s), "|", "\\|")
}
