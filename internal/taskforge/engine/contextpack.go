package engine

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/danshapiro/taskforge/internal/taskforge/issue"
	"github.com/danshapiro/taskforge/internal/taskforge/spec"
	"github.com/danshapiro/taskforge/internal/taskforge/validators"
)

// MaxShrunkOutput bounds the validator output carried by a shrunk pack.
const MaxShrunkOutput = 8000

// attempt is what one iteration left behind for the next one.
type attempt struct {
	results map[string]validators.Result
	issues  []issue.Issue
}

// fullContextPack lists the checks the work must pass and, from the second
// iteration, what failed last time.
func fullContextPack(vs []spec.Validator, prev *attempt) string {
	var b strings.Builder
	if len(vs) > 0 {
		b.WriteString("Validators that must pass:\n")
		for _, v := range vs {
			fmt.Fprintf(&b, "- %s: `%s`\n", v.ID, v.Run)
		}
	}
	if prev != nil && len(prev.issues) > 0 {
		b.WriteString("\nPrevious failures:\n")
		for i, is := range prev.issues {
			if i == maxRepairIssues {
				break
			}
			fmt.Fprintf(&b, "- %s\n", is.String())
		}
	}
	return b.String()
}

// shrunkContextPack carries only the tail of failing validator output and
// the files the issues point at.
func shrunkContextPack(vs []spec.Validator, prev *attempt) string {
	if prev == nil {
		return ""
	}
	var b strings.Builder
	remaining := MaxShrunkOutput
	for _, v := range vs {
		r, ok := prev.results[v.ID]
		if !ok || r.OK || remaining <= 0 {
			continue
		}
		out := strings.TrimSpace(r.Output())
		if len(out) > remaining {
			start := len(out) - remaining
			for start < len(out) && !utf8.RuneStart(out[start]) {
				start++
			}
			out = out[start:]
		}
		remaining -= len(out)
		fmt.Fprintf(&b, "Failing validator %s:\n%s\n\n", v.ID, out)
	}
	if files := issue.Files(prev.issues); len(files) > 0 {
		fmt.Fprintf(&b, "Files involved: %s\n", strings.Join(files, ", "))
	}
	return b.String()
}
