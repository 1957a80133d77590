package workspace

import (
	"fmt"

	"github.com/danshapiro/taskforge/internal/taskforge/spec"
)

type ScopeViolation struct {
	File    string `json:"file,omitempty"`
	Message string `json:"message"`
}

// DetectScope applies the intent and sprint-size heuristics to a task's
// changed files.
func DetectScope(t spec.Task, changed []ChangedFile) []ScopeViolation {
	var out []ScopeViolation
	if intent := t.Intent(); intent != "" {
		if max := spec.MaxChangedFiles(intent); max != spec.Unlimited && len(changed) > max {
			out = append(out, ScopeViolation{
				Message: fmt.Sprintf("Scope violation: %q intent changed %d files (max %d).", intent, len(changed), max),
			})
		}
		if intent == spec.IntentFix && t.FilesContract != nil && len(t.FilesContract.Allowed) > 0 {
			for _, f := range changed {
				if !MatchesAny(f.Path, t.FilesContract.Allowed) {
					out = append(out, ScopeViolation{
						File:    f.Path,
						Message: fmt.Sprintf("Scope violation: %q intent changed file outside allowed scope: %s", intent, f.Path),
					})
				}
			}
		}
	}
	if size := t.Size(); size != "" {
		var created []string
		for _, f := range changed {
			if f.IsNew {
				created = append(created, f.Path)
			}
		}
		if max := spec.MaxNewFiles(size); max != spec.Unlimited && len(created) > max {
			out = append(out, ScopeViolation{
				Message: fmt.Sprintf("Sprint size %s allows at most %d new files, but found %d.", size, max, len(created)),
			})
		}
	}
	return out
}
