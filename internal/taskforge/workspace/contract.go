package workspace

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/danshapiro/taskforge/internal/taskforge/spec"
)

type ViolationReason string

const (
	ReasonNewFileDisallowed ViolationReason = "new_file_disallowed"
	ReasonForbidden         ViolationReason = "forbidden"
	ReasonNotAllowed        ViolationReason = "not_allowed"
)

type Violation struct {
	File   string          `json:"file"`
	Reason ViolationReason `json:"reason"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.File, v.Reason)
}

// EvaluateContract checks each changed file against c, reporting at most
// one violation per file: disallowed new file, then forbidden match, then
// absence from a non-empty allow-list.
func EvaluateContract(changed []ChangedFile, c *spec.FileContract) []Violation {
	if c == nil {
		return nil
	}
	var out []Violation
	for _, f := range changed {
		switch {
		case f.IsNew && !c.NewFilesAllowed():
			out = append(out, Violation{File: f.Path, Reason: ReasonNewFileDisallowed})
		case MatchesAny(f.Path, c.Forbidden):
			out = append(out, Violation{File: f.Path, Reason: ReasonForbidden})
		case len(c.Allowed) > 0 && !MatchesAny(f.Path, c.Allowed):
			out = append(out, Violation{File: f.Path, Reason: ReasonNotAllowed})
		}
	}
	return out
}

// MatchesAny reports whether path matches any glob. Leading dots are not
// special. Invalid patterns never match.
func MatchesAny(path string, globs []string) bool {
	for _, g := range globs {
		if ok, err := doublestar.Match(g, path); err == nil && ok {
			return true
		}
	}
	return false
}
