package workspace

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/danshapiro/taskforge/internal/taskforge/spec"
)

func boolp(b bool) *bool { return &b }

func TestEvaluateContract(t *testing.T) {
	c := &spec.FileContract{
		Allowed:       []string{"src/**", "README.md"},
		Forbidden:     []string{"src/secret/**", "**/*.lock"},
		AllowNewFiles: boolp(false),
	}
	got := EvaluateContract([]ChangedFile{
		{Path: "src/a/b.go"},
		{Path: "src/secret/key.txt"},
		{Path: "docs/x.md"},
		{Path: "src/new.go", IsNew: true},
		{Path: "src/.hidden/c.go"},
		{Path: "README.md"},
	}, c)
	assert.Equal(t, []Violation{
		{File: "src/secret/key.txt", Reason: ReasonForbidden},
		{File: "docs/x.md", Reason: ReasonNotAllowed},
		{File: "src/new.go", Reason: ReasonNewFileDisallowed},
	}, got)
}

func TestEvaluateContract_DefaultsAllowNewFiles(t *testing.T) {
	got := EvaluateContract([]ChangedFile{{Path: "anything.txt", IsNew: true}}, &spec.FileContract{})
	assert.Empty(t, got)
	assert.Empty(t, EvaluateContract([]ChangedFile{{Path: "x"}}, nil))
}

func TestMatchesAny_DotFilesAndInvalidPatterns(t *testing.T) {
	assert.True(t, MatchesAny(".github/workflows/ci.yml", []string{"**/*.yml"}))
	assert.True(t, MatchesAny(".env", []string{"*"}))
	assert.False(t, MatchesAny("a.go", []string{"[invalid"}))
}

func TestDetectScope(t *testing.T) {
	fix := spec.Task{
		ID:            "t",
		Sprint:        &spec.Sprint{Size: spec.SizeXS, Intent: spec.IntentFix},
		FilesContract: &spec.FileContract{Allowed: []string{"src/**"}},
	}
	got := DetectScope(fix, []ChangedFile{{Path: "unrelated.txt", IsNew: true}})
	assert.Len(t, got, 2)
	assert.Equal(t, "unrelated.txt", got[0].File)
	assert.Contains(t, got[1].Message, "at most 0 new files")

	var many []ChangedFile
	for i := 0; i < 6; i++ {
		many = append(many, ChangedFile{Path: "src/f" + string(rune('a'+i))})
	}
	got = DetectScope(fix, many)
	assert.Len(t, got, 1)
	assert.Contains(t, got[0].Message, "changed 6 files (max 5)")

	refactor := spec.Task{ID: "r", Sprint: &spec.Sprint{Intent: spec.IntentRefactor}}
	assert.Empty(t, DetectScope(refactor, many))
	assert.Empty(t, DetectScope(spec.Task{ID: "plain"}, many))
}
