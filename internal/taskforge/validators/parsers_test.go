package validators

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danshapiro/taskforge/internal/taskforge/issue"
)

func TestParseTsc(t *testing.T) {
	out := "src/foo.ts(12,3): error TS2322: Type 'x' is not assignable.\n" +
		"src/bar.ts(1,1): warning TS6133: 'y' is declared but never used.\n" +
		"Found 2 errors.\n"
	issues := Parser("tsc")(out, true)
	require.Len(t, issues, 2)
	assert.Equal(t, "src/foo.ts", issues[0].File)
	assert.Equal(t, 12, issues[0].Line)
	assert.Equal(t, issue.LevelError, issues[0].Level)
	assert.Equal(t, "Type 'x' is not assignable.", issues[0].Message)
	assert.Equal(t, issue.LevelWarning, issues[1].Level)
}

func TestParseTsc_NoMatchesFallsBackWhenFailed(t *testing.T) {
	issues := Parser("tsc")("something odd", true)
	require.Len(t, issues, 1)
	assert.Equal(t, "tsc", issues[0].Kind)
	assert.Empty(t, Parser("tsc")("something odd", false))
}

func TestParseEslint(t *testing.T) {
	out := `[{"filePath":"/r/a.js","messages":[
		{"ruleId":"no-unused-vars","severity":2,"message":"'x' is unused","line":3,"column":7},
		{"ruleId":null,"severity":1,"message":"style","line":9,"column":1}]}]`
	issues := Parser("eslint")(out, true)
	require.Len(t, issues, 2)
	assert.Equal(t, "'x' is unused (no-unused-vars)", issues[0].Message)
	assert.Equal(t, issue.LevelError, issues[0].Level)
	assert.Equal(t, "style", issues[1].Message)
	assert.Equal(t, issue.LevelWarning, issues[1].Level)
	assert.Equal(t, 9, issues[1].Line)
}

func TestParseEslint_InvalidJSON(t *testing.T) {
	issues := Parser("eslint")("not json", true)
	require.Len(t, issues, 1)
	assert.Equal(t, "not json", issues[0].Message)
}

func TestParseJest(t *testing.T) {
	assert.Empty(t, Parser("jest")("PASS all", false))
	issues := Parser("jest")("FAIL src/a.test.ts", true)
	require.Len(t, issues, 1)
	assert.Equal(t, "jest", issues[0].Kind)
}

func TestParseGo(t *testing.T) {
	out := "# example.com/pkg\n./pkg/file.go:12:3: undefined: foo\n    other_test.go:40: expected 1, got 2\nFAIL\n"
	issues := Parser("go")(out, true)
	require.Len(t, issues, 2)
	assert.Equal(t, "pkg/file.go", issues[0].File)
	assert.Equal(t, 12, issues[0].Line)
	assert.Equal(t, "undefined: foo", issues[0].Message)
	assert.Equal(t, "other_test.go", issues[1].File)
	assert.Equal(t, 40, issues[1].Line)
}

func TestParseGeneric_Truncates(t *testing.T) {
	long := strings.Repeat("x", MaxIssueMessage+100)
	issues := Parser("")(long, true)
	require.Len(t, issues, 1)
	assert.Len(t, issues[0].Message, MaxIssueMessage)
	assert.Empty(t, Parser("whatever")("noise", false))
}

func TestTruncate_KeepsRuneBoundary(t *testing.T) {
	// One ASCII byte shifts every two-byte rune across the cut.
	s := "x" + strings.Repeat("é", MaxIssueMessage)
	got := truncate(s)
	assert.True(t, utf8.ValidString(got))
	assert.Len(t, got, MaxIssueMessage-1)
	assert.Equal(t, "short", truncate("short"))
}
