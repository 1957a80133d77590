package validators

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/danshapiro/taskforge/internal/taskforge/issue"
)

// MaxIssueMessage bounds messages that carry raw tool output.
const MaxIssueMessage = 4000

// ParseFunc turns combined validator output into issues. failed reports
// whether the command exited unsuccessfully.
type ParseFunc func(output string, failed bool) []issue.Issue

var parsers = map[string]ParseFunc{
	"tsc":    parseTsc,
	"eslint": parseEslint,
	"jest":   parseJest,
	"go":     parseGo,
}

// Parser returns the parser registered for kind, or the generic fallback.
func Parser(kind string) ParseFunc {
	if p, ok := parsers[strings.ToLower(strings.TrimSpace(kind))]; ok {
		return p
	}
	return parseGeneric
}

func truncate(s string) string {
	if len(s) <= MaxIssueMessage {
		return s
	}
	n := MaxIssueMessage
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func parseGeneric(output string, failed bool) []issue.Issue {
	out := strings.TrimSpace(output)
	if out == "" || !failed {
		return nil
	}
	return []issue.Issue{{Kind: issue.KindUnknown, Level: issue.LevelError, Message: truncate(out)}}
}

// src/foo.ts(12,3): error TS2322: Type 'x' is not assignable...
var tscLineRe = regexp.MustCompile(`^([^:(]+)\((\d+),(\d+)\):\s+(error|warning)\s+TS\d+:\s+(.*)$`)

func parseTsc(output string, failed bool) []issue.Issue {
	var issues []issue.Issue
	for _, line := range strings.Split(output, "\n") {
		m := tscLineRe.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[2])
		lvl := issue.LevelError
		if m[4] == "warning" {
			lvl = issue.LevelWarning
		}
		issues = append(issues, issue.Issue{
			Kind:    "tsc",
			Level:   lvl,
			Message: strings.TrimSpace(m[5]),
			File:    strings.TrimSpace(m[1]),
			Line:    n,
			Raw:     map[string]any{"line": line},
		})
	}
	if len(issues) == 0 && failed && strings.TrimSpace(output) != "" {
		issues = append(issues, issue.Issue{Kind: "tsc", Level: issue.LevelError, Message: truncate(strings.TrimSpace(output))})
	}
	return issues
}

type eslintFile struct {
	FilePath string `json:"filePath"`
	Messages []struct {
		RuleID   *string `json:"ruleId"`
		Severity int     `json:"severity"`
		Message  string  `json:"message"`
		Line     int     `json:"line"`
		Column   int     `json:"column"`
	} `json:"messages"`
}

func parseEslint(output string, failed bool) []issue.Issue {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return nil
	}
	var files []eslintFile
	if err := json.Unmarshal([]byte(trimmed), &files); err != nil {
		if !failed {
			return nil
		}
		return []issue.Issue{{Kind: "eslint", Level: issue.LevelError, Message: truncate(trimmed)}}
	}
	var issues []issue.Issue
	for _, f := range files {
		for _, m := range f.Messages {
			msg := m.Message
			if m.RuleID != nil && *m.RuleID != "" {
				msg += " (" + *m.RuleID + ")"
			}
			lvl := issue.LevelError
			if m.Severity == 1 {
				lvl = issue.LevelWarning
			}
			issues = append(issues, issue.Issue{
				Kind:    "eslint",
				Level:   lvl,
				Message: msg,
				File:    f.FilePath,
				Line:    m.Line,
				Raw:     map[string]any{"column": m.Column},
			})
		}
	}
	return issues
}

func parseJest(output string, failed bool) []issue.Issue {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" || !failed {
		return nil
	}
	return []issue.Issue{{Kind: "jest", Level: issue.LevelError, Message: truncate(trimmed)}}
}

// ./pkg/file.go:12:3: undefined: foo
var goLineRe = regexp.MustCompile(`^(?:\s*)([^\s:][^:]*\.go):(\d+)(?::\d+)?:\s+(.*)$`)

// parseGo reads compiler, vet and test-failure lines of the form
// file.go:line[:col]: message.
func parseGo(output string, failed bool) []issue.Issue {
	var issues []issue.Issue
	for _, line := range strings.Split(output, "\n") {
		m := goLineRe.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[2])
		issues = append(issues, issue.Issue{
			Kind:    "go",
			Level:   issue.LevelError,
			Message: strings.TrimSpace(m[3]),
			File:    strings.TrimPrefix(m[1], "./"),
			Line:    n,
		})
	}
	if len(issues) == 0 && failed && strings.TrimSpace(output) != "" {
		issues = append(issues, issue.Issue{Kind: "go", Level: issue.LevelError, Message: truncate(strings.TrimSpace(output))})
	}
	return issues
}
