// Package issue normalizes validator and policy failures into comparable
// signatures.
package issue

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
)

type Level string

const (
	LevelError   Level = "error"
	LevelWarning Level = "warning"
)

const (
	KindContractViolation = "contract_violation"
	KindScopeViolation    = "scope_violation"
	KindUnknown           = "unknown"
)

type Issue struct {
	Kind    string `json:"kind"`
	Level   Level  `json:"level"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Raw     any    `json:"raw,omitempty"`
}

func (i Issue) String() string {
	loc := ""
	if i.File != "" {
		loc = i.File
		if i.Line > 0 {
			loc = fmt.Sprintf("%s:%d", i.File, i.Line)
		}
		loc += ": "
	}
	return fmt.Sprintf("[%s/%s] %s%s", i.Kind, i.Level, loc, i.Message)
}

// Signature is kind|file|line|message with whitespace collapsed.
func Signature(i Issue) string {
	line := ""
	if i.Line > 0 {
		line = fmt.Sprint(i.Line)
	}
	return strings.Join([]string{i.Kind, i.File, line, normalize(i.Message)}, "|")
}

func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// SignatureSet returns the sorted, de-duplicated signatures of issues.
func SignatureSet(issues []Issue) []string {
	seen := make(map[string]bool, len(issues))
	out := make([]string, 0, len(issues))
	for _, i := range issues {
		s := Signature(i)
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Digest is a short blake3 fingerprint of a signature set.
func Digest(sigs []string) string {
	h := blake3.New()
	for _, s := range sigs {
		_, _ = h.Write([]byte(s))
		_, _ = h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)[:8])
}

// HasErrors reports whether any issue is at error level.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Level == LevelError {
			return true
		}
	}
	return false
}

// Files lists the distinct files referenced by issues, in first-seen order.
func Files(issues []Issue) []string {
	seen := map[string]bool{}
	var out []string
	for _, i := range issues {
		if i.File == "" || seen[i.File] {
			continue
		}
		seen[i.File] = true
		out = append(out, i.File)
	}
	return out
}
