// Package backend defines the code-generation collaborator the engine drives
// once per iteration, plus the built-in implementations.
package backend

import (
	"context"
	"io"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/danshapiro/taskforge/internal/taskforge/spec"
)

const (
	NoopID       = "noop"
	ClaudeCodeID = "claude-code"
	CursorID     = "cursor"
	OpenCodeID   = "opencode"
)

// DefaultTimeout bounds a backend invocation when neither the task nor the
// backend configuration says otherwise.
const DefaultTimeout = 10 * time.Minute

// Env is where and how an invocation runs.
type Env struct {
	WorkingDir string
	BackendID  string
	// TranscriptPath receives the invocation log. Empty disables it.
	TranscriptPath string
	// Stream, when set, receives output lines as they arrive.
	Stream  io.Writer
	Timeout time.Duration
}

// Input is what the backend is asked to do.
type Input struct {
	Task        spec.Task
	Iteration   int
	RepairNotes string
	ContextPack string
	// Tier is the task's budget tier at invocation time.
	Tier string
}

// Result is the backend's own report. OK=false is a backend-reported
// failure; the engine treats it the same as a returned error.
type Result struct {
	OK              bool
	Message         string
	EstimatedUSD    float64
	EstimatedTokens int64
}

type Backend interface {
	ID() string
	Implement(ctx context.Context, env Env, in Input) (Result, error)
}

// New resolves a backend id. Configured entries in cfgs override the built-in
// CLI profiles or define custom ones; an id that is neither built in nor
// configured falls back to the noop backend.
func New(id string, cfgs map[string]spec.BackendConfig, log *zap.Logger) Backend {
	if log == nil {
		log = zap.NewNop()
	}
	if id == "" || id == NoopID {
		return Noop{}
	}
	cfg, configured := cfgs[id]
	p, builtin := profiles[id]
	switch {
	case builtin:
	case configured && cfg.Command != "":
		p = customProfile
	default:
		log.Warn("unknown backend; using noop", zap.String("backend", id), zap.Strings("known", Known()))
		return Noop{}
	}
	return &CLI{id: id, profile: p, cfg: cfg, log: log}
}

// Known lists the built-in backend ids.
func Known() []string {
	out := []string{NoopID}
	for id := range profiles {
		out = append(out, id)
	}
	sort.Strings(out[1:])
	return out
}
