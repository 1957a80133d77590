package backend

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/danshapiro/taskforge/internal/taskforge/procutil"
	"github.com/danshapiro/taskforge/internal/taskforge/spec"
)

const (
	promptArg  = "{prompt}"
	workdirArg = "{workdir}"
	// maxMessage bounds the output tail carried in Result.Message.
	maxMessage = 2000
)

// Profile is the argv shape of an agent CLI. Placeholders are substituted
// per invocation.
type Profile struct {
	Command string
	Args    []string
}

var profiles = map[string]Profile{
	ClaudeCodeID: {Command: "claude", Args: []string{"--print", promptArg}},
	CursorID:     {Command: "cursor", Args: []string{"agent", "--print", "--output-format", "text", "--workspace", workdirArg, promptArg}},
	OpenCodeID:   {Command: "opencode", Args: []string{"run", "--prompt", promptArg, "--non-interactive"}},
}

var customProfile = Profile{Args: []string{promptArg}}

// CLI runs an agent command-line tool in the task's working directory.
type CLI struct {
	id      string
	profile Profile
	cfg     spec.BackendConfig
	log     *zap.Logger
}

func (c *CLI) ID() string { return c.id }

// Invocation returns the executable and argv for one call.
func (c *CLI) Invocation(workDir, prompt string) (string, []string) {
	exe := c.profile.Command
	if c.cfg.Command != "" {
		exe = c.cfg.Command
	}
	args := append([]string{}, c.cfg.Args...)
	for _, a := range c.profile.Args {
		switch a {
		case promptArg:
			args = append(args, prompt)
		case workdirArg:
			args = append(args, workDir)
		default:
			args = append(args, a)
		}
	}
	return exe, args
}

// Timeout picks the task's hard time budget, then the configured backend
// timeout, then DefaultTimeout.
func (c *CLI) Timeout(t spec.Task) time.Duration {
	if t.Budget != nil && t.Budget.Hard != nil && t.Budget.Hard.TimeMinutes != nil && *t.Budget.Hard.TimeMinutes > 0 {
		return time.Duration(*t.Budget.Hard.TimeMinutes * float64(time.Minute))
	}
	if c.cfg.TimeoutMinutes > 0 {
		return time.Duration(c.cfg.TimeoutMinutes * float64(time.Minute))
	}
	return DefaultTimeout
}

func (c *CLI) Implement(ctx context.Context, env Env, in Input) (Result, error) {
	prompt := BuildPrompt(in)
	exe, args := c.Invocation(env.WorkingDir, prompt)
	if _, err := exec.LookPath(exe); err != nil {
		return Result{}, fmt.Errorf("backend %s: %w", c.id, err)
	}
	timeout := env.Timeout
	if timeout <= 0 {
		timeout = c.Timeout(in.Task)
	}

	transcript, closeTranscript, err := openTranscript(env.TranscriptPath)
	if err != nil {
		return Result{}, fmt.Errorf("backend %s: %w", c.id, err)
	}
	defer closeTranscript()
	_, recorded := c.Invocation(env.WorkingDir, "<prompt>")
	fmt.Fprintf(transcript, "# backend: %s\n# task: %s iteration %d\n# dir: %s\n# argv: %s %s\n# prompt_bytes: %d\n# started: %s\n\n",
		c.id, in.Task.ID, in.Iteration, env.WorkingDir, exe, strings.Join(recorded, " "), len(prompt),
		time.Now().UTC().Format(time.RFC3339))

	pr, pw := io.Pipe()
	var res procutil.Result
	var g errgroup.Group
	g.Go(func() error {
		defer pw.Close()
		var err error
		res, err = procutil.Run(ctx, procutil.Command{
			Dir:     env.WorkingDir,
			Name:    exe,
			Args:    args,
			Timeout: timeout,
			Stdout:  pw,
			Stderr:  pw,
		})
		return err
	})
	g.Go(func() error {
		return drain(pr, transcript, env.Stream)
	})
	if err := g.Wait(); err != nil {
		return Result{}, fmt.Errorf("backend %s: %w", c.id, err)
	}
	fmt.Fprintf(transcript, "\n# exit: %d (%s)\n", res.ExitCode, res.Duration.Round(time.Millisecond))

	c.log.Debug("backend finished",
		zap.String("backend", c.id),
		zap.String("task_id", in.Task.ID),
		zap.Int("iteration", in.Iteration),
		zap.Int("exit_code", res.ExitCode),
		zap.Duration("duration", res.Duration),
	)
	switch {
	case res.TimedOut:
		return Result{OK: false, Message: fmt.Sprintf("%s timed out after %s", exe, timeout)}, nil
	case res.ExitCode != 0:
		return Result{OK: false, Message: fmt.Sprintf("%s exited %d: %s", exe, res.ExitCode, tail(res.Combined(), maxMessage))}, nil
	}
	return Result{OK: true, Message: tail(res.Stdout, maxMessage)}, nil
}

func openTranscript(path string) (io.Writer, func(), error) {
	if path == "" {
		return io.Discard, func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create transcript dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create transcript: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

// drain copies output lines to the transcript with a timestamp prefix, and
// verbatim to stream. It always reads r to EOF so the writer never blocks.
func drain(r io.Reader, transcript, stream io.Writer) error {
	br := bufio.NewReader(r)
	var firstErr error
	for {
		line, err := br.ReadString('\n')
		if line != "" && firstErr == nil {
			if !strings.HasSuffix(line, "\n") {
				line += "\n"
			}
			if _, werr := fmt.Fprintf(transcript, "[%s] %s", time.Now().UTC().Format("15:04:05.000"), line); werr != nil {
				firstErr = fmt.Errorf("write transcript: %w", werr)
			}
			if stream != nil {
				_, _ = io.WriteString(stream, line)
			}
		}
		if errors.Is(err, io.EOF) {
			return firstErr
		}
		if err != nil {
			return err
		}
	}
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	start := len(s) - n
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return "..." + s[start:]
}
