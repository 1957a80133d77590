package procutil

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
	"unicode/utf8"
)

// DefaultMaxCapture bounds how much of each stream Run keeps in memory.
const DefaultMaxCapture = 1 << 20

// Command describes one subprocess invocation.
type Command struct {
	Dir string
	// Shell, when set, runs through "sh -c" and Name/Args are ignored.
	Shell string
	Name  string
	Args  []string
	// Env is appended to the current environment.
	Env   []string
	Stdin io.Reader
	// Timeout of zero means no timeout beyond the caller's context.
	Timeout time.Duration
	// Stdout and Stderr, when set, receive output as it is produced in
	// addition to the captured copy.
	Stdout io.Writer
	Stderr io.Writer

	MaxCapture int
}

type Result struct {
	Stdout string
	Stderr string
	// ExitCode is -1 when the process was killed or did not exit normally.
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// Combined joins stdout and stderr.
func (r Result) Combined() string {
	switch {
	case r.Stdout == "":
		return r.Stderr
	case r.Stderr == "":
		return r.Stdout
	default:
		return r.Stdout + "\n" + r.Stderr
	}
}

// Run executes c in its own process group. On timeout the whole group is
// killed and the result is marked TimedOut; a non-zero exit is not an
// error. Errors are start failures or cancellation of ctx.
func Run(ctx context.Context, c Command) (Result, error) {
	runCtx := ctx
	cancel := func() {}
	if c.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
	}
	defer cancel()

	name, args := c.Name, c.Args
	if c.Shell != "" {
		name, args = "sh", []string{"-c", c.Shell}
	}
	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	cmd.Stdin = c.Stdin
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 3 * time.Second

	max := c.MaxCapture
	if max <= 0 {
		max = DefaultMaxCapture
	}
	stdout := &tailBuffer{max: max}
	stderr := &tailBuffer{max: max}
	cmd.Stdout = teeTo(stdout, c.Stdout)
	cmd.Stderr = teeTo(stderr, c.Stderr)

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: -1,
		Duration: time.Since(start),
	}
	if cmd.ProcessState == nil {
		return res, err
	}
	res.ExitCode = cmd.ProcessState.ExitCode()
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		res.TimedOut = true
		res.ExitCode = -1
	}
	return res, nil
}

func teeTo(capture io.Writer, extra io.Writer) io.Writer {
	if extra == nil {
		return capture
	}
	return io.MultiWriter(capture, extra)
}

// tailBuffer keeps the last max bytes written to it. String drops a rune
// split by the cut.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf := b.buf
	for n := 0; n < utf8.UTFMax && len(buf) > 0 && !utf8.RuneStart(buf[0]); n++ {
		buf = buf[1:]
	}
	return string(buf)
}
