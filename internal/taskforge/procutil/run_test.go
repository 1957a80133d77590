package procutil

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestRun_CapturesOutputAndExitCode(t *testing.T) {
	res, err := Run(context.Background(), Command{Shell: "echo out; echo err 1>&2; exit 3"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Stdout != "out\n" || res.Stderr != "err\n" {
		t.Fatalf("stdout=%q stderr=%q", res.Stdout, res.Stderr)
	}
	if res.ExitCode != 3 || res.TimedOut {
		t.Fatalf("exit=%d timedOut=%v", res.ExitCode, res.TimedOut)
	}
	if got := res.Combined(); got != "out\n\nerr\n" {
		t.Fatalf("combined=%q", got)
	}
}

func TestRun_UsesDirAndEnv(t *testing.T) {
	dir := t.TempDir()
	res, err := Run(context.Background(), Command{
		Dir:   dir,
		Shell: `pwd; echo "$TF_MARK"`,
		Env:   []string{"TF_MARK=hello"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Stdout, "hello") || !strings.Contains(res.Stdout, filepath.Base(dir)) {
		t.Fatalf("stdout=%q", res.Stdout)
	}
}

func TestRun_TimeoutKillsProcessGroup(t *testing.T) {
	start := time.Now()
	res, err := Run(context.Background(), Command{
		Shell:   "sleep 30 & sleep 30; echo never",
		Timeout: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.TimedOut || res.ExitCode != -1 {
		t.Fatalf("timedOut=%v exit=%d", res.TimedOut, res.ExitCode)
	}
	if strings.Contains(res.Stdout, "never") {
		t.Fatal("command ran past its timeout")
	}
	if elapsed := time.Since(start); elapsed >= 10*time.Second {
		t.Fatalf("timeout took %s", elapsed)
	}
}

func TestRun_StartFailure(t *testing.T) {
	if _, err := Run(context.Background(), Command{Name: "definitely-not-a-real-binary-xyz"}); err == nil {
		t.Fatal("expected start error")
	}
}

func TestRun_TeesOutput(t *testing.T) {
	var live bytes.Buffer
	res, err := Run(context.Background(), Command{Shell: "echo streamed", Stdout: &live})
	if err != nil {
		t.Fatal(err)
	}
	if live.String() != "streamed\n" || res.Stdout != live.String() {
		t.Fatalf("live=%q captured=%q", live.String(), res.Stdout)
	}
}

func TestRun_CaptureKeepsTail(t *testing.T) {
	res, err := Run(context.Background(), Command{
		Shell:      "printf 'aaaaaaaaaabbbbb'",
		MaxCapture: 5,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Stdout != "bbbbb" {
		t.Fatalf("stdout=%q", res.Stdout)
	}
}

func TestTailBuffer_DropsSplitRune(t *testing.T) {
	b := &tailBuffer{max: 5}
	if _, err := b.Write([]byte("xxéééé")); err != nil {
		t.Fatal(err)
	}
	// The last 5 bytes start in the middle of an é.
	got := b.String()
	if !utf8.ValidString(got) || got != "éé" {
		t.Fatalf("got %q", got)
	}
}

func TestPIDAlive(t *testing.T) {
	if !PIDAlive(os.Getpid()) {
		t.Fatal("self should be alive")
	}
	if PIDAlive(0) || PIDAlive(-5) {
		t.Fatal("non-positive pids are never alive")
	}

	cmd := exec.Command("true")
	if err := cmd.Run(); err != nil {
		t.Fatal(err)
	}
	if PIDAlive(cmd.ProcessState.Pid()) {
		t.Fatal("reaped child reported alive")
	}

	st, ok := processState(os.Getpid())
	if !ok {
		t.Fatal("no state for self")
	}
	if st == 'Z' || st == 'X' {
		t.Fatalf("self state=%c", st)
	}
}
