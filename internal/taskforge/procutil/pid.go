// Package procutil runs bounded subprocesses and inspects process liveness.
package procutil

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
)

// PIDAlive reports whether pid names a running process. Zombies count as
// dead: a run whose owner exited but was never reaped did not finish.
func PIDAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if st, ok := processState(pid); ok && (st == 'Z' || st == 'X') {
		return false
	}
	// EPERM means the process exists but belongs to another user.
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// processState returns the one-letter scheduler state of pid, from procfs
// when mounted and from ps otherwise.
func processState(pid int) (byte, bool) {
	if b, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid)); err == nil {
		// The command name may contain spaces and parens; the state follows
		// the last ')'.
		s := string(b)
		i := strings.LastIndexByte(s, ')')
		if i < 0 || i+2 >= len(s) {
			return 0, false
		}
		return s[i+2], true
	} else if _, statErr := os.Stat("/proc/self/stat"); statErr == nil {
		return 0, false
	}
	out, err := exec.Command("ps", "-o", "state=", "-p", strconv.Itoa(pid)).Output()
	if err != nil {
		return 0, false
	}
	st := strings.TrimSpace(string(out))
	if st == "" {
		return 0, false
	}
	return st[0], true
}
