package gitutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// CommandTimeout bounds every git invocation.
var CommandTimeout = 2 * time.Minute

const (
	fallbackName  = "taskforge"
	fallbackEmail = "taskforge@local"
)

type CommandError struct {
	Args   []string
	Stdout string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += ": " + strings.TrimSpace(e.Stderr)
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

func runGit(dir string, args ...string) (string, string, error) {
	// Background maintenance would spawn helpers during frequent checkpoints.
	// Paths are read verbatim; quoting would hide non-ASCII names from globs.
	base := []string{
		"-C", dir,
		"-c", "maintenance.auto=0",
		"-c", "gc.auto=0",
		"-c", "core.quotePath=false",
	}
	ctx, cancel := context.WithTimeout(context.Background(), CommandTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", append(base, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	outStr := stdout.String()
	errStr := stderr.String()
	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("timed out after %s: %w", CommandTimeout, err)
		}
		return outStr, errStr, &CommandError{Args: args, Stdout: outStr, Stderr: errStr, Err: err}
	}
	return outStr, errStr, nil
}

func IsRepo(dir string) bool {
	out, _, err := runGit(dir, "rev-parse", "--is-inside-work-tree")
	if err != nil {
		return false
	}
	return strings.TrimSpace(out) == "true"
}

func HeadSHA(dir string) (string, error) {
	out, _, err := runGit(dir, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func CurrentBranch(dir string) (string, error) {
	out, _, err := runGit(dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// StatusPaths lists paths reported by "git status --porcelain", untracked
// directories collapsed the way git reports them. Renames report the new path.
func StatusPaths(dir string) ([]string, error) {
	out, _, err := runGit(dir, "status", "--porcelain", "-z")
	if err != nil {
		return nil, err
	}
	var paths []string
	fields := splitNUL(out)
	for i := 0; i < len(fields); i++ {
		entry := fields[i]
		if len(entry) < 4 {
			continue
		}
		paths = append(paths, entry[3:])
		// With -z the source of a rename or copy follows as its own field.
		if entry[0] == 'R' || entry[0] == 'C' {
			i++
		}
	}
	return paths, nil
}

// splitNUL splits NUL-terminated git output, dropping the empty tail.
func splitNUL(out string) []string {
	out = strings.TrimSuffix(out, "\x00")
	if out == "" {
		return nil
	}
	return strings.Split(out, "\x00")
}

// AddWorktree creates branch at baseSHA and checks it out in worktreeDir.
func AddWorktree(repoDir, worktreeDir, branch, baseSHA string) error {
	_, _, err := runGit(repoDir, "worktree", "add", "-b", branch, worktreeDir, baseSHA)
	return err
}

func RemoveWorktree(repoDir, worktreeDir string) error {
	_, _, err := runGit(repoDir, "worktree", "remove", "--force", worktreeDir)
	return err
}

func DeleteBranch(repoDir, branch string) error {
	_, _, err := runGit(repoDir, "branch", "-D", branch)
	return err
}

func ResetHard(dir, sha string) error {
	_, _, err := runGit(dir, "reset", "--hard", sha)
	return err
}

// CleanUntracked removes untracked files and directories, leaving paths
// matching any exclude pattern alone. Ignored files are kept.
func CleanUntracked(dir string, excludes ...string) error {
	args := []string{"clean", "-fd"}
	for _, e := range excludes {
		args = append(args, "-e", e)
	}
	_, _, err := runGit(dir, args...)
	return err
}

func AddAll(dir string) error {
	_, _, err := runGit(dir, "add", "-A")
	return err
}

// HasStagedChanges reports whether the index differs from HEAD.
func HasStagedChanges(dir string) (bool, error) {
	_, _, err := runGit(dir, "diff", "--cached", "--quiet")
	if err == nil {
		return false, nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) && ee.ExitCode() == 1 {
		return true, nil
	}
	return false, err
}

// CommitStaged commits the index and returns the new HEAD. An empty index
// is not an error: nothing is committed and the current HEAD is returned.
func CommitStaged(dir, message string) (string, error) {
	staged, err := HasStagedChanges(dir)
	if err != nil {
		return "", err
	}
	if !staged {
		return HeadSHA(dir)
	}
	if err := commit(dir, message); err != nil {
		return "", err
	}
	return HeadSHA(dir)
}

// CommitAll stages every change and commits it; see CommitStaged.
func CommitAll(dir, message string) (string, error) {
	if err := AddAll(dir); err != nil {
		return "", err
	}
	return CommitStaged(dir, message)
}

func commit(dir, message string) error {
	_, _, err := runGit(dir, "commit", "-m", message)
	if err != nil && missingIdentity(err) {
		// Retry once with an explicit identity without touching repo config.
		_, _, err = runGit(
			dir,
			"-c", "user.name="+fallbackName,
			"-c", "user.email="+fallbackEmail,
			"commit", "-m", message,
		)
	}
	return err
}

func missingIdentity(err error) bool {
	s := err.Error()
	return strings.Contains(s, "Author identity unknown") ||
		strings.Contains(s, "Please tell me who you are") ||
		strings.Contains(s, "unable to auto-detect email address")
}

// MergeSquash stages the changes of branch onto the current branch of
// repoDir without committing.
func MergeSquash(repoDir, branch string) error {
	_, _, err := runGit(repoDir, "merge", "--squash", branch)
	return err
}

// AbortMerge discards a half-applied merge in repoDir.
func AbortMerge(repoDir string) error {
	_, _, err := runGit(repoDir, "reset", "--merge")
	return err
}

type Change struct {
	Status string
	Path   string
}

// DiffNameStatus compares the working tree of dir with baseRef. Renames are
// reported as a delete plus an add.
func DiffNameStatus(dir, baseRef string) ([]Change, error) {
	out, _, err := runGit(dir, "diff", "--name-status", "--no-renames", "-z", baseRef)
	if err != nil {
		return nil, err
	}
	fields := splitNUL(out)
	var changes []Change
	for i := 0; i+1 < len(fields); i += 2 {
		changes = append(changes, Change{Status: fields[i], Path: fields[i+1]})
	}
	return changes, nil
}

// UntrackedFiles lists untracked, non-ignored files.
func UntrackedFiles(dir string) ([]string, error) {
	out, _, err := runGit(dir, "ls-files", "-z", "--others", "--exclude-standard")
	if err != nil {
		return nil, err
	}
	return splitNUL(out), nil
}
