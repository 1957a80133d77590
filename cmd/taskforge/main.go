// Command taskforge runs a task graph against a coding agent under budget,
// validator and workspace controls, recording every step in a SQLite ledger.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danshapiro/taskforge/internal/taskforge/engine"
	"github.com/danshapiro/taskforge/internal/taskforge/ledger"
	"github.com/danshapiro/taskforge/internal/taskforge/logging"
	"github.com/danshapiro/taskforge/internal/taskforge/settings"
	"github.com/danshapiro/taskforge/internal/taskforge/spec"
)

var version = "dev"

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// exitError carries a specific process exit code out of a command.
type exitError struct {
	code engine.ExitCode
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// exitWith with a nil err only sets the code; the command has already
// reported the outcome.
func exitWith(code engine.ExitCode, err error) error {
	return &exitError{code: code, err: err}
}

// execute runs the CLI and returns the process exit code.
func execute(args []string, stdout, stderr io.Writer) int {
	cli := &cli{stdout: stdout, stderr: stderr}
	root := cli.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	if cli.log != nil {
		_ = logging.Sync(cli.log)
	}
	if err == nil {
		return int(engine.ExitSuccess)
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil && ee.code != engine.ExitSuccess {
			fmt.Fprintln(stderr, "error:", ee.err)
		}
		return int(ee.code)
	}
	fmt.Fprintln(stderr, "error:", err)
	return int(engine.ExitInternal)
}

type cli struct {
	stdout, stderr io.Writer

	settingsPath string
	specPath     string
	stateDir     string
	repo         string
	logLevel     string
	logFormat    string

	settings *settings.Settings
	log      *zap.Logger
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "taskforge",
		Short: "Drive coding agents through a validated, budgeted task graph",
		Long: `taskforge executes the tasks of a project spec in dependency order. Each task
runs a bounded execute/validate/repair loop against a coding agent backend,
under budget tiers, file contracts and stuck detection. Every step is recorded
in a SQLite ledger under the state directory.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.init(cmd)
		},
	}
	f := root.PersistentFlags()
	f.StringVar(&c.settingsPath, "settings", "", "YAML settings file")
	f.StringVarP(&c.specPath, "spec", "f", "", "project spec file (default taskforge.yaml)")
	f.StringVar(&c.stateDir, "state-dir", "", "state directory relative to the repo (default .taskforge)")
	f.StringVar(&c.repo, "repo", "", "repository root (default: the spec's repo_root, else the current directory)")
	f.StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn, error")
	f.StringVar(&c.logFormat, "log-format", "", "log format: console or json")

	root.AddCommand(
		c.runCmd(),
		c.planCmd(),
		c.statusCmd(),
		c.tailCmd(),
		c.validateSpecCmd(),
		c.budgetCmd(),
		c.reportCmd(),
		c.checkpointCmd(),
	)
	return root
}

// init resolves settings and builds the logger. Flags win over settings.
func (c *cli) init(cmd *cobra.Command) error {
	s, err := settings.Load(c.settingsPath)
	if err != nil {
		return exitWith(engine.ExitConfig, err)
	}
	flags := cmd.Flags()
	override := func(name string, dst *string, v string) {
		if flags.Changed(name) {
			*dst = v
		}
	}
	override("spec", &s.SpecPath, c.specPath)
	override("state-dir", &s.StateDir, c.stateDir)
	override("log-level", &s.LogLevel, c.logLevel)
	override("log-format", &s.LogFormat, c.logFormat)
	c.settings = s

	log, err := logging.New(s.LogLevel, s.LogFormat)
	if err != nil {
		return exitWith(engine.ExitConfig, err)
	}
	c.log = log
	return nil
}

// loadProject reads the spec and resolves the repository root.
func (c *cli) loadProject() (*spec.Project, string, error) {
	p, err := spec.Load(c.settings.SpecPath)
	if err != nil {
		return nil, "", exitWith(engine.ExitConfig, err)
	}
	repo, err := c.repoRoot(p)
	if err != nil {
		return nil, "", err
	}
	return p, repo, nil
}

// repoRoot resolves --repo, then the spec's repo_root relative to the spec
// file, then the current directory. p may be nil.
func (c *cli) repoRoot(p *spec.Project) (string, error) {
	repo := c.repo
	if repo == "" {
		repo = "."
		if p != nil && p.Project.RepoRoot != "" {
			repo = p.Project.RepoRoot
			if !filepath.IsAbs(repo) {
				repo = filepath.Join(filepath.Dir(c.settings.SpecPath), repo)
			}
		}
	}
	abs, err := filepath.Abs(repo)
	if err != nil {
		return "", exitWith(engine.ExitConfig, err)
	}
	return abs, nil
}

// currentRepo resolves the repo as run does for commands that work without
// a spec; when none can be loaded it is the current directory.
func (c *cli) currentRepo() (string, error) {
	var p *spec.Project
	if c.repo == "" {
		if loaded, err := spec.Load(c.settings.SpecPath); err == nil {
			p = loaded
		} else {
			c.log.Debug("spec not loaded; using current directory", zap.Error(err))
		}
	}
	return c.repoRoot(p)
}

// openLedger opens the ledger of an existing state directory without
// creating one.
func (c *cli) openLedger() (*ledger.Store, error) {
	repo, err := c.currentRepo()
	if err != nil {
		return nil, err
	}
	path := ledger.DefaultPath(repo, c.settings.StateDir)
	if _, err := os.Stat(path); err != nil {
		return nil, exitWith(engine.ExitConfig, fmt.Errorf("no ledger at %s (has taskforge run here?)", path))
	}
	store, err := ledger.Open(path)
	if err != nil {
		return nil, exitWith(engine.ExitInternal, err)
	}
	return store, nil
}
