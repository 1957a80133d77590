package spec

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
version: "1.0"
project:
  name: demo
defaults:
  backend: noop
  validators: [lint]
policies:
  scope_guard: block
budgets:
  run:
    money_usd: 5
    max_iterations_total: 10
validators:
  - id: lint
    run: "true"
    parser: eslint
  - id: test
    run: "go test ./..."
    timeout_seconds: 60
tasks:
  - id: a
    title: First
    priority: 2
    sprint: {size: XS, intent: fix}
    files_contract:
      allowed: ["src/**"]
      allow_new_files: false
  - id: b
    deps: [a]
    validators: [test]
    budget:
      hard: {max_iterations: 4, time_minutes: 3}
`

func TestParse_YAML_AppliesDefaultsAndFingerprint(t *testing.T) {
	p, err := Parse([]byte(sampleYAML), "yaml")
	require.NoError(t, err)

	assert.Equal(t, "demo", p.Project.Name)
	assert.Equal(t, ".", p.Project.RepoRoot)
	assert.Equal(t, WorkspacePatch, p.Defaults.WorkspaceMode)
	assert.Equal(t, ScopeBlock, p.Policies.ScopeGuard)
	assert.Equal(t, 300, p.Setup.TimeoutSeconds)
	assert.True(t, p.ArtifactsEnabled())
	require.Len(t, p.Tasks, 2)
	assert.False(t, p.Tasks[0].FilesContract.NewFilesAllowed())
	assert.Equal(t, IntentFix, p.Tasks[0].Intent())
	assert.Len(t, p.Fingerprint, 24)
	assert.Equal(t, p.Fingerprint, Fingerprint([]byte(sampleYAML)))
}

func TestParse_TaskValidatorsFallBackToDefaults(t *testing.T) {
	p, err := Parse([]byte(sampleYAML), "yaml")
	require.NoError(t, err)

	a, ok := p.TaskByID("a")
	require.True(t, ok)
	vs := p.TaskValidators(a)
	require.Len(t, vs, 1)
	assert.Equal(t, "lint", vs[0].ID)

	b, _ := p.TaskByID("b")
	vs = p.TaskValidators(b)
	require.Len(t, vs, 1)
	assert.Equal(t, "test", vs[0].ID)
	assert.Equal(t, 60, vs[0].TimeoutSeconds)
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("tasks:\n  - id: a\n    bogus: 1\n"), "yaml")
	require.Error(t, err)
}

func TestParse_SchemaRejectsBadEnum(t *testing.T) {
	_, err := Parse([]byte("policies:\n  scope_guard: maybe\n"), "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema")
}

func TestParse_UnknownValidatorReference(t *testing.T) {
	_, err := Parse([]byte("tasks:\n  - id: a\n    validators: [nope]\n"), "yaml")
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "err=%v", err)
	assert.Contains(t, verr.Error(), `unknown validator "nope"`)
}

func TestParse_RejectsMultipleDocuments(t *testing.T) {
	_, err := Parse([]byte("version: \"1\"\n---\nversion: \"2\"\n"), "yaml")
	require.Error(t, err)
}

func TestLoad_JSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taskforge.json")
	doc := `{"tasks":[{"id":"a","sprint":{"size":"M"}}],"defaults":{"workspace_mode":"worktree"}}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, WorkspaceWorktree, p.Defaults.WorkspaceMode)
	assert.Equal(t, SizeM, p.Tasks[0].Size())
}

func TestLoad_JSONRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taskforge.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"tasks":[],"extra":true}`), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}
