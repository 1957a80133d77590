package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	s, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, &Settings{
		LogLevel:  DefaultLogLevel,
		LogFormat: DefaultLogFormat,
		StateDir:  DefaultStateDir,
		SpecPath:  DefaultSpecPath,
	}, s)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
log_format: json
metrics_file: /tmp/tf.prom
stream: true
`), 0o600))
	t.Setenv("TASKFORGE_LOG_LEVEL", "warn")
	t.Setenv("TASKFORGE_STATE_DIR", ".forge")

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", s.LogLevel)
	assert.Equal(t, "json", s.LogFormat)
	assert.Equal(t, ".forge", s.StateDir)
	assert.Equal(t, "/tmp/tf.prom", s.MetricsFile)
	assert.True(t, s.Stream)
	assert.Equal(t, DefaultSpecPath, s.SpecPath)
}

func TestLoad_EnvBool(t *testing.T) {
	t.Setenv("TASKFORGE_STREAM", "true")
	t.Setenv("TASKFORGE_SPEC", "ci/taskforge.yaml")
	s, err := Load("")
	require.NoError(t, err)
	assert.True(t, s.Stream)
	assert.Equal(t, "ci/taskforge.yaml", s.SpecPath)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "settings file")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("log_level: [unclosed"), 0o600))
	_, err = Load(bad)
	assert.ErrorContains(t, err, "load settings file")
}
