// Package settings loads process-level options for the taskforge CLI.
//
// Precedence, highest first: TASKFORGE_* environment variables, the optional
// YAML settings file, built-in defaults. Command-line flags are applied on
// top by the caller.
package settings

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix marks environment variables read as settings.
const EnvPrefix = "TASKFORGE_"

const maxFileSize = 1 << 20

const (
	DefaultSpecPath  = "taskforge.yaml"
	DefaultStateDir  = ".taskforge"
	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"
)

type Settings struct {
	LogLevel    string `koanf:"log_level"`
	LogFormat   string `koanf:"log_format"`
	StateDir    string `koanf:"state_dir"`
	SpecPath    string `koanf:"spec"`
	MetricsFile string `koanf:"metrics_file"`
	// Stream echoes backend output to stderr while a run is in progress.
	Stream bool `koanf:"stream"`
}

// Load reads the settings file at path, when non-empty, and the environment.
func Load(path string) (*Settings, error) {
	k := koanf.New(".")

	if path != "" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("settings file: %w", err)
		}
		if info.Size() > maxFileSize {
			return nil, fmt.Errorf("settings file %s is larger than %d bytes", path, maxFileSize)
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read settings file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load settings file %s: %w", path, err)
		}
	}

	// TASKFORGE_LOG_LEVEL -> log_level
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var s Settings
	if err := k.Unmarshal("", &s); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	applyDefaults(&s)
	return &s, nil
}

func applyDefaults(s *Settings) {
	if s.LogLevel == "" {
		s.LogLevel = DefaultLogLevel
	}
	if s.LogFormat == "" {
		s.LogFormat = DefaultLogFormat
	}
	if s.StateDir == "" {
		s.StateDir = DefaultStateDir
	}
	if s.SpecPath == "" {
		s.SpecPath = DefaultSpecPath
	}
}
