// Package config loads mongorunner settings from defaults, a YAML file,
// MONGORUNNER_* environment variables and command-line flags, in that order
// of increasing precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"
)

// FileName is the config file looked up in the working directory and DataDir.
const FileName = "mongorunner.yaml"

const envPrefix = "MONGORUNNER_"

// Editor host kinds.
const (
	HostMemory = "memory"
	HostFile   = "file"
)

type ExecutionConfig struct {
	Timeout time.Duration `koanf:"timeout"`
}

type OutputConfig struct {
	Language     string `koanf:"language"`
	PromptPrefix string `koanf:"prompt_prefix"`
}

type QueryConfig struct {
	DefaultLimit int64 `koanf:"default_limit"`
}

type AttributesConfig struct {
	SampleSize int `koanf:"sample_size"`
}

type RefreshConfig struct {
	// Schedule is a cron expression; empty disables scheduled refreshes.
	Schedule  string `koanf:"schedule"`
	OnStartup bool   `koanf:"on_startup"`
}

type EditorConfig struct {
	Host string `koanf:"host"`
}

// Config holds every setting.
type Config struct {
	DataDir      string           `koanf:"data_dir"`
	WorkspaceDir string           `koanf:"workspace_dir"`
	Execution    ExecutionConfig  `koanf:"execution"`
	Output       OutputConfig     `koanf:"output"`
	Query        QueryConfig      `koanf:"query"`
	Attributes   AttributesConfig `koanf:"attributes"`
	Refresh      RefreshConfig    `koanf:"refresh"`
	Editor       EditorConfig     `koanf:"editor"`

	// File is the config file that was read, if any.
	File string `koanf:"-"`
}

// DBPath is the sqlite file holding stored connections.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "mongorunner.db")
}

func defaultDataDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".local", "share", "mongorunner")
}

func defaults() map[string]any {
	dataDir := defaultDataDir()
	return map[string]any{
		"data_dir":               dataDir,
		"workspace_dir":          filepath.Join(dataDir, "workspace"),
		"execution.timeout":      "30s",
		"output.language":        "jsonc",
		"output.prompt_prefix":   "// MongoRunner> ",
		"query.default_limit":    20,
		"attributes.sample_size": 20,
		"refresh.schedule":       "",
		"refresh.on_startup":     false,
		"editor.host":            HostFile,
	}
}

// flagKeys maps flag names to config keys where they differ.
var flagKeys = map[string]string{
	"timeout":     "execution.timeout",
	"limit":       "query.default_limit",
	"editor-host": "editor.host",
	"schedule":    "refresh.schedule",
}

// Load reads the configuration. cfgFile may be empty, in which case
// FileName is looked up in the working directory, then in the default data
// directory. flags may be nil; only flags the user changed override.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	// 2. File
	used := findConfigFile(cfgFile)
	if used != "" {
		if err := k.Load(file.Provider(used), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", used, err)
		}
	}

	// 3. Environment: MONGORUNNER_QUERY__DEFAULT_LIMIT -> query.default_limit
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	// 4. Flags
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				key = strings.ReplaceAll(f.Name, "-", "_")
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = used
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// findConfigFile resolves the file to read.
// Priority: explicit path > ./mongorunner.yaml > <data dir>/mongorunner.yaml
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, candidate := range []string{FileName, filepath.Join(defaultDataDir(), FileName)} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.Execution.Timeout <= 0 {
		return fmt.Errorf("execution.timeout must be positive, got %s", c.Execution.Timeout)
	}
	if c.Query.DefaultLimit <= 0 {
		return fmt.Errorf("query.default_limit must be positive, got %d", c.Query.DefaultLimit)
	}
	if c.Attributes.SampleSize <= 0 {
		return fmt.Errorf("attributes.sample_size must be positive, got %d", c.Attributes.SampleSize)
	}
	switch c.Editor.Host {
	case HostMemory, HostFile:
	default:
		return fmt.Errorf("editor.host must be %q or %q, got %q", HostMemory, HostFile, c.Editor.Host)
	}
	if c.Refresh.Schedule != "" {
		if _, err := cron.ParseStandard(c.Refresh.Schedule); err != nil {
			return fmt.Errorf("refresh.schedule: %w", err)
		}
	}
	return nil
}
