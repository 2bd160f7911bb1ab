package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "EXTPROC_LOADTEST_"

// Loader assembles a Config from layered sources, lowest priority first:
// built-in defaults, an optional YAML file, then environment variables.
// CLI flags (handled by cmd/ext-proc-load-tester, not this package) apply
// on top as the final, highest-priority layer by overwriting fields on the
// returned Config directly.
type Loader struct {
	k          *koanf.Koanf
	configPath string
	envPrefix  string
}

// LoaderOption customizes a Loader before Load runs.
type LoaderOption func(*Loader)

// WithConfigPath sets an explicit config file path. An empty path (the
// default) means no file is loaded and only defaults+env apply.
func WithConfigPath(path string) LoaderOption {
	return func(l *Loader) { l.configPath = path }
}

// NewLoader returns a Loader seeded with the package defaults.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{k: koanf.New("."), envPrefix: envPrefix}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load runs the defaults -> file -> env pipeline and returns the resulting
// Config. It does not validate: the caller still has to merge its
// highest-priority layer (CLI flags) onto the result, so only the caller
// knows when the Config is complete enough to check. Call cfg.Validate()
// once flags have been applied.
func (l *Loader) Load() (*Config, error) {
	if err := l.k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if l.configPath != "" {
		if _, err := os.Stat(l.configPath); err != nil {
			return nil, fmt.Errorf("%w: config file %s: %v", ErrInvalidConfig, l.configPath, err)
		}
		if err := l.k.Load(file.Provider(l.configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load file: %w", err)
		}
	}

	if err := l.k.Load(env.Provider(l.envPrefix, ".", envKeyTransform(l.envPrefix)), nil); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	var cfg Config
	if err := l.k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &cfg, nil
}

func envKeyTransform(prefix string) func(string) string {
	return func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, prefix)), "_", ".", 1)
	}
}

func defaults() map[string]any {
	return map[string]any{
		"target.connect_timeout": 10 * time.Second,

		"plan.throughput_step":       0.0,
		"plan.throughput_multiplier": 2.0,
		"plan.test_duration":         10 * time.Second,

		"run.result_directory":     ".",
		"run.pacing_discipline":    "poisson",
		"run.grace_window":         5 * time.Second,
		"run.queue_limit":          10000,
		"run.abort_on_stage_error": true,

		"log.level":  "info",
		"log.format": "json",
		"log.output": "stderr",

		"metrics.enabled": false,
		"metrics.addr":    ":9090",
		"metrics.path":    "/metrics",
	}
}
