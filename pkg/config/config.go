package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Price is a per-algorithm pricing table entry.
type Price struct {
	UnitPriceUSD float64 `mapstructure:"unit_price_usd" yaml:"unit_price_usd"`
	Currency     string  `mapstructure:"currency" yaml:"currency"`
}

// Tools holds paths to external executables used by the metric evaluators.
type Tools struct {
	Renderer string `mapstructure:"renderer" yaml:"renderer"`
	FScore   string `mapstructure:"fscore" yaml:"fscore"`
	VFScore  string `mapstructure:"vfscore" yaml:"vfscore"`
}

// Metrics holds metric evaluator defaults.
type Metrics struct {
	FScoreTau    float64 `mapstructure:"fscore_tau" yaml:"fscore_tau"`
	VFResolution int     `mapstructure:"vf_resolution" yaml:"vf_resolution"`
}

// Backend configures one HTTP generation backend, keyed by algorithm. The
// API key normally comes from the workspace secrets file or the
// environment, never from the project config.
type Backend struct {
	BaseURL       string `mapstructure:"base_url" yaml:"base_url"`
	APIKey        string `mapstructure:"api_key" yaml:"api_key"`
	Version       string `mapstructure:"version" yaml:"version"`
	PollIntervalS int    `mapstructure:"poll_interval_s" yaml:"poll_interval_s"`
}

// Config is the resolved configuration value consumed by the core. The core
// never reads the environment or config files itself; it receives this value
// through function boundaries.
type Config struct {
	WorkspaceRoot string             `mapstructure:"workspace" yaml:"workspace"`
	Algos         []string           `mapstructure:"algos" yaml:"algos"`
	Pricing       map[string]Price   `mapstructure:"pricing" yaml:"pricing"`
	Tools         Tools              `mapstructure:"tools" yaml:"tools"`
	Metrics       Metrics            `mapstructure:"metrics" yaml:"metrics"`
	Backends      map[string]Backend `mapstructure:"backends" yaml:"backends"`
	EnvTag        string             `mapstructure:"env_tag" yaml:"env_tag"`

	// EcotestAlgos is the explicit algorithm list the CLI substitutes for
	// the "ecotest" pseudo-algorithm before the planner ever sees it.
	EcotestAlgos []string `mapstructure:"ecotest_algos" yaml:"ecotest_algos"`
}

// Load resolves the configuration with the documented precedence, highest
// first: process environment (ARCHI3D_ prefix), workspace-adjacent
// secrets.yaml, user config (~/.config/archi3d/config.yaml), project config
// (archi3d.yaml found by walking up from the working directory).
//
// Viper merges files lowest-precedence first so later reads win; the
// environment overrides everything via AutomaticEnv.
func Load(workspaceFlag string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetEnvPrefix("ARCHI3D")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("workspace", "")
	v.SetDefault("algos", []string{})
	v.SetDefault("env_tag", "")
	v.SetDefault("metrics.fscore_tau", 0.02)
	v.SetDefault("metrics.vf_resolution", 512)

	// Lowest precedence first: project config found by walking up from CWD.
	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			path := filepath.Join(dir, "archi3d.yaml")
			if _, err := os.Stat(path); err == nil {
				if err := mergeFile(v, path); err != nil {
					return nil, err
				}
				break
			}
		}
	}

	// User config.
	if configDir, err := os.UserConfigDir(); err == nil {
		path := filepath.Join(configDir, "archi3d", "config.yaml")
		if _, err := os.Stat(path); err == nil {
			if err := mergeFile(v, path); err != nil {
				return nil, err
			}
		}
	}

	// Workspace-adjacent secrets. The workspace may come from the flag, the
	// environment, or the files merged above; check in that order.
	wsRoot := workspaceFlag
	if wsRoot == "" {
		wsRoot = v.GetString("workspace")
	}
	if wsRoot != "" {
		path := filepath.Join(wsRoot, "secrets.yaml")
		if _, err := os.Stat(path); err == nil {
			if err := mergeFile(v, path); err != nil {
				return nil, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if workspaceFlag != "" {
		cfg.WorkspaceRoot = workspaceFlag
	}
	if cfg.Pricing == nil {
		cfg.Pricing = map[string]Price{}
	}
	return &cfg, nil
}

func mergeFile(v *viper.Viper, path string) error {
	v.SetConfigFile(path)
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return nil
}

// Validate checks the invariants a resolved configuration must satisfy
// before the core will act on it.
func (c *Config) Validate() error {
	if c.WorkspaceRoot == "" {
		return fmt.Errorf("configuration error: workspace root is not set (flag --workspace, env ARCHI3D_WORKSPACE, or config key 'workspace')")
	}
	if st, err := os.Stat(c.WorkspaceRoot); err != nil || !st.IsDir() {
		return fmt.Errorf("configuration error: workspace root %s is not a directory", c.WorkspaceRoot)
	}
	return nil
}
