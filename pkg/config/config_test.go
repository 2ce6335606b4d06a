package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir moves the working directory for one test so the project config
// walk starts from a controlled root.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}

// TestLoadDefaults tests the built-in metric defaults with no config files
// present.
func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 0.02, cfg.Metrics.FScoreTau)
	assert.Equal(t, 512, cfg.Metrics.VFResolution)
	assert.Empty(t, cfg.WorkspaceRoot)
	assert.NotNil(t, cfg.Pricing)
}

// TestLoadProjectConfig tests that archi3d.yaml is found by walking up
// from the working directory.
func TestLoadProjectConfig(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "archi3d.yaml"), []byte(`
workspace: /srv/archi3d
env_tag: staging
algos: [algo1, algo2]
pricing:
  algo1:
    unit_price_usd: 0.25
    currency: USD
`), 0o644))
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	chdir(t, nested)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/srv/archi3d", cfg.WorkspaceRoot)
	assert.Equal(t, "staging", cfg.EnvTag)
	assert.Equal(t, []string{"algo1", "algo2"}, cfg.Algos)
	assert.Equal(t, 0.25, cfg.Pricing["algo1"].UnitPriceUSD)
	assert.Equal(t, "USD", cfg.Pricing["algo1"].Currency)
}

// TestLoadFlagOverridesFile tests that the workspace flag beats the file.
func TestLoadFlagOverridesFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "archi3d.yaml"), []byte("workspace: /from/file\n"), 0o644))
	chdir(t, root)

	cfg, err := Load("/from/flag")
	require.NoError(t, err)
	assert.Equal(t, "/from/flag", cfg.WorkspaceRoot)
}

// TestLoadEnvOverridesFile tests the ARCHI3D_ environment precedence.
func TestLoadEnvOverridesFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "archi3d.yaml"), []byte("env_tag: from-file\n"), 0o644))
	chdir(t, root)
	t.Setenv("ARCHI3D_ENV_TAG", "from-env")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.EnvTag)
}

// TestLoadSecrets tests that workspace-adjacent secrets.yaml merges over
// the project config.
func TestLoadSecrets(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(ws, "secrets.yaml"), []byte(`
backends:
  algo1:
    api_key: sk-secret
`), 0o600))
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "archi3d.yaml"), []byte(`
backends:
  algo1:
    base_url: https://gen.example.com
    version: v2
`), 0o644))
	chdir(t, root)

	cfg, err := Load(ws)
	require.NoError(t, err)
	require.Contains(t, cfg.Backends, "algo1")
	assert.Equal(t, "sk-secret", cfg.Backends["algo1"].APIKey)
	assert.Equal(t, "https://gen.example.com", cfg.Backends["algo1"].BaseURL)
	assert.Equal(t, "v2", cfg.Backends["algo1"].Version)
}

// TestValidate tests the resolved-configuration invariants.
func TestValidate(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "plain.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"valid", Config{WorkspaceRoot: dir}, ""},
		{"empty root", Config{}, "workspace root is not set"},
		{"missing dir", Config{WorkspaceRoot: filepath.Join(dir, "nope")}, "not a directory"},
		{"root is a file", Config{WorkspaceRoot: file}, "not a directory"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
