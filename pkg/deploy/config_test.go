package deploy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/core-tools/palantir-deploy/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromFile(t *testing.T) {
	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		validate    func(*testing.T, *Config)
	}{
		{
			name: "valid comprehensive config",
			configYAML: `
deploy:
  log_level: debug
  log_format: json
  state_dir: /var/lib/collector-deploy
  run_dir: /run
  require_root: false
  verify_delay: 3s
packages:
  manager: apt-get
  refresh: false
  names: [libpcap0.8, tshark]
service:
  name: palantir-collector
  artifact:
    source: ./target/release/collector
    install_path: /opt/palantir/bin/collector
    mode: "0750"
  unit:
    source: ./deploy/palantir-collector.service
    install_dir: /lib/systemd/system
snapshot:
  enabled: false
`,
			validate: func(t *testing.T, config *Config) {
				assert.Equal(t, "debug", config.Deploy.LogLevel)
				assert.Equal(t, "json", config.Deploy.LogFormat)
				assert.Equal(t, "/var/lib/collector-deploy", config.Deploy.StateDir)
				assert.False(t, config.RequiresRoot())
				assert.Equal(t, 3*time.Second, config.VerifyDelay())
				assert.Equal(t, "apt-get", config.Packages.Manager)
				assert.False(t, config.RefreshIndex())
				assert.Equal(t, []string{"libpcap0.8", "tshark"}, config.Packages.Names)
				assert.Equal(t, "/opt/palantir/bin/collector", config.Service.Artifact.InstallPath)
				assert.Equal(t, os.FileMode(0750), config.ArtifactMode())
				assert.Equal(t, "/lib/systemd/system", config.Service.Unit.InstallDir)
				assert.False(t, config.SnapshotEnabled())
				assert.NoError(t, ValidateConfig(config))
			},
		},
		{
			name:       "empty config gets defaults",
			configYAML: "{}\n",
			validate: func(t *testing.T, config *Config) {
				assert.Equal(t, DefaultConfig(), config)
			},
		},
		{
			name: "explicit empty package list is kept",
			configYAML: `
packages:
  names: []
`,
			validate: func(t *testing.T, config *Config) {
				assert.Empty(t, config.Packages.Names)
				assert.NotNil(t, config.Packages.Names)
			},
		},
		{
			name: "zero verify delay is kept",
			configYAML: `
deploy:
  verify_delay: 0s
`,
			validate: func(t *testing.T, config *Config) {
				assert.Equal(t, time.Duration(0), config.VerifyDelay())
			},
		},
		{
			name:        "invalid yaml",
			configYAML:  "deploy: [unterminated",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "deploy.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.configYAML), 0644))

			config, err := LoadConfigFromFile(path)

			if tt.expectError {
				assert.Error(t, err)
				assert.True(t, errors.IsValidationError(err))
				return
			}
			require.NoError(t, err)
			tt.validate(t, config)
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, "palantir-collector", config.Service.Name)
	assert.Equal(t, "./target/release/collector", config.Service.Artifact.Source)
	assert.Equal(t, "/usr/local/bin/palantir-collector", config.Service.Artifact.InstallPath)
	assert.Equal(t, os.FileMode(0755), config.ArtifactMode())
	assert.Equal(t, "./palantir-collector.service", config.Service.Unit.Source)
	assert.Equal(t, "/etc/systemd/system", config.Service.Unit.InstallDir)
	assert.Equal(t, []string{"tcpdump"}, config.Packages.Names)
	assert.Equal(t, "auto", config.Packages.Manager)
	assert.Equal(t, "/var/lib/palantir-deploy", config.Deploy.StateDir)
	assert.True(t, config.RequiresRoot())
	assert.True(t, config.RefreshIndex())
	assert.True(t, config.SnapshotEnabled())
	assert.Equal(t, time.Second, config.VerifyDelay())
	assert.NoError(t, ValidateConfig(config))
}

func TestLoadConfig_Fallbacks(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.IsNotFoundError(err), "an explicitly named file must exist")

	if _, statErr := os.Stat(DefaultConfigPath); os.IsNotExist(statErr) {
		config, err := LoadConfig("")
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), config)
	}
}

func TestParseFileMode(t *testing.T) {
	tests := []struct {
		mode      string
		expected  os.FileMode
		shouldErr bool
	}{
		{"0755", 0755, false},
		{"644", 0644, false},
		{"0700", 0700, false},
		{"0999", 0, true},
		{"rwxr-xr-x", 0, true},
		{"", 0, true},
		{"4755", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			mode, err := ParseFileMode(tt.mode)
			if tt.shouldErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, mode)
		})
	}
}
