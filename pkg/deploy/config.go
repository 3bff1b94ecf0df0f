package deploy

import (
	"os"
	"strconv"
	"time"

	"github.com/core-tools/palantir-deploy/pkg/errors"
	"github.com/core-tools/palantir-deploy/pkg/packages"
	"github.com/core-tools/palantir-deploy/pkg/runfile"
	"github.com/core-tools/palantir-deploy/pkg/servicemanager"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is read when no configuration file is named
const DefaultConfigPath = "/etc/palantir-deploy/deploy.yaml"

const (
	DefaultServiceName     = "palantir-collector"
	DefaultArtifactSource  = "./target/release/collector"
	DefaultArtifactInstall = "/usr/local/bin/palantir-collector"
	DefaultArtifactMode    = "0755"
	DefaultUnitSource      = "./palantir-collector.service"
	DefaultStateDirectory  = "/var/lib/" + runfile.DefaultAppName
	DefaultVerifyDelay     = time.Second
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "console"

	unitFileMode os.FileMode = 0644
)

// DefaultPackages are the runtime dependencies of the collector
var DefaultPackages = []string{"tcpdump"}

// Config represents the top-level configuration file structure
type Config struct {
	Deploy   DeployOptions  `yaml:"deploy"`
	Packages PackagesConfig `yaml:"packages"`
	Service  ServiceConfig  `yaml:"service"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
}

// DeployOptions represents tool-level configuration
type DeployOptions struct {
	LogLevel    string         `yaml:"log_level,omitempty"`
	LogFormat   string         `yaml:"log_format,omitempty"`
	StateDir    string         `yaml:"state_dir,omitempty"`
	RunDir      string         `yaml:"run_dir,omitempty"`
	RequireRoot *bool          `yaml:"require_root,omitempty"` // Pointer to distinguish unset from false
	VerifyDelay *time.Duration `yaml:"verify_delay,omitempty"`
}

// PackagesConfig lists the OS packages the service needs at runtime
type PackagesConfig struct {
	Manager string   `yaml:"manager,omitempty"`
	Refresh *bool    `yaml:"refresh,omitempty"`
	Names   []string `yaml:"names"`
}

// ServiceConfig describes the managed service and its build inputs
type ServiceConfig struct {
	Name     string         `yaml:"name"`
	Artifact ArtifactConfig `yaml:"artifact"`
	Unit     UnitConfig     `yaml:"unit"`
}

// ArtifactConfig describes the service executable
type ArtifactConfig struct {
	Source      string `yaml:"source"`
	InstallPath string `yaml:"install_path"`
	Mode        string `yaml:"mode,omitempty"`
}

// UnitConfig describes the service unit definition
type UnitConfig struct {
	Source     string `yaml:"source"`
	InstallDir string `yaml:"install_dir,omitempty"`
}

// SnapshotConfig controls the prior-version snapshot taken before replacement
type SnapshotConfig struct {
	Enabled *bool `yaml:"enabled,omitempty"`
}

// DefaultConfig returns the built-in configuration
func DefaultConfig() *Config {
	config := &Config{}
	setConfigDefaults(config)
	return config
}

// LoadConfigFromFile loads deployment configuration from a YAML file
func LoadConfigFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("configuration file not found", err).WithContext("filename", filename)
		}
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}

	return ParseConfig(data, filename)
}

// ParseConfig decodes YAML configuration and applies defaults
func ParseConfig(data []byte, filename string) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.NewValidationError("failed to parse YAML configuration", err).WithContext("filename", filename)
	}

	setConfigDefaults(&config)

	return &config, nil
}

// LoadConfig loads filename, falling back to the built-in defaults when the
// default configuration file is absent. An explicitly named file must exist.
func LoadConfig(filename string) (*Config, error) {
	if filename == "" {
		filename = DefaultConfigPath
	}

	config, err := LoadConfigFromFile(filename)
	if err != nil {
		if errors.IsNotFoundError(err) && filename == DefaultConfigPath {
			return DefaultConfig(), nil
		}
		return nil, err
	}
	return config, nil
}

// setConfigDefaults applies default values to configuration
func setConfigDefaults(config *Config) {
	if config.Deploy.LogLevel == "" {
		config.Deploy.LogLevel = DefaultLogLevel
	}
	if config.Deploy.LogFormat == "" {
		config.Deploy.LogFormat = DefaultLogFormat
	}
	if config.Deploy.StateDir == "" {
		config.Deploy.StateDir = DefaultStateDirectory
	}
	if config.Deploy.RequireRoot == nil {
		requireRoot := true
		config.Deploy.RequireRoot = &requireRoot
	}
	if config.Deploy.VerifyDelay == nil {
		delay := DefaultVerifyDelay
		config.Deploy.VerifyDelay = &delay
	}

	if config.Packages.Manager == "" {
		config.Packages.Manager = packages.ManagerAuto
	}
	if config.Packages.Refresh == nil {
		refresh := true
		config.Packages.Refresh = &refresh
	}
	// An explicit empty list means no packages
	if config.Packages.Names == nil {
		config.Packages.Names = append([]string(nil), DefaultPackages...)
	}

	if config.Service.Name == "" {
		config.Service.Name = DefaultServiceName
	}
	if config.Service.Artifact.Source == "" {
		config.Service.Artifact.Source = DefaultArtifactSource
	}
	if config.Service.Artifact.InstallPath == "" {
		config.Service.Artifact.InstallPath = DefaultArtifactInstall
	}
	if config.Service.Artifact.Mode == "" {
		config.Service.Artifact.Mode = DefaultArtifactMode
	}
	if config.Service.Unit.Source == "" {
		config.Service.Unit.Source = DefaultUnitSource
	}
	if config.Service.Unit.InstallDir == "" {
		config.Service.Unit.InstallDir = servicemanager.DefaultUnitDirectory
	}

	if config.Snapshot.Enabled == nil {
		enabled := true
		config.Snapshot.Enabled = &enabled
	}
}

// RequiresRoot reports whether the run needs an effective UID of 0
func (c *Config) RequiresRoot() bool {
	return c.Deploy.RequireRoot == nil || *c.Deploy.RequireRoot
}

// VerifyDelay is the pause between the explicit start and the liveness check
func (c *Config) VerifyDelay() time.Duration {
	if c.Deploy.VerifyDelay == nil {
		return DefaultVerifyDelay
	}
	return *c.Deploy.VerifyDelay
}

// RefreshIndex reports whether the package index is refreshed before installs
func (c *Config) RefreshIndex() bool {
	return c.Packages.Refresh == nil || *c.Packages.Refresh
}

// SnapshotEnabled reports whether prior versions are snapshotted before replacement
func (c *Config) SnapshotEnabled() bool {
	return c.Snapshot.Enabled == nil || *c.Snapshot.Enabled
}

// ArtifactMode returns the parsed artifact file mode
func (c *Config) ArtifactMode() os.FileMode {
	mode, err := ParseFileMode(c.Service.Artifact.Mode)
	if err != nil {
		return 0755
	}
	return mode
}

// ParseFileMode parses an octal permission string such as "0755"
func ParseFileMode(mode string) (os.FileMode, error) {
	value, err := strconv.ParseUint(mode, 8, 32)
	if err != nil {
		return 0, errors.NewValidationError("file mode must be octal: "+mode, err)
	}
	if value > 0777 {
		return 0, errors.NewValidationError("file mode must only carry permission bits: "+mode, nil)
	}
	return os.FileMode(value), nil
}
