package deploy

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/core-tools/palantir-deploy/pkg/errors"
	"github.com/core-tools/palantir-deploy/pkg/logging"
	"github.com/core-tools/palantir-deploy/pkg/packages"
)

var validLogFormats = []string{"console", "json"}

// ValidateConfig validates the entire configuration structure
func ValidateConfig(config *Config) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	collection := errors.NewErrorCollection()
	collection.Add(validateDeployOptions(&config.Deploy))
	collection.Add(validatePackagesConfig(&config.Packages))
	collection.Add(validateServiceConfig(&config.Service))

	if err := collection.ToError(); err != nil {
		return errors.NewValidationError("invalid configuration", err)
	}
	return nil
}

func validateDeployOptions(options *DeployOptions) error {
	collection := errors.NewErrorCollection()

	if _, err := logging.ParseLevel(options.LogLevel); err != nil {
		collection.Add(errors.NewValidationError(
			fmt.Sprintf("invalid log level: %s", options.LogLevel),
			nil,
		).WithContext("valid_levels", "debug, info, warn, error"))
	}

	if !contains(validLogFormats, options.LogFormat) {
		collection.Add(errors.NewValidationError(
			fmt.Sprintf("invalid log format: %s", options.LogFormat),
			nil,
		).WithContext("valid_formats", strings.Join(validLogFormats, ", ")))
	}

	collection.Add(ValidateAbsolutePath(options.StateDir, "state_dir"))
	if options.RunDir != "" {
		collection.Add(ValidateAbsolutePath(options.RunDir, "run_dir"))
	}

	if options.VerifyDelay != nil {
		collection.Add(ValidateDelay(*options.VerifyDelay, "verify_delay"))
	}

	return collection.ToError()
}

func validatePackagesConfig(config *PackagesConfig) error {
	collection := errors.NewErrorCollection()

	if !packages.KnownManager(config.Manager) {
		collection.Add(errors.NewValidationError(
			fmt.Sprintf("unsupported package manager: %s", config.Manager),
			nil,
		).WithContext("supported_managers", "auto, apt-get, dnf, yum, pacman"))
	}

	for i, name := range config.Names {
		if err := ValidatePackageName(name); err != nil {
			collection.Add(errors.NewValidationError(
				fmt.Sprintf("invalid package name at index %d", i),
				err,
			).WithContext("package", name))
		}
	}

	return collection.ToError()
}

func validateServiceConfig(config *ServiceConfig) error {
	collection := errors.NewErrorCollection()

	collection.Add(ValidateServiceName(config.Name))

	if strings.TrimSpace(config.Artifact.Source) == "" {
		collection.Add(errors.NewValidationError("artifact source cannot be empty", nil))
	}
	collection.Add(ValidateAbsolutePath(config.Artifact.InstallPath, "artifact install_path"))
	if _, err := ParseFileMode(config.Artifact.Mode); err != nil {
		collection.Add(errors.NewValidationError("invalid artifact mode", err).WithContext("mode", config.Artifact.Mode))
	}

	if strings.TrimSpace(config.Unit.Source) == "" {
		collection.Add(errors.NewValidationError("unit source cannot be empty", nil))
	}
	collection.Add(ValidateAbsolutePath(config.Unit.InstallDir, "unit install_dir"))

	return collection.ToError()
}

// ValidateServiceName validates service name format and constraints
func ValidateServiceName(name string) error {
	if name == "" {
		return errors.NewValidationError("service name cannot be empty", nil)
	}

	if len(name) > 64 {
		return errors.NewValidationError("service name cannot exceed 64 characters", nil)
	}

	for _, char := range name {
		if !isValidServiceNameChar(char) {
			return errors.NewValidationError("service name contains invalid characters: only letters, numbers, hyphens, underscores, dots and '@' are allowed", nil).
				WithContext("name", name)
		}
	}

	return nil
}

// ValidatePackageName validates an OS package name
func ValidatePackageName(name string) error {
	if name == "" {
		return errors.NewValidationError("package name cannot be empty", nil)
	}
	if strings.HasPrefix(name, "-") {
		return errors.NewValidationError("package name cannot start with '-'", nil)
	}
	for _, char := range name {
		if unicode.IsSpace(char) || unicode.IsControl(char) {
			return errors.NewValidationError("package name cannot contain whitespace", nil)
		}
	}
	return nil
}

// ValidateAbsolutePath validates that a configured path is absolute
func ValidateAbsolutePath(path, name string) error {
	if path == "" {
		return errors.NewValidationError(name+" cannot be empty", nil)
	}
	if !filepath.IsAbs(path) {
		return errors.NewValidationError(name+" must be an absolute path", nil).WithContext("path", path)
	}
	return nil
}

// ValidateDelay validates a delay duration
func ValidateDelay(delay time.Duration, name string) error {
	if delay < 0 {
		return errors.NewValidationError(name+" cannot be negative", nil)
	}
	return nil
}

// Helper function to check if character is valid for a service name
func isValidServiceNameChar(char rune) bool {
	return (char >= 'a' && char <= 'z') ||
		(char >= 'A' && char <= 'Z') ||
		(char >= '0' && char <= '9') ||
		char == '-' || char == '_' || char == '.' || char == '@'
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
