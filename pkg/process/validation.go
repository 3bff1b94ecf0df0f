package process

import (
	"strings"

	"github.com/core-tools/palantir-deploy/pkg/errors"
)

// ValidateCommand validates a command before it is executed
func ValidateCommand(cmd Command) error {
	if strings.TrimSpace(cmd.Name) == "" {
		return errors.NewValidationError("command name is required", nil)
	}

	for _, env := range cmd.Env {
		if !strings.Contains(env, "=") {
			return errors.NewValidationError("invalid environment variable format: "+env, nil)
		}
	}

	return nil
}
