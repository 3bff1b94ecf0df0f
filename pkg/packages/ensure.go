package packages

import (
	"context"

	"github.com/core-tools/palantir-deploy/pkg/logging"
)

// EnsureInstalled installs whichever of names are missing. When every package
// is already present no install command is issued. A failed index refresh is
// only a warning. Returns the packages that were installed.
func EnsureInstalled(ctx context.Context, manager Manager, names []string, refresh bool, logger logging.Logger) ([]string, error) {
	seen := make(map[string]bool, len(names))
	var missing []string

	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true

		installed, err := manager.Installed(ctx, name)
		if err != nil {
			return nil, err
		}
		if installed {
			logger.Debugf("Package already installed: %s", name)
			continue
		}
		missing = append(missing, name)
	}

	if len(missing) == 0 {
		logger.Infof("All packages present, manager: %s, packages: %v", manager.Name(), names)
		return nil, nil
	}

	if refresh {
		if err := manager.Refresh(ctx); err != nil {
			logger.Warnf("Package index refresh failed, continuing, error: %v", err)
		}
	}

	logger.Infof("Installing packages, manager: %s, packages: %v", manager.Name(), missing)
	if err := manager.Install(ctx, missing); err != nil {
		return nil, err
	}
	return missing, nil
}
