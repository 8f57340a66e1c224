package config

import (
	"os"
	"path/filepath"

	"github.com/orbitfaas/orbit/pkg/engine/config"
)

// DefaultServerAddress is where client commands reach a local node unless
// told otherwise.
const DefaultServerAddress = "http://127.0.0.1:8090"

// DefaultDeploymentsDir returns the directory deploy writes function
// versions into and the node resolves them from.
func DefaultDeploymentsDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".orbit", "deployments")
}

// Global configuration variables shared across commands.
var (
	// ConfigPath is the path to the configuration file (only used by the
	// start command)
	ConfigPath = config.DefaultConfigPath

	// ServerAddress is the node endpoint client commands talk to
	ServerAddress = DefaultServerAddress
)
