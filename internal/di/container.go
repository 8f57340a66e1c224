// Package di wires the node's components together for the start command.
package di

import (
	"os"
	"path/filepath"

	"go.uber.org/fx"

	"github.com/orbitfaas/orbit/pkg/engine"
	"github.com/orbitfaas/orbit/pkg/engine/config"
	"github.com/orbitfaas/orbit/pkg/engine/logging"
)

// AppConfig carries command-line settings into the container.
type AppConfig struct {
	ConfigPath string
	HTTPAddr   string
	LogLevel   string
}

// NewAppConfig creates the configuration for the fx application.
func NewAppConfig(configPath, httpAddr, logLevel string) *AppConfig {
	return &AppConfig{
		ConfigPath: configPath,
		HTTPAddr:   httpAddr,
		LogLevel:   logLevel,
	}
}

// Module provides every dependency the node needs at startup.
var Module = fx.Options(
	fx.Provide(
		ProvideConfig,
		ProvideLogger,
		ProvideEngine,
	),
)

// ProvideConfig loads the node configuration, falling back to defaults when
// no config file exists, and applies command-line overrides.
func ProvideConfig(appConfig *AppConfig) (*config.Config, error) {
	cfg, err := config.LoadConfig(expandHome(appConfig.ConfigPath))
	if err != nil {
		cfg = config.DefaultConfig()
	}

	if appConfig.HTTPAddr != "" {
		cfg.Server.HTTPAddr = appConfig.HTTPAddr
	}
	return cfg, nil
}

// ProvideLogger creates the node's logger.
func ProvideLogger(appConfig *AppConfig) logging.Logger {
	return logging.NewConsoleLogger(os.Stdout).WithLevel(logging.ParseLevel(appConfig.LogLevel))
}

// ProvideEngine creates the engine from configuration.
func ProvideEngine(cfg *config.Config, logger logging.Logger) (*engine.Engine, error) {
	return engine.NewEngineWithLogger(cfg, logger)
}

func expandHome(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(homeDir, path[1:])
}
