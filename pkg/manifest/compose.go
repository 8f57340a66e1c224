package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

// ComposeManifest represents the structure of an orbit-compose.yml file.
type ComposeManifest struct {
	Version  string                    `yaml:"version,omitempty"`
	Services map[string]ComposeService `yaml:"services"`
}

// ComposeService is a single function entry in the compose file.
type ComposeService struct {
	// Path to the function's source directory, relative to the compose file.
	Path string `yaml:"path"`
	// Version to publish under. Empty means deploy generates one.
	Version     string            `yaml:"version,omitempty"`
	Environment map[string]string `yaml:"environment,omitempty"`
	DependsOn   []string          `yaml:"depends_on,omitempty"`
}

// ParseComposeFile parses an orbit-compose.yml file.
func ParseComposeFile(filePath string) (*ComposeManifest, error) {
	if filePath == "" {
		defaultFiles := []string{"orbit-compose.yml", "orbit-compose.yaml"}
		found := false
		for _, file := range defaultFiles {
			if _, err := os.Stat(file); err == nil {
				filePath = file
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("no compose file found, expected %s in current directory", defaultFiles[0])
		}
	}

	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve compose file path: %w", err)
	}

	if _, err := os.Stat(absPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("compose file not found: %s", absPath)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read compose file: %w", err)
	}

	var manifest ComposeManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse compose file: %w", err)
	}

	if len(manifest.Services) == 0 {
		return nil, fmt.Errorf("compose file must contain at least one service")
	}

	for name, service := range manifest.Services {
		if service.Path == "" {
			return nil, fmt.Errorf("service '%s' is missing required 'path' field", name)
		}
	}

	return &manifest, nil
}
