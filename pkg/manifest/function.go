package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v2"

	"github.com/orbitfaas/orbit/pkg/types"
)

// Default manifest file names, checked in order.
var manifestFiles = []string{"orbit.toml", "orbit.yaml", "orbit.yml"}

// FunctionManifest describes one function as authored in its source
// directory. Deploy turns it into the descriptor the node executes against.
type FunctionManifest struct {
	FunctionSettings FunctionSettings `yaml:"function" toml:"function"`
}

type FunctionSettings struct {
	Name  string `yaml:"name" toml:"name"`
	Entry string `yaml:"entry,omitempty" toml:"entry,omitempty"`

	VersionSettings FunctionVersionSettings `yaml:"settings" toml:"settings"`
}

type FunctionVersionSettings struct {
	MemoryLimitMB int               `yaml:"memory_limit_mb,omitempty" toml:"memory_limit_mb,omitempty"`
	TimeoutMS     int               `yaml:"timeout_ms,omitempty" toml:"timeout_ms,omitempty"`
	Environment   map[string]string `yaml:"environment,omitempty" toml:"environment,omitempty"`
	Cron          string            `yaml:"cron,omitempty" toml:"cron,omitempty"`
}

func (m *FunctionManifest) MarshalYaml() ([]byte, error) {
	return yaml.Marshal(m)
}

func (m *FunctionManifest) MarshalToml() ([]byte, error) {
	return toml.Marshal(m)
}

// Validate checks the fields deploy depends on.
func (m *FunctionManifest) Validate() error {
	if m.FunctionSettings.Name == "" {
		return fmt.Errorf("manifest is missing required field 'function.name'")
	}
	if v := m.FunctionSettings.VersionSettings.MemoryLimitMB; v < 0 {
		return fmt.Errorf("memory_limit_mb must not be negative, got %d", v)
	}
	if v := m.FunctionSettings.VersionSettings.TimeoutMS; v < 0 {
		return fmt.Errorf("timeout_ms must not be negative, got %d", v)
	}
	return nil
}

// Descriptor converts the manifest into the runtime descriptor stored next
// to a deployed bundle.
func (m *FunctionManifest) Descriptor() types.Descriptor {
	settings := m.FunctionSettings.VersionSettings

	d := types.Descriptor{
		MemoryLimitMB: settings.MemoryLimitMB,
		Timeout:       time.Duration(settings.TimeoutMS) * time.Millisecond,
		Environment:   settings.Environment,
		Triggers:      []types.Trigger{{Kind: types.TriggerHTTP}},
	}
	if settings.Cron != "" {
		d.Triggers = append(d.Triggers, types.Trigger{Kind: types.TriggerCron, Schedule: settings.Cron})
	}
	return d
}

// LoadFunctionManifest reads the manifest from a function directory,
// accepting either the toml or yaml form.
func LoadFunctionManifest(dir string) (*FunctionManifest, error) {
	for _, name := range manifestFiles {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
		}

		var m FunctionManifest
		if filepath.Ext(name) == ".toml" {
			if err := toml.Unmarshal(data, &m); err != nil {
				return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
			}
		} else {
			if err := yaml.Unmarshal(data, &m); err != nil {
				return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
			}
		}

		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
		}
		return &m, nil
	}
	return nil, fmt.Errorf("no manifest found in %s, expected one of %v", dir, manifestFiles)
}
