package manifest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbitfaas/orbit/pkg/types"
)

func writeManifest(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadFunctionManifestToml(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "orbit.toml", `
[function]
name = "checkout"
entry = "index.js"

[function.settings]
memory_limit_mb = 128
timeout_ms = 5000
cron = "0 * * * *"

[function.settings.environment]
MODE = "prod"
`)

	m, err := LoadFunctionManifest(dir)
	require.NoError(t, err)

	assert.Equal(t, "checkout", m.FunctionSettings.Name)
	assert.Equal(t, "index.js", m.FunctionSettings.Entry)
	assert.Equal(t, 128, m.FunctionSettings.VersionSettings.MemoryLimitMB)
	assert.Equal(t, 5000, m.FunctionSettings.VersionSettings.TimeoutMS)
	assert.Equal(t, "0 * * * *", m.FunctionSettings.VersionSettings.Cron)
	assert.Equal(t, "prod", m.FunctionSettings.VersionSettings.Environment["MODE"])
}

func TestLoadFunctionManifestYaml(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "orbit.yaml", `
function:
  name: checkout
  settings:
    memory_limit_mb: 64
    timeout_ms: 2000
`)

	m, err := LoadFunctionManifest(dir)
	require.NoError(t, err)

	assert.Equal(t, "checkout", m.FunctionSettings.Name)
	assert.Equal(t, 64, m.FunctionSettings.VersionSettings.MemoryLimitMB)
}

func TestLoadFunctionManifestPrefersToml(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "orbit.toml", "[function]\nname = \"from-toml\"\n")
	writeManifest(t, dir, "orbit.yaml", "function:\n  name: from-yaml\n")

	m, err := LoadFunctionManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, "from-toml", m.FunctionSettings.Name)
}

func TestLoadFunctionManifestMissing(t *testing.T) {
	_, err := LoadFunctionManifest(t.TempDir())
	assert.Error(t, err)
}

func TestLoadFunctionManifestInvalid(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "orbit.toml", "[function]\nentry = \"index.js\"\n")

	_, err := LoadFunctionManifest(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "function.name")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		manifest FunctionManifest
		wantErr  bool
	}{
		{
			name: "valid",
			manifest: FunctionManifest{FunctionSettings: FunctionSettings{
				Name: "checkout",
			}},
		},
		{
			name:     "missing name",
			manifest: FunctionManifest{},
			wantErr:  true,
		},
		{
			name: "negative memory limit",
			manifest: FunctionManifest{FunctionSettings: FunctionSettings{
				Name:            "checkout",
				VersionSettings: FunctionVersionSettings{MemoryLimitMB: -1},
			}},
			wantErr: true,
		},
		{
			name: "negative timeout",
			manifest: FunctionManifest{FunctionSettings: FunctionSettings{
				Name:            "checkout",
				VersionSettings: FunctionVersionSettings{TimeoutMS: -5},
			}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.manifest.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDescriptor(t *testing.T) {
	m := FunctionManifest{FunctionSettings: FunctionSettings{
		Name: "checkout",
		VersionSettings: FunctionVersionSettings{
			MemoryLimitMB: 128,
			TimeoutMS:     5000,
			Environment:   map[string]string{"MODE": "prod"},
		},
	}}

	d := m.Descriptor()
	assert.Equal(t, 128, d.MemoryLimitMB)
	assert.Equal(t, 5*time.Second, d.Timeout)
	assert.Equal(t, "prod", d.Environment["MODE"])

	// HTTP is always declared; no cron trigger without a schedule.
	require.Len(t, d.Triggers, 1)
	assert.Equal(t, types.TriggerHTTP, d.Triggers[0].Kind)
}

func TestDescriptorWithCron(t *testing.T) {
	m := FunctionManifest{FunctionSettings: FunctionSettings{
		Name:            "reports",
		VersionSettings: FunctionVersionSettings{Cron: "@hourly"},
	}}

	d := m.Descriptor()
	require.Len(t, d.Triggers, 2)
	assert.Equal(t, types.TriggerCron, d.Triggers[1].Kind)
	assert.Equal(t, "@hourly", d.Triggers[1].Schedule)

	schedule, ok := d.CronSchedule()
	require.True(t, ok)
	assert.Equal(t, "@hourly", schedule)
}

func TestParseComposeFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orbit-compose.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: "1"
services:
  api:
    path: ./api
  worker:
    path: ./worker
    version: v7
    depends_on:
      - api
`), 0o644))

	m, err := ParseComposeFile(path)
	require.NoError(t, err)

	require.Len(t, m.Services, 2)
	assert.Equal(t, "./api", m.Services["api"].Path)
	assert.Equal(t, "v7", m.Services["worker"].Version)
	assert.Equal(t, []string{"api"}, m.Services["worker"].DependsOn)
}

func TestParseComposeFileMissingPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orbit-compose.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
services:
  api:
    version: v1
`), 0o644))

	_, err := ParseComposeFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path")
}

func TestParseComposeFileNoServices(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orbit-compose.yml")
	require.NoError(t, os.WriteFile(path, []byte("version: \"1\"\n"), 0o644))

	_, err := ParseComposeFile(path)
	assert.Error(t, err)
}

func TestParseComposeFileNotFound(t *testing.T) {
	_, err := ParseComposeFile(filepath.Join(t.TempDir(), "orbit-compose.yml"))
	assert.Error(t, err)
}
