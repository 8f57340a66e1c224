package services

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbitfaas/orbit/pkg/types"
)

type fakePublisher struct {
	events []types.ChangeEvent
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, evt types.ChangeEvent) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, evt)
	return nil
}

func writeFunctionDir(t *testing.T, name string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	manifest := "[function]\nname = \"" + name + "\"\n\n[function.settings]\nmemory_limit_mb = 64\ntimeout_ms = 2000\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "orbit.toml"), []byte(manifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.js"),
		[]byte("export default { fetch() { return new Response('hi') } }"), 0o644))
	return dir
}

func TestInitFunctionJavaScript(t *testing.T) {
	s := NewDeployService(t.TempDir(), nil, nil)
	dir := filepath.Join(t.TempDir(), "greeter")

	require.NoError(t, s.InitFunction("greeter", dir, ""))

	data, err := os.ReadFile(filepath.Join(dir, "orbit.toml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `name = "greeter"`)

	source, err := os.ReadFile(filepath.Join(dir, "index.js"))
	require.NoError(t, err)
	assert.Contains(t, string(source), "Hello from greeter")
}

func TestInitFunctionTypeScript(t *testing.T) {
	s := NewDeployService(t.TempDir(), nil, nil)
	dir := filepath.Join(t.TempDir(), "greeter")

	require.NoError(t, s.InitFunction("greeter", dir, "typescript"))

	source, err := os.ReadFile(filepath.Join(dir, "index.ts"))
	require.NoError(t, err)
	assert.Contains(t, string(source), "Promise<HandlerResponse>")

	data, err := os.ReadFile(filepath.Join(dir, "orbit.toml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `entry = "index.ts"`)
}

func TestInitFunctionExistingDir(t *testing.T) {
	s := NewDeployService(t.TempDir(), nil, nil)
	dir := t.TempDir()

	err := s.InitFunction("greeter", dir, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestInitFunctionUnknownTemplate(t *testing.T) {
	s := NewDeployService(t.TempDir(), nil, nil)

	err := s.InitFunction("greeter", filepath.Join(t.TempDir(), "greeter"), "rust")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown template")
}

func TestDeployStagesFilesAndDescriptor(t *testing.T) {
	store := t.TempDir()
	publisher := &fakePublisher{}
	s := NewDeployService(store, publisher, nil)

	dir := writeFunctionDir(t, "checkout")
	result, err := s.Deploy(context.Background(), dir, "v1")
	require.NoError(t, err)

	assert.Equal(t, "checkout", result.FunctionID)
	assert.Equal(t, "v1", result.VersionID)
	assert.Equal(t, filepath.Join(store, "checkout", "v1"), result.Path)

	// Sources are staged next to the rendered descriptor.
	_, err = os.Stat(filepath.Join(result.Path, "index.js"))
	assert.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(result.Path, "descriptor.json"))
	require.NoError(t, err)

	var descriptor struct {
		MemoryLimitMB int   `json:"memory_limit_mb"`
		TimeoutMS     int64 `json:"timeout_ms"`
		Triggers      []struct {
			Kind string `json:"kind"`
		} `json:"triggers"`
	}
	require.NoError(t, json.Unmarshal(data, &descriptor))
	assert.Equal(t, 64, descriptor.MemoryLimitMB)
	assert.Equal(t, int64(2000), descriptor.TimeoutMS)
	require.Len(t, descriptor.Triggers, 1)
	assert.Equal(t, "http", descriptor.Triggers[0].Kind)

	require.Len(t, publisher.events, 1)
	evt := publisher.events[0]
	assert.Equal(t, types.ChangeDeployed, evt.Kind)
	assert.Equal(t, "checkout", evt.FunctionID)
	assert.Equal(t, "v1", evt.VersionID)
}

func TestDeployDerivesContentVersion(t *testing.T) {
	s := NewDeployService(t.TempDir(), nil, nil)

	dir := writeFunctionDir(t, "checkout")
	first, err := s.Deploy(context.Background(), dir, "")
	require.NoError(t, err)
	assert.Len(t, first.VersionID, 12)

	// Same content, same version.
	second, err := s.Deploy(context.Background(), dir, "")
	require.NoError(t, err)
	assert.Equal(t, first.VersionID, second.VersionID)

	// Changed content, new version.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.js"),
		[]byte("export default { fetch() { return new Response('changed') } }"), 0o644))
	third, err := s.Deploy(context.Background(), dir, "")
	require.NoError(t, err)
	assert.NotEqual(t, first.VersionID, third.VersionID)
}

func TestDeploySkipsExcludedDirs(t *testing.T) {
	s := NewDeployService(t.TempDir(), nil, nil)

	dir := writeFunctionDir(t, "checkout")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules", "lodash"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "node_modules", "lodash", "index.js"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", "HEAD"), []byte("ref"), 0o644))

	result, err := s.Deploy(context.Background(), dir, "v1")
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(result.Path, "node_modules"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(result.Path, ".git"))
	assert.True(t, os.IsNotExist(err))
}

func TestDeployMissingManifest(t *testing.T) {
	s := NewDeployService(t.TempDir(), nil, nil)
	_, err := s.Deploy(context.Background(), t.TempDir(), "v1")
	assert.Error(t, err)
}

func TestDeployPublishFailure(t *testing.T) {
	publisher := &fakePublisher{err: assert.AnError}
	s := NewDeployService(t.TempDir(), publisher, nil)

	dir := writeFunctionDir(t, "checkout")
	_, err := s.Deploy(context.Background(), dir, "v1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "announcement failed")
}

func TestRemoveVersion(t *testing.T) {
	store := t.TempDir()
	publisher := &fakePublisher{}
	s := NewDeployService(store, publisher, nil)

	dir := writeFunctionDir(t, "checkout")
	result, err := s.Deploy(context.Background(), dir, "v1")
	require.NoError(t, err)

	require.NoError(t, s.Remove(context.Background(), "checkout", "v1"))

	_, err = os.Stat(result.Path)
	assert.True(t, os.IsNotExist(err))

	require.Len(t, publisher.events, 2)
	evt := publisher.events[1]
	assert.Equal(t, types.ChangeRemoved, evt.Kind)
	assert.Equal(t, "v1", evt.VersionID)
}

func TestRemoveWholeFunction(t *testing.T) {
	store := t.TempDir()
	s := NewDeployService(store, nil, nil)

	dir := writeFunctionDir(t, "checkout")
	_, err := s.Deploy(context.Background(), dir, "v1")
	require.NoError(t, err)
	_, err = s.Deploy(context.Background(), dir, "v2")
	require.NoError(t, err)

	require.NoError(t, s.Remove(context.Background(), "checkout", ""))

	_, err = os.Stat(filepath.Join(store, "checkout"))
	assert.True(t, os.IsNotExist(err))
}

func TestRemoveRequiresFunctionName(t *testing.T) {
	s := NewDeployService(t.TempDir(), nil, nil)
	assert.Error(t, s.Remove(context.Background(), "", ""))
}
