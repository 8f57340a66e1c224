package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	esbuild "github.com/evanw/esbuild/pkg/api"

	"github.com/orbitfaas/orbit/pkg/engine/errors"
	"github.com/orbitfaas/orbit/pkg/types"
)

// entryCandidates are tried in order when locating a deployment's entry
// point inside its directory.
var entryCandidates = []string{"index.ts", "index.js", "main.ts", "main.js"}

// BundleResolver serves deployments from a local directory tree, bundling
// TypeScript or multi-file sources with esbuild on first resolve. Layout:
//
//	<root>/<functionID>/<versionID>/descriptor.json
//	<root>/<functionID>/<versionID>/index.{ts,js}
//
// Intended for development and for nodes fed by an out-of-band sync of the
// deployment store.
type BundleResolver struct {
	root string
}

func NewBundleResolver(root string) *BundleResolver {
	return &BundleResolver{root: root}
}

// Resolve implements Resolver.
func (r *BundleResolver) Resolve(_ context.Context, id types.DeploymentID) (*Deployment, error) {
	dir := filepath.Join(r.root, id.FunctionID, id.VersionID)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, errors.ErrDeploymentNotFound.WithDeployment(id.FunctionID, id.VersionID)
	}

	descriptor, err := r.readDescriptor(dir)
	if err != nil {
		return nil, errors.ErrBundleInvalid.WithDeployment(id.FunctionID, id.VersionID).WithCause(err)
	}

	entry, err := findEntryPoint(dir)
	if err != nil {
		return nil, errors.ErrBundleInvalid.WithDeployment(id.FunctionID, id.VersionID).WithCause(err)
	}

	source, err := os.ReadFile(entry)
	if err != nil {
		return nil, errors.ErrBundleInvalid.WithDeployment(id.FunctionID, id.VersionID).WithCause(err)
	}

	bundle := source
	if needsBundling(entry, string(source)) {
		bundle, err = bundleEntry(dir, entry)
		if err != nil {
			return nil, errors.ErrBundleInvalid.WithDeployment(id.FunctionID, id.VersionID).WithCause(err)
		}
	}

	return &Deployment{ID: id, Bundle: bundle, Descriptor: *descriptor}, nil
}

func (r *BundleResolver) readDescriptor(dir string) (*types.Descriptor, error) {
	data, err := os.ReadFile(filepath.Join(dir, "descriptor.json"))
	if err != nil {
		return nil, fmt.Errorf("reading descriptor: %w", err)
	}

	var raw struct {
		MemoryLimitMB int               `json:"memory_limit_mb"`
		TimeoutMS     int               `json:"timeout_ms"`
		Environment   map[string]string `json:"environment"`
		Triggers      []types.Trigger   `json:"triggers"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing descriptor: %w", err)
	}

	d := &types.Descriptor{
		MemoryLimitMB: raw.MemoryLimitMB,
		Environment:   raw.Environment,
		Triggers:      raw.Triggers,
	}
	if raw.TimeoutMS > 0 {
		d.Timeout = time.Duration(raw.TimeoutMS) * time.Millisecond
	}
	return d, nil
}

func findEntryPoint(dir string) (string, error) {
	for _, name := range entryCandidates {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no entry point found in %s (tried %s)", dir, strings.Join(entryCandidates, ", "))
}

// needsBundling reports whether the entry point has to go through esbuild.
// TypeScript always does; plain JS only when it pulls in other files.
func needsBundling(entry, source string) bool {
	if strings.HasSuffix(entry, ".ts") {
		return true
	}
	return strings.Contains(source, "import ") || strings.Contains(source, "require(")
}

func bundleEntry(dir, entry string) ([]byte, error) {
	result := esbuild.Build(esbuild.BuildOptions{
		EntryPoints:   []string{entry},
		AbsWorkingDir: dir,
		Bundle:        true,
		Format:        esbuild.FormatESModule,
		Write:         false,
		Platform:      esbuild.PlatformBrowser,
		Target:        esbuild.ES2022,
		TreeShaking:   esbuild.TreeShakingFalse,
	})

	if len(result.Errors) > 0 {
		msgs := make([]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			msgs = append(msgs, e.Text)
		}
		return nil, fmt.Errorf("bundling failed: %s", strings.Join(msgs, "; "))
	}
	if len(result.OutputFiles) == 0 {
		return nil, fmt.Errorf("bundling produced no output")
	}

	return result.OutputFiles[0].Contents, nil
}
