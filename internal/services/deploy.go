package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	git "github.com/go-git/go-git/v5"

	"github.com/orbitfaas/orbit/pkg/client"
	"github.com/orbitfaas/orbit/pkg/manifest"
	"github.com/orbitfaas/orbit/pkg/types"
)

// Publisher abstracts the change feed deploys are announced on.
type Publisher interface {
	Publish(ctx context.Context, evt types.ChangeEvent) error
}

// DeployService defines the client-side function lifecycle operations.
type DeployService interface {
	// InitFunction scaffolds a new function directory from a built-in
	// template ("javascript" or "typescript").
	InitFunction(name, dir, template string) error

	// InitFromGit scaffolds a new function directory by cloning a template
	// repository.
	InitFromGit(name, gitURL, dir string) error

	// Deploy publishes one version of a function into the deployment store
	// and announces it on the change feed. An empty version derives one from
	// the source content.
	Deploy(ctx context.Context, dir, version string) (*DeployResult, error)

	// Remove deletes a published version and announces its removal. An empty
	// version removes the whole function.
	Remove(ctx context.Context, functionID, versionID string) error
}

// DeployResult describes one completed deploy.
type DeployResult struct {
	FunctionID string
	VersionID  string
	Previous   string
	Path       string
}

// skipDirs are never copied into or hashed as part of a deployment.
var skipDirs = map[string]bool{".git": true, "node_modules": true}

type deployService struct {
	deploymentsDir string
	publisher      Publisher
	engineClient   client.EngineClient
}

// NewDeployService creates a deploy service writing into deploymentsDir.
// Both publisher and engineClient are optional: without a publisher the
// deploy is file-only, and without an engine client the previous active
// version is not resolved.
func NewDeployService(deploymentsDir string, publisher Publisher, engineClient client.EngineClient) DeployService {
	return &deployService{
		deploymentsDir: deploymentsDir,
		publisher:      publisher,
		engineClient:   engineClient,
	}
}

func (s *deployService) Deploy(ctx context.Context, dir, version string) (*DeployResult, error) {
	m, err := manifest.LoadFunctionManifest(dir)
	if err != nil {
		return nil, err
	}
	name := m.FunctionSettings.Name

	if version == "" {
		version, err = hashDir(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to derive version from source: %w", err)
		}
	}

	target := filepath.Join(s.deploymentsDir, name, version)
	if err := copyDir(dir, target); err != nil {
		return nil, fmt.Errorf("failed to stage deployment: %w", err)
	}
	if err := writeDescriptor(target, m.Descriptor()); err != nil {
		return nil, err
	}

	result := &DeployResult{
		FunctionID: name,
		VersionID:  version,
		Previous:   s.previousVersion(ctx, name),
		Path:       target,
	}

	if s.publisher != nil {
		evt := types.ChangeEvent{
			FunctionID:        name,
			VersionID:         version,
			PreviousVersionID: result.Previous,
			Kind:              types.ChangeDeployed,
		}
		if err := s.publisher.Publish(ctx, evt); err != nil {
			return nil, fmt.Errorf("deployment staged at %s but announcement failed: %w", target, err)
		}
	}
	return result, nil
}

func (s *deployService) Remove(ctx context.Context, functionID, versionID string) error {
	if functionID == "" {
		return errors.New("function name is required")
	}

	target := filepath.Join(s.deploymentsDir, functionID)
	if versionID != "" {
		target = filepath.Join(target, versionID)
	}
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("failed to remove deployment files: %w", err)
	}

	if s.publisher != nil {
		evt := types.ChangeEvent{
			FunctionID: functionID,
			VersionID:  versionID,
			Kind:       types.ChangeRemoved,
		}
		if err := s.publisher.Publish(ctx, evt); err != nil {
			return fmt.Errorf("deployment removed but announcement failed: %w", err)
		}
	}
	return nil
}

// previousVersion asks the node which version currently serves the function.
// Best effort: a node that is down just means no previous version is named.
func (s *deployService) previousVersion(ctx context.Context, functionID string) string {
	if s.engineClient == nil {
		return ""
	}
	statusCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	status, err := s.engineClient.Status(statusCtx)
	if err != nil {
		return ""
	}
	return status.Routes[functionID]
}

const jsTemplate = `export default async function handler(request) {
	return {
		status: 200,
		headers: { "Content-Type": "application/json" },
		body: JSON.stringify({ message: "Hello from %s" }),
	};
}
`

const tsTemplate = `interface HandlerResponse {
	status: number;
	headers: Record<string, string>;
	body: string;
}

export default async function handler(request: Request): Promise<HandlerResponse> {
	return {
		status: 200,
		headers: { "Content-Type": "application/json" },
		body: JSON.stringify({ message: "Hello from %s" }),
	};
}
`

func (s *deployService) InitFunction(name, dir, template string) error {
	if name == "" {
		return errors.New("function name is required")
	}
	if dir == "" {
		dir = name
	}

	entry, source := "index.js", jsTemplate
	switch template {
	case "", "javascript":
	case "typescript":
		entry, source = "index.ts", tsTemplate
	default:
		return fmt.Errorf("unknown template %q, expected javascript or typescript", template)
	}

	if _, err := os.Stat(dir); err == nil {
		return fmt.Errorf("directory %s already exists", dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create function directory: %w", err)
	}

	m := &manifest.FunctionManifest{
		FunctionSettings: manifest.FunctionSettings{
			Name:  name,
			Entry: entry,
			VersionSettings: manifest.FunctionVersionSettings{
				MemoryLimitMB: 128,
				TimeoutMS:     int((30 * time.Second).Milliseconds()),
			},
		},
	}
	data, err := m.MarshalToml()
	if err != nil {
		return fmt.Errorf("failed to render manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "orbit.toml"), data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, entry), []byte(fmt.Sprintf(source, name)), 0o644); err != nil {
		return fmt.Errorf("failed to write entry point: %w", err)
	}
	return nil
}

func (s *deployService) InitFromGit(name, gitURL, dir string) error {
	if name == "" {
		return errors.New("function name is required")
	}
	if dir == "" {
		dir = name
	}

	if _, err := os.Stat(dir); err == nil {
		return fmt.Errorf("directory %s already exists", dir)
	}

	if _, err := git.PlainClone(dir, false, &git.CloneOptions{
		URL:   gitURL,
		Depth: 1,
	}); err != nil {
		return fmt.Errorf("failed to clone template repository: %w", err)
	}

	// The clone is a starting point for a new function, not a checkout.
	if err := os.RemoveAll(filepath.Join(dir, ".git")); err != nil {
		return fmt.Errorf("failed to detach template from git: %w", err)
	}

	m, err := manifest.LoadFunctionManifest(dir)
	if err != nil {
		return fmt.Errorf("template repository has no usable manifest: %w", err)
	}
	if m.FunctionSettings.Name == name {
		return nil
	}

	// Rewrite the manifest so the function carries the requested name.
	m.FunctionSettings.Name = name
	data, err := m.MarshalToml()
	if err != nil {
		return fmt.Errorf("failed to render manifest: %w", err)
	}
	for _, stale := range []string{"orbit.yaml", "orbit.yml"} {
		_ = os.Remove(filepath.Join(dir, stale))
	}
	if err := os.WriteFile(filepath.Join(dir, "orbit.toml"), data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// writeDescriptor renders the runtime descriptor next to the staged sources.
func writeDescriptor(dir string, d types.Descriptor) error {
	payload := struct {
		MemoryLimitMB int               `json:"memory_limit_mb,omitempty"`
		TimeoutMS     int64             `json:"timeout_ms,omitempty"`
		Environment   map[string]string `json:"environment,omitempty"`
		Triggers      []types.Trigger   `json:"triggers,omitempty"`
	}{
		MemoryLimitMB: d.MemoryLimitMB,
		TimeoutMS:     d.Timeout.Milliseconds(),
		Environment:   d.Environment,
		Triggers:      d.Triggers,
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal descriptor: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "descriptor.json"), data, 0o644); err != nil {
		return fmt.Errorf("failed to write descriptor: %w", err)
	}
	return nil
}

// hashDir derives a content version from every source file in the directory.
func hashDir(dir string) (string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return "", err
	}
	sort.Strings(files)

	hasher := sha256.New()
	for _, path := range files {
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return "", err
		}
		io.WriteString(hasher, filepath.ToSlash(rel))

		f, err := os.Open(path)
		if err != nil {
			return "", err
		}
		_, err = io.Copy(hasher, f)
		f.Close()
		if err != nil {
			return "", err
		}
	}

	return hex.EncodeToString(hasher.Sum(nil))[:12], nil
}

// copyDir copies the function sources into the deployment store.
func copyDir(src, dst string) error {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() {
			if skipDirs[d.Name()] || strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return os.MkdirAll(filepath.Join(dst, rel), 0o755)
		}
		return copyFile(path, filepath.Join(dst, rel))
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
