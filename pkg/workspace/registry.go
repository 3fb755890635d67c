// Package workspace resolves which workspace (and therefore which store
// file) a client invocation applies to, and maintains the named-workspace
// registry (§4.9). Grounded on
// original_source/src/services/workspace_registry.rs, translated from
// serde_json to encoding/json and from PathBuf keys to string keys (JSON
// object keys must be strings; Go's map[string]string does the same job).
package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/granary/pkg/config"
	"github.com/cuemby/granary/pkg/granaryerr"
)

const (
	registryFile = "registry.json"
	dbFile       = "granary.db"
)

// Metadata is the per-workspace record stored in the registry.
type Metadata struct {
	CreatedAt time.Time `json:"created_at"`
}

// Registry is the on-disk ${HOME}/.granary/workspaces/registry.json: a set
// of named workspaces plus the directory roots mapped to them.
type Registry struct {
	Roots      map[string]string   `json:"roots"`
	Workspaces map[string]Metadata `json:"workspaces"`
}

func empty() *Registry {
	return &Registry{
		Roots:      map[string]string{},
		Workspaces: map[string]Metadata{},
	}
}

// RegistryPath returns ${HOME}/.granary/workspaces/registry.json.
func RegistryPath() (string, error) {
	dir, err := config.WorkspacesDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, registryFile), nil
}

// WorkspaceDBPath returns ${HOME}/.granary/workspaces/<name>/granary.db.
func WorkspaceDBPath(name string) (string, error) {
	dir, err := config.WorkspacesDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name, dbFile), nil
}

// Load reads the registry from disk, returning an empty registry if it
// does not exist yet.
func Load() (*Registry, error) {
	path, err := RegistryPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return empty(), nil
		}
		return nil, fmt.Errorf("workspace: read registry: %w", err)
	}

	reg := empty()
	if err := json.Unmarshal(data, reg); err != nil {
		return nil, fmt.Errorf("workspace: parse registry: %w", err)
	}
	if reg.Roots == nil {
		reg.Roots = map[string]string{}
	}
	if reg.Workspaces == nil {
		reg.Workspaces = map[string]Metadata{}
	}
	return reg, nil
}

// Save writes the registry back to disk, creating parent directories.
func (r *Registry) Save() error {
	path, err := RegistryPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("workspace: create registry dir: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("workspace: marshal registry: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("workspace: write registry: %w", err)
	}
	return nil
}

// LookupRoot finds the workspace registered for dir, by exact match or by
// walking up to the deepest registered ancestor. Returns "", false if no
// ancestor of dir is registered.
func (r *Registry) LookupRoot(dir string) (string, bool) {
	current := filepath.Clean(dir)
	for {
		if ws, ok := r.Roots[current]; ok {
			return ws, true
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", false
		}
		current = parent
	}
}

// AddRoot maps path to workspace, failing with Conflict if path is already
// registered and UserInput if workspace does not exist.
func (r *Registry) AddRoot(path, workspace string) error {
	path = filepath.Clean(path)
	if existing, ok := r.Roots[path]; ok {
		return granaryerr.Newf(granaryerr.Conflict, "%s is already part of workspace %q", path, existing)
	}
	if _, ok := r.Workspaces[workspace]; !ok {
		return granaryerr.Newf(granaryerr.UserInput, "workspace %q does not exist; create it first", workspace)
	}
	r.Roots[path] = workspace
	return nil
}

// RemoveRoot deletes path from the registry, reporting whether it was
// present.
func (r *Registry) RemoveRoot(path string) bool {
	path = filepath.Clean(path)
	if _, ok := r.Roots[path]; !ok {
		return false
	}
	delete(r.Roots, path)
	return true
}

// CreateWorkspace registers a new named workspace and creates its
// directory on disk, failing with Conflict if the name is already taken.
func CreateWorkspace(r *Registry, name string) error {
	if _, ok := r.Workspaces[name]; ok {
		return granaryerr.Newf(granaryerr.Conflict, "workspace %q already exists", name)
	}

	dir, err := config.WorkspacesDir()
	if err != nil {
		return err
	}
	wsDir := filepath.Join(dir, name)
	if err := os.MkdirAll(wsDir, 0o700); err != nil {
		return fmt.Errorf("workspace: create %s: %w", wsDir, err)
	}

	r.Workspaces[name] = Metadata{CreatedAt: time.Now().UTC()}
	return nil
}

// Listing is one entry in ListWorkspaces's result.
type Listing struct {
	Name     string
	Metadata Metadata
	Roots    []string
}

// ListWorkspaces returns every registered workspace with its metadata and
// associated roots.
func (r *Registry) ListWorkspaces() []Listing {
	out := make([]Listing, 0, len(r.Workspaces))
	for name, meta := range r.Workspaces {
		var roots []string
		for path, ws := range r.Roots {
			if ws == name {
				roots = append(roots, path)
			}
		}
		out = append(out, Listing{Name: name, Metadata: meta, Roots: roots})
	}
	return out
}
