package workspace

import (
	"os"
	"path/filepath"

	"github.com/cuemby/granary/pkg/granaryerr"
)

// InitOptions configures the Init operation (§4.9's CLI-only "Init
// operation"), grounded on
// original_source/tests/workspace_integration.rs's init validation suite.
type InitOptions struct {
	// Name is the workspace name; if empty, derived from Dir's basename.
	Name string
	// Local requests a .granary/ directory inside Dir rather than a named
	// workspace registered under the user's config directory.
	Local bool
	// Force bypasses the already-initialized and nested-workspace checks.
	Force bool
	// SkipGitCheck bypasses the git-repo-root requirement.
	SkipGitCheck bool
}

// InitResult describes the outcome of a successful Init.
type InitResult struct {
	Name string
	Mode Mode
	Path string
}

// Init implements `granary workspace init` / `granary init`: validates the
// target directory is eligible, then creates either a local .granary/
// directory or a named workspace registry entry.
func Init(dir string, opts InitOptions) (InitResult, error) {
	dir = filepath.Clean(dir)

	name := opts.Name
	if name == "" {
		name = filepath.Base(dir)
	}

	if !opts.Force {
		if err := checkNotAlreadyInitialized(dir); err != nil {
			return InitResult{}, err
		}
	}

	if !opts.SkipGitCheck {
		if err := checkGitRoot(dir); err != nil {
			return InitResult{}, err
		}
	}

	if opts.Local {
		return initLocal(dir)
	}
	return initNamed(dir, name)
}

// checkNotAlreadyInitialized rejects re-initialization at dir or any
// ancestor, whether the existing workspace is local or named.
func checkNotAlreadyInitialized(dir string) error {
	if _, err := os.Stat(filepath.Join(dir, ".granary")); err == nil {
		return granaryerr.New(granaryerr.Conflict, "already initialized: .granary already exists here")
	}

	current := dir
	for {
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		current = parent
		if _, err := os.Stat(filepath.Join(current, ".granary")); err == nil {
			return granaryerr.Newf(granaryerr.Conflict, "already initialized inside workspace at %s", current)
		}
	}

	reg, err := Load()
	if err != nil {
		return err
	}
	if ws, ok := reg.LookupRoot(dir); ok {
		return granaryerr.Newf(granaryerr.Conflict, "already initialized: %s is part of workspace %q", dir, ws)
	}
	return nil
}

// checkGitRoot requires that, if any ancestor of dir (inclusive) is a git
// repository, dir itself is that repository's root.
func checkGitRoot(dir string) error {
	current := dir
	for {
		if _, err := os.Stat(filepath.Join(current, ".git")); err == nil {
			if current != dir {
				return granaryerr.Newf(granaryerr.UserInput, "%s is not the git repository root (root is %s); use --skip-git-check to override", dir, current)
			}
			return nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return nil
		}
		current = parent
	}
}

func initLocal(dir string) (InitResult, error) {
	localDir := filepath.Join(dir, ".granary")
	if err := os.MkdirAll(localDir, 0o700); err != nil {
		return InitResult{}, err
	}
	dbPath := filepath.Join(localDir, localMarkerDB)
	if err := touchDB(dbPath); err != nil {
		return InitResult{}, err
	}
	return InitResult{Name: filepath.Base(dir), Mode: ModeLocal, Path: dbPath}, nil
}

func initNamed(dir, name string) (InitResult, error) {
	reg, err := Load()
	if err != nil {
		return InitResult{}, err
	}

	if _, ok := reg.Workspaces[name]; !ok {
		if err := CreateWorkspace(reg, name); err != nil {
			return InitResult{}, err
		}
	}
	if err := reg.AddRoot(dir, name); err != nil {
		return InitResult{}, err
	}
	if err := reg.Save(); err != nil {
		return InitResult{}, err
	}

	dbPath, err := WorkspaceDBPath(name)
	if err != nil {
		return InitResult{}, err
	}
	if err := touchDB(dbPath); err != nil {
		return InitResult{}, err
	}
	return InitResult{Name: name, Mode: ModeNamed, Path: dbPath}, nil
}

// touchDB creates an empty placeholder file at path if none exists yet; the
// real bbolt file is created lazily on first store open (pkg/storage).
func touchDB(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o600)
	if err != nil {
		return err
	}
	return f.Close()
}
