package workspace

import (
	"os"
	"path/filepath"

	"github.com/cuemby/granary/pkg/config"
)

// Mode identifies which resolution rule produced a Descriptor.
type Mode string

const (
	ModeOverrideHome Mode = "override_home"
	ModeLocal        Mode = "local"
	ModeNamed        Mode = "named"
	ModeDefault      Mode = "default"
)

// Descriptor is the resolved (name, mode, database_path) triple a client or
// daemon uses to pick its store file (§4.9).
type Descriptor struct {
	Name         string
	Mode         Mode
	DatabasePath string
}

const localMarkerDB = "granary.db"

// Resolve implements the precedence-ordered workspace lookup: OverrideHome
// (GRANARY_HOME env) > Local (walk up for a .granary/granary.db marker) >
// Named (registry's deepest registered ancestor) > Default. It never
// creates directories except, implicitly, the user's config directory on
// first access when falling through to Default.
func Resolve(cwd string) (Descriptor, error) {
	if override := os.Getenv("GRANARY_HOME"); override != "" {
		dbPath := filepath.Join(override, ".granary", "granary.db")
		return Descriptor{Name: "", Mode: ModeOverrideHome, DatabasePath: dbPath}, nil
	}

	if path, ok := findLocalMarker(cwd); ok {
		return Descriptor{Name: "", Mode: ModeLocal, DatabasePath: path}, nil
	}

	reg, err := Load()
	if err != nil {
		return Descriptor{}, err
	}
	if name, ok := reg.LookupRoot(cwd); ok {
		dbPath, err := WorkspaceDBPath(name)
		if err != nil {
			return Descriptor{}, err
		}
		return Descriptor{Name: name, Mode: ModeNamed, DatabasePath: dbPath}, nil
	}

	dbPath, err := config.DefaultDBPath()
	if err != nil {
		return Descriptor{}, err
	}
	return Descriptor{Name: "", Mode: ModeDefault, DatabasePath: dbPath}, nil
}

// findLocalMarker walks from dir upward looking for a .granary directory
// containing a granary.db file.
func findLocalMarker(dir string) (string, bool) {
	current := filepath.Clean(dir)
	for {
		candidate := filepath.Join(current, ".granary", localMarkerDB)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", false
		}
		current = parent
	}
}
