package kiln

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// BuildContext is the state of one orchestration run. It is created by the
// orchestrator, threaded through every component and discarded afterwards.
type BuildContext struct {
	Package      *PackageSpec
	WorkDir      string // private to this run
	SourceDir    string // unpacked primary source
	Prefix       string // final install prefix
	SharedPrefix string
	Resolution   Resolution

	Staged      map[string]string // staged dependency -> isolated prefix
	StagedOrder []string
	External    map[string]string // installed dependency -> prefix

	Args           *ArgumentAssembler
	Env            *Environment
	RuntimeVersion string

	recipes map[string]*StagedRecipe
}

func newBuildContext(spec *PackageSpec, workDir, prefix, shared string, res Resolution, environ []string) *BuildContext {
	return &BuildContext{
		Package:      spec,
		WorkDir:      workDir,
		Prefix:       prefix,
		SharedPrefix: shared,
		Resolution:   res,
		Staged:       make(map[string]string),
		External:     make(map[string]string),
		Args:         NewArgumentAssembler(),
		Env:          NewEnvironment(environ),
		recipes:      make(map[string]*StagedRecipe),
	}
}

// DependencyPrefix returns the prefix of a staged or installed dependency.
func (bc *BuildContext) DependencyPrefix(name string) (string, bool) {
	if p, ok := bc.Staged[name]; ok {
		return p, true
	}
	p, ok := bc.External[name]
	return p, ok
}

func (bc *BuildContext) stagedRecipe(name string) *StagedRecipe {
	return bc.recipes[name]
}

// StagedPrefix is where a staged dependency of this run is installed.
func (bc *BuildContext) StagedPrefix(name string) string {
	return filepath.Join(bc.WorkDir, "staged", name)
}

// claimPrefix checks the isolated prefix for name: inside the work dir, not
// claimed by another dependency of this run, and absent or empty on disk.
func (bc *BuildContext) claimPrefix(name string) (string, error) {
	prefix := bc.StagedPrefix(name)

	rel, err := filepath.Rel(bc.WorkDir, prefix)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", &PrefixCollisionError{Prefix: prefix, Reason: "outside the run's work directory"}
	}
	for dep, p := range bc.Staged {
		if p == prefix {
			return "", &PrefixCollisionError{Prefix: prefix, Reason: fmt.Sprintf("already used by %s", dep)}
		}
	}

	entries, err := os.ReadDir(prefix)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return "", &PrefixCollisionError{Prefix: prefix, Reason: err.Error()}
	case len(entries) > 0:
		return "", &PrefixCollisionError{Prefix: prefix, Reason: "directory is not empty"}
	}
	return prefix, nil
}

func (bc *BuildContext) placeholders() placeholders {
	vars := map[string]string{
		"prefix":  bc.Prefix,
		"lib":     filepath.Join(bc.Prefix, "lib"),
		"bin":     filepath.Join(bc.Prefix, "bin"),
		"include": filepath.Join(bc.Prefix, "include"),
		"shared":  bc.SharedPrefix,
		"workdir": bc.WorkDir,
	}
	if bc.Package != nil {
		vars["name"] = bc.Package.Name
		vars["version"] = bc.Package.Version
	}
	if bc.RuntimeVersion != "" {
		vars["runtime_version"] = bc.RuntimeVersion
	}
	return placeholders{vars: vars, dep: bc.DependencyPrefix}
}
