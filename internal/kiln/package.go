package kiln

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Source points at a source archive and the checksum it must match.
type Source struct {
	URL      string `yaml:"url" toml:"url"`
	Checksum string `yaml:"checksum" toml:"checksum"`
}

// PackageSpec is the declarative description of one package. It is never
// mutated once loaded.
type PackageSpec struct {
	Name         string               `yaml:"name" toml:"name"`
	Version      string               `yaml:"version" toml:"version"`
	Homepage     string               `yaml:"homepage" toml:"homepage"`
	Source       Source               `yaml:"source" toml:"source"`
	Head         *Source              `yaml:"head" toml:"head"`
	Dependencies []RequiredDependency `yaml:"dependencies" toml:"dependencies"`
	Features     []OptionalFeature    `yaml:"features" toml:"features"`
	Primary      PrimaryBuild         `yaml:"primary" toml:"primary"`
	PostInstall  PostInstall          `yaml:"post_install" toml:"post_install"`
}

// OptionalFeature is an externally requested toggle and everything it activates.
type OptionalFeature struct {
	Flag         string               `yaml:"flag" toml:"flag"`
	Description  string               `yaml:"description" toml:"description"`
	Dependencies []RequiredDependency `yaml:"dependencies" toml:"dependencies"`
	Defines      []Define             `yaml:"defines" toml:"defines"`
	EnvAppend    []EnvAppend          `yaml:"env_append" toml:"env_append"`
}

// RequiredDependency is a dependency of the package. With a Staged recipe it is
// built privately for this run; without one it must already be installed.
type RequiredDependency struct {
	Name      string        `yaml:"name" toml:"name"`
	BuildOnly bool          `yaml:"build_only" toml:"build_only"`
	When      string        `yaml:"when" toml:"when"`
	Staged    *StagedRecipe `yaml:"staged" toml:"staged"`
}

// ConditionKind is the kind of predicate guarding a dependency.
type ConditionKind int

const (
	CondAlways ConditionKind = iota
	CondFeature
	CondHead
)

// Condition parses the When field: "", "always", "head" or "feature:<flag>".
func (d RequiredDependency) Condition() (ConditionKind, string, error) {
	when := strings.TrimSpace(d.When)
	switch {
	case when == "" || when == "always":
		return CondAlways, "", nil
	case when == "head":
		return CondHead, "", nil
	case strings.HasPrefix(when, "feature:"):
		flag := normalizeFlag(strings.TrimPrefix(when, "feature:"))
		if flag == "" {
			return 0, "", fmt.Errorf("dependency %s: empty feature in condition %q", d.Name, d.When)
		}
		return CondFeature, flag, nil
	}
	return 0, "", fmt.Errorf("dependency %s: unknown condition %q", d.Name, d.When)
}

// StagedRecipe describes how to build a private copy of a build-only dependency.
type StagedRecipe struct {
	Source         Source     `yaml:"source" toml:"source"`
	Configure      []string   `yaml:"configure" toml:"configure"`
	ConfigureFlags []string   `yaml:"configure_flags" toml:"configure_flags"`
	NoPrefixFlag   bool       `yaml:"no_prefix_flag" toml:"no_prefix_flag"`
	Build          []string   `yaml:"build" toml:"build"`
	Install        []string   `yaml:"install" toml:"install"`
	Patches        []PatchSet `yaml:"patches" toml:"patches"`
	Artifacts      []Artifact `yaml:"artifacts" toml:"artifacts"`
}

// Artifact maps a build-system key to a path inside the staged prefix.
type Artifact struct {
	Key  string `yaml:"key" toml:"key"`
	Path string `yaml:"path" toml:"path"`
}

// PatchSet is the ordered rule list for one file of an unpacked source tree.
type PatchSet struct {
	File  string      `yaml:"file" toml:"file"`
	Rules []PatchRule `yaml:"rules" toml:"rules"`
}

// PrimaryBuild configures the generator/build-tool pair that produces the package.
type PrimaryBuild struct {
	StandardArgs []string `yaml:"standard_args" toml:"standard_args"`
	Generate     []string `yaml:"generate" toml:"generate"`
	Build        []string `yaml:"build" toml:"build"`
	BuildDir     string   `yaml:"build_dir" toml:"build_dir"`
	HeadDefines  []Define `yaml:"head_defines" toml:"head_defines"`
}

// Define is one -DKEY=VALUE argument. When Glob is set the value is looked up
// in a dependency's prefix instead.
type Define struct {
	Key   string      `yaml:"key" toml:"key"`
	Value string      `yaml:"value" toml:"value"`
	Glob  *GlobLookup `yaml:"glob" toml:"glob"`
}

// GlobLookup finds a versioned subdirectory inside a dependency's prefix.
type GlobLookup struct {
	Dependency string `yaml:"dependency" toml:"dependency"`
	Pattern    string `yaml:"pattern" toml:"pattern"`
}

// EnvAppend appends Value to the environment variable Var.
type EnvAppend struct {
	Var   string `yaml:"var" toml:"var"`
	Value string `yaml:"value" toml:"value"`
}

// PostInstall lists the wiring done after the primary build succeeded.
type PostInstall struct {
	RuntimeVersion []string   `yaml:"runtime_version" toml:"runtime_version"`
	Links          []Link     `yaml:"links" toml:"links"`
	Launchers      []Launcher `yaml:"launchers" toml:"launchers"`
}

// Link is a symlink Dest -> Target.
type Link struct {
	Target string `yaml:"target" toml:"target"`
	Dest   string `yaml:"dest" toml:"dest"`
}

// Launcher is a generated sh script exporting Var before exec'ing Exec.
type Launcher struct {
	Path  string   `yaml:"path" toml:"path"`
	Var   string   `yaml:"var" toml:"var"`
	Value string   `yaml:"value" toml:"value"`
	Exec  []string `yaml:"exec" toml:"exec"`
}

// defaults for the primary build: a CMake project generated out of tree.
var defaultStandardArgs = []string{
	"-DCMAKE_INSTALL_PREFIX=@prefix@",
	"-DCMAKE_BUILD_TYPE=None",
	"-DCMAKE_FIND_FRAMEWORK=LAST",
	"-Wno-dev",
}

var (
	defaultGenerate = []string{"cmake", ".."}
	defaultBuild    = []string{"make", "install"}
	defaultBuildDir = "build"
)

// defaults for staged dependencies: an autotools-style source tree.
var (
	defaultConfigure     = []string{"./configure"}
	defaultStagedBuild   = []string{"make"}
	defaultStagedInstall = []string{"make", "install"}
)

func orDefault(v, def []string) []string {
	if len(v) == 0 {
		return def
	}
	return v
}

// Validate checks the parts of a package description that would otherwise only
// fail in the middle of a build.
func (p *PackageSpec) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("package has no name")
	}
	seen := make(map[string]bool)
	for _, f := range p.Features {
		flag := normalizeFlag(f.Flag)
		if flag == "" {
			return fmt.Errorf("package %s: feature with empty flag", p.Name)
		}
		if seen[flag] {
			return fmt.Errorf("package %s: feature %s declared twice", p.Name, flag)
		}
		seen[flag] = true
	}
	check := func(d RequiredDependency) error {
		if d.Name == "" {
			return fmt.Errorf("package %s: dependency with empty name", p.Name)
		}
		// names become directories under the work dir
		if d.Name == "." || d.Name == ".." || filepath.Base(d.Name) != d.Name {
			return fmt.Errorf("package %s: invalid dependency name %q", p.Name, d.Name)
		}
		kind, flag, err := d.Condition()
		if err != nil {
			return err
		}
		if kind == CondFeature && !seen[flag] {
			return fmt.Errorf("dependency %s: condition names unknown feature %s", d.Name, flag)
		}
		if d.Staged != nil {
			for _, ps := range d.Staged.Patches {
				if _, err := compileRules(ps.Rules); err != nil {
					return fmt.Errorf("dependency %s: %s: %w", d.Name, ps.File, err)
				}
			}
		}
		return nil
	}
	for _, d := range p.Dependencies {
		if err := check(d); err != nil {
			return err
		}
	}
	for _, f := range p.Features {
		for _, d := range f.Dependencies {
			if err := check(d); err != nil {
				return err
			}
		}
	}
	return nil
}
