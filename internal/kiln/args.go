package kiln

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// ArgumentAssembler accumulates the ordered argument list for the primary
// build system. A -D key is emitted at most once. It is owned by a single run.
type ArgumentAssembler struct {
	args    []string
	defines map[string]string
	flags   map[string]bool
}

func NewArgumentAssembler() *ArgumentAssembler {
	return &ArgumentAssembler{
		defines: make(map[string]string),
		flags:   make(map[string]bool),
	}
}

// defineKey extracts KEY from -DKEY=VALUE, -DKEY:TYPE=VALUE or a bare -DKEY,
// which counts as an empty value.
func defineKey(arg string) (key, value string, ok bool) {
	if !strings.HasPrefix(arg, "-D") {
		return "", "", false
	}
	body := strings.TrimPrefix(arg, "-D")
	k, v, _ := strings.Cut(body, "=")
	if k == "" {
		return "", "", false
	}
	if i := strings.IndexByte(k, ':'); i > 0 {
		k = k[:i]
	}
	return k, v, true
}

// Define appends -Dkey=value. Re-defining a key with the same value is a no-op,
// with a different value an ErrDuplicateDefine.
func (a *ArgumentAssembler) Define(key, value string) error {
	return a.Add("-D" + key + "=" + value)
}

// Add appends a raw argument. -D arguments go through the key check; anything
// else is appended once.
func (a *ArgumentAssembler) Add(arg string) error {
	key, value, ok := defineKey(arg)
	if !ok {
		if a.flags[arg] {
			return nil
		}
		a.flags[arg] = true
		a.args = append(a.args, arg)
		return nil
	}
	if prev, exists := a.defines[key]; exists {
		if prev == value {
			return nil
		}
		return fmt.Errorf("%w: %s=%q conflicts with %s=%q", ErrDuplicateDefine, key, value, key, prev)
	}
	a.defines[key] = value
	a.args = append(a.args, arg)
	return nil
}

// Args returns a copy of the assembled arguments in insertion order.
func (a *ArgumentAssembler) Args() []string {
	out := make([]string, len(a.args))
	copy(out, a.args)
	return out
}

// Lookup returns the value of a -D key.
func (a *ArgumentAssembler) Lookup(key string) (string, bool) {
	v, ok := a.defines[key]
	return v, ok
}

// AssembleArgs fills bc.Args and bc.Env for the primary build: standard
// arguments, staged artifact locations, head-only defines and the defines and
// environment additions of every enabled feature.
func AssembleArgs(spec *PackageSpec, bc *BuildContext) error {
	ph := bc.placeholders()

	for _, raw := range orDefault(spec.Primary.StandardArgs, defaultStandardArgs) {
		arg, err := ph.expand(raw)
		if err != nil {
			return err
		}
		if err := bc.Args.Add(arg); err != nil {
			return err
		}
	}

	for _, name := range bc.StagedOrder {
		dep := bc.stagedRecipe(name)
		if dep == nil {
			continue
		}
		prefix := bc.Staged[name]
		for _, art := range dep.Artifacts {
			if err := bc.Args.Define(art.Key, filepath.Join(prefix, art.Path)); err != nil {
				return err
			}
		}
	}

	if bc.Resolution.Head {
		for _, d := range spec.Primary.HeadDefines {
			if err := defineOne(bc, ph, d); err != nil {
				return err
			}
		}
	}

	for _, f := range spec.Features {
		if !bc.Resolution.Feature(f.Flag) {
			continue
		}
		for _, d := range f.Defines {
			if err := defineOne(bc, ph, d); err != nil {
				return fmt.Errorf("feature %s: %w", normalizeFlag(f.Flag), err)
			}
		}
		for _, e := range f.EnvAppend {
			v, err := ph.expand(e.Value)
			if err != nil {
				return fmt.Errorf("feature %s: %w", normalizeFlag(f.Flag), err)
			}
			bc.Env.Append(e.Var, v)
		}
	}
	return nil
}

func defineOne(bc *BuildContext, ph placeholders, d Define) error {
	if d.Glob != nil {
		v, err := globVersioned(bc, d.Glob)
		if err != nil {
			return err
		}
		return bc.Args.Define(d.Key, v)
	}
	v, err := ph.expand(d.Value)
	if err != nil {
		return err
	}
	return bc.Args.Define(d.Key, v)
}

// globVersioned resolves a versioned subdirectory such as grass-6.4.2 inside a
// dependency's prefix. With several candidates the lexicographically greatest
// wins; with none the lookup fails.
func globVersioned(bc *BuildContext, g *GlobLookup) (string, error) {
	prefix, ok := bc.DependencyPrefix(g.Dependency)
	if !ok {
		return "", fmt.Errorf("%w: %s (glob %s)", ErrDependencyMissing, g.Dependency, g.Pattern)
	}
	matches, err := filepath.Glob(filepath.Join(prefix, g.Pattern))
	if err != nil {
		return "", fmt.Errorf("glob %s in %s: %w", g.Pattern, prefix, err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no match for %s in %s", g.Pattern, prefix)
	}
	sort.Strings(matches)
	if len(matches) > 1 {
		logger.Debug("several versioned directories, taking the last", "dep", g.Dependency, "candidates", matches)
	}
	return matches[len(matches)-1], nil
}
