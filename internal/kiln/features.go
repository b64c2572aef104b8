package kiln

import "strings"

// Resolution is the outcome of feature resolution for one run. It is computed
// once before any build step and never changes afterwards.
type Resolution struct {
	Enabled      map[string]bool
	Head         bool
	Dependencies []RequiredDependency
}

// normalizeFlag maps "--with-grass", "with-grass" and " WITH-GRASS " to the same flag.
func normalizeFlag(flag string) string {
	return strings.ToLower(strings.TrimLeft(strings.TrimSpace(flag), "-"))
}

// ResolveFeatures turns the requested flags into one boolean per declared
// feature plus the extra dependencies of the enabled ones. Flags the package
// does not declare are ignored.
func ResolveFeatures(requested []string, features []OptionalFeature, head bool) Resolution {
	want := make(map[string]bool, len(requested))
	for _, r := range requested {
		want[normalizeFlag(r)] = true
	}

	res := Resolution{
		Enabled: make(map[string]bool, len(features)),
		Head:    head,
	}
	for _, f := range features {
		flag := normalizeFlag(f.Flag)
		on := want[flag]
		res.Enabled[flag] = on
		if on {
			res.Dependencies = append(res.Dependencies, f.Dependencies...)
		}
	}
	return res
}

// Feature reports whether a declared feature resolved true.
func (r Resolution) Feature(flag string) bool {
	return r.Enabled[normalizeFlag(flag)]
}

// ActiveDependencies evaluates every dependency condition against the
// resolution and returns the fixed dependency set for the run: package
// dependencies first, then feature dependencies, first declaration of a name wins.
func ActiveDependencies(p *PackageSpec, r Resolution) ([]RequiredDependency, error) {
	var out []RequiredDependency
	seen := make(map[string]bool)

	add := func(deps []RequiredDependency) error {
		for _, d := range deps {
			kind, flag, err := d.Condition()
			if err != nil {
				return err
			}
			switch kind {
			case CondHead:
				if !r.Head {
					continue
				}
			case CondFeature:
				if !r.Feature(flag) {
					continue
				}
			}
			if seen[d.Name] {
				continue
			}
			seen[d.Name] = true
			out = append(out, d)
		}
		return nil
	}

	if err := add(p.Dependencies); err != nil {
		return nil, err
	}
	if err := add(r.Dependencies); err != nil {
		return nil, err
	}
	return out, nil
}
