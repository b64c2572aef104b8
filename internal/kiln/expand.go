package kiln

import (
	"fmt"
	"regexp"
)

// placeholderRe matches @name@ and @name:arg@.
var placeholderRe = regexp.MustCompile(`@([a-z_]+)(?::([A-Za-z0-9._+-]+))?@`)

// placeholders expands the closed set of @...@ names a package file may use.
// Unknown names are errors.
type placeholders struct {
	vars map[string]string
	dep  func(name string) (string, bool)
}

func (p placeholders) expand(s string) (string, error) {
	var firstErr error
	out := placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
		sub := placeholderRe.FindStringSubmatch(m)
		name, arg := sub[1], sub[2]
		if name == "dep" {
			if p.dep != nil {
				if v, ok := p.dep(arg); ok {
					return v
				}
			}
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: %s referenced by %q", ErrDependencyMissing, arg, s)
			}
			return m
		}
		if arg == "" {
			if v, ok := p.vars[name]; ok {
				return v
			}
		}
		if firstErr == nil {
			firstErr = fmt.Errorf("unknown placeholder %s in %q", m, s)
		}
		return m
	})
	return out, firstErr
}

func (p placeholders) expandAll(in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	for _, s := range in {
		v, err := p.expand(s)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
