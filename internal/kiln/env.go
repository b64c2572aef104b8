package kiln

import (
	"sort"
	"strings"
)

// Environment is the process environment handed to build commands. Values
// from the parent environment are kept; Append adds to them and never
// replaces them.
type Environment struct {
	base  map[string]string
	order []string
	extra map[string]string
}

func NewEnvironment(base []string) *Environment {
	e := &Environment{
		base:  make(map[string]string, len(base)),
		extra: make(map[string]string),
	}
	for _, kv := range base {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if _, dup := e.base[k]; !dup {
			e.order = append(e.order, k)
		}
		e.base[k] = v
	}
	return e
}

// Get returns the effective value of key.
func (e *Environment) Get(key string) string {
	if v, ok := e.extra[key]; ok {
		return v
	}
	return e.base[key]
}

// Set overrides key for build commands.
func (e *Environment) Set(key, value string) {
	e.extra[key] = value
}

// Append adds value to key, space separated. An empty value is ignored.
func (e *Environment) Append(key, value string) {
	if value == "" {
		return
	}
	cur := e.Get(key)
	if cur == "" {
		e.extra[key] = value
		return
	}
	for _, f := range strings.Fields(cur) {
		if f == value {
			return
		}
	}
	e.extra[key] = cur + " " + value
}

// Environ renders KEY=VALUE pairs: inherited keys in their original order,
// then added keys sorted.
func (e *Environment) Environ() []string {
	out := make([]string, 0, len(e.order)+len(e.extra))
	for _, k := range e.order {
		out = append(out, k+"="+e.Get(k))
	}
	var added []string
	for k := range e.extra {
		if _, ok := e.base[k]; !ok {
			added = append(added, k)
		}
	}
	sort.Strings(added)
	for _, k := range added {
		out = append(out, k+"="+e.extra[k])
	}
	return out
}
