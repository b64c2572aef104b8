package kiln

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeRunner records commands instead of running them.
type fakeRunner struct {
	mu       sync.Mutex
	commands []Command
	fail     func(Command) error
	output   string
	onRun    func(Command)
}

func (r *fakeRunner) Run(_ context.Context, cmd Command) error {
	r.mu.Lock()
	r.commands = append(r.commands, cmd)
	r.mu.Unlock()
	if r.fail != nil {
		if err := r.fail(cmd); err != nil {
			return err
		}
	}
	if r.onRun != nil {
		r.onRun(cmd)
	}
	return nil
}

func (r *fakeRunner) Output(ctx context.Context, cmd Command) (string, error) {
	if err := r.Run(ctx, cmd); err != nil {
		return "", err
	}
	return r.output, nil
}

// lines renders every recorded command as "dir-base: args".
func (r *fakeRunner) lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.commands))
	for _, c := range r.commands {
		out = append(out, filepath.Base(c.Dir)+": "+c.String())
	}
	return out
}

// fakeSources materializes a small file tree per source name.
type fakeSources struct {
	trees    map[string]map[string]string
	prepared []string
}

func (s *fakeSources) Prepare(_ context.Context, name string, _ Source, dest string) error {
	s.prepared = append(s.prepared, name)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	for rel, content := range s.trees[name] {
		p := filepath.Join(dest, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// mapLocator resolves external dependencies from a fixed map.
type mapLocator map[string]string

func (m mapLocator) Locate(name string) (string, error) {
	if p, ok := m[name]; ok {
		return p, nil
	}
	return "", ErrDependencyMissing
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func hasPrefixArg(args []string, prefix string) bool {
	for _, a := range args {
		if strings.HasPrefix(a, prefix) {
			return true
		}
	}
	return false
}
