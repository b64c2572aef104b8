package kiln

import (
	"fmt"
	"os"
	"path/filepath"
)

// Locator finds the install prefix of a dependency that is not staged.
type Locator interface {
	Locate(name string) (string, error)
}

// OptLocator resolves installed dependencies as <OptDir>/<name>.
type OptLocator struct {
	OptDir string
}

func (l OptLocator) Locate(name string) (string, error) {
	p := filepath.Join(l.OptDir, name)
	fi, err := os.Stat(p)
	if err != nil || !fi.IsDir() {
		return "", fmt.Errorf("%w: %s not installed under %s", ErrDependencyMissing, name, l.OptDir)
	}
	return p, nil
}
