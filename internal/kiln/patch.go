package kiln

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// PatchRule is a pattern-anchored substitution on a build-configuration file.
// Match is an RE2 pattern evaluated in multi-line mode, so ^ and $ anchor at
// line boundaries. Replace may use $1-style group references.
//
// Rules must be idempotent: applying a rule to its own output changes nothing.
// A rule that rewrites "KEY = old" to "KEY=new" is; a rule that appends to a
// line it also matches is not. CheckIdempotent verifies this for a given text.
type PatchRule struct {
	Match   string `yaml:"match" toml:"match"`
	Replace string `yaml:"replace" toml:"replace"`
}

type compiledRule struct {
	re      *regexp.Regexp
	replace string
}

func compileRules(rules []PatchRule) ([]compiledRule, error) {
	out := make([]compiledRule, 0, len(rules))
	for i, r := range rules {
		re, err := regexp.Compile("(?m)" + r.Match)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i+1, err)
		}
		out = append(out, compiledRule{re: re, replace: r.Replace})
	}
	return out, nil
}

// ApplyRules runs the rules over text in declaration order.
func ApplyRules(text string, rules []PatchRule) (string, error) {
	compiled, err := compileRules(rules)
	if err != nil {
		return "", err
	}
	return applyCompiled(text, compiled), nil
}

func applyCompiled(text string, rules []compiledRule) string {
	for _, r := range rules {
		text = r.re.ReplaceAllString(text, r.replace)
	}
	return text
}

// CheckIdempotent reports an error if applying the rules a second time to
// text would change the result of the first application.
func CheckIdempotent(text string, rules []PatchRule) error {
	compiled, err := compileRules(rules)
	if err != nil {
		return err
	}
	once := applyCompiled(text, compiled)
	if twice := applyCompiled(once, compiled); twice != once {
		return fmt.Errorf("patch rules are not idempotent")
	}
	return nil
}

// PatchFile applies rules to the file at path. The file is replaced by rename
// so it either ends up fully patched or keeps its original content.
func PatchFile(path string, rules []PatchRule) error {
	compiled, err := compileRules(rules)
	if err != nil {
		return &PatchError{Path: path, Err: err}
	}

	info, err := os.Stat(path)
	if err != nil {
		return &PatchError{Path: path, Err: err}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return &PatchError{Path: path, Err: err}
	}

	patched := applyCompiled(string(data), compiled)
	if patched == string(data) {
		logger.Debug("patch left file unchanged", "file", path)
		return nil
	}

	if err := writeFileAtomic(path, []byte(patched), info.Mode().Perm()); err != nil {
		return &PatchError{Path: path, Err: err}
	}
	return nil
}

// writeFileAtomic writes data next to path and renames it into place.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".kiln-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
