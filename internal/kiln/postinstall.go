package kiln

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"mvdan.cc/sh/v3/syntax"
)

var envNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// PostInstallLinker makes installed artifacts usable: symlinks into shared
// trees and launcher scripts.
type PostInstallLinker struct {
	Out io.Writer
}

// Link creates dest as a symlink to target. An existing symlink to target is
// left alone; anything else at dest is a LinkTargetExistsError and nothing on
// disk is touched.
func (p *PostInstallLinker) Link(target, dest string) error {
	fi, err := os.Lstat(dest)
	if err == nil {
		if fi.Mode()&os.ModeSymlink != 0 {
			if cur, err := os.Readlink(dest); err == nil && cur == target {
				logger.Debug("link already in place", "dest", dest)
				return nil
			}
		}
		return &LinkTargetExistsError{Path: dest}
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("failed to inspect %s: %w", dest, err)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(dest), err)
	}
	if err := os.Symlink(target, dest); err != nil {
		return fmt.Errorf("failed to link %s -> %s: %w", dest, target, err)
	}
	status(p.Out, "Linked %s -> %s", dest, target)
	return nil
}

// RenderLauncher produces the sh script for l. The search-path value is put in
// front of whatever the variable holds when the script runs.
func RenderLauncher(l Launcher) ([]byte, error) {
	if !envNameRe.MatchString(l.Var) {
		return nil, fmt.Errorf("launcher %s: invalid variable name %q", l.Path, l.Var)
	}
	if len(l.Exec) == 0 {
		return nil, fmt.Errorf("launcher %s: nothing to exec", l.Path)
	}

	value, err := syntax.Quote(l.Value, syntax.LangPOSIX)
	if err != nil {
		return nil, fmt.Errorf("launcher %s: %w", l.Path, err)
	}

	var b bytes.Buffer
	b.WriteString("#!/bin/sh\n\n")
	fmt.Fprintf(&b, "# Generated by kiln. Sets %s before starting %s.\n", l.Var, filepath.Base(l.Path))
	fmt.Fprintf(&b, "%s=%s${%s:+:$%s}\n", l.Var, value, l.Var, l.Var)
	fmt.Fprintf(&b, "export %s\n", l.Var)
	b.WriteString("exec")
	for _, arg := range l.Exec {
		q, err := syntax.Quote(arg, syntax.LangPOSIX)
		if err != nil {
			return nil, fmt.Errorf("launcher %s: %w", l.Path, err)
		}
		b.WriteString(" " + q)
	}
	b.WriteString(" \"$@\"\n")
	return b.Bytes(), nil
}

// WriteLauncher renders l and writes it executable at l.Path, replacing any
// earlier version.
func (p *PostInstallLinker) WriteLauncher(l Launcher) error {
	script, err := RenderLauncher(l)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(l.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(l.Path), err)
	}
	if err := writeFileAtomic(l.Path, script, 0o755); err != nil {
		return fmt.Errorf("failed to write launcher %s: %w", l.Path, err)
	}
	status(p.Out, "Wrote launcher %s", l.Path)
	return nil
}
