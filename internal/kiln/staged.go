package kiln

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Staged build steps, as reported in StagedBuildError.Step.
const (
	StepUnpack    = "unpack"
	StepPatch     = "patch"
	StepConfigure = "configure"
	StepBuild     = "build"
	StepInstall   = "install"
)

// StagedBuilder builds build-only dependencies into isolated prefixes inside
// the run's work directory.
type StagedBuilder struct {
	Runner  Runner
	Sources SourceProvider
	Out     io.Writer
}

// Build unpacks dep into a scratch directory, calls beforeConfigure with the
// source directory, then runs configure, build and install against the
// isolated prefix. On success the prefix is recorded in bc.
func (b *StagedBuilder) Build(ctx context.Context, bc *BuildContext, dep RequiredDependency, beforeConfigure func(srcDir string) error) error {
	if dep.Staged == nil {
		return fmt.Errorf("dependency %s has no staged recipe", dep.Name)
	}
	recipe := dep.Staged

	prefix, err := bc.claimPrefix(dep.Name)
	if err != nil {
		return err
	}

	fail := func(step string, err error) error {
		return &StagedBuildError{Dependency: dep.Name, Step: step, Err: err}
	}

	srcDir := filepath.Join(bc.WorkDir, "scratch", dep.Name)
	if err := os.RemoveAll(srcDir); err != nil {
		return fail(StepUnpack, err)
	}
	if err := b.Sources.Prepare(ctx, dep.Name, recipe.Source, srcDir); err != nil {
		return fail(StepUnpack, err)
	}

	if beforeConfigure != nil {
		if err := beforeConfigure(srcDir); err != nil {
			return fail(StepPatch, err)
		}
	}

	ph := bc.placeholders()
	ph.vars["prefix"] = prefix

	configure, err := ph.expandAll(orDefault(recipe.Configure, defaultConfigure))
	if err != nil {
		return fail(StepConfigure, err)
	}
	if !recipe.NoPrefixFlag {
		configure = append(configure, "--prefix="+prefix)
	}
	flags, err := ph.expandAll(recipe.ConfigureFlags)
	if err != nil {
		return fail(StepConfigure, err)
	}
	configure = append(configure, flags...)

	env := bc.Env.Environ()

	steps := []struct {
		name string
		args []string
	}{
		{StepConfigure, configure},
		{StepBuild, orDefault(recipe.Build, defaultStagedBuild)},
		{StepInstall, orDefault(recipe.Install, defaultStagedInstall)},
	}
	for _, s := range steps {
		statusWith(b.Out, colInfo, "%s: %s", dep.Name, s.name)
		logger.Debug("staged step", "dep", dep.Name, "step", s.name, "dir", srcDir)
		cmd := Command{Dir: srcDir, Args: s.args, Env: env}
		if err := b.Runner.Run(ctx, cmd); err != nil {
			return fail(s.name, err)
		}
	}

	bc.Staged[dep.Name] = prefix
	bc.StagedOrder = append(bc.StagedOrder, dep.Name)
	bc.recipes[dep.Name] = recipe
	return nil
}
