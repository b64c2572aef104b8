package kiln

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// State is a step of the orchestration state machine.
type State int

const (
	StateResolvingFeatures State = iota
	StateBuildingStagedDeps
	StatePatching
	StateAssemblingArgs
	StateInvoking
	StatePostInstall
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateResolvingFeatures:
		return "ResolvingFeatures"
	case StateBuildingStagedDeps:
		return "BuildingStagedDeps"
	case StatePatching:
		return "Patching"
	case StateAssemblingArgs:
		return "AssemblingArgs"
	case StateInvoking:
		return "Invoking"
	case StatePostInstall:
		return "PostInstall"
	case StateDone:
		return "Done"
	case StateFailed:
		return "Failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Primary build phases, as reported in PrimaryBuildError.Phase.
const (
	PhaseGenerate = "generate"
	PhaseBuild    = "build"
)

// Request carries the already-parsed choices of the caller.
type Request struct {
	Features  []string // requested feature flags
	Head      bool     // build from the latest source revision
	SourceDir string   // use this tree instead of unpacking the package source
}

// Report summarizes a finished run.
type Report struct {
	Package  string
	WorkDir  string
	Prefix   string
	Args     []string
	Staged   map[string]string
	States   []State
	Log      string // archived build log, if any
	Duration time.Duration
}

// Orchestrator drives one package build from feature resolution to
// post-install wiring. A run is strictly sequential and every failure is final.
type Orchestrator struct {
	Runner       Runner
	Sources      SourceProvider
	Locator      Locator
	WorkRoot     string // runs get <WorkRoot>/kiln/<name>-<id>
	CellarDir    string // final prefix is <CellarDir>/<name>/<version>
	SharedPrefix string
	LogDir       string // archived build logs; empty disables archiving
	Jobs         int
	KeepWorkDir  bool
	Environ      []string // nil means os.Environ()
	Out          io.Writer

	// OnTransition observes every state change.
	OnTransition func(from, to State)

	now   func() time.Time
	runID func() string
}

type run struct {
	o      *Orchestrator
	spec   *PackageSpec
	bc     *BuildContext
	runner Runner
	state  State
	report *Report
}

func (r *run) enter(s State) {
	if r.o.OnTransition != nil {
		r.o.OnTransition(r.state, s)
	}
	logger.Debug("state", "pkg", r.spec.Name, "from", r.state, "to", s)
	r.state = s
	r.report.States = append(r.report.States, s)
}

func (o *Orchestrator) out() io.Writer {
	if o.Out == nil {
		return os.Stdout
	}
	return o.Out
}

func (o *Orchestrator) clock() time.Time {
	if o.now != nil {
		return o.now()
	}
	return time.Now()
}

// Run builds spec as requested. The returned report is non-nil even on
// failure so callers can point at the work directory and the build log.
func (o *Orchestrator) Run(ctx context.Context, spec *PackageSpec, req Request) (*Report, error) {
	start := o.clock()
	r := &run{
		o:      o,
		spec:   spec,
		state:  StateResolvingFeatures,
		report: &Report{Package: spec.Name, States: []State{StateResolvingFeatures}},
	}

	var blog *buildLog
	err := r.execute(ctx, req, &blog)
	if err != nil {
		r.enter(StateFailed)
	}

	if blog != nil && o.LogDir != "" {
		if path, aerr := blog.archive(o.LogDir, spec.Name, o.clock()); aerr != nil {
			statusWith(o.out(), colWarn, "%v", aerr)
		} else {
			r.report.Log = path
		}
	} else if blog != nil {
		blog.file.Close()
	}

	r.report.Duration = o.clock().Sub(start)
	if err != nil {
		if r.report.WorkDir != "" {
			statusWith(o.out(), colError, "Build of %s failed; work directory kept at %s", spec.Name, r.report.WorkDir)
		}
		return r.report, err
	}

	if !o.KeepWorkDir && r.report.WorkDir != "" {
		if err := os.RemoveAll(r.report.WorkDir); err != nil {
			statusWith(o.out(), colWarn, "failed to remove %s: %v", r.report.WorkDir, err)
		}
	}
	return r.report, nil
}

func (r *run) execute(ctx context.Context, req Request, blogOut **buildLog) error {
	o, spec := r.o, r.spec

	// ResolvingFeatures
	if err := spec.Validate(); err != nil {
		return err
	}
	res := ResolveFeatures(req.Features, spec.Features, req.Head)
	deps, err := ActiveDependencies(spec, res)
	if err != nil {
		return err
	}
	if res.Head && spec.Head == nil && req.SourceDir == "" {
		return fmt.Errorf("package %s has no head source", spec.Name)
	}

	workDir, err := o.newWorkDir(spec.Name)
	if err != nil {
		return err
	}
	r.report.WorkDir = workDir

	version := spec.Version
	if res.Head || version == "" {
		version = "HEAD"
	}
	prefix := filepath.Join(o.CellarDir, spec.Name, version)
	r.report.Prefix = prefix

	environ := o.Environ
	if environ == nil {
		environ = os.Environ()
	}
	r.bc = newBuildContext(spec, workDir, prefix, o.SharedPrefix, res, environ)
	if o.Jobs > 0 {
		r.bc.Env.Set("MAKEFLAGS", fmt.Sprintf("-j%d", o.Jobs))
	}

	blog, err := openBuildLog(workDir)
	if err != nil {
		return err
	}
	*blogOut = blog
	r.runner = o.Runner
	if ex, ok := o.Runner.(*Executor); ok {
		tee := *ex
		tee.Log = blog
		r.runner = &tee
	}

	for flag, on := range res.Enabled {
		logger.Debug("feature", "pkg", spec.Name, "flag", flag, "enabled", on)
	}
	for _, d := range deps {
		if d.Staged != nil {
			continue
		}
		if o.Locator == nil {
			return fmt.Errorf("%w: %s (no locator configured)", ErrDependencyMissing, d.Name)
		}
		p, err := o.Locator.Locate(d.Name)
		if err != nil {
			return err
		}
		r.bc.External[d.Name] = p
	}

	if err := r.buildStaged(ctx, deps); err != nil {
		return err
	}

	r.enter(StateAssemblingArgs)
	if err := AssembleArgs(spec, r.bc); err != nil {
		return err
	}
	r.report.Args = r.bc.Args.Args()
	r.report.Staged = r.bc.Staged

	r.enter(StateInvoking)
	if err := r.invokePrimary(ctx, req); err != nil {
		return err
	}

	r.enter(StatePostInstall)
	if err := r.postInstall(ctx); err != nil {
		return err
	}

	r.enter(StateDone)
	status(o.out(), "%s installed into %s", spec.Name, prefix)
	return nil
}

// newWorkDir creates the private directory of a run. The random suffix keeps
// concurrent runs of the same package apart.
func (o *Orchestrator) newWorkDir(name string) (string, error) {
	root := o.WorkRoot
	if root == "" {
		root = os.TempDir()
	}
	id := uuid.NewString()[:8]
	if o.runID != nil {
		id = o.runID()
	}
	parent := filepath.Join(root, "kiln")
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", parent, err)
	}
	dir := filepath.Join(parent, fmt.Sprintf("%s-%s", name, id))
	// the leaf must be new; an existing one belongs to another run
	if err := os.Mkdir(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create work dir %s: %w", dir, err)
	}
	return dir, nil
}

func (r *run) buildStaged(ctx context.Context, deps []RequiredDependency) error {
	builder := &StagedBuilder{Runner: r.runner, Sources: r.o.Sources, Out: r.o.Out}

	entered := false
	for _, d := range deps {
		if d.Staged == nil {
			continue
		}
		if !entered {
			r.enter(StateBuildingStagedDeps)
			entered = true
		}
		status(r.o.out(), "Staging %s", d.Name)

		dep := d
		patch := func(srcDir string) error {
			if len(dep.Staged.Patches) == 0 {
				return nil
			}
			r.enter(StatePatching)
			if err := r.applyPatches(dep, srcDir); err != nil {
				return err
			}
			r.enter(StateBuildingStagedDeps)
			return nil
		}
		if err := builder.Build(ctx, r.bc, dep, patch); err != nil {
			return err
		}
	}
	return nil
}

// applyPatches runs every patch set of dep against its unpacked source.
// Replacement templates see @prefix@ as the dependency's isolated prefix.
func (r *run) applyPatches(dep RequiredDependency, srcDir string) error {
	ph := r.bc.placeholders()
	ph.vars["prefix"] = r.bc.StagedPrefix(dep.Name)

	for _, ps := range dep.Staged.Patches {
		rules := make([]PatchRule, 0, len(ps.Rules))
		for _, rule := range ps.Rules {
			repl, err := ph.expand(rule.Replace)
			if err != nil {
				return &PatchError{Path: ps.File, Err: err}
			}
			rules = append(rules, PatchRule{Match: rule.Match, Replace: repl})
		}
		path := filepath.Join(srcDir, ps.File)
		logger.Debug("patching", "dep", dep.Name, "file", path, "rules", len(rules))
		if err := PatchFile(path, rules); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) invokePrimary(ctx context.Context, req Request) error {
	o, spec, bc := r.o, r.spec, r.bc

	switch {
	case req.SourceDir != "":
		abs, err := filepath.Abs(req.SourceDir)
		if err != nil {
			return err
		}
		bc.SourceDir = abs
	default:
		src := spec.Source
		if bc.Resolution.Head {
			src = *spec.Head
		}
		bc.SourceDir = filepath.Join(bc.WorkDir, "src")
		if err := o.Sources.Prepare(ctx, spec.Name, src, bc.SourceDir); err != nil {
			return fmt.Errorf("failed to prepare sources of %s: %w", spec.Name, err)
		}
	}

	buildDirName := spec.Primary.BuildDir
	if buildDirName == "" {
		buildDirName = defaultBuildDir
	}
	buildDir := filepath.Join(bc.SourceDir, buildDirName)
	if err := os.MkdirAll(buildDir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", buildDir, err)
	}

	ph := bc.placeholders()
	generate, err := ph.expandAll(orDefault(spec.Primary.Generate, defaultGenerate))
	if err != nil {
		return err
	}
	generate = append(generate, bc.Args.Args()...)
	build, err := ph.expandAll(orDefault(spec.Primary.Build, defaultBuild))
	if err != nil {
		return err
	}

	env := bc.Env.Environ()
	status(o.out(), "Generating %s", spec.Name)
	if err := r.runner.Run(ctx, Command{Dir: buildDir, Args: generate, Env: env}); err != nil {
		return &PrimaryBuildError{Phase: PhaseGenerate, Err: err}
	}
	status(o.out(), "Building %s", spec.Name)
	if err := r.runner.Run(ctx, Command{Dir: buildDir, Args: build, Env: env}); err != nil {
		return &PrimaryBuildError{Phase: PhaseBuild, Err: err}
	}
	return nil
}

func (r *run) postInstall(ctx context.Context) error {
	pi := r.spec.PostInstall
	bc := r.bc

	if len(pi.RuntimeVersion) > 0 {
		v, err := r.runner.Output(ctx, Command{Args: pi.RuntimeVersion, Env: bc.Env.Environ()})
		if err != nil {
			return fmt.Errorf("runtime version query failed: %w", err)
		}
		bc.RuntimeVersion = v
	}

	ph := bc.placeholders()
	linker := &PostInstallLinker{Out: r.o.Out}

	for _, l := range pi.Links {
		target, err := ph.expand(l.Target)
		if err != nil {
			return err
		}
		dest, err := ph.expand(l.Dest)
		if err != nil {
			return err
		}
		if err := linker.Link(target, dest); err != nil {
			return err
		}
	}

	for _, l := range pi.Launchers {
		path, err := ph.expand(l.Path)
		if err != nil {
			return err
		}
		value, err := ph.expand(l.Value)
		if err != nil {
			return err
		}
		execArgs, err := ph.expandAll(l.Exec)
		if err != nil {
			return err
		}
		if err := linker.WriteLauncher(Launcher{Path: path, Var: l.Var, Value: value, Exec: execArgs}); err != nil {
			return err
		}
	}
	return nil
}
