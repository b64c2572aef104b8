package kiln

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// rootOptions holds the global flags.
type rootOptions struct {
	ConfigPath string
	Debug      bool
	Verbose    bool
}

func (o *rootOptions) load() (*Config, error) {
	path := o.ConfigPath
	if path == "" {
		path = os.Getenv("KILN_CONFIG")
	}
	if path == "" {
		path = ConfigFile
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if o.Debug {
		cfg.Debug = true
	}
	if o.Verbose {
		cfg.Verbose = true
	}
	setDebug(cfg.Debug)
	return cfg, nil
}

// Main is the entry point of the kiln binary.
func Main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigs:
			statusWith(os.Stderr, colError, "Received %v. Cancelling build", sig)
			cancel()
			// a second signal skips waiting for the children
			select {
			case <-sigs:
				statusWith(os.Stderr, colError, "Second interrupt received. Forcing immediate exit.")
				os.Exit(130)
			case <-time.After(5 * time.Second):
			}
		case <-ctx.Done():
		}
	}()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		statusWith(os.Stderr, colError, "%v", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "kiln",
		Short:         "Build composite packages with privately staged dependencies",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "configuration file (default "+ConfigFile+")")
	cmd.PersistentFlags().BoolVar(&opts.Debug, "debug", false, "debug logging")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "print state transitions and build arguments")

	cmd.AddCommand(newBuildCommand(opts))
	cmd.AddCommand(newInfoCommand())
	cmd.AddCommand(newLogCommand(opts))
	cmd.AddCommand(newMirrorCommand(opts))
	cmd.AddCommand(newVersionCommand())
	return cmd
}

type buildOptions struct {
	With        []string
	Head        bool
	SourceDir   string
	KeepWorkDir bool
}

func newBuildCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &buildOptions{}

	cmd := &cobra.Command{
		Use:   "build <package-file>",
		Short: "Build and install a package",
		Long: `Build a package from its description file.

Build-only dependencies with a staged recipe are compiled into private
prefixes inside a throwaway work directory; the primary build then runs
with the assembled arguments and the result is wired into the shared prefix.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd.Context(), rootOpts, opts, args[0], cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringSliceVar(&opts.With, "with", nil, "enable an optional feature (repeatable)")
	cmd.Flags().BoolVar(&opts.Head, "head", false, "build the latest development revision")
	cmd.Flags().StringVar(&opts.SourceDir, "source-dir", "", "use an already unpacked source tree")
	cmd.Flags().BoolVar(&opts.KeepWorkDir, "keep-workdir", false, "keep the work directory after a successful build")
	return cmd
}

// progressWriter is where archive extraction draws its bar; nil when stderr
// is not a terminal.
func progressWriter() io.Writer {
	if term.IsTerminal(int(os.Stderr.Fd())) {
		return os.Stderr
	}
	return nil
}

func runBuild(ctx context.Context, rootOpts *rootOptions, opts *buildOptions, file string, out io.Writer) error {
	cfg, err := rootOpts.load()
	if err != nil {
		return err
	}
	spec, err := LoadPackage(file)
	if err != nil {
		return err
	}

	mirror, err := NewR2Client(ctx, cfg)
	if err != nil {
		return err
	}

	executor := NewExecutor()
	executor.ApplyIdlePriority = cfg.IdleBuild

	orch := &Orchestrator{
		Runner:       executor,
		Sources:      &ArchiveSource{SourcesDir: cfg.SourcesDir, Mirror: mirror, Progress: progressWriter()},
		Locator:      OptLocator{OptDir: cfg.OptDir},
		WorkRoot:     cfg.TmpDir,
		CellarDir:    cfg.Cellar,
		SharedPrefix: cfg.Prefix,
		LogDir:       cfg.LogDir,
		Jobs:         cfg.Jobs,
		KeepWorkDir:  cfg.KeepWorkDir || opts.KeepWorkDir,
		Out:          out,
	}
	if cfg.Verbose {
		orch.OnTransition = func(from, to State) {
			statusWith(out, colNote, "%s -> %s", from, to)
		}
	}

	status(out, "Building %s %s", spec.Name, spec.Version)
	report, err := orch.Run(ctx, spec, Request{
		Features:  opts.With,
		Head:      opts.Head,
		SourceDir: opts.SourceDir,
	})
	if report != nil && report.Log != "" {
		statusWith(out, colInfo, "Build log: %s", report.Log)
	}
	if err != nil {
		return err
	}
	if cfg.Verbose {
		statusWith(out, colNote, "Arguments: %s", strings.Join(report.Args, " "))
	}
	status(out, "Finished %s in %s", spec.Name, report.Duration.Round(time.Second))
	return nil
}

func newInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info <package-file>",
		Short: "Show features and dependencies of a package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := LoadPackage(args[0])
			if err != nil {
				return err
			}
			printInfo(cmd.OutOrStdout(), spec)
			return nil
		},
	}
}

func printInfo(w io.Writer, spec *PackageSpec) {
	fmt.Fprintf(w, "%s %s\n", spec.Name, spec.Version)
	if spec.Homepage != "" {
		fmt.Fprintln(w, spec.Homepage)
	}
	if spec.Head != nil {
		fmt.Fprintln(w, "head: available")
	}

	depLine := func(d RequiredDependency) string {
		var tags []string
		if d.Staged != nil {
			tags = append(tags, "staged")
		}
		if d.BuildOnly {
			tags = append(tags, "build")
		}
		if d.When != "" && d.When != "always" {
			tags = append(tags, d.When)
		}
		if len(tags) == 0 {
			return d.Name
		}
		return fmt.Sprintf("%s (%s)", d.Name, strings.Join(tags, ", "))
	}

	if len(spec.Dependencies) > 0 {
		fmt.Fprintln(w, "\nDependencies:")
		for _, d := range spec.Dependencies {
			fmt.Fprintf(w, "  %s\n", depLine(d))
		}
	}
	if len(spec.Features) > 0 {
		fmt.Fprintln(w, "\nFeatures:")
		for _, f := range spec.Features {
			fmt.Fprintf(w, "  --with %-16s %s\n", normalizeFlag(f.Flag), f.Description)
			for _, d := range f.Dependencies {
				fmt.Fprintf(w, "      %s\n", depLine(d))
			}
		}
	}
}

func newLogCommand(rootOpts *rootOptions) *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "log [package]",
		Short: "Show the newest archived build log",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if list {
				names, err := listLogs(cfg.LogDir)
				if err != nil {
					return err
				}
				for _, n := range names {
					fmt.Fprintln(out, n)
				}
				return nil
			}
			var pkg string
			if len(args) == 1 {
				pkg = args[0]
			}
			path, err := newestLog(cfg.LogDir, pkg)
			if errors.Is(err, errPackageNotFound) {
				statusWith(out, colWarn, "No build log for %s", pkg)
				return nil
			}
			if err != nil {
				return err
			}
			return showLog(path, out)
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "list archived logs, newest first")
	return cmd
}

func newMirrorCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mirror <archive>...",
		Short: "Upload source archives to the binary mirror",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.load()
			if err != nil {
				return err
			}
			client, err := NewR2Client(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if client == nil {
				return fmt.Errorf("no mirror configured (set R2_ACCOUNT_ID and R2_BUCKET_NAME)")
			}
			for _, a := range args {
				key := "sources/" + filepath.Base(a)
				if err := client.UploadLocalFile(cmd.Context(), key, a); err != nil {
					return fmt.Errorf("upload of %s failed: %w", a, err)
				}
				status(cmd.OutOrStdout(), "Uploaded %s", key)
			}
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the kiln version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "kiln %s (built %s)\n", version, buildDate)
		},
	}
}
