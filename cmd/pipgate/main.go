package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Pirikara/pipgate/internal/config"
	"github.com/Pirikara/pipgate/internal/firewall"
	"github.com/Pirikara/pipgate/internal/installer"
	"github.com/Pirikara/pipgate/internal/logger"
	"github.com/Pirikara/pipgate/internal/metrics"
	"github.com/Pirikara/pipgate/internal/orchestrator"
	"github.com/Pirikara/pipgate/internal/policy"
	"github.com/Pirikara/pipgate/internal/requirement"
	"github.com/Pirikara/pipgate/internal/ui"
)

// Default config file embedded into the binary
//
//go:embed config.yaml
var defaultConfigYAML []byte

// Set with -ldflags "-X main.version=..."
var version = "dev"

// exitError carries a process exit code. A nil err means the failure was
// already reported to the user.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

// app holds the process wiring and the persistent flag values
type app struct {
	stdout io.Writer
	stderr io.Writer
	stdin  io.Reader
	getenv func(string) string

	defaultConfig []byte

	firewallURL string
	configPath  string
	logLevel    string
	timeout     time.Duration
	concurrency int
	strictIndex bool
	metricsFile string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	a := &app{
		stdout:        os.Stdout,
		stderr:        os.Stderr,
		stdin:         os.Stdin,
		getenv:        os.Getenv,
		defaultConfig: defaultConfigYAML,
	}
	code := a.run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

// run executes the CLI and maps the outcome to a process exit code
func (a *app) run(ctx context.Context, args []string) int {
	rootCmd := a.newRootCmd()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(a.stdout)
	rootCmd.SetErr(a.stderr)

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		ui.New(a.stderr).Warning("Interrupted; nothing was installed")
		return 130
	}

	var exitErr *exitError
	if errors.As(err, &exitErr) {
		if exitErr.err != nil {
			ui.New(a.stderr).Error(exitErr.err.Error())
		}
		return exitErr.code
	}

	ui.New(a.stderr).Error(err.Error())
	return 1
}

func (a *app) newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pipgate",
		Short: "pipgate - pip wrapper gated by a package firewall",
		Long: `pipgate asks a package firewall about every requested package before pip runs.
If any package is blocked, or the firewall cannot be consulted, nothing is installed.`,
		Example: `  pipgate install requests
  pipgate install keras==3.11.2
  pipgate install -r requirements.txt --collect-all
  pipgate audit keras
  pipgate check --url http://localhost:8000`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetVersionTemplate("pipgate version {{.Version}}\n")

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.firewallURL, "firewall-url", "", "Firewall base URL (default from "+config.EnvFirewallURL+" or config)")
	flags.StringVar(&a.configPath, "config", "", "Path to config file (default: ~/.pipgate/config.yaml)")
	flags.StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.DurationVar(&a.timeout, "timeout", 0, "Timeout for each firewall query")
	flags.IntVar(&a.concurrency, "concurrency", 0, "Parallel firewall queries with --collect-all")
	flags.BoolVar(&a.strictIndex, "strict-index", false, "Also block packages the index refuses with 403")
	flags.StringVar(&a.metricsFile, "metrics-file", "", "Write Prometheus metrics to this file on exit")

	// Subcommands
	rootCmd.AddCommand(a.newInstallCmd())
	rootCmd.AddCommand(a.newAuditCmd())
	rootCmd.AddCommand(a.newCheckCmd())
	rootCmd.AddCommand(a.newPrintConfigCmd())
	rootCmd.AddCommand(a.newVersionCmd())

	return rootCmd
}

// loadConfig resolves file, environment and flag settings into a config
func (a *app) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(a.configPath, a.defaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg.ApplyFirewallURL(a.firewallURL, a.getenv)

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if flags.Changed("timeout") {
		cfg.Timeout = a.timeout
	}
	if flags.Changed("concurrency") {
		cfg.Concurrency = a.concurrency
	}
	if flags.Changed("strict-index") {
		cfg.StrictIndex = a.strictIndex
	}

	return cfg, nil
}

// gate is the set of components built from one config
type gate struct {
	cfg     *config.Config
	log     *logger.Logger
	metrics *metrics.Metrics
	client  *firewall.Client
	orch    *orchestrator.Orchestrator
}

func (a *app) newGate(cfg *config.Config) *gate {
	level, _ := logger.ParseLevel(cfg.LogLevel)
	log := logger.NewLogger(a.stderr, level)
	m := metrics.New()

	client := firewall.NewClient(cfg.FirewallURL,
		firewall.WithTimeout(cfg.Timeout),
		firewall.WithObserver(m),
		firewall.WithLogger(log),
	)

	var opts []policy.ResolverOption
	if cfg.StrictIndex {
		opts = append(opts, policy.WithStrictIndex(client))
	}
	resolver := policy.NewResolver(client, opts...)

	return &gate{
		cfg:     cfg,
		log:     log,
		metrics: m,
		client:  client,
		orch: orchestrator.New(resolver,
			orchestrator.WithConcurrency(cfg.Concurrency),
			orchestrator.WithLogger(log),
			orchestrator.WithMetrics(m),
		),
	}
}

// flushMetrics writes the textfile when --metrics-file is set
func (a *app) flushMetrics(g *gate) {
	if a.metricsFile == "" {
		return
	}
	if err := g.metrics.WriteTextfile(a.metricsFile); err != nil {
		g.log.Warn("metrics_write_failed", "Failed to write metrics file", map[string]interface{}{
			"path":  a.metricsFile,
			"error": err.Error(),
		})
	}
}

type installOptions struct {
	requirementFile string
	force           bool
	upgrade         bool
	indexURL        string
	extraIndexURL   string
	trustedHost     string
	noDeps          bool
	collectAll      bool
}

func (a *app) newInstallCmd() *cobra.Command {
	opts := &installOptions{}

	cmd := &cobra.Command{
		Use:   "install [packages...] [-- pip-args...]",
		Short: "Install packages after the firewall allows all of them",
		Example: `  pipgate install requests
  pipgate install keras==3.11.2
  pipgate install -r requirements.txt
  pipgate install requests --upgrade
  pipgate install keras --force
  pipgate install numpy -- --quiet`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runInstall(cmd, args, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.requirementFile, "requirement", "r", "", "Install from the given requirements file")
	f.BoolVarP(&opts.force, "force", "f", false, "Skip firewall validation")
	f.BoolVarP(&opts.upgrade, "upgrade", "U", false, "Upgrade packages to the newest available version")
	f.StringVarP(&opts.indexURL, "index-url", "i", "", "Base URL of the package index")
	f.StringVar(&opts.extraIndexURL, "extra-index-url", "", "Extra package index URL")
	f.StringVar(&opts.trustedHost, "trusted-host", "", "Mark this host as trusted")
	f.BoolVar(&opts.noDeps, "no-deps", false, "Don't install package dependencies")
	f.BoolVar(&opts.collectAll, "collect-all", false, "Check every package and report all blocks before aborting")

	return cmd
}

func (a *app) runInstall(cmd *cobra.Command, args []string, opts *installOptions) error {
	packages, extra := args, []string(nil)
	if dash := cmd.ArgsLenAtDash(); dash >= 0 {
		packages, extra = args[:dash], args[dash:]
	}

	if opts.requirementFile == "" && len(packages) == 0 && len(extra) == 0 {
		return &exitError{code: 1, err: errors.New("no packages specified. Use 'pipgate install <package>' or '-r requirements.txt'")}
	}

	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return err
	}
	if !opts.force {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
	}

	g := a.newGate(cfg)
	defer a.flushMetrics(g)
	out := ui.New(a.stdout)
	ctx := cmd.Context()

	labels := append([]string{}, packages...)
	if opts.requirementFile != "" {
		labels = append(labels, "-r "+opts.requirementFile)
	}

	if opts.force {
		out.Warning("Skipping security validation (--force flag used)")
	} else {
		specs, err := installTargets(opts.requirementFile, packages, extra)
		if err != nil {
			return err
		}
		if len(specs) == 0 {
			return &exitError{code: 1, err: errors.New("no packages to install")}
		}

		mode := policy.ModeAbortOnFirstBlock
		if opts.collectAll {
			mode = policy.ModeCollectAll
		}

		result, err := g.orch.Run(ctx, specs, mode)
		if err != nil {
			return err
		}

		for _, v := range result.Verdicts {
			out.Verdict(v, g.client.BlockRecordURL(v.Specifier.Name))
		}
		if !result.Proceed() {
			out.Error("Installation aborted due to security policy violations")
			return &exitError{code: 1}
		}

		labels = make([]string, len(specs))
		for i, s := range specs {
			labels[i] = s.Raw
		}
	}

	inv := installer.New(cfg.Installer)
	inv.Stdin = a.stdin
	inv.Stdout = a.stdout

	argv := inv.BuildArgs(installer.Request{
		Packages:        packages,
		RequirementFile: opts.requirementFile,
		Upgrade:         opts.upgrade,
		IndexURL:        opts.indexURL,
		ExtraIndexURL:   opts.extraIndexURL,
		TrustedHost:     opts.trustedHost,
		NoDeps:          opts.noDeps,
		ExtraArgs:       extra,
	})

	out.Installing(labels)
	g.log.Info("installer_start", "Running installer", map[string]interface{}{
		"argv": argv,
	})

	result, err := inv.Run(ctx, argv)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return &exitError{code: result.ExitCode, err: fmt.Errorf("failed to execute installer: %w", err)}
	}

	g.log.Info("installer_exit", fmt.Sprintf("Installer exited with code %d", result.ExitCode), nil)

	if result.ExitCode != 0 {
		out.BlockedArtifacts(result.BlockedArtifacts)
		return &exitError{code: result.ExitCode}
	}
	return nil
}

// installTargets collects every package the installer would be asked for:
// the requirements file, positional packages and targets passed after `--`.
func installTargets(requirementFile string, packages, extra []string) ([]requirement.Specifier, error) {
	var specs []requirement.Specifier
	if requirementFile != "" {
		fileSpecs, err := requirement.ParseFile(requirementFile)
		if err != nil {
			return nil, err
		}
		specs = append(specs, fileSpecs...)
	}

	argSpecs, err := requirement.ParseArgs(packages)
	if err != nil {
		return nil, err
	}
	specs = append(specs, argSpecs...)

	extraSpecs, err := requirement.ParseInstallerArgs(extra)
	if err != nil {
		return nil, err
	}
	return append(specs, extraSpecs...), nil
}

func (a *app) newAuditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit PACKAGE",
		Short: "Show whether a package is blocked and why",
		Example: `  pipgate audit keras
  pipgate audit numpy==2.3.5`,
		Args: cobra.ExactArgs(1),
		RunE: a.runAudit,
	}
}

func (a *app) runAudit(cmd *cobra.Command, args []string) error {
	spec, err := requirement.Parse(args[0])
	if err != nil {
		return err
	}
	// the whole package is audited, not the requested version
	spec = requirement.Specifier{Name: spec.Name, Raw: spec.Name}

	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	g := a.newGate(cfg)
	defer a.flushMetrics(g)
	ctx := cmd.Context()

	result, err := g.orch.Run(ctx, []requirement.Specifier{spec}, policy.ModeCollectAll)
	if err != nil {
		return err
	}
	verdict := result.Verdicts[0]
	if verdict.Outcome == policy.OutcomeIndeterminate {
		return &exitError{code: 1, err: fmt.Errorf("error checking package: %s", verdict.Reason)}
	}

	index := verdict.Index
	if index == "" {
		index, err = g.client.CheckIndex(ctx, spec.Name)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			g.log.Warn("index_check_failed", "Index status unavailable", map[string]interface{}{
				"package": spec.Name,
				"error":   err.Error(),
			})
			index = ""
		}
	}

	ui.New(a.stdout).Audit(ui.AuditReport{
		Package:    spec.Name,
		Record:     verdict.Record,
		Index:      index,
		DetailsURL: g.client.BlockRecordURL(spec.Name),
	})
	return nil
}

func (a *app) newCheckCmd() *cobra.Command {
	var url string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check whether the firewall is reachable",
		Example: `  pipgate check
  pipgate check --url http://localhost:8000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig(cmd)
			if err != nil {
				return err
			}
			if url != "" {
				cfg.FirewallURL = url
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			g := a.newGate(cfg)
			defer a.flushMetrics(g)
			out := ui.New(a.stdout)

			if err := g.client.Ping(cmd.Context()); err != nil {
				if cmd.Context().Err() != nil {
					return cmd.Context().Err()
				}
				out.Error("Firewall is not reachable at " + cfg.FirewallURL)
				out.Dim(err.Error())
				out.Dim("Make sure the package firewall is running")
				return &exitError{code: 1}
			}

			out.Success("Firewall is reachable at " + cfg.FirewallURL)
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "Firewall URL to check (overrides all other settings)")
	return cmd
}

func (a *app) newPrintConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "print-config",
		Short: "Print current configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig(cmd)
			if err != nil {
				return err
			}

			w := a.stdout
			fmt.Fprintf(w, "Config Source: %s\n", cfg.Source)
			fmt.Fprintf(w, "Firewall URL: %s\n", cfg.FirewallURL)
			fmt.Fprintf(w, "Timeout: %s\n", cfg.Timeout)
			fmt.Fprintf(w, "Concurrency: %d\n", cfg.Concurrency)
			fmt.Fprintf(w, "Strict Index: %v\n", cfg.StrictIndex)
			fmt.Fprintf(w, "Installer: %v\n", cfg.Installer)
			fmt.Fprintf(w, "Log Level: %s\n", cfg.LogLevel)
			fmt.Fprintf(w, "Env %s: %s\n", config.EnvFirewallURL, func() string {
				if v := a.getenv(config.EnvFirewallURL); v != "" {
					return v
				}
				return "[not set]"
			}())

			return cfg.Validate()
		},
	}
}

func (a *app) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the pipgate version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.stdout, "pipgate version %s\n", version)
		},
	}
}
