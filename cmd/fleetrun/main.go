// Command fleetrun executes fleet operations over SSH against a list of
// hosts, with per-host credential resolution, bounded concurrency, and an
// append-only audit trail.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"fleetrun/internal/batch"
	"fleetrun/internal/config"
	"fleetrun/internal/errors"
	"fleetrun/internal/filter"
	"fleetrun/internal/hostspec"
	"fleetrun/internal/inventory"
	"fleetrun/internal/keyring"
	"fleetrun/internal/logging"
	"fleetrun/internal/ops"
	"fleetrun/internal/progress"
	"fleetrun/internal/report"
	"fleetrun/internal/secrets"
	"fleetrun/internal/sshexec"
)

var (
	// Build-time variables (set via -ldflags)
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"

	cfg *config.Config

	// CLI flags
	flagHosts          string
	flagHostFile       string
	flagInventory      string
	flagLimit          string
	flagDomain         string
	flagUser           string
	flagPort           int
	flagKeyPrefix      string
	flagKeyOverrides   string
	flagSecrets        string
	flagConcurrency    string
	flagConnectTimeout time.Duration
	flagRunTimeout     time.Duration
	flagHostKeyPolicy  string
	flagKnownHosts     string
	flagSummaryLog     string
	flagDetailLog      string
	flagTruncateLogs   bool
	flagProgress       bool
	flagQuiet          bool
	flagDryRun         bool
	flagLogLevel       string
	flagLogFormat      string

	// Operation-specific flags
	flagShutdownDelay time.Duration
	flagSyncSource    string
	flagSyncDest      string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fleetrun:", err)
		os.Exit(errors.ExitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "fleetrun",
	Short: "Run operations across a fleet of SSH hosts",
	Long: `fleetrun performs fleet operations over SSH against a list of hosts:
package updates, OS and RAM facts, user provisioning, shutdown/reboot
scheduling, script-directory sync, and arbitrary commands.

Hosts come from --hosts, --hostfile, a YAML --inventory, or stdin; bare
names get the configured default domain, "host@domain" tokens override it,
and IPv4 literals pass through unchanged. Every host is attempted even when
earlier ones fail; the process exits nonzero iff any host failed.

Examples:
  fleetrun --hostfile hosts.txt ping
  fleetrun --hosts "alpha,beta@example.com" --domain lan ram
  fleetrun --inventory fleet.yaml --limit 'tag:prod,!web-02' update
  fleetrun --hostfile hosts.txt --concurrency 8 run -- 'uptime'`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		manager := config.NewManager()
		loaded, err := manager.Load()
		if err != nil {
			return &errors.SetupError{Message: "loading configuration", Err: err}
		}
		cfg = loaded
		applyFlagOverrides(cmd)
		if err := manager.Validate(cfg); err != nil {
			return &errors.SetupError{Message: "validating configuration", Err: err}
		}
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagHosts, "hosts", "", "comma-separated host tokens")
	pf.StringVar(&flagHostFile, "hostfile", "", "host list file (one token per line, # comments)")
	pf.StringVar(&flagInventory, "inventory", "", "YAML fleet inventory file")
	pf.StringVar(&flagLimit, "limit", "", "host subset filter (globs, tag:x, ! to exclude)")
	pf.StringVar(&flagDomain, "domain", "", "default domain appended to bare host names")
	pf.StringVar(&flagUser, "user", "", "remote SSH user (default: USER_NAME from secrets, else local user)")
	pf.IntVar(&flagPort, "port", 22, "remote SSH port")
	pf.StringVar(&flagKeyPrefix, "key-prefix", "", "derived per-host key path template with one %s")
	pf.StringVar(&flagKeyOverrides, "key-overrides", "", "per-host key table file (hostname|keypath)")
	pf.StringVar(&flagSecrets, "secrets", "", "secrets file (.secrets, owner-only permissions)")
	pf.StringVar(&flagConcurrency, "concurrency", "1", "simultaneous hosts ('auto' or number)")
	pf.DurationVar(&flagConnectTimeout, "connect-timeout", sshexec.DefaultConnectTimeout, "per-host connect timeout")
	pf.DurationVar(&flagRunTimeout, "run-timeout", 0, "whole-run timeout (0 for none)")
	pf.StringVar(&flagHostKeyPolicy, "host-key-policy", "accept-new", "host key trust policy (known-hosts, accept-new, insecure)")
	pf.StringVar(&flagKnownHosts, "known-hosts", "", "known_hosts path (default ~/.ssh/known_hosts)")
	pf.StringVar(&flagSummaryLog, "summary-log", "fleetrun-summary.log", "summary log path (appended)")
	pf.StringVar(&flagDetailLog, "detail-log", "fleetrun-detail.log", "detail log path (appended)")
	pf.BoolVar(&flagTruncateLogs, "truncate-logs", false, "truncate logs instead of appending")
	pf.BoolVar(&flagProgress, "progress", false, "show progress line")
	pf.BoolVar(&flagQuiet, "quiet", false, "suppress non-error diagnostics")
	pf.BoolVar(&flagDryRun, "dry-run", false, "show the plan without connecting")
	pf.StringVar(&flagLogLevel, "log-level", "info", "log level (info, error)")
	pf.StringVar(&flagLogFormat, "log-format", "text", "log format (text, json)")

	runCmd := &cobra.Command{
		Use:   "run -- <command>",
		Short: "Run an arbitrary command on every host",
		Long: `Run an arbitrary command on every host. The command may contain
per-host template placeholders: {{.Host}}, {{.BareName}}, {{.Domain}},
{{.RawToken}}, with upper/lower/title helpers.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return &errors.SetupError{Message: "command is required after '--'"}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOp(ops.Command{CommandLine: strings.Join(args, " ")})
		},
	}

	updateCmd := &cobra.Command{
		Use:   "update",
		Short: "Update and upgrade packages on every host",
		RunE:  func(cmd *cobra.Command, args []string) error { return runOp(ops.Update{}) },
	}

	osinfoCmd := &cobra.Command{
		Use:   "osinfo",
		Short: "Report OS name, version, and architecture per host",
		RunE:  func(cmd *cobra.Command, args []string) error { return runOp(ops.OSInfo{}) },
	}

	ramCmd := &cobra.Command{
		Use:   "ram",
		Short: "Report total RAM per host",
		RunE:  func(cmd *cobra.Command, args []string) error { return runOp(ops.RAM{}) },
	}

	pingCmd := &cobra.Command{
		Use:   "ping",
		Short: "Test SSH connectivity to every host",
		RunE:  func(cmd *cobra.Command, args []string) error { return runOp(ops.Ping{}) },
	}

	adduserCmd := &cobra.Command{
		Use:   "adduser",
		Short: "Provision a sudo user with an authorized key on every host",
		Long: `Provision a user on every host: create the account, set its password,
grant sudo membership, and install an authorized key. Reads NEW_USER_NAME,
NEW_USER_PASSWORD, and PUBKEY_FILE from the secrets file; the password and
key travel over the session, never on a remote command line.`,
		RunE: func(cmd *cobra.Command, args []string) error { return runOp(ops.AddUser{}) },
	}

	shutdownCmd := &cobra.Command{
		Use:   "shutdown",
		Short: "Schedule a shutdown on every host",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOp(ops.Shutdown{Delay: flagShutdownDelay})
		},
	}
	shutdownCmd.Flags().DurationVar(&flagShutdownDelay, "delay", 0, "delay before shutdown (whole minutes)")

	rebootCmd := &cobra.Command{
		Use:   "reboot",
		Short: "Schedule a reboot on every host",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOp(ops.Shutdown{Reboot: true, Delay: flagShutdownDelay})
		},
	}
	rebootCmd.Flags().DurationVar(&flagShutdownDelay, "delay", 0, "delay before reboot (whole minutes)")

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Push a local script directory to every host",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOp(ops.Sync{SourceDir: flagSyncSource, DestDir: flagSyncDest})
		},
	}
	syncCmd.Flags().StringVar(&flagSyncSource, "source", "", "local directory to push")
	syncCmd.Flags().StringVar(&flagSyncDest, "dest", "", "remote destination directory")
	syncCmd.MarkFlagRequired("source")
	syncCmd.MarkFlagRequired("dest")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fleetrun %s\n", version)
			fmt.Printf("Commit: %s\n", commit)
			fmt.Printf("Built: %s\n", buildTime)
		},
	}

	rootCmd.AddCommand(runCmd, updateCmd, osinfoCmd, ramCmd, pingCmd,
		adduserCmd, shutdownCmd, rebootCmd, syncCmd, versionCmd)
}

// applyFlagOverrides layers explicitly set CLI flags over the loaded config.
func applyFlagOverrides(cmd *cobra.Command) {
	f := cmd.Flags()
	if f.Changed("hosts") {
		cfg.Hosts = flagHosts
	}
	if f.Changed("hostfile") {
		cfg.HostFile = flagHostFile
	}
	if f.Changed("inventory") {
		cfg.Inventory = flagInventory
	}
	if f.Changed("limit") {
		cfg.Limit = flagLimit
	}
	if f.Changed("domain") {
		cfg.Domain = flagDomain
	}
	if f.Changed("user") {
		cfg.User = flagUser
	}
	if f.Changed("port") {
		cfg.Port = flagPort
	}
	if f.Changed("key-prefix") {
		cfg.KeyPrefix = flagKeyPrefix
	}
	if f.Changed("key-overrides") {
		cfg.KeyOverrides = flagKeyOverrides
	}
	if f.Changed("secrets") {
		cfg.Secrets = flagSecrets
	}
	if f.Changed("concurrency") {
		cfg.Concurrency = flagConcurrency
	}
	if f.Changed("connect-timeout") {
		cfg.ConnectTimeout = flagConnectTimeout
	}
	if f.Changed("run-timeout") {
		cfg.RunTimeout = flagRunTimeout
	}
	if f.Changed("host-key-policy") {
		cfg.HostKeyPolicy = flagHostKeyPolicy
	}
	if f.Changed("known-hosts") {
		cfg.KnownHosts = flagKnownHosts
	}
	if f.Changed("summary-log") {
		cfg.SummaryLog = flagSummaryLog
	}
	if f.Changed("detail-log") {
		cfg.DetailLog = flagDetailLog
	}
	if f.Changed("truncate-logs") {
		cfg.TruncateLogs = flagTruncateLogs
	}
	if f.Changed("progress") {
		cfg.ShowProgress = flagProgress
	}
	if f.Changed("quiet") {
		cfg.Quiet = flagQuiet
	}
	if f.Changed("dry-run") {
		cfg.DryRun = flagDryRun
	}
	if f.Changed("log-level") {
		cfg.LogLevel = flagLogLevel
	}
	if f.Changed("log-format") {
		cfg.LogFormat = flagLogFormat
	}
}

// hostSource is the resolved set of inputs a run operates on.
type hostSource struct {
	tokens    []hostspec.Token
	domain    string
	keyPrefix string
	overrides map[string]string
	tags      map[string][]string
}

func loadHosts(logger *logging.Logger) (*hostSource, error) {
	src := &hostSource{
		domain:    cfg.Domain,
		keyPrefix: cfg.KeyPrefix,
		overrides: map[string]string{},
		tags:      map[string][]string{},
	}

	switch {
	case cfg.Inventory != "":
		fleet, err := inventory.Load(cfg.Inventory)
		if err != nil {
			return nil, &errors.SetupError{Message: "loading inventory", Err: err}
		}
		src.tokens = fleet.Tokens()
		src.overrides = fleet.KeyOverrides()
		src.tags = fleet.TagIndex()
		if src.domain == "" {
			src.domain = fleet.DefaultDomain
		}
		if src.keyPrefix == "" {
			src.keyPrefix = fleet.KeyPrefix
		}
		logger.LogHostsLoaded(cfg.Inventory, len(src.tokens))

	case cfg.Hosts != "":
		src.tokens = hostspec.ParseTokens(cfg.Hosts)
		logger.LogHostsLoaded("--hosts", len(src.tokens))

	case cfg.HostFile != "":
		tokens, err := hostspec.ReadTokenFile(cfg.HostFile)
		if err != nil {
			return nil, &errors.SetupError{Message: "loading host list", Err: err}
		}
		src.tokens = tokens
		logger.LogHostsLoaded(cfg.HostFile, len(src.tokens))

	default:
		if stdinIsTTY() {
			return nil, &errors.SetupError{Message: "no hosts: use --hosts, --hostfile, --inventory, or pipe a host list to stdin"}
		}
		tokens, err := hostspec.ReadTokens(os.Stdin)
		if err != nil {
			return nil, &errors.SetupError{Message: "reading hosts from stdin", Err: err}
		}
		src.tokens = tokens
		logger.LogHostsLoaded("stdin", len(src.tokens))
	}

	if cfg.KeyOverrides != "" {
		overrides, err := keyring.LoadOverrides(cfg.KeyOverrides)
		if err != nil {
			return nil, &errors.SetupError{Message: "loading key overrides", Err: err}
		}
		for host, path := range overrides {
			src.overrides[host] = path
		}
	}

	if cfg.Limit != "" {
		matcher, err := filter.Parse(cfg.Limit)
		if err != nil {
			return nil, &errors.SetupError{Message: "parsing --limit", Err: err}
		}
		before := len(src.tokens)
		src.tokens = matcher.Apply(src.tokens, src.tags)
		logger.Info("applied host filter", "expression", cfg.Limit,
			"before", before, "after", len(src.tokens))
	}

	if len(src.tokens) == 0 {
		return nil, &errors.SetupError{Message: "no hosts selected"}
	}
	return src, nil
}

func runOp(op ops.Op) error {
	logger := logging.NewFromSettings(cfg.LogLevel, cfg.LogFormat, cfg.Quiet)

	var store *secrets.Store
	if cfg.Secrets != "" {
		loaded, err := secrets.Load(cfg.Secrets)
		if err != nil {
			return &errors.SetupError{Message: "loading secrets", Err: err}
		}
		store = loaded
	}

	src, err := loadHosts(logger)
	if err != nil {
		return err
	}

	operation, err := op.Describe(store)
	if err != nil {
		return &errors.SetupError{Message: fmt.Sprintf("preparing %s operation", op.Name()), Err: err}
	}
	operation.ConnectTimeout = cfg.ConnectTimeout

	concurrency, err := batch.ParseConcurrency(cfg.Concurrency, len(src.tokens))
	if err != nil {
		return &errors.SetupError{Message: "resolving concurrency", Err: err}
	}

	defaultKey := ""
	if store != nil {
		defaultKey, _ = store.Get(secrets.KeySSHKeyPath)
	}

	if cfg.DryRun {
		return printPlan(op, operation, src, concurrency, defaultKey)
	}

	user := cfg.User
	if user == "" && store != nil {
		user, _ = store.Get(secrets.KeyUserName)
	}
	if user == "" {
		user = os.Getenv("USER")
	}

	policy, err := sshexec.ParsePolicy(cfg.HostKeyPolicy)
	if err != nil {
		return &errors.SetupError{Message: "host key policy", Err: err}
	}
	verifier, err := sshexec.NewVerifier(policy, cfg.KnownHosts, logger)
	if err != nil {
		return &errors.SetupError{Message: "host key verifier", Err: err}
	}

	var runner sshexec.Runner = &sshexec.Client{
		User:     user,
		Port:     cfg.Port,
		HostKeys: verifier,
		Logger:   logger,
	}
	runner = ops.TemplatedRunner{Inner: runner}

	keys := keyring.NewResolver(src.overrides, src.keyPrefix, defaultKey)

	reporter, err := report.Open(cfg.SummaryLog, cfg.DetailLog, cfg.TruncateLogs, os.Stdout)
	if err != nil {
		return &errors.SetupError{Message: "opening log sinks", Err: err}
	}
	defer reporter.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.RunTimeout > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, cfg.RunTimeout)
		defer timeoutCancel()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received shutdown signal, canceling run", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	tracker := progress.New(len(src.tokens), os.Stderr, cfg.ShowProgress)

	orchestrator := &batch.Orchestrator{
		Runner:      runner,
		Credentials: keys.Resolve,
		Concurrency: concurrency,
		Logger:      logger,
		Observer: func(res sshexec.Result) {
			tracker.Update(res.Status == sshexec.Success)
		},
	}

	run := orchestrator.Execute(ctx, src.tokens, src.domain, operation)
	tracker.Finish()

	var annotate report.Annotator
	if a, ok := op.(ops.Annotator); ok {
		annotate = func(res sshexec.Result) string {
			if res.Status != sshexec.Success {
				return ""
			}
			return a.Annotate(res.CombinedOutput)
		}
	}

	// A broken audit trail aborts the run rather than proceeding silently.
	if err := reporter.Report(run, annotate); err != nil {
		return &errors.SetupError{Message: "writing audit trail", Err: err}
	}

	if run.FailureCount > 0 {
		return &errors.RunError{
			Message: fmt.Sprintf("%s: %d/%d hosts failed", op.Name(), run.FailureCount, len(run.Results)),
		}
	}
	return nil
}

func printPlan(op ops.Op, operation sshexec.Operation, src *hostSource, concurrency int, defaultKey string) error {
	fmt.Printf("fleetrun dry run: %s\n\n", op.Name())
	fmt.Printf("  command:         %s\n", operation.RemoteCommand)
	fmt.Printf("  hosts:           %d\n", len(src.tokens))
	fmt.Printf("  concurrency:     %d\n", concurrency)
	fmt.Printf("  connect timeout: %v\n", operation.ConnectTimeout)
	fmt.Printf("  host key policy: %s\n", cfg.HostKeyPolicy)
	fmt.Printf("  summary log:     %s\n", cfg.SummaryLog)
	fmt.Printf("  detail log:      %s\n\n", cfg.DetailLog)

	keys := keyring.NewResolver(src.overrides, src.keyPrefix, defaultKey)
	for i, tok := range src.tokens {
		spec := hostspec.Resolve(string(tok), src.domain)
		fmt.Printf("  %d. %s -> %s", i+1, spec.RawToken, spec.CanonicalAddress)
		cred := keys.Resolve(tok)
		if cred.KeyPath != "" {
			fmt.Printf("  [key %s, %s]", cred.KeyPath, cred.Class)
		}
		fmt.Println()
	}
	fmt.Println("\nNo connections made. Remove --dry-run to execute.")
	return nil
}

func stdinIsTTY() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return true
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}
