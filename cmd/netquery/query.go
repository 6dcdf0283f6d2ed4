package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Diegomcha/netquery/internal/artifact"
	"github.com/Diegomcha/netquery/internal/inventory"
	"github.com/Diegomcha/netquery/internal/orchestrator"
	"github.com/Diegomcha/netquery/internal/session"
	"github.com/Diegomcha/netquery/tui"
)

// passwordEnv is read when --password is not given
const passwordEnv = "NETQUERY_PASSWORD"

var (
	queryInventories []string
	queryGroups      []string
	queryCommands    []string
	queryExpect      []string
	queryOutputRegex string
	queryTemplates   string
	queryDeviceType  string
	queryUsername    string
	queryPassword    string
	queryAccessCheck bool
	queryWorkers     int
	queryOutput      string
	queryNoTUI       bool
	queryTable       bool
)

func init() {
	queryCmd := &cobra.Command{
		Use:   "query",
		Short: "Run commands against the devices of an inventory",
		Example: `  netquery query -i lab.json -g core -c "show version"
  netquery query -i hosts.txt --access-check -o reachability.html`,
		RunE: runQuery,
	}
	f := queryCmd.Flags()
	f.StringSliceVarP(&queryInventories, "inventory", "i", nil, "inventory file (json, yaml or one address per line); repeatable")
	f.StringSliceVarP(&queryGroups, "groups", "g", []string{inventory.AllGroups}, "groups to query")
	f.StringArrayVarP(&queryCommands, "cmds", "c", nil, "command to run; repeatable, runs in order")
	f.StringArrayVar(&queryExpect, "expect", nil, "prompt pattern per command")
	f.StringVar(&queryOutputRegex, "output-regex", "", "keep only the first match of this regex in each output")
	f.StringVar(&queryTemplates, "templates", "", "regex template file for structured output")
	f.StringVar(&queryDeviceType, "device-type", "", "device type for devices that do not name one")
	f.StringVarP(&queryUsername, "username", "u", "", "login user")
	f.StringVar(&queryPassword, "password", "", "login password (prompted, or $"+passwordEnv+", when omitted)")
	f.BoolVar(&queryAccessCheck, "access-check", false, "only check that a session can be opened")
	f.IntVarP(&queryWorkers, "workers", "w", 0, "concurrent sessions")
	f.StringVarP(&queryOutput, "output", "o", "", "artifact file or directory; the extension picks csv, json, txt or html")
	f.BoolVar(&queryNoTUI, "no-tui", false, "log progress instead of drawing a progress bar")
	f.BoolVar(&queryTable, "table", false, "print the result table when done")
	queryCmd.MarkFlagRequired("inventory")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	// CLI flags override config (only if explicitly set)
	if cmd.Flags().Changed("templates") {
		cfg.Templates.Path = queryTemplates
	}
	if cmd.Flags().Changed("device-type") {
		cfg.Orchestrator.DefaultDeviceType = queryDeviceType
	}
	if cmd.Flags().Changed("username") {
		cfg.Session.Username = queryUsername
	}
	if cmd.Flags().Changed("workers") {
		cfg.Orchestrator.Workers = queryWorkers
	}

	exec, templateTypes, err := newExecutor(cfg)
	if err != nil {
		return err
	}
	if err := checkDeviceType(cfg.Orchestrator.DefaultDeviceType, templateTypes); err != nil {
		return err
	}

	inv, err := inventory.LoadFiles(queryInventories...)
	if err != nil {
		return err
	}
	devices, err := inv.Select(queryGroups, cfg.Orchestrator.DefaultDeviceType)
	if err != nil {
		return err
	}

	creds, err := credentials()
	if err != nil {
		return err
	}

	orch := orchestrator.New(orchestrator.Config{
		Runner:  exec,
		Workers: cfg.Orchestrator.Workers,
		Logger:  logger,
	})
	defer orch.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	job, err := orch.Start(ctx, orchestrator.JobSpec{
		Devices:     devices,
		Commands:    queryCommands,
		Expect:      queryExpect,
		OutputRegex: queryOutputRegex,
		AccessCheck: queryAccessCheck,
		Credentials: creds,
	})
	if err != nil {
		return err
	}
	logger.Debug("Job started", "job", job.ID, "devices", len(devices), "workers", cfg.Orchestrator.Workers)

	interactive := !queryNoTUI && isatty.IsTerminal(os.Stdout.Fd())
	var outcome tui.Outcome
	if interactive {
		outcome, err = tui.Run(ctx, job, jobTitle(len(devices)), len(devices))
	} else {
		outcome, err = tui.RunPlain(ctx, job, logger)
	}
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			return err
		}
		job.Cancel()
	}
	if outcome.Interrupted {
		// Abort the sessions still open and keep what finished.
		job.Cancel()
		orch.Close()
	}
	if err := job.Wait(context.Background()); err != nil {
		return err
	}

	a, ok := job.Artifact()
	if !ok {
		if err := job.Err(); err != nil {
			return err
		}
		return fmt.Errorf("job %s ended without results", job.ID)
	}

	path, size, err := saveArtifact(a)
	if err != nil {
		return err
	}

	if queryTable || interactive {
		fmt.Println(tui.RenderTable(a.Records))
	}
	tui.WriteSummary(os.Stdout, outcome, a.Failures(), path, size)
	return nil
}

func jobTitle(devices int) string {
	if queryAccessCheck {
		return fmt.Sprintf("Checking access to %d devices", devices)
	}
	return fmt.Sprintf("Running %s on %d devices", strings.Join(queryCommands, " + "), devices)
}

// credentials resolves the login from flags, config, environment or a prompt
func credentials() (session.Credentials, error) {
	creds := session.Credentials{Username: cfg.Session.Username, Password: queryPassword}
	if creds.Username == "" {
		creds.Username = os.Getenv("USER")
	}
	if creds.Password != "" {
		return creds, nil
	}
	if env := os.Getenv(passwordEnv); env != "" {
		creds.Password = env
		return creds, nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return creds, fmt.Errorf("no password given: use --password or $%s", passwordEnv)
	}
	fmt.Fprintf(os.Stderr, "Password for %s: ", creds.Username)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return creds, fmt.Errorf("reading password: %w", err)
	}
	creds.Password = string(pw)
	return creds, nil
}

// saveArtifact writes a to --output, or to the artifact directory under its
// download name. A directory output keeps the download name.
func saveArtifact(a *artifact.Artifact) (string, int64, error) {
	path := queryOutput
	switch {
	case path == "":
		path = filepath.Join(cfg.Artifacts.Dir, a.Name)
	case strings.HasSuffix(path, string(filepath.Separator)) || isDir(path):
		path = filepath.Join(path, a.Name)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", 0, fmt.Errorf("creating output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return "", 0, err
	}
	if err := artifact.Write(f, artifact.FormatFromFilename(path), a.Records); err != nil {
		f.Close()
		return "", 0, fmt.Errorf("writing %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", 0, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return path, 0, nil
	}
	return path, info.Size(), nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
