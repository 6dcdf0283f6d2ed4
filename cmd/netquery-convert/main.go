package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Diegomcha/netquery/internal/classify"
	"github.com/Diegomcha/netquery/internal/config"
	"github.com/Diegomcha/netquery/internal/version"
)

var (
	opts  options
	watch bool
	debug bool

	rootCmd = &cobra.Command{
		Use:   "netquery-convert",
		Short: "Turn a netquery result table into an inventory",
		Long: `netquery-convert reads the CSV written by netquery and emits an inventory
that netquery accepts as input. Devices are grouped and labelled either by
two of the table's columns (--groupby, --labelby) or by regex rules matched
against one column (--rules, --rule, --field).`,
		Example: `  netquery-convert -i result.csv -o inventory.json
  netquery-convert -i result.csv --rule '10\..*=>lab' --rule '.*=>prod' --format yaml
  netquery-convert -i result.csv --rules rules.yaml -o inventory.json --watch`,
		Version:      version.String(),
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE:         run,
	}
)

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&opts.input, "input", "i", "", "CSV written by netquery")
	f.StringVarP(&opts.output, "output", "o", "-", "inventory file, - for stdout")
	f.StringVar(&opts.rulesFile, "rules", "", "YAML or JSON rule file")
	f.StringArrayVar(&opts.rules, "rule", nil, "inline rule PATTERN=>GROUP[,LABEL]; repeatable, first match wins")
	f.StringVar(&opts.field, "field", string(classify.FieldIP), "column the rules match against")
	f.StringVar(&opts.groupBy, "groupby", string(classify.FieldDeviceType), "column to group devices by when no rules are given")
	f.StringVar(&opts.labelBy, "labelby", string(classify.FieldHostname), "column to label devices by when no rules are given")
	f.StringVar(&opts.format, "format", "", "json or yaml (default from the output extension, else json)")
	f.BoolVar(&watch, "watch", false, "convert again whenever the input or rule file changes")
	f.BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.MarkFlagRequired("input")
}

func run(cmd *cobra.Command, args []string) error {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger, closeLog := config.SetupLogger("", level)
	defer closeLog()

	if err := convert(opts); err != nil {
		return err
	}
	if opts.output != "-" {
		logger.Info("Converted", "input", opts.input, "output", opts.output)
	}
	if !watch {
		return nil
	}

	paths := []string{opts.input}
	if opts.rulesFile != "" {
		paths = append(paths, opts.rulesFile)
	}
	w, err := classify.NewWatcher(paths, func(changed []string) {
		if err := convert(opts); err != nil {
			logger.Error("Conversion failed", "changed", changed, "error", err)
			return
		}
		logger.Info("Converted", "changed", changed, "output", opts.output)
	}, logger)
	if err != nil {
		return fmt.Errorf("watching inputs: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	w.Start(ctx)
	logger.Info("Watching for changes", "files", paths)
	<-ctx.Done()
	w.Stop()
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, filepath.Base(os.Args[0])+":", err)
		os.Exit(1)
	}
}
