// Package cli implements the command-line interface for txn-report.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/eunmann/txn-batch-report/internal/logctx"
	"github.com/eunmann/txn-batch-report/pkg/batchconfig"
	"github.com/eunmann/txn-batch-report/pkg/batchexec"
	"github.com/eunmann/txn-batch-report/pkg/fileutil"
	"github.com/eunmann/txn-batch-report/pkg/humanfmt"
	"github.com/eunmann/txn-batch-report/pkg/logging"
	"github.com/eunmann/txn-batch-report/pkg/mongostore"
	"github.com/eunmann/txn-batch-report/pkg/objstore"
	"github.com/eunmann/txn-batch-report/pkg/report"
	"github.com/eunmann/txn-batch-report/pkg/store"
)

// CloseFunc releases a store.
type CloseFunc func(ctx context.Context) error

// Deps are the process collaborators of the CLI.
type Deps struct {
	Lookup    batchconfig.LookupFunc
	Stdout    io.Writer
	Stderr    io.Writer
	OpenStore func(ctx context.Context, cfg mongostore.Config) (store.Store, CloseFunc, error)
	NewSink   func(ctx context.Context, location string) (report.Sink, error)
	Now       func() time.Time
	Sleep     batchexec.SleepFunc
}

// DefaultDeps wires the real environment, MongoDB and output sinks.
func DefaultDeps() Deps {
	return Deps{
		Lookup: os.LookupEnv,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		OpenStore: func(ctx context.Context, cfg mongostore.Config) (store.Store, CloseFunc, error) {
			s, err := mongostore.Open(ctx, cfg)
			if err != nil {
				return nil, nil, err
			}
			return s, s.Close, nil
		},
		NewSink: report.NewSink,
		Now:     time.Now,
		Sleep:   batchexec.Sleep,
	}
}

// Run executes the CLI with the given arguments.
func Run(ctx context.Context, args []string) error {
	return Execute(ctx, args, DefaultDeps())
}

// Execute runs the CLI against explicit collaborators.
func Execute(ctx context.Context, args []string, deps Deps) error {
	cmd := newRootCmd(&app{deps: deps})
	cmd.SetArgs(args)
	cmd.SetOut(deps.Stdout)
	cmd.SetErr(deps.Stderr)
	return cmd.ExecuteContext(ctx)
}

type app struct {
	deps Deps
	cfg  batchconfig.BatchConfig
}

type rootFlags struct {
	configPath  string
	debug       bool
	human       bool
	batchSize   int
	batchDelay  int64
	maxBatches  int
	outputDir   string
	compression string
}

func newRootCmd(a *app) *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:           "txn-report",
		Short:         "Batched aggregation reports over the transaction collection",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd, flags)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "YAML config file (environment variables override it)")
	pf.BoolVar(&flags.debug, "debug", false, "enable debug logging")
	pf.BoolVar(&flags.human, "human", false, "human-readable console logs (default when stderr is a terminal)")
	pf.IntVar(&flags.batchSize, "batch-size", batchconfig.DefaultBatchSize, "records per batch (overrides "+batchconfig.EnvBatchSize+")")
	pf.Int64Var(&flags.batchDelay, "batch-delay", batchconfig.DefaultDelay.Milliseconds(), "milliseconds between batches (overrides "+batchconfig.EnvBatchDelay+")")
	pf.IntVar(&flags.maxBatches, "max-batches", 0, "maximum batches to process (overrides "+batchconfig.EnvMaxBatches+")")
	pf.StringVar(&flags.outputDir, "output-dir", batchconfig.DefaultOutputDirectory, "report directory or s3://bucket/prefix (overrides "+batchconfig.EnvOutputDirectory+")")
	pf.StringVar(&flags.compression, "compression", "", "report compression: gzip or zstd (overrides "+batchconfig.EnvOutputCompression+")")

	cmd.AddCommand(
		newRunCmd(a),
		newExtractKeysCmd(a),
		newAnalyzeCmd(a),
		newStatsCmd(a),
		newInspectCmd(a),
	)
	return cmd
}

func (a *app) setup(cmd *cobra.Command, flags rootFlags) error {
	human := flags.human
	if f, ok := a.deps.Stderr.(*os.File); ok && !cmd.Flags().Changed("human") {
		human = term.IsTerminal(int(f.Fd()))
	}
	logging.InitWriter(a.deps.Stderr, flags.debug, human)

	cfg, err := batchconfig.LoadFile(flags.configPath, a.deps.Lookup)
	if err != nil {
		return err
	}
	changed := cmd.Flags().Changed
	if changed("batch-size") {
		cfg.BatchSize = flags.batchSize
	}
	if changed("batch-delay") {
		cfg.ProcessingDelay = time.Duration(flags.batchDelay) * time.Millisecond
	}
	if changed("max-batches") {
		if flags.maxBatches <= 0 {
			return &batchconfig.ConfigurationError{
				Field:  "--max-batches",
				Value:  strconv.Itoa(flags.maxBatches),
				Reason: "must be greater than 0 when set",
			}
		}
		cfg.MaxBatches = flags.maxBatches
	}
	if changed("output-dir") {
		cfg.OutputDirectory = flags.outputDir
	}
	if changed("compression") {
		cfg.Compression = strings.ToLower(strings.TrimSpace(flags.compression))
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	if !objstore.IsS3URI(cfg.OutputDirectory) {
		if err := fileutil.CleanupTmpFiles(cfg.OutputDirectory); err != nil {
			return err
		}
	}

	cmd.SetContext(logctx.WithRun(cmd.Context(), *logging.L(), cmd.Name()))
	return nil
}

// withStore opens the store for the duration of fn. Close failures are logged only.
func (a *app) withStore(ctx context.Context, fn func(store.Store) error) error {
	s, closeStore, err := a.deps.OpenStore(ctx, mongostore.LoadConfig(a.deps.Lookup))
	if err != nil {
		return err
	}
	defer func() {
		if closeStore == nil {
			return
		}
		if err := closeStore(context.WithoutCancel(ctx)); err != nil {
			log := logctx.FromContext(ctx)
			log.Warn().Err(err).Msg("closing store")
		}
	}()
	return fn(s)
}

func (a *app) writer(ctx context.Context) (*report.Writer, error) {
	sink, err := a.deps.NewSink(ctx, a.cfg.OutputDirectory)
	if err != nil {
		return nil, err
	}
	return report.NewWriter(sink,
		report.WithClock(a.deps.Now),
		report.WithCompression(a.cfg.Compression),
	), nil
}

func (a *app) executor(s store.Store, opts ...batchexec.Option) *batchexec.Executor {
	base := []batchexec.Option{
		batchexec.WithSleep(a.deps.Sleep),
		batchexec.WithClock(a.deps.Now),
	}
	return batchexec.New(s, append(base, opts...)...)
}

func printConfig(w io.Writer, cfg batchconfig.BatchConfig) {
	maxBatches := "unlimited"
	if cfg.HasMaxBatches() {
		maxBatches = fmt.Sprint(cfg.MaxBatches)
	}
	fmt.Fprintln(w, "Batch configuration:")
	fmt.Fprintf(w, "  batch size:       %d\n", cfg.BatchSize)
	fmt.Fprintf(w, "  batch delay:      %s\n", cfg.ProcessingDelay)
	fmt.Fprintf(w, "  max batches:      %s\n", maxBatches)
	fmt.Fprintf(w, "  output directory: %s\n", cfg.OutputDirectory)
}

func printElapsed(w io.Writer, d time.Duration) {
	fmt.Fprintf(w, "Total time: %s\n", humanfmt.Duration(d))
}
