package cli

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/eunmann/txn-batch-report/internal/logctx"
	"github.com/eunmann/txn-batch-report/pkg/batchexec"
	"github.com/eunmann/txn-batch-report/pkg/keybatch"
	"github.com/eunmann/txn-batch-report/pkg/keysource"
	"github.com/eunmann/txn-batch-report/pkg/memdiag"
	"github.com/eunmann/txn-batch-report/pkg/objstore"
	"github.com/eunmann/txn-batch-report/pkg/queries"
	"github.com/eunmann/txn-batch-report/pkg/report"
	"github.com/eunmann/txn-batch-report/pkg/store"
)

const (
	formatJSON    = "json"
	formatParquet = "parquet"
)

func newExtractKeysCmd(a *app) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "extract-keys",
		Short: "Extract the distinct public keys of all transactions",
		Long: "Runs the public key aggregation over the whole collection, ignoring any\n" +
			"batch cap, and saves the keys as public-keys_<timestamp>.json.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if format != formatJSON && format != formatParquet {
				return fmt.Errorf("unknown format %q: use %s or %s", format, formatJSON, formatParquet)
			}
			return a.extractKeys(cmd, format)
		},
	}
	cmd.Flags().StringVar(&format, "format", formatJSON, "key file format: json or parquet")
	return cmd
}

func (a *app) extractKeys(cmd *cobra.Command, format string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	start := time.Now()

	r, err := queries.Lookup(queries.NamePublicKeys)
	if err != nil {
		return err
	}

	var result *batchexec.Result
	err = a.withStore(ctx, func(s store.Store) error {
		var err error
		result, err = a.executor(s).Execute(ctx, batchexec.Request{
			Collection: r.Collection,
			Pipeline:   r.Pipeline,
			Config:     a.cfg.WithoutLimit(),
			Name:       r.Name,
			Strategy:   batchexec.StrategyPostAggregation,
		})
		return err
	})
	if err != nil {
		return err
	}

	keys := keysource.FromRecords(result.Results, keybatch.DefaultKeyField)

	var buf bytes.Buffer
	ext := report.ExtJSON
	if format == formatParquet {
		ext = report.ExtParquet
		err = keysource.WriteParquet(&buf, keys)
	} else {
		err = keysource.WriteJSON(&buf, keys)
	}
	if err != nil {
		return fmt.Errorf("encode keys: %w", err)
	}

	w, err := a.writer(ctx)
	if err != nil {
		return err
	}
	path, err := w.SaveFile(ctx, keysource.FileName, ext, buf.Bytes())
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%d public keys extracted\n", len(keys))
	fmt.Fprintf(out, "Saved to %s\n", path)
	printElapsed(out, time.Since(start))
	return nil
}

func newAnalyzeCmd(a *app) *cobra.Command {
	var (
		keysPath  string
		groupSize int
	)

	cmd := &cobra.Command{
		Use:   "analyze-transactions",
		Short: "Analyze transactions per public key",
		Long: "Loads a public key list (by default the newest public-keys_* file in the\n" +
			"output directory), queries the keys in groups and saves the per-key\n" +
			"analysis as transaction-analysis_<timestamp>.json. A failed group does\n" +
			"not stop the others; its keys are listed as missing.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var src keysource.Source
			switch {
			case keysPath != "":
				src = keysource.File{Path: keysPath}
			case objstore.IsS3URI(a.cfg.OutputDirectory):
				return errors.New("--keys is required when the output directory is in S3")
			default:
				src = keysource.Latest{Dir: a.cfg.OutputDirectory}
			}
			return a.analyze(cmd, src, groupSize)
		},
	}
	cmd.Flags().StringVar(&keysPath, "keys", "", "key file (.json or .parquet)")
	cmd.Flags().IntVar(&groupSize, "group-size", keybatch.DefaultGroupSize, "public keys per query")
	return cmd
}

func (a *app) analyze(cmd *cobra.Command, src keysource.Source, groupSize int) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	log := logctx.FromContext(ctx)
	start := time.Now()

	keys, err := src.Keys(ctx)
	if err != nil {
		return err
	}
	log.Info().Int("keys", len(keys)).Msg("public keys loaded")

	mem := memdiag.NewTracker()
	var outcome *keybatch.Outcome
	err = a.withStore(ctx, func(s store.Store) error {
		d := keybatch.New(s, queries.TransactionAnalysis,
			keybatch.WithDelay(a.cfg.ProcessingDelay),
			keybatch.WithSleep(a.deps.Sleep),
		)
		var err error
		outcome, err = d.Run(ctx, keys, groupSize)
		return err
	})
	if err != nil {
		return err
	}
	mem.Sample(log)

	w, err := a.writer(ctx)
	if err != nil {
		return err
	}
	path, err := w.SaveJSON(ctx, queries.NameTransactionAnalysis, outcome.Results)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Public keys processed: %d of %d\n", outcome.ProcessedKeys, len(keys))
	fmt.Fprintf(out, "Results: %d\n", len(outcome.Results))
	if len(outcome.FailedGroups) > 0 {
		fmt.Fprintf(out, "Failed groups (%d of %d):\n", len(outcome.FailedGroups), outcome.Groups)
		for _, f := range outcome.FailedGroups {
			fmt.Fprintf(out, "  - %v\n", f)
		}
	}
	if len(outcome.MissingKeys) > 0 {
		fmt.Fprintf(out, "Public keys without results (%d):\n", len(outcome.MissingKeys))
		for _, k := range outcome.MissingKeys {
			fmt.Fprintf(out, "  - %s\n", k)
		}
	}
	fmt.Fprintf(out, "Saved to %s\n", path)
	printElapsed(out, time.Since(start))
	mem.Report(log, "analyze", time.Since(start))
	return nil
}
