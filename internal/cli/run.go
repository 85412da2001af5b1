package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/eunmann/txn-batch-report/internal/logctx"
	"github.com/eunmann/txn-batch-report/pkg/batchexec"
	"github.com/eunmann/txn-batch-report/pkg/memdiag"
	"github.com/eunmann/txn-batch-report/pkg/queries"
	"github.com/eunmann/txn-batch-report/pkg/store"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		name       string
		strategy   string
		collection string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a catalog report in batches and save it",
		Long: "Runs a named aggregation from the catalog against MongoDB in batches and\n" +
			"saves the result envelope as <report>_<timestamp>.json.\n\n" +
			"Reports: " + strings.Join(queries.Names(), ", "),
		Example: `  # Export ids and timestamps, 500 documents per batch, at most 3 batches
  txn-report run --batch-size 500 --max-batches 3

  # Count transactions by status
  txn-report run --report transactions_by_status`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := queries.Lookup(name)
			if err != nil {
				return err
			}
			if strategy != "" {
				r.Strategy = batchexec.Strategy(strategy)
			}
			if collection != "" {
				r.Collection = collection
			}
			return a.runReport(cmd, r)
		},
	}

	cmd.Flags().StringVar(&name, "report", queries.NameDocumentExtraction, "catalog report to run")
	cmd.Flags().StringVar(&strategy, "strategy", "", "pre-aggregation or post-aggregation (default: the report's own)")
	cmd.Flags().StringVar(&collection, "collection", "", "collection to query (default: the report's own)")
	return cmd
}

func (a *app) runReport(cmd *cobra.Command, r queries.Report) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	start := time.Now()
	log := logctx.FromContext(ctx)

	printConfig(out, a.cfg)

	mem := memdiag.NewTracker()
	var result *batchexec.Result
	err := a.withStore(ctx, func(s store.Store) error {
		exec := a.executor(s, batchexec.WithProgress(func(batchexec.Progress) {
			mem.Sample(log)
		}))
		var err error
		result, err = exec.Execute(ctx, batchexec.Request{
			Collection: r.Collection,
			Pipeline:   r.Pipeline,
			Config:     a.cfg,
			Name:       r.Name,
			Strategy:   r.Strategy,
		})
		return err
	})
	if err != nil {
		return err
	}

	w, err := a.writer(ctx)
	if err != nil {
		return err
	}
	path, err := w.Save(ctx, result)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s: %d results from %d batches (%d source documents)\n",
		result.Name, len(result.Results), result.BatchesProcessed, result.TotalDocuments)
	fmt.Fprintf(out, "Saved to %s\n", path)
	printElapsed(out, time.Since(start))
	mem.Report(log, "run", time.Since(start))
	return nil
}
