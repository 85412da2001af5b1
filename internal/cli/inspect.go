package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eunmann/txn-batch-report/pkg/objstore"
	"github.com/eunmann/txn-batch-report/pkg/queries"
	"github.com/eunmann/txn-batch-report/pkg/report"
	"github.com/eunmann/txn-batch-report/pkg/store"
)

func newStatsCmd(a *app) *cobra.Command {
	var collection string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print the document count and database statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			var stats *store.Stats
			err := a.withStore(ctx, func(s store.Store) error {
				var err error
				stats, err = a.executor(s).CollectionStats(ctx, collection)
				return err
			})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		},
	}
	cmd.Flags().StringVar(&collection, "collection", queries.TransactionCollection, "collection to count")
	return cmd
}

func newInspectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect FILE",
		Short: "Print the summary of a saved report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := a.loadReport(cmd, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Report:            %s\n", doc.Name)
			fmt.Fprintf(out, "Created:           %s\n", doc.Timestamp)
			fmt.Fprintf(out, "Strategy:          %s\n", doc.Config.Strategy)
			fmt.Fprintf(out, "Batch size:        %d\n", doc.Config.BatchSize)
			fmt.Fprintf(out, "Source documents:  %d\n", doc.Summary.TotalDocuments)
			fmt.Fprintf(out, "Batches processed: %d\n", doc.Summary.BatchesProcessed)
			fmt.Fprintf(out, "Results:           %d\n", doc.Summary.TotalResults)
			fmt.Fprintf(out, "Avg per batch:     %d\n", doc.Summary.AverageResultsPerBatch)
			return nil
		},
	}
}

func (a *app) loadReport(cmd *cobra.Command, path string) (*report.Document, error) {
	if !objstore.IsS3URI(path) {
		return report.Load(path)
	}
	bucket, key, err := objstore.ParseS3URI(path)
	if err != nil {
		return nil, err
	}
	client, err := objstore.NewClient(cmd.Context())
	if err != nil {
		return nil, err
	}
	rc, err := client.StreamObject(cmd.Context(), bucket, key)
	if err != nil {
		return nil, &report.PersistenceFailure{Path: path, Err: err}
	}
	defer rc.Close()
	return report.Decode(rc, path)
}
