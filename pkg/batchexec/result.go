package batchexec

import (
	"math"

	"github.com/eunmann/txn-batch-report/pkg/store"
)

// Result is the envelope produced by one successful run. It is built once at
// the end of Execute and not modified afterwards.
type Result struct {
	Name             string         `json:"name"`
	Timestamp        string         `json:"timestamp"`
	TotalDocuments   int64          `json:"totalDocuments"`
	BatchesProcessed int            `json:"batchesProcessed"`
	Results          []store.Record `json:"results"`
	Config           RunConfig      `json:"config"`
	Metadata         *Metadata      `json:"metadata,omitempty"`
}

// RunConfig records the effective settings of a run.
type RunConfig struct {
	BatchSize int `json:"batchSize"`
	// ProcessingDelay is in milliseconds.
	ProcessingDelay int64    `json:"processingDelay"`
	MaxBatches      *int     `json:"maxBatches,omitempty"`
	Strategy        Strategy `json:"strategy"`
}

// Metadata holds execution facts that are not part of the results.
type Metadata struct {
	ExecutionTimeMs        int64 `json:"executionTime"`
	AverageResultsPerBatch int   `json:"averageResultsPerBatch"`
}

// AverageResultsPerBatch is round(results/batches), or 0 when no batch ran.
func AverageResultsPerBatch(results, batches int) int {
	if batches <= 0 {
		return 0
	}
	return int(math.Round(float64(results) / float64(batches)))
}
