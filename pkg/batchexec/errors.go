package batchexec

import "fmt"

// Query operations reported in QueryFailure.Op.
const (
	OpCount     = "count"
	OpPage      = "page"
	OpAggregate = "aggregate"
	OpStats     = "stats"
)

// QueryFailure reports a store error that aborted a run.
type QueryFailure struct {
	Op         string
	Collection string
	// Batch is the zero-based batch that failed, or -1 when the failure
	// happened before batching started.
	Batch int
	// BatchesProcessed counts the batches that completed before the failure.
	BatchesProcessed int
	Err              error
}

func (e *QueryFailure) Error() string {
	if e.Batch >= 0 {
		return fmt.Sprintf("%s query on %s failed at batch %d (%d batches processed): %v",
			e.Op, e.Collection, e.Batch+1, e.BatchesProcessed, e.Err)
	}
	return fmt.Sprintf("%s query on %s failed: %v", e.Op, e.Collection, e.Err)
}

func (e *QueryFailure) Unwrap() error {
	return e.Err
}
