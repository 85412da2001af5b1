// Package report persists result envelopes as timestamped JSON documents.
package report

import (
	"fmt"
	"time"

	"github.com/eunmann/txn-batch-report/pkg/batchconfig"
	"github.com/eunmann/txn-batch-report/pkg/batchexec"
)

// filenameLayout is ISO-8601 truncated to seconds with ':' replaced by '-'.
const filenameLayout = "2006-01-02T15-04-05"

// Extensions.
const (
	ExtJSON    = ".json"
	ExtParquet = ".parquet"
	ExtGzip    = ".gz"
	ExtZstd    = ".zst"
)

// Summary is derived from the envelope at write time.
type Summary struct {
	TotalResults           int   `json:"totalResults"`
	BatchesProcessed       int   `json:"batchesProcessed"`
	TotalDocuments         int64 `json:"totalDocuments"`
	AverageResultsPerBatch int   `json:"averageResultsPerBatch"`
}

// Document is the persisted form of a result: the envelope plus its summary.
type Document struct {
	batchexec.Result
	Summary Summary `json:"summary"`
}

// NewDocument wraps r with a summary. r is not modified.
func NewDocument(r *batchexec.Result) Document {
	return Document{
		Result:  *r,
		Summary: Summarize(r),
	}
}

// Summarize computes the summary of r.
func Summarize(r *batchexec.Result) Summary {
	return Summary{
		TotalResults:           len(r.Results),
		BatchesProcessed:       r.BatchesProcessed,
		TotalDocuments:         r.TotalDocuments,
		AverageResultsPerBatch: batchexec.AverageResultsPerBatch(len(r.Results), r.BatchesProcessed),
	}
}

// Filename returns <name>_<UTC timestamp><ext>.
func Filename(name string, t time.Time, ext string) string {
	return fmt.Sprintf("%s_%s%s", name, t.UTC().Format(filenameLayout), ext)
}

// CompressionExt returns the file suffix added by a compression.
func CompressionExt(compression string) string {
	switch compression {
	case batchconfig.CompressionGzip:
		return ExtGzip
	case batchconfig.CompressionZstd:
		return ExtZstd
	default:
		return ""
	}
}

// PersistenceFailure reports a report that could not be written or read.
type PersistenceFailure struct {
	Path string
	Err  error
}

func (e *PersistenceFailure) Error() string {
	return fmt.Sprintf("persist report %s: %v", e.Path, e.Err)
}

func (e *PersistenceFailure) Unwrap() error {
	return e.Err
}
