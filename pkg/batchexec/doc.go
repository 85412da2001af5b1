// Package batchexec runs aggregation pipelines against a store in bounded batches.
//
// Two strategies are supported:
//   - pre-aggregation pages the source collection with $skip/$limit and runs
//     the caller's pipeline once per page, so the store never returns more
//     than one page of input at a time.
//   - post-aggregation runs the pipeline once over the whole collection with
//     disk spill allowed and slices the materialized output into batches.
//
// Batches run strictly one after another with a fixed pause between them.
// Any query error aborts the run; no partial result is returned.
package batchexec
