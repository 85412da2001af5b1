package batchexec

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eunmann/txn-batch-report/internal/logctx"
	"github.com/eunmann/txn-batch-report/pkg/batchconfig"
	"github.com/eunmann/txn-batch-report/pkg/chunk"
	"github.com/eunmann/txn-batch-report/pkg/logging"
	"github.com/eunmann/txn-batch-report/pkg/pipeline"
	"github.com/eunmann/txn-batch-report/pkg/store"
)

// timestampLayout matches ISO-8601 with millisecond precision.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Request describes one batched run.
type Request struct {
	Collection string
	Pipeline   pipeline.Pipeline
	Config     batchconfig.BatchConfig
	Name       string
	Strategy   Strategy
}

// Progress is reported after every batch.
type Progress struct {
	// Batch is the zero-based index of the batch that just finished.
	Batch   int
	Planned int
	// Records is the number of records the batch produced.
	Records int
	// Accumulated is the number of records collected so far.
	Accumulated int
	Elapsed     time.Duration
}

// ProgressFunc observes batch progress.
type ProgressFunc func(Progress)

// SleepFunc pauses between batches. It returns early with ctx.Err() on cancellation.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option configures an Executor.
type Option func(*Executor)

// WithSleep replaces the pause between batches.
func WithSleep(fn SleepFunc) Option {
	return func(e *Executor) { e.sleep = fn }
}

// WithClock replaces the clock used for envelope timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// WithProgress registers a progress observer.
func WithProgress(fn ProgressFunc) Option {
	return func(e *Executor) { e.onProgress = fn }
}

// Executor runs requests against one store handle.
type Executor struct {
	store      store.Store
	sleep      SleepFunc
	now        func() time.Time
	onProgress ProgressFunc
}

// New creates an executor over an already open store.
func New(s store.Store, opts ...Option) *Executor {
	e := &Executor{
		store: s,
		sleep: Sleep,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// fetchFunc returns the records of batch i.
type fetchFunc func(ctx context.Context, i int) ([]store.Record, error)

// Execute runs req and returns the result envelope. Configuration errors are
// reported before any query runs. A failing query aborts the run with a
// *QueryFailure and no envelope.
func (e *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	if err := req.Config.Validate(); err != nil {
		return nil, err
	}
	strategy, err := ParseStrategy(string(req.Strategy))
	if err != nil {
		return nil, err
	}
	req.Strategy = strategy
	if e.store == nil {
		return nil, errors.New("batchexec: nil store")
	}

	cfg := req.Config
	start := time.Now()
	ctx = logctx.WithStr(ctx, "strategy", strategy.String())
	log := logctx.FromContext(ctx)

	log.Info().
		Str("aggregation", req.Name).
		Str("collection", req.Collection).
		Int("batch_size", cfg.BatchSize).
		Int64("batch_delay_ms", cfg.ProcessingDelay.Milliseconds()).
		Int("max_batches", cfg.MaxBatches).
		Strs("stages", req.Pipeline.Operators()).
		Msg("starting batched aggregation")

	totalDocuments, err := e.store.CountDocuments(ctx, req.Collection)
	if err != nil {
		return nil, &QueryFailure{Op: OpCount, Collection: req.Collection, Batch: -1, Err: err}
	}
	log.Info().Int64("total_documents", totalDocuments).Msg("counted source documents")

	var (
		total int
		fetch fetchFunc
	)
	switch strategy {
	case StrategyPreAggregation:
		total = int(totalDocuments)
		fetch = func(ctx context.Context, i int) ([]store.Record, error) {
			skip := int64(i) * int64(cfg.BatchSize)
			recs, err := e.store.AggregatePage(ctx, req.Collection, skip, int64(cfg.BatchSize), req.Pipeline)
			if err != nil {
				return nil, fmt.Errorf("skip %d limit %d: %w", skip, cfg.BatchSize, err)
			}
			return recs, nil
		}
	case StrategyPostAggregation:
		log.Info().Msg("running full aggregation")
		all, err := e.store.AggregateAll(ctx, req.Collection, req.Pipeline)
		if err != nil {
			return nil, &QueryFailure{Op: OpAggregate, Collection: req.Collection, Batch: -1, Err: err}
		}
		total = len(all)
		log.Info().Int("total_results", total).Msg("full aggregation finished")
		bounds := chunk.Bounds(total, cfg.BatchSize)
		fetch = func(_ context.Context, i int) ([]store.Record, error) {
			return all[bounds[i][0]:bounds[i][1]], nil
		}
	}

	planned := planBatches(total, cfg)
	log.Info().
		Int("batches_planned", planned).
		Int("batches_total", chunk.Count(total, cfg.BatchSize)).
		Msg("batches to process")

	results, processed, err := e.runBatches(ctx, req, planned, fetch)
	if err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	result := &Result{
		Name:             req.Name,
		Timestamp:        e.now().UTC().Format(timestampLayout),
		TotalDocuments:   totalDocuments,
		BatchesProcessed: processed,
		Results:          results,
		Config:           runConfig(cfg, strategy),
		Metadata: &Metadata{
			ExecutionTimeMs:        elapsed.Milliseconds(),
			AverageResultsPerBatch: AverageResultsPerBatch(len(results), processed),
		},
	}

	logging.PhaseComplete(log, strategy.String(), elapsed).
		Str("aggregation", req.Name).
		Count("results", int64(len(results))).
		Int("batches_processed", processed).
		Rate(int64(len(results))).
		Log("aggregation completed")

	return result, nil
}

// runBatches fetches planned batches in order, pausing between them.
func (e *Executor) runBatches(ctx context.Context, req Request, planned int, fetch fetchFunc) ([]store.Record, int, error) {
	log := logctx.FromContext(ctx)
	tracker := logging.NewProgressTracker(req.Strategy.String(), planned)
	results := make([]store.Record, 0)
	processed := 0

	for i := range planned {
		batchStart := time.Now()
		recs, err := fetch(ctx, i)
		if err != nil {
			log.Error().Err(err).Int("batch", i+1).Msg("batch failed")
			return nil, processed, &QueryFailure{
				Op:               OpPage,
				Collection:       req.Collection,
				Batch:            i,
				BatchesProcessed: processed,
				Err:              err,
			}
		}
		results = append(results, recs...)
		processed++

		d := time.Since(batchStart)
		tracker.Observe(len(recs), d)
		logging.BatchComplete(log, req.Strategy.String(), d).
			Batch(i, planned).
			Int("records", len(recs)).
			Tracker(tracker).
			Log("batch completed")
		if e.onProgress != nil {
			e.onProgress(Progress{
				Batch:       i,
				Planned:     planned,
				Records:     len(recs),
				Accumulated: len(results),
				Elapsed:     tracker.Elapsed(),
			})
		}

		if i < planned-1 && req.Config.ProcessingDelay > 0 {
			if err := e.sleep(ctx, req.Config.ProcessingDelay); err != nil {
				return nil, processed, fmt.Errorf("%s interrupted after %d batches: %w", req.Name, processed, err)
			}
		}
	}

	return results, processed, nil
}

// planBatches is ceil(total/batchSize) clamped to MaxBatches when set.
func planBatches(total int, cfg batchconfig.BatchConfig) int {
	planned := chunk.Count(total, cfg.BatchSize)
	if cfg.HasMaxBatches() && planned > cfg.MaxBatches {
		planned = cfg.MaxBatches
	}
	return planned
}

func runConfig(cfg batchconfig.BatchConfig, s Strategy) RunConfig {
	rc := RunConfig{
		BatchSize:       cfg.BatchSize,
		ProcessingDelay: cfg.ProcessingDelay.Milliseconds(),
		Strategy:        s,
	}
	if cfg.HasMaxBatches() {
		maxBatches := cfg.MaxBatches
		rc.MaxBatches = &maxBatches
	}
	return rc
}

// CollectionStats returns the document count and database statistics of a collection.
func (e *Executor) CollectionStats(ctx context.Context, collection string) (*store.Stats, error) {
	stats, err := e.store.Stats(ctx, collection)
	if err != nil {
		return nil, &QueryFailure{Op: OpStats, Collection: collection, Batch: -1, Err: err}
	}
	return stats, nil
}
