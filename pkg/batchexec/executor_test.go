package batchexec

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/eunmann/txn-batch-report/pkg/batchconfig"
	"github.com/eunmann/txn-batch-report/pkg/pipeline"
	"github.com/eunmann/txn-batch-report/pkg/store"
	"github.com/eunmann/txn-batch-report/pkg/store/storetest"
)

const coll = "transaction"

var identityProjection = pipeline.New(
	pipeline.Stage{{Key: "$project", Value: bson.D{{Key: "_id", Value: 1}, {Key: "n", Value: 1}}}},
)

type sleepRecorder struct {
	calls []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.calls = append(s.calls, d)
	return nil
}

func newStore(t *testing.T, n int, apply storetest.ApplyFunc) *storetest.Memory {
	t.Helper()
	m := storetest.NewMemory(apply)
	m.Insert(coll, storetest.Docs(n)...)
	return m
}

func testConfig(batchSize, maxBatches int) batchconfig.BatchConfig {
	cfg := batchconfig.Default()
	cfg.BatchSize = batchSize
	cfg.MaxBatches = maxBatches
	cfg.ProcessingDelay = 5 * time.Millisecond
	return cfg
}

// groupByMod collapses documents to one record per n%k, in first-seen order.
func groupByMod(k int) storetest.ApplyFunc {
	return func(_ pipeline.Pipeline, docs []store.Record) ([]store.Record, error) {
		seen := make(map[int]bool)
		out := make([]store.Record, 0, k)
		for _, d := range docs {
			key := d["n"].(int) % k
			if !seen[key] {
				seen[key] = true
				out = append(out, store.Record{"_id": key})
			}
		}
		return out, nil
	}
}

func ids(recs []store.Record) []int {
	out := make([]int, len(recs))
	for i, r := range recs {
		out[i] = r["_id"].(int)
	}
	return out
}

func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func TestExecute_PreAggregation(t *testing.T) {
	mem := newStore(t, 25, nil)
	sleeper := &sleepRecorder{}
	var progress []Progress
	fixed := time.Date(2025, 3, 4, 5, 6, 7, 891_000_000, time.UTC)

	exec := New(mem,
		WithSleep(sleeper.sleep),
		WithClock(func() time.Time { return fixed }),
		WithProgress(func(p Progress) { progress = append(progress, p) }),
	)

	res, err := exec.Execute(context.Background(), Request{
		Collection: coll,
		Pipeline:   identityProjection,
		Config:     testConfig(10, 0),
		Name:       "simple_document_extraction",
		Strategy:   StrategyPreAggregation,
	})
	require.NoError(t, err)

	assert.Equal(t, "simple_document_extraction", res.Name)
	assert.Equal(t, "2025-03-04T05:06:07.891Z", res.Timestamp)
	assert.Equal(t, int64(25), res.TotalDocuments)
	assert.Equal(t, 3, res.BatchesProcessed)
	assert.Equal(t, seq(25), ids(res.Results))
	assert.Equal(t, RunConfig{BatchSize: 10, ProcessingDelay: 5, Strategy: StrategyPreAggregation}, res.Config)
	require.NotNil(t, res.Metadata)
	assert.Equal(t, 8, res.Metadata.AverageResultsPerBatch)

	pages := mem.CallsOf(storetest.OpPage)
	require.Len(t, pages, 3)
	for i, c := range pages {
		assert.Equal(t, int64(i*10), c.Skip)
		assert.Equal(t, int64(10), c.Limit)
		assert.Equal(t, identityProjection, c.Pipeline)
	}
	assert.Len(t, mem.CallsOf(storetest.OpCount), 1)
	assert.Empty(t, mem.CallsOf(storetest.OpAll))

	require.Len(t, progress, 3)
	assert.Equal(t, []int{10, 10, 5}, []int{progress[0].Records, progress[1].Records, progress[2].Records})
	assert.Equal(t, 25, progress[2].Accumulated)
	assert.Equal(t, 3, progress[0].Planned)

	assert.Equal(t, []time.Duration{5 * time.Millisecond, 5 * time.Millisecond}, sleeper.calls)
}

func TestExecute_PreAggregationMaxBatches(t *testing.T) {
	mem := newStore(t, 25, nil)
	exec := New(mem, WithSleep((&sleepRecorder{}).sleep))

	res, err := exec.Execute(context.Background(), Request{
		Collection: coll,
		Pipeline:   identityProjection,
		Config:     testConfig(10, 2),
		Name:       "capped",
		Strategy:   StrategyPreAggregation,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.BatchesProcessed)
	assert.Equal(t, seq(20), ids(res.Results))
	require.NotNil(t, res.Config.MaxBatches)
	assert.Equal(t, 2, *res.Config.MaxBatches)
	for _, c := range mem.CallsOf(storetest.OpPage) {
		assert.Less(t, c.Skip, int64(20), "batch beyond the cap must not run")
	}
}

func TestExecute_MaxBatchesAboveNeeded(t *testing.T) {
	mem := newStore(t, 25, nil)
	exec := New(mem, WithSleep((&sleepRecorder{}).sleep))

	res, err := exec.Execute(context.Background(), Request{
		Collection: coll,
		Config:     testConfig(10, 50),
		Name:       "loose_cap",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.BatchesProcessed)
	assert.Len(t, res.Results, 25)
	assert.Equal(t, StrategyPreAggregation, res.Config.Strategy, "empty strategy defaults to pre-aggregation")
}

func TestExecute_PreAggregationPerPagePipeline(t *testing.T) {
	double := func(_ pipeline.Pipeline, docs []store.Record) ([]store.Record, error) {
		out := make([]store.Record, len(docs))
		for i, d := range docs {
			out[i] = store.Record{"_id": d["_id"], "double": d["n"].(int) * 2}
		}
		return out, nil
	}
	mem := newStore(t, 97, double)
	exec := New(mem, WithSleep((&sleepRecorder{}).sleep))

	res, err := exec.Execute(context.Background(), Request{
		Collection: coll,
		Config:     testConfig(7, 0),
		Name:       "double",
		Strategy:   StrategyPreAggregation,
	})
	require.NoError(t, err)

	onePass, err := double(nil, storetest.Docs(97))
	require.NoError(t, err)
	assert.Equal(t, 14, res.BatchesProcessed)
	assert.Equal(t, onePass, res.Results)
}

func TestExecute_PostAggregation(t *testing.T) {
	mem := newStore(t, 1000, groupByMod(37))
	sleeper := &sleepRecorder{}
	var records []int
	exec := New(mem,
		WithSleep(sleeper.sleep),
		WithProgress(func(p Progress) { records = append(records, p.Records) }),
	)

	res, err := exec.Execute(context.Background(), Request{
		Collection: coll,
		Pipeline:   pipeline.New(pipeline.Stage{{Key: "$group", Value: bson.D{{Key: "_id", Value: "$k"}}}}),
		Config:     testConfig(10, 0),
		Name:       "distinct_keys",
		Strategy:   StrategyPostAggregation,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1000), res.TotalDocuments)
	assert.Equal(t, 4, res.BatchesProcessed)
	assert.Equal(t, seq(37), ids(res.Results))
	assert.Equal(t, []int{10, 10, 10, 7}, records)
	assert.Len(t, mem.CallsOf(storetest.OpAll), 1)
	assert.Empty(t, mem.CallsOf(storetest.OpPage))
	assert.Len(t, sleeper.calls, 3)
	assert.Equal(t, StrategyPostAggregation, res.Config.Strategy)
}

func TestExecute_PostAggregationMaxBatches(t *testing.T) {
	mem := newStore(t, 1000, groupByMod(37))
	exec := New(mem, WithSleep((&sleepRecorder{}).sleep))

	res, err := exec.Execute(context.Background(), Request{
		Collection: coll,
		Config:     testConfig(10, 2),
		Name:       "distinct_keys",
		Strategy:   StrategyPostAggregation,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.BatchesProcessed)
	assert.Equal(t, seq(20), ids(res.Results))
}

func TestExecute_EmptyCollection(t *testing.T) {
	for _, s := range []Strategy{StrategyPreAggregation, StrategyPostAggregation} {
		t.Run(string(s), func(t *testing.T) {
			mem := storetest.NewMemory(nil)
			sleeper := &sleepRecorder{}
			exec := New(mem, WithSleep(sleeper.sleep))

			res, err := exec.Execute(context.Background(), Request{
				Collection: coll,
				Config:     testConfig(10, 0),
				Name:       "empty",
				Strategy:   s,
			})
			require.NoError(t, err)
			assert.Equal(t, 0, res.BatchesProcessed)
			assert.NotNil(t, res.Results)
			assert.Empty(t, res.Results)
			assert.Equal(t, 0, res.Metadata.AverageResultsPerBatch)
			assert.Empty(t, sleeper.calls)
		})
	}
}

func TestExecute_NoDelay(t *testing.T) {
	mem := newStore(t, 30, nil)
	sleeper := &sleepRecorder{}
	exec := New(mem, WithSleep(sleeper.sleep))

	cfg := testConfig(10, 0)
	cfg.ProcessingDelay = 0
	_, err := exec.Execute(context.Background(), Request{Collection: coll, Config: cfg, Name: "fast"})
	require.NoError(t, err)
	assert.Empty(t, sleeper.calls)
}

func TestExecute_FailFastOnPage(t *testing.T) {
	boom := errors.New("cursor killed")
	mem := newStore(t, 50, nil)
	mem.FailWhen(func(c storetest.Call, n int) error {
		if c.Op == storetest.OpPage && n == 2 {
			return boom
		}
		return nil
	})
	var progress []Progress
	exec := New(mem,
		WithSleep((&sleepRecorder{}).sleep),
		WithProgress(func(p Progress) { progress = append(progress, p) }),
	)

	res, err := exec.Execute(context.Background(), Request{
		Collection: coll,
		Config:     testConfig(10, 0),
		Name:       "failing",
		Strategy:   StrategyPreAggregation,
	})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, boom)

	var qf *QueryFailure
	require.ErrorAs(t, err, &qf)
	assert.Equal(t, OpPage, qf.Op)
	assert.Equal(t, 2, qf.Batch)
	assert.Equal(t, 2, qf.BatchesProcessed)
	assert.Less(t, qf.BatchesProcessed, qf.Batch+1)
	assert.Contains(t, qf.Error(), "batch 3")

	assert.Len(t, mem.CallsOf(storetest.OpPage), 3, "no batch after the failing one runs")
	assert.Len(t, progress, 2)
}

func TestExecute_CountFailure(t *testing.T) {
	mem := newStore(t, 10, nil)
	mem.FailWhen(func(c storetest.Call, _ int) error {
		if c.Op == storetest.OpCount {
			return errors.New("not authorized")
		}
		return nil
	})
	exec := New(mem)

	_, err := exec.Execute(context.Background(), Request{Collection: coll, Config: testConfig(5, 0), Name: "x"})

	var qf *QueryFailure
	require.ErrorAs(t, err, &qf)
	assert.Equal(t, OpCount, qf.Op)
	assert.Equal(t, -1, qf.Batch)
	assert.Empty(t, mem.CallsOf(storetest.OpPage))
}

func TestExecute_PostAggregationFailure(t *testing.T) {
	mem := newStore(t, 10, nil)
	mem.FailWhen(func(c storetest.Call, _ int) error {
		if c.Op == storetest.OpAll {
			return errors.New("exceeded memory limit")
		}
		return nil
	})
	exec := New(mem)

	_, err := exec.Execute(context.Background(), Request{
		Collection: coll,
		Config:     testConfig(5, 0),
		Name:       "x",
		Strategy:   StrategyPostAggregation,
	})

	var qf *QueryFailure
	require.ErrorAs(t, err, &qf)
	assert.Equal(t, OpAggregate, qf.Op)
	assert.Equal(t, 0, qf.BatchesProcessed)
	assert.Contains(t, qf.Error(), "exceeded memory limit")
}

func TestExecute_ConfigurationErrorBeforeQueries(t *testing.T) {
	tests := []struct {
		name     string
		cfg      batchconfig.BatchConfig
		strategy Strategy
	}{
		{name: "zero batch size", cfg: testConfig(0, 0), strategy: StrategyPreAggregation},
		{name: "negative max batches", cfg: testConfig(10, -1), strategy: StrategyPreAggregation},
		{name: "negative delay", cfg: func() batchconfig.BatchConfig {
			c := testConfig(10, 0)
			c.ProcessingDelay = -time.Second
			return c
		}(), strategy: StrategyPostAggregation},
		{name: "unknown strategy", cfg: testConfig(10, 0), strategy: "mid-aggregation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := newStore(t, 10, nil)
			exec := New(mem)

			_, err := exec.Execute(context.Background(), Request{
				Collection: coll,
				Config:     tt.cfg,
				Name:       "invalid",
				Strategy:   tt.strategy,
			})

			var cfgErr *batchconfig.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Empty(t, mem.Calls(), "no query may run on invalid configuration")
		})
	}
}

func TestExecute_CancelledDuringDelay(t *testing.T) {
	mem := newStore(t, 30, nil)
	ctx, cancel := context.WithCancel(context.Background())
	exec := New(mem, WithSleep(func(ctx context.Context, d time.Duration) error {
		cancel()
		return Sleep(ctx, d)
	}))

	res, err := exec.Execute(ctx, Request{Collection: coll, Config: testConfig(10, 0), Name: "cancelled"})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, mem.CallsOf(storetest.OpPage), 1)
}

func TestExecute_NilStore(t *testing.T) {
	_, err := New(nil).Execute(context.Background(), Request{Collection: coll, Config: testConfig(10, 0)})
	require.Error(t, err)
}

func TestCollectionStats(t *testing.T) {
	mem := newStore(t, 12, nil)
	stats, err := New(mem).CollectionStats(context.Background(), coll)
	require.NoError(t, err)
	assert.Equal(t, int64(12), stats.DocumentCount)
	assert.Equal(t, coll, stats.Collection)

	mem.FailWhen(func(storetest.Call, int) error { return errors.New("down") })
	_, err = New(mem).CollectionStats(context.Background(), coll)
	var qf *QueryFailure
	require.ErrorAs(t, err, &qf)
	assert.Equal(t, OpStats, qf.Op)
}

func TestSleep(t *testing.T) {
	require.NoError(t, Sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategyPreAggregation, s)

	s, err = ParseStrategy("post-aggregation")
	require.NoError(t, err)
	assert.Equal(t, StrategyPostAggregation, s)

	_, err = ParseStrategy("Post-Aggregation")
	require.Error(t, err)
}

func TestAverageResultsPerBatch(t *testing.T) {
	assert.Equal(t, 0, AverageResultsPerBatch(10, 0))
	assert.Equal(t, 8, AverageResultsPerBatch(25, 3))
	assert.Equal(t, 9, AverageResultsPerBatch(37, 4)) // 9.25
	assert.Equal(t, 3, AverageResultsPerBatch(5, 2))   // 2.5 rounds half away from zero
}
