// Package storetest provides an in-memory store.Store for tests.
package storetest

import (
	"context"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/eunmann/txn-batch-report/pkg/pipeline"
	"github.com/eunmann/txn-batch-report/pkg/store"
)

// Operation names recorded in Call.Op.
const (
	OpCount = "count"
	OpPage  = "page"
	OpAll   = "all"
	OpStats = "stats"
)

// ApplyFunc evaluates a caller pipeline over documents. Pipelines stay opaque
// to the store, so tests decide what a pipeline means.
type ApplyFunc func(p pipeline.Pipeline, docs []store.Record) ([]store.Record, error)

// Identity returns the documents unchanged.
func Identity(_ pipeline.Pipeline, docs []store.Record) ([]store.Record, error) {
	return docs, nil
}

// Call records one store invocation.
type Call struct {
	Op         string
	Collection string
	Skip       int64
	Limit      int64
	Pipeline   pipeline.Pipeline
}

// Memory is a store.Store backed by slices. It is safe for concurrent use.
type Memory struct {
	mu    sync.Mutex
	docs  map[string][]store.Record
	apply ApplyFunc
	fail  func(call Call, n int) error
	calls []Call
}

// NewMemory creates an empty store that applies pipelines with apply.
// A nil apply means Identity.
func NewMemory(apply ApplyFunc) *Memory {
	if apply == nil {
		apply = Identity
	}
	return &Memory{
		docs:  make(map[string][]store.Record),
		apply: apply,
	}
}

// Insert appends documents to a collection.
func (m *Memory) Insert(collection string, docs ...store.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[collection] = append(m.docs[collection], docs...)
}

// FailWhen installs a hook consulted before every call. n is the zero-based
// index of the call among calls with the same Op. A non-nil return fails the call.
func (m *Memory) FailWhen(fn func(call Call, n int) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fn
}

// Calls returns a copy of the recorded calls.
func (m *Memory) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallsOf returns the recorded calls with the given Op.
func (m *Memory) CallsOf(op string) []Call {
	var out []Call
	for _, c := range m.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (m *Memory) record(call Call) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Op == call.Op {
			n++
		}
	}
	m.calls = append(m.calls, call)
	if m.fail != nil {
		return m.fail(call, n)
	}
	return nil
}

func (m *Memory) snapshot(collection string) []store.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	docs := m.docs[collection]
	out := make([]store.Record, len(docs))
	copy(out, docs)
	return out
}

// CountDocuments implements store.Store.
func (m *Memory) CountDocuments(ctx context.Context, collection string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := m.record(Call{Op: OpCount, Collection: collection}); err != nil {
		return 0, err
	}
	return int64(len(m.snapshot(collection))), nil
}

// AggregatePage implements store.Store.
func (m *Memory) AggregatePage(ctx context.Context, collection string, skip, limit int64, p pipeline.Pipeline) ([]store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if skip < 0 || limit <= 0 {
		return nil, fmt.Errorf("invalid page skip=%d limit=%d", skip, limit)
	}
	if err := m.record(Call{Op: OpPage, Collection: collection, Skip: skip, Limit: limit, Pipeline: p}); err != nil {
		return nil, err
	}
	docs := m.snapshot(collection)
	start := min(skip, int64(len(docs)))
	end := min(start+limit, int64(len(docs)))
	return m.apply(p, docs[start:end])
}

// AggregateAll implements store.Store.
func (m *Memory) AggregateAll(ctx context.Context, collection string, p pipeline.Pipeline) ([]store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.record(Call{Op: OpAll, Collection: collection, Pipeline: p}); err != nil {
		return nil, err
	}
	return m.apply(p, m.snapshot(collection))
}

// Stats implements store.Store.
func (m *Memory) Stats(ctx context.Context, collection string) (*store.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.record(Call{Op: OpStats, Collection: collection}); err != nil {
		return nil, err
	}
	m.mu.Lock()
	collections := len(m.docs)
	m.mu.Unlock()
	return &store.Stats{
		Collection:    collection,
		DocumentCount: int64(len(m.snapshot(collection))),
		DBStats:       bson.M{"collections": collections, "db": "memory"},
	}, nil
}

var _ store.Store = (*Memory)(nil)

// Docs builds n documents {_id: i, n: i}.
func Docs(n int) []store.Record {
	out := make([]store.Record, n)
	for i := range n {
		out[i] = store.Record{"_id": i, "n": i}
	}
	return out
}
