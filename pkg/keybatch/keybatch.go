// Package keybatch runs one bounded aggregation per group of input keys.
//
// Groups target disjoint keys, so a failing group is recorded in the outcome
// and its keys reported missing while the remaining groups still run.
package keybatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eunmann/txn-batch-report/internal/logctx"
	"github.com/eunmann/txn-batch-report/pkg/batchexec"
	"github.com/eunmann/txn-batch-report/pkg/chunk"
	"github.com/eunmann/txn-batch-report/pkg/keyindex"
	"github.com/eunmann/txn-batch-report/pkg/logging"
	"github.com/eunmann/txn-batch-report/pkg/queries"
	"github.com/eunmann/txn-batch-report/pkg/store"
)

// DefaultGroupSize is the number of keys per query.
const DefaultGroupSize = 10

// DefaultKeyField is the result field holding the key a record belongs to.
const DefaultKeyField = "publicKey"

const phase = "key_groups"

// GroupFailure describes a group whose query failed.
type GroupFailure struct {
	Index int      `json:"index"`
	Keys  []string `json:"keys"`
	Err   error    `json:"-"`
}

// Error returns the failure message.
func (g GroupFailure) Error() string {
	return fmt.Sprintf("group %d (%d keys): %v", g.Index+1, len(g.Keys), g.Err)
}

func (g GroupFailure) Unwrap() error { return g.Err }

// Outcome is the result of a driver run.
type Outcome struct {
	Results []store.Record
	// ProcessedKeys is the number of distinct keys that produced results.
	ProcessedKeys int
	// MissingKeys lists keys without results in input order, including the
	// keys of failed groups.
	MissingKeys     []string
	FailedGroups    []GroupFailure
	GroupsProcessed int
	Groups          int
}

// Err joins the group failures, or nil when every group succeeded.
func (o *Outcome) Err() error {
	errs := make([]error, len(o.FailedGroups))
	for i, f := range o.FailedGroups {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// Option configures a Driver.
type Option func(*Driver)

// WithCollection sets the queried collection.
func WithCollection(name string) Option {
	return func(d *Driver) { d.collection = name }
}

// WithKeyField sets the result field matched against input keys.
func WithKeyField(field string) Option {
	return func(d *Driver) { d.keyField = field }
}

// WithDelay sets the pause between groups.
func WithDelay(delay time.Duration) Option {
	return func(d *Driver) { d.delay = delay }
}

// WithSleep replaces the pause implementation.
func WithSleep(fn batchexec.SleepFunc) Option {
	return func(d *Driver) { d.sleep = fn }
}

// Driver splits a key list into groups and aggregates each group.
type Driver struct {
	store      store.Store
	factory    queries.KeyPipelineFactory
	collection string
	keyField   string
	delay      time.Duration
	sleep      batchexec.SleepFunc
}

// New creates a driver over an open store.
func New(s store.Store, factory queries.KeyPipelineFactory, opts ...Option) *Driver {
	d := &Driver{
		store:      s,
		factory:    factory,
		collection: queries.TransactionCollection,
		keyField:   DefaultKeyField,
		sleep:      batchexec.Sleep,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run aggregates keys in groups of groupSize. Only an invalid group size or a
// cancelled context aborts the run.
func (d *Driver) Run(ctx context.Context, keys []string, groupSize int) (*Outcome, error) {
	groups, err := chunk.Split(keys, groupSize)
	if err != nil {
		return nil, fmt.Errorf("split keys: %w", err)
	}
	index, err := keyindex.Build(keys)
	if err != nil {
		return nil, fmt.Errorf("index keys: %w", err)
	}

	log := logctx.FromContext(ctx)
	log.Info().
		Int("keys", len(keys)).
		Int("unique_keys", index.Len()).
		Int("groups", len(groups)).
		Int("group_size", groupSize).
		Msg("processing key groups")

	start := time.Now()
	tracker := logging.NewProgressTracker(phase, len(groups))
	out := &Outcome{
		Results: make([]store.Record, 0),
		Groups:  len(groups),
	}
	for i, group := range groups {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		groupStart := time.Now()
		log.Debug().Int("group", i+1).Strs("keys", group).Msg("querying key group")

		recs, err := d.store.AggregateAll(ctx, d.collection, d.factory(group))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Error().Err(err).Int("group", i+1).Strs("keys", group).Msg("key group failed")
			out.FailedGroups = append(out.FailedGroups, GroupFailure{Index: i, Keys: group, Err: err})
		} else {
			for _, r := range recs {
				if k, ok := r[d.keyField].(string); ok {
					index.Mark(k)
				}
			}
			out.Results = append(out.Results, recs...)
			out.GroupsProcessed++

			var notFound []string
			for _, k := range group {
				if !index.Found(k) {
					notFound = append(notFound, k)
				}
			}
			if len(notFound) > 0 {
				log.Warn().Int("group", i+1).Strs("keys", notFound).Msg("keys without results in group")
			}
		}

		dur := time.Since(groupStart)
		tracker.Observe(len(recs), dur)
		logging.GroupComplete(log, phase, dur).
			Batch(i, len(groups)).
			Int("keys", len(group)).
			Int("records", len(recs)).
			Tracker(tracker).
			Log("key group completed")

		if i < len(groups)-1 && d.delay > 0 {
			if err := d.sleep(ctx, d.delay); err != nil {
				return nil, fmt.Errorf("key groups interrupted after group %d: %w", i+1, err)
			}
		}
	}

	out.ProcessedKeys = index.FoundCount()
	out.MissingKeys = index.Missing()

	logging.PhaseComplete(log, phase, time.Since(start)).
		Int("groups_processed", out.GroupsProcessed).
		Int("groups_failed", len(out.FailedGroups)).
		Int("keys_processed", out.ProcessedKeys).
		Int("keys_missing", len(out.MissingKeys)).
		Count("results", int64(len(out.Results))).
		Log("key groups completed")

	return out, nil
}
