// Package pipeline defines the opaque aggregation pipeline value passed to the store.
package pipeline

import "go.mongodb.org/mongo-driver/v2/bson"

// Stage is a single aggregation stage such as {$match: {...}}.
type Stage = bson.D

// Pipeline is an ordered sequence of stages. Its contents are never
// interpreted by the batching code.
type Pipeline []Stage

// New builds a pipeline from stages.
func New(stages ...Stage) Pipeline {
	return Pipeline(stages)
}

// Bounded returns a new pipeline that skips skip documents and keeps at most
// limit before running p. The receiver is not modified.
func (p Pipeline) Bounded(skip, limit int64) Pipeline {
	out := make(Pipeline, 0, len(p)+2)
	out = append(out,
		Stage{{Key: "$skip", Value: skip}},
		Stage{{Key: "$limit", Value: limit}},
	)
	return append(out, p...)
}

// Clone returns a shallow copy of the stage list.
func (p Pipeline) Clone() Pipeline {
	if p == nil {
		return nil
	}
	out := make(Pipeline, len(p))
	copy(out, p)
	return out
}

// Operators lists the leading key of each stage, for logging.
func (p Pipeline) Operators() []string {
	ops := make([]string, 0, len(p))
	for _, s := range p {
		if len(s) == 0 {
			ops = append(ops, "")
			continue
		}
		ops = append(ops, s[0].Key)
	}
	return ops
}
