// Package store defines the document store handle used by the batch executor.
//
// Connection lifecycle belongs to the caller: a Store is assumed open and
// valid for as long as it is used.
package store

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/eunmann/txn-batch-report/pkg/pipeline"
)

// Record is a single result document. Its fields encode to JSON in key order.
type Record = bson.M

// Store executes queries against named collections.
type Store interface {
	// CountDocuments returns the number of documents in the collection.
	CountDocuments(ctx context.Context, collection string) (int64, error)

	// AggregatePage skips skip documents, keeps at most limit, then runs p
	// on that page.
	AggregatePage(ctx context.Context, collection string, skip, limit int64, p pipeline.Pipeline) ([]Record, error)

	// AggregateAll runs p over the whole collection with disk spill allowed.
	AggregateAll(ctx context.Context, collection string, p pipeline.Pipeline) ([]Record, error)

	// Stats returns collection and database statistics.
	Stats(ctx context.Context, collection string) (*Stats, error)
}

// Stats describes a collection and its database.
type Stats struct {
	Collection    string `json:"collection"`
	DocumentCount int64  `json:"documentCount"`
	DBStats       bson.M `json:"dbStats,omitempty"`
}
