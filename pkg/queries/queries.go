// Package queries is the catalog of aggregation pipelines run against the
// transaction collection.
package queries

import (
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/eunmann/txn-batch-report/pkg/batchexec"
	"github.com/eunmann/txn-batch-report/pkg/pipeline"
)

// TransactionCollection is the source collection of every report.
const TransactionCollection = "transaction"

// Report names.
const (
	NameDocumentExtraction   = "simple_document_extraction"
	NameSimpleCount          = "simple_count"
	NameTransactionsByStatus = "transactions_by_status"
	NamePublicKeys           = "extract_public_keys"
)

// documentExtractionLimit caps each page of the extraction report.
const documentExtractionLimit = 10000

// Report is a named pipeline with the strategy it is meant to run with.
type Report struct {
	Name        string
	Description string
	Collection  string
	Strategy    batchexec.Strategy
	Pipeline    pipeline.Pipeline
}

// KeyPipelineFactory builds a pipeline restricted to a set of keys.
type KeyPipelineFactory func(keys []string) pipeline.Pipeline

// DocumentExtraction selects _id and timestamps of every document.
func DocumentExtraction() pipeline.Pipeline {
	return pipeline.New(
		bson.D{{Key: "$project", Value: bson.D{
			{Key: "_id", Value: 1},
			{Key: "createdAt", Value: 1},
			{Key: "updatedAt", Value: 1},
		}}},
		bson.D{{Key: "$limit", Value: documentExtractionLimit}},
	)
}

// SimpleCount counts the documents it receives.
func SimpleCount() pipeline.Pipeline {
	return pipeline.New(bson.D{{Key: "$count", Value: "total"}})
}

// PublicKeys returns one {publicKey} record per distinct non-empty public key.
func PublicKeys() pipeline.Pipeline {
	return pipeline.New(
		bson.D{{Key: "$match", Value: bson.D{{Key: "$and", Value: bson.A{
			bson.D{{Key: "publicKey", Value: bson.D{{Key: "$exists", Value: true}}}},
			bson.D{{Key: "publicKey", Value: bson.D{{Key: "$ne", Value: nil}}}},
			bson.D{{Key: "publicKey", Value: bson.D{{Key: "$ne", Value: ""}}}},
		}}}}},
		bson.D{{Key: "$group", Value: bson.D{{Key: "_id", Value: "$publicKey"}}}},
		bson.D{{Key: "$project", Value: bson.D{
			{Key: "_id", Value: 0},
			{Key: "publicKey", Value: "$_id"},
		}}},
	)
}

// TransactionsByStatus counts transactions per status, largest first.
func TransactionsByStatus() pipeline.Pipeline {
	return pipeline.New(
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$status"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
		bson.D{{Key: "$sort", Value: bson.D{{Key: "count", Value: -1}}}},
		bson.D{{Key: "$project", Value: bson.D{
			{Key: "_id", Value: 0},
			{Key: "status", Value: "$_id"},
			{Key: "count", Value: 1},
		}}},
	)
}

var catalog = map[string]func() Report{
	NameDocumentExtraction: func() Report {
		return Report{
			Name:        NameDocumentExtraction,
			Description: "export _id, createdAt and updatedAt of every transaction",
			Collection:  TransactionCollection,
			Strategy:    batchexec.StrategyPreAggregation,
			Pipeline:    DocumentExtraction(),
		}
	},
	NameSimpleCount: func() Report {
		return Report{
			Name:        NameSimpleCount,
			Description: "count transactions per page",
			Collection:  TransactionCollection,
			Strategy:    batchexec.StrategyPreAggregation,
			Pipeline:    SimpleCount(),
		}
	},
	NameTransactionsByStatus: func() Report {
		return Report{
			Name:        NameTransactionsByStatus,
			Description: "transaction counts grouped by status",
			Collection:  TransactionCollection,
			Strategy:    batchexec.StrategyPostAggregation,
			Pipeline:    TransactionsByStatus(),
		}
	},
	NamePublicKeys: func() Report {
		return Report{
			Name:        NamePublicKeys,
			Description: "distinct public keys",
			Collection:  TransactionCollection,
			Strategy:    batchexec.StrategyPostAggregation,
			Pipeline:    PublicKeys(),
		}
	},
}

// Lookup returns the named report.
func Lookup(name string) (Report, error) {
	build, ok := catalog[name]
	if !ok {
		return Report{}, fmt.Errorf("unknown report %q (available: %v)", name, Names())
	}
	return build(), nil
}

// Names lists the catalog in sorted order.
func Names() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
