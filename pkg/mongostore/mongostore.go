// Package mongostore implements store.Store on MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/eunmann/txn-batch-report/internal/logctx"
	"github.com/eunmann/txn-batch-report/pkg/pipeline"
	"github.com/eunmann/txn-batch-report/pkg/store"
)

// Store is a store.Store over one MongoDB database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

var _ store.Store = (*Store)(nil)

// Open connects to MongoDB and verifies the connection with a ping.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	dbName, err := cfg.Database()
	if err != nil {
		return nil, err
	}

	opts := options.Client().
		ApplyURI(cfg.URI).
		SetAppName("txn-report").
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})
	if cfg.User != "" {
		opts.SetAuth(options.Credential{Username: cfg.User, Password: cfg.Password})
	}

	log := logctx.FromContext(ctx)
	log.Info().Str("uri", cfg.Redacted()).Str("database", dbName).Str("env", cfg.AppEnv).Msg("connecting to MongoDB")

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("ping MongoDB: %w", err)
	}
	log.Info().Msg("connected to MongoDB")

	return &Store{client: client, db: client.Database(dbName)}, nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect from MongoDB: %w", err)
	}
	log := logctx.FromContext(ctx)
	log.Info().Msg("disconnected from MongoDB")
	return nil
}

// CountDocuments implements store.Store.
func (s *Store) CountDocuments(ctx context.Context, collection string) (int64, error) {
	return s.db.Collection(collection).CountDocuments(ctx, bson.D{})
}

// AggregatePage implements store.Store.
func (s *Store) AggregatePage(ctx context.Context, collection string, skip, limit int64, p pipeline.Pipeline) ([]store.Record, error) {
	return s.aggregate(ctx, collection, p.Bounded(skip, limit), options.Aggregate())
}

// AggregateAll implements store.Store. The server may spill to disk.
func (s *Store) AggregateAll(ctx context.Context, collection string, p pipeline.Pipeline) ([]store.Record, error) {
	return s.aggregate(ctx, collection, p, options.Aggregate().SetAllowDiskUse(true))
}

func (s *Store) aggregate(ctx context.Context, collection string, p pipeline.Pipeline, opts *options.AggregateOptionsBuilder) ([]store.Record, error) {
	cur, err := s.db.Collection(collection).Aggregate(ctx, []bson.D(p), opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := make([]store.Record, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Stats implements store.Store.
func (s *Store) Stats(ctx context.Context, collection string) (*store.Stats, error) {
	n, err := s.CountDocuments(ctx, collection)
	if err != nil {
		return nil, err
	}
	var dbStats bson.M
	err = s.db.RunCommand(ctx, bson.D{{Key: "dbStats", Value: 1}}).Decode(&dbStats)
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("dbStats: %w", err)
	}
	return &store.Stats{
		Collection:    collection,
		DocumentCount: n,
		DBStats:       dbStats,
	}, nil
}
