package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"fundsync/pkg/core/fundamentals"
)

// The two period-granularity collections of the document store.
const (
	CollectionQuarterly = "quarterly"
	CollectionAnnual    = "annual"
)

// MongoSink writes normalized records to the document store with
// upsert-by-(ticker, date) semantics.
type MongoSink struct {
	db *mongo.Database
}

// NewMongoSink creates a sink over the given database.
func NewMongoSink(db *mongo.Database) *MongoSink {
	return &MongoSink{db: db}
}

// EnsureIndexes creates the unique compound (ticker, date) index on both
// period collections. Idempotent.
func (s *MongoSink) EnsureIndexes(ctx context.Context) error {
	model := mongo.IndexModel{
		Keys:    bson.D{{Key: "ticker", Value: 1}, {Key: "date", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("ticker_date_unique"),
	}
	for _, coll := range []string{CollectionQuarterly, CollectionAnnual} {
		if _, err := s.db.Collection(coll).Indexes().CreateOne(ctx, model); err != nil {
			return fmt.Errorf("ensure index on %s: %w", coll, err)
		}
	}
	return nil
}

// UpsertRecords writes one batch of records into the named period collection
// as a single unordered bulk operation. Each record becomes a replace-with-
// upsert on the (ticker, date) filter: insert if absent, full-document
// replacement if present. Writing the same record twice therefore yields one
// stored document carrying the second write's fields.
func (s *MongoSink) UpsertRecords(ctx context.Context, granularity string, records []fundamentals.Record) error {
	if len(records) == 0 {
		return nil
	}

	models := make([]mongo.WriteModel, 0, len(records))
	for _, rec := range records {
		filter := bson.D{{Key: "ticker", Value: rec.Ticker}, {Key: "date", Value: rec.Date}}
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(filter).
			SetReplacement(documentFor(rec)).
			SetUpsert(true))
	}

	_, err := s.db.Collection(granularity).BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return fmt.Errorf("bulk upsert into %s: %w", granularity, err)
	}
	return nil
}

// documentFor flattens a record into its stored document. The identity
// fields are authoritative: payload fields that collide with them are
// dropped rather than allowed to overwrite the key.
func documentFor(rec fundamentals.Record) bson.M {
	doc := bson.M{
		"ticker": rec.Ticker,
		"symbol": rec.Ticker,
		"date":   rec.Date,
	}
	for k, v := range rec.Fields {
		if k == "ticker" || k == "symbol" || k == "date" {
			continue
		}
		doc[k] = v
	}
	return doc
}
