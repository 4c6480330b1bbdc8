// Package store owns the two persistence sinks: the MongoDB document store
// (full-fidelity records) and the BigQuery analytical store (numeric-only,
// stage-then-merge). Schema inference for the analytical sink lives here too,
// as a pure function decoupled from the write path.
package store

import (
	"context"
	"fmt"
	"sync"

	"cloud.google.com/go/bigquery"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"google.golang.org/api/option"
)

var (
	mongoClient *mongo.Client
	mongoOnce   sync.Once

	bqClient *bigquery.Client
	bqOnce   sync.Once
)

// InitMongo connects the shared MongoDB client. Safe to call more than once;
// only the first call connects.
func InitMongo(ctx context.Context, uri string) error {
	var err error
	mongoOnce.Do(func() {
		if uri == "" {
			err = fmt.Errorf("mongodb connection string not set")
			return
		}
		mongoClient, err = mongo.Connect(ctx, options.Client().ApplyURI(uri))
		if err != nil {
			err = fmt.Errorf("failed to connect to mongodb: %w", err)
			return
		}
		if pingErr := mongoClient.Ping(ctx, readpref.Primary()); pingErr != nil {
			err = fmt.Errorf("mongodb ping failed: %w", pingErr)
		}
	})
	return err
}

// MongoDatabase returns a handle on the named database of the shared client.
func MongoDatabase(name string) *mongo.Database {
	if mongoClient == nil {
		return nil
	}
	return mongoClient.Database(name)
}

// InitBigQuery creates the shared BigQuery client. credentialsJSON is the
// service-account key blob; when empty, application default credentials apply.
func InitBigQuery(ctx context.Context, projectID string, credentialsJSON []byte) error {
	var err error
	bqOnce.Do(func() {
		if projectID == "" {
			err = fmt.Errorf("bigquery project id not set")
			return
		}
		var opts []option.ClientOption
		if len(credentialsJSON) > 0 {
			opts = append(opts, option.WithCredentialsJSON(credentialsJSON))
		}
		bqClient, err = bigquery.NewClient(ctx, projectID, opts...)
		if err != nil {
			err = fmt.Errorf("failed to create bigquery client: %w", err)
		}
	})
	return err
}

// BigQueryClient returns the shared BigQuery client.
func BigQueryClient() *bigquery.Client {
	return bqClient
}

// Close releases both clients.
func Close(ctx context.Context) {
	if mongoClient != nil {
		_ = mongoClient.Disconnect(ctx)
	}
	if bqClient != nil {
		_ = bqClient.Close()
	}
}
