// Package store is an async audit/session-history sink backed by
// MongoDB, grounded on the teacher's BatchWriter.sendBatchToMongoDB.
// It records what sessions existed and how they behaved for
// after-the-fact analysis; it is never consulted to reconstruct
// in-process pool or registry state (no persistent session storage
// across restart is an explicit non-goal of the core).
package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"browsercontrol/internal/logging"
)

// SessionRecordDoc is one historical row: a session's final shape at
// the moment it was destroyed.
type SessionRecordDoc struct {
	SessionID     string    `bson:"_id"`
	Kind          string    `bson:"kind"`
	CreatedAt     time.Time `bson:"createdAt"`
	DestroyedAt   time.Time `bson:"destroyedAt"`
	TotalActions  int64     `bson:"totalActions"`
	FailedActions int64     `bson:"failedActions"`
}

// Sink batches session-history documents and flushes them on an
// interval, matching the teacher's batched-bulk-write shape.
type Sink struct {
	collection *mongo.Collection

	mu      chan struct{}
	pending []SessionRecordDoc
}

// NewSink connects to uri and targets database/collection. It does not
// block past the client construction; a first bulk write failure is
// logged, never fatal.
func NewSink(ctx context.Context, uri, database, collection string) (*Sink, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	return &Sink{
		collection: client.Database(database).Collection(collection),
		mu:         make(chan struct{}, 1),
	}, nil
}

// Record enqueues one session-history document for the next flush.
func (s *Sink) Record(doc SessionRecordDoc) {
	s.mu <- struct{}{}
	s.pending = append(s.pending, doc)
	<-s.mu
}

// Flush bulk-writes every pending document as an upsert, unordered for
// throughput (spec §9's ambient persistence layer, not session state).
func (s *Sink) Flush(ctx context.Context) error {
	s.mu <- struct{}{}
	batch := s.pending
	s.pending = nil
	<-s.mu

	if len(batch) == 0 {
		return nil
	}

	models := make([]mongo.WriteModel, 0, len(batch))
	for _, doc := range batch {
		filter := bson.M{"_id": doc.SessionID}
		model := mongo.NewReplaceOneModel().SetFilter(filter).SetReplacement(doc).SetUpsert(true)
		models = append(models, model)
	}

	opts := options.BulkWrite().SetOrdered(false)
	result, err := s.collection.BulkWrite(ctx, models, opts)
	if err != nil {
		logging.Warn("session history bulk write failed", zap.Error(err))
		return err
	}

	logging.Info("session history flushed",
		zap.Int64("upserted", result.UpsertedCount),
		zap.Int64("modified", result.ModifiedCount))
	return nil
}

// Run periodically flushes pending documents until ctx is cancelled.
func (s *Sink) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Flush(ctx)
		case <-ctx.Done():
			s.Flush(context.Background())
			return
		}
	}
}
