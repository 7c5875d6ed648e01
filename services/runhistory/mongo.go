// Package runhistory archives finished sync runs in MongoDB.
package runhistory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ashare_backend/services/syncer"
)

const RunsCollection = "sync_runs"

// RunDocument is one archived run.
type RunDocument struct {
	Mode       string    `bson:"mode" json:"mode"`
	StartedAt  time.Time `bson:"started_at" json:"started_at"`
	FinishedAt time.Time `bson:"finished_at" json:"finished_at"`
	DurationMS int64     `bson:"duration_ms" json:"duration_ms"`
	Succeeded  bool      `bson:"succeeded" json:"succeeded"`
	LastError  string    `bson:"last_error,omitempty" json:"last_error,omitempty"`
	Progress   string    `bson:"progress" json:"progress"`
	Counts     CountsDoc `bson:"counts" json:"counts"`
	RecordedAt time.Time `bson:"recorded_at" json:"recorded_at"`
}

// CountsDoc mirrors syncer.Counts
type CountsDoc struct {
	Total   int64 `bson:"total" json:"total"`
	Synced  int64 `bson:"synced" json:"synced"`
	Skipped int64 `bson:"skipped" json:"skipped"`
	Failed  int64 `bson:"failed" json:"failed"`
	Rows    int64 `bson:"rows" json:"rows"`
}

// MongoRecorder handles the MongoDB connection and run archive.
type MongoRecorder struct {
	client   *mongo.Client
	database *mongo.Database
	logger   zerolog.Logger

	mu          sync.RWMutex
	isConnected bool
	lastError   string
}

// Connect establishes the MongoDB connection and ensures indexes.
func Connect(ctx context.Context, uri, database string, logger zerolog.Logger) (*MongoRecorder, error) {
	r := &MongoRecorder{logger: logger.With().Str("component", "runhistory").Logger()}

	clientOptions := options.Client().
		ApplyURI(uri).
		SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1)).
		SetMaxPoolSize(5).
		SetMaxConnIdleTime(30 * time.Second).
		SetConnectTimeout(15 * time.Second).
		SetRetryWrites(true).
		SetRetryReads(true)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	r.client = client
	r.database = client.Database(database)
	r.isConnected = true

	_, err = r.database.Collection(RunsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "started_at", Value: -1}},
	})
	if err != nil {
		r.logger.Warn().Err(err).Msg("Failed to create sync_runs index")
	}

	r.logger.Info().Str("database", database).Msg("MongoDB run history connected")
	return r, nil
}

// RecordRun stores a finished run.
func (r *MongoRecorder) RecordRun(ctx context.Context, snap syncer.Snapshot) error {
	doc := toDocument(snap, time.Now())
	if _, err := r.database.Collection(RunsCollection).InsertOne(ctx, doc); err != nil {
		r.setError(err)
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Recent returns the latest runs, newest first.
func (r *MongoRecorder) Recent(ctx context.Context, limit int64) ([]RunDocument, error) {
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	cur, err := r.database.Collection(RunsCollection).Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "started_at", Value: -1}}).SetLimit(limit))
	if err != nil {
		r.setError(err)
		return nil, err
	}
	defer cur.Close(ctx)

	var runs []RunDocument
	if err := cur.All(ctx, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// GetConnectionStatus returns detailed connection status
func (r *MongoRecorder) GetConnectionStatus() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := map[string]interface{}{
		"connected": r.isConnected,
	}
	if r.lastError != "" {
		status["error"] = r.lastError
	}
	return status
}

// Close closes the MongoDB connection
func (r *MongoRecorder) Close() error {
	if r.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return r.client.Disconnect(ctx)
}

func (r *MongoRecorder) setError(err error) {
	r.mu.Lock()
	r.lastError = err.Error()
	r.mu.Unlock()
}

func toDocument(snap syncer.Snapshot, now time.Time) RunDocument {
	doc := RunDocument{
		Mode:       string(snap.Mode),
		Succeeded:  snap.LastError == nil,
		Progress:   snap.Progress,
		RecordedAt: now,
		Counts: CountsDoc{
			Total:   snap.Counts.Total,
			Synced:  snap.Counts.Synced,
			Skipped: snap.Counts.Skipped,
			Failed:  snap.Counts.Failed,
			Rows:    snap.Counts.Rows,
		},
	}
	if snap.LastError != nil {
		doc.LastError = *snap.LastError
	}
	if snap.StartedAt != nil {
		doc.StartedAt = *snap.StartedAt
	}
	if snap.FinishedAt != nil {
		doc.FinishedAt = *snap.FinishedAt
	}
	if snap.StartedAt != nil && snap.FinishedAt != nil {
		doc.DurationMS = snap.FinishedAt.Sub(*snap.StartedAt).Milliseconds()
	}
	return doc
}
