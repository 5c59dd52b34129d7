package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"pulsewatch/internal/models"
)

const collectionArchive = "conversation_archive"

// ConversationArchive persists evicted conversations for later inspection.
// The archive is best-effort: eviction proceeds even when writes fail.
type ConversationArchive struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewConversationArchive connects to MongoDB and prepares the archive
// collection with its indexes.
func NewConversationArchive(uri, dbName string) (*ConversationArchive, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(20).
		SetServerSelectionTimeout(5 * time.Second).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	a := &ConversationArchive{
		client:     client,
		collection: client.Database(dbName).Collection(collectionArchive),
	}
	if err := a.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *ConversationArchive) ensureIndexes(ctx context.Context) error {
	_, err := a.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "archivedAt", Value: -1}}},
		{Keys: bson.D{{Key: "conversationId", Value: 1}}},
		// Archived conversations expire after 30 days
		{Keys: bson.D{{Key: "archivedAt", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(30 * 24 * 3600)},
	})
	if err != nil {
		return fmt.Errorf("failed to create archive indexes: %w", err)
	}
	return nil
}

// Save writes one archive record
func (a *ConversationArchive) Save(ctx context.Context, record models.ConversationArchiveRecord) error {
	if record.ArchivedAt.IsZero() {
		record.ArchivedAt = time.Now()
	}
	if _, err := a.collection.InsertOne(ctx, record); err != nil {
		return fmt.Errorf("archive insert failed: %w", err)
	}
	return nil
}

// SaveAll writes a batch of archive records in one call
func (a *ConversationArchive) SaveAll(ctx context.Context, records []models.ConversationArchiveRecord) error {
	if len(records) == 0 {
		return nil
	}
	now := time.Now()
	docs := make([]interface{}, len(records))
	for i, r := range records {
		if r.ArchivedAt.IsZero() {
			r.ArchivedAt = now
		}
		docs[i] = r
	}
	if _, err := a.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false)); err != nil {
		return fmt.Errorf("archive batch insert failed: %w", err)
	}
	return nil
}

// RecentForUser returns the user's most recently archived conversations
func (a *ConversationArchive) RecentForUser(ctx context.Context, userID string, limit int) ([]models.ConversationArchiveRecord, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	cursor, err := a.collection.Find(ctx,
		bson.M{"userId": userID},
		options.Find().SetSort(bson.D{{Key: "archivedAt", Value: -1}}).SetLimit(int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("archive query failed: %w", err)
	}
	defer cursor.Close(ctx)

	var out []models.ConversationArchiveRecord
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("archive decode failed: %w", err)
	}
	return out, nil
}

// Ping checks the archive connection
func (a *ConversationArchive) Ping(ctx context.Context) error {
	return a.client.Ping(ctx, readpref.Primary())
}

// Close disconnects from MongoDB
func (a *ConversationArchive) Close(ctx context.Context) error {
	return a.client.Disconnect(ctx)
}
