package deadletter

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"courier/internal/constants"
)

type ArchiveRepository interface {
	Insert(ctx context.Context, rec Record) error
	List(ctx context.Context, limit int) ([]Record, error)
}

type MongoArchive struct {
	collection *mongo.Collection
}

func NewMongoArchive(client *mongo.Client, database string) *MongoArchive {
	if database == "" {
		database = constants.DefaultMongoDBName
	}
	return &MongoArchive{
		collection: client.Database(database).Collection(constants.DeadLetterArchiveCollection),
	}
}

func (a *MongoArchive) Insert(ctx context.Context, rec Record) error {
	if _, err := a.collection.InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("failed to archive dead letter: %w", err)
	}
	return nil
}

func (a *MongoArchive) List(ctx context.Context, limit int) ([]Record, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "failed_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := a.collection.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	defer cursor.Close(ctx)

	var records []Record
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode dead letters: %w", err)
	}
	return records, nil
}
