package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ukydev/hems-dispatch/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// MongoAPIKeyCollection implements APIKeyCollection for MongoDB
type MongoAPIKeyCollection struct {
	Collection *mongo.Collection
}

// InsertAPIKey stores a newly issued key
func (c *MongoAPIKeyCollection) InsertAPIKey(ctx context.Context, key models.APIKey) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now()
	}
	_, err := c.Collection.InsertOne(ctx, key)
	return err
}

// FindAPIKey finds a key by its public identifier
func (c *MongoAPIKeyCollection) FindAPIKey(ctx context.Context, keyID string) (*models.APIKey, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	var key models.APIKey
	err := c.Collection.FindOne(ctx, bson.M{"key_id": keyID}).Decode(&key)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &key, nil
}

// TouchAPIKey records the last time a key was used
func (c *MongoAPIKeyCollection) TouchAPIKey(ctx context.Context, keyID string, at time.Time) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	result, err := c.Collection.UpdateOne(ctx, bson.M{"key_id": keyID}, bson.M{"$set": bson.M{"last_used_at": at}})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
