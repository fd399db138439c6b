package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ArtemMasharipov/go-bookstore/internal/domain"
)

type MongoCartRepository struct {
	collection *mongo.Collection
}

func NewMongoCartRepository(db *mongo.Database) *MongoCartRepository {
	return &MongoCartRepository{
		collection: db.Collection("carts"),
	}
}

func (m *MongoCartRepository) GetCart(ctx context.Context, ownerID string) (*domain.Cart, error) {
	var cart domain.Cart

	filter := bson.M{"owner_id": ownerID}
	err := m.collection.FindOne(ctx, filter).Decode(&cart)

	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	return &cart, nil
}

// ReplaceCart writes the full cart document. A cart with Version 0 has never
// been persisted and is inserted; any other version is applied only if the
// stored version still matches, otherwise ErrVersionConflict is returned and
// the caller re-reads and retries.
func (m *MongoCartRepository) ReplaceCart(ctx context.Context, cart *domain.Cart) error {
	now := time.Now()
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = now
	}
	cart.UpdatedAt = now

	if cart.Version == 0 {
		cart.Version = 1
		_, err := m.collection.InsertOne(ctx, cart)
		if err != nil {
			cart.Version = 0
			if mongo.IsDuplicateKeyError(err) {
				// Another writer created the cart first.
				return ErrVersionConflict
			}
			return fmt.Errorf("failed to insert cart: %w", err)
		}
		return nil
	}

	filter := bson.M{"owner_id": cart.OwnerID, "version": cart.Version}
	update := bson.M{
		"$set": bson.M{
			"items":          cart.Items,
			"total_quantity": cart.TotalQuantity,
			"total_price":    cart.TotalPrice,
			"updated_at":     now,
		},
		"$inc": bson.M{"version": 1},
	}

	result, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to replace cart: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrVersionConflict
	}

	cart.Version++
	return nil
}

// ClearCart empties the item list, guarded by the same version check as
// ReplaceCart.
func (m *MongoCartRepository) ClearCart(ctx context.Context, ownerID string, version int64) error {
	filter := bson.M{"owner_id": ownerID, "version": version}
	update := bson.M{
		"$set": bson.M{
			"items":          []domain.CartItem{},
			"total_quantity": 0,
			"total_price":    0.0,
			"updated_at":     time.Now(),
		},
		"$inc": bson.M{"version": 1},
	}

	result, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrVersionConflict
	}

	return nil
}

func (m *MongoCartRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "owner_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}

	_, err := m.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}
