package catalog

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/ArtemMasharipov/go-bookstore/internal/domain"
)

type bookDoc struct {
	ID      primitive.ObjectID `bson:"_id"`
	Title   string             `bson:"title"`
	Price   float64            `bson:"price"`
	InStock bool               `bson:"in_stock"`
}

type mongoCatalog struct {
	collection *mongo.Collection
}

func NewMongoCatalog(db *mongo.Database) Lookup {
	return &mongoCatalog{
		collection: db.Collection("books"),
	}
}

func (m *mongoCatalog) GetBook(ctx context.Context, bookID string) (*Book, error) {
	oid, err := primitive.ObjectIDFromHex(bookID)
	if err != nil {
		return nil, fmt.Errorf("book %s: %w", bookID, domain.ErrNotFound)
	}

	var doc bookDoc
	err = m.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("book %s: %w", bookID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get book: %w", err)
	}

	return &Book{
		ID:      doc.ID.Hex(),
		Title:   doc.Title,
		Price:   doc.Price,
		InStock: doc.InStock,
	}, nil
}
