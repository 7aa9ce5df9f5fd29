package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type MongoSource struct{ coll *mongo.Collection }

func NewMongoSource(db *mongo.Database) *MongoSource {
	return &MongoSource{coll: db.Collection("shop_policies")}
}

func (s *MongoSource) ReturnPolicy(ctx context.Context, shopID string) (ReturnPolicy, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var doc struct {
		Return Stored `bson:"returnPolicy"`
	}
	err := s.coll.FindOne(ctx, bson.M{"_id": shopID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Default(), nil
		}
		return ReturnPolicy{}, fmt.Errorf("get return policy %s: %w", shopID, err)
	}
	return doc.Return.Resolve(), nil
}
