package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/MikeMC777/ordenes-credito/internal/identity"
)

type MongoRepo struct{ coll *mongo.Collection }

func NewMongoRepo(db *mongo.Database) *MongoRepo {
	return &MongoRepo{coll: db.Collection("pending_payments")}
}

func (r *MongoRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "shopId", Value: 1}, {Key: "recordedAt", Value: -1}}},
		{Keys: bson.D{{Key: "customerId", Value: 1}, {Key: "recordedAt", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "expiresAt", Value: 1}}},
	})
	return err
}

func (r *MongoRepo) Create(ctx context.Context, p *PendingPayment) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := r.coll.InsertOne(ctx, p); err != nil {
		return fmt.Errorf("create pending payment: %w", err)
	}
	return nil
}

func (r *MongoRepo) Get(ctx context.Context, id string) (*PendingPayment, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var p PendingPayment
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&p); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get pending payment %s: %w", id, err)
	}
	return &p, nil
}

func (r *MongoRepo) Transition(ctx context.Context, id string, from, to Status, at time.Time, by, reason string) (*PendingPayment, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var p PendingPayment
	err := r.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": from},
		bson.M{"$set": bson.M{"status": to, "resolvedAt": at, "resolvedBy": by, "reason": reason}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if _, gerr := r.Get(ctx, id); gerr != nil {
			return nil, gerr
		}
		return nil, ErrStatusChanged
	}
	if err != nil {
		return nil, fmt.Errorf("transition pending payment %s: %w", id, err)
	}
	return &p, nil
}

func (r *MongoRepo) list(ctx context.Context, filter bson.M, status Status) ([]PendingPayment, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if status != "" {
		filter["status"] = status
	}
	cur, err := r.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "recordedAt", Value: -1}}))
	if err != nil {
		return nil, err
	}
	out := []PendingPayment{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MongoRepo) ListByShop(ctx context.Context, shopID string, status Status) ([]PendingPayment, error) {
	return r.list(ctx, bson.M{"shopId": shopID}, status)
}

func (r *MongoRepo) ListByCustomer(ctx context.Context, customerID string, status Status) ([]PendingPayment, error) {
	return r.list(ctx, bson.M{"customerId": customerID}, status)
}

func (r *MongoRepo) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	res, err := r.coll.UpdateMany(ctx,
		bson.M{"status": StatusPending, "expiresAt": bson.M{"$lte": now}},
		bson.M{"$set": bson.M{"status": StatusExpired, "resolvedAt": now, "resolvedBy": identity.System.Label()}},
	)
	if err != nil {
		return 0, fmt.Errorf("expire pending payments: %w", err)
	}
	return res.ModifiedCount, nil
}
