package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/MikeMC777/ordenes-credito/internal/watch"
)

type MongoRepo struct {
	coll *mongo.Collection
	log  *slog.Logger
}

func NewMongoRepo(db *mongo.Database, log *slog.Logger) *MongoRepo {
	return &MongoRepo{coll: db.Collection("orders"), log: log}
}

func (r *MongoRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "shopId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "customerId", Value: 1}, {Key: "createdAt", Value: -1}}},
	})
	return err
}

func (r *MongoRepo) Create(ctx context.Context, o *Order) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := r.coll.InsertOne(ctx, o); err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *MongoRepo) Get(ctx context.Context, id string) (*Order, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var o Order
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&o); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return &o, nil
}

func (r *MongoRepo) Update(ctx context.Context, o *Order, expected int64) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	res, err := r.coll.ReplaceOne(ctx, bson.M{"_id": o.ID, "version": expected}, o)
	if err != nil {
		return fmt.Errorf("replace order %s: %w", o.ID, err)
	}
	if res.MatchedCount == 0 {
		n, err := r.coll.CountDocuments(ctx, bson.M{"_id": o.ID})
		if err == nil && n == 0 {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

func (r *MongoRepo) list(ctx context.Context, filter bson.M, q ListQuery) ([]Order, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	q = q.Normalized()
	if q.Status != "" {
		filter["status"] = q.Status
	}
	cur, err := r.coll.Find(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(int64(q.Limit)).
		SetSkip(int64(q.Offset)))
	if err != nil {
		return nil, err
	}
	out := []Order{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MongoRepo) ListByShop(ctx context.Context, shopID string, q ListQuery) ([]Order, error) {
	return r.list(ctx, bson.M{"shopId": shopID}, q)
}

func (r *MongoRepo) ListByCustomer(ctx context.Context, customerID string, q ListQuery) ([]Order, error) {
	return r.list(ctx, bson.M{"customerId": customerID}, q)
}

func (r *MongoRepo) watch(ctx context.Context, field, value string, load func(context.Context) ([]Order, error)) (<-chan []Order, error) {
	pipeline := mongo.Pipeline{{{Key: "$match", Value: bson.M{"fullDocument." + field: value}}}}
	signals, err := watch.ChangeStream(ctx, r.coll, pipeline, r.log,
		options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		return nil, err
	}
	return watch.Feed(ctx, signals, load, r.log), nil
}

func (r *MongoRepo) WatchShop(ctx context.Context, shopID string, q ListQuery) (<-chan []Order, error) {
	return r.watch(ctx, "shopId", shopID, func(ctx context.Context) ([]Order, error) {
		return r.ListByShop(ctx, shopID, q)
	})
}

func (r *MongoRepo) WatchCustomer(ctx context.Context, customerID string, q ListQuery) (<-chan []Order, error) {
	return r.watch(ctx, "customerId", customerID, func(ctx context.Context) ([]Order, error) {
		return r.ListByCustomer(ctx, customerID, q)
	})
}
