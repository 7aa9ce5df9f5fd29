package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/MikeMC777/ordenes-credito/internal/watch"
)

// accountDoc keeps the active refs next to the history so a posting can be
// made conditional on its ref in a single document update.
type accountDoc struct {
	ID             string          `bson:"_id"`
	CustomerID     string          `bson:"customerId"`
	ShopID         string          `bson:"shopId"`
	CreditLimit    decimal.Decimal `bson:"creditLimit"`
	CurrentBalance decimal.Decimal `bson:"currentBalance"`
	History        []Entry         `bson:"paymentHistory"`
	ActiveRefs     []string        `bson:"activeRefs"`
	CreatedAt      time.Time       `bson:"createdAt"`
	UpdatedAt      time.Time       `bson:"updatedAt"`
}

func (d accountDoc) account() *Account {
	return &Account{
		CustomerID:     d.CustomerID,
		ShopID:         d.ShopID,
		CreditLimit:    d.CreditLimit,
		CurrentBalance: d.CurrentBalance,
		History:        d.History,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

type MongoRepo struct {
	coll *mongo.Collection
	log  *slog.Logger
}

func NewMongoRepo(db *mongo.Database, log *slog.Logger) *MongoRepo {
	return &MongoRepo{coll: db.Collection("customer_credit"), log: log}
}

// EnsureIndexes creates the shop lookup index.
func (r *MongoRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "shopId", Value: 1}, {Key: "customerId", Value: 1}},
	})
	return err
}

func (r *MongoRepo) find(ctx context.Context, key Key) (*accountDoc, error) {
	var d accountDoc
	if err := r.coll.FindOne(ctx, bson.M{"_id": key.ID()}).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get account %s: %w", key.ID(), err)
	}
	return &d, nil
}

func (r *MongoRepo) Get(ctx context.Context, key Key) (*Account, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	d, err := r.find(ctx, key)
	if err != nil {
		return nil, err
	}
	return d.account(), nil
}

func (r *MongoRepo) Ensure(ctx context.Context, key Key, limit decimal.Decimal, at time.Time) (*Account, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := r.coll.UpdateOne(ctx, bson.M{"_id": key.ID()}, bson.M{
		"$setOnInsert": bson.M{
			"customerId":     key.CustomerID,
			"shopId":         key.ShopID,
			"creditLimit":    limit,
			"currentBalance": decimal.Zero,
			"paymentHistory": bson.A{},
			"activeRefs":     bson.A{},
			"createdAt":      at,
			"updatedAt":      at,
		},
	}, options.Update().SetUpsert(true))
	if err != nil {
		return nil, fmt.Errorf("ensure account %s: %w", key.ID(), err)
	}
	d, err := r.find(ctx, key)
	if err != nil {
		return nil, err
	}
	return d.account(), nil
}

func (r *MongoRepo) Post(ctx context.Context, p Posting, at time.Time) (*Account, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	entry := Entry{
		ID:          uuid.NewString(),
		Date:        at,
		Type:        p.Type,
		Amount:      p.Amount,
		OrderID:     p.OrderID,
		Ref:         p.Ref,
		Description: p.Description,
	}
	filter := bson.M{"_id": p.Key.ID(), "activeRefs": bson.M{"$ne": p.Ref}}
	var update any
	rl := ruleFor(p.Type, p.Amount)
	switch rl {
	case ruleLimit:
		filter["$expr"] = bson.M{"$lte": bson.A{bson.M{"$add": bson.A{"$currentBalance", p.Amount}}, "$creditLimit"}}
	case rulePayment:
		filter["$expr"] = bson.M{"$gte": bson.A{bson.M{"$add": bson.A{"$currentBalance", p.Amount}}, decimal.Zero}}
	}
	if rl == ruleFloor {
		next := bson.M{"$max": bson.A{decimal.Zero, bson.M{"$add": bson.A{"$currentBalance", p.Amount}}}}
		update = mongo.Pipeline{{{Key: "$set", Value: bson.M{
			"currentBalance": next,
			"paymentHistory": bson.M{"$concatArrays": bson.A{
				bson.M{"$ifNull": bson.A{"$paymentHistory", bson.A{}}},
				bson.A{withApplied(entry, next)},
			}},
			"activeRefs": bson.M{"$concatArrays": bson.A{
				bson.M{"$ifNull": bson.A{"$activeRefs", bson.A{}}},
				bson.M{"$literal": bson.A{p.Ref}},
			}},
			"updatedAt": at,
		}}}}
	} else {
		entry.Applied = p.Amount
		update = bson.M{
			"$inc":  bson.M{"currentBalance": p.Amount},
			"$push": bson.M{"paymentHistory": entry, "activeRefs": p.Ref},
			"$set":  bson.M{"updatedAt": at},
		}
	}

	res, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return nil, false, fmt.Errorf("post %s: %w", p.Ref, err)
	}
	d, err := r.find(ctx, p.Key)
	if err != nil {
		return nil, false, err
	}
	if res.MatchedCount == 1 {
		return d.account(), true, nil
	}
	if d.account().HasActiveRef(p.Ref) {
		return d.account(), false, nil
	}
	if rl == rulePayment {
		return nil, false, ErrExceedsBalance
	}
	return nil, false, ErrLimitExceeded
}

// withApplied is e as a pipeline expression whose applied field is the
// difference between next and the stored balance.
func withApplied(e Entry, next bson.M) bson.M {
	return bson.M{"$mergeObjects": bson.A{
		bson.M{"$literal": e},
		bson.M{"applied": bson.M{"$subtract": bson.A{next, "$currentBalance"}}},
	}}
}

func (r *MongoRepo) Reverse(ctx context.Context, key Key, ref, description string, at time.Time) (*Account, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	d, err := r.find(ctx, key)
	if err != nil {
		return nil, false, err
	}
	idx := d.account().activeEntry(ref)
	if idx < 0 {
		return d.account(), false, nil
	}
	orig := d.History[idx]
	id := uuid.NewString()
	amount := orig.Applied.Neg()
	rev := Entry{
		ID:          id,
		Date:        at,
		Type:        EntryReversal,
		Amount:      amount,
		OrderID:     orig.OrderID,
		Ref:         reversalRef(ref, id),
		Reverses:    ref,
		Description: description,
	}
	// same clamp as ruleRestore
	sum := bson.M{"$add": bson.A{"$currentBalance", amount}}
	next := bson.M{"$max": bson.A{decimal.Zero, sum}}
	if amount.IsPositive() {
		next = bson.M{"$max": bson.A{"$currentBalance", bson.M{"$min": bson.A{"$creditLimit", sum}}}}
	}
	markReversed := bson.M{"$map": bson.M{
		"input": "$paymentHistory",
		"as":    "e",
		"in": bson.M{"$cond": bson.A{
			bson.M{"$and": bson.A{
				bson.M{"$eq": bson.A{"$$e.ref", bson.M{"$literal": ref}}},
				bson.M{"$ne": bson.A{"$$e.reversed", true}},
			}},
			bson.M{"$mergeObjects": bson.A{"$$e", bson.M{"reversed": true}}},
			"$$e",
		}},
	}}
	update := mongo.Pipeline{{{Key: "$set", Value: bson.M{
		"currentBalance": next,
		"paymentHistory": bson.M{"$concatArrays": bson.A{markReversed, bson.A{withApplied(rev, next)}}},
		"activeRefs": bson.M{"$filter": bson.M{
			"input": "$activeRefs",
			"cond":  bson.M{"$ne": bson.A{"$$this", bson.M{"$literal": ref}}},
		}},
		"updatedAt": at,
	}}}}
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": key.ID(), "activeRefs": ref}, update)
	if err != nil {
		return nil, false, fmt.Errorf("reverse %s: %w", ref, err)
	}
	d, err = r.find(ctx, key)
	if err != nil {
		return nil, false, err
	}
	return d.account(), res.MatchedCount == 1, nil
}

func (r *MongoRepo) SetLimit(ctx context.Context, key Key, limit decimal.Decimal, at time.Time) (*Account, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": key.ID(), "currentBalance": bson.M{"$lte": limit}},
		bson.M{"$set": bson.M{"creditLimit": limit, "updatedAt": at}},
	)
	if err != nil {
		return nil, fmt.Errorf("set limit %s: %w", key.ID(), err)
	}
	d, err := r.find(ctx, key)
	if err != nil {
		return nil, err
	}
	if res.MatchedCount == 0 {
		return nil, ErrLimitBelowBalance
	}
	return d.account(), nil
}

func (r *MongoRepo) ListByShop(ctx context.Context, shopID string) ([]Account, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cur, err := r.coll.Find(ctx, bson.M{"shopId": shopID}, options.Find().
		SetSort(bson.D{{Key: "customerId", Value: 1}}).
		SetProjection(bson.M{"paymentHistory": 0, "activeRefs": 0}))
	if err != nil {
		return nil, fmt.Errorf("list accounts %s: %w", shopID, err)
	}
	defer cur.Close(ctx)
	out := []Account{}
	for cur.Next(ctx) {
		var d accountDoc
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		out = append(out, *d.account())
	}
	return out, cur.Err()
}

func (r *MongoRepo) WatchShop(ctx context.Context, shopID string) (<-chan []Account, error) {
	pipeline := mongo.Pipeline{{{Key: "$match", Value: bson.M{"fullDocument.shopId": shopID}}}}
	signals, err := watch.ChangeStream(ctx, r.coll, pipeline, r.log,
		options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		return nil, err
	}
	return watch.Feed(ctx, signals, func(ctx context.Context) ([]Account, error) {
		return r.ListByShop(ctx, shopID)
	}, r.log), nil
}
