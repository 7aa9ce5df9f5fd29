package order

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/MikeMC777/ordenes-credito/internal/watch"
)

type MemoryRepo struct {
	mu     sync.RWMutex
	orders map[string]*Order
	hub    *watch.Hub
}

func NewMemoryRepo(hub *watch.Hub) *MemoryRepo {
	if hub == nil {
		hub = watch.NewHub()
	}
	return &MemoryRepo{orders: make(map[string]*Order), hub: hub}
}

func (r *MemoryRepo) Create(_ context.Context, o *Order) error {
	r.mu.Lock()
	r.orders[o.ID] = o.Clone()
	r.mu.Unlock()
	r.hub.Publish(topics(o)...)
	return nil
}

func (r *MemoryRepo) Get(_ context.Context, id string) (*Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o.Clone(), nil
}

func (r *MemoryRepo) Update(_ context.Context, o *Order, expected int64) error {
	r.mu.Lock()
	cur, ok := r.orders[o.ID]
	switch {
	case !ok:
		r.mu.Unlock()
		return ErrNotFound
	case cur.Version != expected:
		r.mu.Unlock()
		return ErrConflict
	}
	r.orders[o.ID] = o.Clone()
	r.mu.Unlock()
	r.hub.Publish(topics(o)...)
	return nil
}

func (r *MemoryRepo) list(match func(*Order) bool, q ListQuery) []Order {
	q = q.Normalized()
	r.mu.RLock()
	all := make([]Order, 0)
	for _, o := range r.orders {
		if match(o) && q.matches(o) {
			all = append(all, *o.Clone())
		}
	}
	r.mu.RUnlock()
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if q.Offset >= len(all) {
		return []Order{}
	}
	end := q.Offset + q.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[q.Offset:end]
}

func (r *MemoryRepo) ListByShop(_ context.Context, shopID string, q ListQuery) ([]Order, error) {
	return r.list(func(o *Order) bool { return o.ShopID == shopID }, q), nil
}

func (r *MemoryRepo) ListByCustomer(_ context.Context, customerID string, q ListQuery) ([]Order, error) {
	return r.list(func(o *Order) bool { return o.CustomerID == customerID }, q), nil
}

func (r *MemoryRepo) WatchShop(ctx context.Context, shopID string, q ListQuery) (<-chan []Order, error) {
	signals := r.hub.SubscribeContext(ctx, watch.ShopTopic(shopID))
	return watch.Feed(ctx, signals, func(ctx context.Context) ([]Order, error) {
		return r.ListByShop(ctx, shopID, q)
	}, slog.Default()), nil
}

func (r *MemoryRepo) WatchCustomer(ctx context.Context, customerID string, q ListQuery) (<-chan []Order, error) {
	signals := r.hub.SubscribeContext(ctx, watch.CustomerTopic(customerID))
	return watch.Feed(ctx, signals, func(ctx context.Context) ([]Order, error) {
		return r.ListByCustomer(ctx, customerID, q)
	}, slog.Default()), nil
}
