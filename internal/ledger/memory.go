package ledger

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/MikeMC777/ordenes-credito/internal/watch"
)

type MemoryRepo struct {
	mu       sync.Mutex
	accounts map[Key]*Account
	hub      *watch.Hub
}

func NewMemoryRepo(hub *watch.Hub) *MemoryRepo {
	if hub == nil {
		hub = watch.NewHub()
	}
	return &MemoryRepo{accounts: make(map[Key]*Account), hub: hub}
}

func (r *MemoryRepo) Get(_ context.Context, key Key) (*Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[key]
	if !ok {
		return nil, ErrNotFound
	}
	return a.clone(), nil
}

func (r *MemoryRepo) Ensure(_ context.Context, key Key, limit decimal.Decimal, at time.Time) (*Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[key]
	if !ok {
		a = &Account{
			CustomerID:     key.CustomerID,
			ShopID:         key.ShopID,
			CreditLimit:    limit,
			CurrentBalance: decimal.Zero,
			CreatedAt:      at,
			UpdatedAt:      at,
		}
		r.accounts[key] = a
		r.hub.Publish(watch.ShopTopic(key.ShopID))
	}
	return a.clone(), nil
}

func (r *MemoryRepo) Post(_ context.Context, p Posting, at time.Time) (*Account, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[p.Key]
	if !ok {
		return nil, false, ErrNotFound
	}
	if a.HasActiveRef(p.Ref) {
		return a.clone(), false, nil
	}
	next, err := nextBalance(a.CurrentBalance, a.CreditLimit, p.Amount, ruleFor(p.Type, p.Amount))
	if err != nil {
		return nil, false, err
	}
	applied := next.Sub(a.CurrentBalance)
	a.CurrentBalance = next
	a.UpdatedAt = at
	a.History = append(a.History, Entry{
		ID:          uuid.NewString(),
		Date:        at,
		Type:        p.Type,
		Amount:      p.Amount,
		Applied:     applied,
		OrderID:     p.OrderID,
		Ref:         p.Ref,
		Description: p.Description,
	})
	r.hub.Publish(watch.ShopTopic(p.ShopID))
	return a.clone(), true, nil
}

func (r *MemoryRepo) Reverse(_ context.Context, key Key, ref, description string, at time.Time) (*Account, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[key]
	if !ok {
		return nil, false, ErrNotFound
	}
	idx := a.activeEntry(ref)
	if idx < 0 {
		return a.clone(), false, nil
	}
	orig := a.History[idx]
	a.History[idx].Reversed = true
	id := uuid.NewString()
	amount := orig.Applied.Neg()
	next, _ := nextBalance(a.CurrentBalance, a.CreditLimit, amount, ruleRestore)
	applied := next.Sub(a.CurrentBalance)
	a.CurrentBalance = next
	a.UpdatedAt = at
	a.History = append(a.History, Entry{
		ID:          id,
		Date:        at,
		Type:        EntryReversal,
		Amount:      amount,
		Applied:     applied,
		OrderID:     orig.OrderID,
		Ref:         reversalRef(ref, id),
		Reverses:    ref,
		Description: description,
	})
	r.hub.Publish(watch.ShopTopic(key.ShopID))
	return a.clone(), true, nil
}

func (r *MemoryRepo) SetLimit(_ context.Context, key Key, limit decimal.Decimal, at time.Time) (*Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[key]
	if !ok {
		return nil, ErrNotFound
	}
	if limit.LessThan(a.CurrentBalance) {
		return nil, ErrLimitBelowBalance
	}
	a.CreditLimit = limit
	a.UpdatedAt = at
	r.hub.Publish(watch.ShopTopic(key.ShopID))
	return a.clone(), nil
}

func (r *MemoryRepo) ListByShop(_ context.Context, shopID string) ([]Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Account{}
	for k, a := range r.accounts {
		if k.ShopID != shopID {
			continue
		}
		cp := *a
		cp.History = nil
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CustomerID < out[j].CustomerID })
	return out, nil
}

func (r *MemoryRepo) WatchShop(ctx context.Context, shopID string) (<-chan []Account, error) {
	signals := r.hub.SubscribeContext(ctx, watch.ShopTopic(shopID))
	return watch.Feed(ctx, signals, func(ctx context.Context) ([]Account, error) {
		return r.ListByShop(ctx, shopID)
	}, slog.Default()), nil
}
