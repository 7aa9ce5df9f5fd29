package payment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/MikeMC777/ordenes-credito/internal/identity"
)

type MemoryRepo struct {
	mu   sync.Mutex
	byID map[string]*PendingPayment
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{byID: make(map[string]*PendingPayment)} }

func (r *MemoryRepo) Create(_ context.Context, p *PendingPayment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.byID[p.ID] = &cp
	return nil
}

func (r *MemoryRepo) Get(_ context.Context, id string) (*PendingPayment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *MemoryRepo) Transition(_ context.Context, id string, from, to Status, at time.Time, by, reason string) (*PendingPayment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if p.Status != from {
		return nil, ErrStatusChanged
	}
	p.Status = to
	p.ResolvedAt = &at
	p.ResolvedBy = by
	p.Reason = reason
	cp := *p
	return &cp, nil
}

func (r *MemoryRepo) list(match func(*PendingPayment) bool) []PendingPayment {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []PendingPayment{}
	for _, p := range r.byID {
		if match(p) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordedAt.After(out[j].RecordedAt) })
	return out
}

func (r *MemoryRepo) ListByShop(_ context.Context, shopID string, status Status) ([]PendingPayment, error) {
	return r.list(func(p *PendingPayment) bool {
		return p.ShopID == shopID && (status == "" || p.Status == status)
	}), nil
}

func (r *MemoryRepo) ListByCustomer(_ context.Context, customerID string, status Status) ([]PendingPayment, error) {
	return r.list(func(p *PendingPayment) bool {
		return p.CustomerID == customerID && (status == "" || p.Status == status)
	}), nil
}

func (r *MemoryRepo) ExpireDue(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, p := range r.byID {
		if p.Due(now) {
			at := now
			p.Status = StatusExpired
			p.ResolvedAt = &at
			p.ResolvedBy = identity.System.Label()
			n++
		}
	}
	return n, nil
}
