package order

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// PreparedTracker holds the short-lived set of lines staff have physically
// prepared. It is workflow state, not part of the order document.
type PreparedTracker interface {
	Mark(ctx context.Context, orderID, itemID string) error
	Unmark(ctx context.Context, orderID, itemID string) error
	Prepared(ctx context.Context, orderID string) ([]string, error)
	// Reconcile drops ids that are no longer lines of the order and returns
	// what is left; the result is always a subset of current.
	Reconcile(ctx context.Context, orderID string, current []string) ([]string, error)
	Clear(ctx context.Context, orderID string) error
}

type preparedSet struct {
	items   map[string]struct{}
	expires time.Time
}

type MemoryTracker struct {
	mu   sync.Mutex
	ttl  time.Duration
	sets map[string]*preparedSet
	now  func() time.Time
}

func NewMemoryTracker(ttl time.Duration) *MemoryTracker {
	return &MemoryTracker{ttl: ttl, sets: make(map[string]*preparedSet), now: time.Now}
}

// live returns the order's set, dropping it first if it expired.
func (t *MemoryTracker) live(orderID string, create bool) *preparedSet {
	s, ok := t.sets[orderID]
	if ok && t.ttl > 0 && t.now().After(s.expires) {
		delete(t.sets, orderID)
		s, ok = nil, false
	}
	if !ok && create {
		s = &preparedSet{items: make(map[string]struct{})}
		t.sets[orderID] = s
	}
	if s != nil && create {
		s.expires = t.now().Add(t.ttl)
	}
	return s
}

func (t *MemoryTracker) Mark(_ context.Context, orderID, itemID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.live(orderID, true).items[itemID] = struct{}{}
	return nil
}

func (t *MemoryTracker) Unmark(_ context.Context, orderID, itemID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s := t.live(orderID, false); s != nil {
		delete(s.items, itemID)
	}
	return nil
}

func (t *MemoryTracker) Prepared(_ context.Context, orderID string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.live(orderID, false)
	if s == nil {
		return []string{}, nil
	}
	out := make([]string, 0, len(s.items))
	for id := range s.items {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (t *MemoryTracker) Reconcile(ctx context.Context, orderID string, current []string) ([]string, error) {
	t.mu.Lock()
	if s := t.live(orderID, false); s != nil {
		keep := make(map[string]struct{}, len(current))
		for _, id := range current {
			keep[id] = struct{}{}
		}
		for id := range s.items {
			if _, ok := keep[id]; !ok {
				delete(s.items, id)
			}
		}
	}
	t.mu.Unlock()
	return t.Prepared(ctx, orderID)
}

func (t *MemoryTracker) Clear(_ context.Context, orderID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sets, orderID)
	return nil
}

// RedisTracker keeps each order's set under prepared:<orderID> so every
// replica sees the same marks; the key expires after ttl of inactivity.
type RedisTracker struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisTracker(rdb *redis.Client, ttl time.Duration) *RedisTracker {
	return &RedisTracker{rdb: rdb, ttl: ttl}
}

func preparedKey(orderID string) string { return "prepared:" + orderID }

func (t *RedisTracker) Mark(ctx context.Context, orderID, itemID string) error {
	key := preparedKey(orderID)
	_, err := t.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, key, itemID)
		p.Expire(ctx, key, t.ttl)
		return nil
	})
	return err
}

func (t *RedisTracker) Unmark(ctx context.Context, orderID, itemID string) error {
	return t.rdb.SRem(ctx, preparedKey(orderID), itemID).Err()
}

func (t *RedisTracker) Prepared(ctx context.Context, orderID string) ([]string, error) {
	ids, err := t.rdb.SMembers(ctx, preparedKey(orderID)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

func (t *RedisTracker) Reconcile(ctx context.Context, orderID string, current []string) ([]string, error) {
	ids, err := t.Prepared(ctx, orderID)
	if err != nil {
		return nil, err
	}
	keep := make(map[string]struct{}, len(current))
	for _, id := range current {
		keep[id] = struct{}{}
	}
	var stale []any
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := keep[id]; ok {
			out = append(out, id)
		} else {
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		if err := t.rdb.SRem(ctx, preparedKey(orderID), stale...).Err(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (t *RedisTracker) Clear(ctx context.Context, orderID string) error {
	return t.rdb.Del(ctx, preparedKey(orderID)).Err()
}
