// Package watch turns store change notifications into live result sets: a
// subscriber receives the complete current result of its query every time
// something it cares about changes.
package watch

import (
	"context"
	"log/slog"
	"sync"
)

// Topic identifies a query's scope, e.g. "shop:<id>" or "customer:<id>".
type Topic string

func ShopTopic(shopID string) Topic         { return Topic("shop:" + shopID) }
func CustomerTopic(customerID string) Topic { return Topic("customer:" + customerID) }

// Hub fans in-process change signals out to subscribers. Signals coalesce:
// a slow subscriber sees one pending signal, not a backlog.
type Hub struct {
	mu   sync.Mutex
	subs map[Topic]map[chan struct{}]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[Topic]map[chan struct{}]struct{})}
}

func (h *Hub) Subscribe(topic Topic) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	h.mu.Lock()
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[chan struct{}]struct{})
	}
	h.subs[topic][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[topic], ch)
			if len(h.subs[topic]) == 0 {
				delete(h.subs, topic)
			}
			h.mu.Unlock()
		})
	}
}

func (h *Hub) Publish(topics ...Topic) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range topics {
		for ch := range h.subs[t] {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}
}

// PublishAll signals every current subscriber.
func (h *Hub) PublishAll() {
	h.mu.Lock()
	topics := make([]Topic, 0, len(h.subs))
	for t := range h.subs {
		topics = append(topics, t)
	}
	h.mu.Unlock()
	h.Publish(topics...)
}

// SubscribeContext is Subscribe bound to ctx: the subscription ends with it.
func (h *Hub) SubscribeContext(ctx context.Context, topic Topic) <-chan struct{} {
	src, cancel := h.Subscribe(topic)
	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-src:
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out
}

// Feed emits load's result once immediately and again after every signal,
// until ctx ends or signals closes. Load errors are logged and skipped; the
// next signal retries.
func Feed[T any](ctx context.Context, signals <-chan struct{}, load func(context.Context) ([]T, error), log *slog.Logger) <-chan []T {
	out := make(chan []T, 1)
	go func() {
		defer close(out)
		emit := func() bool {
			items, err := load(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return false
				}
				log.Warn("watch_load_failed", "err", err)
				return true
			}
			select {
			case out <- items:
				return true
			case <-ctx.Done():
				return false
			}
		}
		if !emit() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-signals:
				if !ok {
					return
				}
				if !emit() {
					return
				}
			}
		}
	}()
	return out
}
