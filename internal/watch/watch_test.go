package watch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}

func TestHubPublishOnlyReachesTopic(t *testing.T) {
	h := NewHub()
	shopCh, cancelShop := h.Subscribe(ShopTopic("s1"))
	defer cancelShop()
	otherCh, cancelOther := h.Subscribe(ShopTopic("s2"))
	defer cancelOther()

	h.Publish(ShopTopic("s1"), CustomerTopic("c1"))

	recv(t, shopCh)
	select {
	case <-otherCh:
		t.Fatal("s2 subscriber should not be signalled")
	default:
	}
}

func TestHubSignalsCoalesce(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe("t")
	defer cancel()

	h.Publish("t")
	h.Publish("t")
	h.Publish("t")

	recv(t, ch)
	select {
	case <-ch:
		t.Fatal("expected a single pending signal")
	default:
	}
}

func TestHubUnsubscribe(t *testing.T) {
	h := NewHub()
	_, cancel := h.Subscribe("t")
	cancel()
	cancel()
	assert.Empty(t, h.subs)
}

func TestHubPublishAll(t *testing.T) {
	h := NewHub()
	a, cancelA := h.Subscribe(ShopTopic("s1"))
	defer cancelA()
	b, cancelB := h.Subscribe(CustomerTopic("c1"))
	defer cancelB()

	h.PublishAll()

	recv(t, a)
	recv(t, b)
}

func TestListenerSeparatesChannels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := NewListener(nil, discard, "orders_changed", "credit_accounts_changed")
	orders := l.Subscribe(ctx, "orders_changed", ShopTopic("s1"))

	l.hub.Publish(channelTopic("credit_accounts_changed", ShopTopic("s1")))
	select {
	case <-orders:
		t.Fatal("account notification reached an order subscriber")
	case <-time.After(50 * time.Millisecond):
	}

	l.hub.Publish(channelTopic("orders_changed", ShopTopic("s1")))
	recv(t, orders)

	cancel()
	_, ok := <-orders
	assert.False(t, ok, "subscription closes with its context")
}

func TestFeedEmitsInitialAndOnSignal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var n atomic.Int32
	signals := make(chan struct{}, 1)
	feed := Feed(ctx, signals, func(context.Context) ([]int, error) {
		return []int{int(n.Add(1))}, nil
	}, discard)

	assert.Equal(t, []int{1}, recv(t, feed))
	signals <- struct{}{}
	assert.Equal(t, []int{2}, recv(t, feed))

	cancel()
	select {
	case _, ok := <-feed:
		if ok {
			// a value may race with cancellation; the next receive must close
			_, ok = <-feed
		}
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not close")
	}
}

func TestFeedSkipsLoadErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	signals := make(chan struct{}, 1)
	feed := Feed(ctx, signals, func(context.Context) ([]string, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("store down")
		}
		return []string{"ok"}, nil
	}, discard)

	signals <- struct{}{}
	assert.Equal(t, []string{"ok"}, recv(t, feed))
}
