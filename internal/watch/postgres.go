package watch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Notify queues a NOTIFY inside tx so listeners only hear about committed
// writes.
func Notify(ctx context.Context, tx pgx.Tx, channel string, topics ...Topic) error {
	for _, t := range topics {
		if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, channel, string(t)); err != nil {
			return fmt.Errorf("notify %s: %w", channel, err)
		}
	}
	return nil
}

// channelTopic namespaces a payload by channel; orders and accounts both
// notify "shop:<id>".
func channelTopic(channel string, topic Topic) Topic {
	return Topic(channel + "|" + string(topic))
}

// Listener holds a single connection in LISTEN for every channel and fans
// notifications out through a Hub. Subscribers never hold pool connections.
type Listener struct {
	pool     *pgxpool.Pool
	channels []string
	hub      *Hub
	log      *slog.Logger
	retry    time.Duration
}

func NewListener(pool *pgxpool.Pool, log *slog.Logger, channels ...string) *Listener {
	return &Listener{pool: pool, channels: channels, hub: NewHub(), log: log, retry: 2 * time.Second}
}

// Subscribe signals whenever a notification on channel carries topic, until
// ctx ends.
func (l *Listener) Subscribe(ctx context.Context, channel string, topic Topic) <-chan struct{} {
	return l.hub.SubscribeContext(ctx, channelTopic(channel, topic))
}

// Run keeps the LISTEN connection up until ctx ends, reconnecting after
// failures.
func (l *Listener) Run(ctx context.Context) {
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		l.log.Warn("pg_listen_stopped", "channels", l.channels, "err", err, "retry_in", l.retry)
		select {
		case <-ctx.Done():
			return
		case <-time.After(l.retry):
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen conn: %w", err)
	}
	defer func() {
		// a connection still in LISTEN must not go back to the pool
		_ = conn.Conn().Close(context.Background())
		conn.Release()
	}()
	for _, ch := range l.channels {
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ch}.Sanitize()); err != nil {
			return fmt.Errorf("listen %s: %w", ch, err)
		}
	}
	// writes committed while disconnected were not heard
	l.hub.PublishAll()
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		l.hub.Publish(channelTopic(n.Channel, Topic(n.Payload)))
	}
}
