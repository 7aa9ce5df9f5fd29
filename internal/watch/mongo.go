package watch

import (
	"context"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ChangeStream signals for every change event matching pipeline on coll.
func ChangeStream(ctx context.Context, coll *mongo.Collection, pipeline mongo.Pipeline, log *slog.Logger, opts ...*options.ChangeStreamOptions) (<-chan struct{}, error) {
	cs, err := coll.Watch(ctx, pipeline, opts...)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", coll.Name(), err)
	}
	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer cs.Close(context.Background())
		for cs.Next(ctx) {
			select {
			case out <- struct{}{}:
			default:
			}
		}
		if err := cs.Err(); err != nil && ctx.Err() == nil {
			log.Warn("change_stream_stopped", "collection", coll.Name(), "err", err)
		}
	}()
	return out, nil
}
