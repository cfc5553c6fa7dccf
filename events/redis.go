package events

import (
	"context"

	"github.com/go-redis/redis/v8"

	log "github.com/sirupsen/logrus"
)

type redisBus struct {
	client *redis.Client
}

// NewRedis builds the production bus on redis pub/sub. Publishing and
// subscribing go through the broker even within one process, so every
// gateway instance sees every event.
func NewRedis(client *redis.Client) Bus {
	return &redisBus{client: client}
}

func (b *redisBus) Publish(ctx context.Context, name string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, name, data).Err()
}

func (b *redisBus) Subscribe(ctx context.Context) <-chan Event {
	pubsub := b.client.PSubscribe(ctx, Prefix+"*")
	out := make(chan Event, 64)

	go func() {
		defer close(out)
		defer func() {
			if err := pubsub.Close(); err != nil {
				log.Errorf("redis, err=%v", err)
			}
		}()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				out <- Event{Name: msg.Channel, Payload: []byte(msg.Payload)}
			}
		}
	}()

	return out
}
