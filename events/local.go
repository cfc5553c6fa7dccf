package events

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

type localBus struct {
	mtx  sync.Mutex
	subs []chan Event
}

// NewLocal builds an in-process bus for the memory storage backend and
// for tests. Same contract as the redis bus, no broker round trip.
func NewLocal() Bus {
	return &localBus{}
}

func (b *localBus) Publish(_ context.Context, name string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.mtx.Lock()
	defer b.mtx.Unlock()
	for _, sub := range b.subs {
		select {
		case sub <- Event{Name: name, Payload: data}:
		default:
			// Slow consumer; drop rather than stall publishers.
			log.Warnf("events, dropped=%s", name)
		}
	}
	return nil
}

func (b *localBus) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 64)

	b.mtx.Lock()
	b.subs = append(b.subs, ch)
	b.mtx.Unlock()

	go func() {
		<-ctx.Done()
		b.mtx.Lock()
		for i, sub := range b.subs {
			if sub == ch {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				break
			}
		}
		b.mtx.Unlock()
		close(ch)
	}()

	return ch
}
