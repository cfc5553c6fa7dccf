// Package timer drives the single server-side countdown. The server clock
// here is the only source of truth for poll expiry; clients merely render
// the ticks they receive.
package timer

import (
	"context"
	"sync"
	"time"

	"github.com/classpoll/api.classpoll.dev/events"
	"github.com/classpoll/api.classpoll.dev/poll"

	log "github.com/sirupsen/logrus"
)

type Authority struct {
	mtx     sync.Mutex
	current *countdown

	polls *poll.Manager
	bus   events.Bus
}

type countdown struct {
	pollID string
	stop   chan struct{}
	once   sync.Once
}

func (c *countdown) cancel() {
	c.once.Do(func() { close(c.stop) })
}

func NewAuthority(polls *poll.Manager, bus events.Bus) *Authority {
	return &Authority{polls: polls, bus: bus}
}

// Start replaces any running countdown with one for the given poll. The
// previous countdown is cancelled before the new one begins, so two timers
// never tick at once.
func (a *Authority) Start(pollID string, duration int32, startedAt time.Time) {
	expiry := startedAt.Add(time.Duration(duration) * time.Second)

	a.mtx.Lock()
	if a.current != nil {
		a.current.cancel()
	}
	cd := &countdown{pollID: pollID, stop: make(chan struct{})}
	a.current = cd
	a.mtx.Unlock()

	go a.run(cd, expiry)
}

// Stop cancels the running countdown, if any. Used at shutdown.
func (a *Authority) Stop() {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	if a.current != nil {
		a.current.cancel()
		a.current = nil
	}
}

// Resume reconstructs the countdown for a persisted active poll after a
// restart, from the persisted start time rather than a fresh clock. An
// already-expired poll is closed immediately.
func (a *Authority) Resume(ctx context.Context) error {
	active, err := a.polls.Active(ctx)
	if err != nil {
		return err
	}
	if active == nil {
		return nil
	}
	if a.polls.IsExpired(active) {
		if _, err = a.polls.End(ctx, active.ID); err != nil {
			return err
		}
		return nil
	}
	log.Infof("timer, resuming poll=%s remaining=%ds", active.ID, poll.RemainingTime(active, time.Now()))
	a.Start(active.ID, active.Duration, active.StartedAt)
	return nil
}

func (a *Authority) run(cd *countdown, expiry time.Time) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-cd.stop:
			return
		case now := <-ticker.C:
			remaining := int32(expiry.Sub(now).Seconds())
			if remaining < 0 {
				remaining = 0
			}

			// Duplicate or late ticks are fine; consumers tolerate them.
			err := a.bus.Publish(context.Background(), events.TimerTick, events.Tick{
				PollID:        cd.pollID,
				RemainingTime: remaining,
			})
			if err != nil {
				log.Errorf("events, err=%v", err)
			}

			if remaining > 0 {
				continue
			}

			a.mtx.Lock()
			cd.cancel()
			if a.current == cd {
				a.current = nil
			}
			a.mtx.Unlock()

			// End is idempotent; if a presenter ended the poll first this
			// commits nothing and emits nothing.
			if _, err := a.polls.End(context.Background(), cd.pollID); err != nil {
				log.Errorf("timer, err=%v", err)
			}
			return
		}
	}
}
