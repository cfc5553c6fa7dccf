// Package events is the channel between the engine and the realtime
// gateway. Every state-changing operation publishes exactly one named
// event; delivery is at-least-once and consumers tolerate duplicate ticks.
package events

import (
	"context"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Event channel names. The common prefix is what the redis bus
// pattern-subscribes on.
const (
	Prefix = "events:"

	PollCreated        = Prefix + "poll:created"
	PollResults        = Prefix + "poll:results-updated"
	PollEnded          = Prefix + "poll:ended"
	TimerTick          = Prefix + "timer:tick"
	RosterUpdated      = Prefix + "roster:updated"
	ParticipantRemoved = Prefix + "participant:removed"
	ChatMessage        = Prefix + "chat:message"
)

// Event is one published message, payload already encoded.
type Event struct {
	Name    string
	Payload []byte
}

// Tick is the payload of TimerTick.
type Tick struct {
	PollID        string `json:"pollId"`
	RemainingTime int32  `json:"remainingTime"`
}

// Removal is the payload of ParticipantRemoved.
type Removal struct {
	SessionID string `json:"sessionId"`
}

// Bus publishes named events to every subscriber.
type Bus interface {
	Publish(ctx context.Context, name string, payload interface{}) error
	// Subscribe delivers all events until ctx is cancelled.
	Subscribe(ctx context.Context) <-chan Event
}
