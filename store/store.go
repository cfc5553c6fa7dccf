// Package store defines the durable-storage contracts of the engine and
// ships two implementations: mongodb for production and an in-memory one
// for tests and the memory storage backend.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/classpoll/api.classpoll.dev/model"
)

var (
	// ErrConstraintViolation is returned by VoteStore.Create when a ballot
	// for the same (poll, session) pair already exists. This is the
	// authoritative one-vote guarantee; callers translate it to ALREADY_VOTED.
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrRemoved is returned by SessionStore.Upsert when the session id was
	// previously kicked. The flag is permanent.
	ErrRemoved = errors.New("session removed")
)

type PollStore interface {
	Create(ctx context.Context, poll *model.Poll) error
	FindActive(ctx context.Context) (*model.Poll, error)
	FindByID(ctx context.Context, id string) (*model.Poll, error)
	// UpdateActivation flips the active flag atomically. Deactivation only
	// matches a currently active poll and returns (nil, nil) when the poll
	// was already ended, which makes concurrent end transitions first-wins.
	UpdateActivation(ctx context.Context, id string, active bool, endedAt *time.Time) (*model.Poll, error)
	DeactivateAll(ctx context.Context, endedAt time.Time) error
	ListEnded(ctx context.Context, limit int) ([]*model.Poll, error)
}

type VoteStore interface {
	Create(ctx context.Context, ballot *model.Ballot) error
	FindOne(ctx context.Context, pollID, sessionID string) (*model.Ballot, error)
	FindAllForPoll(ctx context.Context, pollID string) ([]*model.Ballot, error)
}

type SessionStore interface {
	// Upsert registers a session or, for a known non-removed session,
	// replaces its connection handle and display name. Idempotent.
	Upsert(ctx context.Context, sessionID, name, connID string) (*model.Participant, error)
	FindBySession(ctx context.Context, sessionID string) (*model.Participant, error)
	MarkRemoved(ctx context.Context, sessionID string) (*model.Participant, error)
	ListActive(ctx context.Context) ([]*model.Participant, error)
}

type ChatStore interface {
	Append(ctx context.Context, msg *model.ChatMessage) error
	// Recent returns at most limit messages in chronological order.
	Recent(ctx context.Context, limit int) ([]*model.ChatMessage, error)
}

// Stores bundles the four durable collaborators for wiring.
type Stores struct {
	Polls    PollStore
	Votes    VoteStore
	Sessions SessionStore
	Chat     ChatStore
}
