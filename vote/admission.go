// Package vote is the admission gate for ballots: it decides whether one
// submission is committed, under the one-vote-per-participant-per-poll
// guarantee.
package vote

import (
	"context"
	"sync"
	"time"

	"github.com/classpoll/api.classpoll.dev/model"
	"github.com/classpoll/api.classpoll.dev/poll"
	"github.com/classpoll/api.classpoll.dev/store"
	"github.com/google/uuid"
)

// Admission validates and commits ballots. The in-flight key set gives
// sub-millisecond rejection of double-submits without a storage round
// trip; the store's unique constraint remains the authority, so admission
// is correct even if this process restarts mid-flight.
type Admission struct {
	mtx      sync.Mutex
	inflight map[string]struct{}

	polls *poll.Manager
	votes store.VoteStore
}

func NewAdmission(polls *poll.Manager, votes store.VoteStore) *Admission {
	return &Admission{
		inflight: map[string]struct{}{},
		polls:    polls,
		votes:    votes,
	}
}

func admissionKey(pollID, sessionID string) string {
	return pollID + ":" + sessionID
}

// tryAcquire claims the key or fails fast. No queueing, no blocking.
func (a *Admission) tryAcquire(key string) bool {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	if _, held := a.inflight[key]; held {
		return false
	}
	a.inflight[key] = struct{}{}
	return true
}

func (a *Admission) release(key string) {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	delete(a.inflight, key)
}

// Submit runs one ballot through the admission pipeline and, on success,
// broadcasts the updated tally. All rejections come back as structured
// results; nothing here is fatal to other participants.
func (a *Admission) Submit(ctx context.Context, pollID, optionID, sessionID, name string) (*model.Ballot, error) {
	key := admissionKey(pollID, sessionID)
	if !a.tryAcquire(key) {
		return nil, model.Reject(model.ReasonVoteInProgress, "your vote is already being processed")
	}
	// Released on every exit path, including panics further down.
	defer a.release(key)

	if sessionID == "" || name == "" {
		return nil, model.Reject(model.ReasonInvalidParticipant, "participant identification required")
	}

	active, err := a.polls.Active(ctx)
	if err != nil {
		return nil, err
	}
	if active == nil {
		return nil, model.Reject(model.ReasonNoActivePoll, "no active poll found")
	}
	if active.ID != pollID {
		return nil, model.Reject(model.ReasonPollNotActive, "this poll is no longer active")
	}
	if a.polls.IsExpired(active) {
		return nil, model.Reject(model.ReasonPollExpired, "this poll has expired")
	}

	valid := false
	for _, opt := range active.Options {
		if opt.ID == optionID {
			valid = true
			break
		}
	}
	if !valid {
		return nil, model.Reject(model.ReasonInvalidOption, "that option does not belong to this poll")
	}

	existing, err := a.votes.FindOne(ctx, pollID, sessionID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, model.Reject(model.ReasonAlreadyVoted, "you have already voted on this poll")
	}

	ballot := &model.Ballot{
		ID:          uuid.NewString(),
		PollID:      pollID,
		OptionID:    optionID,
		SessionID:   sessionID,
		StudentName: name,
		CastAt:      time.Now(),
	}
	if err = a.votes.Create(ctx, ballot); err != nil {
		if err == store.ErrConstraintViolation {
			// A true race slipped past the in-flight set (e.g. a restart
			// cleared it); the durable constraint caught it.
			return nil, model.Reject(model.ReasonAlreadyVoted, "you have already voted on this poll")
		}
		return nil, err
	}

	a.polls.PublishResults(ctx, pollID)
	return ballot, nil
}

// HasVoted reports whether the session already holds a ballot for the poll.
func (a *Admission) HasVoted(ctx context.Context, pollID, sessionID string) (bool, error) {
	ballot, err := a.votes.FindOne(ctx, pollID, sessionID)
	if err != nil {
		return false, err
	}
	return ballot != nil, nil
}
