package vote

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/classpoll/api.classpoll.dev/events"
	"github.com/classpoll/api.classpoll.dev/model"
	"github.com/classpoll/api.classpoll.dev/poll"
	"github.com/classpoll/api.classpoll.dev/store"
)

func newTestAdmission() (*Admission, *poll.Manager, *store.Stores) {
	stores := store.NewMemory()
	polls := poll.NewManager(stores.Polls, stores.Votes, events.NewLocal())
	return NewAdmission(polls, stores.Votes), polls, stores
}

func rejectionCode(t *testing.T, err error) model.Reason {
	t.Helper()
	rej := &model.Rejection{}
	if !errors.As(err, &rej) {
		t.Fatalf("expected rejection, got %v", err)
	}
	return rej.Code
}

func TestSubmitPipelineRejections(t *testing.T) {
	a, polls, _ := newTestAdmission()
	ctx := context.Background()

	if _, err := a.Submit(ctx, "p1", "a", "s1", "Sam"); rejectionCode(t, err) != model.ReasonNoActivePoll {
		t.Fatalf("expected NO_ACTIVE_POLL, got %v", err)
	}

	created, err := polls.Create(ctx, "q?", []model.Option{{ID: "a", Text: "A"}, {ID: "b", Text: "B"}}, 60)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := a.Submit(ctx, created.ID, "a", "", "Sam"); rejectionCode(t, err) != model.ReasonInvalidParticipant {
		t.Fatalf("expected INVALID_PARTICIPANT, got %v", err)
	}
	if _, err := a.Submit(ctx, "other", "a", "s1", "Sam"); rejectionCode(t, err) != model.ReasonPollNotActive {
		t.Fatalf("expected POLL_NOT_ACTIVE, got %v", err)
	}
	if _, err := a.Submit(ctx, created.ID, "z", "s1", "Sam"); rejectionCode(t, err) != model.ReasonInvalidOption {
		t.Fatalf("expected INVALID_OPTION, got %v", err)
	}

	ballot, err := a.Submit(ctx, created.ID, "a", "s1", "Sam")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if ballot.PollID != created.ID || ballot.OptionID != "a" || ballot.SessionID != "s1" {
		t.Fatalf("wrong ballot: %+v", ballot)
	}

	if _, err := a.Submit(ctx, created.ID, "b", "s1", "Sam"); rejectionCode(t, err) != model.ReasonAlreadyVoted {
		t.Fatalf("expected ALREADY_VOTED, got %v", err)
	}

	voted, err := a.HasVoted(ctx, created.ID, "s1")
	if err != nil || !voted {
		t.Fatalf("expected has-voted, got %v (%v)", voted, err)
	}
}

func TestSubmitExpiredPoll(t *testing.T) {
	a, _, stores := newTestAdmission()
	ctx := context.Background()

	// Persisted directly so the window can already be over.
	expired := &model.Poll{
		ID:       "p-old",
		Question: "q?",
		Options:  []model.Option{{ID: "a", Text: "A"}, {ID: "b", Text: "B"}},
		Duration: 5, StartedAt: time.Now().Add(-10 * time.Second), IsActive: true,
	}
	if err := stores.Polls.Create(ctx, expired); err != nil {
		t.Fatalf("seed poll: %v", err)
	}

	if _, err := a.Submit(ctx, "p-old", "a", "s1", "Sam"); rejectionCode(t, err) != model.ReasonPollExpired {
		t.Fatalf("expected POLL_EXPIRED, got %v", err)
	}
}

// One participant hammering the same poll concurrently commits exactly one
// ballot; every other attempt is rejected as already-voted or in-progress.
func TestConcurrentSubmissionsSameParticipant(t *testing.T) {
	a, polls, stores := newTestAdmission()
	ctx := context.Background()

	created, err := polls.Create(ctx, "q?", []model.Option{{ID: "a", Text: "A"}, {ID: "b", Text: "B"}}, 60)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var success, rejected int32
	wg := sync.WaitGroup{}
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.Submit(ctx, created.ID, "a", "s1", "Sam")
			if err == nil {
				atomic.AddInt32(&success, 1)
				return
			}
			rej := &model.Rejection{}
			if errors.As(err, &rej) &&
				(rej.Code == model.ReasonAlreadyVoted || rej.Code == model.ReasonVoteInProgress) {
				atomic.AddInt32(&rejected, 1)
			}
		}()
	}
	wg.Wait()

	if success != 1 {
		t.Errorf("expected exactly 1 committed ballot, got %d", success)
	}
	if rejected != 19 {
		t.Errorf("expected 19 structured rejections, got %d", rejected)
	}

	ballots, err := stores.Votes.FindAllForPoll(ctx, created.ID)
	if err != nil {
		t.Fatalf("find ballots: %v", err)
	}
	if len(ballots) != 1 {
		t.Errorf("expected 1 persisted ballot, got %d", len(ballots))
	}
}

func TestDistinctParticipantsAllAdmitted(t *testing.T) {
	a, polls, _ := newTestAdmission()
	ctx := context.Background()

	created, err := polls.Create(ctx, "q?", []model.Option{{ID: "a", Text: "A"}, {ID: "b", Text: "B"}}, 60)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var success int32
	wg := sync.WaitGroup{}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			session := "s" + string(rune('0'+n))
			if _, err := a.Submit(ctx, created.ID, "b", session, "Voter"); err == nil {
				atomic.AddInt32(&success, 1)
			}
		}(i)
	}
	wg.Wait()

	if success != 10 {
		t.Errorf("expected all 10 participants admitted, got %d", success)
	}
}

// blindVotes hides existing ballots from the pre-check so the durable
// constraint is the only guard, as after a restart cleared the lock set.
type blindVotes struct {
	store.VoteStore
}

func (b *blindVotes) FindOne(context.Context, string, string) (*model.Ballot, error) {
	return nil, nil
}

func TestConstraintViolationTranslatesToAlreadyVoted(t *testing.T) {
	stores := store.NewMemory()
	polls := poll.NewManager(stores.Polls, stores.Votes, events.NewLocal())
	a := NewAdmission(polls, &blindVotes{VoteStore: stores.Votes})
	ctx := context.Background()

	created, err := polls.Create(ctx, "q?", []model.Option{{ID: "a", Text: "A"}, {ID: "b", Text: "B"}}, 60)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err = a.Submit(ctx, created.ID, "a", "s1", "Sam"); err != nil {
		t.Fatalf("first submit: %v", err)
	}

	if _, err := a.Submit(ctx, created.ID, "b", "s1", "Sam"); rejectionCode(t, err) != model.ReasonAlreadyVoted {
		t.Fatalf("expected ALREADY_VOTED from constraint, got %v", err)
	}
}
