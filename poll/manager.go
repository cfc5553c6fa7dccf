// Package poll owns the poll lifecycle: creation, activation, expiry and
// result aggregation. Side effects are confined to the poll store and the
// event bus; it does no network I/O of its own.
package poll

import (
	"context"
	"math"
	"time"

	"github.com/classpoll/api.classpoll.dev/events"
	"github.com/classpoll/api.classpoll.dev/model"
	"github.com/classpoll/api.classpoll.dev/store"
	"github.com/google/uuid"

	log "github.com/sirupsen/logrus"
)

const (
	maxQuestionLen = 200
	maxOptionLen   = 100
	maxOptions     = 15
	minDuration    = 5
	maxDuration    = 3600
)

type Manager struct {
	polls store.PollStore
	votes store.VoteStore
	bus   events.Bus
}

func NewManager(polls store.PollStore, votes store.VoteStore, bus events.Bus) *Manager {
	return &Manager{polls: polls, votes: votes, bus: bus}
}

// Create force-ends any currently active poll, then starts a new active
// one. At most one poll is ever active.
func (m *Manager) Create(ctx context.Context, question string, opts []model.Option, duration int32) (*model.Poll, error) {
	if question == "" || len(question) > maxQuestionLen {
		return nil, model.Reject(model.ReasonInvalidQuestion, "question must be between 1 and 200 characters")
	}
	if len(opts) < 2 || len(opts) > maxOptions {
		return nil, model.Reject(model.ReasonInvalidOptions, "a poll needs between 2 and 15 options")
	}
	seen := map[string]struct{}{}
	for i := range opts {
		if opts[i].ID == "" {
			opts[i].ID = uuid.NewString()
		}
		if opts[i].Text == "" || len(opts[i].Text) > maxOptionLen {
			return nil, model.Reject(model.ReasonInvalidOptions, "option text must be between 1 and 100 characters")
		}
		if _, ok := seen[opts[i].ID]; ok {
			return nil, model.Reject(model.ReasonInvalidOptions, "option ids must be unique")
		}
		seen[opts[i].ID] = struct{}{}
	}
	if duration < minDuration || duration > maxDuration {
		return nil, model.Reject(model.ReasonInvalidDuration, "duration must be between 5 and 3600 seconds")
	}

	now := time.Now()
	if err := m.polls.DeactivateAll(ctx, now); err != nil {
		return nil, err
	}

	poll := &model.Poll{
		ID:        uuid.NewString(),
		Question:  question,
		Options:   opts,
		Duration:  duration,
		StartedAt: now,
		IsActive:  true,
	}
	if err := m.polls.Create(ctx, poll); err != nil {
		return nil, err
	}

	m.publishResults(ctx, events.PollCreated, poll)
	return poll, nil
}

// End transitions a poll to ended. Idempotent: whichever caller commits
// the transition first emits the terminal event, later calls are no-ops.
func (m *Manager) End(ctx context.Context, pollID string) (*model.Poll, error) {
	now := time.Now()
	ended, err := m.polls.UpdateActivation(ctx, pollID, false, &now)
	if err != nil {
		return nil, err
	}
	if ended == nil {
		poll, err := m.polls.FindByID(ctx, pollID)
		if err != nil {
			return nil, err
		}
		if poll == nil {
			return nil, model.Reject(model.ReasonPollNotFound, "we don't know what poll that is")
		}
		// Already ended elsewhere; the terminal event was theirs to emit.
		return poll, nil
	}

	m.publishResults(ctx, events.PollEnded, ended)
	return ended, nil
}

// IsExpired reports whether the poll's window has passed.
func (m *Manager) IsExpired(poll *model.Poll) bool {
	return !time.Now().Before(poll.StartedAt.Add(time.Duration(poll.Duration) * time.Second))
}

// RemainingTime is the number of whole seconds left in the poll's window.
func RemainingTime(poll *model.Poll, now time.Time) int32 {
	end := poll.StartedAt.Add(time.Duration(poll.Duration) * time.Second)
	remaining := int32(math.Floor(end.Sub(now).Seconds()))
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Active returns the currently active poll, or nil.
func (m *Manager) Active(ctx context.Context) (*model.Poll, error) {
	return m.polls.FindActive(ctx)
}

// WithResults loads a poll and computes its tally and remaining time from
// the current ballot set.
func (m *Manager) WithResults(ctx context.Context, pollID string) (*model.PollResults, error) {
	poll, err := m.polls.FindByID(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if poll == nil {
		return nil, model.Reject(model.ReasonPollNotFound, "we don't know what poll that is")
	}
	return m.results(ctx, poll)
}

// ActiveWithResults returns the active poll with its tally, or nil when no
// poll is active.
func (m *Manager) ActiveWithResults(ctx context.Context) (*model.PollResults, error) {
	poll, err := m.polls.FindActive(ctx)
	if err != nil || poll == nil {
		return nil, err
	}
	return m.results(ctx, poll)
}

// LatestWithResults returns the active poll, or failing that the most
// recently ended one. Nil when no poll has ever run. This is what a fresh
// connection is caught up with.
func (m *Manager) LatestWithResults(ctx context.Context) (*model.PollResults, error) {
	poll, err := m.polls.FindActive(ctx)
	if err != nil {
		return nil, err
	}
	if poll == nil {
		ended, err := m.polls.ListEnded(ctx, 1)
		if err != nil {
			return nil, err
		}
		if len(ended) == 0 {
			return nil, nil
		}
		poll = ended[0]
	}
	return m.results(ctx, poll)
}

// History returns the most recently ended polls with their tallies.
func (m *Manager) History(ctx context.Context, limit int) ([]*model.PollResults, error) {
	if limit <= 0 {
		limit = 20
	}
	polls, err := m.polls.ListEnded(ctx, limit)
	if err != nil {
		return nil, err
	}
	history := make([]*model.PollResults, 0, len(polls))
	for _, p := range polls {
		res, err := m.results(ctx, p)
		if err != nil {
			return nil, err
		}
		history = append(history, res)
	}
	return history, nil
}

func (m *Manager) results(ctx context.Context, poll *model.Poll) (*model.PollResults, error) {
	ballots, err := m.votes.FindAllForPoll(ctx, poll.ID)
	if err != nil {
		return nil, err
	}

	counts := map[string]int{}
	for _, b := range ballots {
		counts[b.OptionID]++
	}

	total := len(ballots)
	results := make([]model.OptionResult, len(poll.Options))
	for i, opt := range poll.Options {
		// Each percentage is rounded independently; the set may not sum
		// to exactly 100.
		pct := 0
		if total > 0 {
			pct = int(math.Round(float64(counts[opt.ID]) / float64(total) * 100))
		}
		results[i] = model.OptionResult{
			OptionID:   opt.ID,
			Text:       opt.Text,
			Votes:      counts[opt.ID],
			Percentage: pct,
			IsCorrect:  opt.IsCorrect,
		}
	}

	return &model.PollResults{
		ID:            poll.ID,
		Question:      poll.Question,
		Options:       poll.Options,
		Duration:      poll.Duration,
		StartedAt:     poll.StartedAt,
		EndedAt:       poll.EndedAt,
		IsActive:      poll.IsActive,
		Results:       results,
		TotalVotes:    total,
		RemainingTime: RemainingTime(poll, time.Now()),
	}, nil
}

// PublishResults broadcasts the poll's current tally to every connected
// party. Used after each committed vote.
func (m *Manager) PublishResults(ctx context.Context, pollID string) {
	res, err := m.WithResults(ctx, pollID)
	if err != nil {
		log.Errorf("poll, err=%v", err)
		return
	}
	if err = m.bus.Publish(ctx, events.PollResults, res); err != nil {
		log.Errorf("events, err=%v", err)
	}
}

func (m *Manager) publishResults(ctx context.Context, name string, poll *model.Poll) {
	res, err := m.results(ctx, poll)
	if err != nil {
		log.Errorf("poll, err=%v", err)
		return
	}
	if err = m.bus.Publish(ctx, name, res); err != nil {
		log.Errorf("events, err=%v", err)
	}
}
