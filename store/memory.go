package store

import (
	"context"
	"sync"
	"time"

	"github.com/classpoll/api.classpoll.dev/model"
)

// NewMemory builds stores backed by process memory. Used by the memory
// storage backend and by tests; semantics match the mongo implementation,
// including the unique ballot constraint.
func NewMemory() *Stores {
	return &Stores{
		Polls:    &memPolls{polls: map[string]*model.Poll{}},
		Votes:    &memVotes{ballots: map[string]*model.Ballot{}},
		Sessions: &memSessions{participants: map[string]*model.Participant{}},
		Chat:     &memChat{},
	}
}

type memPolls struct {
	mtx   sync.Mutex
	polls map[string]*model.Poll
	order []string
}

func (s *memPolls) Create(_ context.Context, poll *model.Poll) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	cp := *poll
	s.polls[poll.ID] = &cp
	s.order = append(s.order, poll.ID)
	return nil
}

func (s *memPolls) FindActive(_ context.Context) (*model.Poll, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	for _, p := range s.polls {
		if p.IsActive {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memPolls) FindByID(_ context.Context, id string) (*model.Poll, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	p, ok := s.polls[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *memPolls) UpdateActivation(_ context.Context, id string, active bool, endedAt *time.Time) (*model.Poll, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	p, ok := s.polls[id]
	if !ok || p.IsActive == active {
		return nil, nil
	}
	p.IsActive = active
	if endedAt != nil {
		t := *endedAt
		p.EndedAt = &t
	}
	cp := *p
	return &cp, nil
}

func (s *memPolls) DeactivateAll(_ context.Context, endedAt time.Time) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	for _, p := range s.polls {
		if p.IsActive {
			p.IsActive = false
			t := endedAt
			p.EndedAt = &t
		}
	}
	return nil
}

func (s *memPolls) ListEnded(_ context.Context, limit int) ([]*model.Poll, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	ended := []*model.Poll{}
	for i := len(s.order) - 1; i >= 0 && len(ended) < limit; i-- {
		p := s.polls[s.order[i]]
		if !p.IsActive {
			cp := *p
			ended = append(ended, &cp)
		}
	}
	return ended, nil
}

type memVotes struct {
	mtx     sync.Mutex
	ballots map[string]*model.Ballot
	order   []string
}

func voteKey(pollID, sessionID string) string {
	return pollID + ":" + sessionID
}

func (s *memVotes) Create(_ context.Context, ballot *model.Ballot) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	key := voteKey(ballot.PollID, ballot.SessionID)
	if _, ok := s.ballots[key]; ok {
		return ErrConstraintViolation
	}
	cp := *ballot
	s.ballots[key] = &cp
	s.order = append(s.order, key)
	return nil
}

func (s *memVotes) FindOne(_ context.Context, pollID, sessionID string) (*model.Ballot, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	b, ok := s.ballots[voteKey(pollID, sessionID)]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (s *memVotes) FindAllForPoll(_ context.Context, pollID string) ([]*model.Ballot, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	ballots := []*model.Ballot{}
	for _, key := range s.order {
		b := s.ballots[key]
		if b.PollID == pollID {
			cp := *b
			ballots = append(ballots, &cp)
		}
	}
	return ballots, nil
}

type memSessions struct {
	mtx          sync.Mutex
	participants map[string]*model.Participant
	order        []string
}

func (s *memSessions) Upsert(_ context.Context, sessionID, name, connID string) (*model.Participant, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if p, ok := s.participants[sessionID]; ok {
		if p.Kicked {
			return nil, ErrRemoved
		}
		p.Name = name
		p.ConnID = connID
		cp := *p
		return &cp, nil
	}
	p := &model.Participant{
		SessionID: sessionID,
		Name:      name,
		ConnID:    connID,
		JoinedAt:  time.Now(),
	}
	s.participants[sessionID] = p
	s.order = append(s.order, sessionID)
	cp := *p
	return &cp, nil
}

func (s *memSessions) FindBySession(_ context.Context, sessionID string) (*model.Participant, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	p, ok := s.participants[sessionID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *memSessions) MarkRemoved(_ context.Context, sessionID string) (*model.Participant, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	p, ok := s.participants[sessionID]
	if !ok {
		return nil, nil
	}
	p.Kicked = true
	cp := *p
	return &cp, nil
}

func (s *memSessions) ListActive(_ context.Context) ([]*model.Participant, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	participants := []*model.Participant{}
	for _, id := range s.order {
		p := s.participants[id]
		if !p.Kicked {
			cp := *p
			participants = append(participants, &cp)
		}
	}
	return participants, nil
}

type memChat struct {
	mtx      sync.Mutex
	messages []*model.ChatMessage
}

func (s *memChat) Append(_ context.Context, msg *model.ChatMessage) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	cp := *msg
	s.messages = append(s.messages, &cp)
	return nil
}

func (s *memChat) Recent(_ context.Context, limit int) ([]*model.ChatMessage, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	start := 0
	if len(s.messages) > limit {
		start = len(s.messages) - limit
	}
	out := make([]*model.ChatMessage, 0, len(s.messages)-start)
	for _, m := range s.messages[start:] {
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}
