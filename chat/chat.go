// Package chat is the rolling message feed shown next to the poll.
package chat

import (
	"context"
	"time"

	"github.com/classpoll/api.classpoll.dev/events"
	"github.com/classpoll/api.classpoll.dev/model"
	"github.com/classpoll/api.classpoll.dev/store"
	"github.com/google/uuid"

	log "github.com/sirupsen/logrus"
)

const maxContentLen = 500

type Service struct {
	store   store.ChatStore
	bus     events.Bus
	backlog int
}

func NewService(st store.ChatStore, bus events.Bus, backlog int) *Service {
	if backlog <= 0 {
		backlog = 50
	}
	return &Service{store: st, bus: bus, backlog: backlog}
}

// Send appends a message and broadcasts it to every connected party.
func (s *Service) Send(ctx context.Context, senderID, senderName, senderRole, content string) (*model.ChatMessage, error) {
	if senderID == "" || senderName == "" {
		return nil, model.Reject(model.ReasonInvalidParticipant, "sender identification required")
	}
	if content == "" || len(content) > maxContentLen {
		return nil, model.Reject(model.ReasonInvalidInput, "message must be between 1 and 500 characters")
	}

	msg := &model.ChatMessage{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		SenderName: senderName,
		SenderRole: senderRole,
		Content:    content,
		SentAt:     time.Now(),
	}
	if err := s.store.Append(ctx, msg); err != nil {
		return nil, err
	}

	if err := s.bus.Publish(ctx, events.ChatMessage, msg); err != nil {
		log.Errorf("events, err=%v", err)
	}
	return msg, nil
}

// Recent returns the replay backlog in chronological order.
func (s *Service) Recent(ctx context.Context) ([]*model.ChatMessage, error) {
	return s.store.Recent(ctx, s.backlog)
}
