package chat

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/classpoll/api.classpoll.dev/events"
	"github.com/classpoll/api.classpoll.dev/model"
	"github.com/classpoll/api.classpoll.dev/store"
)

func TestSendValidates(t *testing.T) {
	stores := store.NewMemory()
	svc := NewService(stores.Chat, events.NewLocal(), 50)
	ctx := context.Background()

	cases := []struct {
		name, senderID, content string
		code                    model.Reason
	}{
		{"missing sender", "", "hi", model.ReasonInvalidParticipant},
		{"empty content", "s1", "", model.ReasonInvalidInput},
	}
	for _, tc := range cases {
		_, err := svc.Send(ctx, tc.senderID, "Sam", "student", tc.content)
		rej := &model.Rejection{}
		if !errors.As(err, &rej) || rej.Code != tc.code {
			t.Errorf("%s: expected %s, got %v", tc.name, tc.code, err)
		}
	}

	msg, err := svc.Send(ctx, "s1", "Sam", "student", "hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.ID == "" || msg.SentAt.IsZero() {
		t.Errorf("message missing id or timestamp: %+v", msg)
	}
}

func TestRecentHonorsBacklog(t *testing.T) {
	stores := store.NewMemory()
	svc := NewService(stores.Chat, events.NewLocal(), 3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := svc.Send(ctx, "s1", "Sam", "student", fmt.Sprintf("msg %d", i)); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	recent, err := svc.Recent(ctx)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(recent))
	}
	if recent[0].Content != "msg 2" || recent[2].Content != "msg 4" {
		t.Errorf("wrong window: %q .. %q", recent[0].Content, recent[2].Content)
	}
}
