package ws

import (
	"context"
	"testing"

	"github.com/classpoll/api.classpoll.dev/chat"
	"github.com/classpoll/api.classpoll.dev/events"
	"github.com/classpoll/api.classpoll.dev/model"
	"github.com/classpoll/api.classpoll.dev/poll"
	"github.com/classpoll/api.classpoll.dev/store"
	"github.com/classpoll/api.classpoll.dev/timer"
	"github.com/classpoll/api.classpoll.dev/vote"
)

func newTestGateway(t *testing.T) (*Gateway, *store.Stores, events.Bus) {
	t.Helper()
	stores := store.NewMemory()
	bus := events.NewLocal()
	polls := poll.NewManager(stores.Polls, stores.Votes, bus)
	votes := vote.NewAdmission(polls, stores.Votes)
	chatSvc := chat.NewService(stores.Chat, bus, 50)
	timers := timer.NewAuthority(polls, bus)
	t.Cleanup(timers.Stop)

	return NewGateway(NewHub(), polls, votes, stores.Sessions, chatSvc, timers, bus, 20), stores, bus
}

func request(t *testing.T, op string, payload interface{}) *Request {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &Request{Op: op, RequestID: "r1", Payload: data}
}

func TestDispatchUnknownOp(t *testing.T) {
	g, _, _ := newTestGateway(t)
	conn := &Conn{id: "c1"}

	ack, ok := g.dispatch(context.Background(), conn, request(t, "nope", nil)).(Ack)
	if !ok || ack.Success || ack.Code != model.ReasonInvalidInput {
		t.Fatalf("expected INVALID_INPUT ack, got %+v", ack)
	}
}

func TestRegisterIsIdempotentAcrossReconnects(t *testing.T) {
	g, stores, _ := newTestGateway(t)
	ctx := context.Background()

	first := &Conn{id: "c1"}
	ack, ok := g.dispatch(ctx, first, request(t, "student:register", map[string]string{
		"sessionId": "sess-1", "name": "Alice",
	})).(registerAck)
	if !ok || !ack.Success {
		t.Fatalf("first register failed: %+v", ack)
	}
	if first.session() != "sess-1" {
		t.Errorf("connection not bound to session")
	}

	// Refresh: same session id, new connection and display name.
	second := &Conn{id: "c2"}
	ack, ok = g.dispatch(ctx, second, request(t, "student:register", map[string]string{
		"sessionId": "sess-1", "name": "Alicia",
	})).(registerAck)
	if !ok || !ack.Success {
		t.Fatalf("re-register failed: %+v", ack)
	}
	if ack.Student == nil || ack.Student.Name != "Alicia" {
		t.Fatalf("expected latest name in ack, got %+v", ack.Student)
	}

	active, err := stores.Sessions.ListActive(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 1 || active[0].Name != "Alicia" || active[0].ConnID != "c2" {
		t.Fatalf("expected one participant with latest handle, got %+v", active)
	}
}

func TestRegisterAckCarriesVoteStatus(t *testing.T) {
	g, _, _ := newTestGateway(t)
	ctx := context.Background()
	conn := &Conn{id: "c1"}

	created, ok := g.dispatch(ctx, conn, request(t, "poll:create", map[string]interface{}{
		"question": "Q",
		"options":  []model.Option{{ID: "a", Text: "A"}, {ID: "b", Text: "B"}},
		"duration": 30,
	})).(pollAck)
	if !ok || !created.Success {
		t.Fatalf("create failed: %+v", created)
	}

	voted, ok := g.dispatch(ctx, conn, request(t, "vote:submit", map[string]string{
		"pollId": created.Poll.ID, "optionId": "a", "studentId": "sess-1", "studentName": "Alice",
	})).(Ack)
	if !ok || !voted.Success {
		t.Fatalf("vote failed: %+v", voted)
	}

	ack, ok := g.dispatch(ctx, conn, request(t, "student:register", map[string]string{
		"sessionId": "sess-1", "name": "Alice",
	})).(registerAck)
	if !ok || !ack.Success {
		t.Fatalf("register failed: %+v", ack)
	}
	if ack.ActivePoll == nil || ack.ActivePoll.ID != created.Poll.ID {
		t.Fatalf("ack missing active poll: %+v", ack)
	}
	if !ack.HasVoted {
		t.Error("returning voter not marked as having voted")
	}
}

func TestVoteFlowEndToEnd(t *testing.T) {
	g, _, _ := newTestGateway(t)
	ctx := context.Background()
	conn := &Conn{id: "c1"}

	created, ok := g.dispatch(ctx, conn, request(t, "poll:create", map[string]interface{}{
		"question": "Q",
		"options":  []model.Option{{ID: "a", Text: "A"}, {ID: "b", Text: "B"}},
		"duration": 30,
	})).(pollAck)
	if !ok || !created.Success {
		t.Fatalf("create failed: %+v", created)
	}

	voted, ok := g.dispatch(ctx, conn, request(t, "vote:submit", map[string]string{
		"pollId": created.Poll.ID, "optionId": "a", "studentId": "p1", "studentName": "P1",
	})).(Ack)
	if !ok || !voted.Success {
		t.Fatalf("vote failed: %+v", voted)
	}

	current, ok := g.dispatch(ctx, conn, request(t, "poll:getCurrent", map[string]string{
		"studentId": "p1",
	})).(currentAck)
	if !ok || !current.Success || current.Poll == nil {
		t.Fatalf("getCurrent failed: %+v", current)
	}
	if current.Poll.TotalVotes != 1 || !current.HasVoted {
		t.Fatalf("expected total 1 and hasVoted, got %+v", current)
	}
	if current.Poll.Results[0].Votes != 1 || current.Poll.Results[0].Percentage != 100 {
		t.Errorf("option a: got %d votes / %d%%", current.Poll.Results[0].Votes, current.Poll.Results[0].Percentage)
	}
	if current.Poll.Results[1].Votes != 0 || current.Poll.Results[1].Percentage != 0 {
		t.Errorf("option b: got %d votes / %d%%", current.Poll.Results[1].Votes, current.Poll.Results[1].Percentage)
	}

	again, ok := g.dispatch(ctx, conn, request(t, "vote:submit", map[string]string{
		"pollId": created.Poll.ID, "optionId": "b", "studentId": "p1", "studentName": "P1",
	})).(Ack)
	if !ok || again.Success || again.Code != model.ReasonAlreadyVoted {
		t.Fatalf("expected ALREADY_VOTED, got %+v", again)
	}

	checked, ok := g.dispatch(ctx, conn, request(t, "vote:check", map[string]string{
		"pollId": created.Poll.ID, "studentId": "p1",
	})).(votedAck)
	if !ok || !checked.Success || !checked.HasVoted {
		t.Fatalf("vote:check: %+v", checked)
	}
}

func TestKickPublishesRemovalAndRoster(t *testing.T) {
	g, _, bus := newTestGateway(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	conn := &Conn{id: "c1"}

	if ack, ok := g.dispatch(ctx, conn, request(t, "student:register", map[string]string{
		"sessionId": "sess-1", "name": "Alice",
	})).(registerAck); !ok || !ack.Success {
		t.Fatalf("register failed: %+v", ack)
	}

	ch := bus.Subscribe(ctx)

	kicked, ok := g.dispatch(ctx, conn, request(t, "student:kick", map[string]string{
		"sessionId": "sess-1",
	})).(Ack)
	if !ok || !kicked.Success {
		t.Fatalf("kick failed: %+v", kicked)
	}

	sawRemoval, sawRoster := false, false
	for i := 0; i < 2; i++ {
		select {
		case ev := <-ch:
			switch ev.Name {
			case events.ParticipantRemoved:
				removal := events.Removal{}
				if err := json.Unmarshal(ev.Payload, &removal); err != nil || removal.SessionID != "sess-1" {
					t.Fatalf("bad removal payload: %s (%v)", ev.Payload, err)
				}
				sawRemoval = true
			case events.RosterUpdated:
				sawRoster = true
			}
		default:
		}
	}
	if !sawRemoval || !sawRoster {
		t.Errorf("expected removal and roster events, got removal=%v roster=%v", sawRemoval, sawRoster)
	}

	unknown, ok := g.dispatch(ctx, conn, request(t, "student:kick", map[string]string{
		"sessionId": "ghost",
	})).(Ack)
	if !ok || unknown.Success || unknown.Code != model.ReasonParticipantNotFound {
		t.Fatalf("expected PARTICIPANT_NOT_FOUND, got %+v", unknown)
	}
}

func TestHistoryAck(t *testing.T) {
	g, _, _ := newTestGateway(t)
	ctx := context.Background()
	conn := &Conn{id: "c1"}

	for _, q := range []string{"one?", "two?"} {
		if ack, ok := g.dispatch(ctx, conn, request(t, "poll:create", map[string]interface{}{
			"question": q,
			"options":  []model.Option{{ID: "a", Text: "A"}, {ID: "b", Text: "B"}},
			"duration": 30,
		})).(pollAck); !ok || !ack.Success {
			t.Fatalf("create %s failed: %+v", q, ack)
		}
	}

	history, ok := g.dispatch(ctx, conn, request(t, "poll:history", map[string]int{})).(historyAck)
	if !ok || !history.Success {
		t.Fatalf("history failed: %+v", history)
	}
	// Only the first poll was force-ended by the second create.
	if len(history.Polls) != 1 || history.Polls[0].Question != "one?" {
		t.Fatalf("expected the force-ended poll in history, got %+v", history.Polls)
	}
}

func TestChatSendAck(t *testing.T) {
	g, _, _ := newTestGateway(t)
	ctx := context.Background()
	conn := &Conn{id: "c1"}

	sent, ok := g.dispatch(ctx, conn, request(t, "chat:send", map[string]string{
		"senderId": "sess-1", "senderName": "Alice", "senderRole": "student", "content": "hello",
	})).(chatAck)
	if !ok || !sent.Success || sent.Message == nil {
		t.Fatalf("chat send failed: %+v", sent)
	}

	bad, ok := g.dispatch(ctx, conn, request(t, "chat:send", map[string]string{
		"senderId": "sess-1", "senderName": "Alice", "senderRole": "student", "content": "",
	})).(chatAck)
	if ok && bad.Success {
		t.Fatal("empty message accepted")
	}
}
